// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ai

import (
	"context"
	"fmt"
	"strings"
)

// Match is a yes/no answer with a confidence.
type Match struct {
	OK         bool
	Confidence float64
	Reason     string
}

// Paper is the text compared by Compare.
type Paper struct {
	Title string
	// Text is the abstract for the target and the result snippet for a
	// candidate.
	Text string
}

const compareSystem = `You compare two research papers. Return STRICT JSON: ` +
	`{"match":true/false,"confidence":0..1,"reason":""}. ` +
	`Answer true only if they are the same work.`

// Compare asks whether candidate is the same work as target.
func (c *Client) Compare(ctx context.Context, target, candidate Paper) (Match, error) {
	if !c.Enabled() {
		return Match{}, ErrDisabled
	}
	if strings.TrimSpace(target.Title) == "" {
		return Match{}, fmt.Errorf("compare: empty target title")
	}
	user := fmt.Sprintf("Target title: %s\nTarget abstract: %s\nCandidate title: %s\nCandidate snippet: %s\n"+
		"Check if they are at least 95%% the same paper.",
		target.Title, target.Text, candidate.Title, candidate.Text)

	content, err := c.chat(ctx, c.model, compareSystem, user)
	if err != nil {
		return Match{}, err
	}
	var answer struct {
		Match      bool    `json:"match"`
		Confidence float64 `json:"confidence"`
		Reason     string  `json:"reason"`
	}
	if err := decodeJSON(content, &answer); err != nil {
		return Match{}, err
	}
	return Match{OK: answer.Match, Confidence: answer.Confidence, Reason: answer.Reason}, nil
}

const journalSystem = `You are an experienced librarian who knows Elsevier platforms. ` +
	`Answer in STRICT JSON: {"is_sciencedirect":true/false,"confidence":0..1,"reason":""}.`

// IsVenueJournal asks whether journal is hosted on the paid venue.
func (c *Client) IsVenueJournal(ctx context.Context, journal string) (Match, error) {
	if !c.Enabled() {
		return Match{}, ErrDisabled
	}
	if strings.TrimSpace(journal) == "" {
		return Match{}, fmt.Errorf("journal check: empty journal")
	}
	user := "Determine if the given journal is distributed on ScienceDirect (Elsevier). " +
		"Reply true only if it is primarily hosted or published on ScienceDirect.\nJournal: " + journal

	content, err := c.chat(ctx, c.model, journalSystem, user)
	if err != nil {
		return Match{}, err
	}
	var answer struct {
		IsVenue    bool    `json:"is_sciencedirect"`
		Confidence float64 `json:"confidence"`
		Reason     string  `json:"reason"`
	}
	if err := decodeJSON(content, &answer); err != nil {
		return Match{}, err
	}
	return Match{OK: answer.IsVenue, Confidence: answer.Confidence, Reason: answer.Reason}, nil
}
