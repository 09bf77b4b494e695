// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/dastyar-team/dastyar/pkg/types"
)

const classifySystem = `You are a precise classifier. Choose exactly ONE label from: ` +
	`['medical','engineering','humanities']. Return STRICT JSON only as: ` +
	`{"label":"<one>","confidence":0..1,"reason":"short"}`

// Label is a classification answer.
type Label struct {
	Category   types.Category
	Confidence float64
	Reason     string

	// Source names the call shape that answered.
	Source string
}

// labelAliases maps free-form labels onto the fixed set. Order matters:
// the first alias contained in the answer wins.
var labelAliases = []struct {
	alias    string
	category types.Category
}{
	{"medical", types.CategoryMedical},
	{"medicine", types.CategoryMedical},
	{"health", types.CategoryMedical},
	{"biomedical", types.CategoryMedical},
	{"engineering", types.CategoryEngineering},
	{"computer science", types.CategoryEngineering},
	{"technology", types.CategoryEngineering},
	{"humanities", types.CategoryHumanities},
	{"social science", types.CategoryHumanities},
	{"psychology", types.CategoryHumanities},
	{"law", types.CategoryHumanities},
	{"economics", types.CategoryHumanities},
}

// NormalizeLabel maps an answer label onto a category, or "" when it
// matches none.
func NormalizeLabel(label string) types.Category {
	s := strings.ToLower(strings.TrimSpace(label))
	if s == "" {
		return ""
	}
	for _, a := range labelAliases {
		if s == a.alias || strings.Contains(s, a.alias) {
			return a.category
		}
	}
	return ""
}

// Classify asks for the category of a title. The user message carries the
// title only. A Label with an empty Category means the answer was not in
// the label set.
func (c *Client) Classify(ctx context.Context, title string) (Label, error) {
	if !c.Enabled() {
		return Label{Source: "disabled"}, ErrDisabled
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return Label{Source: "no_title"}, fmt.Errorf("classify: empty title")
	}

	user := "Classify this article by its title only.\nLabels: medical | engineering | humanities\nTitle: " + title
	content, source, err := c.escalate(ctx, classifySystem, user)
	if err != nil {
		return Label{Source: source}, err
	}

	var answer struct {
		Label      string  `json:"label"`
		Confidence float64 `json:"confidence"`
		Reason     string  `json:"reason"`
	}
	if err := decodeJSON(content, &answer); err != nil {
		return Label{Source: source}, err
	}
	return Label{
		Category:   NormalizeLabel(answer.Label),
		Confidence: answer.Confidence,
		Reason:     answer.Reason,
		Source:     source,
	}, nil
}
