// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package batch

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dastyar-team/dastyar/pkg/types"
)

const (
	summaryLines  = 10
	titleKeep     = 70
	titleMaxRunes = 72
	placeholder   = "—"
)

// Summary is the short human report sent when metadata resolution ends.
type Summary struct {
	Total    int
	OK       int
	NotFound int
	Errors   int

	// Lines describe the first successful records.
	Lines []string

	// More counts successful records beyond Lines.
	More int
}

// Summarize tallies records by status and describes up to ten successes.
func Summarize(records []types.MetadataRecord) Summary {
	s := Summary{Total: len(records)}
	for _, r := range records {
		switch r.Status {
		case types.StatusOK:
			s.OK++
			if len(s.Lines) < summaryLines {
				s.Lines = append(s.Lines, line(r))
			} else {
				s.More++
			}
		case types.StatusNotFound:
			s.NotFound++
		default:
			s.Errors++
		}
	}
	return s
}

func line(r types.MetadataRecord) string {
	year := placeholder
	if r.Year > 0 {
		year = strconv.Itoa(r.Year)
	}
	return fmt.Sprintf("• %s | %s | %s", year, r.Category, ShortTitle(r.Title))
}

// ShortTitle collapses whitespace and cuts titles longer than 72 runes to
// 70 runes plus an ellipsis.
func ShortTitle(title string) string {
	t := strings.Join(strings.Fields(title), " ")
	if t == "" {
		return placeholder
	}
	runes := []rune(t)
	if len(runes) > titleMaxRunes {
		return string(runes[:titleKeep]) + "…"
	}
	return t
}

// Text renders the summary message.
func (s Summary) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "DOI results\ntotal: %d | ok: %d | not_found: %d | error: %d\n\n",
		s.Total, s.OK, s.NotFound, s.Errors)
	if len(s.Lines) == 0 {
		b.WriteString("Nothing to show.")
	} else {
		b.WriteString(strings.Join(s.Lines, "\n"))
	}
	if s.More > 0 {
		fmt.Fprintf(&b, "\n… and %d more", s.More)
	}
	return b.String()
}
