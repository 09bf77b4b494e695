// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package doi normalizes Digital Object Identifiers and derives
// filesystem-safe names from them.
package doi

import (
	"regexp"
	"strings"
)

// resolverPrefix matches the doi.org resolver forms users paste.
var resolverPrefix = regexp.MustCompile(`(?i)^https?://(dx\.)?doi\.org/`)

// trailingJunk is stripped from the right end of a DOI. It covers ASCII
// punctuation and the Arabic-script comma and semicolon.
const trailingJunk = " .;,،؛)"

// pattern matches a bare DOI: "10.1145/1234567.1234568".
var pattern = regexp.MustCompile(`^10\.\d{4,9}/\S+$`)

// Normalize strips resolver prefixes, surrounding whitespace, and trailing
// punctuation. Normalize(Normalize(x)) == Normalize(x).
func Normalize(s string) string {
	for {
		prev := s
		s = strings.TrimSpace(s)
		s = resolverPrefix.ReplaceAllString(s, "")
		s = strings.TrimRight(strings.TrimSpace(s), trailingJunk)
		if s == prev {
			return s
		}
	}
}

// Valid reports whether s looks like a bare DOI after normalization.
func Valid(s string) bool {
	return pattern.MatchString(Normalize(s))
}

// Fragment returns the token used for the anti-hijack check on scraped
// links: the DOI with "/" replaced by "_". A resolver URL is reduced to the
// part after "doi.org/".
func Fragment(s string) string {
	if i := strings.Index(strings.ToLower(s), "doi.org/"); i >= 0 {
		s = s[i+len("doi.org/"):]
	}
	return strings.ReplaceAll(s, "/", "_")
}

// unsafeChars matches runs that are not allowed in generated file names.
var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

const maxFilenameLen = 120

// SafeFilename turns a hint (usually a DOI plus a source suffix) into a
// file name that ends in ".pdf" and is at most 120 characters long.
func SafeFilename(hint string) string {
	name := unsafeChars.ReplaceAllString(hint, "_")
	name = strings.Trim(name, "_")
	if name == "" {
		name = "paper"
	}
	if len(name) > maxFilenameLen {
		name = name[:maxFilenameLen]
	}
	if !strings.HasSuffix(strings.ToLower(name), ".pdf") {
		name += ".pdf"
	}
	return name
}

// Hint returns the default SafeFilename hint for a DOI.
func Hint(d string) string {
	return strings.ReplaceAll(d, "/", "_")
}
