// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package provider

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	yaml "go.yaml.in/yaml/v3"

	"github.com/dastyar-team/dastyar/internal/logging"
	"github.com/dastyar-team/dastyar/pkg/types"
)

// MirrorsKey is the settings key holding admin mirror base URLs, one per line.
const MirrorsKey = "SCI_HUB_LINKS"

// DefaultList is the static provider list used when none is configured.
const DefaultList = `[
  {"name": "scihub", "type": "search", "query": "https://sci-hub.se/{doi}"},
  {"name": "scihub_moscow", "type": "search", "query": "https://moscow.sci-hub.se/{doi}"}
]`

// Parse decodes a provider list. Both JSON and YAML documents are accepted.
// Entries with an unsupported type are dropped.
func Parse(raw string, logger *log.Logger) ([]types.ProviderDescriptor, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var list []types.ProviderDescriptor
	if err := yaml.Unmarshal([]byte(raw), &list); err != nil {
		return nil, fmt.Errorf("parsing provider list: %w", err)
	}

	out := list[:0]
	for _, d := range list {
		d.Name = strings.TrimSpace(d.Name)
		if d.Name == "" {
			d.Name = "provider"
		}
		switch d.Kind {
		case types.KindDirectTemplate, types.KindPdfTemplate, types.KindSearch:
			out = append(out, d)
		default:
			logging.OrDiscard(logger).Warn("providers_parse_unsupported_type", "name", d.Name, "type", d.Kind)
		}
	}
	return out, nil
}

// Mirrors turns the admin mirror setting into search providers named
// scihub_custom<i>. Lines that do not start with http are skipped; the
// index counts every non-empty line.
func Mirrors(raw string) []types.ProviderDescriptor {
	var out []types.ProviderDescriptor
	i := 0
	for _, line := range strings.Split(raw, "\n") {
		base := strings.TrimSpace(line)
		if base == "" {
			continue
		}
		i++
		if !strings.HasPrefix(strings.ToLower(base), "http") {
			continue
		}
		out = append(out, types.ProviderDescriptor{
			Name:     fmt.Sprintf("%s_custom%d", MirrorFamily, i),
			Kind:     types.KindSearch,
			Query:    strings.TrimRight(base, "/") + "/{doi}",
			PDFRegex: DefaultPDFRegex,
		})
	}
	return out
}

// Assemble returns the ordered descriptors for a publication year. Mirrors,
// when present, replace every static entry of the mirror family and come
// first. Years before cutoff use pre, later years use post, and an unknown
// year (0) uses post followed by pre without duplicate names.
func Assemble(year, cutoff int, pre, post, mirrors []types.ProviderDescriptor) []types.ProviderDescriptor {
	if len(mirrors) > 0 {
		pre = append(append([]types.ProviderDescriptor{}, mirrors...), withoutFamily(pre)...)
		post = append(append([]types.ProviderDescriptor{}, mirrors...), withoutFamily(post)...)
	}

	switch {
	case year == 0:
		seen := make(map[string]bool)
		var out []types.ProviderDescriptor
		for _, d := range append(append([]types.ProviderDescriptor{}, post...), pre...) {
			if seen[d.Name] {
				continue
			}
			seen[d.Name] = true
			out = append(out, d)
		}
		return out
	case year < cutoff:
		return pre
	default:
		return post
	}
}

func withoutFamily(list []types.ProviderDescriptor) []types.ProviderDescriptor {
	var out []types.ProviderDescriptor
	for _, d := range list {
		if !strings.HasPrefix(d.Name, MirrorFamily) {
			out = append(out, d)
		}
	}
	return out
}

// Family keeps only the mirror-family descriptors.
func Family(list []types.ProviderDescriptor) []types.ProviderDescriptor {
	var out []types.ProviderDescriptor
	for _, d := range list {
		if strings.HasPrefix(d.Name, MirrorFamily) {
			out = append(out, d)
		}
	}
	return out
}

// Build constructs providers for descs, logging and skipping descriptors
// that fail to build.
func Build(descs []types.ProviderDescriptor, client *http.Client, logger *log.Logger) []Provider {
	var out []Provider
	for _, d := range descs {
		p, err := New(d, client)
		if err != nil {
			logging.OrDiscard(logger).Warn("provider_invalid", "name", d.Name, "err", err)
			continue
		}
		out = append(out, p)
	}
	return out
}
