// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// ProviderKind is the configured locator strategy of a provider.
type ProviderKind string

const (
	KindDirectTemplate ProviderKind = "direct_template"
	KindPdfTemplate    ProviderKind = "pdf_template"
	KindSearch         ProviderKind = "search"
)

// ProviderDescriptor is one configured PDF locator. Descriptors are
// immutable once loaded.
type ProviderDescriptor struct {
	Name string       `json:"name" yaml:"name"`
	Kind ProviderKind `json:"type" yaml:"type"`

	// Template is the URL template for the template kinds; "{doi}" is
	// replaced with the query-escaped DOI.
	Template string `json:"template,omitempty" yaml:"template,omitempty"`

	// Query is the search URL template for the search kind.
	Query string `json:"query,omitempty" yaml:"query,omitempty"`

	// PDFRegex extracts the PDF URL from the search page. The first
	// non-empty capture group wins.
	PDFRegex string `json:"pdf_regex,omitempty" yaml:"pdf_regex,omitempty"`

	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}
