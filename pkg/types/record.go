// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines shared data structures for the dastyar retrieval engine.
// Implements: metadata records, provider descriptors, account slots, VPN
// configs, report entries, and download links.
package types

import "time"

// RecordStatus is the outcome of metadata resolution for one DOI.
type RecordStatus string

const (
	StatusOK       RecordStatus = "ok"
	StatusNotFound RecordStatus = "not_found"
	StatusError    RecordStatus = "error"
)

// Category is the coarse subject bucket assigned to a document.
type Category string

const (
	CategoryMedical     Category = "medical"
	CategoryEngineering Category = "engineering"
	CategoryHumanities  Category = "humanities"
	CategoryUnknown     Category = "unknown"
)

// MetadataRecord is the resolved metadata for one DOI. It is unique per
// (user, doi) and overwritten on every resolution.
type MetadataRecord struct {
	DOI      string `json:"doi" yaml:"doi"`
	Title    string `json:"title,omitempty" yaml:"title,omitempty"`
	Year     int    `json:"year,omitempty" yaml:"year,omitempty"`
	Journal  string `json:"journal,omitempty" yaml:"journal,omitempty"`
	Abstract string `json:"abstract,omitempty" yaml:"abstract,omitempty"`

	Category Category `json:"category" yaml:"category"`

	// CategorySource records how the category was decided
	// ("ai:<backend>", "openalex_concepts", or "none").
	CategorySource string `json:"category_source" yaml:"category_source"`

	Status RecordStatus `json:"status" yaml:"status"`
	Error  string       `json:"error,omitempty" yaml:"error,omitempty"`

	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// Concept is a weighted subject tag from the secondary registry.
type Concept struct {
	Name      string   `json:"display_name" yaml:"name"`
	Score     float64  `json:"score" yaml:"score"`
	Level     int      `json:"level" yaml:"level"`
	Ancestors []string `json:"ancestors,omitempty" yaml:"ancestors,omitempty"`
}
