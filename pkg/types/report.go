// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// Cost labels for report entries.
const (
	CostFree    = "free"
	CostPaid    = "paid"
	CostUnknown = "unknown"
	CostFreeOA  = "free (open access)"
)

// Status labels for report entries.
const (
	LabelDownloaded        = "downloaded"
	LabelFailed            = "download failed"
	LabelNotDownloaded     = "not downloaded"
	LabelIncompleteMeta    = "not downloaded (incomplete metadata)"
	LabelDisabled          = "not downloaded (disabled)"
	LabelOpenAccessMissing = "open access not found"
)

// ReportEntry is one row of a batch report.
type ReportEntry struct {
	DOI      string `json:"doi" yaml:"doi"`
	Title    string `json:"title" yaml:"title"`
	Year     int    `json:"year,omitempty" yaml:"year,omitempty"`
	Filename string `json:"filename" yaml:"filename"`
	Cost     string `json:"cost" yaml:"cost"`
	Status   string `json:"status" yaml:"status"`

	// Source names the chain step that produced the file.
	Source string `json:"-" yaml:"source,omitempty"`

	// FilePath is the local file, removed once packaged.
	FilePath string `json:"-" yaml:"-"`
}

// Downloaded reports whether the entry carries a retrieved file.
func (e ReportEntry) Downloaded() bool {
	return e.FilePath != ""
}

// DownloadLink is a single-use, TTL-bound token for an archive.
type DownloadLink struct {
	Token     string     `json:"token" yaml:"token"`
	UserID    int64      `json:"user_id" yaml:"user_id"`
	FilePath  string     `json:"file_path" yaml:"file_path"`
	Filename  string     `json:"filename" yaml:"filename"`
	CreatedAt time.Time  `json:"created_at" yaml:"created_at"`
	ExpiresAt time.Time  `json:"expires_at" yaml:"expires_at"`
	UsedAt    *time.Time `json:"used_at,omitempty" yaml:"used_at,omitempty"`
	UsedBy    int64      `json:"used_by,omitempty" yaml:"used_by,omitempty"`
}
