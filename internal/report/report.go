// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package report packages batch results for delivery.
// Implements: the batch archive (summary document, retrieved PDFs, JSON
// manifest) and single-use download-link tokens.
package report

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/dastyar-team/dastyar/pkg/types"
)

const (
	summaryName  = "summary.pdf"
	manifestName = "meta.json"
	missing      = "-"
)

// ArchiveName returns the archive filename for a batch finished at t.
func ArchiveName(t time.Time, oaOnly bool) string {
	if oaOnly {
		return fmt.Sprintf("downloads_oa_%d.zip", t.Unix())
	}
	return fmt.Sprintf("downloads_%d.zip", t.Unix())
}

// Totals counts entries by outcome for the summary footer.
type Totals struct {
	Free   int
	Paid   int
	Failed int
}

// Tally counts downloaded free and paid entries. Everything else is failed.
func Tally(entries []types.ReportEntry) Totals {
	var t Totals
	for _, e := range entries {
		switch {
		case e.Downloaded() && (e.Cost == types.CostFree || e.Cost == types.CostFreeOA):
			t.Free++
		case e.Downloaded() && e.Cost == types.CostPaid:
			t.Paid++
		default:
			t.Failed++
		}
	}
	return t
}

// manifestEntry is one element of meta.json.
type manifestEntry struct {
	DOI      string `json:"doi"`
	Title    string `json:"title"`
	Year     *int   `json:"year"`
	Filename string `json:"filename"`
	Cost     string `json:"cost"`
	Status   string `json:"status"`
}

// Build writes a zip archive at zipPath holding summary.pdf, every
// retrieved file that still exists on disk, and meta.json. The archive is
// written to a temporary file and renamed into place.
func Build(entries []types.ReportEntry, zipPath string) error {
	if err := os.MkdirAll(filepath.Dir(zipPath), 0o755); err != nil {
		return fmt.Errorf("creating archive directory: %w", err)
	}
	tmp := zipPath + ".tmp"
	if err := writeArchive(entries, tmp); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, zipPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming archive: %w", err)
	}
	return nil
}

func writeArchive(entries []types.ReportEntry, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating archive: %w", err)
	}
	zw := zip.NewWriter(f)

	if err := addSummary(zw, entries); err != nil {
		zw.Close()
		f.Close()
		return err
	}
	for _, e := range entries {
		if !e.Downloaded() {
			continue
		}
		if err := addFile(zw, e); err != nil {
			zw.Close()
			f.Close()
			return err
		}
	}
	if err := addManifest(zw, entries); err != nil {
		zw.Close()
		f.Close()
		return err
	}

	if err := zw.Close(); err != nil {
		f.Close()
		return fmt.Errorf("finalizing archive: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing archive: %w", err)
	}
	return nil
}

func addFile(zw *zip.Writer, e types.ReportEntry) error {
	src, err := os.Open(e.FilePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("opening %s: %w", e.FilePath, err)
	}
	defer src.Close()

	name := e.Filename
	if name == "" {
		name = filepath.Base(e.FilePath)
	}
	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("adding %s: %w", name, err)
	}
	if _, err := io.Copy(w, src); err != nil {
		return fmt.Errorf("copying %s: %w", name, err)
	}
	return nil
}

func addManifest(zw *zip.Writer, entries []types.ReportEntry) error {
	items := make([]manifestEntry, 0, len(entries))
	for _, e := range entries {
		item := manifestEntry{
			DOI:      e.DOI,
			Title:    e.Title,
			Filename: e.Filename,
			Cost:     e.Cost,
			Status:   e.Status,
		}
		if e.Year > 0 {
			year := e.Year
			item.Year = &year
		}
		items = append(items, item)
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	w, err := zw.Create(manifestName)
	if err != nil {
		return fmt.Errorf("adding manifest: %w", err)
	}
	_, err = w.Write(data)
	return err
}

var (
	summaryHeaders = []string{"#", "Title", "Year", "Filename", "Cost", "Status"}
	summaryWidths  = []float64{10, 58, 16, 42, 22, 38}
)

func addSummary(zw *zip.Writer, entries []types.ReportEntry) error {
	w, err := zw.Create(summaryName)
	if err != nil {
		return fmt.Errorf("adding summary: %w", err)
	}
	return Summary(w, entries)
}

// Summary renders the tabular summary document to w.
func Summary(w io.Writer, entries []types.ReportEntry) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(12, 12, 12)
	pdf.SetAutoPageBreak(true, 12)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(0, 10, "Thank you for using our service.", "", 1, "L", false, 0, "")
	pdf.Ln(2)

	pdf.SetFont("Helvetica", "B", 10)
	pdf.SetFillColor(211, 211, 211)
	for i, h := range summaryHeaders {
		pdf.CellFormat(summaryWidths[i], 8, h, "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 9)
	for idx, e := range entries {
		if idx%2 == 0 {
			pdf.SetFillColor(245, 245, 245)
		} else {
			pdf.SetFillColor(255, 255, 224)
		}
		year := missing
		if e.Year > 0 {
			year = strconv.Itoa(e.Year)
		}
		cells := []string{strconv.Itoa(idx + 1), e.Title, year, e.Filename, e.Cost, e.Status}
		for i, c := range cells {
			if c == "" {
				c = missing
			}
			align := "L"
			if i == 0 || i == 2 {
				align = "C"
			}
			pdf.CellFormat(summaryWidths[i], 7, fit(pdf, tr(c), summaryWidths[i]-2), "1", 0, align, true, 0, "")
		}
		pdf.Ln(-1)
	}

	t := Tally(entries)
	pdf.Ln(4)
	pdf.SetFont("Helvetica", "", 11)
	pdf.CellFormat(0, 8, fmt.Sprintf("Free: %d | Paid: %d | Failed or skipped: %d", t.Free, t.Paid, t.Failed),
		"", 1, "L", false, 0, "")

	if err := pdf.Error(); err != nil {
		return fmt.Errorf("rendering summary: %w", err)
	}
	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("writing summary: %w", err)
	}
	return nil
}

// fit shortens s until it renders within width.
func fit(pdf *fpdf.Fpdf, s string, width float64) string {
	if pdf.GetStringWidth(s) <= width {
		return s
	}
	b := []byte(s)
	for len(b) > 0 && pdf.GetStringWidth(string(b)+"...") > width {
		b = b[:len(b)-1]
	}
	return string(b) + "..."
}
