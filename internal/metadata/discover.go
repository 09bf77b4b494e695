// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package metadata

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/charmbracelet/log"
	"golang.org/x/net/publicsuffix"

	"github.com/dastyar-team/dastyar/internal/doi"
	"github.com/dastyar-team/dastyar/internal/httputil"
	"github.com/dastyar-team/dastyar/internal/logging"
)

// Discovery sources, in the order Discover tries them.
const (
	SourceInline    = "openalex_inline"
	SourceLanding   = "landing_page"
	SourceUnpaywall = "unpaywall"
	SourceCrossref  = "crossref_link"
)

// Locator resolves a DOI to a candidate PDF URL. An empty URL with a nil
// error means the locator had nothing for the DOI.
type Locator interface {
	Name() string
	Resolve(ctx context.Context, doi string) (string, error)
}

// Discoverer finds the best open-access PDF URL for a resolved DOI.
type Discoverer struct {
	HTTP    *httputil.Client
	Contact string

	// Mirrors are tried last, in order.
	Mirrors []Locator

	Logger *log.Logger
}

// NewDiscoverer returns a Discoverer using client for landing pages and
// Unpaywall.
func NewDiscoverer(client *httputil.Client, contact string, mirrors []Locator, logger *log.Logger) *Discoverer {
	return &Discoverer{
		HTTP:    client,
		Contact: contact,
		Mirrors: mirrors,
		Logger:  logging.Component(logger, "discover"),
	}
}

// Discover runs the chain and returns the first candidate URL and the name
// of the source that produced it. Both are empty when nothing was found.
// Failures of individual sources are logged and skipped.
func (d *Discoverer) Discover(ctx context.Context, res *Resolution) (string, string) {
	logger := logging.OrDiscard(d.Logger)
	id := res.Record.DOI

	if res.InlinePDF != "" {
		logger.Info("oa_pdf_found", "doi", id, "source", SourceInline, "url", res.InlinePDF)
		return res.InlinePDF, SourceInline
	}

	if res.Landing != "" {
		u, err := d.scrapeLanding(ctx, id, res.Landing)
		if err != nil {
			logger.Debug("landing_scrape_failed", "doi", id, "url", res.Landing, "err", err)
		}
		if u != "" {
			logger.Info("oa_pdf_found", "doi", id, "source", SourceLanding, "url", u)
			return u, SourceLanding
		}
	}

	if ctx.Err() != nil {
		return "", ""
	}
	u, err := d.unpaywall(ctx, id)
	if err != nil {
		logger.Debug("unpaywall_failed", "doi", id, "err", err)
	}
	if u != "" {
		logger.Info("oa_pdf_found", "doi", id, "source", SourceUnpaywall, "url", u)
		return u, SourceUnpaywall
	}

	if res.CrossrefPDF != "" {
		logger.Info("oa_pdf_found", "doi", id, "source", SourceCrossref, "url", res.CrossrefPDF)
		return res.CrossrefPDF, SourceCrossref
	}

	for _, m := range d.Mirrors {
		if ctx.Err() != nil {
			return "", ""
		}
		u, err := m.Resolve(ctx, id)
		if err != nil {
			logger.Debug("mirror_failed", "doi", id, "provider", m.Name(), "err", err)
			continue
		}
		if u != "" {
			logger.Info("oa_pdf_found", "doi", id, "source", m.Name(), "url", u)
			return u, m.Name()
		}
	}
	return "", ""
}

// scrapeLanding fetches the OA landing page and extracts a PDF link from a
// citation_pdf_url meta tag or a "PDF" anchor.
func (d *Discoverer) scrapeLanding(ctx context.Context, id, landing string) (string, error) {
	resp, err := d.HTTP.Get(ctx, landing, map[string]string{"Accept": "text/html,application/xhtml+xml"})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return "", &httputil.StatusError{URL: landing, Status: resp.StatusCode}
	}

	page, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("parsing landing page: %w", err)
	}
	candidate := PDFLinkFromPage(page)
	if candidate == "" {
		return "", nil
	}

	base, err := url.Parse(landing)
	if err != nil {
		return "", fmt.Errorf("parsing landing url: %w", err)
	}
	ref, err := url.Parse(strings.TrimSpace(candidate))
	if err != nil {
		return "", fmt.Errorf("parsing candidate %q: %w", candidate, err)
	}
	abs := base.ResolveReference(ref)

	if !sameSite(base, abs) && !mentionsDOI(abs.String(), id) {
		logging.OrDiscard(d.Logger).Warn("landing_pdf_rejected", "doi", id, "landing", landing, "candidate", abs.String())
		return "", nil
	}
	return abs.String(), nil
}

// PDFLinkFromPage returns the citation_pdf_url meta content, or else the
// href of the first anchor ending in ".pdf" whose text mentions PDF.
func PDFLinkFromPage(page *goquery.Document) string {
	if v, ok := page.Find(`meta[name="citation_pdf_url"]`).First().Attr("content"); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}

	var found string
	page.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		if looksPDF(strings.TrimSpace(href)) && strings.Contains(a.Text(), "PDF") {
			found = strings.TrimSpace(href)
			return false
		}
		return true
	})
	return found
}

// sameSite reports whether candidate is served from the landing host or
// the same registrable domain.
func sameSite(landing, candidate *url.URL) bool {
	lh := strings.ToLower(landing.Hostname())
	ch := strings.ToLower(candidate.Hostname())
	if lh == "" || strings.Contains(ch, lh) {
		return true
	}
	a, errA := publicsuffix.EffectiveTLDPlusOne(lh)
	b, errB := publicsuffix.EffectiveTLDPlusOne(ch)
	return errA == nil && errB == nil && a == b
}

func mentionsDOI(candidate, id string) bool {
	lower := strings.ToLower(candidate)
	return strings.Contains(lower, strings.ToLower(doi.Fragment(id))) ||
		strings.Contains(lower, strings.ToLower(id))
}

type unpaywallResponse struct {
	IsOA           bool `json:"is_oa"`
	BestOALocation *struct {
		URLForPDF string `json:"url_for_pdf"`
	} `json:"best_oa_location"`
}

// unpaywall returns the best OA PDF URL when the work is marked open. The
// service requires a contact address; without one it is skipped.
func (d *Discoverer) unpaywall(ctx context.Context, id string) (string, error) {
	if !validContact(d.Contact) {
		return "", nil
	}
	u := unpaywallBase + url.QueryEscape(id) + "?email=" + url.QueryEscape(d.Contact)

	var up unpaywallResponse
	if err := d.HTTP.GetJSON(ctx, u, &up); err != nil {
		return "", err
	}
	if !up.IsOA || up.BestOALocation == nil {
		return "", nil
	}
	return up.BestOALocation.URLForPDF, nil
}
