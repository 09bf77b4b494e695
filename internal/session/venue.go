// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dastyar-team/dastyar/internal/acquire"
	"github.com/dastyar-team/dastyar/internal/ai"
	"github.com/dastyar-team/dastyar/internal/browser"
	"github.com/dastyar-team/dastyar/internal/captcha"
	"github.com/dastyar-team/dastyar/internal/logging"
	"github.com/dastyar-team/dastyar/pkg/types"
)

// VenueHome is visited to recover from a not-found page.
const VenueHome = "https://www.sciencedirect.com/"

// MaxCandidates bounds the results compared per search.
const MaxCandidates = 5

// ErrNoMatch is returned when no search result matches the target.
var ErrNoMatch = errors.New("no matching venue result")

const (
	searchSelector = "input[type='search'], input[name='qs'], input[id*='search']"
	resultSelector = "a[href*='/science/article/']"
	articlePath    = "/science/article"
)

var pdfSelectors = []string{
	"a[data-testid='pdf-download-button']",
	"a[data-aa-name='download pdf']",
	"a[href*='pdf']",
	"button[data-testid='pdf-download-button']",
}

// Comparator decides whether a search result is the target document.
type Comparator interface {
	Compare(ctx context.Context, target, candidate ai.Paper) (ai.Match, error)
}

// Venue searches the venue through a session and returns the article PDF
// URL.
type Venue struct {
	Compare            Comparator
	MatchMinConfidence float64

	// Captcha is optional.
	Captcha  captcha.Solver
	Timeouts Timeouts
	Logger   *log.Logger
}

// NewVenue returns a Venue using the configured match threshold.
func NewVenue(cfg types.VenueConfig, cmp Comparator, solver captcha.Solver, logger *log.Logger) *Venue {
	return &Venue{
		Compare:            cmp,
		MatchMinConfidence: cfg.MatchMinConfidence,
		Captcha:            solver,
		Timeouts:           DefaultTimeouts,
		Logger:             logging.Component(logger, "venue"),
	}
}

// Fetch locates the PDF URL for t starting from base, the venue entry
// point behind the proxy.
func (v *Venue) Fetch(ctx context.Context, s *Session, base string, t acquire.Target) (string, error) {
	logger := logging.OrDiscard(v.Logger).With("doi", t.DOI, "slot", s.Slot)
	page := s.Page
	to := v.Timeouts

	logger.Info("venue_start", "base", base)
	v.open(ctx, page, base, logger)
	pause(ctx, time.Second, 2*time.Second)

	if looks404(page) {
		logger.Info("venue_404_warmup")
		v.open(ctx, page, VenueHome, logger)
		pause(ctx, 2*time.Second, 3*time.Second)
		v.open(ctx, page, base, logger)
		pause(ctx, 2*time.Second, 3*time.Second)
	}

	if input, err := page.Element(ctx, searchSelector, to.Search); err != nil {
		logger.Debug("venue_search_box_missing", "err", err)
	} else {
		pause(ctx, time.Second, 2*time.Second)
		if err := input.Type(ctx, t.Title, keyDelay); err != nil {
			return "", fmt.Errorf("typing title: %w", err)
		}
		pause(ctx, time.Second, 2*time.Second)
		if err := input.Enter(ctx); err != nil {
			return "", fmt.Errorf("submitting search: %w", err)
		}
		pause(ctx, 2*time.Second, 3*time.Second)
	}

	var links []browser.Element
	if !browser.Poll(ctx, to.Search, to.Interval, func() bool {
		links = page.Elements(resultSelector)
		return len(links) > 0
	}) {
		return "", fmt.Errorf("search results: %w", browser.ErrNotFound)
	}

	if err := v.pick(ctx, links, t, logger); err != nil {
		return "", err
	}

	if err := page.WaitURL(ctx, articlePath, to.Search); err != nil {
		return "", fmt.Errorf("article page: %w", err)
	}
	pause(ctx, 2*time.Second, 3*time.Second)
	v.solve(ctx, page, logger)

	var pdf browser.Element
	if !browser.Poll(ctx, to.PDF, to.Interval, func() bool {
		for _, sel := range pdfSelectors {
			if pdf = visible(page, sel); pdf != nil {
				return true
			}
		}
		return false
	}) {
		return "", fmt.Errorf("pdf control: %w", browser.ErrNotFound)
	}

	href := pdf.Attr("href")
	if href == "" {
		href = pdf.Attr("data-url")
	}
	if href != "" {
		u := absolute(page.URL(), href)
		logger.Info("venue_pdf_href", "url", u)
		return u, nil
	}

	if err := pdf.Click(ctx); err != nil {
		return "", fmt.Errorf("clicking pdf control: %w", err)
	}
	pause(ctx, 2*time.Second, 3*time.Second)
	if err := page.WaitURL(ctx, "pdf", to.PDF); err != nil {
		return "", fmt.Errorf("pdf page: %w", err)
	}
	pause(ctx, 2*time.Second, 3*time.Second)
	v.solve(ctx, page, logger)
	logger.Info("venue_pdf_page", "url", page.URL())
	return page.URL(), nil
}

// pick compares up to MaxCandidates titled results and clicks the first
// confident match.
func (v *Venue) pick(ctx context.Context, links []browser.Element, t acquire.Target, logger *log.Logger) error {
	target := ai.Paper{Title: t.Title, Text: t.Abstract}
	inspected := 0
	for _, link := range links {
		text := strings.TrimSpace(link.Text())
		if text == "" {
			continue
		}
		if inspected++; inspected > MaxCandidates {
			break
		}
		snippet := link.ClosestText("article")
		if snippet == "" {
			snippet = text
		}

		m, err := v.Compare.Compare(ctx, target, ai.Paper{Title: text, Text: snippet})
		if err != nil {
			logger.Warn("venue_compare_failed", "err", err)
			continue
		}
		logger.Info("venue_match", "title", truncate(text, 80), "ok", m.OK, "confidence", m.Confidence, "reason", m.Reason)
		if !m.OK || m.Confidence < v.MatchMinConfidence {
			continue
		}

		pause(ctx, time.Second, 2*time.Second)
		if err := link.Click(ctx); err != nil {
			return fmt.Errorf("clicking result: %w", err)
		}
		pause(ctx, 2*time.Second, 3*time.Second)
		return nil
	}
	return ErrNoMatch
}

func (v *Venue) open(ctx context.Context, page browser.Page, u string, logger *log.Logger) {
	if err := page.Navigate(ctx, u); err != nil {
		logger.Debug("venue_navigation_failed", "url", u, "err", err)
		return
	}
	v.solve(ctx, page, logger)
}

func (v *Venue) solve(ctx context.Context, page browser.Page, logger *log.Logger) {
	if v.Captcha == nil {
		return
	}
	if _, err := captcha.SolvePage(ctx, v.Captcha, page, logger); err != nil {
		logger.Warn("recaptcha_solve_failed", "url", page.URL(), "err", err)
	}
}

func looks404(page browser.Page) bool {
	title := strings.ToLower(page.Title())
	if strings.Contains(title, "404") || strings.Contains(title, "page not found") || strings.Contains(title, "خطا") {
		return true
	}
	html, err := page.HTML()
	if err != nil {
		return false
	}
	html = strings.ToLower(html)
	return (strings.Contains(html, "404") && strings.Contains(html, "not found")) || strings.Contains(html, "page not found")
}

func absolute(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
