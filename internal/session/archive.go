// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dastyar-team/dastyar/internal/acquire"
	"github.com/dastyar-team/dastyar/internal/browser"
	"github.com/dastyar-team/dastyar/internal/captcha"
	"github.com/dastyar-team/dastyar/internal/doi"
	"github.com/dastyar-team/dastyar/internal/logging"
)

// ErrNoResults is returned when the archive states it has no copy.
var ErrNoResults = errors.New("archive has no copy")

const frameSelector = "iframe#pdf, iframe[src*='.pdf']"

var noResultBanners = []string{
	"scientific mutual aid community",
	"please try to search again",
	"you can request this article",
}

// Archive looks documents up on the dark-archive mirror through one
// long-lived browser.
type Archive struct {
	Base     string
	Launcher browser.Launcher
	Headless bool

	// Captcha is optional.
	Captcha  captcha.Solver
	Timeouts Timeouts

	// Download fetches the located PDF; Fetch needs it, Locate does not.
	Download func(ctx context.Context, url, hint string) (string, error)
	Logger   *log.Logger

	mu sync.Mutex
	b  browser.Browser
}

// NewArchive returns an Archive rooted at base.
func NewArchive(base string, launcher browser.Launcher, headless bool, solver captcha.Solver, download func(ctx context.Context, url, hint string) (string, error), logger *log.Logger) *Archive {
	return &Archive{
		Base:     base,
		Launcher: launcher,
		Headless: headless,
		Captcha:  solver,
		Timeouts: DefaultTimeouts,
		Download: download,
		Logger:   logging.Component(logger, "archive"),
	}
}

func (a *Archive) logger() *log.Logger { return logging.OrDiscard(a.Logger) }

// ensureBrowser returns the shared browser, relaunching it when it died.
func (a *Archive) ensureBrowser(ctx context.Context) (browser.Browser, error) {
	if a.b != nil && a.b.Alive() {
		return a.b, nil
	}
	if a.b != nil {
		a.b.Close()
		a.b = nil
	}
	b, err := a.Launcher.Launch(ctx, browser.Options{Headless: a.Headless})
	if err != nil {
		return nil, fmt.Errorf("archive browser: %w", err)
	}
	if err := b.Page().Navigate(ctx, strings.TrimRight(a.Base, "/")+"/"); err != nil {
		a.logger().Debug("archive_home_failed", "err", err)
	}
	pause(ctx, time.Second, 2*time.Second)
	a.b = b
	a.logger().Info("archive_browser_started")
	return b, nil
}

// Locate returns the PDF URL the archive embeds for d.
func (a *Archive) Locate(ctx context.Context, d string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	b, err := a.ensureBrowser(ctx)
	if err != nil {
		return "", err
	}
	page := b.Page()
	target := strings.TrimRight(a.Base, "/") + "/" + url.QueryEscape(d)
	if err := page.Navigate(ctx, target); err != nil {
		return "", fmt.Errorf("opening %s: %w", target, err)
	}
	if a.Captcha != nil {
		if _, err := captcha.SolvePage(ctx, a.Captcha, page, a.logger()); err != nil {
			a.logger().Warn("recaptcha_solve_failed", "url", page.URL(), "err", err)
		}
	}
	pause(ctx, 2*time.Second, 3*time.Second)
	if noResult(page) {
		return "", ErrNoResults
	}

	frame, err := page.Element(ctx, frameSelector, a.Timeouts.Archive)
	if err != nil {
		if noResult(page) {
			return "", ErrNoResults
		}
		return "", fmt.Errorf("archive frame: %w", err)
	}
	src := frame.Attr("src")
	if strings.HasPrefix(src, "//") {
		src = "https:" + src
	}
	if un, err := url.PathUnescape(src); err == nil {
		src = un
	}
	if src == "" {
		return "", fmt.Errorf("archive frame without source: %w", browser.ErrNotFound)
	}
	a.logger().Info("archive_pdf_src", "doi", d, "url", src)
	return src, nil
}

// Fetch locates and downloads the target.
func (a *Archive) Fetch(ctx context.Context, t acquire.Target) (string, error) {
	u, err := a.Locate(ctx, t.DOI)
	if err != nil {
		return "", err
	}
	return a.Download(ctx, u, doi.Hint(t.DOI)+"_scihub")
}

// Close shuts the shared browser down.
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.b == nil {
		return nil
	}
	err := a.b.Close()
	a.b = nil
	return err
}

func noResult(page browser.Page) bool {
	body := page.Elements("body")
	if len(body) == 0 {
		return false
	}
	text := strings.ToLower(body[0].Text())
	for _, kw := range noResultBanners {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
