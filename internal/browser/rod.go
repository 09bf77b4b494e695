// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// pageLoadTimeout bounds navigation.
const pageLoadTimeout = 60 * time.Second

// RodLauncher launches Chromium through go-rod.
type RodLauncher struct {
	// Bin is an optional browser binary; empty lets go-rod find or fetch one.
	Bin string
}

// Launch starts a browser with the given proxy and opens a blank tab with
// the stealth script installed.
func (l RodLauncher) Launch(ctx context.Context, opts Options) (Browser, error) {
	ln := launcher.New().
		Context(ctx).
		Headless(opts.Headless).
		Set("disable-blink-features", "AutomationControlled").
		Set("window-size", "1366,900")
	if l.Bin != "" {
		ln = ln.Bin(l.Bin)
	}
	if opts.Proxy != "" {
		ln = ln.Proxy(opts.Proxy)
	}
	controlURL, err := ln.Launch()
	if err != nil {
		return nil, fmt.Errorf("launching browser: %w", err)
	}

	rb := rod.New().ControlURL(controlURL)
	if err := rb.Connect(); err != nil {
		ln.Kill()
		return nil, fmt.Errorf("connecting to browser: %w", err)
	}
	page, err := rb.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		rb.Close()
		ln.Kill()
		return nil, fmt.Errorf("opening page: %w", err)
	}
	if _, err := page.EvalOnNewDocument(StealthScript); err != nil {
		rb.Close()
		ln.Kill()
		return nil, fmt.Errorf("installing stealth script: %w", err)
	}
	return &rodBrowser{rb: rb, ln: ln, page: page}, nil
}

type rodBrowser struct {
	rb *rod.Browser
	ln *launcher.Launcher

	mu   sync.Mutex
	page *rod.Page
}

func (b *rodBrowser) Page() Page {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &rodPage{p: b.page}
}

func (b *rodBrowser) WaitNewPage(ctx context.Context, timeout time.Duration) (Page, error) {
	before := make(map[proto.TargetTargetID]bool)
	pages, err := b.rb.Pages()
	if err != nil {
		return nil, fmt.Errorf("listing pages: %w", err)
	}
	for _, p := range pages {
		before[p.TargetID] = true
	}

	var found *rod.Page
	ok := Poll(ctx, timeout, 500*time.Millisecond, func() bool {
		pages, err := b.rb.Pages()
		if err != nil {
			return false
		}
		for _, p := range pages {
			if !before[p.TargetID] {
				found = p
				return true
			}
		}
		return false
	})
	if !ok {
		return nil, fmt.Errorf("new tab: %w", ErrNotFound)
	}
	if _, err := found.Activate(); err != nil {
		return nil, fmt.Errorf("activating tab: %w", err)
	}
	b.mu.Lock()
	b.page = found
	b.mu.Unlock()
	return &rodPage{p: found}, nil
}

func (b *rodBrowser) Alive() bool {
	_, err := b.rb.Version()
	return err == nil
}

func (b *rodBrowser) Close() error {
	err := b.rb.Close()
	b.ln.Kill()
	return err
}

type rodPage struct {
	p *rod.Page
}

func (r *rodPage) Navigate(ctx context.Context, url string) error {
	p := r.p.Context(ctx).Timeout(pageLoadTimeout)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("navigating to %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("loading %s: %w", url, err)
	}
	return nil
}

func (r *rodPage) URL() string {
	info, err := r.p.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

func (r *rodPage) Title() string {
	info, err := r.p.Info()
	if err != nil {
		return ""
	}
	return info.Title
}

func (r *rodPage) HTML() (string, error) {
	return r.p.HTML()
}

func (r *rodPage) Eval(ctx context.Context, js string, args ...any) (string, error) {
	res, err := r.p.Context(ctx).Eval(js, args...)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

func (r *rodPage) Element(ctx context.Context, selector string, timeout time.Duration) (Element, error) {
	el, err := r.p.Context(ctx).Timeout(timeout).Element(selector)
	if err != nil {
		return nil, notFound(selector, err)
	}
	return &rodElement{el: el.CancelTimeout()}, nil
}

func (r *rodPage) Elements(selector string) []Element {
	els, err := r.p.Elements(selector)
	if err != nil {
		return nil
	}
	return wrap(els)
}

func (r *rodPage) ElementByText(ctx context.Context, selector, pattern string, timeout time.Duration) (Element, error) {
	el, err := r.p.Context(ctx).Timeout(timeout).ElementR(selector, pattern)
	if err != nil {
		return nil, notFound(selector, err)
	}
	return &rodElement{el: el.CancelTimeout()}, nil
}

func (r *rodPage) WaitURL(ctx context.Context, substr string, timeout time.Duration) error {
	ok := Poll(ctx, timeout, 500*time.Millisecond, func() bool {
		return strings.Contains(strings.ToLower(r.URL()), strings.ToLower(substr))
	})
	if !ok {
		return fmt.Errorf("url containing %q: %w", substr, ErrNotFound)
	}
	return nil
}

func notFound(selector string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", selector, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", selector, err)
}

func wrap(els rod.Elements) []Element {
	out := make([]Element, 0, len(els))
	for _, el := range els {
		out = append(out, &rodElement{el: el})
	}
	return out
}

type rodElement struct {
	el *rod.Element
}

func (e *rodElement) Text() string {
	s, err := e.el.Text()
	if err != nil {
		return ""
	}
	return s
}

func (e *rodElement) Attr(name string) string {
	v, err := e.el.Attribute(name)
	if err != nil || v == nil {
		return ""
	}
	return *v
}

func (e *rodElement) Visible() bool {
	ok, err := e.el.Visible()
	return err == nil && ok
}

func (e *rodElement) Click(ctx context.Context) error {
	el := e.el.Context(ctx)
	if err := el.ScrollIntoView(); err != nil {
		return err
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		// Covered elements still accept a DOM click.
		if _, jsErr := el.Eval(`function() { this.click() }`); jsErr != nil {
			return errors.Join(err, jsErr)
		}
	}
	return nil
}

func (e *rodElement) Fill(ctx context.Context, text string) error {
	el := e.el.Context(ctx)
	if err := el.SelectAllText(); err != nil {
		return err
	}
	return el.Input(text)
}

func (e *rodElement) Type(ctx context.Context, text string, delay func() time.Duration) error {
	el := e.el.Context(ctx)
	if err := el.SelectAllText(); err != nil {
		return err
	}
	if err := el.Input(""); err != nil {
		return err
	}
	for _, ch := range text {
		if err := el.Input(string(ch)); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay()):
		}
	}
	return nil
}

func (e *rodElement) Enter(ctx context.Context) error {
	return e.el.Context(ctx).Type(input.Enter)
}

func (e *rodElement) ClosestText(selector string) string {
	res, err := e.el.Eval(`function(sel) { const a = this.closest(sel); return a ? a.innerText : "" }`, selector)
	if err != nil {
		return ""
	}
	return res.Value.Str()
}

func (e *rodElement) Elements(selector string) []Element {
	els, err := e.el.Elements(selector)
	if err != nil {
		return nil
	}
	return wrap(els)
}
