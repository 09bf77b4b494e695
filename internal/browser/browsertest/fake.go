// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package browsertest provides in-memory browser fakes for testing page
// automation flows.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/dastyar-team/dastyar/internal/browser"
)

// Element is a scripted DOM element.
type Element struct {
	Label  string
	Attrs  map[string]string
	Hidden bool

	// Closest maps an ancestor selector to its text.
	Closest map[string]string

	// Children maps a selector to descendant elements.
	Children map[string][]*Element

	// OnClick runs on every click.
	OnClick func()

	// OnEnter runs when Enter is pressed.
	OnEnter func()

	mu      sync.Mutex
	value   string
	clicks  int
	entered int
}

// Text returns the element label.
func (e *Element) Text() string { return e.Label }

func (e *Element) Attr(name string) string { return e.Attrs[name] }

func (e *Element) Visible() bool { return !e.Hidden }

func (e *Element) Click(context.Context) error {
	e.mu.Lock()
	e.clicks++
	fn := e.OnClick
	e.mu.Unlock()
	if fn != nil {
		fn()
	}
	return nil
}

func (e *Element) Fill(_ context.Context, text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.value = text
	return nil
}

func (e *Element) Type(ctx context.Context, text string, delay func() time.Duration) error {
	e.mu.Lock()
	e.value = ""
	e.mu.Unlock()
	for _, ch := range text {
		if delay != nil {
			delay()
		}
		e.mu.Lock()
		e.value += string(ch)
		e.mu.Unlock()
	}
	return ctx.Err()
}

func (e *Element) Enter(context.Context) error {
	e.mu.Lock()
	e.entered++
	fn := e.OnEnter
	e.mu.Unlock()
	if fn != nil {
		fn()
	}
	return nil
}

func (e *Element) ClosestText(selector string) string { return e.Closest[selector] }

func (e *Element) Elements(selector string) []browser.Element {
	return convert(e.Children[selector])
}

// Value returns the text last filled or typed.
func (e *Element) Value() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.value
}

// Clicks returns the number of clicks.
func (e *Element) Clicks() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clicks
}

// Entered returns the number of Enter presses.
func (e *Element) Entered() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.entered
}

// Page is a scripted tab. Its state may be changed from element callbacks.
type Page struct {
	// OnNavigate runs after the URL is updated by Navigate.
	OnNavigate func(p *Page, url string)

	// OnEval answers Eval calls.
	OnEval func(js string, args ...any) (string, error)

	mu       sync.Mutex
	url      string
	title    string
	html     string
	elements map[string][]*Element
	visits   []string
}

// NewPage returns an empty page at about:blank.
func NewPage() *Page {
	return &Page{url: "about:blank", elements: make(map[string][]*Element)}
}

// Set replaces the URL, title, and HTML at once.
func (p *Page) Set(url, title, html string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url, p.title, p.html = url, title, html
}

// SetHTML replaces the page HTML.
func (p *Page) SetHTML(html string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.html = html
}

// SetURL replaces the page URL.
func (p *Page) SetURL(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
}

// Add registers elements under selector.
func (p *Page) Add(selector string, els ...*Element) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.elements[selector] = append(p.elements[selector], els...)
}

// Clear removes every registered element.
func (p *Page) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.elements = make(map[string][]*Element)
}

// Visits returns the navigated URLs in order.
func (p *Page) Visits() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.visits...)
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.url = url
	p.visits = append(p.visits, url)
	fn := p.OnNavigate
	p.mu.Unlock()
	if fn != nil {
		fn(p, url)
	}
	return nil
}

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *Page) Title() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.title
}

func (p *Page) HTML() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.html, nil
}

func (p *Page) Eval(_ context.Context, js string, args ...any) (string, error) {
	if p.OnEval == nil {
		return "", nil
	}
	return p.OnEval(js, args...)
}

func (p *Page) lookup(selector string) []*Element {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Element(nil), p.elements[selector]...)
}

// Element returns the first element registered under selector without
// waiting.
func (p *Page) Element(ctx context.Context, selector string, _ time.Duration) (browser.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	els := p.lookup(selector)
	if len(els) == 0 {
		return nil, fmt.Errorf("%s: %w", selector, browser.ErrNotFound)
	}
	return els[0], nil
}

func (p *Page) Elements(selector string) []browser.Element {
	return convert(p.lookup(selector))
}

func (p *Page) ElementByText(ctx context.Context, selector, pattern string, _ time.Duration) (browser.Element, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	for _, el := range p.lookup(selector) {
		if re.MatchString(el.Label) {
			return el, nil
		}
	}
	return nil, fmt.Errorf("%s /%s/: %w", selector, pattern, browser.ErrNotFound)
}

func (p *Page) WaitURL(ctx context.Context, substr string, timeout time.Duration) error {
	ok := browser.Poll(ctx, timeout, time.Millisecond, func() bool {
		return strings.Contains(strings.ToLower(p.URL()), strings.ToLower(substr))
	})
	if !ok {
		return fmt.Errorf("url containing %q: %w", substr, browser.ErrNotFound)
	}
	return nil
}

func convert(els []*Element) []browser.Element {
	out := make([]browser.Element, 0, len(els))
	for _, el := range els {
		out = append(out, el)
	}
	return out
}

// Browser is a scripted browser holding one current page.
type Browser struct {
	mu      sync.Mutex
	current *Page
	pending *Page
	dead    bool
	closed  bool
}

// NewBrowser returns a browser showing page.
func NewBrowser(page *Page) *Browser {
	return &Browser{current: page}
}

// OpenTab queues page as the next tab WaitNewPage returns.
func (b *Browser) OpenTab(page *Page) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = page
}

// Kill makes Alive report false.
func (b *Browser) Kill() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dead = true
}

// Closed reports whether Close was called.
func (b *Browser) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Browser) Page() browser.Page {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

func (b *Browser) WaitNewPage(ctx context.Context, timeout time.Duration) (browser.Page, error) {
	var found *Page
	ok := browser.Poll(ctx, timeout, time.Millisecond, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.pending == nil {
			return false
		}
		found, b.current, b.pending = b.pending, b.pending, nil
		return true
	})
	if !ok {
		return nil, fmt.Errorf("new tab: %w", browser.ErrNotFound)
	}
	return found, nil
}

func (b *Browser) Alive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.dead && !b.closed
}

func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Launcher hands out browsers from Build, recording the options used.
type Launcher struct {
	Build func(opts browser.Options) (*Browser, error)

	mu       sync.Mutex
	launches []browser.Options
}

func (l *Launcher) Launch(ctx context.Context, opts browser.Options) (browser.Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.launches = append(l.launches, opts)
	l.mu.Unlock()
	if l.Build == nil {
		return nil, errors.New("no browser configured")
	}
	b, err := l.Build(opts)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Launches returns the options of every launch.
func (l *Launcher) Launches() []browser.Options {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]browser.Options(nil), l.launches...)
}
