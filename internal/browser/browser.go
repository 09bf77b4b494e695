// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package browser defines the page-automation surface the session flows
// drive, with a go-rod implementation.
package browser

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when an element or page does not appear in time.
var ErrNotFound = errors.New("element not found")

// Element is one DOM element.
type Element interface {
	// Text returns the rendered text, or "" when it cannot be read.
	Text() string

	// Attr returns the attribute value, or "" when absent.
	Attr(name string) string

	// Visible reports whether the element is displayed.
	Visible() bool

	Click(ctx context.Context) error

	// Fill replaces the element's value with text.
	Fill(ctx context.Context, text string) error

	// Type enters text one character at a time, sleeping delay() between
	// characters.
	Type(ctx context.Context, text string, delay func() time.Duration) error

	// Enter presses the Enter key on the element.
	Enter(ctx context.Context) error

	// ClosestText returns the text of the nearest ancestor matching
	// selector, or "" when there is none.
	ClosestText(selector string) string

	// Elements returns descendants matching selector without waiting.
	Elements(selector string) []Element
}

// Page is one browser tab.
type Page interface {
	Navigate(ctx context.Context, url string) error
	URL() string
	Title() string
	HTML() (string, error)

	// Eval runs a JavaScript function expression with args and returns its
	// result as a string.
	Eval(ctx context.Context, js string, args ...any) (string, error)

	// Element waits up to timeout for the first element matching selector.
	Element(ctx context.Context, selector string, timeout time.Duration) (Element, error)

	// Elements returns the elements matching selector without waiting.
	Elements(selector string) []Element

	// ElementByText waits up to timeout for the first element matching
	// selector whose text matches the regular expression pattern.
	ElementByText(ctx context.Context, selector, pattern string, timeout time.Duration) (Element, error)

	// WaitURL waits until the page URL contains substr.
	WaitURL(ctx context.Context, substr string, timeout time.Duration) error
}

// Browser is one automated browser process.
type Browser interface {
	// Page returns the current target tab.
	Page() Page

	// WaitNewPage waits for a tab opened after the call and makes it the
	// target tab.
	WaitNewPage(ctx context.Context, timeout time.Duration) (Page, error)

	// Alive reports whether the browser still responds.
	Alive() bool

	Close() error
}

// Options configures a launched browser.
type Options struct {
	// Proxy is the outbound proxy URL, e.g. "socks5://127.0.0.1:21870".
	Proxy    string
	Headless bool
}

// Launcher starts browsers.
type Launcher interface {
	Launch(ctx context.Context, opts Options) (Browser, error)
}

// StealthScript hides the webdriver flag from page scripts.
const StealthScript = `Object.defineProperty(navigator, 'webdriver', {get: () => undefined});`

// Poll calls check every interval until it returns true, the timeout
// elapses, or ctx is done.
func Poll(ctx context.Context, timeout, interval time.Duration, check func() bool) bool {
	deadline := time.Now().Add(timeout)
	for {
		if check() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(interval):
		}
	}
}
