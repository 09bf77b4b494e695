// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package session drives the paid-venue browser sessions: the affiliate
// portal login, the hop to the venue proxy, per-slot session caching, the
// per-document venue search, and the dark-archive fallback.
// Implements: login state machine; affiliate navigation; session manager
// with scheduled refresh; venue retrieval; archive lookup; account warmup.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dastyar-team/dastyar/internal/browser"
	"github.com/dastyar-team/dastyar/internal/logging"
)

// Portal endpoints.
const (
	HomeURL  = "https://iranpaper.ir/"
	LoginURL = "https://iranpaper.ir/login"
)

// ErrLoginFailed is returned when the login machine ends in Failed.
var ErrLoginFailed = errors.New("login failed")

// State is a step of the login machine.
type State int

const (
	NavigatingLogin State = iota
	AwaitingChallenge
	DismissingOverlays
	AwaitingForm
	FillingForm
	AwaitingConfirmation
	LoggedIn
	Failed
)

var stateNames = [...]string{
	"navigating_login",
	"awaiting_challenge",
	"dismissing_overlays",
	"awaiting_form",
	"filling_form",
	"awaiting_confirmation",
	"logged_in",
	"failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Timeouts bounds every wait in the portal and venue flows.
type Timeouts struct {
	Challenge time.Duration
	Form      time.Duration
	Confirm   time.Duration
	Tile      time.Duration
	Table     time.Duration
	NewTab    time.Duration
	Proxy     time.Duration
	Search    time.Duration
	PDF       time.Duration
	Archive   time.Duration

	// Interval is the polling step of every wait.
	Interval time.Duration
}

// DefaultTimeouts are the production waits.
var DefaultTimeouts = Timeouts{
	Challenge: 30 * time.Second,
	Form:      30 * time.Second,
	Confirm:   40 * time.Second,
	Tile:      15 * time.Second,
	Table:     25 * time.Second,
	NewTab:    20 * time.Second,
	Proxy:     45 * time.Second,
	Search:    40 * time.Second,
	PDF:       40 * time.Second,
	Archive:   30 * time.Second,
	Interval:  500 * time.Millisecond,
}

var challengeMarkers = []string{"checking your browser", "turnstile", "cf-chl", "cloudflare"}

const (
	emailSelector = "#input-294, input[name='name'], input[name='email'], input[type='email'], " +
		"input[placeholder*='ایمیل'], input[placeholder*='موبایل'], " +
		"input[placeholder*='نام\u200cکاربری'], input[placeholder*='کاربری']"
	passwordSelector = "#input-298, input[name='password'], input[type='password'], " +
		"input[placeholder*='رمز'], input[placeholder*='گذرواژه']"
)

var submitSelectors = []string{
	"#login-form button.primary",
	"form#login-form button[type='button'].primary",
	"form#login-form button[type='submit']",
	"button[type='submit']",
}

var submitWords = []string{"ورود", "login", "Login", "SIGN IN", "Sign in", "sign in"}

var (
	overlayTexts     = []string{"قبول", "باشه", "موافقم"}
	overlaySelectors = []string{"#cookie-accept", ".cookie-accept", `button[aria-label="close"]`}
)

var confirmMarkers = []string{"دسترسی مستقیم", "خروج", "پنل کاربری"}

// Login is the portal login state machine for one account.
type Login struct {
	Page     browser.Page
	Email    string
	Password string
	Timeouts Timeouts
	Logger   *log.Logger

	state  State
	trace  []State
	reason string
}

// Run drives the machine from NavigatingLogin to LoggedIn or Failed. It
// returns an error wrapping ErrLoginFailed unless the login succeeded.
func (l *Login) Run(ctx context.Context) error {
	logger := logging.OrDiscard(l.Logger)
	l.state, l.trace, l.reason = NavigatingLogin, nil, ""
	for l.state != LoggedIn && l.state != Failed {
		l.trace = append(l.trace, l.state)
		next := l.step(ctx)
		logger.Debug("login_transition", "from", l.state, "to", next)
		l.state = next
		if err := ctx.Err(); err != nil && l.state != LoggedIn {
			l.state, l.reason = Failed, err.Error()
		}
	}
	l.trace = append(l.trace, l.state)
	if l.state == Failed {
		logger.Warn("login_failed", "reason", l.reason, "url", l.Page.URL())
		return fmt.Errorf("%w: %s", ErrLoginFailed, l.reason)
	}
	logger.Info("login_success")
	return nil
}

// State returns the current state.
func (l *Login) State() State { return l.state }

// Trace returns every state visited by the last Run.
func (l *Login) Trace() []State { return append([]State(nil), l.trace...) }

func (l *Login) fail(reason string) State {
	l.reason = reason
	return Failed
}

func (l *Login) step(ctx context.Context) State {
	t := l.Timeouts
	switch l.state {
	case NavigatingLogin:
		if err := l.Page.Navigate(ctx, LoginURL); err != nil {
			return l.fail("navigation: " + err.Error())
		}
		return AwaitingChallenge

	case AwaitingChallenge:
		// A challenge that never clears is left to the form wait.
		browser.Poll(ctx, t.Challenge, t.Interval, func() bool {
			if challenged(l.Page) {
				return false
			}
			return len(l.Page.Elements(emailSelector)) > 0
		})
		return DismissingOverlays

	case DismissingOverlays:
		dismissOverlays(ctx, l.Page)
		return AwaitingForm

	case AwaitingForm:
		ok := browser.Poll(ctx, t.Form, t.Interval, func() bool {
			return visible(l.Page, emailSelector) != nil && visible(l.Page, passwordSelector) != nil
		})
		if !ok {
			return l.fail("login form not visible")
		}
		return FillingForm

	case FillingForm:
		email, password := visible(l.Page, emailSelector), visible(l.Page, passwordSelector)
		if email == nil || password == nil {
			return l.fail("login inputs vanished")
		}
		if err := email.Fill(ctx, l.Email); err != nil {
			return l.fail("filling email: " + err.Error())
		}
		if err := password.Fill(ctx, l.Password); err != nil {
			return l.fail("filling password: " + err.Error())
		}
		submit := submitControl(l.Page)
		if submit == nil {
			return l.fail("submit control not found")
		}
		if err := submit.Click(ctx); err != nil {
			return l.fail("submitting: " + err.Error())
		}
		return AwaitingConfirmation

	case AwaitingConfirmation:
		if !browser.Poll(ctx, t.Confirm, t.Interval, func() bool { return loggedIn(l.Page) }) {
			return l.fail("login not confirmed")
		}
		return LoggedIn
	}
	return l.fail("unexpected state " + l.state.String())
}

func challenged(page browser.Page) bool {
	html, err := page.HTML()
	if err != nil {
		return false
	}
	html = strings.ToLower(html)
	for _, m := range challengeMarkers {
		if strings.Contains(html, m) {
			return true
		}
	}
	return false
}

// dismissOverlays clicks away cookie banners and modals. Failures are
// ignored.
func dismissOverlays(ctx context.Context, page browser.Page) {
	buttons := page.Elements("button")
	for _, txt := range overlayTexts {
		for _, b := range buttons {
			if strings.Contains(strings.TrimSpace(b.Text()), txt) && b.Visible() {
				if b.Click(ctx) == nil {
					pause(ctx, 300*time.Millisecond, 300*time.Millisecond)
					break
				}
			}
		}
	}
	for _, sel := range overlaySelectors {
		if el := visible(page, sel); el != nil {
			if el.Click(ctx) == nil {
				pause(ctx, 300*time.Millisecond, 300*time.Millisecond)
			}
		}
	}
}

func submitControl(page browser.Page) browser.Element {
	for _, sel := range submitSelectors {
		if el := visible(page, sel); el != nil {
			return el
		}
	}
	for _, b := range page.Elements("button") {
		text := strings.TrimSpace(b.Text())
		for _, w := range submitWords {
			if strings.Contains(text, w) && b.Visible() {
				return b
			}
		}
	}
	return nil
}

func loggedIn(page browser.Page) bool {
	if len(page.Elements("a[href*='logout']")) > 0 {
		return true
	}
	for _, b := range page.Elements("button") {
		if strings.Contains(b.Text(), "خروج") {
			return true
		}
	}
	html, err := page.HTML()
	if err != nil {
		return false
	}
	for _, m := range confirmMarkers {
		if strings.Contains(html, m) {
			return true
		}
	}
	return false
}

// visible returns the first displayed element matching selector.
func visible(page browser.Page, selector string) browser.Element {
	for _, el := range page.Elements(selector) {
		if el.Visible() {
			return el
		}
	}
	return nil
}
