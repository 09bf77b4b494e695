// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package captcha

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/dastyar-team/dastyar/internal/browser"
	"github.com/dastyar-team/dastyar/internal/logging"
)

var siteKeySelectors = []string{
	"div.g-recaptcha[data-sitekey]",
	"div[data-sitekey]",
	"iframe[src*='recaptcha']",
}

// SiteKey returns the reCAPTCHA site key on page, or "" when no widget is
// present.
func SiteKey(page browser.Page) string {
	for _, sel := range siteKeySelectors {
		for _, el := range page.Elements(sel) {
			if key := el.Attr("data-sitekey"); key != "" {
				return key
			}
			if key := keyFromSrc(el.Attr("src")); key != "" {
				return key
			}
		}
	}
	return ""
}

func keyFromSrc(src string) string {
	_, after, ok := strings.Cut(src, "sitekey=")
	if !ok {
		return ""
	}
	key, _, _ := strings.Cut(after, "&")
	return key
}

const injectScript = `(token) => {
	let fields = document.querySelectorAll('[name="g-recaptcha-response"]');
	if (!fields || fields.length === 0) {
		const ta = document.createElement('textarea');
		ta.name = 'g-recaptcha-response';
		ta.id = 'g-recaptcha-response';
		ta.style.display = 'none';
		document.body.appendChild(ta);
		fields = [ta];
	}
	fields.forEach((f) => { f.value = token; f.innerHTML = token; });
	return String(fields.length);
}`

// Inject writes token into every response field on page, creating a hidden
// field when none exists.
func Inject(ctx context.Context, page browser.Page, token string) error {
	if _, err := page.Eval(ctx, injectScript, token); err != nil {
		return fmt.Errorf("injecting token: %w", err)
	}
	return nil
}

// SolvePage detects a widget on page, solves it, and injects the token. It
// reports whether a token was injected. A page without a widget is not an
// error.
func SolvePage(ctx context.Context, solver Solver, page browser.Page, logger *log.Logger) (bool, error) {
	logger = logging.OrDiscard(logger)
	key := SiteKey(page)
	if key == "" {
		return false, nil
	}
	pageURL := page.URL()
	logger.Info("recaptcha_detected", "sitekey", key, "url", pageURL)

	token, err := solver.Solve(ctx, key, pageURL)
	if err != nil {
		return false, err
	}
	if err := Inject(ctx, page, token); err != nil {
		return false, err
	}
	logger.Info("recaptcha_solved", "url", pageURL)
	return true, nil
}
