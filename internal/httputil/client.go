// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ErrNotFound is returned by GetJSON for 400 and 404 responses, which are
// never retried.
var ErrNotFound = errors.New("not found")

// StatusError is returned for non-2xx responses other than 400/404.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d from %s", e.Status, e.URL)
}

// UserAgent returns the polite User-Agent. The contact is included as a
// mailto only when it parses as an email address.
func UserAgent(contact string) string {
	ua := "doi-bot/1.0"
	if _, err := mail.ParseAddress(contact); err == nil && strings.Contains(contact, "@") {
		ua += " (+mailto:" + contact + ")"
	}
	return ua
}

// Client wraps an http.Client with a User-Agent, request pacing, and the
// retry schedule.
type Client struct {
	HTTP      *http.Client
	UserAgent string
	Limiter   *rate.Limiter
}

// NewClient returns a Client with the given timeout. rps <= 0 disables pacing.
func NewClient(timeout time.Duration, userAgent string, rps float64) *Client {
	c := &Client{
		HTTP:      &http.Client{Timeout: timeout},
		UserAgent: userAgent,
	}
	if rps > 0 {
		c.Limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return c
}

// Get issues a paced GET with retries and returns the final response. The
// caller closes the body.
func (c *Client) Get(ctx context.Context, url string, headers map[string]string) (*http.Response, error) {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return DoWithRetry(ctx, c.httpClient(), req, 0)
}

// GetJSON fetches url and decodes a JSON body into out. 400 and 404 yield
// ErrNotFound; other non-200 codes yield a *StatusError.
func (c *Client) GetJSON(ctx context.Context, url string, out any) error {
	resp, err := c.Get(ctx, url, map[string]string{"Accept": "application/json"})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusBadRequest:
		io.Copy(io.Discard, resp.Body)
		return ErrNotFound
	case resp.StatusCode != http.StatusOK:
		io.Copy(io.Discard, resp.Body)
		return &StatusError{URL: url, Status: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s: %w", url, err)
	}
	return nil
}

// Timeout returns the configured client timeout.
func (c *Client) Timeout() time.Duration {
	return c.httpClient().Timeout
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP == nil {
		return http.DefaultClient
	}
	return c.HTTP
}
