// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package captcha solves reCAPTCHA challenges through the 2captcha service
// and injects the resulting token into a page.
// Implements: site-key detection; submit, poll, and report-bad calls;
// retried solve cycles; token injection.
package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dastyar-team/dastyar/internal/logging"
	"github.com/dastyar-team/dastyar/pkg/types"
)

// ErrUnsolved is returned when every solve cycle failed.
var ErrUnsolved = errors.New("captcha unsolved")

// ErrDisabled is returned when no API key is configured.
var ErrDisabled = errors.New("captcha solving disabled")

// Service endpoints. Package-level so tests can point them at a fake.
var (
	submitURL = "https://2captcha.com/in.php"
	resultURL = "https://2captcha.com/res.php"
)

// RunPause is the wait between failed solve cycles.
var RunPause = 2 * time.Second

const notReady = "CAPCHA_NOT_READY"

// Solver turns a site key and page URL into a response token.
type Solver interface {
	Solve(ctx context.Context, siteKey, pageURL string) (string, error)
}

// Client talks to the solving service.
type Client struct {
	HTTP         *http.Client
	Key          string
	PollInterval time.Duration
	MaxPolls     int
	Runs         int
	Logger       *log.Logger
}

// NewClient returns a Client configured from cfg.
func NewClient(cfg types.CaptchaConfig, logger *log.Logger) *Client {
	return &Client{
		HTTP:         &http.Client{Timeout: 30 * time.Second},
		Key:          cfg.APIKey,
		PollInterval: cfg.PollInterval,
		MaxPolls:     cfg.MaxPolls,
		Runs:         cfg.Runs,
		Logger:       logging.Component(logger, "captcha"),
	}
}

func (c *Client) logger() *log.Logger {
	return logging.OrDiscard(c.Logger)
}

// Enabled reports whether an API key is configured.
func (c *Client) Enabled() bool {
	return c != nil && c.Key != ""
}

type reply struct {
	Status  int    `json:"status"`
	Request string `json:"request"`
}

// Submit creates a solving job and returns its id.
func (c *Client) Submit(ctx context.Context, siteKey, pageURL string) (string, error) {
	form := url.Values{
		"key":       {c.Key},
		"method":    {"userrecaptcha"},
		"googlekey": {siteKey},
		"pageurl":   {pageURL},
		"json":      {"1"},
		"soft_id":   {"0"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, submitURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	r, err := c.do(req)
	if err != nil {
		return "", fmt.Errorf("submitting captcha: %w", err)
	}
	if r.Status != 1 || r.Request == "" {
		return "", fmt.Errorf("submit rejected: %s", r.Request)
	}
	return r.Request, nil
}

// Poll waits for the job result. It returns the token, or an error when the
// service reports a failure, returns an empty token, or polling runs out.
func (c *Client) Poll(ctx context.Context, id string) (string, error) {
	q := url.Values{
		"key":    {c.Key},
		"action": {"get"},
		"id":     {id},
		"json":   {"1"},
	}
	for range c.MaxPolls {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.PollInterval):
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, resultURL+"?"+q.Encode(), nil)
		if err != nil {
			return "", fmt.Errorf("creating request: %w", err)
		}
		r, err := c.do(req)
		if err != nil {
			return "", fmt.Errorf("polling captcha %s: %w", id, err)
		}
		if r.Status == 1 {
			if r.Request == "" {
				return "", fmt.Errorf("captcha %s: empty token", id)
			}
			return r.Request, nil
		}
		if strings.EqualFold(r.Request, notReady) {
			continue
		}
		return "", fmt.Errorf("captcha %s: %s", id, r.Request)
	}
	return "", fmt.Errorf("captcha %s: poll timeout after %d attempts", id, c.MaxPolls)
}

// ReportBad flags a job's answer as wrong. Failures are logged only.
func (c *Client) ReportBad(ctx context.Context, id string) {
	q := url.Values{
		"key":    {c.Key},
		"action": {"reportbad"},
		"id":     {id},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resultURL+"?"+q.Encode(), nil)
	if err != nil {
		return
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		c.logger().Debug("reportbad_failed", "id", id, "err", err)
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

// Solve runs up to Runs submit-and-poll cycles, reporting each failed job
// and pausing RunPause between cycles.
func (c *Client) Solve(ctx context.Context, siteKey, pageURL string) (string, error) {
	if !c.Enabled() {
		return "", ErrDisabled
	}
	runs := max(c.Runs, 1)
	var last error
	for run := 1; run <= runs; run++ {
		id, err := c.Submit(ctx, siteKey, pageURL)
		if err == nil {
			c.logger().Debug("submitted", "run", run, "id", id)
			var token string
			token, err = c.Poll(ctx, id)
			if err == nil {
				return token, nil
			}
			c.ReportBad(ctx, id)
		}
		last = err
		c.logger().Warn("attempt_failed", "run", run, "err", err)
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if run < runs {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(RunPause):
			}
		}
	}
	return "", fmt.Errorf("%w after %d runs: %w", ErrUnsolved, runs, last)
}

func (c *Client) do(req *http.Request) (reply, error) {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return reply{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return reply{}, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	// status arrives as a number or a numeric string.
	var raw struct {
		Status  json.RawMessage `json:"status"`
		Request string          `json:"request"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return reply{}, fmt.Errorf("decoding reply: %w", err)
	}
	status, err := strconv.Atoi(strings.Trim(string(raw.Status), `"`))
	if err != nil {
		return reply{}, fmt.Errorf("parsing reply status %s: %w", raw.Status, err)
	}
	return reply{Status: status, Request: raw.Request}, nil
}
