// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package ai talks to an OpenAI-compatible inference service for title
// classification, paper comparison, and the venue journal check.
// Every request asks for a strict JSON object at temperature 0.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dastyar-team/dastyar/internal/logging"
	"github.com/dastyar-team/dastyar/pkg/types"
)

// ErrDisabled is returned when no API key is configured.
var ErrDisabled = errors.New("ai backend disabled")

// ErrNoContent is returned when every call shape failed to produce text.
var ErrNoContent = errors.New("ai backend returned no content")

// Client is an OpenAI-compatible API client.
type Client struct {
	baseURL  string
	model    string
	fallback string
	apiKey   string
	http     *http.Client
	logger   *log.Logger
}

// NewClient builds a client from configuration.
func NewClient(cfg types.AIConfig, logger *log.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		model:    cfg.Model,
		fallback: cfg.FallbackModel,
		apiKey:   cfg.APIKey,
		http:     &http.Client{Timeout: timeout},
		logger:   logging.Component(logger, "ai"),
	}
}

// Enabled reports whether the client has credentials and an endpoint.
func (c *Client) Enabled() bool {
	return c != nil && c.apiKey != "" && c.baseURL != "" && c.model != ""
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type jsonFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat jsonFormat    `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type responsesRequest struct {
	Model        string  `json:"model"`
	Instructions string  `json:"instructions"`
	Input        string  `json:"input"`
	Temperature  float64 `json:"temperature"`
	Text         struct {
		Format jsonFormat `json:"format"`
	} `json:"text"`
}

type responsesResponse struct {
	OutputText string `json:"output_text"`
	Output     []struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
}

// chat calls the chat completions endpoint.
func (c *Client) chat(ctx context.Context, model, system, user string) (string, error) {
	req := chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		ResponseFormat: jsonFormat{Type: "json_object"},
	}
	var resp chatResponse
	if err := c.post(ctx, "/chat/completions", req, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// respond calls the responses endpoint.
func (c *Client) respond(ctx context.Context, model, system, user string) (string, error) {
	req := responsesRequest{Model: model, Instructions: system, Input: user}
	req.Text.Format = jsonFormat{Type: "json_object"}

	var resp responsesResponse
	if err := c.post(ctx, "/responses", req, &resp); err != nil {
		return "", err
	}
	if resp.OutputText != "" {
		return resp.OutputText, nil
	}
	for _, out := range resp.Output {
		for _, part := range out.Content {
			if part.Text != "" {
				return part.Text, nil
			}
		}
	}
	return "", nil
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal ai payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ai request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("ai error %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding ai response: %w", err)
	}
	return nil
}

// shape is one escalating call attempt.
type shape struct {
	source string
	call   func(ctx context.Context) (string, error)
}

// escalate tries the primary chat shape, the responses shape, and the
// fallback model in order, returning the first non-empty content and the
// name of the shape that produced it.
func (c *Client) escalate(ctx context.Context, system, user string) (string, string, error) {
	shapes := []shape{
		{"groq_chat", func(ctx context.Context) (string, error) { return c.chat(ctx, c.model, system, user) }},
		{"groq_responses", func(ctx context.Context) (string, error) { return c.respond(ctx, c.model, system, user) }},
	}
	if c.fallback != "" && c.fallback != c.model {
		shapes = append(shapes, shape{"groq_chat_fb", func(ctx context.Context) (string, error) {
			return c.chat(ctx, c.fallback, system, user)
		}})
	}

	last := shapes[0].source
	for _, s := range shapes {
		last = s.source
		content, err := s.call(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return "", last, ctx.Err()
			}
			c.logger.Warn("ai_call_failed", "shape", s.source, "err", err)
			continue
		}
		if strings.TrimSpace(content) != "" {
			return content, s.source, nil
		}
	}
	return "", last, ErrNoContent
}

// decodeJSON parses content as JSON, falling back to the slice between
// the first "{" and the last "}".
func decodeJSON(content string, out any) error {
	if err := json.Unmarshal([]byte(content), out); err == nil {
		return nil
	}
	i, j := strings.Index(content, "{"), strings.LastIndex(content, "}")
	if i < 0 || j <= i {
		return fmt.Errorf("no JSON object in ai content %q", truncate(content, 120))
	}
	if err := json.Unmarshal([]byte(content[i:j+1]), out); err != nil {
		return fmt.Errorf("parsing ai content: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
