// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dastyar-team/dastyar/internal/httputil"
	"github.com/dastyar-team/dastyar/internal/logging"
)

// apiBase is the Bot API root. Tests point it at an httptest server.
var apiBase = "https://api.telegram.org"

// DocumentAttempts and DocumentPause govern sendDocument retries.
var (
	DocumentAttempts = 3
	DocumentPause    = 2 * time.Second
)

// ErrMisconfigured is returned when the bot token is empty.
var ErrMisconfigured = errors.New("telegram notifier misconfigured")

// Telegram sends through the Bot API.
type Telegram struct {
	token  string
	client *http.Client
	upload *http.Client
	logger *log.Logger
}

var _ Notifier = (*Telegram)(nil)

// NewTelegram returns a notifier for the bot with the given token.
func NewTelegram(token string, logger *log.Logger) *Telegram {
	return &Telegram{
		token:  token,
		client: &http.Client{Timeout: 15 * time.Second},
		upload: &http.Client{Timeout: 4 * time.Minute},
		logger: logging.Component(logger, "telegram"),
	}
}

type apiReply struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (t *Telegram) endpoint(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", apiBase, t.token, method)
}

func (t *Telegram) call(ctx context.Context, method string, params url.Values) error {
	if t.token == "" {
		return ErrMisconfigured
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.endpoint(method)+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	resp, err := httputil.DoWithRetry(ctx, t.client, req, 0)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()
	return decodeReply(method, resp)
}

func decodeReply(method string, resp *http.Response) error {
	var reply apiReply
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&reply); err != nil {
		return fmt.Errorf("%s: %s: %w", method, resp.Status, err)
	}
	if !reply.OK {
		return fmt.Errorf("%s: %s: %s", method, resp.Status, reply.Description)
	}
	return nil
}

func (t *Telegram) SendText(ctx context.Context, chatID int64, text string) error {
	return t.call(ctx, "sendMessage", url.Values{
		"chat_id": {strconv.FormatInt(chatID, 10)},
		"text":    {text},
	})
}

func (t *Telegram) SendChatAction(ctx context.Context, chatID int64, action string) error {
	return t.call(ctx, "sendChatAction", url.Values{
		"chat_id": {strconv.FormatInt(chatID, 10)},
		"action":  {action},
	})
}

// SendDocument uploads path as a multipart document, retrying up to
// DocumentAttempts times.
func (t *Telegram) SendDocument(ctx context.Context, chatID int64, path, caption string) error {
	if t.token == "" {
		return ErrMisconfigured
	}
	var lastErr error
	for attempt := range DocumentAttempts {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(DocumentPause):
			}
		}
		lastErr = t.sendDocument(ctx, chatID, path, caption)
		if lastErr == nil {
			return nil
		}
		t.logger.Warn("send_document_failed", "attempt", attempt+1, "path", path, "err", lastErr)
	}
	return lastErr
}

func (t *Telegram) sendDocument(ctx context.Context, chatID int64, path, caption string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening document: %w", err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeDocument(mw, chatID, filepath.Base(path), caption, f))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint("sendDocument"), pr)
	if err != nil {
		pr.Close()
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := t.upload.Do(req)
	if err != nil {
		pr.Close()
		return fmt.Errorf("sendDocument: %w", err)
	}
	defer resp.Body.Close()
	return decodeReply("sendDocument", resp)
}

func writeDocument(mw *multipart.Writer, chatID int64, name, caption string, src io.Reader) error {
	if err := mw.WriteField("chat_id", strconv.FormatInt(chatID, 10)); err != nil {
		return err
	}
	if caption != "" {
		if err := mw.WriteField("caption", caption); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile("document", name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, src); err != nil {
		return err
	}
	return mw.Close()
}
