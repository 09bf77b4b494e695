// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package acquire downloads candidate PDFs and runs the retrieval chain.
// Implements: the download executor (size cap, content-type check, two
// attempts, zero-byte rejection) and the short-circuiting source chain.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dastyar-team/dastyar/internal/doi"
	"github.com/dastyar-team/dastyar/internal/logging"
	"github.com/dastyar-team/dastyar/pkg/types"
)

var (
	// ErrTooLarge is returned when a download exceeds the size cap.
	ErrTooLarge = errors.New("download exceeds size limit")

	// ErrEmpty is returned when a download completes with zero bytes.
	ErrEmpty = errors.New("empty download")
)

// RetryPause is the wait before the second download attempt. Tests
// override it.
var RetryPause = time.Second

const (
	downloadAttempts = 2
	chunkSize        = 64 * 1024
)

// Downloader streams candidate URLs into a local directory.
type Downloader struct {
	HTTP      *http.Client
	UserAgent string
	MaxBytes  int64
	Dir       string
	Logger    *log.Logger
}

// NewDownloader returns a Downloader writing to cfg.TmpDir with a cap of
// cfg.MaxMB mebibytes.
func NewDownloader(cfg types.DownloadConfig, timeout time.Duration, userAgent string, logger *log.Logger) *Downloader {
	return &Downloader{
		HTTP:      &http.Client{Timeout: timeout},
		UserAgent: userAgent,
		MaxBytes:  int64(cfg.MaxMB) * 1024 * 1024,
		Dir:       cfg.TmpDir,
		Logger:    logging.Component(logger, "download"),
	}
}

// statusError marks a non-200 response.
type statusError struct {
	status int
}

func (e *statusError) Error() string {
	return "HTTP " + strconv.Itoa(e.status)
}

// Download fetches url into Dir under the safe file name derived from hint
// and returns the file path. A second attempt without the User-Agent follows
// a 403 or a transport error. Oversized and empty bodies leave no file.
func (d *Downloader) Download(ctx context.Context, url, hint string) (string, error) {
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return "", fmt.Errorf("creating directory %s: %w", d.Dir, err)
	}
	dest := filepath.Join(d.Dir, doi.SafeFilename(hint))
	logger := logging.OrDiscard(d.Logger)

	var lastErr error
	for attempt := 1; attempt <= downloadAttempts; attempt++ {
		err := d.fetch(ctx, url, dest, attempt == 1)
		if err == nil {
			return dest, nil
		}
		lastErr = err
		logger.Warn("pdf_dl_failed", "attempt", attempt, "url", url, "err", err)

		if !retryable(err) || attempt == downloadAttempts || ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(RetryPause):
		}
	}
	return "", fmt.Errorf("downloading %s: %w", url, lastErr)
}

// retryable reports whether a failed attempt earns the second try: a 403
// or a transport error.
func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.status == http.StatusForbidden
	}
	return !errors.Is(err, ErrTooLarge) && !errors.Is(err, ErrEmpty)
}

// fetch performs one attempt, writing to a temporary file that is renamed
// to dest on success.
func (d *Downloader) fetch(ctx context.Context, url, dest string, withUA bool) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if withUA && d.UserAgent != "" {
		req.Header.Set("User-Agent", d.UserAgent)
	}
	req.Header.Set("Accept", "application/pdf,*/*")

	client := d.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return &statusError{status: resp.StatusCode}
	}

	ctype := strings.ToLower(resp.Header.Get("Content-Type"))
	if !strings.Contains(ctype, "pdf") && !strings.HasSuffix(strings.ToLower(url), ".pdf") {
		logging.OrDiscard(d.Logger).Info("pdf_dl_suspicious_ctype", "url", url, "ctype", ctype)
	}
	if d.MaxBytes > 0 && resp.ContentLength > d.MaxBytes {
		return fmt.Errorf("content length %d: %w", resp.ContentLength, ErrTooLarge)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(dest), ".acquire-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	total, copyErr := d.copyCapped(tmpFile, resp.Body)
	closeErr := tmpFile.Close()
	switch {
	case copyErr != nil:
		os.Remove(tmpPath)
		return copyErr
	case closeErr != nil:
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", closeErr)
	case total == 0:
		os.Remove(tmpPath)
		return ErrEmpty
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// copyCapped streams body in 64 KiB chunks, failing with ErrTooLarge as
// soon as the running total passes MaxBytes.
func (d *Downloader) copyCapped(w io.Writer, body io.Reader) (int64, error) {
	buf := make([]byte, chunkSize)
	var total int64
	for {
		n, err := body.Read(buf)
		if n > 0 {
			total += int64(n)
			if d.MaxBytes > 0 && total > d.MaxBytes {
				return total, fmt.Errorf("streamed %d bytes: %w", total, ErrTooLarge)
			}
			if _, werr := w.Write(buf[:n]); werr != nil {
				return total, fmt.Errorf("writing download: %w", werr)
			}
		}
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, fmt.Errorf("reading body: %w", err)
		}
	}
}
