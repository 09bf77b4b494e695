// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package acquire

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	RetryPause = time.Millisecond
}

func newTestDownloader(t *testing.T, maxBytes int64) *Downloader {
	t.Helper()
	return &Downloader{
		HTTP:      &http.Client{Timeout: 5 * time.Second},
		UserAgent: "doi-bot/1.0",
		MaxBytes:  maxBytes,
		Dir:       t.TempDir(),
	}
}

// dirEntries lists every file left in dir, temp files included.
func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestDownload_Success(t *testing.T) {
	body := []byte("%PDF-1.4 fake content")
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "doi-bot/1.0", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/pdf")
		w.Write(body)
	}))
	defer ts.Close()

	d := newTestDownloader(t, 1<<20)
	path, err := d.Download(context.Background(), ts.URL+"/paper", "10.1000_a")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(d.Dir, "10.1000_a.pdf"), path)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(body, got))
	assert.Equal(t, []string{"10.1000_a.pdf"}, dirEntries(t, d.Dir))
}

func TestDownload_UnexpectedContentTypeIsKept(t *testing.T) {
	// A non-PDF content type is only logged.
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write([]byte("not checked"))
	}))
	defer ts.Close()

	d := newTestDownloader(t, 1<<20)
	path, err := d.Download(context.Background(), ts.URL+"/download", "10.1000_b")
	require.NoError(t, err)
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "not checked", string(got))
}

func TestDownload_StreamOverflowLeavesNoFile(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// No Content-Length: the cap must trip while streaming.
		w.Header().Set("Content-Type", "application/pdf")
		flusher := w.(http.Flusher)
		chunk := bytes.Repeat([]byte("x"), 1024)
		for i := 0; i < 200; i++ {
			w.Write(chunk)
			flusher.Flush()
		}
	}))
	defer ts.Close()

	d := newTestDownloader(t, 100*1024)
	_, err := d.Download(context.Background(), ts.URL, "big")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTooLarge))
	assert.Empty(t, dirEntries(t, d.Dir))
}

func TestDownload_ContentLengthOverCap(t *testing.T) {
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write(bytes.Repeat([]byte("x"), 2048))
	}))
	defer ts.Close()

	d := newTestDownloader(t, 1024)
	_, err := d.Download(context.Background(), ts.URL+"/a.pdf", "big")
	assert.True(t, errors.Is(err, ErrTooLarge))
	assert.Equal(t, 1, calls, "size failures are not retried")
	assert.Empty(t, dirEntries(t, d.Dir))
}

func TestDownload_ZeroBytesRejected(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
	}))
	defer ts.Close()

	d := newTestDownloader(t, 1<<20)
	_, err := d.Download(context.Background(), ts.URL, "empty")
	assert.True(t, errors.Is(err, ErrEmpty))
	assert.Empty(t, dirEntries(t, d.Dir))
}

func TestDownload_ForbiddenRetriesWithoutUserAgent(t *testing.T) {
	var agents []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agents = append(agents, r.Header.Get("User-Agent"))
		if len(agents) == 1 {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Write([]byte("%PDF"))
	}))
	defer ts.Close()

	d := newTestDownloader(t, 1<<20)
	_, err := d.Download(context.Background(), ts.URL, "x")
	require.NoError(t, err)
	require.Len(t, agents, 2)
	assert.Equal(t, "doi-bot/1.0", agents[0])
	assert.NotEqual(t, "doi-bot/1.0", agents[1])
}

func TestDownload_NotFoundIsFinal(t *testing.T) {
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	d := newTestDownloader(t, 1<<20)
	_, err := d.Download(context.Background(), ts.URL, "x")
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}
