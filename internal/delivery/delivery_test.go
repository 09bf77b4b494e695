// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package delivery

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type botCall struct {
	Method  string
	Values  map[string]string
	File    string
	Content string
}

// fakeBot records Bot API calls. fail makes the first n sendDocument calls
// answer with a server error.
func fakeBot(t *testing.T, fail int) (*[]botCall, func()) {
	t.Helper()
	var (
		mu    sync.Mutex
		calls []botCall
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		c := botCall{Method: method, Values: map[string]string{}}
		if !strings.HasPrefix(r.URL.Path, "/botTOKEN/") {
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, `{"ok":false,"description":"Unauthorized"}`)
			return
		}
		if method == "sendDocument" {
			require.NoError(t, r.ParseMultipartForm(1<<20))
			for k, v := range r.MultipartForm.Value {
				c.Values[k] = v[0]
			}
			f, hdr, err := r.FormFile("document")
			require.NoError(t, err)
			data, _ := io.ReadAll(f)
			c.File, c.Content = hdr.Filename, string(data)
			if fail > 0 {
				fail--
				calls = append(calls, c)
				w.WriteHeader(http.StatusBadGateway)
				io.WriteString(w, `{"ok":false,"description":"Bad Gateway"}`)
				return
			}
		} else {
			for k, v := range r.URL.Query() {
				c.Values[k] = v[0]
			}
		}
		calls = append(calls, c)
		io.WriteString(w, `{"ok":true,"result":{}}`)
	}))

	prevBase, prevPause := apiBase, DocumentPause
	apiBase, DocumentPause = srv.URL, 0
	return &calls, func() {
		srv.Close()
		apiBase, DocumentPause = prevBase, prevPause
	}
}

func TestTelegram_SendText(t *testing.T) {
	calls, done := fakeBot(t, 0)
	defer done()

	tg := NewTelegram("TOKEN", nil)
	require.NoError(t, tg.SendText(context.Background(), 42, "hello | world"))
	require.NoError(t, tg.SendChatAction(context.Background(), 42, ActionTyping))

	require.Len(t, *calls, 2)
	assert.Equal(t, "sendMessage", (*calls)[0].Method)
	assert.Equal(t, "42", (*calls)[0].Values["chat_id"])
	assert.Equal(t, "hello | world", (*calls)[0].Values["text"])
	assert.Equal(t, "typing", (*calls)[1].Values["action"])
}

func TestTelegram_SendDocumentRetries(t *testing.T) {
	calls, done := fakeBot(t, 1)
	defer done()

	path := filepath.Join(t.TempDir(), "downloads_1.zip")
	require.NoError(t, os.WriteFile(path, []byte("PK zip"), 0o644))

	tg := NewTelegram("TOKEN", nil)
	require.NoError(t, tg.SendDocument(context.Background(), 7, path, "your files"))

	require.Len(t, *calls, 2)
	last := (*calls)[1]
	assert.Equal(t, "downloads_1.zip", last.File)
	assert.Equal(t, "PK zip", last.Content)
	assert.Equal(t, "your files", last.Values["caption"])
	assert.Equal(t, "7", last.Values["chat_id"])
}

func TestTelegram_SendDocumentGivesUp(t *testing.T) {
	calls, done := fakeBot(t, 5)
	defer done()

	path := filepath.Join(t.TempDir(), "a.zip")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	err := NewTelegram("TOKEN", nil).SendDocument(context.Background(), 7, path, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Bad Gateway")
	assert.Len(t, *calls, DocumentAttempts)
}

func TestTelegram_Errors(t *testing.T) {
	_, done := fakeBot(t, 0)
	defer done()

	assert.ErrorIs(t, NewTelegram("", nil).SendText(context.Background(), 1, "x"), ErrMisconfigured)

	err := NewTelegram("WRONG", nil).SendText(context.Background(), 1, "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unauthorized")

	err = NewTelegram("TOKEN", nil).SendDocument(context.Background(), 1, "/does/not/exist.zip", "")
	assert.Error(t, err)
}

func TestWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	ctx := context.Background()
	require.NoError(t, w.SendText(ctx, 1, "3 total | 1 ok"))
	require.NoError(t, w.SendDocument(ctx, 1, "/tmp/a.zip", "archive"))
	require.NoError(t, w.SendDocument(ctx, 1, "/tmp/b.zip", ""))
	require.NoError(t, w.SendChatAction(ctx, 1, ActionUploadDocument))
	assert.Equal(t, "3 total | 1 ok\narchive: /tmp/a.zip\n/tmp/b.zip\n", buf.String())
}
