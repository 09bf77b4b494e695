// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package httputil

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserAgent(t *testing.T) {
	assert.Equal(t, "doi-bot/1.0 (+mailto:ops@example.org)", UserAgent("ops@example.org"))
	assert.Equal(t, "doi-bot/1.0", UserAgent(""))
	assert.Equal(t, "doi-bot/1.0", UserAgent("not an email"))
}

func TestGetJSON(t *testing.T) {
	var gotUA string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		switch r.URL.Path {
		case "/ok":
			w.Write([]byte(`{"name":"x"}`))
		case "/bad":
			w.WriteHeader(http.StatusBadRequest)
		case "/forbidden":
			w.WriteHeader(http.StatusForbidden)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer ts.Close()

	c := NewClient(time.Second, "doi-bot/1.0", 0)
	ctx := context.Background()

	var out struct {
		Name string `json:"name"`
	}
	require.NoError(t, c.GetJSON(ctx, ts.URL+"/ok", &out))
	assert.Equal(t, "x", out.Name)
	assert.Equal(t, "doi-bot/1.0", gotUA)

	assert.ErrorIs(t, c.GetJSON(ctx, ts.URL+"/missing", &out), ErrNotFound)
	assert.ErrorIs(t, c.GetJSON(ctx, ts.URL+"/bad", &out), ErrNotFound)

	err := c.GetJSON(ctx, ts.URL+"/forbidden", &out)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusForbidden, se.Status)
}

func TestClient_Paced(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	c := NewClient(time.Second, "", 20)
	require.NotNil(t, c.Limiter)

	start := time.Now()
	var out map[string]any
	for i := 0; i < 3; i++ {
		require.NoError(t, c.GetJSON(context.Background(), ts.URL, &out))
	}
	// Burst of one at 20 rps: two waits of ~50ms.
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}
