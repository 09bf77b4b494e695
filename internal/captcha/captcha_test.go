// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package captcha

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dastyar-team/dastyar/internal/browser/browsertest"
)

func init() {
	RunPause = time.Millisecond
}

// service fakes the solving endpoints. Each poll pops the next scripted
// reply for the job; an exhausted script answers "not ready".
type service struct {
	mu       sync.Mutex
	jobs     int
	polls    map[string][]string
	reported []string
	submits  []string
	reject   bool
}

func newService(t *testing.T, s *service) *Client {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/in.php", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "userrecaptcha", r.PostForm.Get("method"))
		assert.Equal(t, "secret", r.PostForm.Get("key"))
		s.mu.Lock()
		defer s.mu.Unlock()
		s.submits = append(s.submits, r.PostForm.Get("googlekey")+"|"+r.PostForm.Get("pageurl"))
		if s.reject {
			fmt.Fprint(w, `{"status":0,"request":"ERROR_WRONG_USER_KEY"}`)
			return
		}
		s.jobs++
		fmt.Fprintf(w, `{"status":1,"request":"job%d"}`, s.jobs)
	})
	mux.HandleFunc("/res.php", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		id := q.Get("id")
		s.mu.Lock()
		defer s.mu.Unlock()
		if q.Get("action") == "reportbad" {
			s.reported = append(s.reported, id)
			fmt.Fprint(w, `{"status":1,"request":"OK_REPORT_RECORDED"}`)
			return
		}
		script := s.polls[id]
		if len(script) == 0 {
			fmt.Fprint(w, `{"status":0,"request":"CAPCHA_NOT_READY"}`)
			return
		}
		s.polls[id] = script[1:]
		fmt.Fprint(w, script[0])
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	oldSubmit, oldResult := submitURL, resultURL
	submitURL, resultURL = ts.URL+"/in.php", ts.URL+"/res.php"
	t.Cleanup(func() { submitURL, resultURL = oldSubmit, oldResult })

	return &Client{
		HTTP:         ts.Client(),
		Key:          "secret",
		PollInterval: time.Millisecond,
		MaxPolls:     5,
		Runs:         3,
	}
}

func TestSolve_AfterNotReady(t *testing.T) {
	s := &service{polls: map[string][]string{
		"job1": {`{"status":0,"request":"CAPCHA_NOT_READY"}`, `{"status":"1","request":"tok-123"}`},
	}}
	c := newService(t, s)

	token, err := c.Solve(context.Background(), "site", "https://example.org/p")
	require.NoError(t, err)
	assert.Equal(t, "tok-123", token)
	assert.Equal(t, []string{"site|https://example.org/p"}, s.submits)
	assert.Empty(t, s.reported)
}

func TestSolve_ReportsBadAndRetries(t *testing.T) {
	s := &service{polls: map[string][]string{
		"job1": {`{"status":0,"request":"ERROR_CAPTCHA_UNSOLVABLE"}`},
		"job2": {`{"status":1,"request":""}`},
		"job3": {`{"status":1,"request":"good"}`},
	}}
	c := newService(t, s)

	token, err := c.Solve(context.Background(), "site", "https://example.org/p")
	require.NoError(t, err)
	assert.Equal(t, "good", token)
	assert.Equal(t, []string{"job1", "job2"}, s.reported)
	assert.Len(t, s.submits, 3)
}

func TestSolve_Unsolved(t *testing.T) {
	s := &service{polls: map[string][]string{}}
	c := newService(t, s)

	_, err := c.Solve(context.Background(), "site", "https://example.org/p")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsolved))
	assert.Equal(t, []string{"job1", "job2", "job3"}, s.reported, "every timed-out job is reported")
}

func TestSolve_SubmitRejected(t *testing.T) {
	s := &service{reject: true}
	c := newService(t, s)

	_, err := c.Solve(context.Background(), "site", "u")
	assert.True(t, errors.Is(err, ErrUnsolved))
	assert.Len(t, s.submits, 3)
	assert.Empty(t, s.reported, "no job id to report")
}

func TestPoll_MalformedStatus(t *testing.T) {
	for _, reply := range []string{`{"status":"one","request":"tok"}`, `{"request":"tok"}`} {
		s := &service{polls: map[string][]string{"job1": {reply}}}
		c := newService(t, s)

		_, err := c.Poll(context.Background(), "job1")
		require.Error(t, err, reply)
		assert.Contains(t, err.Error(), "parsing reply status", reply)
	}
}

func TestSolve_Disabled(t *testing.T) {
	c := &Client{}
	_, err := c.Solve(context.Background(), "site", "u")
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestSiteKey(t *testing.T) {
	tests := []struct {
		name     string
		selector string
		el       *browsertest.Element
		want     string
	}{
		{"widget div", "div.g-recaptcha[data-sitekey]", &browsertest.Element{Attrs: map[string]string{"data-sitekey": "abc"}}, "abc"},
		{"any div", "div[data-sitekey]", &browsertest.Element{Attrs: map[string]string{"data-sitekey": "def"}}, "def"},
		{"iframe src", "iframe[src*='recaptcha']", &browsertest.Element{Attrs: map[string]string{"src": "https://www.google.com/recaptcha/api2/anchor?ar=1&k=x&sitekey=ghi&co=y"}}, "ghi"},
		{"iframe without key", "iframe[src*='recaptcha']", &browsertest.Element{Attrs: map[string]string{"src": "https://www.google.com/recaptcha/api.js"}}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := browsertest.NewPage()
			page.Add(tt.selector, tt.el)
			assert.Equal(t, tt.want, SiteKey(page))
		})
	}
}

type stubSolver struct {
	token string
	err   error
	calls int
}

func (s *stubSolver) Solve(context.Context, string, string) (string, error) {
	s.calls++
	return s.token, s.err
}

func TestSolvePage(t *testing.T) {
	page := browsertest.NewPage()
	page.Set("https://archive.example/10.1/x", "", "")
	page.Add("div[data-sitekey]", &browsertest.Element{Attrs: map[string]string{"data-sitekey": "k1"}})
	var injected string
	page.OnEval = func(js string, args ...any) (string, error) {
		injected = args[0].(string)
		return "1", nil
	}

	solver := &stubSolver{token: "tok"}
	ok, err := SolvePage(context.Background(), solver, page, nil)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "tok", injected)
}

func TestSolvePage_NoWidget(t *testing.T) {
	solver := &stubSolver{token: "tok"}
	ok, err := SolvePage(context.Background(), solver, browsertest.NewPage(), nil)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, solver.calls)
}
