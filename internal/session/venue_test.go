// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package session

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dastyar-team/dastyar/internal/acquire"
	"github.com/dastyar-team/dastyar/internal/ai"
	"github.com/dastyar-team/dastyar/internal/browser"
	"github.com/dastyar-team/dastyar/internal/browser/browsertest"
	"github.com/dastyar-team/dastyar/internal/ratelimit"
	"github.com/dastyar-team/dastyar/internal/store"
	"github.com/dastyar-team/dastyar/pkg/types"
)

const articleURL = "https://www-sciencedirect-com.daccess.iranpaper.ir/science/article/pii/S1"

// stubComparator matches only the title in want.
type stubComparator struct {
	mu    sync.Mutex
	want  string
	calls []ai.Paper
}

func (c *stubComparator) Compare(_ context.Context, _, cand ai.Paper) (ai.Match, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, cand)
	if cand.Title == c.want {
		return ai.Match{OK: true, Confidence: 0.99}, nil
	}
	return ai.Match{OK: true, Confidence: 0.5}, nil
}

// venuePage scripts the search, the results, and the article page. pdf is
// registered on the article page once the target result is clicked.
func venuePage(pdf *browsertest.Element, titles ...string) (*browsertest.Page, *browsertest.Element) {
	page := browsertest.NewPage()
	input := &browsertest.Element{}
	input.OnEnter = func() {
		for _, title := range titles {
			link := &browsertest.Element{Label: title, Closest: map[string]string{"article": title + " snippet"}}
			if title == "Target Title" {
				link.OnClick = func() {
					page.SetURL(articleURL)
					page.Add(pdfSelectors[0], pdf)
				}
			}
			page.Add(resultSelector, link)
		}
	}
	page.Add(searchSelector, input)
	return page, input
}

func testVenue(cmp Comparator) *Venue {
	v := NewVenue(types.VenueConfig{MatchMinConfidence: 0.95}, cmp, nil, nil)
	v.Timeouts = fast
	return v
}

func TestVenueFetch_Href(t *testing.T) {
	pdf := &browsertest.Element{Attrs: map[string]string{"href": "/science/article/pii/S1/pdfft?md5=x"}}
	page, input := venuePage(pdf, "", "Other Paper", "Target Title")
	cmp := &stubComparator{want: "Target Title"}

	u, err := testVenue(cmp).Fetch(context.Background(), &Session{Slot: 1, Page: page}, "https://iranpaper.ir/directaccess",
		acquire.Target{DOI: "10.1016/x", Title: "Target Title", Abstract: "abs"})
	require.NoError(t, err)
	assert.Equal(t, articleURL+"/pdfft?md5=x", u)
	assert.Equal(t, "Target Title", input.Value())
	assert.Equal(t, 1, input.Entered())
	require.Len(t, cmp.calls, 2, "the untitled result is skipped")
	assert.Equal(t, "Other Paper snippet", cmp.calls[0].Text)
	assert.Equal(t, []string{"https://iranpaper.ir/directaccess"}, page.Visits())
}

func TestVenueFetch_ClickThroughToPDF(t *testing.T) {
	pdf := &browsertest.Element{}
	page, _ := venuePage(pdf, "Target Title")
	pdf.OnClick = func() { page.SetURL(articleURL + "/pdfft") }

	u, err := testVenue(&stubComparator{want: "Target Title"}).Fetch(context.Background(), &Session{Page: page}, "https://base", acquire.Target{Title: "Target Title"})
	require.NoError(t, err)
	assert.Equal(t, articleURL+"/pdfft", u)
}

func TestVenueFetch_NoMatch(t *testing.T) {
	page, _ := venuePage(nil, "A", "B", "C", "D", "E", "F", "G")
	cmp := &stubComparator{want: "none"}

	_, err := testVenue(cmp).Fetch(context.Background(), &Session{Page: page}, "https://base", acquire.Target{Title: "T"})
	assert.ErrorIs(t, err, ErrNoMatch)
	assert.Len(t, cmp.calls, MaxCandidates)
}

func TestVenueFetch_NoResults(t *testing.T) {
	page := browsertest.NewPage()
	_, err := testVenue(&stubComparator{}).Fetch(context.Background(), &Session{Page: page}, "https://base", acquire.Target{Title: "T"})
	assert.ErrorIs(t, err, browser.ErrNotFound)
}

func TestVenueFetch_404Warmup(t *testing.T) {
	pdf := &browsertest.Element{Attrs: map[string]string{"data-url": articleURL + "/pdf"}}
	page, _ := venuePage(pdf, "Target Title")
	page.Set("", "404 | Page not found", "")
	page.OnNavigate = func(p *browsertest.Page, u string) {
		if u == VenueHome {
			p.Set(u, "ScienceDirect", "<html></html>")
		}
	}

	u, err := testVenue(&stubComparator{want: "Target Title"}).Fetch(context.Background(), &Session{Page: page}, "https://base", acquire.Target{Title: "Target Title"})
	require.NoError(t, err)
	assert.Equal(t, articleURL+"/pdf", u)
	assert.Equal(t, []string{"https://base", VenueHome, "https://base"}, page.Visits())
}

func TestLooks404(t *testing.T) {
	page := browsertest.NewPage()
	page.Set("u", "خطا", "")
	assert.True(t, looks404(page))
	page.Set("u", "Article", "<h1>404</h1> Not Found")
	assert.True(t, looks404(page))
	page.Set("u", "Article", "<p>Figure 404</p>")
	assert.False(t, looks404(page))
}

// stubFinder returns a URL or an error per slot.
type stubFinder struct {
	urls map[int]string
	errs map[int]error
}

func (f *stubFinder) Fetch(_ context.Context, s *Session, _ string, _ acquire.Target) (string, error) {
	if err := f.errs[s.Slot]; err != nil {
		return "", err
	}
	return f.urls[s.Slot], nil
}

type stubJournal struct {
	match ai.Match
	calls int
}

func (j *stubJournal) IsVenueJournal(context.Context, string) (ai.Match, error) {
	j.calls++
	return j.match, nil
}

func testLimiter(t *testing.T, limit int) *ratelimit.Limiter {
	t.Helper()
	st, err := store.Open(types.StoreConfig{Driver: types.DriverSQLite, DSN: filepath.Join(t.TempDir(), "r.db")})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return ratelimit.New(st, limit)
}

func slotsOf(slots ...types.AccountSlot) func(context.Context) ([]types.AccountSlot, error) {
	return func(context.Context) ([]types.AccountSlot, error) { return slots, nil }
}

func usable(n int) types.AccountSlot {
	return types.AccountSlot{Slot: n, Email: "e", Password: "p", Active: true}
}

func TestRetriever_SkipsAndSucceeds(t *testing.T) {
	ctx := context.Background()
	limiter := testLimiter(t, 1)
	require.NoError(t, limiter.Record(ctx, 1))

	sessions := &countingSessions{fail: map[int]error{2: errors.New("tunnel down")}}
	var hints []string
	started := 0
	r := &Retriever{
		Sessions: sessions,
		Venue:    &stubFinder{urls: map[int]string{3: "https://pdf/3", 4: "https://pdf/4"}, errs: map[int]error{}},
		Limiter:  limiter,
		Accounts: slotsOf(usable(1), usable(2), types.AccountSlot{Slot: 5}, usable(3), usable(4)),
		VPNFor:   func(context.Context, int) (string, error) { return "cfg", nil },
		Download: func(_ context.Context, u, hint string) (string, error) {
			hints = append(hints, hint)
			return "/tmp/" + hint + ".pdf", nil
		},
		Started: func(context.Context) { started++ },
	}

	path, err := r.Fetch(ctx, acquire.Target{DOI: "10.1016/j.x", Title: "T", Journal: "J"})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/10.1016_j.x_scidir_slot3.pdf", path)
	assert.Equal(t, []int{2, 3}, sessions.gets, "slot 1 is rate limited and slot 5 inactive")
	assert.Equal(t, 1, started)

	n, err := limiter.Count(ctx, 2)
	require.NoError(t, err)
	assert.Zero(t, n, "failed attempt releases its reservation")
	n, err = limiter.Count(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRetriever_AllFail(t *testing.T) {
	ctx := context.Background()
	findErr := errors.New("no pdf control")
	r := &Retriever{
		Sessions: &countingSessions{},
		Venue:    &stubFinder{errs: map[int]error{1: findErr}},
		Limiter:  testLimiter(t, 6),
		Accounts: slotsOf(usable(1)),
		VPNFor:   func(context.Context, int) (string, error) { return "cfg", nil },
		Download: func(context.Context, string, string) (string, error) { return "", nil },
	}
	_, err := r.Fetch(ctx, acquire.Target{DOI: "d", Title: "T", Journal: "J"})
	assert.ErrorIs(t, err, findErr)

	r.Accounts = slotsOf()
	_, err = r.Fetch(ctx, acquire.Target{DOI: "d", Title: "T", Journal: "J"})
	assert.ErrorIs(t, err, acquire.ErrNoSource)
}

func TestRetriever_JournalCheck(t *testing.T) {
	ctx := context.Background()
	sessions := &countingSessions{}
	journal := &stubJournal{match: ai.Match{OK: true, Confidence: 0.5}}
	r := &Retriever{
		Sessions:             sessions,
		Venue:                &stubFinder{urls: map[int]string{1: "https://pdf"}},
		Limiter:              testLimiter(t, 6),
		Journal:              journal,
		JournalMinConfidence: 0.6,
		Accounts:             slotsOf(usable(1)),
		VPNFor:               func(context.Context, int) (string, error) { return "cfg", nil },
		Download:             func(context.Context, string, string) (string, error) { return "/tmp/x.pdf", nil },
	}
	target := acquire.Target{DOI: "d", Title: "T", Journal: "J"}

	_, err := r.Fetch(ctx, target)
	assert.ErrorIs(t, err, acquire.ErrNoSource)
	assert.Empty(t, sessions.gets)

	r.Force = true
	path, err := r.Fetch(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.pdf", path)

	_, err = r.Fetch(ctx, acquire.Target{DOI: "d", Title: "T"})
	assert.ErrorIs(t, err, acquire.ErrNoSource, "journal is required")
	assert.Equal(t, 2, journal.calls)
}
