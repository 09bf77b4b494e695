// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package session

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dastyar-team/dastyar/internal/acquire"
	"github.com/dastyar-team/dastyar/internal/browser"
	"github.com/dastyar-team/dastyar/internal/browser/browsertest"
)

// archiveBrowser serves a frame for DOIs containing "ok" and the
// no-result banner otherwise.
func archiveBrowser() *browsertest.Browser {
	page := browsertest.NewPage()
	page.OnNavigate = func(p *browsertest.Page, u string) {
		p.Clear()
		switch {
		case strings.HasSuffix(u, "/"):
		case strings.Contains(u, "ok"):
			p.Add(frameSelector, &browsertest.Element{Attrs: map[string]string{"src": "//cdn.example/dl/10.1%2Fok.pdf#view=FitH"}})
		case strings.Contains(u, "slow"):
		default:
			p.Add("body", &browsertest.Element{Label: "Unfortunately, Sci-Hub doesn't have the requested document. Please try to search again"})
		}
	}
	return browsertest.NewBrowser(page)
}

func testArchive(launcher browser.Launcher) *Archive {
	a := NewArchive("https://www.sci-hub.ee", launcher, true, nil, nil, nil)
	a.Timeouts = fast
	return a
}

func TestArchiveLocate(t *testing.T) {
	var built []*browsertest.Browser
	launcher := &browsertest.Launcher{Build: func(browser.Options) (*browsertest.Browser, error) {
		b := archiveBrowser()
		built = append(built, b)
		return b, nil
	}}
	a := testArchive(launcher)
	ctx := context.Background()

	u, err := a.Locate(ctx, "10.1/ok")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/dl/10.1/ok.pdf#view=FitH", u)
	visits := built[0].Page().(*browsertest.Page).Visits()
	assert.Equal(t, []string{"https://www.sci-hub.ee/", "https://www.sci-hub.ee/10.1%2Fok"}, visits)

	_, err = a.Locate(ctx, "10.1/missing")
	assert.ErrorIs(t, err, ErrNoResults)

	_, err = a.Locate(ctx, "10.1/slow")
	assert.ErrorIs(t, err, browser.ErrNotFound)
	assert.Len(t, launcher.Launches(), 1, "the archive browser is reused")

	built[0].Kill()
	_, err = a.Locate(ctx, "10.1/ok")
	require.NoError(t, err)
	assert.Len(t, launcher.Launches(), 2)

	require.NoError(t, a.Close())
	assert.True(t, built[1].Closed())
}

func TestArchiveFetch(t *testing.T) {
	launcher := &browsertest.Launcher{Build: func(browser.Options) (*browsertest.Browser, error) { return archiveBrowser(), nil }}
	a := testArchive(launcher)
	var gotURL, gotHint string
	a.Download = func(_ context.Context, u, hint string) (string, error) {
		gotURL, gotHint = u, hint
		return "/tmp/f.pdf", nil
	}

	path, err := a.Fetch(context.Background(), acquire.Target{DOI: "10.1/ok"})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/f.pdf", path)
	assert.Equal(t, "10.1_ok_scihub", gotHint)
	assert.True(t, strings.HasPrefix(gotURL, "https://cdn.example/"))
}
