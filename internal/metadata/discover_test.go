// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package metadata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dastyar-team/dastyar/internal/httputil"
	"github.com/dastyar-team/dastyar/pkg/types"
)

type fakeLocator struct {
	name  string
	url   string
	calls int
}

func (f *fakeLocator) Name() string { return f.name }

func (f *fakeLocator) Resolve(context.Context, string) (string, error) {
	f.calls++
	return f.url, nil
}

func landingServer(t *testing.T, pages map[string]string) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, ok := pages[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(page))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func newTestDiscoverer(mirrors ...Locator) *Discoverer {
	return NewDiscoverer(httputil.NewClient(2*time.Second, "test", 0), "ops@example.org", mirrors, nil)
}

func resolution(id string) *Resolution {
	return &Resolution{Record: types.MetadataRecord{DOI: id}}
}

func TestDiscover_InlineWins(t *testing.T) {
	mirror := &fakeLocator{name: "scihub_custom1", url: "https://mirror.example/x.pdf"}
	res := resolution("10.1000/a")
	res.InlinePDF = "https://oa.example/a.pdf"
	res.CrossrefPDF = "https://publisher.example/a.pdf"

	u, src := newTestDiscoverer(mirror).Discover(context.Background(), res)
	assert.Equal(t, "https://oa.example/a.pdf", u)
	assert.Equal(t, SourceInline, src)
	assert.Zero(t, mirror.calls)
}

func TestDiscover_LandingMetaTag(t *testing.T) {
	(&registry{}).server(t)
	ts := landingServer(t, map[string]string{
		"/landing": `<html><head><meta name="citation_pdf_url" content="/files/a.pdf?x=1&amp;y=2"></head></html>`,
	})
	res := resolution("10.1000/a")
	res.Landing = ts.URL + "/landing"

	u, src := newTestDiscoverer().Discover(context.Background(), res)
	assert.Equal(t, ts.URL+"/files/a.pdf?x=1&y=2", u)
	assert.Equal(t, SourceLanding, src)
}

func TestDiscover_LandingHijackRejected(t *testing.T) {
	(&registry{}).server(t)
	ts := landingServer(t, map[string]string{
		"/landing": `<html><body><a href="https://evil.example/download.pdf">Get PDF</a></body></html>`,
	})
	res := resolution("10.1000/a")
	res.Landing = ts.URL + "/landing"
	res.CrossrefPDF = "https://publisher.example/a.pdf"

	u, src := newTestDiscoverer().Discover(context.Background(), res)
	assert.Equal(t, "https://publisher.example/a.pdf", u)
	assert.Equal(t, SourceCrossref, src)
}

func TestDiscover_LandingForeignHostMentioningDOI(t *testing.T) {
	(&registry{}).server(t)
	ts := landingServer(t, map[string]string{
		"/landing": `<html><body><a href="https://cdn.example/10.1000_a.pdf">Full text PDF</a></body></html>`,
	})
	res := resolution("10.1000/a")
	res.Landing = ts.URL + "/landing"

	u, src := newTestDiscoverer().Discover(context.Background(), res)
	assert.Equal(t, "https://cdn.example/10.1000_a.pdf", u)
	assert.Equal(t, SourceLanding, src)
}

func TestDiscover_Unpaywall(t *testing.T) {
	reg := &registry{unpaywall: map[string]string{
		"10.1000/a": `{"is_oa": true, "best_oa_location": {"url_for_pdf": "https://oa.example/up.pdf"}}`,
		"10.1000/b": `{"is_oa": false, "best_oa_location": {"url_for_pdf": "https://oa.example/closed.pdf"}}`,
	}}
	reg.server(t)
	d := newTestDiscoverer()

	u, src := d.Discover(context.Background(), resolution("10.1000/a"))
	assert.Equal(t, "https://oa.example/up.pdf", u)
	assert.Equal(t, SourceUnpaywall, src)

	u, src = d.Discover(context.Background(), resolution("10.1000/b"))
	assert.Empty(t, u)
	assert.Empty(t, src)
}

func TestDiscover_MirrorsInOrder(t *testing.T) {
	(&registry{}).server(t)
	empty := &fakeLocator{name: "scihub_custom1"}
	hit := &fakeLocator{name: "scihub_custom2", url: "https://mirror.example/b.pdf"}
	never := &fakeLocator{name: "scihub_se", url: "https://other.example/b.pdf"}

	u, src := newTestDiscoverer(empty, hit, never).Discover(context.Background(), resolution("10.1000/b"))
	assert.Equal(t, "https://mirror.example/b.pdf", u)
	assert.Equal(t, "scihub_custom2", src)
	assert.Equal(t, 1, empty.calls)
	assert.Zero(t, never.calls)
}

func TestPDFLinkFromPage(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{name: "meta", html: `<meta name="citation_pdf_url" content=" https://x.example/a.pdf ">`, want: "https://x.example/a.pdf"},
		{name: "anchor", html: `<a href="/a.html">PDF</a><a href="/b.pdf">Download PDF</a>`, want: "/b.pdf"},
		{name: "anchor without label", html: `<a href="/b.pdf">Download</a>`, want: ""},
		{name: "none", html: `<p>nothing</p>`, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := goquery.NewDocumentFromReader(strings.NewReader(tt.html))
			require.NoError(t, err)
			assert.Equal(t, tt.want, PDFLinkFromPage(page))
		})
	}
}

func TestSameSite(t *testing.T) {
	mustParse := func(s string) *url.URL {
		u, err := url.Parse(s)
		require.NoError(t, err)
		return u
	}
	assert.True(t, sameSite(mustParse("https://journal.example.com/x"), mustParse("https://cdn.journal.example.com/a.pdf")))
	assert.True(t, sameSite(mustParse("https://www.example.co.uk/x"), mustParse("https://files.example.co.uk/a.pdf")))
	assert.False(t, sameSite(mustParse("https://example.com/x"), mustParse("https://evil.com/a.pdf")))
}
