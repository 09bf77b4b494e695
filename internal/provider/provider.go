// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package provider locates PDFs through configured template and search
// providers.
// Implements: the closed provider union (direct template, PDF template,
// search with regex extraction), descriptor parsing, admin mirror lists,
// and year-based assembly of the ordered provider list.
package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/dastyar-team/dastyar/internal/httputil"
	"github.com/dastyar-team/dastyar/pkg/types"
)

// DefaultPDFRegex matches PDF links in iframe sources, anchors, and
// onclick redirects. The first non-empty group is used.
const DefaultPDFRegex = `src=["'](https?://[^"']+?\.pdf)["']|href=["'](https?://[^"']+?\.pdf)["']|onclick=["'][^"']*location\.href=["']([^"']+?\.pdf)[^"']*["']`

// SearchBackoff is multiplied by the attempt number before the single retry
// of a search request. Tests override it.
var SearchBackoff = 5 * time.Second

// searchAttempts is the total number of tries for a search request.
const searchAttempts = 2

// MirrorFamily prefixes the names of providers that admin mirrors replace.
const MirrorFamily = "scihub"

// Provider resolves a DOI to a candidate PDF URL. An empty URL with a nil
// error means the provider has nothing for the DOI.
type Provider interface {
	Name() string
	Resolve(ctx context.Context, doi string) (string, error)
}

// DirectTemplate substitutes the DOI into a URL that is itself the PDF.
type DirectTemplate struct {
	name     string
	template string
}

// PdfTemplate substitutes the DOI into a URL that serves a PDF.
type PdfTemplate struct {
	name     string
	template string
}

// SearchRegex fetches a search page and extracts the PDF link with a regex.
type SearchRegex struct {
	name    string
	query   string
	pattern *regexp.Regexp
	headers map[string]string
	client  *http.Client
}

// New builds the Provider for desc. client is used by search providers;
// nil selects http.DefaultClient.
func New(desc types.ProviderDescriptor, client *http.Client) (Provider, error) {
	switch desc.Kind {
	case types.KindDirectTemplate:
		if desc.Template == "" {
			return nil, fmt.Errorf("provider %s: empty template", desc.Name)
		}
		return &DirectTemplate{name: desc.Name, template: desc.Template}, nil
	case types.KindPdfTemplate:
		if desc.Template == "" {
			return nil, fmt.Errorf("provider %s: empty template", desc.Name)
		}
		return &PdfTemplate{name: desc.Name, template: desc.Template}, nil
	case types.KindSearch:
		if desc.Query == "" {
			return nil, fmt.Errorf("provider %s: empty query", desc.Name)
		}
		expr := desc.PDFRegex
		if expr == "" {
			expr = DefaultPDFRegex
		}
		re, err := regexp.Compile("(?i)" + expr)
		if err != nil {
			return nil, fmt.Errorf("provider %s: compiling pdf_regex: %w", desc.Name, err)
		}
		if client == nil {
			client = http.DefaultClient
		}
		return &SearchRegex{name: desc.Name, query: desc.Query, pattern: re, headers: desc.Headers, client: client}, nil
	default:
		return nil, fmt.Errorf("provider %s: unsupported type %q", desc.Name, desc.Kind)
	}
}

func expand(template, doi string) string {
	return strings.ReplaceAll(template, "{doi}", url.QueryEscape(doi))
}

func (p *DirectTemplate) Name() string { return p.name }

func (p *DirectTemplate) Resolve(_ context.Context, doi string) (string, error) {
	return expand(p.template, doi), nil
}

func (p *PdfTemplate) Name() string { return p.name }

func (p *PdfTemplate) Resolve(_ context.Context, doi string) (string, error) {
	return expand(p.template, doi), nil
}

func (p *SearchRegex) Name() string { return p.name }

// Resolve fetches the search page, retrying once on 403, 429, and 5xx, and
// returns the first PDF link resolved against the request URL.
func (p *SearchRegex) Resolve(ctx context.Context, doi string) (string, error) {
	target := expand(p.query, doi)

	var page string
	for attempt := 1; ; attempt++ {
		body, status, err := p.fetch(ctx, target)
		if err == nil && status == http.StatusOK {
			page = body
			break
		}
		if err == nil {
			err = &httputil.StatusError{URL: target, Status: status}
		}
		if attempt >= searchAttempts || !(status == 0 || status == http.StatusForbidden || httputil.Retryable(status)) {
			return "", err
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Duration(attempt) * SearchBackoff):
		}
	}

	m := p.pattern.FindStringSubmatch(page)
	if m == nil {
		return "", nil
	}
	var candidate string
	for _, g := range m[1:] {
		if g != "" {
			candidate = g
			break
		}
	}
	if candidate == "" {
		return "", nil
	}

	base, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("parsing %s: %w", target, err)
	}
	ref, err := url.Parse(candidate)
	if err != nil {
		return "", fmt.Errorf("parsing candidate %q: %w", candidate, err)
	}
	return base.ResolveReference(ref).String(), nil
}

// maxPage bounds the search page read into memory.
const maxPage = 4 << 20

func (p *SearchRegex) fetch(ctx context.Context, target string) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", 0, fmt.Errorf("creating request: %w", err)
	}
	for k, v := range p.headers {
		req.Header.Set(k, v)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return "", resp.StatusCode, nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPage))
	if err != nil {
		return "", 0, fmt.Errorf("reading %s: %w", target, err)
	}
	return string(body), resp.StatusCode, nil
}

// NewHTTPClient returns the client search providers share. A non-empty
// proxy routes every request through it.
func NewHTTPClient(timeout time.Duration, proxy string) (*http.Client, error) {
	client := &http.Client{Timeout: timeout}
	if proxy == "" {
		return client, nil
	}
	pu, err := url.Parse(proxy)
	if err != nil {
		return nil, fmt.Errorf("parsing proxy %q: %w", proxy, err)
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.Proxy = http.ProxyURL(pu)
	client.Transport = tr
	return client, nil
}
