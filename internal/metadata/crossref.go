// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package metadata

import (
	"context"
	"net/url"
	"regexp"
	"strings"
)

// Base URLs for the registries. Declared as vars so tests can substitute
// httptest servers.
var (
	crossrefBase  = "https://api.crossref.org/works/"
	openAlexBase  = "https://api.openalex.org/works"
	unpaywallBase = "https://api.unpaywall.org/v2/"
)

// CrossRef API JSON structures.
type crossrefResponse struct {
	Message crossrefWork `json:"message"`
}

type crossrefWork struct {
	Title               []string       `json:"title"`
	ContainerTitle      []string       `json:"container-title"`
	ShortContainerTitle []string       `json:"short-container-title"`
	Abstract            string         `json:"abstract"`
	PublishedPrint      *crossrefDate  `json:"published-print"`
	PublishedOnline     *crossrefDate  `json:"published-online"`
	Issued              *crossrefDate  `json:"issued"`
	Link                []crossrefLink `json:"link"`
}

type crossrefDate struct {
	DateParts [][]int `json:"date-parts"`
}

type crossrefLink struct {
	URL         string `json:"URL"`
	ContentType string `json:"content-type"`
}

// registryWork is the normalized subset both registries return.
type registryWork struct {
	Title    string
	Year     int
	Journal  string
	Abstract string
}

type crossrefResult struct {
	registryWork
	PDFLink string
}

var htmlTag = regexp.MustCompile(`<[^>]+>`)

// fetchCrossref retrieves title, year, journal, abstract, and the first
// attached PDF link from Crossref.
func (r *Resolver) fetchCrossref(ctx context.Context, doi string) (*crossrefResult, error) {
	u := crossrefBase + url.QueryEscape(doi) + r.mailtoQuery("?")

	var cr crossrefResponse
	if err := r.HTTP.GetJSON(ctx, u, &cr); err != nil {
		return nil, err
	}
	m := cr.Message

	res := &crossrefResult{}
	res.Title = strings.TrimSpace(first(m.Title))
	res.Journal = first(m.ContainerTitle)
	if res.Journal == "" {
		res.Journal = first(m.ShortContainerTitle)
	}
	res.Abstract = strings.TrimSpace(htmlTag.ReplaceAllString(m.Abstract, ""))

	for _, d := range []*crossrefDate{m.PublishedPrint, m.PublishedOnline, m.Issued} {
		if y := d.year(); y != 0 {
			res.Year = y
			break
		}
	}

	for _, l := range m.Link {
		if strings.EqualFold(l.ContentType, "application/pdf") && l.URL != "" {
			res.PDFLink = l.URL
			break
		}
	}
	return res, nil
}

// year returns the first date part when it is a plausible year.
func (d *crossrefDate) year() int {
	if d == nil || len(d.DateParts) == 0 || len(d.DateParts[0]) == 0 {
		return 0
	}
	y := d.DateParts[0][0]
	if y < 1800 || y > 9999 {
		return 0
	}
	return y
}

func first(values []string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
