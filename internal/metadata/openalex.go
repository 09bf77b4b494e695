// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package metadata

import (
	"context"
	"errors"
	"net/url"
	"sort"
	"strings"

	"github.com/dastyar-team/dastyar/internal/httputil"
	"github.com/dastyar-team/dastyar/pkg/types"
)

// OpenAlex API JSON structures.
type openAlexWork struct {
	Title                 string            `json:"title"`
	PublicationYear       int               `json:"publication_year"`
	HostVenue             *openAlexVenue    `json:"host_venue"`
	AbstractInvertedIndex map[string][]int  `json:"abstract_inverted_index"`
	Concepts              []openAlexConcept `json:"concepts"`
	BestOALocation        *openAlexLocation `json:"best_oa_location"`
	OpenAccess            *openAlexAccess   `json:"open_access"`
}

type openAlexVenue struct {
	DisplayName string `json:"display_name"`
}

type openAlexConcept struct {
	DisplayName string             `json:"display_name"`
	Score       float64            `json:"score"`
	Level       int                `json:"level"`
	Ancestors   []openAlexAncestor `json:"ancestors"`
}

type openAlexAncestor struct {
	DisplayName string `json:"display_name"`
	Level       int    `json:"level"`
}

type openAlexLocation struct {
	URLForPDF         string `json:"url_for_pdf"`
	PDFURL            string `json:"pdf_url"`
	URL               string `json:"url"`
	LandingPageURL    string `json:"landing_page_url"`
	URLForLandingPage string `json:"url_for_landing_page"`
}

type openAlexAccess struct {
	OAURL string `json:"oa_url"`
}

type openAlexList struct {
	Results []openAlexWork `json:"results"`
}

type openAlexResult struct {
	registryWork
	Concepts  []types.Concept
	InlinePDF string
	Landing   string
}

// fetchOpenAlex retrieves the work by DOI, falling back to a filter query
// when the direct lookup fails.
func (r *Resolver) fetchOpenAlex(ctx context.Context, doi string) (*openAlexResult, error) {
	var w openAlexWork
	err := r.HTTP.GetJSON(ctx, openAlexBase+"/doi:"+doi+r.mailtoQuery("?"), &w)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var list openAlexList
		fbErr := r.HTTP.GetJSON(ctx, openAlexBase+"?filter=doi:"+url.QueryEscape(doi)+r.mailtoQuery("&"), &list)
		switch {
		case fbErr != nil && errors.Is(err, httputil.ErrNotFound):
			return nil, fbErr
		case fbErr != nil:
			return nil, err
		case len(list.Results) == 0:
			return nil, httputil.ErrNotFound
		}
		w = list.Results[0]
		r.logger().Info("openalex_fallback_ok", "doi", doi, "concepts", len(w.Concepts))
	}
	return convertOpenAlex(w), nil
}

func convertOpenAlex(w openAlexWork) *openAlexResult {
	res := &openAlexResult{}
	res.Title = strings.TrimSpace(w.Title)
	res.Year = w.PublicationYear
	if w.HostVenue != nil {
		res.Journal = w.HostVenue.DisplayName
	}
	res.Abstract = ReconstructAbstract(w.AbstractInvertedIndex)

	for _, c := range w.Concepts {
		concept := types.Concept{Name: c.DisplayName, Score: c.Score, Level: c.Level}
		for _, a := range c.Ancestors {
			concept.Ancestors = append(concept.Ancestors, a.DisplayName)
		}
		res.Concepts = append(res.Concepts, concept)
	}

	res.InlinePDF = inlinePDF(w)
	res.Landing = landingURL(w)
	return res
}

// ReconstructAbstract rebuilds plain text from an inverted index by sorting
// word positions ascending and joining the words with spaces.
func ReconstructAbstract(invertedIndex map[string][]int) string {
	if len(invertedIndex) == 0 {
		return ""
	}

	type posWord struct {
		pos  int
		word string
	}
	var pairs []posWord
	for word, positions := range invertedIndex {
		for _, pos := range positions {
			pairs = append(pairs, posWord{pos: pos, word: word})
		}
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].pos != pairs[j].pos {
			return pairs[i].pos < pairs[j].pos
		}
		return pairs[i].word < pairs[j].word
	})

	words := make([]string, len(pairs))
	for i, p := range pairs {
		words[i] = p.word
	}
	return strings.Join(words, " ")
}

func looksPDF(u string) bool {
	return strings.HasSuffix(strings.ToLower(u), ".pdf")
}

// inlinePDF picks the best-OA PDF: an explicit PDF field, else a location
// or open-access URL that ends in ".pdf".
func inlinePDF(w openAlexWork) string {
	if loc := w.BestOALocation; loc != nil {
		if loc.URLForPDF != "" {
			return loc.URLForPDF
		}
		if loc.PDFURL != "" {
			return loc.PDFURL
		}
		if looksPDF(loc.URL) {
			return loc.URL
		}
	}
	if w.OpenAccess != nil && looksPDF(w.OpenAccess.OAURL) {
		return w.OpenAccess.OAURL
	}
	return ""
}

func landingURL(w openAlexWork) string {
	if loc := w.BestOALocation; loc != nil {
		for _, u := range []string{loc.LandingPageURL, loc.URLForLandingPage, loc.URL} {
			if u != "" {
				return u
			}
		}
	}
	if w.OpenAccess != nil {
		return w.OpenAccess.OAURL
	}
	return ""
}
