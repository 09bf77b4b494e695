// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package metadata resolves bibliographic metadata by DOI and discovers
// open-access PDF candidates.
// Implements: concurrent Crossref and OpenAlex lookup, field merge with
// Crossref precedence, abstract reconstruction, category decision, and the
// OA discovery chain (inline, landing scrape, Unpaywall, Crossref link,
// mirror providers).
package metadata

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dastyar-team/dastyar/internal/classify"
	"github.com/dastyar-team/dastyar/internal/httputil"
	"github.com/dastyar-team/dastyar/internal/logging"
	"github.com/dastyar-team/dastyar/pkg/types"
)

// ErrNotFound is returned when neither registry knows the DOI.
var ErrNotFound = errors.New("metadata not found")

// Resolution is the merged view of one DOI.
type Resolution struct {
	Record   types.MetadataRecord
	Concepts []types.Concept

	// InlinePDF and Landing come from the OpenAlex best-OA location.
	InlinePDF string
	Landing   string

	// CrossrefPDF is the first application/pdf link Crossref lists.
	CrossrefPDF string
}

// Resolver fetches metadata from both registries.
type Resolver struct {
	HTTP       *httputil.Client
	Classifier *classify.Classifier
	Contact    string
	Logger     *log.Logger

	now func() time.Time
}

// NewResolver returns a Resolver. classifier may be nil, in which case every
// record is categorised as unknown.
func NewResolver(client *httputil.Client, classifier *classify.Classifier, contact string, logger *log.Logger) *Resolver {
	return &Resolver{
		HTTP:       client,
		Classifier: classifier,
		Contact:    contact,
		Logger:     logging.Component(logger, "metadata"),
		now:        time.Now,
	}
}

func (r *Resolver) logger() *log.Logger {
	return logging.OrDiscard(r.Logger)
}

// mailtoQuery returns "<sep>mailto=<contact>" for a valid contact address.
func (r *Resolver) mailtoQuery(sep string) string {
	if !validContact(r.Contact) {
		return ""
	}
	return sep + "mailto=" + url.QueryEscape(r.Contact)
}

func validContact(contact string) bool {
	if !strings.Contains(contact, "@") {
		return false
	}
	_, err := mail.ParseAddress(contact)
	return err == nil
}

// Resolve queries Crossref and OpenAlex concurrently and merges the
// results. A DOI neither registry knows yields a not_found record and a nil
// error; an error is returned only when both registries fail for reasons
// other than not found.
func (r *Resolver) Resolve(ctx context.Context, doi string) (*Resolution, error) {
	var (
		wg    sync.WaitGroup
		cr    *crossrefResult
		oa    *openAlexResult
		crErr error
		oaErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		cr, crErr = r.fetchCrossref(ctx, doi)
	}()
	go func() {
		defer wg.Done()
		oa, oaErr = r.fetchOpenAlex(ctx, doi)
	}()
	wg.Wait()

	if crErr != nil && !errors.Is(crErr, httputil.ErrNotFound) {
		r.logger().Warn("crossref_failed", "doi", doi, "err", crErr)
	}
	if oaErr != nil && !errors.Is(oaErr, httputil.ErrNotFound) {
		r.logger().Warn("openalex_failed", "doi", doi, "err", oaErr)
	}
	if hardFailure(crErr) && hardFailure(oaErr) {
		return nil, fmt.Errorf("resolving %s: crossref: %v; openalex: %w", doi, crErr, oaErr)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := merge(doi, cr, oa)
	if r.Classifier != nil {
		res.Record.Category, res.Record.CategorySource = r.Classifier.Decide(ctx, doi, res.Record.Title, res.Concepts)
	}
	res.Record.UpdatedAt = r.clock()

	if res.Record.Title != "" || res.Record.Year != 0 {
		res.Record.Status = types.StatusOK
	} else {
		res.Record.Status = types.StatusNotFound
	}
	r.logger().Info("metadata_resolved", "doi", doi, "status", res.Record.Status,
		"year", res.Record.Year, "category", res.Record.Category)
	return res, nil
}

func (r *Resolver) clock() time.Time {
	if r.now == nil {
		return time.Now()
	}
	return r.now()
}

func hardFailure(err error) bool {
	return err != nil && !errors.Is(err, httputil.ErrNotFound)
}

// merge prefers Crossref for every shared field and takes concepts and OA
// locations from OpenAlex.
func merge(doi string, cr *crossrefResult, oa *openAlexResult) *Resolution {
	res := &Resolution{
		Record: types.MetadataRecord{
			DOI:            doi,
			Category:       types.CategoryUnknown,
			CategorySource: "none",
		},
	}
	var primary, secondary registryWork
	if cr != nil {
		primary = cr.registryWork
		res.CrossrefPDF = cr.PDFLink
	}
	if oa != nil {
		secondary = oa.registryWork
		res.Concepts = oa.Concepts
		res.InlinePDF = oa.InlinePDF
		res.Landing = oa.Landing
	}

	res.Record.Title = pick(primary.Title, secondary.Title)
	res.Record.Journal = pick(primary.Journal, secondary.Journal)
	res.Record.Abstract = pick(primary.Abstract, secondary.Abstract)
	res.Record.Year = primary.Year
	if res.Record.Year == 0 {
		res.Record.Year = secondary.Year
	}
	return res
}

func pick(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
