// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package batch orchestrates a DOI batch from metadata to delivery.
// Implements: the parallel metadata phase, the sequential retrieval phase
// across open-access, provider, paid-venue and archive sources, entry
// labelling, packaging, and delivery.
package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/dastyar-team/dastyar/internal/acquire"
	"github.com/dastyar-team/dastyar/internal/delivery"
	"github.com/dastyar-team/dastyar/internal/doi"
	"github.com/dastyar-team/dastyar/internal/logging"
	"github.com/dastyar-team/dastyar/internal/metadata"
	"github.com/dastyar-team/dastyar/internal/report"
	"github.com/dastyar-team/dastyar/internal/worker"
	"github.com/dastyar-team/dastyar/pkg/types"
)

// maxErrorRunes caps persisted error messages.
const maxErrorRunes = 300

// Resolver fetches metadata for one DOI.
type Resolver interface {
	Resolve(ctx context.Context, doi string) (*metadata.Resolution, error)
}

// Discoverer finds an open-access PDF URL for a resolution.
type Discoverer interface {
	Discover(ctx context.Context, res *metadata.Resolution) (string, string)
}

// Records persists metadata records.
type Records interface {
	UpsertRecord(ctx context.Context, userID int64, rec types.MetadataRecord) error
}

// Linker issues download links for packaged archives.
type Linker interface {
	Issue(ctx context.Context, userID int64, path, filename string) (types.DownloadLink, error)
	Revoke(ctx context.Context, token string) error
}

// Deps wires an Orchestrator. Resolver, Records, Notifier and OpenAccess
// are required; the rest are optional.
type Deps struct {
	Resolver Resolver

	// Discover runs for full batches, DiscoverOA for open-access-only
	// batches. DiscoverOA defaults to Discover.
	Discover   Discoverer
	DiscoverOA Discoverer

	Records  Records
	Notifier delivery.Notifier

	// OpenAccess downloads the discovered URL.
	OpenAccess acquire.Source

	// Providers, Paid and Archive follow OpenAccess in full batches. Paid
	// runs only for years from MinYear on.
	Providers acquire.Source
	Paid      acquire.Source
	Archive   acquire.Source
	MinYear   int

	// Blocking runs browser-driven sources. Nil runs them inline.
	Blocking *worker.Pool

	// Activated reports whether retrieval is switched on. Nil means on.
	Activated func(ctx context.Context) (bool, error)

	Links   Linker
	LinkBot string
	LinkDir string

	// KeepArchive leaves the archive on disk after inline delivery.
	KeepArchive bool

	MaxParallel int
	Logger      *log.Logger
}

// Orchestrator runs DOI batches.
type Orchestrator struct {
	deps   Deps
	now    func() time.Time
	logger *log.Logger
}

// New returns an Orchestrator for deps.
func New(deps Deps) *Orchestrator {
	if deps.DiscoverOA == nil {
		deps.DiscoverOA = deps.Discover
	}
	if deps.MaxParallel < 1 {
		deps.MaxParallel = 4
	}
	if deps.LinkDir == "" {
		deps.LinkDir = "downloads"
	}
	return &Orchestrator{
		deps:   deps,
		now:    time.Now,
		logger: logging.Component(deps.Logger, "batch"),
	}
}

// Request is one batch submitted by a user.
type Request struct {
	UserID int64
	ChatID int64
	DOIs   []string
	OAOnly bool
}

// Result is the outcome of a batch.
type Result struct {
	ID      string
	Records []types.MetadataRecord
	Entries []types.ReportEntry
	Summary Summary

	// Archive is the packaged file, empty when nothing was retrieved.
	Archive string

	// Link is the deep link sent instead of the archive, if any.
	Link string
}

// resolved is the phase 1 outcome for one DOI.
type resolved struct {
	record types.MetadataRecord
	target acquire.Target
}

// ResolveAndDownload runs a batch to completion: metadata for every DOI in
// parallel, a summary message, sequential retrieval, and delivery of the
// packaged archive. Failures of a single DOI are recorded in its entry and
// never abort the batch.
func (o *Orchestrator) ResolveAndDownload(ctx context.Context, userID, chatID int64, dois []string, oaOnly bool) (*Result, error) {
	return o.run(ctx, uuid.NewString(), Request{UserID: userID, ChatID: chatID, DOIs: dois, OAOnly: oaOnly})
}

// Launch runs the batch in the background and reports its end to done,
// which may be nil. The batch outlives ctx cancellation of the caller's
// request scope but keeps its values.
func (o *Orchestrator) Launch(ctx context.Context, req Request, done func(*Result, error)) string {
	id := uuid.NewString()
	bctx := context.WithoutCancel(ctx)
	go func() {
		res, err := o.run(bctx, id, req)
		if err != nil {
			o.logger.Error("batch_failed", "batch", id, "err", err)
		}
		if done != nil {
			done(res, err)
		}
	}()
	return id
}

func (o *Orchestrator) run(ctx context.Context, id string, req Request) (*Result, error) {
	logger := o.logger.With("batch", id, "user", req.UserID)
	logger.Info("batch_started", "dois", len(req.DOIs), "oa_only", req.OAOnly)

	items := o.resolveAll(ctx, req, logger)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{ID: id}
	for _, it := range items {
		res.Records = append(res.Records, it.record)
	}
	res.Summary = Summarize(res.Records)
	o.notify(ctx, logger, func() error { return o.deps.Notifier.SendText(ctx, req.ChatID, res.Summary.Text()) })

	active := true
	if o.deps.Activated != nil {
		on, err := o.deps.Activated(ctx)
		if err != nil {
			logger.Warn("activation_read_failed", "err", err)
		}
		active = on
	}

	for _, it := range items {
		if err := ctx.Err(); err != nil {
			cleanup(res.Entries, logger)
			return res, err
		}
		res.Entries = append(res.Entries, o.retrieve(ctx, it, req.OAOnly, active, logger))
	}
	defer cleanup(res.Entries, logger)

	err := o.deliver(ctx, req, res, logger)
	logger.Info("batch_finished", "total", res.Summary.Total, "ok", res.Summary.OK,
		"not_found", res.Summary.NotFound, "error", res.Summary.Errors, "archive", res.Archive)
	return res, err
}

// resolveAll runs phase 1 with at most MaxParallel DOIs in flight. Results
// keep input order.
func (o *Orchestrator) resolveAll(ctx context.Context, req Request, logger *log.Logger) []resolved {
	items := make([]resolved, len(req.DOIs))
	pool := worker.NewPool(o.deps.MaxParallel)
	var mu sync.Mutex
	for i, raw := range req.DOIs {
		if err := pool.Go(ctx, func(ctx context.Context) {
			it := o.resolveOne(ctx, req.UserID, raw, req.OAOnly, logger)
			mu.Lock()
			items[i] = it
			mu.Unlock()
		}); err != nil {
			break
		}
	}
	pool.Wait()
	return items
}

// resolveOne resolves, classifies and discovers one DOI, and upserts the
// record. A panic is recorded as an error status.
func (o *Orchestrator) resolveOne(ctx context.Context, userID int64, raw string, oaOnly bool, logger *log.Logger) (out resolved) {
	id := doi.Normalize(raw)
	out.record = types.MetadataRecord{DOI: id, Category: types.CategoryUnknown, CategorySource: "none"}
	out.target = acquire.Target{DOI: id}

	defer func() {
		if r := recover(); r != nil {
			out = failed(id, fmt.Errorf("panic: %v", r), o.now())
		}
		if err := o.deps.Records.UpsertRecord(ctx, userID, out.record); err != nil {
			logger.Warn("record_upsert_failed", "doi", id, "err", err)
		}
	}()

	res, err := o.deps.Resolver.Resolve(ctx, id)
	if err != nil {
		logger.Warn("doi_failed", "doi", id, "err", err)
		return failed(id, err, o.now())
	}
	out.record = res.Record
	out.target = acquire.Target{
		DOI:      id,
		Title:    res.Record.Title,
		Abstract: res.Record.Abstract,
		Journal:  res.Record.Journal,
		Year:     res.Record.Year,
	}

	disc := o.deps.Discover
	if oaOnly {
		disc = o.deps.DiscoverOA
	}
	if disc != nil && res.Record.Status == types.StatusOK {
		out.target.OAURL, _ = disc.Discover(ctx, res)
	}
	return out
}

func failed(id string, err error, at time.Time) resolved {
	return resolved{
		record: types.MetadataRecord{
			DOI:            id,
			Category:       types.CategoryUnknown,
			CategorySource: "none",
			Status:         types.StatusError,
			Error:          truncate(err.Error(), maxErrorRunes),
			UpdatedAt:      at,
		},
		target: acquire.Target{DOI: id},
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// retrieve runs phase 2 for one record and labels the entry.
func (o *Orchestrator) retrieve(ctx context.Context, it resolved, oaOnly, active bool, logger *log.Logger) types.ReportEntry {
	rec := it.record
	e := types.ReportEntry{
		DOI:    rec.DOI,
		Title:  rec.Title,
		Year:   rec.Year,
		Cost:   types.CostUnknown,
		Status: types.LabelNotDownloaded,
	}
	if e.Title == "" {
		e.Title = rec.DOI
	}
	if oaOnly {
		e.Cost = types.CostFreeOA
	}

	switch {
	case rec.Status != types.StatusOK:
		e.Status = types.LabelIncompleteMeta
		return e
	case !active:
		e.Status = types.LabelDisabled
		return e
	case oaOnly && it.target.OAURL == "":
		e.Status = types.LabelOpenAccessMissing
		return e
	}

	chain := acquire.Chain{Sources: o.sources(it.target, oaOnly), Logger: logger}
	out, _, err := chain.Run(ctx, it.target)
	if err != nil {
		if it.target.OAURL != "" {
			e.Status = types.LabelFailed
			if !oaOnly {
				e.Cost = types.CostFree
			}
		}
		if !errors.Is(err, acquire.ErrNoSource) {
			logger.Warn("retrieval_failed", "doi", rec.DOI, "err", err)
		}
		return e
	}

	e.FilePath = out.Path
	e.Filename = filepath.Base(out.Path)
	e.Source = out.Source
	e.Status = types.LabelDownloaded
	if !oaOnly {
		e.Cost = out.Cost
	}
	return e
}

// sources lists the chain for a target. Browser-driven sources run on the
// blocking pool.
func (o *Orchestrator) sources(t acquire.Target, oaOnly bool) []acquire.Source {
	var out []acquire.Source
	if o.deps.OpenAccess != nil {
		out = append(out, o.deps.OpenAccess)
	}
	if oaOnly {
		return out
	}
	if o.deps.Providers != nil {
		out = append(out, o.deps.Providers)
	}
	if o.deps.Paid != nil && t.Year >= o.deps.MinYear {
		out = append(out, o.blocking(o.deps.Paid))
	}
	if o.deps.Archive != nil {
		out = append(out, o.blocking(o.deps.Archive))
	}
	return out
}

func (o *Orchestrator) blocking(s acquire.Source) acquire.Source {
	if o.deps.Blocking == nil {
		return s
	}
	return acquire.StepFunc{
		Label:  s.Name(),
		Charge: s.Cost(),
		FetchFn: func(ctx context.Context, t acquire.Target) (string, error) {
			var path string
			err := o.deps.Blocking.Do(ctx, func(ctx context.Context) error {
				var err error
				path, err = s.Fetch(ctx, t)
				return err
			})
			return path, err
		},
	}
}

// deliver packages the entries and sends the archive, as a deep link when
// a link bot is configured and inline otherwise.
func (o *Orchestrator) deliver(ctx context.Context, req Request, res *Result, logger *log.Logger) error {
	retrieved := false
	for _, e := range res.Entries {
		if e.Downloaded() {
			retrieved = true
			break
		}
	}
	if !retrieved {
		return nil
	}

	name := report.ArchiveName(o.now(), req.OAOnly)
	path := filepath.Join(o.deps.LinkDir, name)
	if err := report.Build(res.Entries, path); err != nil {
		o.notify(ctx, logger, func() error {
			return o.deps.Notifier.SendText(ctx, req.ChatID, "Could not build the download package.")
		})
		return fmt.Errorf("building archive: %w", err)
	}
	res.Archive = path

	if o.deps.LinkBot != "" && o.deps.Links != nil {
		if link, ok := o.sendLink(ctx, req, path, name, logger); ok {
			res.Link = link
			return nil
		}
	}

	o.notify(ctx, logger, func() error {
		return o.deps.Notifier.SendChatAction(ctx, req.ChatID, delivery.ActionUploadDocument)
	})
	err := o.deps.Notifier.SendDocument(ctx, req.ChatID, path, "Downloaded files and summary")
	if err != nil {
		logger.Warn("archive_send_failed", "path", path, "err", err)
	}
	if !o.deps.KeepArchive {
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			logger.Warn("archive_remove_failed", "path", path, "err", rmErr)
		}
	}
	return nil
}

// sendLink issues a token and sends its deep link. A failed send revokes
// the token.
func (o *Orchestrator) sendLink(ctx context.Context, req Request, path, name string, logger *log.Logger) (string, bool) {
	link, err := o.deps.Links.Issue(ctx, req.UserID, path, name)
	if err != nil {
		logger.Warn("link_issue_failed", "err", err)
		return "", false
	}
	deep := report.DeepLink(o.deps.LinkBot, link.Token)
	if deep != "" {
		err = o.deps.Notifier.SendText(ctx, req.ChatID, "Download link (start the download bot):\n"+deep)
		if err == nil {
			return deep, true
		}
		logger.Warn("link_send_failed", "err", err)
	}
	if err := o.deps.Links.Revoke(ctx, link.Token); err != nil {
		logger.Warn("link_revoke_failed", "err", err)
	}
	return "", false
}

func (o *Orchestrator) notify(ctx context.Context, logger *log.Logger, send func() error) {
	if ctx.Err() != nil {
		return
	}
	if err := send(); err != nil {
		logger.Warn("notify_failed", "err", err)
	}
}

// cleanup removes retrieved files once packaged.
func cleanup(entries []types.ReportEntry, logger *log.Logger) {
	for _, e := range entries {
		if e.FilePath == "" {
			continue
		}
		if err := os.Remove(e.FilePath); err != nil && !os.IsNotExist(err) {
			logger.Warn("tmp_remove_failed", "path", e.FilePath, "err", err)
		}
	}
}
