// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dastyar-team/dastyar/internal/accounts"
	"github.com/dastyar-team/dastyar/internal/acquire"
	"github.com/dastyar-team/dastyar/internal/ai"
	"github.com/dastyar-team/dastyar/internal/batch"
	"github.com/dastyar-team/dastyar/internal/browser"
	"github.com/dastyar-team/dastyar/internal/captcha"
	"github.com/dastyar-team/dastyar/internal/classify"
	"github.com/dastyar-team/dastyar/internal/delivery"
	"github.com/dastyar-team/dastyar/internal/httputil"
	"github.com/dastyar-team/dastyar/internal/logging"
	"github.com/dastyar-team/dastyar/internal/metadata"
	"github.com/dastyar-team/dastyar/internal/provider"
	"github.com/dastyar-team/dastyar/internal/ratelimit"
	"github.com/dastyar-team/dastyar/internal/report"
	"github.com/dastyar-team/dastyar/internal/session"
	"github.com/dastyar-team/dastyar/internal/store"
	"github.com/dastyar-team/dastyar/internal/tunnel"
	"github.com/dastyar-team/dastyar/internal/worker"
	"github.com/dastyar-team/dastyar/pkg/types"
)

// settingsTimeout bounds settings reads made outside a request context.
const settingsTimeout = 5 * time.Second

// app holds the components a command needs. Close releases browsers,
// tunnel processes and the store.
type app struct {
	cfg      types.Config
	store    *store.Store
	ai       *ai.Client
	resolver *metadata.Resolver
	tunnels  *tunnel.Manager
	sessions *session.Manager
	archive  *session.Archive
	links    *report.Links
	logger   *log.Logger
}

func openApp(cfg types.Config, logger *log.Logger) (*app, error) {
	st, err := store.Open(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	ua := httputil.UserAgent(cfg.HTTP.Contact)
	aiClient := ai.NewClient(cfg.AI, logger)

	var labeler classify.Labeler
	if aiClient.Enabled() {
		labeler = aiClient
	}
	classifier := classify.New(labeler, cfg.Resolver, logger)
	client := httputil.NewClient(cfg.HTTP.Timeout, ua, cfg.HTTP.RequestsPerSecond)

	return &app{
		cfg:      cfg,
		store:    st,
		ai:       aiClient,
		resolver: metadata.NewResolver(client, classifier, cfg.HTTP.Contact, logger),
		tunnels:  tunnel.NewManager(cfg.Tunnel, logger),
		links:    report.NewLinks(st, cfg.Delivery.LinkTTL, logger),
		logger:   logger,
	}, nil
}

func (a *app) Close() {
	if a.archive != nil {
		a.archive.Close()
	}
	if a.sessions != nil {
		a.sessions.Close()
	}
	a.tunnels.Close()
	a.store.Close()
}

// providerLists parses the configured static lists, falling back to the
// built-in list for an empty setting.
func (a *app) providerLists() (pre, post []types.ProviderDescriptor, err error) {
	parse := func(raw string) ([]types.ProviderDescriptor, error) {
		if raw == "" {
			raw = provider.DefaultList
		}
		return provider.Parse(raw, a.logger)
	}
	if pre, err = parse(a.cfg.Providers.PreCutoff); err != nil {
		return nil, nil, err
	}
	if post, err = parse(a.cfg.Providers.PostCutoff); err != nil {
		return nil, nil, err
	}
	return pre, post, nil
}

// mirrors reads the admin mirror setting.
func (a *app) mirrors() []types.ProviderDescriptor {
	ctx, cancel := context.WithTimeout(context.Background(), settingsTimeout)
	defer cancel()
	raw, err := a.store.GetDefault(ctx, provider.MirrorsKey, "")
	if err != nil {
		a.logger.Warn("mirrors_read_failed", "err", err)
	}
	return provider.Mirrors(raw)
}

// sessionManager builds the browser side lazily: only full batches and
// warmups need it.
func (a *app) sessionManager() *session.Manager {
	if a.sessions == nil {
		a.sessions = session.NewManager(a.cfg.Venue, browser.RodLauncher{}, a.tunnels, a.logger)
	}
	return a.sessions
}

func (a *app) accountsFunc() func(ctx context.Context) ([]types.AccountSlot, error) {
	return func(ctx context.Context) ([]types.AccountSlot, error) {
		return accounts.Load(ctx, a.store, lookup)
	}
}

func (a *app) vpnFunc() func(ctx context.Context, slot int) (string, error) {
	return func(ctx context.Context, slot int) (string, error) {
		return accounts.VPNFor(ctx, a.store, slot)
	}
}

// notifier returns the Telegram adapter when a bot token is configured and
// a writer on w otherwise.
func (a *app) notifier(w io.Writer) delivery.Notifier {
	if a.cfg.Delivery.TelegramToken != "" {
		return delivery.NewTelegram(a.cfg.Delivery.TelegramToken, a.logger)
	}
	return delivery.NewWriter(w)
}

// orchestrator wires the full pipeline.
func (a *app) orchestrator(out io.Writer, force bool) (*batch.Orchestrator, error) {
	cfg := a.cfg
	pre, post, err := a.providerLists()
	if err != nil {
		return nil, err
	}
	searchHTTP, err := provider.NewHTTPClient(cfg.HTTP.Timeout, cfg.Providers.HTTPProxy)
	if err != nil {
		return nil, err
	}

	ua := httputil.UserAgent(cfg.HTTP.Contact)
	client := httputil.NewClient(cfg.HTTP.Timeout, ua, cfg.HTTP.RequestsPerSecond)
	dl := acquire.NewDownloader(cfg.Download, cfg.HTTP.Timeout*4, ua, a.logger)

	assemble := func(year int) []provider.Provider {
		descs := provider.Assemble(year, cfg.Providers.CutoffYear, pre, post, a.mirrors())
		return provider.Build(descs, searchHTTP, a.logger)
	}
	var family []metadata.Locator
	for _, p := range provider.Build(provider.Family(provider.Assemble(0, cfg.Providers.CutoffYear, pre, post, a.mirrors())), searchHTTP, a.logger) {
		family = append(family, p)
	}

	solver := captcha.NewClient(cfg.Captcha, a.logger)
	sessions := a.sessionManager()
	limiter := ratelimit.New(a.store, cfg.Venue.LimitPerHour)
	venue := session.NewVenue(cfg.Venue, a.ai, solver, a.logger)

	retriever := &session.Retriever{
		Sessions:             sessions,
		Venue:                venue,
		Limiter:              limiter,
		JournalMinConfidence: cfg.Venue.JournalMinConfidence,
		Force:                force,
		Accounts:             a.accountsFunc(),
		VPNFor:               a.vpnFunc(),
		Download:             dl.Download,
		Logger:               logging.Component(a.logger, "venue"),
	}
	if a.ai.Enabled() {
		retriever.Journal = a.ai
	}

	a.archive = session.NewArchive(cfg.Venue.ArchiveBase, browser.RodLauncher{}, cfg.Venue.Headless, solver, dl.Download, a.logger)

	st := a.store
	return batch.New(batch.Deps{
		Resolver:   a.resolver,
		Discover:   metadata.NewDiscoverer(client, cfg.HTTP.Contact, family, a.logger),
		DiscoverOA: metadata.NewDiscoverer(client, cfg.HTTP.Contact, nil, a.logger),
		Records:    st,
		Notifier:   a.notifier(out),
		OpenAccess: &acquire.URLSource{Label: "open_access", Charge: types.CostFree, Downloader: dl},
		Providers:  &acquire.ProviderSource{Providers: assemble, Charge: types.CostFree, Downloader: dl, Logger: a.logger},
		Paid:       acquire.StepFunc{Label: "sciencedirect", Charge: types.CostPaid, FetchFn: retriever.Fetch},
		Archive:    acquire.StepFunc{Label: "scihub_browser", Charge: types.CostFree, FetchFn: a.archive.Fetch},
		MinYear:    cfg.Venue.MinYear,
		Blocking:   worker.NewPool(1),
		Activated: func(ctx context.Context) (bool, error) {
			return accounts.Activated(ctx, st)
		},
		Links:       a.links,
		LinkBot:     cfg.Delivery.LinkBot,
		LinkDir:     cfg.Delivery.LinkDir,
		KeepArchive: cfg.Delivery.TelegramToken == "",
		MaxParallel: cfg.Resolver.MaxParallel,
		Logger:      a.logger,
	}), nil
}
