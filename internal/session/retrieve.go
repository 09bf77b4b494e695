// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/dastyar-team/dastyar/internal/accounts"
	"github.com/dastyar-team/dastyar/internal/acquire"
	"github.com/dastyar-team/dastyar/internal/ai"
	"github.com/dastyar-team/dastyar/internal/doi"
	"github.com/dastyar-team/dastyar/internal/logging"
	"github.com/dastyar-team/dastyar/internal/ratelimit"
	"github.com/dastyar-team/dastyar/pkg/types"
)

// JournalChecker decides whether a journal is hosted on the venue.
type JournalChecker interface {
	IsVenueJournal(ctx context.Context, journal string) (ai.Match, error)
}

// Finder locates a document's PDF URL through a session.
type Finder interface {
	Fetch(ctx context.Context, s *Session, base string, t acquire.Target) (string, error)
}

// Retriever runs the venue path across the account slots.
type Retriever struct {
	Sessions Sessions
	Venue    Finder
	Limiter  *ratelimit.Limiter

	// Journal is optional; a nil checker skips the journal check.
	Journal              JournalChecker
	JournalMinConfidence float64

	// Force bypasses the journal check.
	Force bool

	// Accounts lists the slots in the order they are tried.
	Accounts func(ctx context.Context) ([]types.AccountSlot, error)

	// VPNFor returns the VPN config bound to a slot.
	VPNFor func(ctx context.Context, slot int) (string, error)

	Download func(ctx context.Context, url, hint string) (string, error)

	// Started is called once, before the first account attempt.
	Started func(ctx context.Context)

	Logger *log.Logger
}

// Fetch returns the local path of the target PDF or acquire.ErrNoSource
// when no account produced it.
func (r *Retriever) Fetch(ctx context.Context, t acquire.Target) (string, error) {
	logger := logging.OrDiscard(r.Logger).With("doi", t.DOI)
	if t.Title == "" || t.Journal == "" {
		return "", acquire.ErrNoSource
	}
	if !r.journalAllowed(ctx, t, logger) {
		return "", acquire.ErrNoSource
	}

	slots, err := r.Accounts(ctx)
	if err != nil {
		return "", fmt.Errorf("loading accounts: %w", err)
	}

	started := false
	var lastErr error
	for _, acc := range slots {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if !acc.Usable() {
			continue
		}

		res, err := r.Limiter.Reserve(ctx, acc.Slot)
		if err != nil {
			var le *ratelimit.LimitError
			if errors.As(err, &le) {
				logger.Info("venue_rate_limit", "slot", acc.Slot, "wait", le.Wait)
				continue
			}
			return "", fmt.Errorf("rate limiter: %w", err)
		}

		path, err := r.attempt(ctx, acc, t, &started, logger)
		if err != nil || path == "" {
			if relErr := r.Limiter.Release(ctx, res); relErr != nil {
				logger.Warn("rate_limit_release_failed", "slot", acc.Slot, "err", relErr)
			}
			if err != nil {
				lastErr = err
				logger.Info("venue_slot_failed", "slot", acc.Slot, "err", err)
			}
			continue
		}
		return path, nil
	}
	if lastErr != nil {
		return "", fmt.Errorf("venue: %w", lastErr)
	}
	return "", acquire.ErrNoSource
}

func (r *Retriever) attempt(ctx context.Context, acc types.AccountSlot, t acquire.Target, started *bool, logger *log.Logger) (string, error) {
	vpn, err := r.VPNFor(ctx, acc.Slot)
	if err != nil {
		return "", err
	}
	s, err := r.Sessions.Get(ctx, acc, vpn)
	if err != nil {
		r.Sessions.Invalidate(acc.Slot)
		return "", err
	}

	if !*started {
		*started = true
		if r.Started != nil {
			r.Started(ctx)
		}
	}

	base := acc.BaseURL
	if base == "" {
		base = accounts.DefaultBaseURL
	}
	u, err := r.Venue.Fetch(ctx, s, base, t)
	if err != nil {
		if !s.Browser.Alive() {
			r.Sessions.Invalidate(acc.Slot)
		}
		return "", err
	}
	return r.Download(ctx, u, fmt.Sprintf("%s_scidir_slot%d", doi.Hint(t.DOI), acc.Slot))
}

func (r *Retriever) journalAllowed(ctx context.Context, t acquire.Target, logger *log.Logger) bool {
	if r.Journal == nil {
		return true
	}
	m, err := r.Journal.IsVenueJournal(ctx, t.Journal)
	if err != nil {
		logger.Warn("venue_journal_check_failed", "journal", t.Journal, "err", err)
	}
	logger.Info("venue_journal_check", "journal", t.Journal, "allow", m.OK, "confidence", m.Confidence, "reason", m.Reason)
	return r.Force || (m.OK && m.Confidence >= r.JournalMinConfidence)
}
