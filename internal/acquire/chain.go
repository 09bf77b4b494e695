// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package acquire

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/dastyar-team/dastyar/internal/doi"
	"github.com/dastyar-team/dastyar/internal/logging"
	"github.com/dastyar-team/dastyar/internal/provider"
)

// ErrNoSource is returned by a Source with nothing for the target, and by
// Chain.Run when every source came up empty.
var ErrNoSource = errors.New("no source produced a file")

// Target is the document a chain retrieves.
type Target struct {
	DOI      string
	Title    string
	Abstract string
	Journal  string
	Year     int

	// OAURL is the open-access candidate found during discovery.
	OAURL string
}

// Outcome describes a successful retrieval.
type Outcome struct {
	Path   string
	Source string
	Cost   string
}

// Source is one step of the retrieval chain. Fetch returns the local file
// path or an error; ErrNoSource means the step did not apply.
type Source interface {
	Name() string
	Cost() string
	Fetch(ctx context.Context, t Target) (string, error)
}

// Chain tries sources in order and stops at the first file.
type Chain struct {
	Sources []Source
	Logger  *log.Logger
}

// Run returns the first successful outcome. Errors from individual sources
// are logged and the next source is tried. When attempted is true at least
// one source tried a download and failed.
func (c *Chain) Run(ctx context.Context, t Target) (out Outcome, attempted bool, err error) {
	logger := logging.OrDiscard(c.Logger)
	for _, s := range c.Sources {
		if err := ctx.Err(); err != nil {
			return Outcome{}, attempted, err
		}
		path, err := s.Fetch(ctx, t)
		switch {
		case err == nil && path != "":
			logger.Info("chain_success", "doi", t.DOI, "source", s.Name(), "cost", s.Cost())
			return Outcome{Path: path, Source: s.Name(), Cost: s.Cost()}, true, nil
		case err == nil, errors.Is(err, ErrNoSource):
			logger.Debug("chain_skip", "doi", t.DOI, "source", s.Name())
		default:
			attempted = true
			logger.Warn("chain_source_failed", "doi", t.DOI, "source", s.Name(), "err", err)
		}
	}
	return Outcome{}, attempted, ErrNoSource
}

// StepFunc adapts a function to a Source.
type StepFunc struct {
	Label   string
	Charge  string
	FetchFn func(ctx context.Context, t Target) (string, error)
}

func (s StepFunc) Name() string { return s.Label }
func (s StepFunc) Cost() string { return s.Charge }

func (s StepFunc) Fetch(ctx context.Context, t Target) (string, error) {
	return s.FetchFn(ctx, t)
}

// URLSource downloads the target's open-access URL.
type URLSource struct {
	Label      string
	Charge     string
	Downloader *Downloader
}

func (s *URLSource) Name() string { return s.Label }
func (s *URLSource) Cost() string { return s.Charge }

func (s *URLSource) Fetch(ctx context.Context, t Target) (string, error) {
	if t.OAURL == "" {
		return "", ErrNoSource
	}
	return s.Downloader.Download(ctx, t.OAURL, doi.Hint(t.DOI))
}

// ProviderSource resolves and downloads through each provider in order,
// stopping at the first file.
type ProviderSource struct {
	Providers  func(year int) []provider.Provider
	Charge     string
	Downloader *Downloader
	Logger     *log.Logger
}

func (s *ProviderSource) Name() string { return "providers" }
func (s *ProviderSource) Cost() string { return s.Charge }

func (s *ProviderSource) Fetch(ctx context.Context, t Target) (string, error) {
	logger := logging.OrDiscard(s.Logger)
	var lastErr error
	for _, p := range s.Providers(t.Year) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		u, err := p.Resolve(ctx, t.DOI)
		if err != nil {
			logger.Info("provider_failed", "name", p.Name(), "doi", t.DOI, "err", err)
			lastErr = err
			continue
		}
		if u == "" {
			continue
		}
		logger.Info("provider_pdf_found", "name", p.Name(), "doi", t.DOI, "url", u)
		path, err := s.Downloader.Download(ctx, u, doi.Hint(t.DOI)+"_"+p.Name())
		if err != nil {
			lastErr = err
			continue
		}
		return path, nil
	}
	if lastErr != nil {
		return "", fmt.Errorf("providers: %w", lastErr)
	}
	return "", ErrNoSource
}
