// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package classify

import (
	"context"

	"github.com/charmbracelet/log"

	"github.com/dastyar-team/dastyar/internal/ai"
	"github.com/dastyar-team/dastyar/internal/logging"
	"github.com/dastyar-team/dastyar/pkg/types"
)

// Labeler returns an AI label for a title.
type Labeler interface {
	Classify(ctx context.Context, title string) (ai.Label, error)
}

// Classifier decides categories AI-first with a concept fallback.
type Classifier struct {
	AI       Labeler
	MinConf  float64
	MinShare float64
	Logger   *log.Logger
}

// New returns a Classifier with thresholds from cfg. labeler may be nil.
func New(labeler Labeler, cfg types.ResolverConfig, logger *log.Logger) *Classifier {
	return &Classifier{
		AI:       labeler,
		MinConf:  cfg.AIMinConfidence,
		MinShare: cfg.CategoryMinShare,
		Logger:   logging.Component(logger, "classify"),
	}
}

// Decide returns the category and the source that decided it:
// "ai:<shape>", "openalex_concepts", or "none".
func (c *Classifier) Decide(ctx context.Context, doi, title string, concepts []types.Concept) (types.Category, string) {
	logger := logging.OrDiscard(c.Logger)

	var label ai.Label
	if c.AI != nil && title != "" {
		var err error
		label, err = c.AI.Classify(ctx, title)
		if err != nil {
			logger.Debug("ai_category_failed", "doi", doi, "source", label.Source, "err", err)
		}
		if err == nil && label.Category != "" && label.Confidence >= c.MinConf {
			logger.Info("ai_category", "doi", doi, "label", label.Category,
				"conf", label.Confidence, "backend", label.Source)
			return label.Category, "ai:" + label.Source
		}
	}

	cat, scores := FromConcepts(concepts, c.MinShare)
	best, share := scores.Best()
	logger.Info("cat_decision_fallback", "doi", doi, "category", cat, "best", best,
		"share", share, "total_score", scores.Total, "mapped", scores.Matched,
		"concepts", len(concepts), "ai_conf", label.Confidence)
	if cat == types.CategoryUnknown {
		return types.CategoryUnknown, "none"
	}
	return cat, "openalex_concepts"
}
