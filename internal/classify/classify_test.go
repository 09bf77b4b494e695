// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package classify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dastyar-team/dastyar/internal/ai"
	"github.com/dastyar-team/dastyar/pkg/types"
)

func TestBuckets_AncestorsFirst(t *testing.T) {
	concepts := []types.Concept{
		// Own name maps to engineering, but the medical ancestor wins.
		{Name: "Computer science", Score: 0.5, Ancestors: []string{"Medicine"}},
		{Name: "Sociology", Score: 0.25},
		{Name: "Unmapped thing", Score: 0.9},
		{Name: "Medicine", Score: 0},
		{Name: "Law", Score: -1},
	}
	s := Buckets(concepts)
	assert.InDelta(t, 0.5, s.Buckets[types.CategoryMedical], 1e-9)
	assert.InDelta(t, 0.0, s.Buckets[types.CategoryEngineering], 1e-9)
	assert.InDelta(t, 0.25, s.Buckets[types.CategoryHumanities], 1e-9)
	assert.InDelta(t, 0.75, s.Total, 1e-9)
	assert.Equal(t, 2, s.Matched)
}

func TestMeetsShare_Boundary(t *testing.T) {
	// Exactly at the threshold wins, just below does not.
	assert.True(t, meetsShare(3, 10, 0.30))
	assert.False(t, meetsShare(29, 100, 0.30))
	assert.False(t, meetsShare(1, 0, 0.30))
}

func TestFromConcepts_Threshold(t *testing.T) {
	concepts := []types.Concept{
		{Name: "Medicine", Score: 4},
		{Name: "Engineering", Score: 3},
		{Name: "History", Score: 3},
	}

	cat, s := FromConcepts(concepts, 0.40)
	assert.Equal(t, types.CategoryMedical, cat)
	best, share := s.Best()
	assert.Equal(t, types.CategoryMedical, best)
	assert.Equal(t, 0.4, share)

	cat, _ = FromConcepts(concepts, 0.41)
	assert.Equal(t, types.CategoryUnknown, cat)
}

func TestFromConcepts_TieGoesToFirstBucket(t *testing.T) {
	// Bucket weights 0.2, 0.2, 0.1: best share is 0.2/0.5 = 0.4.
	concepts := []types.Concept{
		{Name: "Oncology", Score: 0.2},
		{Name: "Robotics", Score: 0.2},
		{Name: "Philosophy", Score: 0.1},
	}
	cat, s := FromConcepts(concepts, 0.30)
	assert.Equal(t, types.CategoryMedical, cat, "ties resolve to the first bucket")
	_, share := s.Best()
	assert.InDelta(t, 0.4, share, 1e-9)
}

func TestFromConcepts_NoConcepts(t *testing.T) {
	cat, s := FromConcepts(nil, 0.30)
	assert.Equal(t, types.CategoryUnknown, cat)
	assert.Zero(t, s.Total)
}

type fakeLabeler struct {
	label ai.Label
	err   error
	calls int
}

func (f *fakeLabeler) Classify(context.Context, string) (ai.Label, error) {
	f.calls++
	return f.label, f.err
}

func TestDecide(t *testing.T) {
	medicalConcepts := []types.Concept{{Name: "Cardiology", Score: 0.8}}
	cfg := types.ResolverConfig{AIMinConfidence: 0.40, CategoryMinShare: 0.30}

	tests := []struct {
		name       string
		labeler    *fakeLabeler
		title      string
		concepts   []types.Concept
		wantCat    types.Category
		wantSource string
	}{
		{
			name:       "confident ai wins",
			labeler:    &fakeLabeler{label: ai.Label{Category: types.CategoryEngineering, Confidence: 0.4, Source: "groq_chat"}},
			title:      "T",
			concepts:   medicalConcepts,
			wantCat:    types.CategoryEngineering,
			wantSource: "ai:groq_chat",
		},
		{
			name:       "low confidence falls back",
			labeler:    &fakeLabeler{label: ai.Label{Category: types.CategoryEngineering, Confidence: 0.39}},
			title:      "T",
			concepts:   medicalConcepts,
			wantCat:    types.CategoryMedical,
			wantSource: "openalex_concepts",
		},
		{
			name:       "ai error falls back",
			labeler:    &fakeLabeler{err: errors.New("down")},
			title:      "T",
			concepts:   medicalConcepts,
			wantCat:    types.CategoryMedical,
			wantSource: "openalex_concepts",
		},
		{
			name:       "unmapped label falls back to unknown",
			labeler:    &fakeLabeler{label: ai.Label{Confidence: 0.9}},
			title:      "T",
			wantCat:    types.CategoryUnknown,
			wantSource: "none",
		},
		{
			name:       "no title skips ai",
			labeler:    &fakeLabeler{label: ai.Label{Category: types.CategoryHumanities, Confidence: 1}},
			concepts:   medicalConcepts,
			wantCat:    types.CategoryMedical,
			wantSource: "openalex_concepts",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(tt.labeler, cfg, nil)
			cat, src := c.Decide(context.Background(), "10.1/x", tt.title, tt.concepts)
			assert.Equal(t, tt.wantCat, cat)
			assert.Equal(t, tt.wantSource, src)
		})
	}
}
