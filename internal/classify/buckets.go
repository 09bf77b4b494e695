// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package classify assigns a coarse category to a document: the AI label
// when it is confident enough, otherwise a vote of the registry's weighted
// concepts mapped through a curated term table.
package classify

import (
	"strings"

	"github.com/dastyar-team/dastyar/pkg/types"
)

// rootToCategory maps lower-cased concept names to buckets.
var rootToCategory = map[string]types.Category{}

func init() {
	terms := map[types.Category][]string{
		types.CategoryMedical: {
			"medicine", "public health", "health care", "nursing", "dentistry", "pharmacology",
			"neuroscience", "immunology", "epidemiology", "oncology", "psychiatry", "physiology",
			"pathology", "anatomy", "biochemistry", "molecular biology", "cell biology", "genetics",
			"urology", "nephrology", "gynecology", "obstetrics", "cardiology", "dermatology",
			"endocrinology", "gastroenterology", "pulmonology", "otolaryngology", "ophthalmology",
			"rheumatology", "pediatrics", "sleep medicine",
		},
		types.CategoryEngineering: {
			"engineering", "materials science", "mechanical engineering", "electrical engineering",
			"civil engineering", "chemical engineering", "aerospace engineering", "computer science",
			"information systems", "software engineering", "robotics", "nanotechnology",
		},
		types.CategoryHumanities: {
			"humanities", "history", "philosophy", "linguistics", "law", "education", "religion",
			"literature", "arts", "anthropology", "archaeology", "cultural studies", "psychology",
			"sociology", "economics", "political science", "international relations", "geography",
		},
	}
	for cat, names := range terms {
		for _, n := range names {
			rootToCategory[n] = cat
		}
	}
}

// bucketOrder fixes iteration order so ties resolve the same way every run.
var bucketOrder = []types.Category{
	types.CategoryMedical,
	types.CategoryEngineering,
	types.CategoryHumanities,
}

// Scores holds the mapped weight per bucket.
type Scores struct {
	Buckets map[types.Category]float64
	Total   float64
	Matched int
}

// Lookup returns the bucket for a concept or ancestor name.
func Lookup(name string) (types.Category, bool) {
	c, ok := rootToCategory[strings.ToLower(strings.TrimSpace(name))]
	return c, ok
}

// Buckets maps each positively scored concept into at most one bucket.
// Ancestors are checked before the concept itself; the first term found in
// the table receives the concept's score.
func Buckets(concepts []types.Concept) Scores {
	s := Scores{Buckets: make(map[types.Category]float64, len(bucketOrder))}
	for _, c := range bucketOrder {
		s.Buckets[c] = 0
	}
	for _, c := range concepts {
		if c.Score <= 0 {
			continue
		}
		names := append(append([]string{}, c.Ancestors...), c.Name)
		for _, n := range names {
			if cat, ok := Lookup(n); ok {
				s.Buckets[cat] += c.Score
				s.Total += c.Score
				s.Matched++
				break
			}
		}
	}
	return s
}

// Best returns the highest bucket and its share of the total. The first
// bucket in fixed order wins ties.
func (s Scores) Best() (types.Category, float64) {
	if s.Total <= 0 {
		return types.CategoryUnknown, 0
	}
	best, bestVal := types.CategoryUnknown, -1.0
	for _, c := range bucketOrder {
		if v := s.Buckets[c]; v > bestVal {
			best, bestVal = c, v
		}
	}
	return best, bestVal / s.Total
}

// meetsShare reports whether best/total reaches minShare.
func meetsShare(best, total, minShare float64) bool {
	if total <= 0 {
		return false
	}
	return best/total >= minShare
}

// FromConcepts returns the winning bucket when its share of the total
// mapped weight is at least minShare, otherwise CategoryUnknown.
func FromConcepts(concepts []types.Concept, minShare float64) (types.Category, Scores) {
	s := Buckets(concepts)
	cat, _ := s.Best()
	if cat == types.CategoryUnknown || !meetsShare(s.Buckets[cat], s.Total, minShare) {
		return types.CategoryUnknown, s
	}
	return cat, s
}
