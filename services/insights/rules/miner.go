// Copyright (C) 2026 Glycoscope Labs (eng@glycoscope.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package rules mines IF-THEN association rules from binarized daily
// features via level-wise (Apriori) frequent-itemset enumeration.
package rules

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/glycoscope/glycoscope/services/insights/datatypes"
)

// Predicate binarizes one daily feature into a named boolean item, e.g.
// "good_sleep" for sleep_minutes > 420. Days missing the feature do not
// satisfy the predicate.
type Predicate struct {
	Label     string
	Feature   datatypes.FeatureName
	Threshold float64

	// Above selects values strictly greater than Threshold; otherwise
	// strictly less than.
	Above bool
}

// Holds reports whether the predicate is satisfied by the aggregate.
func (p Predicate) Holds(agg datatypes.DailyAggregate) bool {
	v, ok := agg.Feature(p.Feature)
	if !ok {
		return false
	}
	if p.Above {
		return v > p.Threshold
	}
	return v < p.Threshold
}

// DefaultPredicates returns the stock binarization vocabulary.
func DefaultPredicates() []Predicate {
	return []Predicate{
		{Label: "good_sleep", Feature: datatypes.FeatureSleepMinutes, Threshold: 420, Above: true},
		{Label: "short_sleep", Feature: datatypes.FeatureSleepMinutes, Threshold: 360, Above: false},
		{Label: "active_day", Feature: datatypes.FeatureExerciseMinutes, Threshold: 30, Above: true},
		{Label: "high_carb", Feature: datatypes.FeatureCarbGrams, Threshold: 200, Above: true},
		{Label: "in_range", Feature: datatypes.FeatureTimeInRange, Threshold: 80, Above: true},
		{Label: "glucose_elevated", Feature: datatypes.FeatureGlucoseMean, Threshold: 150, Above: true},
	}
}

// Config holds the miner's thresholds.
type Config struct {
	MinSupport    float64
	MinConfidence float64
	MinDays       int

	// Predicates is the binarization vocabulary; nil means
	// DefaultPredicates.
	Predicates []Predicate
}

// DefaultConfig returns the production defaults: support 0.3,
// confidence 0.7, at least 14 days of history.
func DefaultConfig() Config {
	return Config{
		MinSupport:    0.3,
		MinConfidence: 0.7,
		MinDays:       14,
	}
}

// Miner mines association rules over a user's aggregate history.
type Miner struct {
	cfg Config
}

// New creates a miner, filling zero Config fields with defaults.
func New(cfg Config) *Miner {
	def := DefaultConfig()
	if cfg.MinSupport <= 0 {
		cfg.MinSupport = def.MinSupport
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = def.MinConfidence
	}
	if cfg.MinDays <= 0 {
		cfg.MinDays = def.MinDays
	}
	if cfg.Predicates == nil {
		cfg.Predicates = DefaultPredicates()
	}
	return &Miner{cfg: cfg}
}

// itemset is a sorted set of predicate indexes encoded as a bitmask;
// with at most a few dozen predicates a uint64 covers the vocabulary.
type itemset uint64

func (s itemset) contains(t itemset) bool { return s&t == t }
func (s itemset) size() int {
	n := 0
	for s != 0 {
		s &= s - 1
		n++
	}
	return n
}

// Mine returns the replace-all rule set for the user.
//
// Fewer than MinDays aggregates yields an empty set, never an error:
// support estimates over a handful of days are noise.
func (m *Miner) Mine(ctx context.Context, userID string, aggs []datatypes.DailyAggregate) ([]datatypes.AssociationRule, error) {
	if len(aggs) < m.cfg.MinDays {
		return []datatypes.AssociationRule{}, nil
	}
	if len(m.cfg.Predicates) > 63 {
		return nil, fmt.Errorf("%w: predicate vocabulary exceeds 63 items", datatypes.ErrInvalidParameter)
	}

	// Binarize each day into an itemset.
	days := make([]itemset, len(aggs))
	for i, agg := range aggs {
		var s itemset
		for p, pred := range m.cfg.Predicates {
			if pred.Holds(agg) {
				s |= 1 << p
			}
		}
		days[i] = s
	}
	nDays := float64(len(days))
	minCount := int(m.cfg.MinSupport * nDays)
	if float64(minCount) < m.cfg.MinSupport*nDays {
		minCount++
	}
	if minCount < 1 {
		minCount = 1
	}

	support := make(map[itemset]int)
	countOf := func(candidate itemset) int {
		n := 0
		for _, day := range days {
			if day.contains(candidate) {
				n++
			}
		}
		return n
	}

	// Level 1: frequent single items.
	var frequent []itemset
	for p := range m.cfg.Predicates {
		single := itemset(1) << p
		if n := countOf(single); n >= minCount {
			support[single] = n
			frequent = append(frequent, single)
		}
	}

	// Level-wise candidate generation: join frequent k-sets pairwise and
	// keep candidates whose every subset survived the previous level
	// (downward closure), then count.
	level := frequent
	for len(level) > 1 {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: rule mining aborted: %v", datatypes.ErrComputationTimeout, ctx.Err())
		}
		seen := make(map[itemset]bool)
		var next []itemset
		for a := 0; a < len(level); a++ {
			for b := a + 1; b < len(level); b++ {
				candidate := level[a] | level[b]
				if candidate.size() != level[a].size()+1 || seen[candidate] {
					continue
				}
				seen[candidate] = true
				if !allSubsetsFrequent(candidate, support) {
					continue
				}
				if n := countOf(candidate); n >= minCount {
					support[candidate] = n
					next = append(next, candidate)
				}
			}
		}
		frequent = append(frequent, next...)
		level = next
	}

	rules := m.deriveRules(frequent, support, nDays, userID)
	return rules, nil
}

// allSubsetsFrequent checks downward closure: every (k-1)-subset of the
// candidate must itself be frequent.
func allSubsetsFrequent(candidate itemset, support map[itemset]int) bool {
	for s := candidate; s != 0; {
		bit := s & -s
		if _, ok := support[candidate&^bit]; !ok {
			return false
		}
		s &^= bit
	}
	return true
}

// deriveRules splits each frequent itemset of size >= 2 into every
// non-empty antecedent/consequent partition and keeps splits meeting
// the confidence floor. Output is sorted by confidence descending, then
// support descending, for a stable replace-all write.
func (m *Miner) deriveRules(frequent []itemset, support map[itemset]int, nDays float64, userID string) []datatypes.AssociationRule {
	now := time.Now().UTC()
	var out []datatypes.AssociationRule
	for _, set := range frequent {
		k := set.size()
		if k < 2 {
			continue
		}
		setSupport := float64(support[set]) / nDays
		for ante := (set - 1) & set; ante != 0; ante = (ante - 1) & set {
			cons := set &^ ante
			anteCount, ok := support[ante]
			if !ok || anteCount == 0 {
				continue
			}
			confidence := float64(support[set]) / float64(anteCount)
			if confidence < m.cfg.MinConfidence {
				continue
			}
			out = append(out, datatypes.AssociationRule{
				UserID:     userID,
				Antecedent: m.labels(ante),
				Consequent: m.labels(cons),
				Support:    setSupport,
				Confidence: confidence,
				ComputedAt: now,
			})
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].Confidence != out[b].Confidence {
			return out[a].Confidence > out[b].Confidence
		}
		return out[a].Support > out[b].Support
	})
	if out == nil {
		out = []datatypes.AssociationRule{}
	}
	return out
}

// labels expands an itemset into sorted predicate labels.
func (m *Miner) labels(s itemset) []string {
	var names []string
	for p := range m.cfg.Predicates {
		if s&(1<<p) != 0 {
			names = append(names, m.cfg.Predicates[p].Label)
		}
	}
	sort.Strings(names)
	return names
}
