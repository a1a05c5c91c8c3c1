// Copyright (C) 2026 Glycoscope Labs (eng@glycoscope.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package causal discovers directed, lagged dependencies between daily
// features.
//
// For every ordered feature pair (X, Y) and every lag 0..MaxLag the
// engine tests whether X at day t-lag is dependent on Y at day t,
// conditioning on the remaining tracked features at the source day
// (a lightweight analogue of the conditional-independence tests used in
// causal-graph discovery). Pairs with fewer than MinSamples usable days
// skip the conditional test and degrade to a plain lagged Pearson
// correlation reported at the fallback tier, so the engine never fails
// outright on sparse users.
package causal

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/glycoscope/glycoscope/services/insights/datatypes"
)

// Config holds the engine's statistical parameters.
type Config struct {
	// MaxLag is the largest tested lag in days.
	MaxLag int

	// Alpha is the significance level; links with p >= Alpha are discarded.
	Alpha float64

	// HighTierP is the p-value bound for the high confidence tier.
	HighTierP float64

	// MinSamples is the minimum usable day count for the conditional
	// test. Pairs below it fall back to plain lagged correlation.
	MinSamples int

	// FallbackMinSamples is the floor below which even the fallback
	// correlation is skipped entirely.
	FallbackMinSamples int
}

// DefaultConfig returns the production defaults: lag up to 7 days,
// alpha 0.05, high tier below 0.01, conditional testing from 30 days.
func DefaultConfig() Config {
	return Config{
		MaxLag:             7,
		Alpha:              0.05,
		HighTierP:          0.01,
		MinSamples:         30,
		FallbackMinSamples: 10,
	}
}

// Engine runs causal discovery over a user's aggregate history.
type Engine struct {
	cfg  Config
	test IndependenceTest
}

// New creates an engine with the partial-correlation test.
func New(cfg Config) *Engine {
	return NewWithTest(cfg, PartialCorrelationTest{})
}

// NewWithTest creates an engine with a custom independence test.
func NewWithTest(cfg Config, test IndependenceTest) *Engine {
	if cfg.MaxLag <= 0 {
		cfg.MaxLag = 7
	}
	if cfg.Alpha <= 0 {
		cfg.Alpha = 0.05
	}
	if cfg.HighTierP <= 0 {
		cfg.HighTierP = 0.01
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 30
	}
	if cfg.FallbackMinSamples <= 0 {
		cfg.FallbackMinSamples = 10
	}
	return &Engine{cfg: cfg, test: test}
}

// series is one feature's values indexed by day offset from the first
// date in the history. Missing days (or missing features) are NaN.
type series []float64

// Discover returns the full replace-all link set for the user.
//
// The input aggregates may be unsorted and may have calendar gaps; gaps
// become missing values, never fabricated zeros. The context is checked
// between feature pairs; expiry aborts with datatypes.ErrComputationTimeout.
func (e *Engine) Discover(ctx context.Context, userID string, aggs []datatypes.DailyAggregate) ([]datatypes.CausalLink, error) {
	features := datatypes.CausalFeatures()
	matrix, nDays, err := buildMatrix(aggs, features)
	if err != nil {
		return nil, err
	}
	if nDays == 0 {
		return []datatypes.CausalLink{}, nil
	}

	computedAt := time.Now().UTC()
	var links []datatypes.CausalLink

	for _, src := range features {
		for _, dst := range features {
			if src == dst {
				continue
			}
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: causal discovery aborted: %v", datatypes.ErrComputationTimeout, ctx.Err())
			}
			for lag := 0; lag <= e.cfg.MaxLag; lag++ {
				link, ok := e.testPair(matrix, features, src, dst, lag, nDays)
				if ok {
					link.UserID = userID
					link.ComputedAt = computedAt
					links = append(links, link)
				}
			}
		}
	}
	return links, nil
}

// testPair tests X=src at day t-lag against Y=dst at day t.
func (e *Engine) testPair(matrix map[datatypes.FeatureName]series, features []datatypes.FeatureName,
	src, dst datatypes.FeatureName, lag, nDays int) (datatypes.CausalLink, bool) {

	xs := matrix[src]
	ys := matrix[dst]

	// Conditioning set: every other tracked feature, measured at the
	// source day t-lag. Deterministic by construction (feature order is
	// fixed), complete-case: a row enters the conditional test only when
	// x, y, and all conditioning values are present.
	var condFeatures []datatypes.FeatureName
	for _, f := range features {
		if f != src && f != dst {
			condFeatures = append(condFeatures, f)
		}
	}

	var x, y []float64
	cond := make([][]float64, len(condFeatures))
	var xPlain, yPlain []float64

	for t := lag; t < nDays; t++ {
		xv, yv := xs[t-lag], ys[t]
		if math.IsNaN(xv) || math.IsNaN(yv) {
			continue
		}
		xPlain = append(xPlain, xv)
		yPlain = append(yPlain, yv)

		complete := true
		row := make([]float64, len(condFeatures))
		for i, f := range condFeatures {
			cv := matrix[f][t-lag]
			if math.IsNaN(cv) {
				complete = false
				break
			}
			row[i] = cv
		}
		if complete {
			x = append(x, xv)
			y = append(y, yv)
			for i := range condFeatures {
				cond[i] = append(cond[i], row[i])
			}
		}
	}

	if len(x) >= e.cfg.MinSamples {
		stat, p, err := e.test.Test(x, y, cond)
		if err != nil {
			return datatypes.CausalLink{}, false
		}
		tier, ok := e.tierFor(p)
		if !ok {
			return datatypes.CausalLink{}, false
		}
		return datatypes.CausalLink{
			Source: src, Target: dst, LagDays: lag,
			Strength: clip(stat), PValue: p, Tier: tier, SampleSize: len(x),
		}, true
	}

	// Sparse pair: plain lagged correlation at the fallback tier.
	if len(xPlain) < e.cfg.FallbackMinSamples {
		return datatypes.CausalLink{}, false
	}
	r := pearson(xPlain, yPlain)
	p := fisherPValue(r, len(xPlain), 0)
	if p >= e.cfg.Alpha {
		return datatypes.CausalLink{}, false
	}
	return datatypes.CausalLink{
		Source: src, Target: dst, LagDays: lag,
		Strength: clip(r), PValue: p, Tier: datatypes.TierFallback, SampleSize: len(xPlain),
	}, true
}

// tierFor maps a p-value to a confidence tier under the full test.
func (e *Engine) tierFor(p float64) (datatypes.ConfidenceTier, bool) {
	switch {
	case p < e.cfg.HighTierP:
		return datatypes.TierHigh, true
	case p < e.cfg.Alpha:
		return datatypes.TierMedium, true
	default:
		return "", false
	}
}

// buildMatrix lays the aggregate history out as day-indexed series, one
// per feature, with NaN for calendar gaps and absent features.
func buildMatrix(aggs []datatypes.DailyAggregate, features []datatypes.FeatureName) (map[datatypes.FeatureName]series, int, error) {
	if len(aggs) == 0 {
		return nil, 0, nil
	}

	sorted := append([]datatypes.DailyAggregate(nil), aggs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date < sorted[j].Date })

	first, err := time.Parse(datatypes.DateLayout, sorted[0].Date)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: bad aggregate date %q", datatypes.ErrInvalidParameter, sorted[0].Date)
	}
	last, err := time.Parse(datatypes.DateLayout, sorted[len(sorted)-1].Date)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: bad aggregate date %q", datatypes.ErrInvalidParameter, sorted[len(sorted)-1].Date)
	}
	nDays := int(last.Sub(first).Hours()/24) + 1

	matrix := make(map[datatypes.FeatureName]series, len(features))
	for _, f := range features {
		s := make(series, nDays)
		for i := range s {
			s[i] = math.NaN()
		}
		matrix[f] = s
	}

	for i := range sorted {
		d, err := time.Parse(datatypes.DateLayout, sorted[i].Date)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: bad aggregate date %q", datatypes.ErrInvalidParameter, sorted[i].Date)
		}
		idx := int(d.Sub(first).Hours() / 24)
		for _, f := range features {
			if v, ok := sorted[i].Feature(f); ok {
				matrix[f][idx] = v
			}
		}
	}
	return matrix, nDays, nil
}
