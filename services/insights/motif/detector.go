// Copyright (C) 2026 Glycoscope Labs (eng@glycoscope.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package motif finds recurring subsequences (motifs) and outlier
// subsequences (discords) in a single long glucose series.
//
// The core is a matrix profile: for every sliding window of length W,
// the z-normalized Euclidean distance to its nearest non-overlapping
// neighbor. Windows with unusually small profile values seed motif
// clusters; windows with unusually large values are discords, graded by
// how many standard deviations they sit above the series-wide mean
// neighbor distance.
package motif

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/glycoscope/glycoscope/services/insights/datatypes"
)

// Config holds the detector's parameters.
type Config struct {
	// WindowLen is the subsequence length in samples. The default of
	// 288 corresponds to 24 hours of 5-minute CGM sampling.
	WindowLen int

	// TopK bounds the number of motif clusters and the number of
	// discords reported per run.
	TopK int

	// Workers bounds the parallelism of the all-pairs distance
	// computation. Zero means one worker per CPU.
	Workers int

	// ClusterRadiusFactor scales a motif seed's nearest-neighbor
	// distance into the admission radius for further cluster members.
	ClusterRadiusFactor float64
}

// DefaultConfig returns the production defaults: 24h windows at
// 5-minute sampling, three motifs and three discords per run.
func DefaultConfig() Config {
	return Config{
		WindowLen:           288,
		TopK:                3,
		Workers:             4,
		ClusterRadiusFactor: 2,
	}
}

// Detector runs motif and discord discovery over a raw reading series.
type Detector struct {
	cfg Config
}

// New creates a detector, filling zero Config fields with defaults.
func New(cfg Config) *Detector {
	def := DefaultConfig()
	if cfg.WindowLen <= 1 {
		cfg.WindowLen = def.WindowLen
	}
	if cfg.TopK <= 0 {
		cfg.TopK = def.TopK
	}
	if cfg.ClusterRadiusFactor <= 0 {
		cfg.ClusterRadiusFactor = def.ClusterRadiusFactor
	}
	return &Detector{cfg: cfg}
}

// Detect returns the motif and discord patterns for the user's series.
//
// Readings must be sorted by timestamp; values are taken as a regularly
// sampled series and gaps are not interpolated. A series shorter than
// three windows yields an empty result, never an error: there is not
// enough data to distinguish recurrence from coincidence.
func (d *Detector) Detect(ctx context.Context, userID string, readings []datatypes.RawReading) ([]datatypes.Pattern, error) {
	w := d.cfg.WindowLen
	if len(readings) < 3*w {
		return []datatypes.Pattern{}, nil
	}

	series := make([]float64, len(readings))
	for i, r := range readings {
		series[i] = r.Value
	}

	exclusion := w / 2
	if exclusion < 1 {
		exclusion = 1
	}
	profile, err := computeProfile(ctx, series, w, exclusion, d.cfg.Workers)
	if err != nil {
		return nil, err
	}

	stats := newRollingStats(series, w)
	now := time.Now().UTC()

	patterns := d.motifs(series, stats, profile, readings, exclusion, userID, now)
	patterns = append(patterns, d.discords(series, profile, readings, exclusion, userID, now)...)
	return patterns, nil
}

// motifs greedily extracts up to TopK non-overlapping clusters. The
// unused window with the smallest profile value seeds each cluster; any
// still-unused window within ClusterRadiusFactor times the seed's
// neighbor distance joins it. Every admitted member claims its
// exclusion zone, so no window belongs to two clusters.
func (d *Detector) motifs(series []float64, stats rollingStats, profile matrixProfile, readings []datatypes.RawReading, exclusion int, userID string, now time.Time) []datatypes.Pattern {
	nWin := len(profile.dist)
	order := make([]int, nWin)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return profile.dist[order[a]] < profile.dist[order[b]]
	})

	used := make([]bool, nWin)
	claim := func(i int) {
		lo, hi := i-exclusion+1, i+exclusion
		if lo < 0 {
			lo = 0
		}
		if hi > nWin {
			hi = nWin
		}
		for j := lo; j < hi; j++ {
			used[j] = true
		}
	}

	var out []datatypes.Pattern
	row := make([]float64, nWin)
	for _, seed := range order {
		if len(out) >= d.cfg.TopK {
			break
		}
		if used[seed] || math.IsInf(profile.dist[seed], 1) {
			continue
		}
		radius := profile.dist[seed] * d.cfg.ClusterRadiusFactor

		distanceTo(series, stats, seed, d.cfg.WindowLen, exclusion, row)
		members := []int{seed}
		claim(seed)
		// The seed's nearest neighbor is a member by construction; with
		// exact repeats the seed distance is ~0 and a multiplicative
		// radius alone would admit nothing.
		if nn := profile.idx[seed]; nn >= 0 && !used[nn] {
			members = append(members, nn)
			claim(nn)
		}
		candidates := make([]int, 0, nWin)
		for j := 0; j < nWin; j++ {
			if !used[j] && row[j] <= radius {
				candidates = append(candidates, j)
			}
		}
		sort.Slice(candidates, func(a, b int) bool {
			return row[candidates[a]] < row[candidates[b]]
		})
		for _, j := range candidates {
			if used[j] {
				continue
			}
			members = append(members, j)
			claim(j)
		}
		if len(members) < 2 {
			// A motif by definition recurs; a seed with no admissible
			// neighbor is noise, not a pattern.
			continue
		}

		sort.Ints(members)
		p := summarize(series, readings, members, d.cfg.WindowLen)
		p.UserID = userID
		p.Kind = datatypes.PatternMotif
		p.ComputedAt = now
		out = append(out, p)
	}
	return out
}

// discords returns up to TopK non-overlapping windows with the largest
// finite neighbor distance, graded against the series-wide profile
// distribution.
func (d *Detector) discords(series []float64, profile matrixProfile, readings []datatypes.RawReading, exclusion int, userID string, now time.Time) []datatypes.Pattern {
	nWin := len(profile.dist)
	mean, std := profileMoments(profile.dist)

	// A window whose neighbor correlation exceeds nearDuplicateCorr is
	// effectively a repeat; grading it by sigma alone would let the tiny
	// numerical spread of a highly regular series fabricate severities.
	w := float64(d.cfg.WindowLen)
	dupFloor := math.Sqrt(2 * w * (1 - nearDuplicateCorr))

	order := make([]int, 0, nWin)
	for i := 0; i < nWin; i++ {
		if !math.IsInf(profile.dist[i], 1) {
			order = append(order, i)
		}
	}
	sort.Slice(order, func(a, b int) bool {
		return profile.dist[order[a]] > profile.dist[order[b]]
	})

	var out []datatypes.Pattern
	taken := make([]int, 0, d.cfg.TopK)
	for _, i := range order {
		if len(out) >= d.cfg.TopK {
			break
		}
		overlaps := false
		for _, t := range taken {
			if absInt(i-t) < exclusion {
				overlaps = true
				break
			}
		}
		if overlaps {
			continue
		}
		taken = append(taken, i)

		p := summarize(series, readings, []int{i}, d.cfg.WindowLen)
		p.UserID = userID
		p.Kind = datatypes.PatternAnomaly
		p.Severity = severityFor(profile.dist[i], mean, std, dupFloor)
		p.ComputedAt = now
		out = append(out, p)
	}
	return out
}

// nearDuplicateCorr is the neighbor correlation above which a window is
// treated as a repeat rather than an anomaly candidate.
const nearDuplicateCorr = 0.999

// severityFor grades a discord's neighbor distance in standard
// deviations above the series-wide mean. Distances below dupFloor are
// always low.
func severityFor(dist, mean, std, dupFloor float64) datatypes.SeverityTier {
	if std < flatStd || dist < dupFloor {
		return datatypes.SeverityLow
	}
	sigma := (dist - mean) / std
	switch {
	case sigma > 3:
		return datatypes.SeverityHigh
	case sigma > 2:
		return datatypes.SeverityMedium
	default:
		return datatypes.SeverityLow
	}
}

// profileMoments returns the mean and standard deviation of the finite
// profile entries.
func profileMoments(dist []float64) (float64, float64) {
	var sum float64
	n := 0
	for _, d := range dist {
		if math.IsInf(d, 1) {
			continue
		}
		sum += d
		n++
	}
	if n == 0 {
		return 0, 0
	}
	mean := sum / float64(n)
	var ss float64
	for _, d := range dist {
		if math.IsInf(d, 1) {
			continue
		}
		ss += (d - mean) * (d - mean)
	}
	return mean, math.Sqrt(ss / float64(n))
}

// summarize builds a Pattern skeleton from the raw (un-normalized)
// values of the member windows: pooled mean/std/min/max plus one start
// timestamp per member.
func summarize(series []float64, readings []datatypes.RawReading, members []int, w int) datatypes.Pattern {
	var sum, sumSq float64
	minV, maxV := math.Inf(1), math.Inf(-1)
	n := 0
	for _, m := range members {
		for k := 0; k < w; k++ {
			v := series[m+k]
			sum += v
			sumSq += v * v
			if v < minV {
				minV = v
			}
			if v > maxV {
				maxV = v
			}
			n++
		}
	}
	mean := sum / float64(n)
	variance := sumSq/float64(n) - mean*mean
	if variance < 0 {
		variance = 0
	}

	timestamps := make([]time.Time, 0, len(members))
	for _, m := range members {
		timestamps = append(timestamps, readings[m].Timestamp)
	}
	return datatypes.Pattern{
		WindowLen:   w,
		Mean:        mean,
		Std:         math.Sqrt(variance),
		Min:         minV,
		Max:         maxV,
		Occurrences: len(members),
		Timestamps:  timestamps,
	}
}
