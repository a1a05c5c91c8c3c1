// Copyright (C) 2026 Glycoscope Labs (eng@glycoscope.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package motif

import (
	"context"
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/glycoscope/glycoscope/services/insights/datatypes"
)

// flatStd is the floor below which a window is treated as flat. Flat
// windows have no shape under z-normalization, so they never match
// anything and never count as discords.
const flatStd = 1e-8

// matrixProfile holds, for every window start i, the z-normalized
// Euclidean distance to its nearest non-overlapping neighbor and that
// neighbor's start index. Flat windows carry distance +Inf and index -1.
type matrixProfile struct {
	dist []float64
	idx  []int
}

// rollingStats holds per-window mean and standard deviation computed
// from cumulative sums, so each window's statistics are O(1).
type rollingStats struct {
	mean []float64
	std  []float64
}

func newRollingStats(series []float64, w int) rollingStats {
	nWin := len(series) - w + 1
	stats := rollingStats{
		mean: make([]float64, nWin),
		std:  make([]float64, nWin),
	}
	var sum, sumSq float64
	for i := 0; i < w; i++ {
		sum += series[i]
		sumSq += series[i] * series[i]
	}
	fw := float64(w)
	for i := 0; i < nWin; i++ {
		m := sum / fw
		variance := sumSq/fw - m*m
		if variance < 0 {
			variance = 0
		}
		stats.mean[i] = m
		stats.std[i] = math.Sqrt(variance)
		if i+w < len(series) {
			sum += series[i+w] - series[i]
			sumSq += series[i+w]*series[i+w] - series[i]*series[i]
		}
	}
	return stats
}

// znDistance converts a sliding dot product between windows i and j into
// their z-normalized Euclidean distance.
func znDistance(qt float64, stats rollingStats, i, j, w int) float64 {
	si, sj := stats.std[i], stats.std[j]
	if si < flatStd || sj < flatStd {
		return math.Inf(1)
	}
	fw := float64(w)
	corr := (qt - fw*stats.mean[i]*stats.mean[j]) / (fw * si * sj)
	if corr > 1 {
		corr = 1
	} else if corr < -1 {
		corr = -1
	}
	return math.Sqrt(2 * fw * (1 - corr))
}

// computeProfile builds the matrix profile for the series under an
// exclusion zone: per-window nearest-neighbor distance and index.
//
// The all-pairs structure is walked diagonal by diagonal. Along a
// diagonal the dot product between windows (i, i+d) updates in O(1)
// from (i-1, i-1+d), so the whole profile costs O(n^2) cell updates
// instead of O(n^2 * w) dot products. Diagonals are independent, so
// they are sharded round-robin across workers, each accumulating into
// private minima merged at the end. The context is checked once per
// diagonal; expiry aborts with datatypes.ErrComputationTimeout.
func computeProfile(ctx context.Context, series []float64, w, exclusion, workers int) (matrixProfile, error) {
	nWin := len(series) - w + 1
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > nWin {
		workers = 1
	}
	stats := newRollingStats(series, w)

	locals := make([]matrixProfile, workers)
	g, gctx := errgroup.WithContext(ctx)
	for t := 0; t < workers; t++ {
		local := matrixProfile{
			dist: make([]float64, nWin),
			idx:  make([]int, nWin),
		}
		for i := range local.dist {
			local.dist[i] = math.Inf(1)
			local.idx[i] = -1
		}
		locals[t] = local
		g.Go(func() error {
			for d := exclusion + t; d < nWin; d += workers {
				if gctx.Err() != nil {
					return fmt.Errorf("%w: distance profile aborted: %v",
						datatypes.ErrComputationTimeout, gctx.Err())
				}
				var qt float64
				for k := 0; k < w; k++ {
					qt += series[k] * series[d+k]
				}
				for i := 0; i+d < nWin; i++ {
					if i > 0 {
						qt += series[i+w-1]*series[i+d+w-1] - series[i-1]*series[i+d-1]
					}
					dist := znDistance(qt, stats, i, i+d, w)
					if dist < local.dist[i] {
						local.dist[i] = dist
						local.idx[i] = i + d
					}
					if dist < local.dist[i+d] {
						local.dist[i+d] = dist
						local.idx[i+d] = i
					}
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return matrixProfile{}, err
	}

	profile := locals[0]
	for t := 1; t < workers; t++ {
		for i := 0; i < nWin; i++ {
			if locals[t].dist[i] < profile.dist[i] {
				profile.dist[i] = locals[t].dist[i]
				profile.idx[i] = locals[t].idx[i]
			}
		}
	}
	return profile, nil
}

// distanceTo fills dist with the z-normalized distance from window i to
// every other window, +Inf inside the exclusion zone. Used once per
// selected motif seed to gather cluster members, so the direct O(n*w)
// cost is negligible next to the profile itself.
func distanceTo(series []float64, stats rollingStats, i, w, exclusion int, dist []float64) {
	nWin := len(series) - w + 1
	for j := 0; j < nWin; j++ {
		if absInt(i-j) < exclusion {
			dist[j] = math.Inf(1)
			continue
		}
		var qt float64
		for k := 0; k < w; k++ {
			qt += series[i+k] * series[j+k]
		}
		dist[j] = znDistance(qt, stats, i, j, w)
	}
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
