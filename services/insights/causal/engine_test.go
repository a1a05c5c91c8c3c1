// Copyright (C) 2026 Glycoscope Labs (eng@glycoscope.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package causal

import (
	"context"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glycoscope/glycoscope/services/insights/datatypes"
)

// syntheticHistory builds days of aggregates where exercising more than
// 30 minutes on day t-1 lowers mean glucose on day t by about 8 mg/dL.
// All other features are independent noise.
func syntheticHistory(days int, seed int64) []datatypes.DailyAggregate {
	rng := rand.New(rand.NewSource(seed))
	start := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	exercise := make([]float64, days)
	for t := 0; t < days; t++ {
		if rng.Float64() < 0.5 {
			exercise[t] = 45 + rng.Float64()*30
		} else {
			exercise[t] = rng.Float64() * 15
		}
	}

	aggs := make([]datatypes.DailyAggregate, 0, days)
	for t := 0; t < days; t++ {
		glucose := 128 + rng.NormFloat64()*3
		if t > 0 && exercise[t-1] > 30 {
			glucose -= 8
		}
		agg := datatypes.DailyAggregate{
			UserID: "alice",
			Date:   start.AddDate(0, 0, t).Format(datatypes.DateLayout),
		}
		agg.SetFeature(datatypes.FeatureGlucoseMean, glucose)
		agg.SetFeature(datatypes.FeatureTimeInRange, 75+rng.NormFloat64()*4)
		agg.SetFeature(datatypes.FeatureSleepMinutes, 420+rng.NormFloat64()*40)
		agg.SetFeature(datatypes.FeatureExerciseMinutes, exercise[t])
		agg.SetFeature(datatypes.FeatureCarbGrams, 150+rng.NormFloat64()*30)
		aggs = append(aggs, agg)
	}
	return aggs
}

func findLink(links []datatypes.CausalLink, src, dst datatypes.FeatureName, lag int) (datatypes.CausalLink, bool) {
	for _, l := range links {
		if l.Source == src && l.Target == dst && l.LagDays == lag {
			return l, true
		}
	}
	return datatypes.CausalLink{}, false
}

func TestDiscoverPlantedDependency(t *testing.T) {
	engine := New(DefaultConfig())
	aggs := syntheticHistory(90, 42)

	links, err := engine.Discover(context.Background(), "alice", aggs)
	require.NoError(t, err)
	require.NotEmpty(t, links)

	link, found := findLink(links, datatypes.FeatureExerciseMinutes, datatypes.FeatureGlucoseMean, 1)
	require.True(t, found, "planted exercise -> glucose dependency at lag 1 not recovered")
	assert.Negative(t, link.Strength, "more exercise must correlate with lower glucose")
	assert.Less(t, link.PValue, 0.05)
	assert.NotEqual(t, datatypes.TierFallback, link.Tier,
		"90 days of complete data must use the conditional test, not the fallback")

	for _, l := range links {
		assert.LessOrEqual(t, math.Abs(l.Strength), 1.0, "strength magnitude must be clipped to [-1,1]")
		assert.GreaterOrEqual(t, l.LagDays, 0)
		assert.Less(t, l.PValue, 0.05, "links at or above alpha must be discarded")
	}
}

func TestDiscoverSparseUserFallbackOnly(t *testing.T) {
	engine := New(DefaultConfig())
	aggs := syntheticHistory(15, 7)

	links, err := engine.Discover(context.Background(), "alice", aggs)
	require.NoError(t, err)

	for _, l := range links {
		assert.Equal(t, datatypes.TierFallback, l.Tier,
			"below the minimum sample threshold only fallback-tier links may be emitted (got %s for %s->%s lag %d)",
			l.Tier, l.Source, l.Target, l.LagDays)
	}
}

func TestDiscoverEmptyHistory(t *testing.T) {
	engine := New(DefaultConfig())
	links, err := engine.Discover(context.Background(), "alice", nil)
	require.NoError(t, err)
	assert.Empty(t, links)
}

func TestDiscoverHonorsContext(t *testing.T) {
	engine := New(DefaultConfig())
	aggs := syntheticHistory(90, 42)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.Discover(ctx, "alice", aggs)
	assert.ErrorIs(t, err, datatypes.ErrComputationTimeout)
}

func TestDiscoverMissingDaysAreNotZeros(t *testing.T) {
	// A history with every second day missing must still run without
	// fabricating values for the gaps.
	engine := New(DefaultConfig())
	full := syntheticHistory(90, 11)
	sparse := make([]datatypes.DailyAggregate, 0, 45)
	for i, a := range full {
		if i%2 == 0 {
			sparse = append(sparse, a)
		}
	}

	links, err := engine.Discover(context.Background(), "alice", sparse)
	require.NoError(t, err)
	for _, l := range links {
		assert.LessOrEqual(t, l.SampleSize, 45, "sample size cannot exceed available days")
	}
}

func TestPearson(t *testing.T) {
	x := []float64{1, 2, 3, 4, 5}
	assert.InDelta(t, 1.0, pearson(x, x), 1e-12)

	inv := []float64{5, 4, 3, 2, 1}
	assert.InDelta(t, -1.0, pearson(x, inv), 1e-12)

	flat := []float64{2, 2, 2, 2, 2}
	assert.Equal(t, 0.0, pearson(x, flat), "zero variance must yield 0, not NaN")
}

func TestFisherPValue(t *testing.T) {
	// Stronger correlation, same n: smaller p.
	assert.Less(t, fisherPValue(0.8, 50, 0), fisherPValue(0.3, 50, 0))
	// Same correlation, more samples: smaller p.
	assert.Less(t, fisherPValue(0.4, 100, 0), fisherPValue(0.4, 20, 0))
	// Degenerate degrees of freedom: p = 1.
	assert.Equal(t, 1.0, fisherPValue(0.9, 3, 2))
}

func TestPartialCorrelationRemovesConfounder(t *testing.T) {
	// x and y are both driven by z; conditioning on z must collapse the
	// marginal correlation.
	rng := rand.New(rand.NewSource(3))
	n := 200
	x := make([]float64, n)
	y := make([]float64, n)
	z := make([]float64, n)
	for i := 0; i < n; i++ {
		z[i] = rng.NormFloat64()
		x[i] = 2*z[i] + rng.NormFloat64()*0.3
		y[i] = -3*z[i] + rng.NormFloat64()*0.3
	}

	test := PartialCorrelationTest{}
	marginal, _, err := test.Test(x, y, nil)
	require.NoError(t, err)
	partial, _, err := test.Test(x, y, [][]float64{z})
	require.NoError(t, err)

	assert.Greater(t, math.Abs(marginal), 0.9)
	assert.Less(t, math.Abs(partial), 0.2)
}

func TestSolveSingular(t *testing.T) {
	_, ok := solve([][]float64{{1, 2}, {2, 4}}, []float64{1, 2})
	assert.False(t, ok)
}

func TestBuildMatrixGaps(t *testing.T) {
	aggs := []datatypes.DailyAggregate{
		{UserID: "u", Date: "2026-08-01"},
		{UserID: "u", Date: "2026-08-04"},
	}
	aggs[0].SetFeature(datatypes.FeatureGlucoseMean, 100)
	aggs[1].SetFeature(datatypes.FeatureGlucoseMean, 120)

	matrix, nDays, err := buildMatrix(aggs, datatypes.CausalFeatures())
	require.NoError(t, err)
	assert.Equal(t, 4, nDays)

	s := matrix[datatypes.FeatureGlucoseMean]
	assert.Equal(t, 100.0, s[0])
	assert.True(t, math.IsNaN(s[1]), "calendar gap must be NaN")
	assert.True(t, math.IsNaN(s[2]))
	assert.Equal(t, 120.0, s[3])
}

func BenchmarkDiscover90Days(b *testing.B) {
	engine := New(DefaultConfig())
	aggs := syntheticHistory(90, 1)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := engine.Discover(context.Background(), "alice", aggs); err != nil {
			b.Fatal(err)
		}
	}
}
