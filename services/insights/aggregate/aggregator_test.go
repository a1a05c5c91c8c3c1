// Copyright (C) 2026 Glycoscope Labs (eng@glycoscope.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package aggregate

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glycoscope/glycoscope/services/insights/datatypes"
)

// fakeReader serves canned readings per metric kind.
type fakeReader struct {
	readings map[datatypes.MetricKind][]datatypes.RawReading
	err      error
}

func (f *fakeReader) ListReadings(_ context.Context, _ string, kind datatypes.MetricKind, _, _ time.Time) ([]datatypes.RawReading, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.readings[kind], nil
}

func day(d int) time.Time {
	return time.Date(2026, 8, d, 0, 0, 0, 0, time.UTC)
}

func reading(kind datatypes.MetricKind, ts time.Time, value float64) datatypes.RawReading {
	return datatypes.RawReading{UserID: "alice", Kind: kind, Timestamp: ts, Value: value}
}

func TestRunComputesGlucoseFeatures(t *testing.T) {
	reader := &fakeReader{readings: map[datatypes.MetricKind][]datatypes.RawReading{
		datatypes.MetricGlucose: {
			reading(datatypes.MetricGlucose, day(1).Add(8*time.Hour), 100),
			reading(datatypes.MetricGlucose, day(1).Add(12*time.Hour), 140),
			reading(datatypes.MetricGlucose, day(1).Add(18*time.Hour), 220), // out of band
			reading(datatypes.MetricGlucose, day(1).Add(22*time.Hour), 100),
		},
		datatypes.MetricSleep: {
			reading(datatypes.MetricSleep, day(1).Add(6*time.Hour), 420),
		},
		datatypes.MetricActivity: {
			reading(datatypes.MetricActivity, day(1).Add(17*time.Hour), 30),
			reading(datatypes.MetricActivity, day(1).Add(19*time.Hour), 15),
		},
		datatypes.MetricMeal: {
			reading(datatypes.MetricMeal, day(1).Add(12*time.Hour), 60),
			reading(datatypes.MetricMeal, day(1).Add(19*time.Hour), 45),
		},
	}}

	agg := New(reader, Config{})
	got, err := agg.Run(context.Background(), "alice", day(1), day(2))
	require.NoError(t, err)
	require.Len(t, got, 1)

	a := got[0]
	assert.Equal(t, "2026-08-01", a.Date)
	require.NotNil(t, a.GlucoseMean)
	assert.InDelta(t, 140.0, *a.GlucoseMean, 1e-9)
	require.NotNil(t, a.GlucoseMin)
	assert.Equal(t, 100.0, *a.GlucoseMin)
	require.NotNil(t, a.GlucoseMax)
	assert.Equal(t, 220.0, *a.GlucoseMax)
	require.NotNil(t, a.TimeInRangePct)
	assert.InDelta(t, 75.0, *a.TimeInRangePct, 1e-9)
	require.NotNil(t, a.SleepMinutes)
	assert.Equal(t, 420.0, *a.SleepMinutes)
	require.NotNil(t, a.ExerciseMinutes)
	assert.Equal(t, 45.0, *a.ExerciseMinutes)
	require.NotNil(t, a.CarbGrams)
	assert.Equal(t, 105.0, *a.CarbGrams)
}

func TestRunEmptyDayHasAbsentFeatures(t *testing.T) {
	agg := New(&fakeReader{readings: map[datatypes.MetricKind][]datatypes.RawReading{}}, Config{})

	got, err := agg.Run(context.Background(), "alice", day(1), day(3))
	require.NoError(t, err)
	require.Len(t, got, 2, "one aggregate per calendar day in range")

	for _, a := range got {
		assert.Nil(t, a.GlucoseMean, "zero readings must yield absent features, not zeros")
		assert.Nil(t, a.GlucoseStd)
		assert.Nil(t, a.TimeInRangePct)
		assert.Nil(t, a.SleepMinutes)
		assert.Nil(t, a.ExerciseMinutes)
		assert.Nil(t, a.CarbGrams)
	}
}

func TestRunPartitionsByCalendarDay(t *testing.T) {
	// A reading at 23:59 and one at 00:01 the next day must land in
	// different aggregates.
	reader := &fakeReader{readings: map[datatypes.MetricKind][]datatypes.RawReading{
		datatypes.MetricGlucose: {
			reading(datatypes.MetricGlucose, day(1).Add(23*time.Hour+59*time.Minute), 100),
			reading(datatypes.MetricGlucose, day(2).Add(1*time.Minute), 200),
		},
	}}

	agg := New(reader, Config{})
	got, err := agg.Run(context.Background(), "alice", day(1), day(3))
	require.NoError(t, err)
	require.Len(t, got, 2)

	require.NotNil(t, got[0].GlucoseMean)
	assert.Equal(t, 100.0, *got[0].GlucoseMean)
	require.NotNil(t, got[1].GlucoseMean)
	assert.Equal(t, 200.0, *got[1].GlucoseMean)
}

func TestRunIdempotent(t *testing.T) {
	reader := &fakeReader{readings: map[datatypes.MetricKind][]datatypes.RawReading{
		datatypes.MetricGlucose: {
			reading(datatypes.MetricGlucose, day(1).Add(9*time.Hour), 110),
			reading(datatypes.MetricGlucose, day(1).Add(15*time.Hour), 130),
		},
	}}
	agg := New(reader, Config{})

	first, err := agg.Run(context.Background(), "alice", day(1), day(2))
	require.NoError(t, err)
	second, err := agg.Run(context.Background(), "alice", day(1), day(2))
	require.NoError(t, err)

	// Strip the computed-at stamps; everything else must be identical.
	for i := range first {
		first[i].ComputedAt = time.Time{}
		second[i].ComputedAt = time.Time{}
	}
	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	assert.Equal(t, a, b, "identical input must produce byte-identical aggregates")
}

func TestRunUpstreamErrorPropagates(t *testing.T) {
	reader := &fakeReader{err: datatypes.ErrUpstreamRead}
	agg := New(reader, Config{})

	_, err := agg.Run(context.Background(), "alice", day(1), day(2))
	assert.True(t, errors.Is(err, datatypes.ErrUpstreamRead))
}

func TestRunRejectsEmptyRange(t *testing.T) {
	agg := New(&fakeReader{}, Config{})
	_, err := agg.Run(context.Background(), "alice", day(2), day(2))
	assert.True(t, errors.Is(err, datatypes.ErrInvalidParameter))
}

func TestSampleStd(t *testing.T) {
	assert.Equal(t, 0.0, sampleStd([]float64{5}))
	assert.InDelta(t, 1.0, sampleStd([]float64{1, 2, 3}), 1e-9)
}
