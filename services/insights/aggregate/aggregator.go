// Copyright (C) 2026 Glycoscope Labs (eng@glycoscope.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package aggregate compresses raw readings into daily feature vectors.
//
// The aggregator is deterministic and side-effect free: given the same
// readings it produces byte-identical aggregates, so re-running a day is
// a full overwrite, never an accumulation. Persistence is the
// orchestrator's job.
package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/glycoscope/glycoscope/services/insights/datatypes"
	"github.com/glycoscope/glycoscope/services/insights/readings"
)

// TargetBand is the glucose range counted as "in range" for the
// time-in-range percentage, in mg/dL.
type TargetBand struct {
	Low  float64
	High float64
}

// DefaultTargetBand is the standard 70-180 mg/dL consensus band.
func DefaultTargetBand() TargetBand {
	return TargetBand{Low: 70, High: 180}
}

// Config holds aggregator settings.
type Config struct {
	Band TargetBand
}

// Aggregator derives one DailyAggregate per calendar day from raw
// readings. Days are partitioned in UTC.
type Aggregator struct {
	reader readings.Reader
	cfg    Config
}

// New creates an Aggregator over the given readings source.
func New(reader readings.Reader, cfg Config) *Aggregator {
	if cfg.Band.High <= cfg.Band.Low {
		cfg.Band = DefaultTargetBand()
	}
	return &Aggregator{reader: reader, cfg: cfg}
}

// Run aggregates every calendar day in [from, to) for the user.
//
// Each day in the range yields exactly one DailyAggregate, even days with
// no readings at all: such days carry all-nil features, which downstream
// consumers read as "insufficient data", never as zero. Readings-store
// failures propagate wrapped in datatypes.ErrUpstreamRead.
func (a *Aggregator) Run(ctx context.Context, userID string, from, to time.Time) ([]datatypes.DailyAggregate, error) {
	from = from.UTC().Truncate(24 * time.Hour)
	to = to.UTC().Truncate(24 * time.Hour)
	if !to.After(from) {
		return nil, fmt.Errorf("%w: empty date range [%s, %s)", datatypes.ErrInvalidParameter,
			from.Format(datatypes.DateLayout), to.Format(datatypes.DateLayout))
	}

	byKind := make(map[datatypes.MetricKind][]datatypes.RawReading)
	for _, kind := range datatypes.AllMetricKinds() {
		rs, err := a.reader.ListReadings(ctx, userID, kind, from, to)
		if err != nil {
			return nil, fmt.Errorf("list %s readings: %w", kind, err)
		}
		byKind[kind] = rs
	}

	computedAt := time.Now().UTC()
	var out []datatypes.DailyAggregate
	for day := from; day.Before(to); day = day.Add(24 * time.Hour) {
		agg := a.aggregateDay(userID, day, byKind)
		agg.ComputedAt = computedAt
		out = append(out, agg)
	}

	slog.Debug("aggregation complete", "user_id", userID, "days", len(out),
		"from", from.Format(datatypes.DateLayout), "to", to.Format(datatypes.DateLayout))
	return out, nil
}

// aggregateDay builds the feature vector for one UTC calendar day.
func (a *Aggregator) aggregateDay(userID string, day time.Time, byKind map[datatypes.MetricKind][]datatypes.RawReading) datatypes.DailyAggregate {
	next := day.Add(24 * time.Hour)
	agg := datatypes.DailyAggregate{
		UserID: userID,
		Date:   day.Format(datatypes.DateLayout),
	}

	glucose := valuesInDay(byKind[datatypes.MetricGlucose], day, next)
	if len(glucose) > 0 {
		agg.SetFeature(datatypes.FeatureGlucoseMean, mean(glucose))
		agg.SetFeature(datatypes.FeatureGlucoseStd, sampleStd(glucose))
		agg.SetFeature(datatypes.FeatureGlucoseMin, minOf(glucose))
		agg.SetFeature(datatypes.FeatureGlucoseMax, maxOf(glucose))
		agg.SetFeature(datatypes.FeatureTimeInRange, a.timeInRangePct(glucose))
	}

	if sleep := valuesInDay(byKind[datatypes.MetricSleep], day, next); len(sleep) > 0 {
		agg.SetFeature(datatypes.FeatureSleepMinutes, sum(sleep))
	}
	if activity := valuesInDay(byKind[datatypes.MetricActivity], day, next); len(activity) > 0 {
		agg.SetFeature(datatypes.FeatureExerciseMinutes, sum(activity))
	}
	if meals := valuesInDay(byKind[datatypes.MetricMeal], day, next); len(meals) > 0 {
		agg.SetFeature(datatypes.FeatureCarbGrams, sum(meals))
	}
	return agg
}

func (a *Aggregator) timeInRangePct(glucose []float64) float64 {
	inRange := 0
	for _, v := range glucose {
		if v >= a.cfg.Band.Low && v <= a.cfg.Band.High {
			inRange++
		}
	}
	return 100 * float64(inRange) / float64(len(glucose))
}

// valuesInDay extracts the values of readings with timestamp in [day, next).
func valuesInDay(rs []datatypes.RawReading, day, next time.Time) []float64 {
	var vals []float64
	for _, r := range rs {
		ts := r.Timestamp.UTC()
		if !ts.Before(day) && ts.Before(next) {
			vals = append(vals, r.Value)
		}
	}
	return vals
}

func sum(vals []float64) float64 {
	total := 0.0
	for _, v := range vals {
		total += v
	}
	return total
}

func mean(vals []float64) float64 {
	return sum(vals) / float64(len(vals))
}

// sampleStd returns the n-1 standard deviation, or 0 for a single sample.
func sampleStd(vals []float64) float64 {
	if len(vals) < 2 {
		return 0
	}
	m := mean(vals)
	ss := 0.0
	for _, v := range vals {
		d := v - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(vals)-1))
}

func minOf(vals []float64) float64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxOf(vals []float64) float64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v > m {
			m = v
		}
	}
	return m
}
