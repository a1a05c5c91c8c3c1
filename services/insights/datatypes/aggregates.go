// Copyright (C) 2026 Glycoscope Labs (eng@glycoscope.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "time"

// FeatureName identifies one scalar feature inside a DailyAggregate.
type FeatureName string

const (
	FeatureGlucoseMean     FeatureName = "glucose_mean"
	FeatureGlucoseStd      FeatureName = "glucose_std"
	FeatureGlucoseMin      FeatureName = "glucose_min"
	FeatureGlucoseMax      FeatureName = "glucose_max"
	FeatureTimeInRange     FeatureName = "time_in_range_pct"
	FeatureSleepMinutes    FeatureName = "sleep_minutes"
	FeatureExerciseMinutes FeatureName = "exercise_minutes"
	FeatureCarbGrams       FeatureName = "carb_grams"
)

// AllFeatures lists every tracked daily feature in a stable order.
func AllFeatures() []FeatureName {
	return []FeatureName{
		FeatureGlucoseMean,
		FeatureGlucoseStd,
		FeatureGlucoseMin,
		FeatureGlucoseMax,
		FeatureTimeInRange,
		FeatureSleepMinutes,
		FeatureExerciseMinutes,
		FeatureCarbGrams,
	}
}

// CausalFeatures lists the features the causal discovery engine tests.
//
// The glucose min/max/std features are excluded: they are near-collinear
// with glucose_mean and time_in_range_pct, and conditioning on collinear
// variables destabilizes the partial-correlation test.
func CausalFeatures() []FeatureName {
	return []FeatureName{
		FeatureGlucoseMean,
		FeatureTimeInRange,
		FeatureSleepMinutes,
		FeatureExerciseMinutes,
		FeatureCarbGrams,
	}
}

// DateLayout is the canonical calendar-day format used throughout the
// pipeline. Days are always interpreted in UTC.
const DateLayout = "2006-01-02"

// DailyAggregate is one user's compressed feature vector for one calendar
// day. Exactly one aggregate exists per (user, date); the aggregator
// overwrites it wholesale on re-runs.
//
// Feature fields are pointers: nil means "insufficient data for this
// feature on this day", which downstream consumers must never conflate
// with a zero value.
type DailyAggregate struct {
	UserID string `json:"user_id"`
	Date   string `json:"date"` // DateLayout, UTC

	GlucoseMean     *float64 `json:"glucose_mean,omitempty"`
	GlucoseStd      *float64 `json:"glucose_std,omitempty"`
	GlucoseMin      *float64 `json:"glucose_min,omitempty"`
	GlucoseMax      *float64 `json:"glucose_max,omitempty"`
	TimeInRangePct  *float64 `json:"time_in_range_pct,omitempty"`
	SleepMinutes    *float64 `json:"sleep_minutes,omitempty"`
	ExerciseMinutes *float64 `json:"exercise_minutes,omitempty"`
	CarbGrams       *float64 `json:"carb_grams,omitempty"`

	ComputedAt time.Time `json:"computed_at"`
}

// Feature returns the named feature value and whether it is present.
func (a *DailyAggregate) Feature(name FeatureName) (float64, bool) {
	p := a.featurePtr(name)
	if p == nil || *p == nil {
		return 0, false
	}
	return **p, true
}

// SetFeature sets the named feature value. Unknown names are ignored.
func (a *DailyAggregate) SetFeature(name FeatureName, v float64) {
	p := a.featurePtr(name)
	if p == nil {
		return
	}
	*p = &v
}

func (a *DailyAggregate) featurePtr(name FeatureName) **float64 {
	switch name {
	case FeatureGlucoseMean:
		return &a.GlucoseMean
	case FeatureGlucoseStd:
		return &a.GlucoseStd
	case FeatureGlucoseMin:
		return &a.GlucoseMin
	case FeatureGlucoseMax:
		return &a.GlucoseMax
	case FeatureTimeInRange:
		return &a.TimeInRangePct
	case FeatureSleepMinutes:
		return &a.SleepMinutes
	case FeatureExerciseMinutes:
		return &a.ExerciseMinutes
	case FeatureCarbGrams:
		return &a.CarbGrams
	default:
		return nil
	}
}
