// Copyright (C) 2026 Glycoscope Labs (eng@glycoscope.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes defines the domain types shared across the insights
// pipeline: raw readings, daily aggregates, analysis artifacts, and the
// coordination records used by the orchestrator.
//
// Types in this package are plain data. All behavior lives in the component
// packages (aggregate, causal, motif, rules, pipeline).
package datatypes

import "time"

// MetricKind identifies the kind of physiological or lifestyle measurement
// carried by a RawReading.
type MetricKind string

const (
	MetricGlucose  MetricKind = "glucose"
	MetricSleep    MetricKind = "sleep"
	MetricMeal     MetricKind = "meal"
	MetricActivity MetricKind = "activity"
)

// AllMetricKinds lists every supported metric kind in a stable order.
func AllMetricKinds() []MetricKind {
	return []MetricKind{MetricGlucose, MetricSleep, MetricMeal, MetricActivity}
}

// Valid reports whether k names a supported metric kind.
func (k MetricKind) Valid() bool {
	switch k {
	case MetricGlucose, MetricSleep, MetricMeal, MetricActivity:
		return true
	default:
		return false
	}
}

// RawReading is one time-stamped measurement as ingested by the upstream
// CRUD service. Readings are immutable and read-only to the pipeline.
//
// # Fields
//
//   - UserID: Owner of the reading.
//   - Timestamp: Sample time in UTC.
//   - Kind: Metric kind (glucose, sleep, meal, activity).
//   - Value: Scalar value. Unit depends on Kind: mg/dL for glucose,
//     minutes for sleep and activity, grams of carbohydrate for meals.
//   - Attributes: Optional structured attributes (e.g. meal description).
type RawReading struct {
	UserID     string            `json:"user_id"`
	Timestamp  time.Time         `json:"timestamp"`
	Kind       MetricKind        `json:"kind"`
	Value      float64           `json:"value"`
	Attributes map[string]string `json:"attributes,omitempty"`
}
