// Copyright (C) 2026 Glycoscope Labs (eng@glycoscope.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "time"

// TriggerRequest asks the orchestrator to run an analysis for a user.
// Kind must be one of the AnalysisKind values; the binding-level
// "analysiskind" validator rejects anything else before a job is created.
type TriggerRequest struct {
	UserID string       `json:"user_id" binding:"required"`
	Kind   AnalysisKind `json:"kind" binding:"required,analysiskind"`
}

// TriggerResponse returns the job id for a trigger. Deduplicated is true
// when an active job for the same (user, kind) already existed and its id
// was returned instead of creating a new one.
type TriggerResponse struct {
	JobID        string `json:"job_id"`
	Deduplicated bool   `json:"deduplicated"`
}

// DashboardSummary is the period roll-up served to the presentation layer.
// Feature means are nil when no day in the period carried that feature.
type DashboardSummary struct {
	UserID              string   `json:"user_id"`
	PeriodDays          int      `json:"period_days"`
	DaysWithData        int      `json:"days_with_data"`
	GlucoseMean         *float64 `json:"glucose_mean,omitempty"`
	TimeInRangePct      *float64 `json:"time_in_range_pct,omitempty"`
	SleepMinutesMean    *float64 `json:"sleep_minutes_mean,omitempty"`
	ExerciseMinutesMean *float64 `json:"exercise_minutes_mean,omitempty"`
	CarbGramsMean       *float64 `json:"carb_grams_mean,omitempty"`
	LastRunFailed       bool     `json:"last_run_failed"`
}

// CausalLinksResponse wraps a user's causal links with run bookkeeping.
type CausalLinksResponse struct {
	UserID        string       `json:"user_id"`
	Links         []CausalLink `json:"links"`
	ComputedAt    time.Time    `json:"computed_at"`
	LastRunFailed bool         `json:"last_run_failed"`
}

// PatternsResponse wraps a user's patterns of one kind.
type PatternsResponse struct {
	UserID        string      `json:"user_id"`
	Kind          PatternKind `json:"kind"`
	Patterns      []Pattern   `json:"patterns"`
	ComputedAt    time.Time   `json:"computed_at"`
	LastRunFailed bool        `json:"last_run_failed"`
}

// RulesResponse wraps a user's association rules at or above a confidence
// floor.
type RulesResponse struct {
	UserID        string            `json:"user_id"`
	MinConfidence float64           `json:"min_confidence"`
	Rules         []AssociationRule `json:"rules"`
	ComputedAt    time.Time         `json:"computed_at"`
	LastRunFailed bool              `json:"last_run_failed"`
}
