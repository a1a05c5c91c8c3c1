// Copyright (C) 2026 Glycoscope Labs (eng@glycoscope.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "time"

// AnalysisKind selects which part of the pipeline a trigger runs.
//
// KindFull runs aggregation first and, only on success, fans out causal
// discovery, pattern detection, and rule mining concurrently.
type AnalysisKind string

const (
	KindAggregate AnalysisKind = "aggregate"
	KindCausal    AnalysisKind = "causal"
	KindPattern   AnalysisKind = "pattern"
	KindRules     AnalysisKind = "rules"
	KindFull      AnalysisKind = "full"
)

// AllAnalysisKinds lists every triggerable analysis kind.
func AllAnalysisKinds() []AnalysisKind {
	return []AnalysisKind{KindAggregate, KindCausal, KindPattern, KindRules, KindFull}
}

// Valid reports whether k names a supported analysis kind.
func (k AnalysisKind) Valid() bool {
	switch k {
	case KindAggregate, KindCausal, KindPattern, KindRules, KindFull:
		return true
	default:
		return false
	}
}

// JobStatus is the lifecycle state of an AnalysisJob.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// Active reports whether the status occupies the at-most-one-in-flight
// slot for its (user, kind).
func (s JobStatus) Active() bool {
	return s == JobPending || s == JobRunning
}

// AnalysisJob is the transient coordination record for one analysis run.
//
// At most one job per (user, kind) may be in an active status at any
// instant; the store enforces this with an atomic check-and-set. Completed
// jobs are retained briefly for idempotency and debugging.
type AnalysisJob struct {
	ID          string       `json:"id"`
	UserID      string       `json:"user_id"`
	Kind        AnalysisKind `json:"kind"`
	Status      JobStatus    `json:"status"`
	Attempts    int          `json:"attempts"`
	LastError   string       `json:"last_error,omitempty"`
	RequestedAt time.Time    `json:"requested_at"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	FinishedAt  *time.Time   `json:"finished_at,omitempty"`
}

// LastRun records the outcome of the most recent run per (user, kind) so
// query paths can serve stale-but-valid results with a failure flag.
type LastRun struct {
	UserID        string       `json:"user_id"`
	Kind          AnalysisKind `json:"kind"`
	SucceededAt   *time.Time   `json:"succeeded_at,omitempty"`
	LastFailedAt  *time.Time   `json:"last_failed_at,omitempty"`
	LastError     string       `json:"last_error,omitempty"`
	LastRunFailed bool         `json:"last_run_failed"`
}
