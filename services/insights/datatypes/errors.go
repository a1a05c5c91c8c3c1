// Copyright (C) 2026 Glycoscope Labs (eng@glycoscope.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "errors"

// Pipeline error taxonomy. Components wrap these sentinels with
// fmt.Errorf("...: %w", ...) so the orchestrator's retry predicate can
// classify failures with errors.Is.
var (
	// ErrInsufficientData signals that inputs are below a component's
	// minimum sample threshold. Handled locally by each component's
	// documented fallback; never a job failure.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrComputationTimeout signals that an analysis run exceeded its
	// deadline. Retried with backoff up to the attempt budget.
	ErrComputationTimeout = errors.New("computation timeout")

	// ErrUpstreamRead signals that the feature store or readings store
	// was unreachable. Retried with backoff up to the attempt budget.
	ErrUpstreamRead = errors.New("upstream read failed")

	// ErrInvalidParameter signals a malformed trigger request. Surfaced
	// synchronously to the caller; never creates a job, never retried.
	ErrInvalidParameter = errors.New("invalid parameter")
)

// Retryable reports whether the orchestrator should retry a failed run.
func Retryable(err error) bool {
	return errors.Is(err, ErrUpstreamRead) || errors.Is(err, ErrComputationTimeout)
}
