// Copyright (C) 2026 Glycoscope Labs (eng@glycoscope.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"time"

	"github.com/glycoscope/glycoscope/services/insights/datatypes"
)

// RetryPolicy bounds how failed analysis runs are retried. Only errors
// classified retryable by datatypes.Retryable are retried at all;
// parameter errors and plain computation failures go straight to the
// permanently-failed state.
type RetryPolicy struct {
	// MaxAttempts is the total attempt count including the first run.
	MaxAttempts int

	// BaseDelay is the wait before the first retry.
	BaseDelay time.Duration

	// Factor multiplies the delay after every retry.
	Factor float64

	// MaxDelay caps the grown delay.
	MaxDelay time.Duration
}

// DefaultRetryPolicy returns the production policy: 3 attempts, 2s base
// delay doubling up to 5 minutes.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		Factor:      2,
		MaxDelay:    5 * time.Minute,
	}
}

// Delay returns the backoff before retry number retry (1-based).
func (p RetryPolicy) Delay(retry int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < retry; i++ {
		d = time.Duration(float64(d) * p.Factor)
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// ShouldRetry reports whether a failed attempt (1-based) gets another.
func (p RetryPolicy) ShouldRetry(err error, attempt int) bool {
	return datatypes.Retryable(err) && attempt < p.MaxAttempts
}
