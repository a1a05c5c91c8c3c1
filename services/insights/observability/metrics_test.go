// Copyright (C) 2026 Glycoscope Labs (eng@glycoscope.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestJobCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.JobsTotal.WithLabelValues("causal", "succeeded").Inc()
	m.JobsTotal.WithLabelValues("causal", "succeeded").Inc()
	m.JobsTotal.WithLabelValues("pattern", "failed").Inc()

	if got := testutil.ToFloat64(m.JobsTotal.WithLabelValues("causal", "succeeded")); got != 2 {
		t.Errorf("causal succeeded = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.JobsTotal.WithLabelValues("pattern", "failed")); got != 1 {
		t.Errorf("pattern failed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.JobsTotal.WithLabelValues("rules", "succeeded")); got != 0 {
		t.Errorf("rules succeeded = %v, want 0", got)
	}
}

func TestQueueDepthGauge(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.QueueDepth.Inc()
	m.QueueDepth.Inc()
	m.QueueDepth.Dec()

	if got := testutil.ToFloat64(m.QueueDepth); got != 1 {
		t.Errorf("queue depth = %v, want 1", got)
	}
}

func TestCacheCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.CacheHitsTotal.WithLabelValues("causal").Inc()
	m.CacheMissesTotal.WithLabelValues("causal").Inc()
	m.CacheMissesTotal.WithLabelValues("causal").Inc()

	if got := testutil.ToFloat64(m.CacheHitsTotal.WithLabelValues("causal")); got != 1 {
		t.Errorf("hits = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.CacheMissesTotal.WithLabelValues("causal")); got != 2 {
		t.Errorf("misses = %v, want 2", got)
	}
}

func TestIsolatedRegistriesDoNotConflict(t *testing.T) {
	a := New(prometheus.NewRegistry())
	b := New(prometheus.NewRegistry())

	a.RetriesTotal.WithLabelValues("full").Inc()
	if got := testutil.ToFloat64(b.RetriesTotal.WithLabelValues("full")); got != 0 {
		t.Errorf("registries leaked state: %v", got)
	}
}
