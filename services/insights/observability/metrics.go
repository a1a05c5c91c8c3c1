// Copyright (C) 2026 Glycoscope Labs (eng@glycoscope.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides metrics and instrumentation for the
// insights pipeline.
//
// # Description
//
// This package implements Prometheus metrics for monitoring analysis
// runs. Metrics include:
//   - Job counters (by analysis kind and terminal status)
//   - Run duration histograms (by analysis kind)
//   - Retry counters and queue depth
//   - Result cache hit/miss counters
//
// # Integration
//
// Metrics are exposed via /metrics endpoint. Use with Prometheus +
// Grafana for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "glycoscope"

// Subsystem for pipeline metrics
const pipelineSubsystem = "pipeline"

// PipelineMetrics holds all Prometheus metrics for analysis runs.
//
// # Description
//
// Provides counters, histograms, and gauges for monitoring pipeline
// throughput and resource usage. Initialize once at startup via
// InitMetrics(), or with New(registry) for an isolated registry.
//
// # Thread Safety
//
// All operations are thread-safe.
type PipelineMetrics struct {
	// JobsTotal counts finished analysis jobs.
	// Labels: kind (aggregate, causal, pattern, rules, full),
	// status (succeeded, failed)
	JobsTotal *prometheus.CounterVec

	// JobDurationSeconds measures wall time of one analysis run.
	// Labels: kind
	JobDurationSeconds *prometheus.HistogramVec

	// RetriesTotal counts scheduled retries.
	// Labels: kind
	RetriesTotal *prometheus.CounterVec

	// QueueDepth tracks jobs waiting for a worker.
	QueueDepth prometheus.Gauge

	// CacheHitsTotal counts result-cache hits.
	// Labels: kind
	CacheHitsTotal *prometheus.CounterVec

	// CacheMissesTotal counts result-cache misses.
	// Labels: kind
	CacheMissesTotal *prometheus.CounterVec

	// DedupedTriggersTotal counts triggers coalesced onto an already
	// in-flight job.
	// Labels: kind
	DedupedTriggersTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance of PipelineMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *PipelineMetrics

// InitMetrics initializes the default metrics instance against the
// global Prometheus registry. Call once at startup; calling twice
// panics on duplicate registration.
func InitMetrics() *PipelineMetrics {
	DefaultMetrics = New(prometheus.DefaultRegisterer)
	return DefaultMetrics
}

// New creates and registers all pipeline metrics against reg. Tests
// pass an isolated prometheus.NewRegistry() to avoid global-state
// conflicts.
func New(reg prometheus.Registerer) *PipelineMetrics {
	factory := promauto.With(reg)
	return &PipelineMetrics{
		JobsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "jobs_total",
				Help:      "Total finished analysis jobs by kind and terminal status",
			},
			[]string{"kind", "status"},
		),

		JobDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "job_duration_seconds",
				Help:      "Wall time of one analysis run in seconds",
				Buckets:   []float64{0.05, 0.25, 1, 5, 15, 60, 180, 600},
			},
			[]string{"kind"},
		),

		RetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "retries_total",
				Help:      "Total scheduled retries by kind",
			},
			[]string{"kind"},
		),

		QueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "queue_depth",
				Help:      "Jobs waiting for a worker",
			},
		),

		CacheHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "cache_hits_total",
				Help:      "Result cache hits by kind",
			},
			[]string{"kind"},
		),

		CacheMissesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "cache_misses_total",
				Help:      "Result cache misses by kind",
			},
			[]string{"kind"},
		),

		DedupedTriggersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "deduped_triggers_total",
				Help:      "Triggers coalesced onto an in-flight job by kind",
			},
			[]string{"kind"},
		),
	}
}
