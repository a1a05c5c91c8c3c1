// Copyright (C) 2026 Glycoscope Labs (eng@glycoscope.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package pipeline coordinates analysis runs: triggering, queueing,
// worker execution, retries, deadlines, and the periodic cadence.
//
// The orchestrator is the only component aware of scheduling and
// concurrency. Analysis components stay pure: they read inputs, compute,
// and return, checking their context for expiry. The at-most-one-in-flight
// guarantee per (user, kind) lives in the store's atomic job-slot
// check-and-set, not here, so it holds across processes sharing one
// database.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/glycoscope/glycoscope/pkg/logging"
	"github.com/glycoscope/glycoscope/pkg/validation"
	"github.com/glycoscope/glycoscope/services/insights/aggregate"
	"github.com/glycoscope/glycoscope/services/insights/cache"
	"github.com/glycoscope/glycoscope/services/insights/causal"
	"github.com/glycoscope/glycoscope/services/insights/datatypes"
	"github.com/glycoscope/glycoscope/services/insights/motif"
	"github.com/glycoscope/glycoscope/services/insights/observability"
	"github.com/glycoscope/glycoscope/services/insights/readings"
	"github.com/glycoscope/glycoscope/services/insights/rules"
	"github.com/glycoscope/glycoscope/services/insights/store"
)

var tracer = otel.Tracer("glycoscope.pipeline")

// =============================================================================
// Configuration
// =============================================================================

// Config holds the orchestrator's scheduling parameters.
type Config struct {
	// Workers is the size of the analysis worker pool.
	Workers int

	// QueueSize bounds the pending-job channel. A full queue fails the
	// trigger instead of blocking the caller.
	QueueSize int

	// HistoryDays is the lookback window for analysis inputs.
	HistoryDays int

	// DefaultDeadline bounds one aggregate/causal/rules run.
	DefaultDeadline time.Duration

	// PatternDeadline bounds one pattern (and full) run; the all-pairs
	// distance computation dominates the pipeline's cost.
	PatternDeadline time.Duration

	// CacheTTL is the lifetime of mirrored results.
	CacheTTL time.Duration

	// Retry governs backoff for retryable failures.
	Retry RetryPolicy
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Workers:         4,
		QueueSize:       64,
		HistoryDays:     90,
		DefaultDeadline: 5 * time.Minute,
		PatternDeadline: 10 * time.Minute,
		CacheTTL:        cache.DefaultTTL,
		Retry:           DefaultRetryPolicy(),
	}
}

// Components are the analysis stages the orchestrator drives.
type Components struct {
	Reader     readings.Reader
	Aggregator *aggregate.Aggregator
	Causal     *causal.Engine
	Detector   *motif.Detector
	Miner      *rules.Miner
}

// =============================================================================
// Orchestrator
// =============================================================================

// Orchestrator owns the trigger path and the worker pool.
//
// # Description
//
// Trigger claims the (user, kind) job slot atomically; a duplicate
// trigger while a job is in flight returns the existing job id without
// creating anything. Claimed jobs are queued to a fixed worker pool.
// Workers run the analysis under a per-kind deadline, retry retryable
// failures with exponential backoff, persist results, record LastRun,
// and mirror results into the cache.
//
// # Thread Safety
//
// All exported methods are safe for concurrent use.
type Orchestrator struct {
	cfg     Config
	store   *store.Store
	cache   *cache.Cache
	comp    Components
	metrics *observability.PipelineMetrics
	log     *logging.Logger

	fingerprints map[datatypes.AnalysisKind]string

	mu      sync.Mutex
	running bool
	queue   chan string
	done    chan struct{}
	wg      sync.WaitGroup
}

// New creates an orchestrator, filling zero Config fields with defaults.
func New(st *store.Store, c *cache.Cache, comp Components, metrics *observability.PipelineMetrics, log *logging.Logger, cfg Config) *Orchestrator {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.HistoryDays <= 0 {
		cfg.HistoryDays = def.HistoryDays
	}
	if cfg.DefaultDeadline <= 0 {
		cfg.DefaultDeadline = def.DefaultDeadline
	}
	if cfg.PatternDeadline <= 0 {
		cfg.PatternDeadline = def.PatternDeadline
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = def.Retry
	}
	if log == nil {
		log = logging.Default()
	}

	fps := make(map[datatypes.AnalysisKind]string, len(datatypes.AllAnalysisKinds()))
	for _, kind := range datatypes.AllAnalysisKinds() {
		fp, err := cache.Fingerprint(struct {
			Kind        datatypes.AnalysisKind `json:"kind"`
			HistoryDays int                    `json:"history_days"`
		}{kind, cfg.HistoryDays})
		if err != nil {
			fp = string(kind)
		}
		fps[kind] = fp
	}

	return &Orchestrator{
		cfg:          cfg,
		store:        st,
		cache:        c,
		comp:         comp,
		metrics:      metrics,
		log:          log,
		fingerprints: fps,
		queue:        make(chan string, cfg.QueueSize),
		done:         make(chan struct{}),
	}
}

// CacheKey returns the cache key under which the orchestrator mirrors
// results for (userID, kind). Query handlers read through the same key.
func (o *Orchestrator) CacheKey(userID string, kind datatypes.AnalysisKind) cache.Key {
	return cache.Key{UserID: userID, Kind: kind, Fingerprint: o.fingerprints[kind]}
}

// CacheTTL returns the configured lifetime for mirrored results, so
// read-through refreshes expire on the same schedule as mirror writes.
func (o *Orchestrator) CacheTTL() time.Duration {
	return o.cfg.CacheTTL
}

// Start launches the worker pool. Returns an error if already running.
func (o *Orchestrator) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return fmt.Errorf("orchestrator already running")
	}
	o.running = true
	for i := 0; i < o.cfg.Workers; i++ {
		o.wg.Add(1)
		go o.worker()
	}
	o.log.Info("orchestrator started", "workers", o.cfg.Workers, "queue_size", o.cfg.QueueSize)
	return nil
}

// Stop drains the workers and blocks until they exit. Queued jobs that
// never reached a worker stay pending in the store; a restart recovers
// them via Recover.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	close(o.done)
	o.mu.Unlock()

	o.wg.Wait()
	o.log.Info("orchestrator stopped")
}

// Trigger requests an analysis run for (userID, kind).
//
// # Description
//
// Claims the job slot atomically. If a job for (userID, kind) is already
// pending or running, its id is returned with created=false and nothing
// is enqueued, so concurrent callers observe one shared job id. A
// malformed user id or kind returns datatypes.ErrInvalidParameter
// without creating a job.
//
// # Outputs
//
//   - string: the job id (new or already in flight).
//   - bool: true when this call created the job.
//   - error: validation or storage failure.
func (o *Orchestrator) Trigger(ctx context.Context, userID string, kind datatypes.AnalysisKind) (string, bool, error) {
	if err := validation.ValidateUserID(userID); err != nil {
		return "", false, fmt.Errorf("%w: %v", datatypes.ErrInvalidParameter, err)
	}
	if !kind.Valid() {
		return "", false, fmt.Errorf("%w: unknown analysis kind %q", datatypes.ErrInvalidParameter, kind)
	}

	job := datatypes.AnalysisJob{
		ID:          uuid.NewString(),
		UserID:      userID,
		Kind:        kind,
		Status:      datatypes.JobPending,
		RequestedAt: time.Now().UTC(),
	}
	jobID, created, err := o.store.AcquireJobSlot(job)
	if err != nil {
		return "", false, fmt.Errorf("acquire job slot: %w", err)
	}
	if !created {
		if o.metrics != nil {
			o.metrics.DedupedTriggersTotal.WithLabelValues(string(kind)).Inc()
		}
		o.log.Debug("trigger deduplicated", "user_id", userID, "kind", kind, "job_id", jobID)
		return jobID, false, nil
	}

	if err := o.enqueue(jobID); err != nil {
		job.Status = datatypes.JobFailed
		job.LastError = err.Error()
		now := time.Now().UTC()
		job.FinishedAt = &now
		if uerr := o.store.UpdateJob(job); uerr != nil {
			o.log.Error("failed to release slot for unqueued job", "job_id", jobID, "error", uerr)
		}
		return "", false, err
	}
	o.log.Info("analysis triggered", "user_id", userID, "kind", kind, "job_id", jobID)
	return jobID, true, nil
}

// Recover re-enqueues jobs interrupted by a crash or restart. Call once
// after Start; interrupted jobs keep their slots, so duplicate triggers
// arriving meanwhile still coalesce onto them.
func (o *Orchestrator) Recover() error {
	jobs, err := o.store.RecoverInterruptedJobs()
	if err != nil {
		return fmt.Errorf("recover interrupted jobs: %w", err)
	}
	for _, job := range jobs {
		if err := o.enqueue(job.ID); err != nil {
			return fmt.Errorf("re-enqueue job %s: %w", job.ID, err)
		}
		o.log.Info("recovered interrupted job", "job_id", job.ID, "user_id", job.UserID, "kind", job.Kind)
	}
	return nil
}

func (o *Orchestrator) enqueue(jobID string) error {
	select {
	case o.queue <- jobID:
		if o.metrics != nil {
			o.metrics.QueueDepth.Inc()
		}
		return nil
	default:
		return fmt.Errorf("analysis queue full (%d pending)", o.cfg.QueueSize)
	}
}

// =============================================================================
// Worker loop
// =============================================================================

func (o *Orchestrator) worker() {
	defer o.wg.Done()
	for {
		select {
		case <-o.done:
			return
		case jobID := <-o.queue:
			if o.metrics != nil {
				o.metrics.QueueDepth.Dec()
			}
			o.execute(jobID)
		}
	}
}

// execute runs one job to a terminal state, retrying retryable failures
// with exponential backoff.
func (o *Orchestrator) execute(jobID string) {
	job, err := o.store.GetJob(jobID)
	if err != nil {
		o.log.Error("queued job vanished", "job_id", jobID, "error", err)
		return
	}

	for attempt := 1; ; attempt++ {
		now := time.Now().UTC()
		job.Status = datatypes.JobRunning
		job.Attempts = attempt
		job.StartedAt = &now
		if err := o.store.UpdateJob(job); err != nil {
			o.log.Error("failed to mark job running", "job_id", jobID, "error", err)
			return
		}

		start := time.Now()
		runErr := o.runKind(job.UserID, job.Kind)
		elapsed := time.Since(start)

		if runErr == nil {
			o.finishJob(job, nil, elapsed)
			return
		}

		if o.cfg.Retry.ShouldRetry(runErr, attempt) {
			delay := o.cfg.Retry.Delay(attempt)
			if o.metrics != nil {
				o.metrics.RetriesTotal.WithLabelValues(string(job.Kind)).Inc()
			}
			o.log.Warn("analysis attempt failed, retrying",
				"job_id", jobID, "user_id", job.UserID, "kind", job.Kind,
				"attempt", attempt, "delay", delay, "error", runErr)
			select {
			case <-o.done:
				// Shutdown mid-backoff: leave the job pending for the
				// next process's recovery sweep.
				job.Status = datatypes.JobPending
				job.StartedAt = nil
				if err := o.store.UpdateJob(job); err != nil {
					o.log.Error("failed to park job for recovery", "job_id", jobID, "error", err)
				}
				return
			case <-time.After(delay):
			}
			continue
		}

		o.finishJob(job, runErr, elapsed)
		return
	}
}

// finishJob transitions the job to its terminal state, records LastRun,
// and emits metrics. A terminal UpdateJob also releases the (user, kind)
// slot, re-opening the in-flight window.
func (o *Orchestrator) finishJob(job datatypes.AnalysisJob, runErr error, elapsed time.Duration) {
	now := time.Now().UTC()
	job.FinishedAt = &now
	run := datatypes.LastRun{UserID: job.UserID, Kind: job.Kind}

	if runErr == nil {
		job.Status = datatypes.JobSucceeded
		job.LastError = ""
		run.SucceededAt = &now
	} else {
		job.Status = datatypes.JobFailed
		job.LastError = runErr.Error()
		run.LastFailedAt = &now
		run.LastError = runErr.Error()
		run.LastRunFailed = true
		if prev, ok, err := o.store.GetLastRun(job.UserID, job.Kind); err == nil && ok {
			run.SucceededAt = prev.SucceededAt
		}
	}

	if err := o.store.UpdateJob(job); err != nil {
		o.log.Error("failed to finish job", "job_id", job.ID, "error", err)
	}
	if err := o.store.SetLastRun(run); err != nil {
		o.log.Error("failed to record last run", "job_id", job.ID, "error", err)
	}
	if o.metrics != nil {
		o.metrics.JobsTotal.WithLabelValues(string(job.Kind), string(job.Status)).Inc()
		o.metrics.JobDurationSeconds.WithLabelValues(string(job.Kind)).Observe(elapsed.Seconds())
	}
	if runErr == nil {
		o.log.Info("analysis succeeded", "job_id", job.ID, "user_id", job.UserID,
			"kind", job.Kind, "attempts", job.Attempts, "elapsed", elapsed)
	} else {
		o.log.Error("analysis permanently failed", "job_id", job.ID, "user_id", job.UserID,
			"kind", job.Kind, "attempts", job.Attempts, "error", runErr)
	}
}

// =============================================================================
// Analysis stages
// =============================================================================

func (o *Orchestrator) deadlineFor(kind datatypes.AnalysisKind) time.Duration {
	if kind == datatypes.KindPattern || kind == datatypes.KindFull {
		return o.cfg.PatternDeadline
	}
	return o.cfg.DefaultDeadline
}

func (o *Orchestrator) runKind(userID string, kind datatypes.AnalysisKind) error {
	ctx, cancel := context.WithTimeout(context.Background(), o.deadlineFor(kind))
	defer cancel()

	ctx, span := tracer.Start(ctx, "pipeline.Run",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("analysis.kind", string(kind)),
		))
	defer span.End()

	if err := o.dispatch(ctx, userID, kind); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

func (o *Orchestrator) dispatch(ctx context.Context, userID string, kind datatypes.AnalysisKind) error {
	switch kind {
	case datatypes.KindAggregate:
		return o.runAggregate(ctx, userID)
	case datatypes.KindCausal:
		return o.runCausal(ctx, userID)
	case datatypes.KindPattern:
		return o.runPattern(ctx, userID)
	case datatypes.KindRules:
		return o.runRules(ctx, userID)
	case datatypes.KindFull:
		return o.runFull(ctx, userID)
	default:
		return fmt.Errorf("%w: unknown analysis kind %q", datatypes.ErrInvalidParameter, kind)
	}
}

func (o *Orchestrator) window() (time.Time, time.Time) {
	to := time.Now().UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
	from := to.AddDate(0, 0, -o.cfg.HistoryDays)
	return from, to
}

func (o *Orchestrator) runAggregate(ctx context.Context, userID string) error {
	from, to := o.window()
	aggs, err := o.comp.Aggregator.Run(ctx, userID, from, to)
	if err != nil {
		return err
	}
	if err := o.store.UpsertAggregates(aggs); err != nil {
		return fmt.Errorf("persist aggregates: %w", err)
	}
	return o.mirror(userID, datatypes.KindAggregate, aggs)
}

func (o *Orchestrator) runCausal(ctx context.Context, userID string) error {
	aggs, err := o.store.ListAggregates(userID, "", "")
	if err != nil {
		return fmt.Errorf("%w: list aggregates: %v", datatypes.ErrUpstreamRead, err)
	}
	links, err := o.comp.Causal.Discover(ctx, userID, aggs)
	if err != nil {
		return err
	}
	// Strongest dependencies first. Queries serve the mirrored payload
	// verbatim, so the order written here is the order clients see.
	sort.SliceStable(links, func(i, j int) bool {
		return math.Abs(links[i].Strength) > math.Abs(links[j].Strength)
	})
	if err := o.store.ReplaceCausalLinks(userID, links); err != nil {
		return fmt.Errorf("persist causal links: %w", err)
	}
	return o.mirror(userID, datatypes.KindCausal, links)
}

func (o *Orchestrator) runPattern(ctx context.Context, userID string) error {
	from, to := o.window()
	series, err := o.comp.Reader.ListReadings(ctx, userID, datatypes.MetricGlucose, from, to)
	if err != nil {
		return err
	}
	patterns, err := o.comp.Detector.Detect(ctx, userID, series)
	if err != nil {
		return err
	}
	if err := o.store.ReplacePatterns(userID, patterns); err != nil {
		return fmt.Errorf("persist patterns: %w", err)
	}
	return o.mirror(userID, datatypes.KindPattern, patterns)
}

func (o *Orchestrator) runRules(ctx context.Context, userID string) error {
	aggs, err := o.store.ListAggregates(userID, "", "")
	if err != nil {
		return fmt.Errorf("%w: list aggregates: %v", datatypes.ErrUpstreamRead, err)
	}
	mined, err := o.comp.Miner.Mine(ctx, userID, aggs)
	if err != nil {
		return err
	}
	if err := o.store.ReplaceRules(userID, mined); err != nil {
		return fmt.Errorf("persist rules: %w", err)
	}
	return o.mirror(userID, datatypes.KindRules, mined)
}

// runFull aggregates first and, only on success, fans out the three
// analyses concurrently; they are independent given the same inputs.
func (o *Orchestrator) runFull(ctx context.Context, userID string) error {
	if err := o.runAggregate(ctx, userID); err != nil {
		return fmt.Errorf("full run aggregation: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return o.runCausal(gctx, userID) })
	g.Go(func() error { return o.runPattern(gctx, userID) })
	g.Go(func() error { return o.runRules(gctx, userID) })
	if err := g.Wait(); err != nil {
		return fmt.Errorf("full run fan-out: %w", err)
	}

	// Sub-analyses succeeded individually; record them so query paths
	// see fresh per-kind outcomes even when only "full" is triggered.
	now := time.Now().UTC()
	for _, kind := range []datatypes.AnalysisKind{datatypes.KindAggregate, datatypes.KindCausal, datatypes.KindPattern, datatypes.KindRules} {
		run := datatypes.LastRun{UserID: userID, Kind: kind, SucceededAt: &now}
		if err := o.store.SetLastRun(run); err != nil {
			return fmt.Errorf("record %s outcome: %w", kind, err)
		}
	}
	return nil
}

// mirror writes a successful result into the cache under the standing
// (user, kind, fingerprint) key.
func (o *Orchestrator) mirror(userID string, kind datatypes.AnalysisKind, payload any) error {
	if o.cache == nil {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s result for cache: %w", kind, err)
	}
	o.cache.Put(o.CacheKey(userID, kind), data, o.cfg.CacheTTL)
	return nil
}
