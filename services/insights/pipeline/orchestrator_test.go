// Copyright (C) 2026 Glycoscope Labs (eng@glycoscope.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/glycoscope/glycoscope/pkg/logging"
	"github.com/glycoscope/glycoscope/services/insights/aggregate"
	"github.com/glycoscope/glycoscope/services/insights/cache"
	"github.com/glycoscope/glycoscope/services/insights/causal"
	"github.com/glycoscope/glycoscope/services/insights/datatypes"
	"github.com/glycoscope/glycoscope/services/insights/motif"
	"github.com/glycoscope/glycoscope/services/insights/rules"
	"github.com/glycoscope/glycoscope/services/insights/store"
)

// fakeReader serves canned readings. It can fail a set number of calls
// with an upstream error and can gate calls on a channel to hold jobs
// in flight.
type fakeReader struct {
	mu       sync.Mutex
	readings map[datatypes.MetricKind][]datatypes.RawReading
	failures int
	calls    int
	gate     chan struct{}
	gateOnce sync.Once
}

func (f *fakeReader) ListReadings(ctx context.Context, userID string, kind datatypes.MetricKind, start, end time.Time) ([]datatypes.RawReading, error) {
	f.mu.Lock()
	f.calls++
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", datatypes.ErrUpstreamRead, ctx.Err())
		}
	}
	if fail {
		return nil, fmt.Errorf("%w: readings store unreachable", datatypes.ErrUpstreamRead)
	}
	var out []datatypes.RawReading
	for _, r := range f.readings[kind] {
		if !r.Timestamp.Before(start) && r.Timestamp.Before(end) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeReader) release() {
	f.gateOnce.Do(func() {
		if f.gate != nil {
			close(f.gate)
		}
	})
}

// seedReadings returns a week of per-kind readings ending now.
func seedReadings() map[datatypes.MetricKind][]datatypes.RawReading {
	out := make(map[datatypes.MetricKind][]datatypes.RawReading)
	base := time.Now().UTC().AddDate(0, 0, -7)
	for d := 0; d < 7; d++ {
		day := base.AddDate(0, 0, d)
		for i := 0; i < 48; i++ {
			out[datatypes.MetricGlucose] = append(out[datatypes.MetricGlucose], datatypes.RawReading{
				UserID: "alice", Kind: datatypes.MetricGlucose,
				Timestamp: day.Add(time.Duration(i) * 30 * time.Minute),
				Value:     120 + float64(i%12)*3,
			})
		}
		out[datatypes.MetricSleep] = append(out[datatypes.MetricSleep], datatypes.RawReading{
			UserID: "alice", Kind: datatypes.MetricSleep, Timestamp: day.Add(6 * time.Hour), Value: 440,
		})
		out[datatypes.MetricActivity] = append(out[datatypes.MetricActivity], datatypes.RawReading{
			UserID: "alice", Kind: datatypes.MetricActivity, Timestamp: day.Add(18 * time.Hour), Value: 40,
		})
		out[datatypes.MetricMeal] = append(out[datatypes.MetricMeal], datatypes.RawReading{
			UserID: "alice", Kind: datatypes.MetricMeal, Timestamp: day.Add(12 * time.Hour), Value: 65,
		})
	}
	return out
}

type testHarness struct {
	orch   *Orchestrator
	store  *store.Store
	cache  *cache.Cache
	reader *fakeReader
}

func newHarness(t *testing.T, reader *fakeReader) *testHarness {
	t.Helper()
	st, err := store.OpenInMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	if reader == nil {
		reader = &fakeReader{readings: seedReadings()}
	}
	c := cache.New(nil)
	comp := Components{
		Reader:     reader,
		Aggregator: aggregate.New(reader, aggregate.Config{}),
		Causal:     causal.New(causal.DefaultConfig()),
		Detector:   motif.New(motif.Config{WindowLen: 24, TopK: 3, Workers: 2}),
		Miner:      rules.New(rules.DefaultConfig()),
	}
	cfg := DefaultConfig()
	cfg.Workers = 2
	cfg.HistoryDays = 14
	cfg.Retry = RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, Factor: 2, MaxDelay: 10 * time.Millisecond}

	log := logging.Default()
	orch := New(st, c, comp, nil, log, cfg)
	if err := orch.Start(); err != nil {
		t.Fatalf("start orchestrator: %v", err)
	}
	t.Cleanup(orch.Stop)

	return &testHarness{orch: orch, store: st, cache: c, reader: reader}
}

// waitTerminal polls until the job reaches a terminal status.
func waitTerminal(t *testing.T, st *store.Store, jobID string) datatypes.AnalysisJob {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		job, err := st.GetJob(jobID)
		if err != nil {
			t.Fatalf("get job %s: %v", jobID, err)
		}
		if !job.Status.Active() {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached a terminal state", jobID)
	return datatypes.AnalysisJob{}
}

func TestTriggerInvalidKind(t *testing.T) {
	h := newHarness(t, nil)
	_, _, err := h.orch.Trigger(context.Background(), "alice", datatypes.AnalysisKind("bogus"))
	if !errors.Is(err, datatypes.ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter, got %v", err)
	}
}

func TestTriggerInvalidUserID(t *testing.T) {
	h := newHarness(t, nil)
	_, _, err := h.orch.Trigger(context.Background(), `alice"; drop()`, datatypes.KindAggregate)
	if !errors.Is(err, datatypes.ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter, got %v", err)
	}
}

func TestFullRunPersistsAndMirrors(t *testing.T) {
	h := newHarness(t, nil)

	jobID, created, err := h.orch.Trigger(context.Background(), "alice", datatypes.KindFull)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if !created {
		t.Fatal("first trigger must create a job")
	}

	job := waitTerminal(t, h.store, jobID)
	if job.Status != datatypes.JobSucceeded {
		t.Fatalf("job status = %s (last error %q)", job.Status, job.LastError)
	}

	aggs, err := h.store.ListAggregates("alice", "", "")
	if err != nil {
		t.Fatalf("list aggregates: %v", err)
	}
	if len(aggs) == 0 {
		t.Fatal("full run persisted no aggregates")
	}

	if _, ok := h.cache.Get(h.orch.CacheKey("alice", datatypes.KindAggregate)); !ok {
		t.Error("aggregate results not mirrored into cache")
	}
	if _, ok := h.cache.Get(h.orch.CacheKey("alice", datatypes.KindCausal)); !ok {
		t.Error("causal results not mirrored into cache")
	}

	for _, kind := range []datatypes.AnalysisKind{datatypes.KindFull, datatypes.KindCausal, datatypes.KindRules} {
		run, ok, err := h.store.GetLastRun("alice", kind)
		if err != nil || !ok {
			t.Fatalf("last run for %s: ok=%v err=%v", kind, ok, err)
		}
		if run.LastRunFailed || run.SucceededAt == nil {
			t.Errorf("last run for %s should be a success, got %+v", kind, run)
		}
	}
}

func TestDuplicateTriggerCoalesces(t *testing.T) {
	reader := &fakeReader{readings: seedReadings(), gate: make(chan struct{})}
	h := newHarness(t, reader)
	defer reader.release()

	first, created, err := h.orch.Trigger(context.Background(), "alice", datatypes.KindFull)
	if err != nil || !created {
		t.Fatalf("first trigger: created=%v err=%v", created, err)
	}

	second, created, err := h.orch.Trigger(context.Background(), "alice", datatypes.KindFull)
	if err != nil {
		t.Fatalf("second trigger: %v", err)
	}
	if created {
		t.Fatal("second trigger while in flight must not create a job")
	}
	if second != first {
		t.Fatalf("duplicate trigger returned %s, want in-flight id %s", second, first)
	}

	// A different kind is an independent slot.
	other, created, err := h.orch.Trigger(context.Background(), "alice", datatypes.KindRules)
	if err != nil || !created {
		t.Fatalf("different-kind trigger: created=%v err=%v", created, err)
	}
	if other == first {
		t.Fatal("different kinds must not share a job id")
	}

	reader.release()
	waitTerminal(t, h.store, first)

	third, created, err := h.orch.Trigger(context.Background(), "alice", datatypes.KindFull)
	if err != nil || !created {
		t.Fatalf("post-completion trigger: created=%v err=%v", created, err)
	}
	if third == first {
		t.Fatal("completed slot must yield a fresh job id")
	}
	waitTerminal(t, h.store, third)
}

func TestRetryThenSuccess(t *testing.T) {
	reader := &fakeReader{readings: seedReadings(), failures: 1}
	h := newHarness(t, reader)

	jobID, _, err := h.orch.Trigger(context.Background(), "alice", datatypes.KindAggregate)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	job := waitTerminal(t, h.store, jobID)
	if job.Status != datatypes.JobSucceeded {
		t.Fatalf("status = %s, want succeeded (last error %q)", job.Status, job.LastError)
	}
	if job.Attempts != 2 {
		t.Errorf("attempts = %d, want 2 (one transient failure)", job.Attempts)
	}
}

func TestRetryExhaustionMarksPermanentlyFailed(t *testing.T) {
	reader := &fakeReader{readings: seedReadings(), failures: 100}
	h := newHarness(t, reader)

	jobID, _, err := h.orch.Trigger(context.Background(), "alice", datatypes.KindAggregate)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	job := waitTerminal(t, h.store, jobID)
	if job.Status != datatypes.JobFailed {
		t.Fatalf("status = %s, want failed", job.Status)
	}
	if job.Attempts != 3 {
		t.Errorf("attempts = %d, want the full budget of 3", job.Attempts)
	}
	if job.LastError == "" {
		t.Error("permanently failed job must carry its last error")
	}

	run, ok, err := h.store.GetLastRun("alice", datatypes.KindAggregate)
	if err != nil || !ok {
		t.Fatalf("last run: ok=%v err=%v", ok, err)
	}
	if !run.LastRunFailed {
		t.Error("last run must be flagged failed")
	}

	// The slot is released: a new trigger creates a fresh job.
	reader.mu.Lock()
	reader.failures = 0
	reader.mu.Unlock()
	next, created, err := h.orch.Trigger(context.Background(), "alice", datatypes.KindAggregate)
	if err != nil || !created {
		t.Fatalf("post-failure trigger: created=%v err=%v", created, err)
	}
	if next == jobID {
		t.Fatal("failed slot must yield a fresh job id")
	}
	if got := waitTerminal(t, h.store, next); got.Status != datatypes.JobSucceeded {
		t.Fatalf("recovery run status = %s", got.Status)
	}
	run, _, err = h.store.GetLastRun("alice", datatypes.KindAggregate)
	if err != nil {
		t.Fatalf("last run: %v", err)
	}
	if run.LastRunFailed {
		t.Error("failure flag must clear after a successful run")
	}
}

// correlatedAggregates builds a history where sleep tracks glucose
// exactly and time-in-range tracks it with jitter, so the engine emits
// links of strictly different strengths for the two pairs.
func correlatedAggregates(userID string, days int) []datatypes.DailyAggregate {
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	out := make([]datatypes.DailyAggregate, 0, days)
	for d := 0; d < days; d++ {
		v := float64(d % 7)
		jitter := float64((d*37)%11) - 5
		agg := datatypes.DailyAggregate{
			UserID: userID,
			Date:   base.AddDate(0, 0, d).Format(datatypes.DateLayout),
		}
		agg.SetFeature(datatypes.FeatureGlucoseMean, 100+5*v)
		agg.SetFeature(datatypes.FeatureTimeInRange, 70+3*v+jitter)
		agg.SetFeature(datatypes.FeatureSleepMinutes, 400+10*v)
		out = append(out, agg)
	}
	return out
}

func TestCausalRunMirrorsLinksStrongestFirst(t *testing.T) {
	h := newHarness(t, nil)

	if err := h.store.UpsertAggregates(correlatedAggregates("alice", 20)); err != nil {
		t.Fatalf("seed aggregates: %v", err)
	}
	if err := h.orch.runCausal(context.Background(), "alice"); err != nil {
		t.Fatalf("causal run: %v", err)
	}

	payload, ok := h.cache.Get(h.orch.CacheKey("alice", datatypes.KindCausal))
	if !ok {
		t.Fatal("causal results not mirrored into cache")
	}
	var links []datatypes.CausalLink
	if err := json.Unmarshal(payload, &links); err != nil {
		t.Fatalf("unmarshal mirrored payload: %v", err)
	}
	if len(links) < 2 {
		t.Fatalf("got %d links, need at least 2 to check ordering", len(links))
	}
	for i := 1; i < len(links); i++ {
		prev, cur := math.Abs(links[i-1].Strength), math.Abs(links[i].Strength)
		if cur > prev {
			t.Fatalf("mirrored links out of order at %d: |%.3f| > |%.3f| (%s->%s lag %d after %s->%s lag %d)",
				i, cur, prev,
				links[i].Source, links[i].Target, links[i].LagDays,
				links[i-1].Source, links[i-1].Target, links[i-1].LagDays)
		}
	}

	// The durable store serves the same order.
	stored, err := h.store.ListCausalLinks("alice")
	if err != nil {
		t.Fatalf("list links: %v", err)
	}
	if len(stored) != len(links) {
		t.Fatalf("store has %d links, cache has %d", len(stored), len(links))
	}
	for i := range stored {
		if stored[i].Source != links[i].Source || stored[i].Target != links[i].Target || stored[i].LagDays != links[i].LagDays {
			t.Fatalf("store and cache disagree at %d: %+v vs %+v", i, stored[i], links[i])
		}
	}
}

func TestRetryClassification(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, Factor: 2, MaxDelay: time.Second}
	if p.ShouldRetry(datatypes.ErrInvalidParameter, 1) {
		t.Error("parameter errors must not be retried")
	}
	if p.ShouldRetry(fmt.Errorf("wrap: %w", datatypes.ErrUpstreamRead), 3) {
		t.Error("attempt budget must bound retries")
	}
	if !p.ShouldRetry(fmt.Errorf("wrap: %w", datatypes.ErrComputationTimeout), 2) {
		t.Error("timeouts within budget must be retried")
	}
}

func TestRecoverReenqueuesInterruptedJobs(t *testing.T) {
	h := newHarness(t, nil)

	job := datatypes.AnalysisJob{
		ID:          "11111111-1111-1111-1111-111111111111",
		UserID:      "alice",
		Kind:        datatypes.KindAggregate,
		Status:      datatypes.JobPending,
		RequestedAt: time.Now().UTC(),
	}
	if _, created, err := h.store.AcquireJobSlot(job); err != nil || !created {
		t.Fatalf("seed job: created=%v err=%v", created, err)
	}

	if err := h.orch.Recover(); err != nil {
		t.Fatalf("recover: %v", err)
	}
	got := waitTerminal(t, h.store, job.ID)
	if got.Status != datatypes.JobSucceeded {
		t.Fatalf("recovered job status = %s (last error %q)", got.Status, got.LastError)
	}
}

func TestRetryPolicyDelays(t *testing.T) {
	p := DefaultRetryPolicy()
	if got := p.Delay(1); got != 2*time.Second {
		t.Errorf("delay(1) = %v, want 2s", got)
	}
	if got := p.Delay(2); got != 4*time.Second {
		t.Errorf("delay(2) = %v, want 4s", got)
	}
	if got := p.Delay(20); got != 5*time.Minute {
		t.Errorf("delay(20) = %v, want the 5m cap", got)
	}
}
