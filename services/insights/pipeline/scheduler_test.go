// Copyright (C) 2026 Glycoscope Labs (eng@glycoscope.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/glycoscope/glycoscope/services/insights/datatypes"
)

// seedUsers stores one aggregate per user so ListUsers finds them.
func seedUsers(t *testing.T, h *testHarness, users ...string) {
	t.Helper()
	for _, u := range users {
		agg := datatypes.DailyAggregate{UserID: u, Date: "2026-08-01"}
		agg.SetFeature(datatypes.FeatureGlucoseMean, 120)
		if err := h.store.UpsertAggregates([]datatypes.DailyAggregate{agg}); err != nil {
			t.Fatalf("seed user %s: %v", u, err)
		}
	}
}

func TestRunNowTriggersEveryUser(t *testing.T) {
	reader := &fakeReader{readings: seedReadings(), gate: make(chan struct{})}
	h := newHarness(t, reader)
	defer reader.release()
	seedUsers(t, h, "alice", "bob", "carol")

	s := NewScheduler(h.orch, h.store, time.Hour, nil)

	created := s.RunNow(context.Background())
	if created != 3 {
		t.Fatalf("created %d jobs, want 3", created)
	}

	// All three runs are still gated in flight: a second sweep must
	// coalesce onto them and create nothing.
	if again := s.RunNow(context.Background()); again != 0 {
		t.Fatalf("second sweep created %d jobs, want 0", again)
	}
	reader.release()
}

func TestSchedulerStartStop(t *testing.T) {
	h := newHarness(t, nil)
	s := NewScheduler(h.orch, h.store, time.Hour, nil)

	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Start(); err == nil {
		t.Fatal("double start must fail")
	}
	s.Stop()
	s.Stop() // idempotent
}

func TestSchedulerCadenceFires(t *testing.T) {
	reader := &fakeReader{readings: seedReadings()}
	h := newHarness(t, reader)
	seedUsers(t, h, "alice")

	s := NewScheduler(h.orch, h.store, 20*time.Millisecond, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok, _ := h.store.GetLastRun("alice", datatypes.KindFull); ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("cadence never produced a full run for alice")
}

func TestRunNowHonorsContext(t *testing.T) {
	h := newHarness(t, nil)
	seedUsers(t, h, "alice", "bob")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if created := NewScheduler(h.orch, h.store, time.Hour, nil).RunNow(ctx); created != 0 {
		t.Fatalf("cancelled sweep created %d jobs", created)
	}
}
