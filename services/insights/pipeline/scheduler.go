// Copyright (C) 2026 Glycoscope Labs (eng@glycoscope.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/glycoscope/glycoscope/pkg/logging"
	"github.com/glycoscope/glycoscope/services/insights/datatypes"
	"github.com/glycoscope/glycoscope/services/insights/store"
)

// DefaultCadence is the default interval between scheduled full runs.
const DefaultCadence = 24 * time.Hour

// Scheduler triggers a full analysis for every known user on a fixed
// cadence. Triggers for users with a run already in flight coalesce
// onto the existing job, so an overlong run never stacks up duplicates.
type Scheduler struct {
	orch     *Orchestrator
	store    *store.Store
	interval time.Duration
	log      *logging.Logger

	mu      sync.Mutex
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewScheduler creates a cadence scheduler. A non-positive interval
// uses DefaultCadence.
func NewScheduler(orch *Orchestrator, st *store.Store, interval time.Duration, log *logging.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultCadence
	}
	if log == nil {
		log = logging.Default()
	}
	return &Scheduler{
		orch:     orch,
		store:    st,
		interval: interval,
		log:      log,
		done:     make(chan struct{}),
	}
}

// Start launches the cadence loop. Returns an error if already running.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	s.running = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				s.RunNow(context.Background())
			}
		}
	}()
	s.log.Info("scheduler started", "cadence", s.interval)
	return nil
}

// Stop halts the cadence loop and waits for it to exit. Runs already
// handed to the orchestrator continue.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.done)
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info("scheduler stopped")
}

// RunNow triggers a full analysis for every user with stored data.
// Returns the number of jobs actually created (deduplicated triggers
// do not count).
func (s *Scheduler) RunNow(ctx context.Context) int {
	users, err := s.store.ListUsers()
	if err != nil {
		s.log.Error("scheduler could not list users", "error", err)
		return 0
	}

	created := 0
	for _, userID := range users {
		if ctx.Err() != nil {
			return created
		}
		_, isNew, err := s.orch.Trigger(ctx, userID, datatypes.KindFull)
		if err != nil {
			s.log.Error("scheduled trigger failed", "user_id", userID, "error", err)
			continue
		}
		if isNew {
			created++
		}
	}
	s.log.Info("scheduled sweep complete", "users", len(users), "jobs_created", created)
	return created
}
