// Copyright (C) 2026 Glycoscope Labs (eng@glycoscope.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/glycoscope/glycoscope/services/insights/datatypes"
)

// ErrJobNotFound is returned when a job id has no stored record.
var ErrJobNotFound = errors.New("job not found")

// completedJobTTL keeps finished jobs queryable for a while before Badger
// expires them. Long enough for status polling and debugging, short enough
// that the job table stays a coordination table, not a history table.
const completedJobTTL = 24 * time.Hour

// AcquireJobSlot claims the at-most-one-in-flight slot for (user, kind).
//
// If no active job holds the slot, the given job is persisted with status
// pending, the slot is recorded, and created=true is returned. If an
// active job already holds the slot, its id is returned with
// created=false and nothing is written.
//
// The check and the claim happen in one serializable transaction, so two
// concurrent triggers for the same (user, kind) can never both create a
// job: one commits, the other conflicts, retries, and observes the slot.
func (s *Store) AcquireJobSlot(job datatypes.AnalysisJob) (jobID string, created bool, err error) {
	err = s.update(func(txn *badger.Txn) error {
		jobID = ""
		created = false

		slot := jobSlotKey(job.UserID, job.Kind)
		item, err := txn.Get(slot)
		switch {
		case err == nil:
			var existing string
			if verr := item.Value(func(val []byte) error {
				existing = string(val)
				return nil
			}); verr != nil {
				return verr
			}
			jobID = existing
			return nil
		case errors.Is(err, badger.ErrKeyNotFound):
			// Slot free, claim it.
		default:
			return err
		}

		data, err := json.Marshal(&job)
		if err != nil {
			return fmt.Errorf("marshal job: %w", err)
		}
		if err := txn.Set(jobKey(job.ID), data); err != nil {
			return err
		}
		if err := txn.Set(slot, []byte(job.ID)); err != nil {
			return err
		}
		jobID = job.ID
		created = true
		return nil
	})
	return jobID, created, err
}

// UpdateJob overwrites the job record. Terminal jobs (succeeded/failed)
// are stored with a TTL and their slot is released in the same
// transaction, freeing (user, kind) for future triggers.
func (s *Store) UpdateJob(job datatypes.AnalysisJob) error {
	return s.update(func(txn *badger.Txn) error {
		data, err := json.Marshal(&job)
		if err != nil {
			return fmt.Errorf("marshal job: %w", err)
		}

		if job.Status.Active() {
			return txn.Set(jobKey(job.ID), data)
		}

		entry := badger.NewEntry(jobKey(job.ID), data).WithTTL(completedJobTTL)
		if err := txn.SetEntry(entry); err != nil {
			return err
		}
		// Release the slot only if this job still owns it.
		slot := jobSlotKey(job.UserID, job.Kind)
		item, err := txn.Get(slot)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		var owner string
		if verr := item.Value(func(val []byte) error {
			owner = string(val)
			return nil
		}); verr != nil {
			return verr
		}
		if owner == job.ID {
			return txn.Delete(slot)
		}
		return nil
	})
}

// GetJob returns the job record for id, or ErrJobNotFound.
func (s *Store) GetJob(jobID string) (datatypes.AnalysisJob, error) {
	var job datatypes.AnalysisJob
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(jobKey(jobID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrJobNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &job)
		})
	})
	return job, err
}

// RecoverInterruptedJobs re-marks jobs left pending or running by a
// previous process as pending and returns them so the orchestrator can
// re-enqueue the work. Their slots stay claimed, preserving the
// at-most-one-in-flight guarantee across restarts.
func (s *Store) RecoverInterruptedJobs() ([]datatypes.AnalysisJob, error) {
	var recovered []datatypes.AnalysisJob
	err := s.update(func(txn *badger.Txn) error {
		recovered = recovered[:0]

		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(jobPrefix)
		it := txn.NewIterator(opts)

		var jobs []datatypes.AnalysisJob
		for it.Rewind(); it.Valid(); it.Next() {
			var job datatypes.AnalysisJob
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &job)
			})
			if err != nil {
				it.Close()
				return err
			}
			if job.Status.Active() {
				jobs = append(jobs, job)
			}
		}
		it.Close()

		for i := range jobs {
			jobs[i].Status = datatypes.JobPending
			jobs[i].StartedAt = nil
			data, err := json.Marshal(&jobs[i])
			if err != nil {
				return err
			}
			if err := txn.Set(jobKey(jobs[i].ID), data); err != nil {
				return err
			}
		}
		recovered = jobs
		return nil
	})
	if err != nil {
		return nil, err
	}
	return recovered, nil
}

// SetLastRun records the outcome of the most recent run for (user, kind).
func (s *Store) SetLastRun(run datatypes.LastRun) error {
	return s.update(func(txn *badger.Txn) error {
		data, err := json.Marshal(&run)
		if err != nil {
			return fmt.Errorf("marshal last run: %w", err)
		}
		return txn.Set(lastRunKey(run.UserID, run.Kind), data)
	})
}

// GetLastRun returns the last-run record for (user, kind). A user with no
// recorded run gets a zero record with ok=false, which query handlers
// translate to "not yet analyzed".
func (s *Store) GetLastRun(userID string, kind datatypes.AnalysisKind) (datatypes.LastRun, bool, error) {
	var run datatypes.LastRun
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(lastRunKey(userID, kind))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &run)
		})
	})
	return run, found, err
}
