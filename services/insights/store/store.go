// Copyright (C) 2026 Glycoscope Labs (eng@glycoscope.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package store persists the pipeline's durable state in BadgerDB.
//
// Tables are key prefixes in a single keyspace:
//
//	agg/<user>/<date>        DailyAggregate (unique per user+date)
//	causal/<user>/<n>        CausalLink (replace-all per run)
//	pattern/<user>/<kind>/<n> Pattern (replace-all per run)
//	rule/<user>/<n>          AssociationRule (replace-all per run)
//	job/<id>                 AnalysisJob
//	jobslot/<user>/<kind>    active job id (at-most-one-in-flight slot)
//	lastrun/<user>/<kind>    LastRun bookkeeping
//	user/<id>                known-user marker
//
// Replace-all writes happen inside a single Badger transaction, so readers
// never observe a mix of two runs' outputs. The job slot is acquired with
// an atomic check-and-set backed by Badger's serializable transactions.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Config holds configuration for the insights store.
type Config struct {
	// Path is the directory for BadgerDB files. Required unless InMemory.
	Path string

	// InMemory enables in-memory mode (no disk persistence). For tests.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// GCInterval is how often to run value log garbage collection.
	// Set to 0 to disable.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum ratio of discardable data before GC.
	GCDiscardRatio float64

	// Logger receives BadgerDB internal logs. If nil, they are dropped.
	Logger *slog.Logger
}

// DefaultConfig returns production defaults: synchronous writes and a
// 5-minute GC cycle at a 0.5 discard ratio.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns configuration for tests: in-memory, no sync, no GC.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// Store is the durable state store for the insights pipeline.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Badger transactions provide
// serializable isolation; methods that must be atomic retry internally on
// transaction conflicts.
type Store struct {
	db     *badger.DB
	gcStop chan struct{}
}

// badgerLogger adapts slog.Logger to Badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}
func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}
func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Open creates and opens the store with the given configuration.
// Creates the directory if it doesn't exist. Caller must Close().
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
		opts = badger.DefaultOptions(cfg.Path).WithSyncWrites(cfg.SyncWrites)
	}
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	s := &Store{db: db, gcStop: make(chan struct{})}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		go s.runGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return s, nil
}

// OpenInMemory opens a throwaway in-memory store for tests.
func OpenInMemory() (*Store, error) {
	return Open(InMemoryConfig())
}

// Close stops GC and closes the underlying database.
func (s *Store) Close() error {
	close(s.gcStop)
	return s.db.Close()
}

// runGC periodically reclaims value log space. Badger returns
// ErrNoRewrite when there is nothing to collect; that is not an error.
func (s *Store) runGC(interval time.Duration, discardRatio float64) {
	if discardRatio <= 0 {
		discardRatio = 0.5
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.gcStop:
			return
		case <-ticker.C:
			for {
				err := s.db.RunValueLogGC(discardRatio)
				if err != nil {
					break
				}
			}
		}
	}
}

// update runs fn in a read-write transaction, retrying on conflicts.
// Badger aborts one of two overlapping read-write transactions with
// ErrConflict; retrying re-reads current state, which gives callers
// check-and-set semantics.
func (s *Store) update(fn func(txn *badger.Txn) error) error {
	for {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
}
