// Copyright (C) 2026 Glycoscope Labs (eng@glycoscope.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package cache provides the in-process result cache for computed
// analysis artifacts.
//
// Entries are keyed by (user id, analysis kind, parameter fingerprint)
// and expire after a TTL. The cache never triggers computation: a miss is
// a miss, and the caller decides whether to recompute or report "not yet
// computed".
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/glycoscope/glycoscope/services/insights/datatypes"
)

// Clock abstracts time.Now so expiry behavior is testable.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock { return systemClock{} }

// DefaultTTL is the default entry lifetime.
const DefaultTTL = 1 * time.Hour

// Key identifies one cached artifact.
type Key struct {
	UserID      string
	Kind        datatypes.AnalysisKind
	Fingerprint string
}

// Fingerprint hashes an analysis parameter set into a stable hex digest.
// Params must be JSON-marshalable; identical parameters always produce
// the same fingerprint, so repeated queries share one entry.
func Fingerprint(params any) (string, error) {
	data, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("fingerprint params: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:16]), nil
}

type entry struct {
	payload   []byte
	expiresAt time.Time
}

// Cache is a TTL key-value cache for analysis results.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	entries map[Key]entry
	clock   Clock

	sweepStop chan struct{}
	sweepOnce sync.Once
}

// New creates an empty cache. A nil clock defaults to the system clock.
func New(clock Clock) *Cache {
	if clock == nil {
		clock = SystemClock()
	}
	return &Cache{
		entries:   make(map[Key]entry),
		clock:     clock,
		sweepStop: make(chan struct{}),
	}
}

// Get returns the cached payload for key, or ok=false on miss or expiry.
// Expired entries are dropped lazily on access.
func (c *Cache) Get(key Key) ([]byte, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.clock.Now().After(e.expiresAt) {
		c.mu.Lock()
		// Re-check under the write lock; a Put may have refreshed it.
		if cur, ok := c.entries[key]; ok && c.clock.Now().After(cur.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return e.payload, true
}

// Put stores payload under key for ttl. A non-positive ttl uses DefaultTTL.
func (c *Cache) Put(key Key, payload []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c.mu.Lock()
	c.entries[key] = entry{payload: payload, expiresAt: c.clock.Now().Add(ttl)}
	c.mu.Unlock()
}

// Invalidate removes every entry belonging to userID, across all analysis
// kinds and fingerprints. Called when new raw data materially changes the
// inputs (e.g. after a bulk upload). Returns the number of entries dropped.
func (c *Cache) Invalidate(userID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	dropped := 0
	for k := range c.entries {
		if k.UserID == userID {
			delete(c.entries, k)
			dropped++
		}
	}
	return dropped
}

// Len returns the current entry count, including not-yet-swept expired
// entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// StartSweeper launches a background goroutine that drops expired entries
// every interval. Stop it with StopSweeper.
func (c *Cache) StartSweeper(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-c.sweepStop:
				return
			case <-ticker.C:
				c.sweep()
			}
		}
	}()
}

// StopSweeper stops the background sweeper. Safe to call multiple times.
func (c *Cache) StopSweeper() {
	c.sweepOnce.Do(func() { close(c.sweepStop) })
}

func (c *Cache) sweep() {
	now := c.clock.Now()
	c.mu.Lock()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
}
