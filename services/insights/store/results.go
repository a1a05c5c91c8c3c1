// Copyright (C) 2026 Glycoscope Labs (eng@glycoscope.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/dgraph-io/badger/v4"

	"github.com/glycoscope/glycoscope/services/insights/datatypes"
)

// deletePrefix removes every key under prefix within txn.
func deletePrefix(txn *badger.Txn, prefix []byte) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	var keys [][]byte
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()

	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// ReplaceCausalLinks atomically swaps the user's causal link set.
// Stale links from prior runs never survive a successful replace.
func (s *Store) ReplaceCausalLinks(userID string, links []datatypes.CausalLink) error {
	return s.update(func(txn *badger.Txn) error {
		if err := deletePrefix(txn, causalPrefix(userID)); err != nil {
			return err
		}
		for i := range links {
			data, err := json.Marshal(&links[i])
			if err != nil {
				return fmt.Errorf("marshal causal link: %w", err)
			}
			if err := txn.Set(causalKey(userID, i), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListCausalLinks returns the user's links ordered by descending |strength|.
func (s *Store) ListCausalLinks(userID string) ([]datatypes.CausalLink, error) {
	var links []datatypes.CausalLink
	err := s.listJSON(causalPrefix(userID), func(val []byte) error {
		var l datatypes.CausalLink
		if err := json.Unmarshal(val, &l); err != nil {
			return err
		}
		links = append(links, l)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(links, func(i, j int) bool {
		return math.Abs(links[i].Strength) > math.Abs(links[j].Strength)
	})
	return links, nil
}

// ReplacePatterns atomically swaps the user's pattern set (both kinds).
func (s *Store) ReplacePatterns(userID string, patterns []datatypes.Pattern) error {
	return s.update(func(txn *badger.Txn) error {
		if err := deletePrefix(txn, patternPrefix(userID)); err != nil {
			return err
		}
		counters := make(map[datatypes.PatternKind]int)
		for i := range patterns {
			p := &patterns[i]
			data, err := json.Marshal(p)
			if err != nil {
				return fmt.Errorf("marshal pattern: %w", err)
			}
			n := counters[p.Kind]
			counters[p.Kind] = n + 1
			if err := txn.Set(patternKey(userID, p.Kind, n), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListPatterns returns the user's patterns of one kind in stored order.
func (s *Store) ListPatterns(userID string, kind datatypes.PatternKind) ([]datatypes.Pattern, error) {
	var patterns []datatypes.Pattern
	err := s.listJSON(patternKindPrefix(userID, kind), func(val []byte) error {
		var p datatypes.Pattern
		if err := json.Unmarshal(val, &p); err != nil {
			return err
		}
		patterns = append(patterns, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return patterns, nil
}

// ReplaceRules atomically swaps the user's association rule set.
func (s *Store) ReplaceRules(userID string, rules []datatypes.AssociationRule) error {
	return s.update(func(txn *badger.Txn) error {
		if err := deletePrefix(txn, rulePrefix(userID)); err != nil {
			return err
		}
		for i := range rules {
			data, err := json.Marshal(&rules[i])
			if err != nil {
				return fmt.Errorf("marshal rule: %w", err)
			}
			if err := txn.Set(ruleKey(userID, i), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListRules returns the user's rules with confidence >= minConfidence,
// ordered by descending confidence.
func (s *Store) ListRules(userID string, minConfidence float64) ([]datatypes.AssociationRule, error) {
	var rules []datatypes.AssociationRule
	err := s.listJSON(rulePrefix(userID), func(val []byte) error {
		var r datatypes.AssociationRule
		if err := json.Unmarshal(val, &r); err != nil {
			return err
		}
		if r.Confidence >= minConfidence {
			rules = append(rules, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Confidence > rules[j].Confidence
	})
	return rules, nil
}

// listJSON iterates every value under prefix in key order.
func (s *Store) listJSON(prefix []byte, fn func(val []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := it.Item().Value(fn); err != nil {
				return err
			}
		}
		return nil
	})
}
