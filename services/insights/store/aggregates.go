// Copyright (C) 2026 Glycoscope Labs (eng@glycoscope.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/glycoscope/glycoscope/services/insights/datatypes"
)

// UpsertAggregates writes one or more daily aggregates, overwriting any
// existing row for the same (user, date). The whole batch commits in one
// transaction, and the owning user is recorded in the known-user index.
func (s *Store) UpsertAggregates(aggs []datatypes.DailyAggregate) error {
	if len(aggs) == 0 {
		return nil
	}
	return s.update(func(txn *badger.Txn) error {
		users := make(map[string]struct{})
		for i := range aggs {
			a := &aggs[i]
			data, err := json.Marshal(a)
			if err != nil {
				return fmt.Errorf("marshal aggregate %s/%s: %w", a.UserID, a.Date, err)
			}
			if err := txn.Set(aggKey(a.UserID, a.Date), data); err != nil {
				return err
			}
			users[a.UserID] = struct{}{}
		}
		for u := range users {
			if err := txn.Set(userKey(u), []byte{1}); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListAggregates returns the user's aggregates with date in [from, to],
// ordered by ascending date. Empty from/to bounds are open. Dates use
// datatypes.DateLayout, which sorts lexicographically in calendar order.
func (s *Store) ListAggregates(userID, from, to string) ([]datatypes.DailyAggregate, error) {
	var out []datatypes.DailyAggregate
	prefix := aggPrefix(userID)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().Key()
			date := string(bytes.TrimPrefix(key, prefix))
			if from != "" && date < from {
				continue
			}
			if to != "" && date > to {
				continue
			}
			err := it.Item().Value(func(val []byte) error {
				var a datatypes.DailyAggregate
				if err := json.Unmarshal(val, &a); err != nil {
					return fmt.Errorf("unmarshal aggregate %s: %w", key, err)
				}
				out = append(out, a)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListUsers returns every user id with at least one stored aggregate.
// Used by the cadence scheduler to enqueue periodic full runs.
func (s *Store) ListUsers() ([]string, error) {
	var users []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(userPrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			users = append(users, string(it.Item().Key()[len(userPrefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return users, nil
}
