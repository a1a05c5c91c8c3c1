// Copyright (C) 2026 Glycoscope Labs (eng@glycoscope.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package readings is the pipeline's adapter to the raw readings store.
//
// Raw measurements are owned by the ingestion subsystem and live in
// InfluxDB as one measurement per metric kind, tagged by user_id, with a
// single "value" field. This package only reads; it never writes.
//
// All store failures are wrapped with datatypes.ErrUpstreamRead so the
// orchestrator can classify them as retryable.
package readings

import (
	"context"
	"fmt"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/glycoscope/glycoscope/pkg/validation"
	"github.com/glycoscope/glycoscope/services/insights/datatypes"
)

// Reader lists raw readings for one user. This is the consumed boundary
// with the ingestion subsystem.
type Reader interface {
	// ListReadings returns the user's readings of one metric kind in
	// [start, end), ordered by ascending timestamp.
	ListReadings(ctx context.Context, userID string, kind datatypes.MetricKind,
		start, end time.Time) ([]datatypes.RawReading, error)
}

// InfluxReader implements Reader against an InfluxDB 2.x bucket.
//
// # Thread Safety
//
// InfluxReader is safe for concurrent use; the underlying QueryAPI is
// thread-safe.
type InfluxReader struct {
	queryAPI api.QueryAPI
	bucket   string
}

// NewInfluxReader creates a reader over the given query API and bucket.
func NewInfluxReader(queryAPI api.QueryAPI, bucket string) *InfluxReader {
	return &InfluxReader{queryAPI: queryAPI, bucket: bucket}
}

// ListReadings implements Reader.
//
// The user id is sanitized before being embedded in the Flux query to
// prevent Flux injection. An empty result is returned as an empty slice,
// not an error; unreachable-store failures wrap datatypes.ErrUpstreamRead.
func (r *InfluxReader) ListReadings(ctx context.Context, userID string,
	kind datatypes.MetricKind, start, end time.Time) ([]datatypes.RawReading, error) {

	safeUser, err := validation.SanitizeUserID(userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", datatypes.ErrInvalidParameter, err)
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown metric kind %q", datatypes.ErrInvalidParameter, kind)
	}

	query := buildFluxQuery(r.bucket, safeUser, kind, start, end)
	result, err := r.queryAPI.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: influx query for user %s: %v", datatypes.ErrUpstreamRead, safeUser, err)
	}
	if result == nil {
		return []datatypes.RawReading{}, nil
	}

	var out []datatypes.RawReading
	for result.Next() {
		record := result.Record()
		val, ok := record.Value().(float64)
		if !ok {
			continue
		}
		out = append(out, datatypes.RawReading{
			UserID:    safeUser,
			Timestamp: record.Time().UTC(),
			Kind:      kind,
			Value:     val,
		})
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("%w: influx result for user %s: %v", datatypes.ErrUpstreamRead, safeUser, err)
	}
	if out == nil {
		out = []datatypes.RawReading{}
	}
	return out, nil
}

// buildFluxQuery assembles the range query for one (user, kind) slice.
// Inputs must already be sanitized; timestamps are formatted as RFC3339
// and the half-open range [start, end) matches Flux range() semantics.
func buildFluxQuery(bucket, userID string, kind datatypes.MetricKind, start, end time.Time) string {
	return fmt.Sprintf(`
		from(bucket: "%s")
		  |> range(start: %s, stop: %s)
		  |> filter(fn: (r) => r._measurement == "%s")
		  |> filter(fn: (r) => r.user_id == "%s")
		  |> filter(fn: (r) => r._field == "value")
		  |> sort(columns: ["_time"], desc: false)
	`, bucket, start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339), kind, userID)
}
