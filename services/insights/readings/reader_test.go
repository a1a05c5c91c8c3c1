// Copyright (C) 2026 Glycoscope Labs (eng@glycoscope.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package readings

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/glycoscope/glycoscope/services/insights/datatypes"
)

func TestBuildFluxQuery(t *testing.T) {
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)

	query := buildFluxQuery("health-data", "alice", datatypes.MetricGlucose, start, end)

	for _, want := range []string{
		`from(bucket: "health-data")`,
		`range(start: 2026-08-01T00:00:00Z, stop: 2026-08-31T00:00:00Z)`,
		`r._measurement == "glucose"`,
		`r.user_id == "alice"`,
		`r._field == "value"`,
	} {
		if !strings.Contains(query, want) {
			t.Errorf("query missing %q:\n%s", want, query)
		}
	}
}

func TestListReadingsRejectsBadInput(t *testing.T) {
	r := NewInfluxReader(nil, "health-data")
	start := time.Now().Add(-24 * time.Hour)
	end := time.Now()

	// Flux injection attempt must be rejected before any query is issued
	// (queryAPI is nil, so reaching it would panic).
	_, err := r.ListReadings(context.Background(), `bob") |> drop()`, datatypes.MetricGlucose, start, end)
	if !errors.Is(err, datatypes.ErrInvalidParameter) {
		t.Errorf("expected ErrInvalidParameter for injection attempt, got %v", err)
	}

	_, err = r.ListReadings(context.Background(), "bob", datatypes.MetricKind("heartrate"), start, end)
	if !errors.Is(err, datatypes.ErrInvalidParameter) {
		t.Errorf("expected ErrInvalidParameter for unknown kind, got %v", err)
	}
}
