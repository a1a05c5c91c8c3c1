// Copyright (C) 2026 Glycoscope Labs (eng@glycoscope.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"fmt"

	"github.com/glycoscope/glycoscope/services/insights/datatypes"
)

// Key construction. User ids are validated at the API boundary
// (pkg/validation), so embedding them between "/" separators is safe.

func aggKey(userID, date string) []byte {
	return []byte(fmt.Sprintf("agg/%s/%s", userID, date))
}

func aggPrefix(userID string) []byte {
	return []byte(fmt.Sprintf("agg/%s/", userID))
}

func causalKey(userID string, n int) []byte {
	return []byte(fmt.Sprintf("causal/%s/%06d", userID, n))
}

func causalPrefix(userID string) []byte {
	return []byte(fmt.Sprintf("causal/%s/", userID))
}

func patternKey(userID string, kind datatypes.PatternKind, n int) []byte {
	return []byte(fmt.Sprintf("pattern/%s/%s/%06d", userID, kind, n))
}

func patternPrefix(userID string) []byte {
	return []byte(fmt.Sprintf("pattern/%s/", userID))
}

func patternKindPrefix(userID string, kind datatypes.PatternKind) []byte {
	return []byte(fmt.Sprintf("pattern/%s/%s/", userID, kind))
}

func ruleKey(userID string, n int) []byte {
	return []byte(fmt.Sprintf("rule/%s/%06d", userID, n))
}

func rulePrefix(userID string) []byte {
	return []byte(fmt.Sprintf("rule/%s/", userID))
}

func jobKey(jobID string) []byte {
	return []byte("job/" + jobID)
}

func jobSlotKey(userID string, kind datatypes.AnalysisKind) []byte {
	return []byte(fmt.Sprintf("jobslot/%s/%s", userID, kind))
}

func lastRunKey(userID string, kind datatypes.AnalysisKind) []byte {
	return []byte(fmt.Sprintf("lastrun/%s/%s", userID, kind))
}

func userKey(userID string) []byte {
	return []byte("user/" + userID)
}

const (
	jobPrefix  = "job/"
	userPrefix = "user/"
)
