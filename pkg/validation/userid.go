// Copyright (C) 2026 Glycoscope Labs (eng@glycoscope.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided inputs that are used in
// database queries (Flux, BadgerDB key construction). Using these validators
// prevents injection attacks against the readings store and keyspace collisions
// in the durable store.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// userIDPattern matches valid user identifiers.
// Allows: letters, digits, hyphens, underscores. Max length: 64 characters.
// Slashes, quotes, and whitespace are rejected so ids are safe to embed in
// Flux string literals and BadgerDB key prefixes.
var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_\-]{0,63}$`)

// ValidateUserID validates a user identifier to prevent Flux injection and
// key-prefix collisions.
//
// Example:
//
//	if err := validation.ValidateUserID(userID); err != nil {
//	    return nil, fmt.Errorf("invalid user id: %w", err)
//	}
//	// Safe to use in Flux query and store keys
func ValidateUserID(userID string) error {
	if userID == "" {
		return fmt.Errorf("user id cannot be empty")
	}
	if !userIDPattern.MatchString(userID) {
		return fmt.Errorf("invalid user id format: %q (must be 1-64 alphanumeric chars, hyphens, or underscores)", userID)
	}
	return nil
}

// SanitizeUserID normalizes and validates a user identifier.
// Returns the trimmed id if valid, or an error if invalid.
func SanitizeUserID(userID string) (string, error) {
	normalized := strings.TrimSpace(userID)
	if err := ValidateUserID(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}
