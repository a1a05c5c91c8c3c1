// Copyright (C) 2026 Glycoscope Labs (eng@glycoscope.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package validation

import (
	"strings"
	"testing"
)

func TestValidateUserID(t *testing.T) {
	valid := []string{"alice", "user-42", "u_1", "A", strings.Repeat("a", 64)}
	for _, id := range valid {
		if err := ValidateUserID(id); err != nil {
			t.Errorf("ValidateUserID(%q) unexpected error: %v", id, err)
		}
	}

	invalid := []string{
		"",
		"-leading-hyphen",
		"_leading_underscore",
		"has space",
		`has"quote`,
		"slash/inside",
		"newline\ninjection",
		`") |> yield() //`,
		strings.Repeat("a", 65),
	}
	for _, id := range invalid {
		if err := ValidateUserID(id); err == nil {
			t.Errorf("ValidateUserID(%q) expected error, got nil", id)
		}
	}
}

func TestSanitizeUserID(t *testing.T) {
	got, err := SanitizeUserID("  alice-1  ")
	if err != nil {
		t.Fatalf("SanitizeUserID: %v", err)
	}
	if got != "alice-1" {
		t.Errorf("SanitizeUserID = %q, want %q", got, "alice-1")
	}

	if _, err := SanitizeUserID("   "); err == nil {
		t.Error("SanitizeUserID on whitespace expected error")
	}
}
