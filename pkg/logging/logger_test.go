// Copyright (C) 2026 Glycoscope Labs (eng@glycoscope.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLevelString(t *testing.T) {
	cases := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(42), "UNKNOWN"},
	}
	for _, tc := range cases {
		if got := tc.level.String(); got != tc.want {
			t.Errorf("Level(%d).String() = %q, want %q", tc.level, got, tc.want)
		}
	}
}

func TestDefaultLogger(t *testing.T) {
	logger := Default()
	if logger.Logger == nil {
		t.Fatal("Default() returned logger with nil slog.Logger")
	}
	// Close on a stderr-only logger must be a no-op.
	if err := logger.Close(); err != nil {
		t.Errorf("Close() on stderr-only logger: %v", err)
	}
}

func TestFileLogging(t *testing.T) {
	dir := t.TempDir()

	logger := New(Config{
		Level:   LevelInfo,
		LogDir:  dir,
		Service: "testsvc",
		Quiet:   true,
	})
	logger.Info("hello", "key", "value")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	wantName := "testsvc_" + time.Now().UTC().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, wantName))
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"hello"`) {
		t.Errorf("log file missing JSON entry, got: %s", data)
	}
	if !strings.Contains(string(data), `"service":"testsvc"`) {
		t.Errorf("log file missing service attribute, got: %s", data)
	}
}

func TestFileLoggingBadDirDegrades(t *testing.T) {
	// A file path (not a directory) must degrade to stderr-only, not panic.
	f := filepath.Join(t.TempDir(), "occupied")
	if err := os.WriteFile(f, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	logger := New(Config{LogDir: filepath.Join(f, "sub")})
	defer logger.Close()
	logger.Info("still works")
	if logger.file != nil {
		t.Error("expected file logging to be disabled for bad directory")
	}
}

func TestDoubleClose(t *testing.T) {
	logger := New(Config{LogDir: t.TempDir(), Service: "dbl", Quiet: true})
	if err := logger.Close(); err != nil {
		t.Fatalf("first Close(): %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("second Close(): %v", err)
	}
}
