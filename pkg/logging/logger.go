// Copyright (C) 2026 Glycoscope Labs (eng@glycoscope.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging provides structured logging for Glycoscope services.
//
// The package is a thin layer over the standard library slog package:
//
//   - Default: stderr output (Unix CLI convention)
//   - Optional: JSON file logging with automatic directory creation
//
// # Basic Usage
//
//	logger := logging.Default()
//	logger.Info("job started", "user_id", userID, "kind", kind)
//
// # Service Logging
//
//	logger := logging.New(logging.Config{
//	    Level:   logging.LevelInfo,
//	    LogDir:  "/var/log/glycoscope",
//	    Service: "insightd",
//	    JSON:    true,
//	})
//	defer logger.Close()
//
// File logs are named "{service}_{YYYY-MM-DD}.log" and are always JSON.
//
// # Thread Safety
//
// Logger is safe for concurrent use; the underlying slog.Logger is
// thread-safe and file state is guarded by a mutex.
//
// # Security Considerations
//
// This package does not redact sensitive data. Callers must not log
// tokens or raw health payloads; log metadata (counts, ids) instead.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Level represents log severity, ordered Debug < Info < Warn < Error.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns "DEBUG", "INFO", "WARN", "ERROR", or "UNKNOWN".
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) toSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config configures Logger behavior. The zero value writes Info+ text
// messages to stderr.
type Config struct {
	// Level sets the minimum log level. Default: LevelInfo.
	Level Level

	// LogDir enables file logging to the given directory. The directory
	// is created with 0750 permissions if missing. Default: disabled.
	LogDir string

	// Service is included in every entry as the "service" attribute.
	Service string

	// JSON switches stderr output to JSON. File output is always JSON.
	JSON bool

	// Quiet disables stderr output (file-only logging for daemons).
	Quiet bool
}

// Logger wraps slog.Logger with optional file output.
type Logger struct {
	*slog.Logger

	mu   sync.Mutex
	file *os.File
}

// Default returns a stderr-only logger at Info level.
func Default() *Logger {
	return New(Config{})
}

// New creates a Logger from cfg. If the log directory cannot be created
// or the log file cannot be opened, file logging is skipped and the
// logger degrades to stderr-only rather than failing startup.
func New(cfg Config) *Logger {
	l := &Logger{}

	var writers []io.Writer
	if !cfg.Quiet {
		writers = append(writers, os.Stderr)
	}

	if cfg.LogDir != "" {
		if f, err := openLogFile(cfg.LogDir, cfg.Service); err == nil {
			l.file = f
			writers = append(writers, f)
		} else {
			fmt.Fprintf(os.Stderr, "logging: file output disabled: %v\n", err)
		}
	}

	var w io.Writer = io.Discard
	if len(writers) == 1 {
		w = writers[0]
	} else if len(writers) > 1 {
		w = io.MultiWriter(writers...)
	}

	opts := &slog.HandlerOptions{Level: cfg.Level.toSlogLevel()}
	var handler slog.Handler
	if cfg.JSON || (cfg.Quiet && l.file != nil) {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(handler)
	if cfg.Service != "" {
		logger = logger.With("service", cfg.Service)
	}
	l.Logger = logger
	return l
}

// Close flushes and closes the log file, if any. Safe to call multiple
// times and on loggers without file output.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func openLogFile(dir, service string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	if service == "" {
		service = "glycoscope"
	}
	name := fmt.Sprintf("%s_%s.log", service, time.Now().UTC().Format("2006-01-02"))
	f, err := os.OpenFile(filepath.Join(dir, name),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}
