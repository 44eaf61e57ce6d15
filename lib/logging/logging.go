// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package logging builds the daemon's slog.Logger from configuration.
//
// Output goes to stderr unless a file is configured, in which case it
// is written through a size-rotated lumberjack.Logger. Library
// packages never call this; they accept a *slog.Logger in their own
// Config and default to a discard handler.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Format names accepted by Config.Format.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Config selects level, encoding, and destination.
type Config struct {
	// Level is debug, info, warn, or error. Default info.
	Level string `yaml:"level"`

	// Format is FormatText (default) or FormatJSON.
	Format string `yaml:"format"`

	// File, when set, replaces stderr with a rotated log file.
	File string `yaml:"file"`

	// Rotation limits for File. Zero values take lumberjack's
	// floors below.
	MaxSizeMB  int  `yaml:"max_size_mb"`
	MaxBackups int  `yaml:"max_backups"`
	MaxAgeDays int  `yaml:"max_age_days"`
	Compress   bool `yaml:"compress"`
}

const (
	minimumSizeMB  = 10
	minimumBackups = 1
	minimumAgeDays = 7
)

// ParseLevel maps a configured level name to a slog.Level. The empty
// string is info.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", name)
}

// Validate reports an unusable level or format.
func (config Config) Validate() error {
	if _, err := ParseLevel(config.Level); err != nil {
		return err
	}
	switch config.Format {
	case "", FormatText, FormatJSON:
		return nil
	}
	return fmt.Errorf("unknown log format %q (want %s or %s)", config.Format, FormatText, FormatJSON)
}

// New returns a logger writing to stderr, or to config.File when set.
// The returned closer releases the log file; it is a no-op for stderr.
func New(config Config, stderr io.Writer) (*slog.Logger, io.Closer, error) {
	if err := config.Validate(); err != nil {
		return nil, nil, err
	}
	level, _ := ParseLevel(config.Level)

	var output io.Writer = stderr
	var closer io.Closer = nopCloser{}
	if config.File != "" {
		if err := os.MkdirAll(filepath.Dir(config.File), 0o755); err != nil {
			return nil, nil, fmt.Errorf("creating log directory: %w", err)
		}
		rotated := &lumberjack.Logger{
			Filename:   config.File,
			MaxSize:    max(config.MaxSizeMB, minimumSizeMB),
			MaxBackups: max(config.MaxBackups, minimumBackups),
			MaxAge:     max(config.MaxAgeDays, minimumAgeDays),
			Compress:   config.Compress,
		}
		output = rotated
		closer = rotated
	}

	options := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if config.Format == FormatJSON {
		handler = slog.NewJSONHandler(output, options)
	} else {
		handler = slog.NewTextHandler(output, options)
	}
	return slog.New(handler), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
