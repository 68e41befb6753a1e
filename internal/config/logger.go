// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a zap logger from the logging section.
// Level is one of debug, info, warn, error (default info). Format is
// "console" (default) or "json". Output is stderr, stdout or a file path;
// relative paths are placed in the config directory.
func NewLogger(lc LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(lc.Level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", lc.Level, err)
	}

	var cfg zap.Config
	switch lc.Format {
	case "console", "":
		cfg = zap.NewDevelopmentConfig()
	case "json":
		cfg = zap.NewProductionConfig()
	default:
		return nil, fmt.Errorf("invalid log format %q: must be \"json\" or \"console\"", lc.Format)
	}

	cfg.Level = zap.NewAtomicLevelAt(level)

	out, err := resolveLogOutput(lc.Output)
	if err != nil {
		return nil, err
	}
	cfg.OutputPaths = []string{out}
	cfg.ErrorOutputPaths = []string{"stderr"}

	return cfg.Build()
}

func resolveLogOutput(output string) (string, error) {
	switch output {
	case "", "stderr":
		return "stderr", nil
	case "stdout":
		return "stdout", nil
	}
	if filepath.IsAbs(output) {
		return output, nil
	}
	if err := EnsureConfigDir(); err != nil {
		return "", err
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, output), nil
}

// LoggerOrNop is NewLogger falling back to a no-op logger on error.
func LoggerOrNop(lc LoggingConfig) *zap.Logger {
	logger, err := NewLogger(lc)
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
