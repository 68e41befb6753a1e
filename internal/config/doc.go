// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for chatstream.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// environment variable overrides, validation and hot reload.
//
// # Key Types
//
//   - Config: main configuration structure
//   - ProfileConfig: one upstream endpoint (host, key, model, temperature, timeout)
//   - StreamConfig, RenderConfig, StorageConfig, LoggingConfig: per-subsystem knobs
//   - Watcher: fsnotify based reload of the global config
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (CHATSTREAM_*)
//   - ~/.chatstream/config.toml
//   - ~/.chatstream/config.json
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	profile := cfg.CurrentProfile()
//	logger, _ := config.NewLogger(cfg.Logging)
package config
