// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides command-line parsing and the non-TUI commands of
// chatstream.
//
// # Key Types
//
//   - Command: Enumeration of all available CLI commands
//   - Args: Parsed command-line arguments with global and command-specific flags
//   - App: The store, coordinator and upstream client the commands run against
//
// # Usage
//
//	cmd, args := cli.Parse()
//	switch cmd {
//	case cli.CmdConfig:
//	    return cli.HandleConfig(os.Stdout, cfg, args)
//	default:
//	    return app.Run(ctx, cmd, args)
//	}
//
// # Commands Overview
//
//   - ask: One question, answer streamed to stdout
//   - chat: Line-mode chat with history (liner)
//   - models, validate: Query the active profile's endpoint
//   - sessions: list, show (glamour), delete, new
//   - config: show, path, init
//
// Handlers return errors and never exit; GetExitCode maps an error to the
// process exit status.
package cli
