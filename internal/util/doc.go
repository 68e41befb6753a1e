// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util holds small helpers shared by the storage, config and CLI
// layers.
//
// # Key Functions
//
//   - WriteFileAtomic: crash-safe file replacement (temp file, fsync, rename)
//   - TruncateRunes, TruncateWidth: UTF-8 and display-width aware truncation
//   - Title: derive a one-line session title from free text
//
// # Usage
//
//	err := util.WriteFileAtomic(path, data, 0600)
//	name := util.Title(firstMessage, 40)
package util
