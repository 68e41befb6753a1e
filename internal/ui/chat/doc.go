// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat is the full-screen chat interface.
//
// The screen sends each submitted line through a Sender (the exchange
// coordinator) and shows the answer as it streams. Snapshots go to a
// render.Scheduler; every tree it publishes arrives as a RenderMsg and
// replaces the live answer. Ctrl+T toggles the "Thinking Process" block,
// Esc stops the running answer, and submitting while an answer streams
// supersedes it.
package chat
