// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package markdown turns assistant text into a tree of content blocks.
//
// Parsing is done by goldmark with GFM tables, strikethrough, linkify, task
// lists and footnotes, plus two extensions defined here: ":::" custom
// containers and "$"/"$$" math. Before parsing, raw <think> tags and common
// LaTeX delimiters are rewritten by Normalize.
//
// A container named "think" is reasoning text. The first one in a document
// becomes a KindReasoning block, so a document has at most one and it can be
// found by kind alone.
package markdown
