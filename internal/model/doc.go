// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures shared by the exchange engine,
// storage backends and front-ends.
//
// # Key Types
//
//   - Role: message role (system, user, assistant)
//   - Message: one immutable chat turn, created once its final text is known
//   - Dialogue: the ask/answer pair persisted after every exchange
//   - Session: a named conversation with its own system messages
//   - Profile: an immutable snapshot of the upstream endpoint settings
//
// # Usage
//
//	sess := model.NewSession("")
//	ask := model.NewMessage(sess.ID, model.RoleUser, "Hello!")
package model
