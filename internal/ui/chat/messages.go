// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"github.com/jeranaias/chatstream/internal/exchange"
	"github.com/jeranaias/chatstream/internal/model"
	"github.com/jeranaias/chatstream/internal/render"
)

// RenderMsg delivers a newly published display tree.
type RenderMsg struct {
	Tree *render.Node
}

// StreamCompleteMsg signals that the exchange numbered Seq has ended.
// Err is set only when the exchange could not run at all.
type StreamCompleteMsg struct {
	Seq    int
	Ask    string
	Result *exchange.Result
	Err    error
}

// SessionReadyMsg carries a newly created session.
type SessionReadyMsg struct {
	Session *model.Session
	Err     error
}
