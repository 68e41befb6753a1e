// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package exchange

import (
	"context"
	"errors"

	"github.com/jeranaias/chatstream/internal/model"
	"github.com/jeranaias/chatstream/internal/upstream"
)

// Streamer opens a completion stream and reports each decoded delta.
// *upstream.Client implements it.
type Streamer interface {
	Stream(ctx context.Context, p model.Profile, msgs []upstream.ChatMessage, onDelta func(upstream.Delta)) error
}

// Ingest runs one stream and routes every delta into acc, touching clock on
// each one. Reasoning text of a delta is applied before its content.
//
// established reports whether the upstream accepted the request; it is
// false only when the stream failed before the response began.
func Ingest(ctx context.Context, s Streamer, p model.Profile, msgs []upstream.ChatMessage, acc *Accumulator, clock *TokenClock) (established bool, err error) {
	clock.Touch()
	err = s.Stream(ctx, p, msgs, func(d upstream.Delta) {
		clock.Touch()
		if d.Reasoning != "" {
			acc.AppendReasoning(d.Reasoning)
		}
		if d.Content != "" {
			acc.AppendAnswer(d.Content)
		}
	})

	var connErr *upstream.ConnectError
	return !errors.As(err, &connErr), err
}
