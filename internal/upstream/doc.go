// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package upstream talks to OpenAI-compatible chat-completion endpoints.
//
// It owns the transport half of an exchange: host normalization, the
// streaming POST, server-sent event framing, delta decoding, and the error
// taxonomy callers use to tell connection failures from mid-stream ones.
//
// # Error Taxonomy
//
//   - *ConnectError: the stream was never established (DNS, TLS, non-2xx,
//     open circuit, or cancellation before the response arrived). Nothing
//     was received.
//   - *StreamError: the stream broke after it was established. Whatever was
//     delivered to the handler stays valid.
//   - cancellation mid-stream: context.Cause of the caller's context.
//
// Malformed frames are skipped. A run of MaxMalformedFrames consecutive bad
// frames ends the stream with ErrTooManyMalformedFrames.
//
// # Usage
//
//	client := upstream.NewClient(upstream.WithLogger(logger))
//	msgs := upstream.BuildMessages(global, session.SystemMessages, history, "Hello")
//	err := client.Stream(ctx, profile, msgs, func(d upstream.Delta) {
//	    fmt.Print(d.Content)
//	})
package upstream
