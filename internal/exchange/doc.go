// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package exchange runs streaming chat exchanges.
//
// One exchange is a user message in and an assistant message out. The
// pieces, leaves first:
//
//   - Accumulator: the growing answer text, with reasoning framed as a
//     "::: think" container that opens once and never reopens
//   - TokenClock and Watch: the idle watchdog, which cancels an exchange
//     after a period of inter-token silence rather than total duration
//   - Ingest: routes upstream deltas into the accumulator
//   - Coordinator: single-flight Send/Cancel, joins ingest and watchdog,
//     and persists the ask/answer pair once the stream was established
//
// # Usage
//
//	coord := exchange.NewCoordinator(store, config.GlobalSettings{}, upstream.NewClient())
//	res, err := coord.Send(ctx, sessionID, "hello", func(text string) {
//	    scheduler.OnContentChanged(text)
//	})
//	if err != nil {
//	    return err // never reached the server, or storage failed
//	}
//	if res.Outcome == exchange.TimedOut {
//	    // partial answer was kept
//	}
package exchange
