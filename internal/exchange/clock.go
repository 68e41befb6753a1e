// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package exchange

import (
	"sync/atomic"
	"time"
)

// TokenClock records when the last token of an exchange arrived. It is
// written by the ingest goroutine and read by the watchdog.
type TokenClock struct {
	last atomic.Int64 // unix nanoseconds
	now  func() time.Time
}

// NewTokenClock creates a clock that starts counting from now.
func NewTokenClock() *TokenClock {
	return newTokenClockAt(time.Now)
}

func newTokenClockAt(now func() time.Time) *TokenClock {
	c := &TokenClock{now: now}
	c.Touch()
	return c
}

// Touch marks a token arrival.
func (c *TokenClock) Touch() {
	c.last.Store(c.now().UnixNano())
}

// Last returns the time of the last token.
func (c *TokenClock) Last() time.Time {
	return time.Unix(0, c.last.Load())
}

// Since returns the silence since the last token.
func (c *TokenClock) Since() time.Duration {
	return c.now().Sub(c.Last())
}
