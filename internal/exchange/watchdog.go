// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package exchange

import (
	"context"
	"errors"
	"time"
)

// ErrIdleTimeout is the cancellation cause used when no token arrived within
// the profile's deadline.
var ErrIdleTimeout = errors.New("no token received within the idle timeout")

// DefaultPollInterval is how often the watchdog checks the token clock.
const DefaultPollInterval = 100 * time.Millisecond

// Watch polls clock every poll interval and calls cancel(ErrIdleTimeout)
// once the silence exceeds deadline. It returns true if it fired, or false
// when ctx ends first. A deadline <= 0 disables the check.
func Watch(ctx context.Context, deadline, poll time.Duration, clock *TokenClock, cancel func(error)) bool {
	if deadline <= 0 {
		<-ctx.Done()
		return false
	}
	if poll <= 0 {
		poll = DefaultPollInterval
	}

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if clock.Since() > deadline {
				cancel(ErrIdleTimeout)
				return true
			}
		}
	}
}
