// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "time"

// Profile is the upstream endpoint configuration used by one exchange.
// It is copied by value at exchange start and never changes mid-stream.
type Profile struct {
	Name        string
	APIHost     string
	APIKey      string
	Model       string
	Temperature float64

	// TimeoutMillis is the maximum silence allowed between two tokens.
	// Zero or negative disables the idle watchdog.
	TimeoutMillis int

	// KeepReasoning sends earlier reasoning blocks back upstream as part of
	// assistant history instead of stripping them.
	KeepReasoning bool
}

// IdleTimeout returns TimeoutMillis as a duration.
func (p Profile) IdleTimeout() time.Duration {
	return time.Duration(p.TimeoutMillis) * time.Millisecond
}
