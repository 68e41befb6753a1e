// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package exchange

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeNow is a settable clock source.
type fakeNow struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeNow) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeNow) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func TestTokenClock(t *testing.T) {
	now := &fakeNow{t: time.Unix(1000, 0)}
	clock := newTokenClockAt(now.Now)

	now.Advance(3 * time.Second)
	assert.Equal(t, 3*time.Second, clock.Since())

	clock.Touch()
	assert.Equal(t, time.Duration(0), clock.Since())
	assert.True(t, clock.Last().Equal(time.Unix(1003, 0)))
}

func TestWatch_FiresOnceAfterSilence(t *testing.T) {
	now := &fakeNow{t: time.Unix(1000, 0)}
	clock := newTokenClockAt(now.Now)

	var calls atomic.Int32
	var cause atomic.Value
	done := make(chan bool, 1)
	go func() {
		done <- Watch(context.Background(), time.Second, time.Millisecond, clock, func(err error) {
			calls.Add(1)
			cause.Store(err)
		})
	}()

	now.Advance(500 * time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())

	now.Advance(600 * time.Millisecond)
	select {
	case fired := <-done:
		assert.True(t, fired)
	case <-time.After(2 * time.Second):
		t.Fatal("watchdog did not fire")
	}
	assert.Equal(t, int32(1), calls.Load())
	assert.ErrorIs(t, cause.Load().(error), ErrIdleTimeout)
}

func TestWatch_TokensKeepItQuiet(t *testing.T) {
	now := &fakeNow{t: time.Unix(1000, 0)}
	clock := newTokenClockAt(now.Now)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan bool, 1)
	go func() {
		done <- Watch(ctx, time.Second, time.Millisecond, clock, func(error) {
			t.Error("watchdog fired while tokens were flowing")
		})
	}()

	// Ten seconds of total time, never more than 500ms between tokens.
	for i := 0; i < 20; i++ {
		now.Advance(500 * time.Millisecond)
		clock.Touch()
		time.Sleep(2 * time.Millisecond)
	}
	cancel()

	select {
	case fired := <-done:
		assert.False(t, fired)
	case <-time.After(2 * time.Second):
		t.Fatal("watchdog did not stop")
	}
}

func TestWatch_DisabledDeadlineWaitsForContext(t *testing.T) {
	clock := NewTokenClock()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	fired := Watch(ctx, 0, time.Millisecond, clock, func(error) {
		t.Error("disabled watchdog fired")
	})
	assert.False(t, fired)
	require.Error(t, ctx.Err())
}

func TestWatch_CancelsContextWithCause(t *testing.T) {
	clock := NewTokenClock()
	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	fired := Watch(ctx, 10*time.Millisecond, 2*time.Millisecond, clock, cancel)
	assert.True(t, fired)
	assert.ErrorIs(t, context.Cause(ctx), ErrIdleTimeout)
}
