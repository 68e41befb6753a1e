// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package exchange

import (
	"strings"
	"sync"
	"unicode"
)

// Reasoning span markers. The assembler parses them as a "think" container.
const (
	OpenMarker  = "::: think\n"
	CloseMarker = "\n:::\n"
)

// ReasoningState tracks the reasoning span of one exchange.
type ReasoningState int

const (
	// NoReasoningYet: no reasoning token has arrived.
	NoReasoningYet ReasoningState = iota
	// ReasoningOpen: the span is open and receiving tokens.
	ReasoningOpen
	// ReasoningClosed: the span was closed and can never reopen.
	ReasoningClosed
)

func (s ReasoningState) String() string {
	switch s {
	case NoReasoningYet:
		return "no-reasoning"
	case ReasoningOpen:
		return "reasoning-open"
	case ReasoningClosed:
		return "reasoning-closed"
	default:
		return "unknown"
	}
}

// UpdateFunc receives the full accumulated text after a mutation.
type UpdateFunc func(snapshot string)

// Accumulator owns the growing text of one in-flight exchange.
//
// Mutation is expected from a single goroutine; Snapshot and State are safe
// to call from any goroutine. Subscribers are notified outside the lock, in
// mutation order.
type Accumulator struct {
	mu               sync.Mutex
	buf              strings.Builder
	state            ReasoningState
	answerStarted    bool
	finalized        bool
	droppedReasoning int

	subMu  sync.Mutex
	subs   map[int]UpdateFunc
	nextID int
}

// NewAccumulator creates an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{subs: make(map[int]UpdateFunc)}
}

// Subscribe registers fn for change notifications and returns a function
// that removes it.
func (a *Accumulator) Subscribe(fn UpdateFunc) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	a.subMu.Lock()
	id := a.nextID
	a.nextID++
	a.subs[id] = fn
	a.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			a.subMu.Lock()
			delete(a.subs, id)
			a.subMu.Unlock()
		})
	}
}

// AppendReasoning appends a reasoning token, opening the span on the first
// one. Tokens arriving after the span closed are dropped.
func (a *Accumulator) AppendReasoning(tok string) {
	if tok == "" {
		return
	}

	a.mu.Lock()
	if a.finalized {
		a.mu.Unlock()
		return
	}
	switch a.state {
	case NoReasoningYet:
		if a.buf.Len() > 0 && !strings.HasSuffix(a.buf.String(), "\n") {
			a.buf.WriteByte('\n')
		}
		a.buf.WriteString(OpenMarker)
		a.state = ReasoningOpen
	case ReasoningClosed:
		a.droppedReasoning++
		a.mu.Unlock()
		return
	}
	a.buf.WriteString(tok)
	snap := a.buf.String()
	a.mu.Unlock()

	a.notify(snap)
}

// AppendAnswer appends an answer token, closing an open reasoning span
// first. Leading whitespace of the answer is dropped until the first
// visible character arrives.
func (a *Accumulator) AppendAnswer(tok string) {
	if tok == "" {
		return
	}

	a.mu.Lock()
	if a.finalized {
		a.mu.Unlock()
		return
	}
	changed := false
	if a.state == ReasoningOpen {
		a.buf.WriteString(CloseMarker)
		a.state = ReasoningClosed
		changed = true
	}
	if !a.answerStarted {
		tok = strings.TrimLeftFunc(tok, unicode.IsSpace)
		a.answerStarted = tok != ""
	}
	if tok == "" && !changed {
		a.mu.Unlock()
		return
	}
	a.buf.WriteString(tok)
	snap := a.buf.String()
	a.mu.Unlock()

	a.notify(snap)
}

// Finalize closes a still-open reasoning span and seals the accumulator.
// It returns the final text and is safe to call more than once.
func (a *Accumulator) Finalize() string {
	a.mu.Lock()
	if a.finalized {
		snap := a.buf.String()
		a.mu.Unlock()
		return snap
	}
	a.finalized = true
	changed := false
	if a.state == ReasoningOpen {
		a.buf.WriteString(CloseMarker)
		a.state = ReasoningClosed
		changed = true
	}
	snap := a.buf.String()
	a.mu.Unlock()

	if changed {
		a.notify(snap)
	}
	return snap
}

// Snapshot returns the accumulated text.
func (a *Accumulator) Snapshot() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buf.String()
}

// State returns the current reasoning state.
func (a *Accumulator) State() ReasoningState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// DroppedReasoning returns how many reasoning tokens arrived after the span
// had closed.
func (a *Accumulator) DroppedReasoning() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.droppedReasoning
}

func (a *Accumulator) notify(snap string) {
	a.subMu.Lock()
	fns := make([]UpdateFunc, 0, len(a.subs))
	for id := 0; id < a.nextID; id++ {
		if fn, ok := a.subs[id]; ok {
			fns = append(fns, fn)
		}
	}
	a.subMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}
