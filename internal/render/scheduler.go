// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package render

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jeranaias/chatstream/internal/markdown"
)

// DefaultMaxFPS caps how often a streaming answer is re-rendered.
const DefaultMaxFPS = 30

// Scheduler turns a stream of text snapshots into display trees.
//
// Snapshots are coalesced: while the frame cap holds back the next render,
// newer snapshots replace the pending one, and the render that starts uses
// whatever text is newest at that moment. Starting a render cancels the one
// still parsing or building, and only the last started render may publish.
// All methods are safe for concurrent use.
type Scheduler struct {
	logger           *zap.Logger
	builder          *Builder
	limiter          *rate.Limiter
	thinkingExpanded bool
	parse            func(string) *markdown.Block

	gen  atomic.Uint64
	tree atomic.Pointer[Node]

	mu         sync.Mutex // guards the fields below
	pending    string
	hasPending bool
	pendingGen uint64
	waiting    bool // a worker is waiting for rate permission
	cancel     context.CancelFunc
	closed     bool
	base       context.Context
	stopAll    context.CancelFunc

	// publishMu serializes the cancellation check with the tree swap.
	publishMu sync.Mutex

	subMu  sync.Mutex
	subs   map[int]func(*Node)
	nextID int

	wg sync.WaitGroup
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithLogger sets the logger used for recovered render failures.
func WithLogger(l *zap.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMaxFPS caps the publish rate. Zero or less removes the cap.
func WithMaxFPS(fps int) SchedulerOption {
	return func(s *Scheduler) {
		if fps <= 0 {
			s.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		s.limiter = rate.NewLimiter(rate.Limit(fps), 1)
	}
}

// WithCodeStyle selects the chroma style for code blocks. An empty name
// disables highlighting.
func WithCodeStyle(name string) SchedulerOption {
	return func(s *Scheduler) {
		s.builder = NewBuilder(name)
	}
}

// WithThinkingExpanded sets whether a reasoning expander starts open.
func WithThinkingExpanded(expanded bool) SchedulerOption {
	return func(s *Scheduler) {
		s.thinkingExpanded = expanded
	}
}

func withParser(parse func(string) *markdown.Block) SchedulerOption {
	return func(s *Scheduler) {
		s.parse = parse
	}
}

// NewScheduler creates a scheduler with an empty tree.
func NewScheduler(opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		logger:  zap.NewNop(),
		builder: NewBuilder(DefaultCodeStyle),
		limiter: rate.NewLimiter(rate.Limit(DefaultMaxFPS), 1),
		parse:   markdown.Parse,
		subs:    make(map[int]func(*Node)),
	}
	s.base, s.stopAll = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnContentChanged schedules a render of text. It never blocks on the
// render itself. Calls after Close are ignored.
func (s *Scheduler) OnContentChanged(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.pending, s.hasPending = text, true
	s.pendingGen = s.gen.Add(1)
	if s.waiting {
		return
	}
	s.waiting = true
	s.wg.Add(1)
	go s.dispatch()
}

// dispatch waits for rate permission, then starts a render of the newest
// pending snapshot. Snapshots that arrive while it waits only replace the
// pending text.
func (s *Scheduler) dispatch() {
	defer s.wg.Done()
	err := s.limiter.Wait(s.base)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.waiting = false
	if err != nil || !s.hasPending || s.closed {
		return
	}

	text, gen := s.pending, s.pendingGen
	s.pending, s.hasPending = "", false
	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(s.base)
	s.cancel = cancel
	s.wg.Add(1)
	go s.render(ctx, gen, text)
}

func (s *Scheduler) render(ctx context.Context, gen uint64, text string) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Debug("render panicked",
				zap.Uint64("generation", gen),
				zap.String("panic", fmt.Sprint(r)))
		}
	}()

	doc := s.parse(text)
	if ctx.Err() != nil {
		return
	}
	tree, err := s.builder.Build(doc)
	if err != nil {
		s.logger.Debug("render failed", zap.Uint64("generation", gen), zap.Error(err))
		return
	}
	s.publish(ctx, tree)
}

// publish installs tree unless a newer render has started since.
func (s *Scheduler) publish(ctx context.Context, tree *Node) bool {
	s.publishMu.Lock()
	if ctx.Err() != nil {
		s.publishMu.Unlock()
		return false
	}
	if exp := tree.Find(KindExpander); exp != nil {
		if prev := s.tree.Load().Find(KindExpander); prev != nil {
			exp.Expanded = prev.Expanded
		} else {
			exp.Expanded = s.thinkingExpanded
		}
	}
	s.tree.Store(tree)
	s.publishMu.Unlock()

	s.notify(tree)
	return true
}

// Current returns the published tree, or nil before the first publish.
// The tree must not be modified.
func (s *Scheduler) Current() *Node {
	return s.tree.Load()
}

// Subscribe registers fn to receive every published tree. The returned
// function removes it.
func (s *Scheduler) Subscribe(fn func(*Node)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

func (s *Scheduler) notify(tree *Node) {
	s.subMu.Lock()
	fns := make([]func(*Node), 0, len(s.subs))
	for id := 0; id < s.nextID; id++ {
		if fn, ok := s.subs[id]; ok {
			fns = append(fns, fn)
		}
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(tree)
	}
}

// ToggleReasoning flips the reasoning expander of the current tree and
// republishes it. It returns the new state, or false when the tree has no
// reasoning.
func (s *Scheduler) ToggleReasoning() bool {
	s.publishMu.Lock()
	cur := s.tree.Load()
	if cur.Find(KindExpander) == nil {
		s.publishMu.Unlock()
		return false
	}
	next := cur.Clone()
	exp := next.Find(KindExpander)
	exp.Expanded = !exp.Expanded
	s.tree.Store(next)
	s.publishMu.Unlock()

	s.notify(next)
	return exp.Expanded
}

// Reset drops the pending snapshot, cancels any render in flight and
// clears the tree, so the next reasoning expander starts from the
// configured default.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	s.pending, s.hasPending = "", false
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.gen.Add(1)
	s.mu.Unlock()

	s.publishMu.Lock()
	s.tree.Store(nil)
	s.publishMu.Unlock()
}

// Wait blocks until every scheduled render has finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Close cancels pending renders and waits for them. The published tree
// stays readable.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.pending, s.hasPending = "", false
	s.cancel = nil
	s.mu.Unlock()

	s.stopAll()
	s.wg.Wait()
}
