// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/chatstream/internal/markdown"
	"github.com/jeranaias/chatstream/internal/model"
	"github.com/jeranaias/chatstream/internal/storage"
	"github.com/jeranaias/chatstream/internal/upstream"
	"github.com/jeranaias/chatstream/internal/util"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrSuperseded is the cancellation cause of an exchange replaced by a
	// newer Send.
	ErrSuperseded = errors.New("exchange superseded by a newer request")

	// ErrCancelled is the cancellation cause used by Cancel.
	ErrCancelled = errors.New("exchange cancelled")

	// ErrEmptyMessage is returned by Send for blank input.
	ErrEmptyMessage = errors.New("message is empty")
)

// sessionTitleRunes bounds names derived from the first user message.
const sessionTitleRunes = 40

// =============================================================================
// RESULT
// =============================================================================

// Outcome is how an exchange ended.
type Outcome int

const (
	// Completed: the stream ended with the sentinel or end of body.
	Completed Outcome = iota
	// TimedOut: the idle watchdog fired.
	TimedOut
	// Cancelled: Cancel, a newer Send, or the caller's context stopped it.
	Cancelled
	// Failed: the stream broke for another reason.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case TimedOut:
		return "timed out"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result describes a finished exchange.
type Result struct {
	// Dialogue is the persisted ask/answer pair, nil when nothing was saved.
	Dialogue *model.Dialogue

	// Answer is the finalized accumulated text.
	Answer string

	Outcome Outcome

	// Err is the cause for TimedOut, Cancelled and Failed outcomes.
	Err error

	// Established reports whether the upstream began responding.
	Established bool

	// DroppedReasoning counts reasoning tokens that arrived after the
	// reasoning span had closed.
	DroppedReasoning int
}

// =============================================================================
// COORDINATOR
// =============================================================================

// Settings supplies the configuration read at the start of each exchange.
type Settings interface {
	CurrentProfile() model.Profile
	GlobalSystemMessages() []string
}

// flight is the one in-flight exchange. done is closed after persistence.
type flight struct {
	cancel context.CancelCauseFunc
	done   chan struct{}
}

// Coordinator runs exchanges one at a time: a new Send cancels the
// previous exchange and waits for it to finish persisting before it starts.
type Coordinator struct {
	store    storage.Store
	settings Settings
	streamer Streamer
	logger   *zap.Logger
	poll     time.Duration

	mu      sync.Mutex
	current *flight
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithPollInterval sets the watchdog poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.poll = d
		}
	}
}

// NewCoordinator creates a coordinator over the given collaborators.
func NewCoordinator(store storage.Store, settings Settings, streamer Streamer, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:    store,
		settings: settings,
		streamer: streamer,
		logger:   zap.NewNop(),
		poll:     DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Cancel stops the in-flight exchange, if any. Its partial answer is still
// persisted when the stream had been established.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		c.current.cancel(ErrCancelled)
	}
}

// Active reports whether an exchange is in flight.
func (c *Coordinator) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

// NewSession creates and stores an empty session.
func (c *Coordinator) NewSession(ctx context.Context, name string) (*model.Session, error) {
	sess := model.NewSession(strings.TrimSpace(name))
	if sess.Name != "" {
		sess.Name = util.Title(sess.Name, sessionTitleRunes)
	}
	if err := c.store.SaveSession(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// begin registers a new flight and returns it with the flight it replaced.
func (c *Coordinator) begin(ctx context.Context) (context.Context, *flight, *flight) {
	exCtx, cancel := context.WithCancelCause(ctx)
	f := &flight{cancel: cancel, done: make(chan struct{})}

	c.mu.Lock()
	prev := c.current
	c.current = f
	c.mu.Unlock()

	if prev != nil {
		prev.cancel(ErrSuperseded)
	}
	return exCtx, f, prev
}

func (c *Coordinator) end(f *flight) {
	c.mu.Lock()
	if c.current == f {
		c.current = nil
	}
	c.mu.Unlock()
	f.cancel(context.Canceled)
	close(f.done)
}

// Send runs one exchange in sessionID and blocks until it has finished and
// been persisted. onUpdate, if set, receives every accumulated snapshot in
// order on the streaming goroutine.
//
// An error is returned only when the stream could not be established or
// storage failed. Timeouts, cancellation and mid-stream failures are
// reported through Result.Outcome with the partial answer persisted.
func (c *Coordinator) Send(ctx context.Context, sessionID, userText string, onUpdate UpdateFunc) (*Result, error) {
	if strings.TrimSpace(userText) == "" {
		return nil, ErrEmptyMessage
	}

	exCtx, f, prev := c.begin(ctx)
	defer c.end(f)

	if prev != nil {
		<-prev.done
	}
	if exCtx.Err() != nil {
		return &Result{Outcome: Cancelled, Err: context.Cause(exCtx)}, nil
	}

	profile := c.settings.CurrentProfile()
	global := c.settings.GlobalSystemMessages()

	sess, err := c.store.GetSession(exCtx, sessionID)
	if err != nil {
		return c.loadFailed(exCtx, err)
	}
	history, err := c.store.GetAllMessages(exCtx, sessionID)
	if err != nil {
		return c.loadFailed(exCtx, err)
	}
	if !profile.KeepReasoning {
		history = stripReasoning(history)
	}
	msgs := upstream.BuildMessages(global, sess.SystemMessages, history, userText)

	acc := NewAccumulator()
	defer acc.Subscribe(onUpdate)()
	clock := NewTokenClock()

	start := time.Now()
	run := c.run(exCtx, f.cancel, profile, msgs, acc, clock)
	answer := acc.Finalize()
	established, streamErr := run.established, run.err

	res := &Result{
		Answer:           answer,
		Established:      established,
		DroppedReasoning: acc.DroppedReasoning(),
	}
	switch {
	case streamErr == nil:
		res.Outcome = Completed
	case run.timedOut || errors.Is(streamErr, ErrIdleTimeout):
		res.Outcome, res.Err = TimedOut, ErrIdleTimeout
	case exCtx.Err() != nil:
		res.Outcome, res.Err = Cancelled, context.Cause(exCtx)
	default:
		res.Outcome, res.Err = Failed, streamErr
	}

	c.logger.Debug("exchange finished",
		zap.String("session", sessionID),
		zap.String("model", profile.Model),
		zap.Stringer("outcome", res.Outcome),
		zap.Bool("established", established),
		zap.Int("answer_bytes", len(answer)),
		zap.Duration("elapsed", time.Since(start)),
		zap.NamedError("cause", res.Err),
	)

	if !established {
		if res.Outcome == Failed {
			c.logger.Warn("exchange not established", zap.String("session", sessionID), zap.Error(streamErr))
			return nil, streamErr
		}
		return res, nil
	}

	d, err := c.persist(context.WithoutCancel(exCtx), sess, userText, answer)
	if err != nil {
		return nil, fmt.Errorf("persist exchange: %w", err)
	}
	res.Dialogue = d
	return res, nil
}

// loadFailed reports a history load error, or a quiet cancellation when the
// exchange was stopped while loading.
func (c *Coordinator) loadFailed(ctx context.Context, err error) (*Result, error) {
	if ctx.Err() != nil {
		return &Result{Outcome: Cancelled, Err: context.Cause(ctx)}, nil
	}
	return nil, fmt.Errorf("load session: %w", err)
}

type runResult struct {
	established bool
	timedOut    bool
	err         error
}

// run joins the ingest and watchdog goroutines.
func (c *Coordinator) run(ctx context.Context, cancel context.CancelCauseFunc, p model.Profile, msgs []upstream.ChatMessage, acc *Accumulator, clock *TokenClock) runResult {
	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()

	var r runResult
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer stopWatch()
		r.established, r.err = Ingest(ctx, c.streamer, p, msgs, acc, clock)
	}()
	go func() {
		defer wg.Done()
		r.timedOut = Watch(watchCtx, p.IdleTimeout(), c.poll, clock, cancel)
	}()
	wg.Wait()
	return r
}

func (c *Coordinator) persist(ctx context.Context, sess *model.Session, ask, answer string) (*model.Dialogue, error) {
	d := model.NewDialogue(sess.ID, ask, answer)
	if err := c.store.SaveMessage(ctx, d.Ask); err != nil {
		return nil, err
	}
	if err := c.store.SaveMessage(ctx, d.Answer); err != nil {
		return nil, err
	}

	if sess.Name == "" {
		sess.Name = util.Title(ask, sessionTitleRunes)
	}
	sess.Touch()
	if err := c.store.SaveSession(ctx, sess); err != nil {
		return nil, err
	}
	return &d, nil
}

// stripReasoning removes reasoning spans from assistant turns so they are
// not sent back upstream.
func stripReasoning(history []model.Message) []model.Message {
	out := make([]model.Message, len(history))
	for i, m := range history {
		if m.Role == model.RoleAssistant {
			_, m.Content = markdown.SplitReasoning(m.Content)
		}
		out[i] = m
	}
	return out
}
