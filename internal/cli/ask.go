// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// ask.go - The "ask" command: one exchange streamed to stdout.

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/jeranaias/chatstream/internal/exchange"
	"github.com/jeranaias/chatstream/internal/markdown"
	"github.com/jeranaias/chatstream/internal/render"
	"github.com/jeranaias/chatstream/internal/ui/styles"
)

// MaxFileSize is the largest file --file attaches.
const MaxFileSize = 1024 * 1024

var headerStyle = lipgloss.NewStyle().Foreground(styles.Purple).Bold(true)

// =============================================================================
// STREAM PRINTER
// =============================================================================

// streamPrinter turns accumulator snapshots into incremental terminal
// output. Snapshots only grow, so each update prints the part of the
// answer (and optionally the reasoning) not printed yet.
type streamPrinter struct {
	out       io.Writer
	reasoning io.Writer // nil hides reasoning

	mu             sync.Mutex
	printed        string
	printedThought string
	thinking       bool
}

func newStreamPrinter(out, reasoning io.Writer) *streamPrinter {
	return &streamPrinter{out: out, reasoning: reasoning}
}

// Update receives a full snapshot of the accumulated text.
func (p *streamPrinter) Update(snapshot string) {
	thought, answer := markdown.SplitReasoning(snapshot)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.reasoning != nil && thought != p.printedThought && strings.HasPrefix(thought, p.printedThought) {
		if !p.thinking {
			p.thinking = true
			fmt.Fprintln(p.reasoning, headerStyle.Render(render.ReasoningHeader))
		}
		fmt.Fprint(p.reasoning, thought[len(p.printedThought):])
		p.printedThought = thought
	}

	if answer == p.printed || !strings.HasPrefix(answer, p.printed) {
		return
	}
	if p.thinking {
		p.thinking = false
		fmt.Fprint(p.reasoning, "\n\n")
	}
	fmt.Fprint(p.out, answer[len(p.printed):])
	p.printed = answer
}

// Finish prints whatever the final answer adds and ends the line.
func (p *streamPrinter) Finish(final string) {
	p.Update(final)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.thinking {
		p.thinking = false
		fmt.Fprint(p.reasoning, "\n")
	}
	if p.printed != "" {
		fmt.Fprint(p.out, "\n")
	}
}

// reset forgets what was printed, for the next exchange.
func (p *streamPrinter) reset() {
	p.mu.Lock()
	p.printed, p.printedThought, p.thinking = "", "", false
	p.mu.Unlock()
}

// =============================================================================
// FILE CONTEXT
// =============================================================================

// readFileForContext reads path and formats it for inclusion in a prompt.
func readFileForContext(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", NewNotFoundError("file", path)
		}
		return "", fmt.Errorf("cannot access file: %w", err)
	}
	if info.IsDir() {
		return "", NewValidationError("file", path, "is a directory")
	}
	if info.Size() > MaxFileSize {
		return "", NewValidationError("file", path,
			fmt.Sprintf("too large: %d bytes (max %d)", info.Size(), MaxFileSize))
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\n--- File: %s ---\n", path)
	b.Write(content)
	b.WriteString("\n--- End of file ---\n")
	return b.String(), nil
}

// =============================================================================
// ASK
// =============================================================================

// askOutput is the --json form of an answer.
type askOutput struct {
	SessionID string `json:"session_id"`
	Answer    string `json:"answer"`
	Reasoning string `json:"reasoning,omitempty"`
	Outcome   string `json:"outcome"`
	Saved     bool   `json:"saved"`
	Error     string `json:"error,omitempty"`
}

// Ask runs one exchange. Without --session a new session is created.
// The answer streams to stdout; reasoning goes to stderr with --think.
func (a *App) Ask(ctx context.Context, args Args) error {
	question := args.Query
	if args.File != "" {
		attached, err := readFileForContext(args.File)
		if err != nil {
			return err
		}
		question += attached
	}

	sessionID, created, err := a.askSession(ctx, args.Session)
	if err != nil {
		return err
	}

	var onUpdate exchange.UpdateFunc
	var printer *streamPrinter
	if !args.JSON {
		var reasoning io.Writer
		if args.Think {
			reasoning = a.errOut()
		}
		printer = newStreamPrinter(a.out(), reasoning)
		onUpdate = printer.Update
	}

	res, err := a.Sender.Send(ctx, sessionID, question, onUpdate)
	if created && (err != nil || res.Dialogue == nil) {
		a.dropSession(sessionID)
	}
	if err != nil {
		return NewCommandError("ask", "send", "no answer", err)
	}

	a.logger().Debug("ask finished",
		zap.String("session", sessionID),
		zap.Stringer("outcome", res.Outcome),
		zap.Int("dropped_reasoning", res.DroppedReasoning))

	if args.JSON {
		thought, answer := markdown.SplitReasoning(res.Answer)
		out := askOutput{
			SessionID: sessionID,
			Answer:    answer,
			Reasoning: thought,
			Outcome:   res.Outcome.String(),
			Saved:     res.Dialogue != nil,
		}
		if res.Err != nil {
			out.Error = res.Err.Error()
		}
		if err := writeJSON(a.out(), "ask", out); err != nil {
			return err
		}
	} else {
		printer.Finish(res.Answer)
	}

	if res.Outcome == exchange.Completed {
		return nil
	}
	if !args.JSON {
		fmt.Fprintln(a.errOut(), styles.RenderWarning("answer "+res.Outcome.String()))
	}
	return res.Err
}

// askSession resolves --session, or creates a session for a new question.
func (a *App) askSession(ctx context.Context, ref string) (id string, created bool, err error) {
	if ref != "" {
		sess, err := a.ResolveSession(ctx, ref)
		if err != nil {
			return "", false, err
		}
		return sess.ID, false, nil
	}
	sess, err := a.Sender.NewSession(ctx, "")
	if err != nil {
		return "", false, NewCommandError("ask", "new session", "cannot create session", err)
	}
	return sess.ID, true, nil
}

// dropSession removes a session created for a question that saved nothing.
func (a *App) dropSession(id string) {
	if a.Store == nil {
		return
	}
	if err := a.Store.DeleteSession(context.Background(), id); err != nil {
		a.logger().Debug("drop empty session", zap.String("session", id), zap.Error(err))
	}
}
