// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive line-mode chat for chatstream.
//
// Answers stream to the terminal as they arrive. Ctrl+C while an answer
// streams cancels it; Ctrl+C or Ctrl+D at the prompt leaves the chat.

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/charmbracelet/lipgloss"
	"github.com/peterh/liner"
	"go.uber.org/zap"

	"github.com/jeranaias/chatstream/internal/config"
	"github.com/jeranaias/chatstream/internal/exchange"
	"github.com/jeranaias/chatstream/internal/storage"
	"github.com/jeranaias/chatstream/internal/ui/styles"
)

var (
	promptStyle = lipgloss.NewStyle().Foreground(styles.Cyan).Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(styles.TextMuted)
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// ChatCLI provides line editing and persistent input history.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a ChatCLI and loads the saved history.
func NewChatCLI() *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	c := &ChatCLI{line: line, historyFile: filepath.Join(dir, "chat_history")}
	c.LoadHistory()
	return c
}

// LoadHistory loads input history from file.
func (c *ChatCLI) LoadHistory() {
	if f, err := os.Open(c.historyFile); err == nil {
		_, _ = c.line.ReadHistory(f)
		f.Close()
	}
}

// ReadInput reads a line and adds it to the history when not blank.
func (c *ChatCLI) ReadInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// SaveHistory writes the history file with 0600 permissions.
func (c *ChatCLI) SaveHistory() {
	if err := config.EnsureConfigDir(); err != nil {
		return
	}
	f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = c.line.WriteHistory(f)
}

// Close saves history and restores the terminal.
func (c *ChatCLI) Close() {
	c.SaveHistory()
	c.line.Close()
}

// =============================================================================
// CHAT SESSION
// =============================================================================

// chatSession is the state of one interactive chat.
type chatSession struct {
	app       *App
	sessionID string
	think     bool
	streaming atomic.Bool
	printer   *streamPrinter
}

func (a *App) newChatSession(sessionID string, think bool) *chatSession {
	s := &chatSession{app: a, sessionID: sessionID, think: think}
	s.printer = newStreamPrinter(a.out(), nil)
	s.setThink(think)
	return s
}

func (s *chatSession) setThink(on bool) {
	s.think = on
	if on {
		s.printer.reasoning = s.app.out()
	} else {
		s.printer.reasoning = nil
	}
}

// interrupt cancels the streaming answer. It reports whether there was one.
func (s *chatSession) interrupt() bool {
	if !s.streaming.Load() {
		return false
	}
	s.app.Sender.Cancel()
	return true
}

// handleLine processes one line of input. It returns false when the chat
// should end.
func (s *chatSession) handleLine(ctx context.Context, input string) (bool, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return true, nil
	}
	if strings.HasPrefix(input, "/") {
		return s.handleSlashCommand(ctx, input)
	}
	if strings.EqualFold(input, "exit") || strings.EqualFold(input, "quit") {
		return false, nil
	}
	return true, s.send(ctx, input)
}

func (s *chatSession) handleSlashCommand(ctx context.Context, input string) (bool, error) {
	name, rest, _ := strings.Cut(input, " ")
	out := s.app.out()

	switch strings.ToLower(name) {
	case "/quit", "/exit", "/q":
		return false, nil

	case "/new":
		sess, err := s.app.Sender.NewSession(ctx, rest)
		if err != nil {
			return true, err
		}
		s.sessionID = sess.ID
		fmt.Fprintln(out, styles.RenderInfo("new chat "+shortID(sess.ID)))
		return true, nil

	case "/sessions":
		list, err := s.app.Store.ListSessions(ctx)
		if err != nil {
			return true, err
		}
		fmt.Fprint(out, storage.FormatSessionList(list))
		return true, nil

	case "/think":
		s.setThink(!s.think)
		state := "hidden"
		if s.think {
			state = "shown"
		}
		fmt.Fprintln(out, styles.RenderInfo("reasoning "+state))
		return true, nil

	case "/help", "/?":
		printChatHelp(s)
		return true, nil

	default:
		return true, NewValidationError("command", name, "unknown chat command (try /help)")
	}
}

// send runs one exchange and streams it to the terminal.
func (s *chatSession) send(ctx context.Context, text string) error {
	if s.sessionID == "" {
		sess, err := s.app.Sender.NewSession(ctx, "")
		if err != nil {
			return err
		}
		s.sessionID = sess.ID
	}

	s.printer.reset()
	s.streaming.Store(true)
	res, err := s.app.Sender.Send(ctx, s.sessionID, text, s.printer.Update)
	s.streaming.Store(false)
	if err != nil {
		return err
	}
	s.printer.Finish(res.Answer)

	if res.DroppedReasoning > 0 {
		s.app.logger().Debug("late reasoning dropped", zap.Int("tokens", res.DroppedReasoning))
	}
	switch res.Outcome {
	case exchange.Completed:
	case exchange.Cancelled:
		fmt.Fprintln(s.app.errOut(), styles.RenderWarning("cancelled"))
	default:
		fmt.Fprintln(s.app.errOut(), styles.RenderWarning("answer "+res.Outcome.String()))
	}
	return nil
}

func printChatHelp(s *chatSession) {
	out := s.app.out()
	fmt.Fprintln(out, dimStyle.Render("Commands:"))
	fmt.Fprintln(out, "  /new [name]   start a new session")
	fmt.Fprintln(out, "  /sessions     list sessions")
	fmt.Fprintln(out, "  /think        show or hide reasoning")
	fmt.Fprintln(out, "  /quit         leave the chat")
	fmt.Fprintln(out, dimStyle.Render("Ctrl+C cancels a streaming answer."))
}

// =============================================================================
// CHAT COMMAND
// =============================================================================

// Chat runs the interactive line-mode chat.
func (a *App) Chat(ctx context.Context, args Args) error {
	sessionID := ""
	if args.Session != "" {
		sess, err := a.ResolveSession(ctx, args.Session)
		if err != nil {
			return err
		}
		sessionID = sess.ID
	}
	s := a.newChatSession(sessionID, args.Think)

	input := NewChatCLI()
	defer input.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer func() {
		signal.Stop(sigCh)
		close(sigCh)
	}()
	go func() {
		for range sigCh {
			if s.interrupt() {
				a.logger().Debug("answer interrupted")
			}
		}
	}()

	if !args.Quiet {
		p := a.profile()
		fmt.Fprintf(a.out(), "%s %s\n", promptStyle.Render("chatstream"),
			dimStyle.Render(fmt.Sprintf("%s · %s · /help for commands", p.Name, p.Model)))
	}

	for {
		line, err := input.ReadInput(promptStyle.Render("> "))
		if err != nil {
			if !errors.Is(err, liner.ErrPromptAborted) && !errors.Is(err, io.EOF) {
				return err
			}
			fmt.Fprintln(a.out())
			return nil
		}

		cont, err := s.handleLine(ctx, line)
		if err != nil {
			fmt.Fprintln(a.errOut(), styles.RenderError(err.Error()))
		}
		if !cont || ctx.Err() != nil {
			return nil
		}
	}
}
