// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// sessions.go - The "sessions" command: list, show, delete and create
// sessions.

package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"

	"github.com/jeranaias/chatstream/internal/markdown"
	"github.com/jeranaias/chatstream/internal/model"
	"github.com/jeranaias/chatstream/internal/render"
	"github.com/jeranaias/chatstream/internal/storage"
	"github.com/jeranaias/chatstream/internal/ui/styles"
)

// Sessions handles "chatstream sessions <subcommand>".
func (a *App) Sessions(ctx context.Context, args Args) error {
	switch args.Subcommand {
	case "list", "ls", "l":
		return a.sessionsList(ctx, args.JSON)
	case "show":
		if len(args.Raw) == 0 {
			return ErrMissingArgument("session id", "chatstream sessions show ID")
		}
		return a.sessionsShow(ctx, args.Raw[0], args.Think, args.JSON)
	case "delete", "rm":
		if len(args.Raw) == 0 {
			return ErrMissingArgument("session id", "chatstream sessions delete ID")
		}
		return a.sessionsDelete(ctx, args.Raw[0])
	case "new":
		return a.sessionsNew(ctx, strings.Join(args.Raw, " "), args.JSON)
	default:
		return NewValidationError("subcommand", args.Subcommand, "expected list, show, delete or new")
	}
}

// ResolveSession finds a session by full ID or by a unique ID prefix.
func (a *App) ResolveSession(ctx context.Context, ref string) (*model.Session, error) {
	sess, err := a.Store.GetSession(ctx, ref)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, storage.ErrSessionNotFound) {
		return nil, err
	}

	list, err := a.Store.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	var found *model.Session
	for i := range list {
		if !strings.HasPrefix(list[i].Session.ID, ref) {
			continue
		}
		if found != nil {
			return nil, NewValidationError("session id", ref, "matches more than one session")
		}
		found = &list[i].Session
	}
	if found == nil {
		return nil, NewNotFoundError("session", ref)
	}
	return found, nil
}

// sessionJSON is the --json form of a session summary.
type sessionJSON struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Messages  int       `json:"messages"`
	Preview   string    `json:"preview,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (a *App) sessionsList(ctx context.Context, jsonMode bool) error {
	list, err := a.Store.ListSessions(ctx)
	if err != nil {
		return NewCommandError("sessions", "list", "cannot read sessions", err)
	}

	if jsonMode {
		out := make([]sessionJSON, 0, len(list))
		for _, s := range list {
			out = append(out, sessionJSON{
				ID:        s.Session.ID,
				Name:      s.Session.Name,
				Messages:  s.MessageCount,
				Preview:   s.Preview,
				CreatedAt: s.Session.CreatedAt,
				UpdatedAt: s.Session.UpdatedAt,
			})
		}
		return writeJSON(a.out(), "sessions list", out)
	}

	fmt.Fprint(a.out(), storage.FormatSessionList(list))
	if len(list) > 0 {
		fmt.Fprintf(a.out(), "\nTotal: %d session(s)\n", len(list))
	} else {
		fmt.Fprintln(a.out())
	}
	return nil
}

// transcriptMessage is one message of the --json transcript.
type transcriptMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func (a *App) sessionsShow(ctx context.Context, ref string, think, jsonMode bool) error {
	sess, err := a.ResolveSession(ctx, ref)
	if err != nil {
		return err
	}
	msgs, err := a.Store.GetAllMessages(ctx, sess.ID)
	if err != nil {
		return NewCommandError("sessions", "show", "cannot read messages", err)
	}

	if jsonMode {
		out := make([]transcriptMessage, 0, len(msgs))
		for _, m := range msgs {
			out = append(out, transcriptMessage{Role: string(m.Role), Content: m.Content, CreatedAt: m.CreatedAt})
		}
		return writeJSON(a.out(), "sessions show", map[string]interface{}{
			"id":       sess.ID,
			"name":     sess.Name,
			"messages": out,
		})
	}

	doc := transcript(sess, msgs, think)
	if IsStdoutTTY() {
		doc = renderMarkdown(doc, wrapWidth(a.wordWrap()))
	}
	fmt.Fprintln(a.out(), doc)
	return nil
}

// transcript formats a session as markdown. Reasoning is kept as a quoted
// section when think is set and dropped otherwise.
func transcript(sess *model.Session, msgs []model.Message, think bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", sess.DisplayName())
	fmt.Fprintf(&b, "_%s · %d messages · updated %s_\n", shortID(sess.ID), len(msgs), storage.FormatAge(sess.UpdatedAt))
	for _, s := range sess.SystemMessages {
		fmt.Fprintf(&b, "\n> **System:** %s\n", s)
	}

	for _, m := range msgs {
		fmt.Fprintf(&b, "\n## %s\n\n", m.Role.DisplayName())
		content := m.Content
		if m.Role == model.RoleAssistant {
			thought, answer := markdown.SplitReasoning(content)
			if think && thought != "" {
				fmt.Fprintf(&b, "> **%s**\n>\n", render.ReasoningHeader)
				for _, line := range strings.Split(thought, "\n") {
					fmt.Fprintf(&b, "> %s\n", line)
				}
				b.WriteString("\n")
			}
			content = answer
		}
		b.WriteString(strings.TrimSpace(content))
		b.WriteString("\n")
	}
	return b.String()
}

// renderMarkdown renders md with glamour, returning md unchanged when the
// renderer fails.
func renderMarkdown(md string, width int) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return out
}

func (a *App) sessionsDelete(ctx context.Context, ref string) error {
	sess, err := a.ResolveSession(ctx, ref)
	if err != nil {
		return err
	}
	if err := a.Store.DeleteSession(ctx, sess.ID); err != nil {
		return NewCommandError("sessions", "delete", "cannot delete session", err)
	}
	fmt.Fprintln(a.out(), styles.RenderSuccess(fmt.Sprintf("deleted %s (%s)", shortID(sess.ID), sess.DisplayName())))
	return nil
}

func (a *App) sessionsNew(ctx context.Context, name string, jsonMode bool) error {
	sess, err := a.Sender.NewSession(ctx, name)
	if err != nil {
		return NewCommandError("sessions", "new", "cannot create session", err)
	}
	if jsonMode {
		return writeJSON(a.out(), "sessions new", sessionJSON{
			ID:        sess.ID,
			Name:      sess.Name,
			CreatedAt: sess.CreatedAt,
			UpdatedAt: sess.UpdatedAt,
		})
	}
	fmt.Fprintln(a.out(), sess.ID)
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
