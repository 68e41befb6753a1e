// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jeranaias/chatstream/internal/model"
	"github.com/jeranaias/chatstream/internal/util"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrSessionNotFound is returned when a session doesn't exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidMessage is returned for messages missing an ID, session or role.
	ErrInvalidMessage = errors.New("invalid message")

	// ErrUnknownBackend is returned by Open for unsupported backends.
	ErrUnknownBackend = errors.New("unknown storage backend")

	// ErrStoreClosed is returned after Close.
	ErrStoreClosed = errors.New("store closed")
)

// StoreError wraps a backend failure with the operation that caused it.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// =============================================================================
// STORE INTERFACE
// =============================================================================

// Store is the session/message persistence collaborator.
type Store interface {
	// GetSession returns the session or ErrSessionNotFound.
	GetSession(ctx context.Context, id string) (*model.Session, error)

	// GetAllMessages returns the session's messages ordered by creation time.
	GetAllMessages(ctx context.Context, sessionID string) ([]model.Message, error)

	// SaveMessage inserts or replaces a message by ID.
	SaveMessage(ctx context.Context, msg model.Message) error

	// SaveSession inserts or replaces a session by ID.
	SaveSession(ctx context.Context, sess *model.Session) error

	// ListSessions returns all sessions, most recently updated first.
	ListSessions(ctx context.Context) ([]SessionSummary, error)

	// DeleteSession removes a session and its messages.
	DeleteSession(ctx context.Context, id string) error

	Close() error
}

// SessionSummary is a session plus list metadata.
type SessionSummary struct {
	Session      model.Session
	MessageCount int
	Preview      string // first user message, truncated
}

const previewRunes = 50

// Open opens the store for the given backend ("sqlite" or "json").
func Open(backend, path string) (Store, error) {
	switch backend {
	case "sqlite", "":
		return OpenSQLite(path)
	case "json":
		return OpenFileStore(path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}

func validateMessage(msg model.Message) error {
	switch {
	case msg.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidMessage)
	case msg.SessionID == "":
		return fmt.Errorf("%w: missing session id", ErrInvalidMessage)
	case !msg.Role.Valid():
		return fmt.Errorf("%w: bad role %q", ErrInvalidMessage, msg.Role)
	}
	return nil
}

func sortMessages(msgs []model.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}

func sortSummaries(list []SessionSummary) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Session.UpdatedAt.After(list[j].Session.UpdatedAt)
	})
}

// =============================================================================
// SESSION LIST FORMATTING
// =============================================================================

// FormatSessionList formats sessions as a plain-text table.
func FormatSessionList(sessions []SessionSummary) string {
	if len(sessions) == 0 {
		return "No sessions found."
	}

	var sb strings.Builder
	sb.WriteString(util.PadRight("ID", 10) + " " + util.PadRight("Updated", 17) + " " +
		util.PadRight("Msgs", 5) + " Name\n")
	sb.WriteString(strings.Repeat("-", 64) + "\n")

	for _, s := range sessions {
		id := s.Session.ID
		if len(id) > 8 {
			id = id[:8]
		}
		name := s.Session.DisplayName()
		if s.Session.Name == "" && s.Preview != "" {
			name = s.Preview
		}
		sb.WriteString(util.PadRight(id, 10) + " " +
			util.PadRight(s.Session.UpdatedAt.Local().Format("2006-01-02 15:04"), 17) + " " +
			util.PadRight(fmt.Sprint(s.MessageCount), 5) + " " +
			util.TruncateWidth(name, 30) + "\n")
	}
	return sb.String()
}

// FormatAge renders how long ago t was, for compact listings.
func FormatAge(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
