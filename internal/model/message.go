// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message is a single stored turn. Messages are built once their text is
// final and are never edited afterwards.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// NewMessage creates a message with a fresh ID and the current time.
func NewMessage(sessionID string, role Role, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

// Dialogue is the ask/answer pair produced by one exchange.
type Dialogue struct {
	Ask    Message `json:"ask"`
	Answer Message `json:"answer"`
}

// NewDialogue pairs a user question with the assistant's final text.
// The answer is timestamped after the ask so ordered retrieval keeps the pair
// together.
func NewDialogue(sessionID, ask, answer string) Dialogue {
	d := Dialogue{
		Ask:    NewMessage(sessionID, RoleUser, ask),
		Answer: NewMessage(sessionID, RoleAssistant, answer),
	}
	if !d.Answer.CreatedAt.After(d.Ask.CreatedAt) {
		d.Answer.CreatedAt = d.Ask.CreatedAt.Add(time.Microsecond)
	}
	return d
}
