// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"

	"github.com/google/uuid"
)

// Session is a conversation. Messages reference it by ID and are stored
// separately.
type Session struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	SystemMessages []string  `json:"system_messages,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// NewSession creates an empty session. An empty name is filled in from the
// first user message of the session.
func NewSession(name string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Touch marks the session as updated now.
func (s *Session) Touch() {
	s.UpdatedAt = time.Now().UTC()
}

// DisplayName returns the session name or a placeholder for unnamed sessions.
func (s *Session) DisplayName() string {
	if s.Name == "" {
		return "New chat"
	}
	return s.Name
}
