// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"testing"
	"time"
)

func TestRole_Valid(t *testing.T) {
	for _, r := range []Role{RoleSystem, RoleUser, RoleAssistant} {
		if !r.Valid() {
			t.Errorf("%q should be valid", r)
		}
	}
	if Role("tool").Valid() {
		t.Error("tool should not be valid")
	}
}

func TestNewMessage(t *testing.T) {
	m := NewMessage("s1", RoleUser, "hi")
	if m.ID == "" {
		t.Error("ID should be generated")
	}
	if m.SessionID != "s1" || m.Role != RoleUser || m.Content != "hi" {
		t.Errorf("unexpected message: %+v", m)
	}
	if m.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}
}

func TestNewDialogue_AnswerAfterAsk(t *testing.T) {
	d := NewDialogue("s1", "q", "a")
	if d.Ask.Role != RoleUser || d.Answer.Role != RoleAssistant {
		t.Fatalf("roles = %s/%s", d.Ask.Role, d.Answer.Role)
	}
	if !d.Answer.CreatedAt.After(d.Ask.CreatedAt) {
		t.Error("answer must sort after ask")
	}
	if d.Ask.ID == d.Answer.ID {
		t.Error("IDs must differ")
	}
}

func TestSession_DisplayName(t *testing.T) {
	s := NewSession("")
	if s.DisplayName() != "New chat" {
		t.Errorf("DisplayName = %q", s.DisplayName())
	}
	s.Name = "Go questions"
	if s.DisplayName() != "Go questions" {
		t.Errorf("DisplayName = %q", s.DisplayName())
	}
}

func TestProfile_IdleTimeout(t *testing.T) {
	p := Profile{TimeoutMillis: 1500}
	if p.IdleTimeout() != 1500*time.Millisecond {
		t.Errorf("IdleTimeout = %v", p.IdleTimeout())
	}
}
