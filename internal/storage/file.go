// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jeranaias/chatstream/internal/model"
	"github.com/jeranaias/chatstream/internal/util"
)

// =============================================================================
// FILE STORE
// =============================================================================

// sessionFile is the on-disk document for one session.
type sessionFile struct {
	Session  model.Session   `json:"session"`
	Messages []model.Message `json:"messages"`
}

// FileStore keeps each session and its messages in BaseDir/<id>.json.
type FileStore struct {
	BaseDir string

	mu     sync.Mutex
	closed bool
}

// OpenFileStore creates the directory if needed and returns a store on it.
func OpenFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, util.DirPerm); err != nil {
		return nil, &StoreError{Op: "open", Err: err}
	}
	return &FileStore{BaseDir: baseDir}, nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.BaseDir, id+".json")
}

// validID rejects IDs that could escape BaseDir.
func validID(id string) bool {
	return id != "" && !strings.ContainsAny(id, `/\`) && id != "." && id != ".."
}

func (s *FileStore) read(id string) (*sessionFile, error) {
	if !validID(id) {
		return nil, ErrSessionNotFound
	}
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSessionNotFound
		}
		return nil, &StoreError{Op: "read", Err: err}
	}
	var doc sessionFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &StoreError{Op: "decode", Err: err}
	}
	return &doc, nil
}

func (s *FileStore) write(doc *sessionFile) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return &StoreError{Op: "encode", Err: err}
	}
	if err := util.WriteFileAtomic(s.path(doc.Session.ID), data, 0600); err != nil {
		return &StoreError{Op: "write", Err: err}
	}
	return nil
}

func (s *FileStore) check(ctx context.Context) error {
	if s.closed {
		return ErrStoreClosed
	}
	return ctx.Err()
}

// GetSession implements Store.
func (s *FileStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	doc, err := s.read(id)
	if err != nil {
		return nil, err
	}
	sess := doc.Session
	return &sess, nil
}

// GetAllMessages implements Store.
func (s *FileStore) GetAllMessages(ctx context.Context, sessionID string) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	doc, err := s.read(sessionID)
	if err != nil {
		return nil, err
	}
	msgs := append([]model.Message(nil), doc.Messages...)
	sortMessages(msgs)
	return msgs, nil
}

// SaveMessage implements Store. The session must already exist.
func (s *FileStore) SaveMessage(ctx context.Context, msg model.Message) error {
	if err := validateMessage(msg); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}

	doc, err := s.read(msg.SessionID)
	if err != nil {
		return err
	}

	replaced := false
	for i := range doc.Messages {
		if doc.Messages[i].ID == msg.ID {
			doc.Messages[i] = msg
			replaced = true
			break
		}
	}
	if !replaced {
		doc.Messages = append(doc.Messages, msg)
	}
	return s.write(doc)
}

// SaveSession implements Store.
func (s *FileStore) SaveSession(ctx context.Context, sess *model.Session) error {
	if sess == nil || !validID(sess.ID) {
		return &StoreError{Op: "save session", Err: errors.New("invalid session id")}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}

	doc, err := s.read(sess.ID)
	if errors.Is(err, ErrSessionNotFound) {
		doc = &sessionFile{}
	} else if err != nil {
		return err
	}
	doc.Session = *sess
	return s.write(doc)
}

// ListSessions implements Store. Unreadable files are skipped.
func (s *FileStore) ListSessions(ctx context.Context) ([]SessionSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		return nil, &StoreError{Op: "list", Err: err}
	}

	var list []SessionSummary
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		doc, err := s.read(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		sum := SessionSummary{Session: doc.Session, MessageCount: len(doc.Messages)}
		sortMessages(doc.Messages)
		for _, m := range doc.Messages {
			if m.Role == model.RoleUser {
				sum.Preview = util.Title(m.Content, previewRunes)
				break
			}
		}
		list = append(list, sum)
	}
	sortSummaries(list)
	return list, nil
}

// DeleteSession implements Store.
func (s *FileStore) DeleteSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	if !validID(id) {
		return ErrSessionNotFound
	}

	if err := os.Remove(s.path(id)); err != nil {
		if os.IsNotExist(err) {
			return ErrSessionNotFound
		}
		return &StoreError{Op: "delete", Err: err}
	}
	return nil
}

// Close implements Store.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
