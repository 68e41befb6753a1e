// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jeranaias/chatstream/internal/model"
	"github.com/jeranaias/chatstream/internal/util"
)

// =============================================================================
// SQLITE STORE
// =============================================================================

// SQLiteStore is a Store backed by a single SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (creating if needed) the database at path.
// Use ":memory:" for a throwaway store.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), util.DirPerm); err != nil {
			return nil, &StoreError{Op: "open", Err: err}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &StoreError{Op: "open", Err: err}
	}

	// SQLite allows one writer; a single connection also keeps ":memory:"
	// databases alive across calls.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, &StoreError{Op: "pragma", Err: fmt.Errorf("%s: %w", p, err)}
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, &StoreError{Op: "schema", Err: err}
	}
	if _, err := db.Exec(
		`INSERT INTO metadata(key, value) VALUES('schema_version', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		strconv.Itoa(SchemaVersion),
	); err != nil {
		db.Close()
		return nil, &StoreError{Op: "schema", Err: err}
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// Path returns the database location.
func (s *SQLiteStore) Path() string {
	return s.path
}

func toNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

// GetSession implements Store.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	var (
		sess             model.Session
		sysJSON          string
		created, updated int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, system_messages, created_at, updated_at FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.Name, &sysJSON, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, &StoreError{Op: "get session", Err: err}
	}

	if err := json.Unmarshal([]byte(sysJSON), &sess.SystemMessages); err != nil {
		return nil, &StoreError{Op: "get session", Err: err}
	}
	sess.CreatedAt = fromNanos(created)
	sess.UpdatedAt = fromNanos(updated)
	return &sess, nil
}

// GetAllMessages implements Store.
func (s *SQLiteStore) GetAllMessages(ctx context.Context, sessionID string) ([]model.Message, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, created_at FROM messages
		 WHERE session_id = ? ORDER BY created_at, seq`, sessionID)
	if err != nil {
		return nil, &StoreError{Op: "get messages", Err: err}
	}
	defer rows.Close()

	var msgs []model.Message
	for rows.Next() {
		var (
			m       model.Message
			role    string
			created int64
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &role, &m.Content, &created); err != nil {
			return nil, &StoreError{Op: "get messages", Err: err}
		}
		m.Role = model.Role(role)
		m.CreatedAt = fromNanos(created)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Op: "get messages", Err: err}
	}
	return msgs, nil
}

// SaveMessage implements Store. The session must already exist.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg model.Message) error {
	if err := validateMessage(msg); err != nil {
		return err
	}

	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, msg.SessionID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrSessionNotFound
	}
	if err != nil {
		return &StoreError{Op: "save message", Err: err}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages(id, session_id, role, content, created_at) VALUES(?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		     session_id = excluded.session_id,
		     role = excluded.role,
		     content = excluded.content,
		     created_at = excluded.created_at`,
		msg.ID, msg.SessionID, string(msg.Role), msg.Content, toNanos(msg.CreatedAt))
	if err != nil {
		return &StoreError{Op: "save message", Err: err}
	}
	return nil
}

// SaveSession implements Store.
func (s *SQLiteStore) SaveSession(ctx context.Context, sess *model.Session) error {
	if sess == nil || sess.ID == "" {
		return &StoreError{Op: "save session", Err: errors.New("invalid session id")}
	}

	sys := sess.SystemMessages
	if sys == nil {
		sys = []string{}
	}
	sysJSON, err := json.Marshal(sys)
	if err != nil {
		return &StoreError{Op: "save session", Err: err}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions(id, name, system_messages, created_at, updated_at) VALUES(?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		     name = excluded.name,
		     system_messages = excluded.system_messages,
		     updated_at = excluded.updated_at`,
		sess.ID, sess.Name, string(sysJSON), toNanos(sess.CreatedAt), toNanos(sess.UpdatedAt))
	if err != nil {
		return &StoreError{Op: "save session", Err: err}
	}
	return nil
}

// ListSessions implements Store.
func (s *SQLiteStore) ListSessions(ctx context.Context) ([]SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.name, s.system_messages, s.created_at, s.updated_at,
		       (SELECT COUNT(*) FROM messages m WHERE m.session_id = s.id),
		       COALESCE((SELECT m.content FROM messages m
		                 WHERE m.session_id = s.id AND m.role = 'user'
		                 ORDER BY m.created_at, m.seq LIMIT 1), '')
		FROM sessions s
		ORDER BY s.updated_at DESC`)
	if err != nil {
		return nil, &StoreError{Op: "list", Err: err}
	}
	defer rows.Close()

	var list []SessionSummary
	for rows.Next() {
		var (
			sum              SessionSummary
			sysJSON, preview string
			created, updated int64
		)
		if err := rows.Scan(&sum.Session.ID, &sum.Session.Name, &sysJSON, &created, &updated,
			&sum.MessageCount, &preview); err != nil {
			return nil, &StoreError{Op: "list", Err: err}
		}
		_ = json.Unmarshal([]byte(sysJSON), &sum.Session.SystemMessages)
		sum.Session.CreatedAt = fromNanos(created)
		sum.Session.UpdatedAt = fromNanos(updated)
		sum.Preview = util.Title(preview, previewRunes)
		list = append(list, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Op: "list", Err: err}
	}
	return list, nil
}

// DeleteSession implements Store. Messages are removed by cascade.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return &StoreError{Op: "delete", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &StoreError{Op: "delete", Err: err}
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
