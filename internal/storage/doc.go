// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists sessions and their messages.
//
// Two backends implement Store:
//
//   - SQLiteStore: a single SQLite database (modernc.org/sqlite, WAL mode)
//   - FileStore: one JSON document per session, written atomically
//
// Both return messages of a session in creation order, which is all the
// exchange engine relies on to rebuild conversation history.
//
// # Usage
//
//	store, err := storage.Open("sqlite", "/home/me/.chatstream/chatstream.db")
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	sess, err := store.GetSession(ctx, id)
//	if errors.Is(err, storage.ErrSessionNotFound) {
//	    // ...
//	}
package storage
