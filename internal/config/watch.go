// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// =============================================================================
// CONFIG WATCHER
// =============================================================================

// Watcher reloads the global config when config.toml or config.json change.
// The directory is watched rather than the files so that atomic
// rename-over writes are seen.
type Watcher struct {
	dir      string
	debounce time.Duration
	logger   *zap.Logger
	onReload func(*Config)
	load     func() (*Config, error)

	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	pending time.Time // last relevant change; zero when nothing is pending
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithWatchLogger sets the logger.
func WithWatchLogger(l *zap.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce sets how long the files must be quiet before reloading.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// OnReload registers a callback that receives every successfully loaded config.
func OnReload(fn func(*Config)) WatcherOption {
	return func(w *Watcher) { w.onReload = fn }
}

// WithLoader replaces Load as the way a changed config is read, for
// callers that layer command-line overrides on top of the file.
func WithLoader(fn func() (*Config, error)) WatcherOption {
	return func(w *Watcher) {
		if fn != nil {
			w.load = fn
		}
	}
}

// NewWatcher creates a watcher for the config directory.
func NewWatcher(opts ...WatcherOption) (*Watcher, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	if err := EnsureConfigDir(); err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		dir:      dir,
		debounce: 250 * time.Millisecond,
		logger:   zap.NewNop(),
		load:     Load,
		watcher:  fw,
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Watch starts watching. It returns once the watch is registered.
func (w *Watcher) Watch() error {
	if err := w.watcher.Add(w.dir); err != nil {
		return err
	}

	w.wg.Add(2)
	go w.processEvents()
	go w.processPending()
	return nil
}

// Close stops watching and releases resources.
func (w *Watcher) Close() error {
	w.cancel()
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}

func isConfigFile(name string) bool {
	base := filepath.Base(name)
	return base == "config.toml" || base == "config.json"
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isConfigFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.mu.Lock()
				w.pending = time.Now()
				w.mu.Unlock()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) processPending() {
	defer w.wg.Done()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return

		case now := <-ticker.C:
			w.mu.Lock()
			due := !w.pending.IsZero() && now.Sub(w.pending) >= w.debounce
			if due {
				w.pending = time.Time{}
			}
			w.mu.Unlock()

			if due {
				w.reload()
			}
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := w.load()
	if err != nil {
		// Keep the previous config.
		w.logger.Warn("config reload failed", zap.Error(err))
		return
	}
	SetGlobal(cfg)
	w.logger.Info("config reloaded", zap.String("active_profile", cfg.ActiveProfile))
	if w.onReload != nil {
		w.onReload(cfg)
	}
}
