// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points the config directory at a temp dir and clears overrides.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("CHATSTREAM_HOME", dir)
	for _, k := range []string{
		"CHATSTREAM_PROFILE", "CHATSTREAM_API_HOST", "CHATSTREAM_API_KEY",
		"CHATSTREAM_MODEL", "CHATSTREAM_TIMEOUT_MS", "CHATSTREAM_LOG_LEVEL",
	} {
		t.Setenv(k, "")
	}
	ResetGlobalForTesting()
	t.Cleanup(ResetGlobalForTesting)
	return dir
}

func TestLoad_DefaultsWhenNoFile(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	require.NoError(t, err)

	p := cfg.CurrentProfile()
	assert.Equal(t, DefaultProfileName, p.Name)
	assert.Equal(t, DefaultModel, p.Model)
	assert.Equal(t, DefaultTemperature, p.Temperature)
	assert.Equal(t, DefaultTimeoutMillis, p.TimeoutMillis)
	assert.Equal(t, 64, cfg.Stream.MaxMalformedFrames)
	assert.Equal(t, 100, cfg.Stream.WatchdogPollMillis)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
}

func TestSaveTOML_RoundTrip(t *testing.T) {
	dir := isolate(t)

	cfg := Default()
	cfg.Profiles = append(cfg.Profiles, ProfileConfig{
		Name:          "local",
		APIHost:       "localhost:8080",
		Model:         "qwen",
		Temperature:   0.2,
		TimeoutMillis: 20000,
		KeepReasoning: true,
	})
	cfg.ActiveProfile = "local"
	cfg.SystemMessages = []string{"Be brief."}

	path := filepath.Join(dir, "config.toml")
	require.NoError(t, SaveTOML(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := Load()
	require.NoError(t, err)

	p := loaded.CurrentProfile()
	assert.Equal(t, "local", p.Name)
	assert.Equal(t, "localhost:8080", p.APIHost)
	assert.Equal(t, 0.2, p.Temperature)
	assert.True(t, p.KeepReasoning)
	assert.Equal(t, []string{"Be brief."}, loaded.GlobalSystemMessages())
}

func TestLoad_JSONFallback(t *testing.T) {
	dir := isolate(t)

	cfg := Default()
	cfg.Profiles[0].Model = "gpt-4o-mini"
	require.NoError(t, SaveJSON(cfg, filepath.Join(dir, "config.json")))

	loaded, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", loaded.CurrentProfile().Model)
}

func TestApplyEnvOverrides(t *testing.T) {
	isolate(t)

	cfg := Default()
	cfg.Profiles = append(cfg.Profiles, ProfileConfig{Name: "alt", Model: "m1"})

	t.Setenv("CHATSTREAM_PROFILE", "alt")
	t.Setenv("CHATSTREAM_API_KEY", "sk-test")
	t.Setenv("CHATSTREAM_MODEL", "m2")
	t.Setenv("CHATSTREAM_TIMEOUT_MS", "1234")
	t.Setenv("CHATSTREAM_LOG_LEVEL", "debug")

	cfg.ApplyEnvOverrides()

	assert.Equal(t, "alt", cfg.ActiveProfile)
	p := cfg.CurrentProfile()
	assert.Equal(t, "sk-test", p.APIKey)
	assert.Equal(t, "m2", p.Model)
	assert.Equal(t, 1234, p.TimeoutMillis)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// The other profile is untouched.
	def, err := cfg.Profile(DefaultProfileName)
	require.NoError(t, err)
	assert.Empty(t, def.APIKey)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad backend", func(c *Config) { c.Storage.Backend = "redis" }, "storage.backend"},
		{"bad temperature", func(c *Config) { c.Profiles[0].Temperature = 3 }, "profiles[0].temperature"},
		{"unknown active", func(c *Config) { c.ActiveProfile = "nope" }, "active_profile"},
		{"duplicate", func(c *Config) { c.Profiles = append(c.Profiles, c.Profiles[0]) }, "profiles[1].name"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"negative frames", func(c *Config) { c.Stream.MaxMalformedFrames = -1 }, "stream.max_malformed_frames"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)

			var verrs ValidateErrors
			require.True(t, errors.As(err, &verrs))
			found := false
			for _, ve := range verrs {
				if ve.Field == tt.field {
					found = true
				}
			}
			assert.True(t, found, "expected error on %s, got %v", tt.field, err)
		})
	}

	assert.NoError(t, Default().Validate())
}

func TestSetActiveProfile(t *testing.T) {
	cfg := Default()
	err := cfg.SetActiveProfile("missing")
	assert.ErrorIs(t, err, ErrProfileNotFound)

	cfg.Profiles = append(cfg.Profiles, ProfileConfig{Name: "b", Model: "x"})
	require.NoError(t, cfg.SetActiveProfile("b"))
	assert.Equal(t, "x", cfg.CurrentProfile().Model)
}

func TestString_RedactsKeys(t *testing.T) {
	cfg := Default()
	cfg.Profiles[0].APIKey = "sk-secret"

	s := cfg.String()
	assert.NotContains(t, s, "sk-secret")
	assert.Contains(t, s, "[REDACTED]")
	assert.Equal(t, "sk-secret", cfg.Profiles[0].APIKey, "original must not be modified")
}

func TestStoragePath(t *testing.T) {
	dir := isolate(t)

	cfg := Default()
	p, err := cfg.StoragePath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "chatstream.db"), p)

	cfg.Storage.Backend = "json"
	p, err = cfg.StoragePath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "sessions"), p)

	cfg.Storage.Path = "/var/lib/chat"
	p, err = cfg.StoragePath()
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/chat", p)
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(LoggingConfig{Level: "debug", Format: "json", Output: "stderr"})
	require.NoError(t, err)
	assert.NotNil(t, logger)

	_, err = NewLogger(LoggingConfig{Level: "verbose"})
	assert.Error(t, err)

	_, err = NewLogger(LoggingConfig{Level: "info", Format: "yaml"})
	assert.Error(t, err)

	assert.NotNil(t, LoggerOrNop(LoggingConfig{Level: "verbose"}))
}

// TestConfig_ConcurrentAccess exercises Global and SetGlobal together.
// Run with: go test -race ./internal/config/
func TestConfig_ConcurrentAccess(t *testing.T) {
	isolate(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			SetGlobal(Default())
		}()
		go func() {
			defer wg.Done()
			if Global() == nil {
				t.Error("Global() returned nil")
			}
		}()
	}
	wg.Wait()
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, SaveTOML(Default(), filepath.Join(dir, "config.toml")))
	_ = Global()

	reloaded := make(chan *Config, 4)
	w, err := NewWatcher(WithDebounce(20*time.Millisecond), OnReload(func(c *Config) {
		reloaded <- c
	}))
	require.NoError(t, err)
	require.NoError(t, w.Watch())
	defer w.Close()

	cfg := Default()
	cfg.Profiles[0].Model = "reloaded-model"
	require.NoError(t, SaveTOML(cfg, filepath.Join(dir, "config.toml")))

	select {
	case c := <-reloaded:
		assert.Equal(t, "reloaded-model", c.CurrentProfile().Model)
		assert.Equal(t, "reloaded-model", Global().CurrentProfile().Model)
	case <-time.After(5 * time.Second):
		t.Fatal("config was not reloaded")
	}
}

func TestApplyOverrides(t *testing.T) {
	cfg := Default()
	cfg.Profiles = append(cfg.Profiles, ProfileConfig{Name: "local", APIHost: "http://localhost:8080", Model: "small"})

	require.NoError(t, cfg.ApplyOverrides("", ""))
	assert.Equal(t, DefaultProfileName, cfg.CurrentProfile().Name)

	require.NoError(t, cfg.ApplyOverrides("local", "large"))
	assert.Equal(t, "local", cfg.CurrentProfile().Name)
	assert.Equal(t, "large", cfg.CurrentProfile().Model)
	assert.Equal(t, DefaultModel, cfg.Profiles[0].Model)

	assert.ErrorIs(t, cfg.ApplyOverrides("nope", ""), ErrProfileNotFound)
}

func TestWatcher_CustomLoader(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, SaveTOML(Default(), filepath.Join(dir, "config.toml")))

	reloaded := make(chan *Config, 4)
	w, err := NewWatcher(
		WithDebounce(20*time.Millisecond),
		WithLoader(func() (*Config, error) {
			cfg, err := Load()
			if err != nil {
				return nil, err
			}
			return cfg, cfg.ApplyOverrides("", "pinned-model")
		}),
		OnReload(func(c *Config) { reloaded <- c }),
	)
	require.NoError(t, err)
	require.NoError(t, w.Watch())
	defer w.Close()

	cfg := Default()
	cfg.Profiles[0].Model = "file-model"
	require.NoError(t, SaveTOML(cfg, filepath.Join(dir, "config.toml")))

	select {
	case c := <-reloaded:
		assert.Equal(t, "pinned-model", c.CurrentProfile().Model)
	case <-time.After(5 * time.Second):
		t.Fatal("config was not reloaded")
	}
}
