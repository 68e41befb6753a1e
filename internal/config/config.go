// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for chatstream.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// environment variable overrides, and validation.
//
// Configuration file locations (in order of precedence):
//   - $CHATSTREAM_HOME/config.toml or ~/.chatstream/config.toml
//   - $CHATSTREAM_HOME/config.json or ~/.chatstream/config.json
//   - Built-in defaults
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap/zapcore"

	"github.com/jeranaias/chatstream/internal/model"
	"github.com/jeranaias/chatstream/internal/util"
)

// ErrProfileNotFound is returned when a named profile does not exist.
var ErrProfileNotFound = errors.New("profile not found")

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete chatstream configuration.
type Config struct {
	Version string `toml:"version" json:"version"`

	// ActiveProfile names the profile used for new exchanges.
	ActiveProfile string          `toml:"active_profile" json:"active_profile"`
	Profiles      []ProfileConfig `toml:"profiles" json:"profiles"`

	// SystemMessages are sent first in every exchange, before the
	// session's own system messages.
	SystemMessages []string `toml:"system_messages" json:"system_messages"`

	Storage StorageConfig `toml:"storage" json:"storage"`
	Stream  StreamConfig  `toml:"stream" json:"stream"`
	Render  RenderConfig  `toml:"render" json:"render"`
	Logging LoggingConfig `toml:"logging" json:"logging"`
}

// ProfileConfig describes one upstream chat-completion endpoint.
type ProfileConfig struct {
	Name        string  `toml:"name" json:"name"`
	APIHost     string  `toml:"api_host" json:"api_host"`
	APIKey      string  `toml:"api_key" json:"api_key"`
	Model       string  `toml:"model" json:"model"`
	Temperature float64 `toml:"temperature" json:"temperature"`

	// TimeoutMillis is the longest silence allowed between two tokens.
	// Zero selects the default; a negative value disables the watchdog.
	TimeoutMillis int `toml:"timeout_ms" json:"timeout_ms"`

	KeepReasoning bool `toml:"keep_reasoning" json:"keep_reasoning"`
}

// StorageConfig selects the session store.
type StorageConfig struct {
	Backend string `toml:"backend" json:"backend"` // "sqlite" or "json"
	Path    string `toml:"path" json:"path"`       // empty = inside the config dir
}

// StreamConfig tunes stream consumption.
type StreamConfig struct {
	// MaxMalformedFrames aborts a stream after this many consecutive frames
	// that fail to decode. Zero disables the limit.
	MaxMalformedFrames  int `toml:"max_malformed_frames" json:"max_malformed_frames"`
	BreakerFailures     int `toml:"breaker_failures" json:"breaker_failures"`
	BreakerCooldownSecs int `toml:"breaker_cooldown_secs" json:"breaker_cooldown_secs"`
	WatchdogPollMillis  int `toml:"watchdog_poll_ms" json:"watchdog_poll_ms"`
}

// RenderConfig tunes the markdown render pipeline.
type RenderConfig struct {
	MaxFPS           int    `toml:"max_fps" json:"max_fps"`
	WordWrap         int    `toml:"word_wrap" json:"word_wrap"`
	CodeStyle        string `toml:"code_style" json:"code_style"`
	ThinkingExpanded bool   `toml:"thinking_expanded" json:"thinking_expanded"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `toml:"level" json:"level"`
	Format string `toml:"format" json:"format"` // "console" or "json"
	Output string `toml:"output" json:"output"` // "stderr", "stdout" or a file path
}

// =============================================================================
// DEFAULTS
// =============================================================================

const (
	DefaultProfileName   = "Default"
	DefaultAPIHost       = "https://api.openai.com"
	DefaultModel         = "gpt-3.5-turbo"
	DefaultTemperature   = 0.5
	DefaultTimeoutMillis = 5000
)

// DefaultProfile returns the profile used when none are configured.
func DefaultProfile() ProfileConfig {
	return ProfileConfig{
		Name:          DefaultProfileName,
		APIHost:       DefaultAPIHost,
		Model:         DefaultModel,
		Temperature:   DefaultTemperature,
		TimeoutMillis: DefaultTimeoutMillis,
	}
}

// Default returns a new Config with default values.
func Default() *Config {
	return &Config{
		Version:       "1",
		ActiveProfile: DefaultProfileName,
		Profiles:      []ProfileConfig{DefaultProfile()},
		Storage: StorageConfig{
			Backend: "sqlite",
		},
		Stream: StreamConfig{
			MaxMalformedFrames:  64,
			BreakerFailures:     3,
			BreakerCooldownSecs: 30,
			WatchdogPollMillis:  100,
		},
		Render: RenderConfig{
			MaxFPS:    30,
			WordWrap:  100,
			CodeStyle: "monokai",
		},
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "console",
			Output: "stderr",
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the chatstream configuration directory path.
// CHATSTREAM_HOME overrides the default ~/.chatstream.
func ConfigDir() (string, error) {
	if dir := os.Getenv("CHATSTREAM_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".chatstream"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0700)
}

// ensureSecurePermissions tightens config files to 0600; they hold API keys.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// StoragePath resolves the storage location. Relative paths are taken from
// the config directory.
func (c *Config) StoragePath() (string, error) {
	p := c.Storage.Path
	if p == "" {
		switch c.Storage.Backend {
		case "json":
			p = "sessions"
		default:
			p = "chatstream.db"
		}
	}
	if filepath.IsAbs(p) {
		return p, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, p), nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the config file(s).
// Tries TOML first, then JSON, and falls back to defaults.
// Environment overrides are applied last.
func Load() (*Config, error) {
	tomlPath, err := ConfigPathTOML()
	if err == nil {
		if _, statErr := os.Stat(tomlPath); statErr == nil {
			return LoadFromPath(tomlPath)
		}
	}

	jsonPath, err := ConfigPathJSON()
	if err == nil {
		if _, statErr := os.Stat(jsonPath); statErr == nil {
			return LoadFromPath(jsonPath)
		}
	}

	cfg := Default()
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file path with full validation.
func LoadFromPath(path string) (*Config, error) {
	cfg := &Config{}

	if strings.HasSuffix(path, ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}

	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// finish applies env overrides, defaults and validation, in that order.
func (c *Config) finish() error {
	c.ApplyEnvOverrides()
	c.SetDefaults()
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// LoadTOML decodes a TOML file into cfg.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		fmt.Fprintf(os.Stderr, "Warning: unknown config keys in %s: %v\n", path, undecoded)
	}
	return nil
}

// LoadJSON decodes a JSON file into cfg.
func LoadJSON(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return nil
}

// SetDefaults fills zero values with defaults.
func (c *Config) SetDefaults() {
	d := Default()

	if c.Version == "" {
		c.Version = d.Version
	}
	if len(c.Profiles) == 0 {
		c.Profiles = d.Profiles
	}
	for i := range c.Profiles {
		p := &c.Profiles[i]
		if p.Name == "" {
			p.Name = fmt.Sprintf("profile-%d", i+1)
		}
		if p.APIHost == "" {
			p.APIHost = DefaultAPIHost
		}
		if p.Model == "" {
			p.Model = DefaultModel
		}
		if p.TimeoutMillis == 0 {
			p.TimeoutMillis = DefaultTimeoutMillis
		}
	}
	if c.ActiveProfile == "" {
		c.ActiveProfile = c.Profiles[0].Name
	}

	if c.Storage.Backend == "" {
		c.Storage.Backend = d.Storage.Backend
	}

	if c.Stream.BreakerFailures == 0 {
		c.Stream.BreakerFailures = d.Stream.BreakerFailures
	}
	if c.Stream.BreakerCooldownSecs == 0 {
		c.Stream.BreakerCooldownSecs = d.Stream.BreakerCooldownSecs
	}
	if c.Stream.WatchdogPollMillis == 0 {
		c.Stream.WatchdogPollMillis = d.Stream.WatchdogPollMillis
	}

	if c.Render.MaxFPS == 0 {
		c.Render.MaxFPS = d.Render.MaxFPS
	}
	if c.Render.WordWrap == 0 {
		c.Render.WordWrap = d.Render.WordWrap
	}
	if c.Render.CodeStyle == "" {
		c.Render.CodeStyle = d.Render.CodeStyle
	}

	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = d.Logging.Format
	}
	if c.Logging.Output == "" {
		c.Logging.Output = d.Logging.Output
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes the configuration as TOML with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	var b strings.Builder
	b.WriteString("# chatstream configuration file\n")
	b.WriteString("# Generated by chatstream - edit with care\n\n")

	if err := toml.NewEncoder(&b).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.WriteFileAtomic(path, []byte(b.String()), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// SaveJSON writes the configuration as JSON with 0600 permissions.
func SaveJSON(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.WriteFileAtomic(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if len(c.Profiles) == 0 {
		errs = append(errs, ValidationError{Field: "profiles", Message: "at least one profile is required"})
	}

	seen := make(map[string]bool, len(c.Profiles))
	for i, p := range c.Profiles {
		field := fmt.Sprintf("profiles[%d]", i)
		if p.Name == "" {
			errs = append(errs, ValidationError{Field: field + ".name", Message: "must not be empty"})
		} else if seen[p.Name] {
			errs = append(errs, ValidationError{Field: field + ".name", Message: fmt.Sprintf("duplicate profile name '%s'", p.Name)})
		}
		seen[p.Name] = true

		if host := strings.TrimSpace(p.APIHost); host != "" {
			probe := host
			if !strings.Contains(probe, "://") {
				probe = "https://" + probe
			}
			if u, err := url.Parse(probe); err != nil || u.Host == "" {
				errs = append(errs, ValidationError{Field: field + ".api_host", Message: fmt.Sprintf("invalid host '%s'", p.APIHost)})
			}
		}
		if p.Temperature < 0 || p.Temperature > 2 {
			errs = append(errs, ValidationError{Field: field + ".temperature", Message: fmt.Sprintf("%.2f is outside 0..2", p.Temperature)})
		}
	}

	if c.ActiveProfile != "" && len(c.Profiles) > 0 && !seen[c.ActiveProfile] {
		errs = append(errs, ValidationError{Field: "active_profile", Message: fmt.Sprintf("no profile named '%s'", c.ActiveProfile)})
	}

	switch c.Storage.Backend {
	case "sqlite", "json":
	default:
		errs = append(errs, ValidationError{Field: "storage.backend", Message: fmt.Sprintf("invalid backend '%s', must be one of: sqlite, json", c.Storage.Backend)})
	}

	if c.Stream.MaxMalformedFrames < 0 {
		errs = append(errs, ValidationError{Field: "stream.max_malformed_frames", Message: "must not be negative"})
	}
	if c.Stream.BreakerFailures < 0 {
		errs = append(errs, ValidationError{Field: "stream.breaker_failures", Message: "must not be negative"})
	}
	if c.Stream.BreakerCooldownSecs < 0 {
		errs = append(errs, ValidationError{Field: "stream.breaker_cooldown_secs", Message: "must not be negative"})
	}
	if c.Stream.WatchdogPollMillis < 0 || c.Stream.WatchdogPollMillis > 10000 {
		errs = append(errs, ValidationError{Field: "stream.watchdog_poll_ms", Message: "must be between 1 and 10000"})
	}

	if c.Render.MaxFPS < 0 || c.Render.MaxFPS > 240 {
		errs = append(errs, ValidationError{Field: "render.max_fps", Message: "must be between 1 and 240"})
	}

	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(c.Logging.Level)); err != nil && c.Logging.Level != "" {
		errs = append(errs, ValidationError{Field: "logging.level", Message: fmt.Sprintf("invalid level '%s'", c.Logging.Level)})
	}
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		errs = append(errs, ValidationError{Field: "logging.format", Message: fmt.Sprintf("invalid format '%s', must be one of: console, json", c.Logging.Format)})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// PROFILES
// =============================================================================

// Profile returns the profile with the given name.
func (c *Config) Profile(name string) (ProfileConfig, error) {
	for _, p := range c.Profiles {
		if p.Name == name {
			return p, nil
		}
	}
	return ProfileConfig{}, fmt.Errorf("%w: %s", ErrProfileNotFound, name)
}

// SetActiveProfile switches the active profile.
func (c *Config) SetActiveProfile(name string) error {
	if _, err := c.Profile(name); err != nil {
		return err
	}
	c.ActiveProfile = name
	return nil
}

// ApplyOverrides selects profile and replaces its model, for command-line
// flags. Empty values leave the config unchanged.
func (c *Config) ApplyOverrides(profile, modelName string) error {
	if profile != "" {
		if err := c.SetActiveProfile(profile); err != nil {
			return err
		}
	}
	if modelName != "" && len(c.Profiles) > 0 {
		c.Profiles[c.activeIndex()].Model = modelName
	}
	return nil
}

// activeIndex returns the index of the active profile, falling back to the
// first profile.
func (c *Config) activeIndex() int {
	for i, p := range c.Profiles {
		if p.Name == c.ActiveProfile {
			return i
		}
	}
	return 0
}

// CurrentProfile returns an immutable snapshot of the active profile.
func (c *Config) CurrentProfile() model.Profile {
	if len(c.Profiles) == 0 {
		return DefaultProfile().Snapshot()
	}
	return c.Profiles[c.activeIndex()].Snapshot()
}

// GlobalSystemMessages returns a copy of the configured system messages.
func (c *Config) GlobalSystemMessages() []string {
	return append([]string(nil), c.SystemMessages...)
}

// Snapshot converts the profile into the value used by one exchange.
func (p ProfileConfig) Snapshot() model.Profile {
	return model.Profile{
		Name:          p.Name,
		APIHost:       p.APIHost,
		APIKey:        p.APIKey,
		Model:         p.Model,
		Temperature:   p.Temperature,
		TimeoutMillis: p.TimeoutMillis,
		KeepReasoning: p.KeepReasoning,
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - CHATSTREAM_PROFILE: selects the active profile
//   - CHATSTREAM_API_HOST: overrides the active profile's api_host
//   - CHATSTREAM_API_KEY: overrides the active profile's api_key
//   - CHATSTREAM_MODEL: overrides the active profile's model
//   - CHATSTREAM_TIMEOUT_MS: overrides the active profile's timeout_ms
//   - CHATSTREAM_LOG_LEVEL: overrides logging.level
func (c *Config) ApplyEnvOverrides() {
	if name := os.Getenv("CHATSTREAM_PROFILE"); name != "" {
		c.ActiveProfile = name
	}

	if level := os.Getenv("CHATSTREAM_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}

	host := os.Getenv("CHATSTREAM_API_HOST")
	key := os.Getenv("CHATSTREAM_API_KEY")
	modelName := os.Getenv("CHATSTREAM_MODEL")
	timeout := os.Getenv("CHATSTREAM_TIMEOUT_MS")
	if host == "" && key == "" && modelName == "" && timeout == "" {
		return
	}

	if len(c.Profiles) == 0 {
		c.Profiles = []ProfileConfig{DefaultProfile()}
	}
	p := &c.Profiles[c.activeIndex()]
	if host != "" {
		p.APIHost = host
	}
	if key != "" {
		p.APIKey = key
	}
	if modelName != "" {
		p.Model = modelName
	}
	if timeout != "" {
		if ms, err := strconv.Atoi(timeout); err == nil {
			p.TimeoutMillis = ms
		}
	}
}

// =============================================================================
// CLONE / STRING
// =============================================================================

// Clone returns a deep copy of the config.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Profiles = append([]ProfileConfig(nil), c.Profiles...)
	clone.SystemMessages = append([]string(nil), c.SystemMessages...)
	return &clone
}

// String returns the config as TOML with API keys redacted.
func (c *Config) String() string {
	safe := c.Clone()
	for i := range safe.Profiles {
		if safe.Profiles[i].APIKey != "" {
			safe.Profiles[i].APIKey = "[REDACTED]"
		}
	}
	var b strings.Builder
	if err := toml.NewEncoder(&b).Encode(safe); err != nil {
		return fmt.Sprintf("<config: %v>", err)
	}
	return b.String()
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the global configuration instance.
// Loads configuration on first access. Thread-safe.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
			cfg = Default()
		}
		globalConfigMu.Lock()
		if globalConfig == nil {
			globalConfig = cfg
		}
		globalConfigMu.Unlock()
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// ReloadGlobal reloads the global configuration from disk. Thread-safe.
func ReloadGlobal() error {
	cfg, err := Load()
	if err != nil {
		return err
	}
	SetGlobal(cfg)
	return nil
}

// SetGlobal sets the global configuration instance. Thread-safe.
func SetGlobal(cfg *Config) {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting resets the global config state for testing.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}

// GlobalSettings reads the process-wide config on every call, so a reload
// takes effect at the next exchange.
type GlobalSettings struct{}

// CurrentProfile returns the active profile of the global config.
func (GlobalSettings) CurrentProfile() model.Profile {
	return Global().CurrentProfile()
}

// GlobalSystemMessages returns the system messages of the global config.
func (GlobalSettings) GlobalSystemMessages() []string {
	return Global().GlobalSystemMessages()
}
