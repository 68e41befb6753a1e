// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/chatstream/internal/config"
	"github.com/jeranaias/chatstream/internal/exchange"
	"github.com/jeranaias/chatstream/internal/model"
	"github.com/jeranaias/chatstream/internal/storage"
	"github.com/jeranaias/chatstream/internal/upstream"
)

// =============================================================================
// ARG PARSER TESTS
// =============================================================================

func TestArgParser_BasicParsing(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantSub  string
		validate func(*testing.T, *ArgParser)
	}{
		{
			name:    "simple subcommand",
			args:    []string{"show"},
			wantSub: "show",
		},
		{
			name:    "flag with value",
			args:    []string{"show", "--lines", "50"},
			wantSub: "show",
			validate: func(t *testing.T, p *ArgParser) {
				assert.Equal(t, "50", p.Flag("lines"))
				n, err := p.FlagInt("lines")
				require.NoError(t, err)
				assert.Equal(t, 50, n)
			},
		},
		{
			name:    "flag with equals",
			args:    []string{"show", "--since=2024-01-01"},
			wantSub: "show",
			validate: func(t *testing.T, p *ArgParser) {
				assert.Equal(t, "2024-01-01", p.Flag("since"))
			},
		},
		{
			name:    "bool flag does not consume next argument",
			args:    []string{"--json", "list"},
			wantSub: "list",
			validate: func(t *testing.T, p *ArgParser) {
				assert.True(t, p.BoolFlag("json"))
				assert.Equal(t, 1, p.PositionalCount())
			},
		},
		{
			name:    "explicit bool value",
			args:    []string{"--json=false", "list"},
			wantSub: "list",
			validate: func(t *testing.T, p *ArgParser) {
				assert.False(t, p.BoolFlag("json"))
				assert.True(t, p.HasFlag("json"))
			},
		},
		{
			name:    "double dash ends flags",
			args:    []string{"ask", "--", "--not-a-flag", "x"},
			wantSub: "ask",
			validate: func(t *testing.T, p *ArgParser) {
				assert.Equal(t, []string{"--not-a-flag", "x"}, p.PositionalFrom(1))
				assert.False(t, p.HasFlag("not-a-flag"))
			},
		},
		{
			name:    "trailing value flag becomes bool",
			args:    []string{"ask", "--session"},
			wantSub: "ask",
			validate: func(t *testing.T, p *ArgParser) {
				assert.Empty(t, p.Flag("session"))
				assert.True(t, p.BoolFlag("session"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewArgParser(tt.args, "json")
			assert.Equal(t, tt.wantSub, p.Subcommand())
			if tt.validate != nil {
				tt.validate(t, p)
			}
		})
	}
}

func TestArgParser_PositionalBounds(t *testing.T) {
	p := NewArgParser([]string{"a", "b"})
	assert.Equal(t, "", p.Positional(5))
	assert.Equal(t, "", p.Positional(-1))
	assert.Empty(t, p.PositionalFrom(2))
	assert.Equal(t, "dflt", p.FlagOrDefault("missing", "dflt"))
	_, err := p.FlagInt("missing")
	assert.Error(t, err)
}

func TestParseBoolString(t *testing.T) {
	for _, s := range []string{"true", "YES", "y", "1", "on"} {
		b, err := ParseBoolString(s)
		require.NoError(t, err, s)
		assert.True(t, b, s)
	}
	for _, s := range []string{"false", "No", "n", "0", "off"} {
		b, err := ParseBoolString(s)
		require.NoError(t, err, s)
		assert.False(t, b, s)
	}
	_, err := ParseBoolString("maybe")
	assert.Error(t, err)
}

// =============================================================================
// COMMAND PARSING TESTS
// =============================================================================

func TestParseArgs_Commands(t *testing.T) {
	tests := []struct {
		args []string
		want Command
	}{
		{nil, CmdTUI},
		{[]string{"tui"}, CmdTUI},
		{[]string{"ask", "hi"}, CmdAsk},
		{[]string{"a", "hi"}, CmdAsk},
		{[]string{"chat"}, CmdChat},
		{[]string{"models"}, CmdModels},
		{[]string{"validate"}, CmdValidate},
		{[]string{"sessions"}, CmdSessions},
		{[]string{"session", "show", "x"}, CmdSessions},
		{[]string{"config"}, CmdConfig},
		{[]string{"version"}, CmdVersion},
		{[]string{"--version"}, CmdVersion},
		{[]string{"help"}, CmdHelp},
		{[]string{"chat", "-h"}, CmdHelp},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			cmd, _, err := ParseArgs(tt.args)
			require.NoError(t, err)
			assert.Equal(t, tt.want, cmd)
		})
	}
}

func TestParseArgs_FlagsAnywhere(t *testing.T) {
	cmd, args, err := ParseArgs([]string{"--profile", "local", "ask", "what", "is", "Go?", "-v", "--think", "--session", "abc", "--model=m1"})
	require.NoError(t, err)

	assert.Equal(t, CmdAsk, cmd)
	assert.Equal(t, "what is Go?", args.Query)
	assert.Equal(t, "local", args.Profile)
	assert.Equal(t, "m1", args.Model)
	assert.Equal(t, "abc", args.Session)
	assert.True(t, args.Verbose)
	assert.True(t, args.Think)
	assert.False(t, args.Quiet)
}

func TestParseArgs_Subcommands(t *testing.T) {
	cmd, args, err := ParseArgs([]string{"sessions"})
	require.NoError(t, err)
	assert.Equal(t, CmdSessions, cmd)
	assert.Equal(t, "list", args.Subcommand)

	_, args, err = ParseArgs([]string{"sessions", "Delete", "abc"})
	require.NoError(t, err)
	assert.Equal(t, "delete", args.Subcommand)
	assert.Equal(t, []string{"abc"}, args.Raw)

	_, args, err = ParseArgs([]string{"config", "init", "--force", "--config", "/tmp/x.toml"})
	require.NoError(t, err)
	assert.Equal(t, "init", args.Subcommand)
	assert.True(t, args.Force)
	assert.Equal(t, "/tmp/x.toml", args.ConfigPath)

	_, args, err = ParseArgs([]string{"config"})
	require.NoError(t, err)
	assert.Equal(t, "show", args.Subcommand)
}

func TestParseArgs_Errors(t *testing.T) {
	tests := [][]string{
		{"frobnicate"},
		{"ask"},
		{"ask", "   "},
		{"ask", "hi", "--session"},
		{"-v", "-q", "chat"},
	}
	for _, raw := range tests {
		t.Run(strings.Join(raw, " "), func(t *testing.T) {
			_, _, err := ParseArgs(raw)
			require.Error(t, err)
			assert.Equal(t, ExitUsageError, GetExitCode(err))
		})
	}
}

// =============================================================================
// EXIT CODE TESTS
// =============================================================================

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"generic", errors.New("boom"), ExitGeneralError},
		{"validation", NewValidationError("x", "", "bad"), ExitUsageError},
		{"not found", NewNotFoundError("session", "x"), ExitNotFoundError},
		{"session not found", fmt.Errorf("load: %w", storage.ErrSessionNotFound), ExitNotFoundError},
		{"config", config.ValidateErrors{{Field: "f", Message: "m"}}, ExitConfigError},
		{"profile", fmt.Errorf("%w: x", config.ErrProfileNotFound), ExitConfigError},
		{"auth", &upstream.StatusError{Kind: upstream.ErrAuthFailed}, ExitAuthError},
		{"connect", &upstream.ConnectError{Endpoint: "h", Err: errors.New("refused")}, ExitNetworkError},
		{"circuit", upstream.ErrCircuitOpen, ExitNetworkError},
		{"idle", exchange.ErrIdleTimeout, ExitTimeoutError},
		{"cancelled", exchange.ErrCancelled, ExitCancelled},
		{"wrapped", NewCommandError("models", "list", "p", &upstream.StatusError{Kind: upstream.ErrAuthFailed}), ExitAuthError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetExitCode(tt.err))
		})
	}
}

func TestDisplayError_JSON(t *testing.T) {
	var buf bytes.Buffer
	DisplayError(&buf, errors.New("nope"), true)

	var resp JSONResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "nope", *resp.Error)
}

// =============================================================================
// STREAM PRINTER TESTS
// =============================================================================

func TestStreamPrinter_Incremental(t *testing.T) {
	var out, thoughts bytes.Buffer
	p := newStreamPrinter(&out, &thoughts)

	p.Update("::: think\npl")
	p.Update("::: think\nplan")
	assert.Empty(t, out.String())
	assert.Contains(t, thoughts.String(), "Thinking Process")
	assert.Contains(t, thoughts.String(), "plan")

	p.Update("::: think\nplan\n:::\nHel")
	p.Update("::: think\nplan\n:::\nHello")
	p.Finish("::: think\nplan\n:::\nHello world")

	assert.Equal(t, "Hello world\n", out.String())
	assert.Equal(t, 1, strings.Count(thoughts.String(), "plan"))
}

func TestStreamPrinter_HidesReasoning(t *testing.T) {
	var out bytes.Buffer
	p := newStreamPrinter(&out, nil)

	p.Update("::: think\nsecret")
	p.Finish("::: think\nsecret\n:::\nvisible")
	assert.Equal(t, "visible\n", out.String())

	p.reset()
	out.Reset()
	p.Finish("")
	assert.Empty(t, out.String())
}

// =============================================================================
// APP TESTS
// =============================================================================

// streamFunc adapts a function to exchange.Streamer.
type streamFunc func(ctx context.Context, p model.Profile, msgs []upstream.ChatMessage, onDelta func(upstream.Delta)) error

func (f streamFunc) Stream(ctx context.Context, p model.Profile, msgs []upstream.ChatMessage, onDelta func(upstream.Delta)) error {
	return f(ctx, p, msgs, onDelta)
}

func answerStream(deltas ...upstream.Delta) streamFunc {
	return func(_ context.Context, _ model.Profile, _ []upstream.ChatMessage, onDelta func(upstream.Delta)) error {
		for _, d := range deltas {
			onDelta(d)
		}
		return nil
	}
}

type fakeUpstream struct {
	models []string
	err    error
}

func (f fakeUpstream) ListModels(context.Context, model.Profile) ([]string, error) {
	return f.models, f.err
}

func (f fakeUpstream) Validate(context.Context, model.Profile) (int, error) {
	return len(f.models), f.err
}

type testApp struct {
	*App
	out, err *bytes.Buffer
	store    storage.Store
}

func newTestApp(t *testing.T, s exchange.Streamer) *testApp {
	t.Helper()
	store, err := storage.Open("json", t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := config.Default()
	ta := &testApp{out: &bytes.Buffer{}, err: &bytes.Buffer{}, store: store}
	ta.App = &App{
		Config:   cfg,
		Store:    store,
		Sender:   exchange.NewCoordinator(store, cfg, s, exchange.WithPollInterval(10*time.Millisecond)),
		Upstream: fakeUpstream{models: []string{"a-model", config.DefaultModel}},
		Out:      ta.out,
		Err:      ta.err,
	}
	return ta
}

func TestAsk_StreamsAnswerAndPersists(t *testing.T) {
	app := newTestApp(t, answerStream(
		upstream.Delta{Reasoning: "plan"},
		upstream.Delta{Content: "Hello"},
		upstream.Delta{Content: " world"},
	))
	ctx := context.Background()

	require.NoError(t, app.Ask(ctx, Args{Query: "hi", Think: true}))
	assert.Equal(t, "Hello world\n", app.out.String())
	assert.Contains(t, app.err.String(), "plan")

	list, err := app.store.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].MessageCount)
	assert.Equal(t, "hi", list[0].Session.Name)
}

func TestAsk_JSON(t *testing.T) {
	app := newTestApp(t, answerStream(
		upstream.Delta{Reasoning: "plan"},
		upstream.Delta{Content: "done"},
	))

	require.NoError(t, app.Ask(context.Background(), Args{Query: "hi", JSON: true}))

	var resp struct {
		Success bool      `json:"success"`
		Data    askOutput `json:"data"`
	}
	require.NoError(t, json.Unmarshal(app.out.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "done", resp.Data.Answer)
	assert.Equal(t, "plan", resp.Data.Reasoning)
	assert.Equal(t, "completed", resp.Data.Outcome)
	assert.True(t, resp.Data.Saved)
}

func TestAsk_ConnectFailureLeavesNoSession(t *testing.T) {
	app := newTestApp(t, streamFunc(func(context.Context, model.Profile, []upstream.ChatMessage, func(upstream.Delta)) error {
		return &upstream.ConnectError{Endpoint: "http://x", Err: errors.New("refused")}
	}))
	ctx := context.Background()

	err := app.Ask(ctx, Args{Query: "hi"})
	require.Error(t, err)
	assert.Equal(t, ExitNetworkError, GetExitCode(err))
	assert.Empty(t, app.out.String())

	list, err := app.store.ListSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestAsk_ContinuesSessionByPrefix(t *testing.T) {
	app := newTestApp(t, answerStream(upstream.Delta{Content: "again"}))
	ctx := context.Background()

	sess, err := app.Sender.NewSession(ctx, "existing")
	require.NoError(t, err)

	require.NoError(t, app.Ask(ctx, Args{Query: "more", Session: sess.ID[:8]}))
	msgs, err := app.store.GetAllMessages(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestAsk_AttachesFile(t *testing.T) {
	var sent string
	app := newTestApp(t, streamFunc(func(_ context.Context, _ model.Profile, msgs []upstream.ChatMessage, onDelta func(upstream.Delta)) error {
		sent = msgs[len(msgs)-1].Content
		onDelta(upstream.Delta{Content: "ok"})
		return nil
	}))
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("file body"), 0600))

	require.NoError(t, app.Ask(context.Background(), Args{Query: "review", File: path}))
	assert.Contains(t, sent, "review")
	assert.Contains(t, sent, "file body")

	err := app.Ask(context.Background(), Args{Query: "x", File: filepath.Join(t.TempDir(), "missing")})
	assert.Equal(t, ExitNotFoundError, GetExitCode(err))
}

func TestSessions_ListShowDelete(t *testing.T) {
	app := newTestApp(t, answerStream(
		upstream.Delta{Reasoning: "hidden plan"},
		upstream.Delta{Content: "the answer"},
	))
	ctx := context.Background()
	require.NoError(t, app.Ask(ctx, Args{Query: "question one"}))

	list, err := app.store.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	id := list[0].Session.ID

	app.out.Reset()
	require.NoError(t, app.Sessions(ctx, Args{Subcommand: "list"}))
	assert.Contains(t, app.out.String(), id[:8])
	assert.Contains(t, app.out.String(), "Total: 1")

	app.out.Reset()
	require.NoError(t, app.Sessions(ctx, Args{Subcommand: "show", Raw: []string{id[:6]}}))
	shown := app.out.String()
	assert.Contains(t, shown, "## You")
	assert.Contains(t, shown, "question one")
	assert.Contains(t, shown, "the answer")
	assert.NotContains(t, shown, "hidden plan")

	app.out.Reset()
	require.NoError(t, app.Sessions(ctx, Args{Subcommand: "show", Raw: []string{id}, Think: true}))
	assert.Contains(t, app.out.String(), "hidden plan")

	require.NoError(t, app.Sessions(ctx, Args{Subcommand: "delete", Raw: []string{id}}))
	_, err = app.store.GetSession(ctx, id)
	assert.ErrorIs(t, err, storage.ErrSessionNotFound)
}

func TestSessions_ResolvePrefix(t *testing.T) {
	app := newTestApp(t, answerStream())
	ctx := context.Background()
	for _, id := range []string{"abc-1", "abc-2"} {
		require.NoError(t, app.store.SaveSession(ctx, &model.Session{ID: id, Name: id, CreatedAt: time.Now(), UpdatedAt: time.Now()}))
	}

	sess, err := app.ResolveSession(ctx, "abc-2")
	require.NoError(t, err)
	assert.Equal(t, "abc-2", sess.ID)

	_, err = app.ResolveSession(ctx, "abc")
	assert.Equal(t, ExitUsageError, GetExitCode(err))

	_, err = app.ResolveSession(ctx, "zzz")
	assert.Equal(t, ExitNotFoundError, GetExitCode(err))
}

func TestSessions_NewAndBadSubcommand(t *testing.T) {
	app := newTestApp(t, answerStream())
	ctx := context.Background()

	require.NoError(t, app.Sessions(ctx, Args{Subcommand: "new", Raw: []string{"my", "topic"}}))
	id := strings.TrimSpace(app.out.String())
	sess, err := app.store.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "my topic", sess.Name)

	err = app.Sessions(ctx, Args{Subcommand: "explode"})
	assert.Equal(t, ExitUsageError, GetExitCode(err))
	err = app.Sessions(ctx, Args{Subcommand: "show"})
	assert.Equal(t, ExitUsageError, GetExitCode(err))
}

func TestModelsAndValidate(t *testing.T) {
	app := newTestApp(t, answerStream())
	ctx := context.Background()

	require.NoError(t, app.Models(ctx, Args{}))
	assert.Contains(t, app.out.String(), "* "+config.DefaultModel)
	assert.Contains(t, app.out.String(), "  a-model")

	app.out.Reset()
	require.NoError(t, app.Validate(ctx, Args{}))
	assert.Contains(t, app.out.String(), "2 models")

	app.Upstream = fakeUpstream{err: &upstream.StatusError{Kind: upstream.ErrAuthFailed}}
	err := app.Validate(ctx, Args{})
	assert.Equal(t, ExitAuthError, GetExitCode(err))

	app.out.Reset()
	err = app.Validate(ctx, Args{JSON: true})
	require.Error(t, err)
	assert.Contains(t, app.out.String(), `"valid": false`)
}

// =============================================================================
// CONFIG COMMAND TESTS
// =============================================================================

func TestHandleConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.toml")
	var out bytes.Buffer

	require.NoError(t, HandleConfig(&out, config.Default(), Args{Subcommand: "path", ConfigPath: path}))
	assert.Equal(t, path+"\n", out.String())

	require.NoError(t, HandleConfig(&out, config.Default(), Args{Subcommand: "init", ConfigPath: path}))
	loaded, err := config.LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultModel, loaded.CurrentProfile().Model)

	assert.Error(t, HandleConfig(&out, config.Default(), Args{Subcommand: "init", ConfigPath: path}))
	assert.NoError(t, HandleConfig(&out, config.Default(), Args{Subcommand: "init", ConfigPath: path, Force: true}))

	cfg := config.Default()
	cfg.Profiles[0].APIKey = "sk-secret"
	out.Reset()
	require.NoError(t, HandleConfig(&out, cfg, Args{Subcommand: "show"}))
	assert.Contains(t, out.String(), "[REDACTED]")
	assert.NotContains(t, out.String(), "sk-secret")

	assert.Error(t, HandleConfig(&out, cfg, Args{Subcommand: "set"}))
}

// =============================================================================
// CHAT TESTS
// =============================================================================

func TestChatSession_HandleLine(t *testing.T) {
	app := newTestApp(t, answerStream(
		upstream.Delta{Reasoning: "thinking"},
		upstream.Delta{Content: "reply"},
	))
	ctx := context.Background()
	s := app.newChatSession("", false)

	cont, err := s.handleLine(ctx, "  ")
	assert.True(t, cont)
	assert.NoError(t, err)

	cont, err = s.handleLine(ctx, "hello")
	require.NoError(t, err)
	assert.True(t, cont)
	assert.Contains(t, app.out.String(), "reply")
	assert.NotContains(t, app.out.String(), "thinking")
	first := s.sessionID
	require.NotEmpty(t, first)

	_, err = s.handleLine(ctx, "/think")
	require.NoError(t, err)
	assert.True(t, s.think)
	app.out.Reset()
	_, err = s.handleLine(ctx, "again")
	require.NoError(t, err)
	assert.Contains(t, app.out.String(), "thinking")
	assert.Equal(t, first, s.sessionID)

	_, err = s.handleLine(ctx, "/new side topic")
	require.NoError(t, err)
	assert.NotEqual(t, first, s.sessionID)

	app.out.Reset()
	_, err = s.handleLine(ctx, "/sessions")
	require.NoError(t, err)
	assert.Contains(t, app.out.String(), first[:8])

	_, err = s.handleLine(ctx, "/bogus")
	assert.Equal(t, ExitUsageError, GetExitCode(err))

	cont, _ = s.handleLine(ctx, "/quit")
	assert.False(t, cont)
	cont, _ = s.handleLine(ctx, "exit")
	assert.False(t, cont)
}

func TestChatSession_InterruptOnlyWhileStreaming(t *testing.T) {
	entered := make(chan struct{})
	app := newTestApp(t, streamFunc(func(ctx context.Context, _ model.Profile, _ []upstream.ChatMessage, onDelta func(upstream.Delta)) error {
		onDelta(upstream.Delta{Content: "partial"})
		close(entered)
		<-ctx.Done()
		return ctx.Err()
	}))
	s := app.newChatSession("", false)
	assert.False(t, s.interrupt())

	done := make(chan error, 1)
	go func() { done <- s.send(context.Background(), "long question") }()
	<-entered
	assert.True(t, s.interrupt())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("send did not return after interrupt")
	}
	assert.Contains(t, app.out.String(), "partial")
	assert.Contains(t, app.err.String(), "cancelled")
}
