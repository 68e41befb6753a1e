// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/jeranaias/chatstream/internal/config"
	"github.com/jeranaias/chatstream/internal/exchange"
	"github.com/jeranaias/chatstream/internal/model"
	"github.com/jeranaias/chatstream/internal/storage"
)

// Sender runs exchanges. *exchange.Coordinator implements it.
type Sender interface {
	Send(ctx context.Context, sessionID, userText string, onUpdate exchange.UpdateFunc) (*exchange.Result, error)
	Cancel()
	NewSession(ctx context.Context, name string) (*model.Session, error)
}

// Upstream answers model and profile queries. *upstream.Client
// implements it.
type Upstream interface {
	ListModels(ctx context.Context, p model.Profile) ([]string, error)
	Validate(ctx context.Context, p model.Profile) (int, error)
}

// App holds what the commands that talk to storage or the upstream need.
type App struct {
	Config   *config.Config
	Store    storage.Store
	Sender   Sender
	Upstream Upstream
	Logger   *zap.Logger

	Out io.Writer
	Err io.Writer
}

func (a *App) out() io.Writer {
	if a.Out == nil {
		return os.Stdout
	}
	return a.Out
}

func (a *App) errOut() io.Writer {
	if a.Err == nil {
		return os.Stderr
	}
	return a.Err
}

func (a *App) logger() *zap.Logger {
	if a.Logger == nil {
		return zap.NewNop()
	}
	return a.Logger
}

// profile returns the active profile of a.Config, or of the global config
// when a.Config is nil.
func (a *App) profile() model.Profile {
	if a.Config != nil {
		return a.Config.CurrentProfile()
	}
	return config.Global().CurrentProfile()
}

func (a *App) wordWrap() int {
	if a.Config != nil {
		return a.Config.Render.WordWrap
	}
	return config.Global().Render.WordWrap
}

// Run dispatches cmd. CmdTUI is not handled here.
func (a *App) Run(ctx context.Context, cmd Command, args Args) error {
	switch cmd {
	case CmdAsk:
		return a.Ask(ctx, args)
	case CmdChat:
		return a.Chat(ctx, args)
	case CmdModels:
		return a.Models(ctx, args)
	case CmdValidate:
		return a.Validate(ctx, args)
	case CmdSessions:
		return a.Sessions(ctx, args)
	default:
		PrintUsage(a.out())
		return nil
	}
}
