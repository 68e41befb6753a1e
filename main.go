// chatstream - streaming chat client for OpenAI-compatible endpoints.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/chatstream/internal/cli"
	"github.com/jeranaias/chatstream/internal/config"
	"github.com/jeranaias/chatstream/internal/exchange"
	"github.com/jeranaias/chatstream/internal/render"
	"github.com/jeranaias/chatstream/internal/storage"
	"github.com/jeranaias/chatstream/internal/ui/chat"
	"github.com/jeranaias/chatstream/internal/ui/styles"
	"github.com/jeranaias/chatstream/internal/upstream"
)

func main() {
	cmd, args := cli.Parse()

	switch cmd {
	case cli.CmdHelp:
		cli.PrintUsage(os.Stdout)
		return
	case cli.CmdVersion:
		exitOn(cli.PrintVersion(os.Stdout, args.JSON), args.JSON)
		return
	}

	cfg, err := loadConfig(args)
	exitOn(err, args.JSON)
	config.SetGlobal(cfg)

	if cmd == cli.CmdConfig {
		exitOn(cli.HandleConfig(os.Stdout, cfg, args), args.JSON)
		return
	}

	exitOn(run(cmd, args, cfg), args.JSON)
}

// exitOn prints err and exits with its status code. A nil err is a no-op.
func exitOn(err error, jsonMode bool) {
	if err == nil {
		return
	}
	cli.DisplayError(os.Stderr, err, jsonMode)
	os.Exit(cli.GetExitCode(err))
}

// loadConfig reads the config file and layers --profile and --model on top.
func loadConfig(args cli.Args) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if args.ConfigPath != "" {
		cfg, err = config.LoadFromPath(args.ConfigPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyOverrides(args.Profile, args.Model); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, args cli.Args) (*zap.Logger, error) {
	lc := cfg.Logging
	switch {
	case args.Verbose:
		lc.Level = "debug"
	case args.Quiet:
		lc.Level = "error"
	}
	return config.NewLogger(lc)
}

func run(cmd cli.Command, args cli.Args, cfg *config.Config) error {
	logger, err := newLogger(cfg, args)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	cli.SetupColors()

	// The line-mode chat handles SIGINT itself to cancel a streaming answer.
	signals := []os.Signal{syscall.SIGTERM}
	if cmd != cli.CmdChat {
		signals = append(signals, os.Interrupt)
	}
	ctx, stop := signal.NotifyContext(context.Background(), signals...)
	defer stop()

	path, err := cfg.StoragePath()
	if err != nil {
		return err
	}
	store, err := storage.Open(cfg.Storage.Backend, path)
	if err != nil {
		return err
	}
	defer store.Close()

	client := upstream.NewClient(
		upstream.WithLogger(logger.Named("upstream")),
		upstream.WithMaxMalformedFrames(cfg.Stream.MaxMalformedFrames),
		upstream.WithBreaker(cfg.Stream.BreakerFailures, time.Duration(cfg.Stream.BreakerCooldownSecs)*time.Second),
	)
	coord := exchange.NewCoordinator(store, config.GlobalSettings{}, client,
		exchange.WithLogger(logger.Named("exchange")),
		exchange.WithPollInterval(time.Duration(cfg.Stream.WatchdogPollMillis)*time.Millisecond),
	)

	logger.Debug("starting",
		zap.String("command", cmd.String()),
		zap.String("profile", cfg.CurrentProfile().Name),
		zap.String("storage", cfg.Storage.Backend),
		zap.String("path", path))

	if cmd == cli.CmdTUI || cmd == cli.CmdChat {
		if w := watchConfig(args, logger); w != nil {
			defer w.Close()
		}
	}

	app := &cli.App{
		Store:    store,
		Sender:   coord,
		Upstream: client,
		Logger:   logger,
	}
	if cmd == cli.CmdTUI {
		return runTUI(ctx, cfg, app, coord, args, logger)
	}
	return app.Run(ctx, cmd, args)
}

// watchConfig reloads the global config when the file changes. The
// coordinator reads the global config at the start of every exchange.
func watchConfig(args cli.Args, logger *zap.Logger) *config.Watcher {
	w, err := config.NewWatcher(
		config.WithWatchLogger(logger.Named("config")),
		config.WithLoader(func() (*config.Config, error) { return loadConfig(args) }),
	)
	if err != nil {
		logger.Warn("config watch unavailable", zap.Error(err))
		return nil
	}
	if err := w.Watch(); err != nil {
		logger.Warn("config watch unavailable", zap.Error(err))
		_ = w.Close()
		return nil
	}
	return w
}

func runTUI(ctx context.Context, cfg *config.Config, app *cli.App, coord *exchange.Coordinator, args cli.Args, logger *zap.Logger) error {
	if !cli.IsTTY() {
		return fmt.Errorf("the chat screen needs a terminal; use \"chatstream ask\" or \"chatstream chat\"")
	}

	sessionID := ""
	if args.Session != "" {
		sess, err := app.ResolveSession(ctx, args.Session)
		if err != nil {
			return err
		}
		sessionID = sess.ID
	}

	sched := render.NewScheduler(
		render.WithMaxFPS(cfg.Render.MaxFPS),
		render.WithCodeStyle(cfg.Render.CodeStyle),
		render.WithThinkingExpanded(cfg.Render.ThinkingExpanded),
		render.WithLogger(logger.Named("render")),
	)
	defer sched.Close()

	return chat.Run(ctx, chat.Options{
		Sender:    coord,
		Scheduler: sched,
		Theme:     styles.Default(),
		SessionID: sessionID,
		ModelName: cfg.CurrentProfile().Model,
		CodeStyle: cfg.Render.CodeStyle,
		WordWrap:  cfg.Render.WordWrap,
	})
}
