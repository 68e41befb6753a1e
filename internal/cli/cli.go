// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - Command-line parsing for chatstream.
package cli

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command represents the CLI command to execute.
type Command int

const (
	CmdTUI Command = iota
	CmdAsk
	CmdChat
	CmdModels
	CmdValidate
	CmdSessions
	CmdConfig
	CmdVersion
	CmdHelp
)

var commandNames = [...]string{"tui", "ask", "chat", "models", "validate", "sessions", "config", "version", "help"}

func (c Command) String() string {
	if c < 0 || int(c) >= len(commandNames) {
		return "unknown"
	}
	return commandNames[c]
}

// Args holds parsed CLI arguments.
type Args struct {
	// Global flags
	Profile    string
	Model      string
	ConfigPath string
	Verbose    bool
	Quiet      bool
	JSON       bool

	// Command-specific
	Session    string // --session for ask and chat
	File       string // --file attached to the ask question
	Think      bool   // show reasoning in ask and chat
	Force      bool   // overwrite in config init
	Query      string
	Subcommand string

	// Raw holds the positional arguments after the command name.
	Raw []string
}

const usageText = `chatstream - streaming chat client for OpenAI-compatible endpoints

Usage:
  chatstream                        Start the chat TUI (default)
  chatstream ask "question"         Ask one question and stream the answer
  chatstream chat                   Interactive line-mode chat
  chatstream models                 List models offered by the active profile
  chatstream validate               Check the active profile's host and key
  chatstream sessions [subcommand]  Session management
  chatstream config [subcommand]    Configuration
  chatstream version                Show version information
  chatstream help                   Show this help

Ask:
  --session ID        Continue an existing session (default: new session)
  --file PATH         Append a file's contents to the question
  --think             Print reasoning to stderr while it streams
  --json              Print the finished answer as JSON instead of streaming

Chat:
  --session ID        Continue an existing session
  --think             Print reasoning while it streams (toggle with /think)
  Inside chat: /new [name], /sessions, /think, /help, /quit
  Ctrl+C while an answer streams cancels it; Ctrl+C at the prompt exits.

Sessions:
  chatstream sessions list          List sessions, newest first (alias: ls)
  chatstream sessions show ID       Print a session transcript
  chatstream sessions delete ID     Delete a session and its messages
  chatstream sessions new [NAME]    Create an empty session
  IDs may be shortened to any unique prefix.

Config:
  chatstream config show            Print the configuration (keys redacted)
  chatstream config path            Print the config file path
  chatstream config init [--force]  Write a default config file

Global Flags:
  --profile NAME      Use this profile instead of the active one
  --model NAME        Override the profile's model
  --config PATH       Read the configuration from PATH
  --json              JSON output for models, sessions and version
  -q, --quiet         Minimal output, errors only in the log
  -v, --verbose       Debug logging

Examples:
  chatstream ask "Explain Go channels"
  chatstream ask "Review this:" --file main.go
  chatstream --profile local ask --think "Plan a trip"
  chatstream chat --session 3f2a9c1e
  chatstream sessions show 3f2a

Version: %s
`

// boolFlags are the flags that never take a value.
var boolFlags = []string{"v", "verbose", "q", "quiet", "json", "think", "force", "h", "help", "version"}

// PrintUsage prints the usage/help text.
func PrintUsage(w io.Writer) {
	fmt.Fprintf(w, usageText, Version)
}

// PrintVersion prints version information.
func PrintVersion(w io.Writer, jsonMode bool) error {
	if jsonMode {
		return writeJSON(w, "version", map[string]string{
			"version":    Version,
			"git_commit": GitCommit,
			"build_date": BuildDate,
			"go":         runtime.Version(),
		})
	}
	fmt.Fprintf(w, "chatstream version %s\n", Version)
	fmt.Fprintf(w, "  Git commit: %s\n", GitCommit)
	fmt.Fprintf(w, "  Build date: %s\n", BuildDate)
	fmt.Fprintf(w, "  Go:         %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	return nil
}

// Parse parses os.Args. Usage errors print the usage text and exit.
func Parse() (Command, Args) {
	cmd, args, err := ParseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n\n", err)
		PrintUsage(os.Stderr)
		os.Exit(ExitUsageError)
	}
	return cmd, args
}

// ParseArgs parses raw arguments (without the program name). Flags may
// appear before or after the command.
func ParseArgs(raw []string) (Command, Args, error) {
	p := NewArgParser(raw, boolFlags...)

	args := Args{
		Profile:    p.Flag("profile"),
		Model:      p.Flag("model"),
		ConfigPath: p.Flag("config"),
		Session:    p.Flag("session"),
		File:       p.Flag("file"),
		Verbose:    p.BoolFlag("v") || p.BoolFlag("verbose"),
		Quiet:      p.BoolFlag("q") || p.BoolFlag("quiet"),
		JSON:       p.BoolFlag("json"),
		Think:      p.BoolFlag("think"),
		Force:      p.BoolFlag("force"),
		Raw:        p.PositionalFrom(1),
	}
	if args.Verbose && args.Quiet {
		return CmdHelp, args, NewValidationError("verbose", "", "--verbose and --quiet are mutually exclusive")
	}
	for _, name := range []string{"profile", "model", "config", "session", "file"} {
		if p.BoolFlag(name) {
			return CmdHelp, args, ErrMissingArgument("--"+name, "--"+name+" VALUE")
		}
	}

	if p.BoolFlag("h") || p.BoolFlag("help") {
		return CmdHelp, args, nil
	}
	if p.BoolFlag("version") {
		return CmdVersion, args, nil
	}

	switch name := strings.ToLower(p.Subcommand()); name {
	case "", "tui":
		return CmdTUI, args, nil

	case "ask", "a":
		args.Query = strings.TrimSpace(JoinPositionalArgs(p, 1))
		if args.Query == "" {
			return CmdAsk, args, ErrMissingArgument("question", `chatstream ask "question"`)
		}
		return CmdAsk, args, nil

	case "chat", "c":
		return CmdChat, args, nil

	case "models":
		return CmdModels, args, nil

	case "validate":
		return CmdValidate, args, nil

	case "sessions", "session":
		args.Subcommand = strings.ToLower(p.Positional(1))
		if args.Subcommand == "" {
			args.Subcommand = "list"
		}
		args.Raw = p.PositionalFrom(2)
		return CmdSessions, args, nil

	case "config":
		args.Subcommand = strings.ToLower(p.Positional(1))
		if args.Subcommand == "" {
			args.Subcommand = "show"
		}
		args.Raw = p.PositionalFrom(2)
		return CmdConfig, args, nil

	case "version":
		return CmdVersion, args, nil

	case "help":
		return CmdHelp, args, nil

	default:
		return CmdHelp, args, NewValidationError("command", name, "unknown command")
	}
}
