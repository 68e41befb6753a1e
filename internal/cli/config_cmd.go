// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jeranaias/chatstream/internal/config"
	"github.com/jeranaias/chatstream/internal/ui/styles"
)

// HandleConfig handles "chatstream config <subcommand>". It needs no
// store or network, so main runs it before opening either.
func HandleConfig(w io.Writer, cfg *config.Config, args Args) error {
	switch args.Subcommand {
	case "show":
		if args.JSON {
			return writeJSON(w, "config show", redacted(cfg))
		}
		fmt.Fprint(w, cfg.String())
		return nil

	case "path":
		path, err := configPath(args.ConfigPath)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, path)
		return nil

	case "init":
		return configInit(w, args.ConfigPath, args.Force)

	default:
		return NewValidationError("subcommand", args.Subcommand, "expected show, path or init")
	}
}

func configPath(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	return config.ConfigPathTOML()
}

// configInit writes the default config, refusing to replace an existing
// file unless force is set.
func configInit(w io.Writer, explicit string, force bool) error {
	path, err := configPath(explicit)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil && !force {
		return NewCommandError("config", "init", path+" already exists (use --force to overwrite)", nil)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return NewCommandError("config", "init", "cannot create directory", err)
	}
	if err := config.SaveTOML(config.Default(), path); err != nil {
		return NewCommandError("config", "init", "cannot write config", err)
	}
	fmt.Fprintln(w, styles.RenderSuccess("wrote "+path))
	return nil
}

func redacted(cfg *config.Config) *config.Config {
	safe := cfg.Clone()
	for i := range safe.Profiles {
		if safe.Profiles[i].APIKey != "" {
			safe.Profiles[i].APIKey = "[REDACTED]"
		}
	}
	return safe
}
