// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"

	"github.com/jeranaias/chatstream/internal/ui/styles"
	"github.com/jeranaias/chatstream/internal/upstream"
)

// Models lists the models the active profile's endpoint offers.
func (a *App) Models(ctx context.Context, args Args) error {
	p := a.profile()
	models, err := a.Upstream.ListModels(ctx, p)
	if err != nil {
		return NewCommandError("models", "list", "profile "+p.Name, err)
	}

	if args.JSON {
		return writeJSON(a.out(), "models", map[string]interface{}{
			"profile": p.Name,
			"models":  models,
		})
	}
	for _, m := range models {
		marker := "  "
		if m == p.Model {
			marker = "* "
		}
		fmt.Fprintln(a.out(), marker+m)
	}
	return nil
}

// Validate checks the active profile's host and key.
func (a *App) Validate(ctx context.Context, args Args) error {
	p := a.profile()
	host, _ := upstream.BaseURL(p.APIHost)

	n, err := a.Upstream.Validate(ctx, p)
	if args.JSON {
		out := map[string]interface{}{
			"profile": p.Name,
			"host":    host,
			"valid":   err == nil,
			"models":  n,
		}
		if err != nil {
			out["error"] = err.Error()
		}
		if jerr := writeJSON(a.out(), "validate", out); jerr != nil {
			return jerr
		}
		return err
	}

	if err != nil {
		return NewCommandError("validate", "profile "+p.Name, host, err)
	}
	fmt.Fprintln(a.out(), styles.RenderSuccess(fmt.Sprintf("profile %s is valid: %s offers %d models", p.Name, host, n)))
	return nil
}
