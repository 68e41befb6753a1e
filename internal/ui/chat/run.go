// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/chatstream/internal/render"
)

// Run starts the chat screen and blocks until the user quits or ctx ends.
// Trees published by the scheduler are forwarded to the program.
func Run(ctx context.Context, opts Options) error {
	if opts.Sender == nil {
		return errors.New("chat: no sender")
	}
	if opts.Scheduler == nil {
		opts.Scheduler = render.NewScheduler(render.WithCodeStyle(opts.CodeStyle))
		defer opts.Scheduler.Close()
	}

	p := tea.NewProgram(New(opts), tea.WithAltScreen(), tea.WithContext(ctx))
	unsubscribe := opts.Scheduler.Subscribe(func(n *render.Node) {
		p.Send(RenderMsg{Tree: n})
	})
	defer unsubscribe()

	_, err := p.Run()
	opts.Sender.Cancel()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
