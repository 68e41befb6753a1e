// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/chatstream/internal/model"
	"github.com/jeranaias/chatstream/internal/render"
	"github.com/jeranaias/chatstream/internal/ui/styles"
)

// View renders the screen: header, transcript, input line, status bar.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.viewport.View(),
		m.input.View(),
		m.renderStatusBar(),
	)
}

func (m Model) renderHeader() string {
	title := "chatstream"
	if m.modelName != "" {
		title += " · " + m.modelName
	}
	if m.sessionID != "" {
		title += " · " + shortID(m.sessionID)
	}
	return m.theme.Heading.Render(title)
}

func (m Model) renderStatusBar() string {
	left := m.status
	if m.state == StateStreaming {
		left = m.spinner.View() + " streaming"
		if n := len(m.asks); n > 1 {
			left += " (" + strconv.Itoa(n-1) + " stopping)"
		}
	}
	var help []string
	for _, b := range m.keys.ShortHelp() {
		h := b.Help()
		help = append(help, h.Key+" "+h.Desc)
	}
	right := m.theme.StatusMuted.Render(strings.Join(help, " · "))

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if gap < 1 {
		return m.theme.StatusBar.Render(left)
	}
	return m.theme.StatusBar.Render(left + strings.Repeat(" ", gap) + right)
}

func (m Model) paintWidth() int {
	w := m.width - 2
	if m.wrap > 0 && m.wrap < w {
		w = m.wrap
	}
	return w
}

// renderTranscript paints every finished entry, then the running answer.
func (m Model) renderTranscript() string {
	width := m.paintWidth()
	var parts []string
	for _, e := range m.entries {
		parts = append(parts, m.renderEntry(e, width))
	}
	if m.state == StateStreaming {
		if ask, ok := m.asks[m.seq]; ok {
			parts = append(parts, m.label(model.RoleUser)+"\n"+ask)
		}
		live := m.label(model.RoleAssistant)
		if m.live != nil {
			live += "\n" + render.Paint(m.live, width)
		}
		parts = append(parts, live)
	}
	return strings.Join(parts, "\n\n")
}

func (m Model) renderEntry(e entry, width int) string {
	head := m.label(e.role)
	switch {
	case e.err != nil:
		return head + "\n" + styles.RenderError(e.err.Error())
	case e.tree != nil:
		body := render.Paint(e.tree, width)
		if e.note != "" {
			body += "\n" + styles.RenderWarning(e.note)
		}
		return head + "\n" + body
	default:
		return head + "\n" + e.text
	}
}

func (m Model) label(r model.Role) string {
	if r == model.RoleUser {
		return m.theme.UserLabel.Render(r.DisplayName())
	}
	return m.theme.AssistantLabel.Render(r.DisplayName())
}
