// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Theme holds the styled components for rendered answers and the chat UI.
type Theme struct {
	// Terminal capabilities
	IsDark       bool
	ColorProfile termenv.Profile

	// ==========================================================================
	// MARKDOWN STYLES
	// ==========================================================================

	Heading    lipgloss.Style
	SubHeading lipgloss.Style
	Text       lipgloss.Style
	Bold       lipgloss.Style
	Italic     lipgloss.Style
	Strike     lipgloss.Style
	CodeSpan   lipgloss.Style
	Link       lipgloss.Style
	Math       lipgloss.Style
	Quote      lipgloss.Style
	ListMarker lipgloss.Style
	Rule       lipgloss.Style
	TableHead  lipgloss.Style
	TableCell  lipgloss.Style

	CodeBlock  lipgloss.Style
	CodeHeader lipgloss.Style
	MathBlock  lipgloss.Style

	Panel       lipgloss.Style
	PanelTitle  lipgloss.Style
	Expander    lipgloss.Style
	ExpanderBox lipgloss.Style

	// ==========================================================================
	// CHAT STYLES
	// ==========================================================================

	UserLabel      lipgloss.Style
	AssistantLabel lipgloss.Style
	StatusBar      lipgloss.Style
	StatusMuted    lipgloss.Style
	InputPrompt    lipgloss.Style
	Error          lipgloss.Style
	Warning        lipgloss.Style
}

var (
	defaultTheme *Theme
	defaultOnce  sync.Once
)

// Default returns the shared theme, created on first use.
func Default() *Theme {
	defaultOnce.Do(func() {
		defaultTheme = NewTheme()
	})
	return defaultTheme
}

// NewTheme creates a theme for the current terminal.
func NewTheme() *Theme {
	t := &Theme{
		IsDark:       termenv.HasDarkBackground(),
		ColorProfile: termenv.ColorProfile(),
	}
	t.initStyles()
	return t
}

// Plain reports whether the terminal shows no color, in which case
// renderers should rely on text markers alone.
func (t *Theme) Plain() bool {
	return t.ColorProfile == termenv.Ascii
}

func (t *Theme) initStyles() {
	t.Heading = lipgloss.NewStyle().Bold(true).Foreground(Cyan)
	t.SubHeading = lipgloss.NewStyle().Bold(true).Foreground(Purple)
	t.Text = lipgloss.NewStyle().Foreground(TextPrimary)
	t.Bold = lipgloss.NewStyle().Bold(true)
	t.Italic = lipgloss.NewStyle().Italic(true)
	t.Strike = lipgloss.NewStyle().Strikethrough(true)
	t.CodeSpan = lipgloss.NewStyle().Foreground(CodeFg)
	t.Link = lipgloss.NewStyle().Foreground(LinkColor).Underline(true)
	t.Math = lipgloss.NewStyle().Foreground(MathFg).Italic(true)

	t.Quote = lipgloss.NewStyle().
		Foreground(TextSecondary).
		BorderStyle(lipgloss.NormalBorder()).
		BorderLeft(true).
		BorderForeground(Overlay).
		PaddingLeft(1)

	t.ListMarker = lipgloss.NewStyle().Foreground(Cyan)
	t.Rule = lipgloss.NewStyle().Foreground(Overlay)
	t.TableHead = lipgloss.NewStyle().Bold(true).Foreground(Cyan).Padding(0, 1)
	t.TableCell = lipgloss.NewStyle().Padding(0, 1)

	t.CodeBlock = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(Overlay).
		Padding(0, 1)
	t.CodeHeader = lipgloss.NewStyle().Foreground(TextMuted).Italic(true)
	t.MathBlock = lipgloss.NewStyle().Foreground(MathFg).PaddingLeft(4)

	t.Panel = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(Amber).
		Padding(0, 1)
	t.PanelTitle = lipgloss.NewStyle().Bold(true).Foreground(Amber)

	t.Expander = lipgloss.NewStyle().Foreground(Purple).Bold(true)
	t.ExpanderBox = lipgloss.NewStyle().
		Foreground(TextMuted).
		BorderStyle(lipgloss.NormalBorder()).
		BorderLeft(true).
		BorderForeground(Purple).
		PaddingLeft(1)

	t.UserLabel = lipgloss.NewStyle().Bold(true).Foreground(Cyan)
	t.AssistantLabel = lipgloss.NewStyle().Bold(true).Foreground(Purple)
	t.StatusBar = lipgloss.NewStyle().Foreground(TextSecondary).Background(SurfaceDim).Padding(0, 1)
	t.StatusMuted = lipgloss.NewStyle().Foreground(TextMuted)
	t.InputPrompt = lipgloss.NewStyle().Foreground(Cyan).Bold(true)
	t.Error = lipgloss.NewStyle().Foreground(Rose).Bold(true)
	t.Warning = lipgloss.NewStyle().Foreground(Amber)
}
