// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package styles holds the color palette and lipgloss styles shared by the
terminal painter and the chat TUI.

All colors are lipgloss AdaptiveColor values so that light and dark
terminals both stay readable. Theme groups the styles; Default returns a
process-wide theme built on first use.

	t := styles.Default()
	fmt.Println(t.Heading.Render("Title"))

Status helpers pair a color with an ASCII indicator:

	fmt.Println(styles.RenderError("connection refused"))
*/
package styles
