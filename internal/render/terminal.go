// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package render

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"github.com/muesli/reflow/indent"
	"github.com/muesli/reflow/wordwrap"

	"github.com/jeranaias/chatstream/internal/ui/styles"
)

const (
	collapsedMarker = "▶ "
	expandedMarker  = "▼ "
)

// Paint renders a display tree for a terminal. Prose wraps at width; a
// width of zero or less disables wrapping.
func Paint(n *Node, width int) string {
	if n == nil {
		return ""
	}
	p := painter{theme: styles.Default()}
	return p.node(n, width)
}

type painter struct {
	theme *styles.Theme
}

func (p painter) wrap(s string, width int) string {
	if width <= 0 {
		return s
	}
	return wordwrap.String(s, width)
}

func (p painter) blocks(children []*Node, width int) string {
	parts := make([]string, 0, len(children))
	for _, c := range children {
		if s := p.node(c, width); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n\n")
}

func (p painter) node(n *Node, width int) string {
	t := p.theme
	switch n.Kind {
	case KindDocument:
		return p.blocks(n.Children, width)
	case KindParagraph:
		return p.wrap(p.inline(n.Children), width)
	case KindHeading:
		style := t.SubHeading
		if n.Level <= 1 {
			style = t.Heading
		}
		return style.Render(p.wrap(strings.Repeat("#", max(n.Level, 1))+" "+p.inline(n.Children), width))
	case KindCodeBlock:
		return p.code(n)
	case KindQuote:
		return t.Quote.Render(p.blocks(n.Children, width-2))
	case KindList:
		return p.list(n, width)
	case KindListItem:
		return p.item(n.Header, n, width)
	case KindTable:
		return p.table(n)
	case KindMath:
		return t.MathBlock.Render(n.Text)
	case KindPanel:
		body := p.blocks(n.Children, width-4)
		if n.Header != "" {
			body = t.PanelTitle.Render(n.Header) + "\n" + body
		}
		return t.Panel.Render(body)
	case KindExpander:
		if !n.Expanded {
			return t.Expander.Render(collapsedMarker + n.Header)
		}
		head := t.Expander.Render(expandedMarker + n.Header)
		if len(n.Children) == 0 {
			return head
		}
		return head + "\n" + t.ExpanderBox.Render(p.blocks(n.Children, width-2))
	case KindRule:
		w := width
		if w <= 0 {
			w = 40
		}
		return t.Rule.Render(strings.Repeat("─", w))
	case KindRaw:
		return n.Text
	case KindSpan, KindBreak:
		return p.wrap(p.inline([]*Node{n}), width)
	default:
		return p.blocks(n.Children, width)
	}
}

func (p painter) inline(spans []*Node) string {
	t := p.theme
	var sb strings.Builder
	for _, s := range spans {
		if s.Kind == KindBreak {
			sb.WriteByte('\n')
			continue
		}
		if s.Kind != KindSpan {
			sb.WriteString(p.node(s, 0))
			continue
		}
		text := s.Text
		if s.Style.Has(StyleCode) {
			text = t.CodeSpan.Render(text)
		}
		if s.Style.Has(StyleMath) {
			text = t.Math.Render(text)
		}
		if s.Style.Has(StyleLink) {
			text = t.Link.Render(text)
		}
		if s.Style.Has(StyleBold) {
			text = t.Bold.Render(text)
		}
		if s.Style.Has(StyleItalic) {
			text = t.Italic.Render(text)
		}
		if s.Style.Has(StyleStrike) {
			text = t.Strike.Render(text)
		}
		sb.WriteString(text)
	}
	return sb.String()
}

func (p painter) code(n *Node) string {
	t := p.theme
	body := n.Text
	if n.Highlighted != "" && !t.Plain() {
		body = n.Highlighted
	}
	if n.Header != "" {
		body = t.CodeHeader.Render(n.Header) + "\n" + body
	}
	return t.CodeBlock.Render(body)
}

func (p painter) list(n *Node, width int) string {
	items := make([]string, 0, len(n.Children))
	for _, it := range n.Children {
		items = append(items, p.item(it.Header, it, width))
	}
	return strings.Join(items, "\n")
}

// item paints a list item with its marker, hanging the body under the
// first line.
func (p painter) item(marker string, n *Node, width int) string {
	if marker == "" {
		marker = "•"
	}
	pad := runewidth.StringWidth(marker) + 1
	first, rest, more := strings.Cut(p.blocks(n.Children, width-pad), "\n")
	out := p.theme.ListMarker.Render(marker) + " " + first
	if more {
		out += "\n" + indent.String(rest, uint(pad))
	}
	return out
}

func (p painter) table(n *Node) string {
	t := p.theme
	var rows [][]string
	var header []bool
	var aligns []string
	cols := 0
	for _, row := range n.Children {
		cells := make([]string, 0, len(row.Children))
		for i, cell := range row.Children {
			cells = append(cells, p.inline(cell.Children))
			if i >= len(aligns) {
				aligns = append(aligns, cell.Align)
			}
		}
		cols = max(cols, len(cells))
		rows = append(rows, cells)
		header = append(header, row.IsHeader)
	}

	widths := make([]int, cols)
	for _, r := range rows {
		for i, c := range r {
			widths[i] = max(widths[i], lipgloss.Width(c))
		}
	}

	var lines []string
	for ri, r := range rows {
		style := t.TableCell
		if header[ri] {
			style = t.TableHead
		}
		cells := make([]string, cols)
		for i := 0; i < cols; i++ {
			c := ""
			if i < len(r) {
				c = r[i]
			}
			cells[i] = style.Width(widths[i] + 2).Align(alignment(aligns[i])).Render(c)
		}
		lines = append(lines, strings.Join(cells, t.Rule.Render("│")))
		if header[ri] {
			seps := make([]string, cols)
			for i, w := range widths {
				seps[i] = strings.Repeat("─", w+2)
			}
			lines = append(lines, t.Rule.Render(strings.Join(seps, "┼")))
		}
	}
	return strings.Join(lines, "\n")
}

func alignment(a string) lipgloss.Position {
	switch a {
	case "center":
		return lipgloss.Center
	case "right":
		return lipgloss.Right
	default:
		return lipgloss.Left
	}
}
