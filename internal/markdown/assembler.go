// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package markdown

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

var md = goldmark.New(
	goldmark.WithExtensions(
		extension.GFM,
		extension.Footnote,
		Containers,
		Math,
	),
)

// Parse normalizes s and parses it into a block tree. The result depends
// only on s. The first "think" container becomes the document's single
// Reasoning block; later ones stay plain containers.
func Parse(s string) *Block {
	src := []byte(Normalize(s))
	doc := md.Parser().Parse(text.NewReader(src))

	a := &assembler{src: src}
	out := a.convert(doc)
	if len(out) == 0 {
		return &Block{Kind: KindDocument}
	}
	return out[0]
}

type assembler struct {
	src           []byte
	reasoningSeen bool
}

func (a *assembler) children(n ast.Node) []*Block {
	var out []*Block
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		out = append(out, a.convert(c)...)
	}
	return mergeText(out)
}

func (a *assembler) lines(n ast.Node) string {
	var buf bytes.Buffer
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		buf.Write(seg.Value(a.src))
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

// inlineText returns the raw text below n, for code spans and image alt
// text.
func (a *assembler) inlineText(n ast.Node) string {
	var sb strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := c.(type) {
		case *ast.Text:
			sb.Write(t.Segment.Value(a.src))
			if t.SoftLineBreak() {
				sb.WriteByte(' ')
			}
		case *ast.String:
			sb.Write(t.Value)
		}
		return ast.WalkContinue, nil
	})
	return sb.String()
}

func (a *assembler) convert(n ast.Node) []*Block {
	var b *Block
	switch n := n.(type) {
	case *ast.Document:
		b = &Block{Kind: KindDocument}
	case *ast.Paragraph, *ast.TextBlock:
		b = &Block{Kind: KindParagraph}
	case *ast.Heading:
		b = &Block{Kind: KindHeading, Level: n.Level}
	case *ast.FencedCodeBlock:
		return []*Block{{Kind: KindCode, Info: string(n.Language(a.src)), Text: a.lines(n)}}
	case *ast.CodeBlock:
		return []*Block{{Kind: KindCode, Text: a.lines(n)}}
	case *ast.Blockquote:
		b = &Block{Kind: KindQuote}
	case *ast.List:
		b = &Block{Kind: KindList, Ordered: n.IsOrdered(), Start: n.Start}
	case *ast.ListItem:
		return []*Block{a.listItem(n)}
	case *ast.ThematicBreak:
		return []*Block{{Kind: KindThematicBreak}}
	case *ast.HTMLBlock:
		html := a.lines(n)
		if n.HasClosure() {
			html += "\n" + string(n.ClosureLine.Value(a.src))
		}
		return []*Block{{Kind: KindHTML, Text: strings.TrimSuffix(html, "\n")}}
	case *ContainerNode:
		if n.Name == ReasoningContainer && !a.reasoningSeen {
			a.reasoningSeen = true
			b = &Block{Kind: KindReasoning, Info: n.Name}
		} else {
			b = &Block{Kind: KindContainer, Info: n.Name}
		}
	case *MathBlock:
		return []*Block{{Kind: KindMath, Text: n.Literal}}

	case *extast.Table:
		b = &Block{Kind: KindTable}
	case *extast.TableHeader:
		b = &Block{Kind: KindTableRow, Header: true}
	case *extast.TableRow:
		b = &Block{Kind: KindTableRow}
	case *extast.TableCell:
		b = &Block{Kind: KindTableCell, Align: alignName(n.Alignment)}
	case *extast.FootnoteList:
		b = &Block{Kind: KindFootnotes}
	case *extast.Footnote:
		b = &Block{Kind: KindFootnote, Level: n.Index}
	case *extast.FootnoteLink:
		return []*Block{{Kind: KindFootnoteRef, Level: n.Index}}
	case *extast.FootnoteBacklink, *extast.TaskCheckBox:
		return nil

	case *ast.Text:
		out := []*Block{{Kind: KindText, Text: string(n.Segment.Value(a.src))}}
		switch {
		case n.HardLineBreak():
			out = append(out, &Block{Kind: KindLineBreak})
		case n.SoftLineBreak():
			out[0].Text += " "
		}
		return out
	case *ast.String:
		return []*Block{{Kind: KindText, Text: string(n.Value)}}
	case *ast.Emphasis:
		if n.Level >= 2 {
			b = &Block{Kind: KindStrong}
		} else {
			b = &Block{Kind: KindEmphasis}
		}
	case *extast.Strikethrough:
		b = &Block{Kind: KindStrikethrough}
	case *ast.CodeSpan:
		return []*Block{{Kind: KindCodeSpan, Text: a.inlineText(n)}}
	case *ast.Link:
		b = &Block{Kind: KindLink, Info: string(n.Destination)}
	case *ast.AutoLink:
		return []*Block{{
			Kind:     KindLink,
			Info:     string(n.URL(a.src)),
			Children: []*Block{{Kind: KindText, Text: string(n.Label(a.src))}},
		}}
	case *ast.Image:
		return []*Block{{Kind: KindImage, Info: string(n.Destination), Text: a.inlineText(n)}}
	case *ast.RawHTML:
		var sb strings.Builder
		for i := 0; i < n.Segments.Len(); i++ {
			seg := n.Segments.At(i)
			sb.Write(seg.Value(a.src))
		}
		return []*Block{{Kind: KindHTML, Text: sb.String()}}
	case *InlineMath:
		m := &Block{Kind: KindInlineMath, Text: n.Literal}
		if n.Display {
			m.Info = "display"
		}
		return []*Block{m}

	default:
		// Unknown nodes contribute their children in place.
		return a.children(n)
	}

	b.Children = a.children(n)
	return []*Block{b}
}

func (a *assembler) listItem(n *ast.ListItem) *Block {
	b := &Block{Kind: KindListItem}
	if first := n.FirstChild(); first != nil {
		if cb, ok := first.FirstChild().(*extast.TaskCheckBox); ok {
			b.Task = true
			b.Checked = cb.IsChecked
		}
	}
	b.Children = a.children(n)
	if b.Task && len(b.Children) > 0 {
		if p := b.Children[0]; len(p.Children) > 0 && p.Children[0].Kind == KindText {
			p.Children[0].Text = strings.TrimLeft(p.Children[0].Text, " ")
		}
	}
	return b
}

func alignName(al extast.Alignment) string {
	switch al {
	case extast.AlignLeft:
		return "left"
	case extast.AlignRight:
		return "right"
	case extast.AlignCenter:
		return "center"
	default:
		return ""
	}
}

// mergeText joins runs of adjacent text blocks.
func mergeText(blocks []*Block) []*Block {
	if len(blocks) < 2 {
		return blocks
	}
	out := blocks[:1]
	for _, b := range blocks[1:] {
		last := out[len(out)-1]
		if b.Kind == KindText && last.Kind == KindText {
			last.Text += b.Text
			continue
		}
		out = append(out, b)
	}
	return out
}

// SplitReasoning separates the first think container from the rest of s.
// Answer is s without the container, trimmed. Text without a container is
// returned unchanged as the answer.
func SplitReasoning(s string) (reasoning, answer string) {
	s = NormalizeThink(s)
	lines := strings.SplitAfter(s, "\n")

	start := -1
	for i, l := range lines {
		n, name := splitFence(l)
		if n >= 3 && name == ReasoningContainer {
			start = i
			break
		}
	}
	if start < 0 {
		return "", s
	}

	fence, _ := splitFence(lines[start])
	end, depth := len(lines), 0
	for i := start + 1; i < len(lines); i++ {
		n, name := splitFence(lines[i])
		if n < fence {
			continue
		}
		if name != "" {
			depth++
			continue
		}
		if depth == 0 {
			end = i
			break
		}
		depth--
	}

	inner := strings.Join(lines[start+1:end], "")
	rest := strings.Join(lines[:start], "")
	if end < len(lines) {
		rest += strings.Join(lines[end+1:], "")
	}
	return strings.TrimSpace(inner), strings.TrimSpace(rest)
}

// splitFence returns the colon count and first word of a fence line, or 0
// when the line is not a fence.
func splitFence(line string) (int, string) {
	t := strings.TrimSpace(line)
	if len(line)-len(strings.TrimLeft(line, " ")) >= 4 {
		return 0, ""
	}
	n := 0
	for n < len(t) && t[n] == ':' {
		n++
	}
	if n < 3 {
		return 0, ""
	}
	fields := strings.Fields(t[n:])
	if len(fields) == 0 {
		return n, ""
	}
	return n, fields[0]
}
