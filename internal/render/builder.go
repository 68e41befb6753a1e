// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package render

import (
	"errors"
	"strconv"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	chromaStyles "github.com/alecthomas/chroma/v2/styles"

	"github.com/jeranaias/chatstream/internal/markdown"
)

// ErrNilDocument is returned by Build for a nil document.
var ErrNilDocument = errors.New("nil document")

// DefaultCodeStyle is the chroma style used when none is configured.
const DefaultCodeStyle = "monokai"

// Builder converts parsed blocks into display nodes.
type Builder struct {
	style     *chroma.Style
	formatter chroma.Formatter
	highlight bool
}

// NewBuilder creates a builder highlighting code with the named chroma
// style. An empty name disables highlighting.
func NewBuilder(codeStyle string) *Builder {
	b := &Builder{}
	if codeStyle == "" {
		return b
	}
	b.highlight = true
	b.style = chromaStyles.Get(codeStyle)
	if b.style == nil {
		b.style = chromaStyles.Fallback
	}
	b.formatter = formatters.Get("terminal256")
	if b.formatter == nil {
		b.formatter = formatters.Fallback
	}
	return b
}

// Build converts doc into a display tree. The reasoning block becomes a
// collapsed KindExpander titled ReasoningHeader.
func (b *Builder) Build(doc *markdown.Block) (*Node, error) {
	if doc == nil {
		return nil, ErrNilDocument
	}
	return b.block(doc), nil
}

func (b *Builder) blocks(in []*markdown.Block) []*Node {
	out := make([]*Node, 0, len(in))
	for i := 0; i < len(in); {
		if !in[i].Kind.IsInline() {
			out = append(out, b.block(in[i]))
			i++
			continue
		}
		j := i
		for j < len(in) && in[j].Kind.IsInline() {
			j++
		}
		out = append(out, &Node{Kind: KindParagraph, Children: b.spans(in[i:j])})
		i = j
	}
	return out
}

func (b *Builder) block(blk *markdown.Block) *Node {
	switch blk.Kind {
	case markdown.KindDocument:
		return &Node{Kind: KindDocument, Children: b.blocks(blk.Children)}
	case markdown.KindParagraph:
		return &Node{Kind: KindParagraph, Children: b.spans(blk.Children)}
	case markdown.KindHeading:
		return &Node{Kind: KindHeading, Level: blk.Level, Children: b.spans(blk.Children)}
	case markdown.KindCode:
		return &Node{
			Kind:        KindCodeBlock,
			Header:      blk.Info,
			Text:        blk.Text,
			Highlighted: b.highlightCode(blk.Text, blk.Info),
		}
	case markdown.KindQuote:
		return &Node{Kind: KindQuote, Children: b.blocks(blk.Children)}
	case markdown.KindList:
		return b.list(blk)
	case markdown.KindTable:
		return &Node{Kind: KindTable, Children: b.blocks(blk.Children)}
	case markdown.KindTableRow:
		return &Node{Kind: KindTableRow, IsHeader: blk.Header, Children: b.blocks(blk.Children)}
	case markdown.KindTableCell:
		return &Node{Kind: KindTableCell, Align: blk.Align, Children: b.spans(blk.Children)}
	case markdown.KindMath:
		return &Node{Kind: KindMath, Text: blk.Text}
	case markdown.KindReasoning:
		return &Node{Kind: KindExpander, Header: ReasoningHeader, Children: b.blocks(blk.Children)}
	case markdown.KindContainer:
		return &Node{Kind: KindPanel, Header: blk.Info, Children: b.blocks(blk.Children)}
	case markdown.KindThematicBreak:
		return &Node{Kind: KindRule}
	case markdown.KindHTML:
		return &Node{Kind: KindRaw, Text: blk.Text}
	case markdown.KindFootnotes:
		list := &Node{Kind: KindList}
		for _, fn := range blk.Children {
			list.Children = append(list.Children, &Node{
				Kind:     KindListItem,
				Header:   "[" + strconv.Itoa(fn.Level) + "]",
				Children: b.blocks(fn.Children),
			})
		}
		return list
	case markdown.KindListItem:
		return &Node{Kind: KindListItem, Header: "•", Children: b.blocks(blk.Children)}
	default:
		if blk.Kind.IsInline() {
			return &Node{Kind: KindParagraph, Children: b.spans([]*markdown.Block{blk})}
		}
		return &Node{Kind: KindQuote, Children: b.blocks(blk.Children)}
	}
}

func (b *Builder) list(blk *markdown.Block) *Node {
	list := &Node{Kind: KindList}
	n := blk.Start
	if n == 0 {
		n = 1
	}
	for _, item := range blk.Children {
		marker := "•"
		switch {
		case item.Task && item.Checked:
			marker = "[x]"
		case item.Task:
			marker = "[ ]"
		case blk.Ordered:
			marker = strconv.Itoa(n) + "."
		}
		n++
		list.Children = append(list.Children, &Node{
			Kind:     KindListItem,
			Header:   marker,
			Children: b.blocks(item.Children),
		})
	}
	return list
}

// spans flattens inline blocks into styled runs. Adjacent runs with the
// same style and target are merged.
func (b *Builder) spans(in []*markdown.Block) []*Node {
	var out []*Node
	var walk func(blocks []*markdown.Block, style Style, link string)
	emit := func(text string, style Style, link string) {
		if text == "" {
			return
		}
		if n := len(out); n > 0 {
			last := out[n-1]
			if last.Kind == KindSpan && last.Style == style && last.Link == link {
				last.Text += text
				return
			}
		}
		out = append(out, &Node{Kind: KindSpan, Text: text, Style: style, Link: link})
	}

	walk = func(blocks []*markdown.Block, style Style, link string) {
		for _, c := range blocks {
			switch c.Kind {
			case markdown.KindText, markdown.KindHTML:
				emit(c.Text, style, link)
			case markdown.KindEmphasis:
				walk(c.Children, style|StyleItalic, link)
			case markdown.KindStrong:
				walk(c.Children, style|StyleBold, link)
			case markdown.KindStrikethrough:
				walk(c.Children, style|StyleStrike, link)
			case markdown.KindCodeSpan:
				emit(c.Text, style|StyleCode, link)
			case markdown.KindInlineMath:
				emit(c.Text, style|StyleMath, link)
			case markdown.KindLink:
				walk(c.Children, style|StyleLink, c.Info)
			case markdown.KindImage:
				alt := c.Text
				if alt == "" {
					alt = "image"
				}
				emit("["+alt+"]", style|StyleLink, c.Info)
			case markdown.KindFootnoteRef:
				emit("["+strconv.Itoa(c.Level)+"]", style, link)
			case markdown.KindLineBreak:
				out = append(out, &Node{Kind: KindBreak})
			default:
				walk(c.Children, style, link)
			}
		}
	}
	walk(in, 0, "")
	return out
}

// highlightCode returns ANSI-highlighted code, or "" when highlighting is
// off or fails. Unknown languages are guessed from the code.
func (b *Builder) highlightCode(code, language string) string {
	if !b.highlight || strings.TrimSpace(code) == "" {
		return ""
	}
	lexer := lexers.Get(language)
	if lexer == nil {
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return ""
	}
	var buf strings.Builder
	if err := b.formatter.Format(&buf, b.style, iterator); err != nil {
		return ""
	}
	return strings.TrimRight(buf.String(), "\n")
}
