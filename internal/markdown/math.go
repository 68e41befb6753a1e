// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package markdown

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

var (
	// KindMathBlockNode is the goldmark node kind of a $$ display block.
	KindMathBlockNode = ast.NewNodeKind("MathBlock")

	// KindInlineMathNode is the goldmark node kind of $..$ and inline $$..$$.
	KindInlineMathNode = ast.NewNodeKind("InlineMath")
)

var mathFence = []byte("$$")

// MathBlock is a display formula delimited by $$ lines.
type MathBlock struct {
	ast.BaseBlock
	Literal string

	closed bool
}

func (n *MathBlock) Kind() ast.NodeKind { return KindMathBlockNode }

// IsRaw keeps the formula out of inline parsing.
func (n *MathBlock) IsRaw() bool { return true }

func (n *MathBlock) Dump(source []byte, level int) {
	ast.DumpHelper(n, source, level, map[string]string{"Literal": n.Literal}, nil)
}

// InlineMath is a formula inside a paragraph.
type InlineMath struct {
	ast.BaseInline
	Literal string
	Display bool
}

func (n *InlineMath) Kind() ast.NodeKind { return KindInlineMathNode }

func (n *InlineMath) Dump(source []byte, level int) {
	ast.DumpHelper(n, source, level, map[string]string{"Literal": n.Literal}, nil)
}

// =============================================================================
// BLOCK PARSER
// =============================================================================

type mathBlockParser struct{}

// NewMathBlockParser returns a parser for display math: a line starting
// with $$, content lines, and a line ending with $$. "$$ x $$" on one line
// is a complete block.
func NewMathBlockParser() parser.BlockParser {
	return &mathBlockParser{}
}

func (p *mathBlockParser) Trigger() []byte {
	return []byte{'$'}
}

func (p *mathBlockParser) Open(parent ast.Node, reader text.Reader, pc parser.Context) (ast.Node, parser.State) {
	line, _ := reader.PeekLine()
	pos := pc.BlockOffset()
	if pos < 0 || !bytes.HasPrefix(line[pos:], mathFence) {
		return nil, parser.NoChildren
	}

	rest := bytes.TrimSpace(line[pos+len(mathFence):])
	node := &MathBlock{}
	if i := bytes.Index(rest, mathFence); i >= 0 {
		if len(bytes.TrimSpace(rest[i+len(mathFence):])) > 0 {
			// "$$x$$ and more" is inline math in a paragraph.
			return nil, parser.NoChildren
		}
		node.Literal = string(bytes.TrimSpace(rest[:i]))
		node.closed = true
	} else if len(rest) > 0 {
		node.Literal = string(rest)
	}
	return node, parser.NoChildren
}

func (p *mathBlockParser) Continue(node ast.Node, reader text.Reader, pc parser.Context) parser.State {
	m := node.(*MathBlock)
	if m.closed {
		return parser.Close
	}

	line, _ := reader.PeekLine()
	trimmed := bytes.TrimSpace(line)
	if bytes.HasSuffix(trimmed, mathFence) {
		m.appendLine(bytes.TrimSuffix(trimmed, mathFence))
		m.closed = true
		reader.Advance(lineContentLen(line))
		return parser.Close
	}
	m.appendLine(bytes.TrimRight(line, "\r\n"))
	reader.AdvanceLine()
	return parser.Continue | parser.NoChildren
}

func (m *MathBlock) appendLine(b []byte) {
	s := strings.TrimRight(string(b), " \t")
	if s == "" && m.Literal == "" {
		return
	}
	if m.Literal != "" {
		m.Literal += "\n"
	}
	m.Literal += s
}

func (p *mathBlockParser) Close(node ast.Node, reader text.Reader, pc parser.Context) {
	m := node.(*MathBlock)
	m.Literal = strings.TrimSpace(m.Literal)
}

func (p *mathBlockParser) CanInterruptParagraph() bool {
	return true
}

func (p *mathBlockParser) CanAcceptIndentedLine() bool {
	return false
}

// =============================================================================
// INLINE PARSER
// =============================================================================

type inlineMathParser struct{}

// NewInlineMathParser returns a parser for $..$ and $$..$$ within a line.
// A single-dollar span may not start or end with a space, and the closing
// dollar may not be followed by a digit, so prices like "$5 and $10" stay
// text.
func NewInlineMathParser() parser.InlineParser {
	return &inlineMathParser{}
}

func (p *inlineMathParser) Trigger() []byte {
	return []byte{'$'}
}

func (p *inlineMathParser) Parse(parent ast.Node, block text.Reader, pc parser.Context) ast.Node {
	line, _ := block.PeekLine()
	if len(line) < 2 || line[0] != '$' {
		return nil
	}

	if line[1] == '$' {
		end := bytes.Index(line[2:], mathFence)
		if end < 0 {
			return nil
		}
		literal := bytes.TrimSpace(line[2 : 2+end])
		if len(literal) == 0 {
			return nil
		}
		block.Advance(2 + end + 2)
		return &InlineMath{Literal: string(literal), Display: true}
	}

	if util.IsSpace(line[1]) {
		return nil
	}
	for i := 2; i < len(line); i++ {
		if line[i] == '\\' {
			i++
			continue
		}
		if line[i] != '$' {
			continue
		}
		if util.IsSpace(line[i-1]) || i+1 < len(line) && line[i+1] >= '0' && line[i+1] <= '9' {
			return nil
		}
		block.Advance(i + 1)
		return &InlineMath{Literal: string(line[1:i])}
	}
	return nil
}

// =============================================================================
// EXTENSION
// =============================================================================

type mathExtension struct{}

// Math is a goldmark extension for $ and $$ formulas.
var Math goldmark.Extender = &mathExtension{}

func (e *mathExtension) Extend(m goldmark.Markdown) {
	m.Parser().AddOptions(
		parser.WithBlockParsers(util.Prioritized(NewMathBlockParser(), 760)),
		parser.WithInlineParsers(util.Prioritized(NewInlineMathParser(), 450)),
	)
}
