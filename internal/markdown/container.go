// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package markdown

import (
	"bytes"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

// =============================================================================
// AST NODE
// =============================================================================

// KindContainerNode is the goldmark node kind of a fenced custom container.
var KindContainerNode = ast.NewNodeKind("Container")

// ContainerNode is a ":::name" ... ":::" block holding arbitrary block
// content.
type ContainerNode struct {
	ast.BaseBlock
	Name string

	fence int // colons in the opening line
	depth int // open nested containers whose closing fence would match ours
}

// Kind implements ast.Node.
func (n *ContainerNode) Kind() ast.NodeKind {
	return KindContainerNode
}

// Dump implements ast.Node.
func (n *ContainerNode) Dump(source []byte, level int) {
	ast.DumpHelper(n, source, level, map[string]string{"Name": n.Name}, nil)
}

// =============================================================================
// BLOCK PARSER
// =============================================================================

type containerParser struct{}

// NewContainerParser returns a block parser for ":::" custom containers.
// An opening fence needs at least three colons and a name; a closing fence
// is a line of at least as many colons and nothing else. A container left
// open runs to the end of the document.
func NewContainerParser() parser.BlockParser {
	return &containerParser{}
}

func (p *containerParser) Trigger() []byte {
	return []byte{':'}
}

// fenceLine returns the colon count and trimmed remainder of a fence line.
func fenceLine(line []byte, pos int) (int, []byte) {
	i := pos
	for i < len(line) && line[i] == ':' {
		i++
	}
	return i - pos, bytes.TrimSpace(line[i:])
}

func (p *containerParser) Open(parent ast.Node, reader text.Reader, pc parser.Context) (ast.Node, parser.State) {
	line, _ := reader.PeekLine()
	pos := pc.BlockOffset()
	if pos < 0 {
		return nil, parser.NoChildren
	}
	n, rest := fenceLine(line, pos)
	if n < 3 || len(rest) == 0 {
		return nil, parser.NoChildren
	}
	name := rest
	if i := bytes.IndexAny(name, " \t{"); i >= 0 {
		name = name[:i]
	}

	node := &ContainerNode{Name: string(name), fence: n}
	reader.Advance(lineContentLen(line))
	return node, parser.HasChildren
}

func (p *containerParser) Continue(node ast.Node, reader text.Reader, pc parser.Context) parser.State {
	c := node.(*ContainerNode)
	line, _ := reader.PeekLine()

	w, pos := util.IndentWidth(line, reader.LineOffset())
	if w >= 4 || pos >= len(line) || line[pos] != ':' {
		return parser.Continue | parser.HasChildren
	}

	n, rest := fenceLine(line, pos)
	switch {
	case n >= c.fence && len(rest) > 0:
		c.depth++
	case n >= c.fence && len(rest) == 0:
		if c.depth > 0 {
			c.depth--
			break
		}
		reader.Advance(lineContentLen(line))
		return parser.Close
	}
	return parser.Continue | parser.HasChildren
}

func (p *containerParser) Close(node ast.Node, reader text.Reader, pc parser.Context) {}

func (p *containerParser) CanInterruptParagraph() bool {
	return true
}

func (p *containerParser) CanAcceptIndentedLine() bool {
	return false
}

// lineContentLen is the length of line without its trailing newline.
func lineContentLen(line []byte) int {
	n := len(line)
	if n > 0 && line[n-1] == '\n' {
		n--
	}
	return n
}

// =============================================================================
// EXTENSION
// =============================================================================

type containers struct{}

// Containers is a goldmark extension for ":::" custom containers.
var Containers goldmark.Extender = &containers{}

func (e *containers) Extend(m goldmark.Markdown) {
	m.Parser().AddOptions(parser.WithBlockParsers(
		util.Prioritized(NewContainerParser(), 750),
	))
}
