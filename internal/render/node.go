// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package render

// Kind identifies a display node.
type Kind int

// Display node kinds.
const (
	KindDocument Kind = iota
	KindParagraph
	KindHeading
	KindCodeBlock
	KindQuote
	KindList
	KindListItem
	KindTable
	KindTableRow
	KindTableCell
	KindMath
	KindPanel    // named custom container
	KindExpander // collapsible reasoning block
	KindRule
	KindRaw
	KindSpan
	KindBreak
)

// ReasoningHeader is the header of the reasoning expander.
const ReasoningHeader = "Thinking Process"

// Style flags for spans.
type Style uint8

const (
	StyleBold Style = 1 << iota
	StyleItalic
	StyleStrike
	StyleCode
	StyleLink
	StyleMath
)

// Has reports whether all flags in f are set.
func (s Style) Has(f Style) bool {
	return s&f == f
}

// Node is one element of the display tree. Trees are published read-only;
// change a published tree through Clone.
type Node struct {
	Kind Kind

	// Text is the span text, code body, math literal or raw content.
	Text string

	// Header is the expander or panel title, the code language, or the
	// list item marker.
	Header string

	// Highlighted is the ANSI-highlighted code body, if available.
	Highlighted string

	Level    int    // heading level
	Style    Style  // span style
	Link     string // link or image target
	Align    string // table cell alignment
	IsHeader bool   // table header row
	Expanded bool   // expander state

	Children []*Node
}

// Find returns the first node of kind k in depth-first order, or nil.
func (n *Node) Find(k Kind) *Node {
	if n == nil {
		return nil
	}
	if n.Kind == k {
		return n
	}
	for _, c := range n.Children {
		if f := c.Find(k); f != nil {
			return f
		}
	}
	return nil
}

// Clone returns a deep copy of n.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := *n
	if n.Children != nil {
		c.Children = make([]*Node, len(n.Children))
		for i, ch := range n.Children {
			c.Children[i] = ch.Clone()
		}
	}
	return &c
}
