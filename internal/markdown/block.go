// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package markdown

import "strings"

// Kind identifies a content block.
type Kind int

// Block kinds.
const (
	KindDocument Kind = iota
	KindParagraph
	KindHeading
	KindCode
	KindQuote
	KindList
	KindListItem
	KindTable
	KindTableRow
	KindTableCell
	KindMath
	KindContainer
	KindReasoning
	KindThematicBreak
	KindHTML
	KindFootnotes
	KindFootnote

	// Inline kinds.
	KindText
	KindEmphasis
	KindStrong
	KindStrikethrough
	KindCodeSpan
	KindLink
	KindImage
	KindInlineMath
	KindLineBreak
	KindFootnoteRef
)

var kindNames = [...]string{
	KindDocument:      "Document",
	KindParagraph:     "Paragraph",
	KindHeading:       "Heading",
	KindCode:          "Code",
	KindQuote:         "Quote",
	KindList:          "List",
	KindListItem:      "ListItem",
	KindTable:         "Table",
	KindTableRow:      "TableRow",
	KindTableCell:     "TableCell",
	KindMath:          "Math",
	KindContainer:     "Container",
	KindReasoning:     "Reasoning",
	KindThematicBreak: "ThematicBreak",
	KindHTML:          "HTML",
	KindFootnotes:     "Footnotes",
	KindFootnote:      "Footnote",
	KindText:          "Text",
	KindEmphasis:      "Emphasis",
	KindStrong:        "Strong",
	KindStrikethrough: "Strikethrough",
	KindCodeSpan:      "CodeSpan",
	KindLink:          "Link",
	KindImage:         "Image",
	KindInlineMath:    "InlineMath",
	KindLineBreak:     "LineBreak",
	KindFootnoteRef:   "FootnoteRef",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "Unknown"
}

// IsInline reports whether k is an inline kind.
func (k Kind) IsInline() bool {
	return k >= KindText
}

// Block is one node of a parsed document.
//
// Field use by kind:
//
//	Heading     Level
//	Code        Info (language), Text
//	List        Ordered, Start
//	ListItem    Task, Checked
//	TableRow    Header
//	TableCell   Align ("left", "center", "right" or "")
//	Math        Text
//	Container   Info (name)
//	Footnote    Level (index)
//	Text, HTML, CodeSpan, InlineMath   Text
//	Link        Info (destination)
//	Image       Info (destination), Text (alt)
//	FootnoteRef Level (index)
type Block struct {
	Kind     Kind
	Level    int
	Info     string
	Text     string
	Ordered  bool
	Start    int
	Task     bool
	Checked  bool
	Header   bool
	Align    string
	Children []*Block
}

// Find returns the first block of kind k in depth-first order, or nil.
func (b *Block) Find(k Kind) *Block {
	if b == nil {
		return nil
	}
	if b.Kind == k {
		return b
	}
	for _, c := range b.Children {
		if f := c.Find(k); f != nil {
			return f
		}
	}
	return nil
}

// PlainText concatenates the text of b and its descendants.
func (b *Block) PlainText() string {
	if b == nil {
		return ""
	}
	if len(b.Children) == 0 {
		if b.Kind == KindLineBreak {
			return "\n"
		}
		return b.Text
	}
	var sb strings.Builder
	for _, c := range b.Children {
		sb.WriteString(c.PlainText())
	}
	return sb.String()
}
