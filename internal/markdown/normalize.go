// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package markdown

import (
	"regexp"
	"strings"
)

// ReasoningContainer is the container name that marks reasoning text.
const ReasoningContainer = "think"

var (
	thinkTagPattern = regexp.MustCompile(`(?s)<think>(.*?)(?:</think>|$)`)

	escapedBlockMath  = regexp.MustCompile(`(?s)\\\[(.+?)\\\]`)
	escapedInlineMath = regexp.MustCompile(`(?s)\\\((.+?)\\\)`)
	bracketBlockMath  = regexp.MustCompile(`(?s)\[\$\$(.+?)\$\$\]`)
	bracketInlineMath = regexp.MustCompile(`(?s)\[\$([^$].*?)\$\]`)

	scriptPattern = regexp.MustCompile(`[A-Za-z0-9})]\s*[\^_]\s*[{A-Za-z0-9]`)
	latexWords    = regexp.MustCompile(`(?i)\b(frac|sqrt|sum|int|lim|pi|theta|delta|nabla|alpha|beta|gamma|omega)\b`)
)

// Normalize rewrites raw reasoning tags and LaTeX delimiters into the
// syntax the parser understands.
func Normalize(s string) string {
	return NormalizeLatex(NormalizeThink(s))
}

// NormalizeThink rewrites <think>...</think> into a think container. An
// unterminated tag runs to the end of the text.
func NormalizeThink(s string) string {
	if !strings.Contains(s, "<think>") {
		return s
	}
	return thinkTagPattern.ReplaceAllString(s, "\n::: "+ReasoningContainer+"\n${1}\n:::\n")
}

// NormalizeLatex converts \[..\], \(..\), [$$..$$], [$..$] and bracketed
// expressions that look like LaTeX into dollar-delimited math. Code spans
// and fenced code blocks are left alone.
func NormalizeLatex(s string) string {
	if !strings.ContainsAny(s, `\[`) {
		return s
	}
	return mapProse(s, func(p string) string {
		p = escapedBlockMath.ReplaceAllStringFunc(p, func(m string) string {
			return "$$" + strings.TrimSpace(escapedBlockMath.FindStringSubmatch(m)[1]) + "$$"
		})
		p = escapedInlineMath.ReplaceAllStringFunc(p, func(m string) string {
			return "$" + strings.TrimSpace(escapedInlineMath.FindStringSubmatch(m)[1]) + "$"
		})
		p = bracketBlockMath.ReplaceAllString(p, "$$$$${1}$$$$")
		p = bracketInlineMath.ReplaceAllString(p, "$$${1}$$")
		return replaceBracketMath(p)
	})
}

// LooksLikeLatex reports whether expr reads like a formula rather than
// prose: a backslash command, a sub/superscript, or a named function or
// Greek letter.
func LooksLikeLatex(expr string) bool {
	if strings.TrimSpace(expr) == "" {
		return false
	}
	return strings.Contains(expr, `\`) || scriptPattern.MatchString(expr) || latexWords.MatchString(expr)
}

// replaceBracketMath turns [expr] into $expr$ (or a $$ block when expr spans
// lines) when expr looks like LaTeX. Links, images, references and nested
// brackets are skipped.
func replaceBracketMath(s string) string {
	var sb strings.Builder
	i := 0
	for i < len(s) {
		open := strings.IndexByte(s[i:], '[')
		if open < 0 {
			break
		}
		open += i
		sb.WriteString(s[i:open])

		end := open + 1
		for end < len(s) && s[end] != '[' && s[end] != ']' {
			end++
		}
		if end >= len(s) || s[end] == '[' {
			sb.WriteByte('[')
			i = open + 1
			continue
		}

		expr := strings.TrimSpace(s[open+1 : end])
		if open > 0 && (s[open-1] == '!' || s[open-1] == ']') ||
			end+1 < len(s) && strings.ContainsRune("([:", rune(s[end+1])) ||
			strings.HasPrefix(expr, "$") && strings.HasSuffix(expr, "$") ||
			!LooksLikeLatex(expr) {
			sb.WriteString(s[open : end+1])
			i = end + 1
			continue
		}

		if strings.Contains(expr, "\n") {
			sb.WriteString("$$\n" + expr + "\n$$")
		} else {
			sb.WriteString("$" + expr + "$")
		}
		i = end + 1
	}
	sb.WriteString(s[i:])
	return sb.String()
}

// mapProse applies fn to the parts of s outside fenced code blocks and code
// spans.
func mapProse(s string, fn func(string) string) string {
	var out, prose strings.Builder
	flush := func() {
		if prose.Len() > 0 {
			out.WriteString(mapInlineProse(prose.String(), fn))
			prose.Reset()
		}
	}

	var fence string
	for _, line := range strings.SplitAfter(s, "\n") {
		trimmed := strings.TrimLeft(line, " ")
		indent := len(line) - len(trimmed)
		switch {
		case fence != "":
			out.WriteString(line)
			if indent < 4 && strings.HasPrefix(trimmed, fence) && strings.TrimSpace(strings.TrimLeft(trimmed, fence[:1])) == "" {
				fence = ""
			}
		case indent < 4 && (strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~")):
			flush()
			fence = fenceOf(trimmed)
			out.WriteString(line)
		default:
			prose.WriteString(line)
		}
	}
	flush()
	return out.String()
}

func fenceOf(line string) string {
	n := 0
	for n < len(line) && line[n] == line[0] {
		n++
	}
	return line[:n]
}

// mapInlineProse applies fn to s with backtick code spans held out.
func mapInlineProse(s string, fn func(string) string) string {
	var out strings.Builder
	start := 0
	for i := 0; i < len(s); {
		if s[i] != '`' {
			i++
			continue
		}
		run := 0
		for i+run < len(s) && s[i+run] == '`' {
			run++
		}
		ticks := s[i : i+run]
		closeAt := -1
		for j := i + run; j < len(s); {
			k := strings.Index(s[j:], ticks)
			if k < 0 {
				break
			}
			k += j
			n := 0
			for k+n < len(s) && s[k+n] == '`' {
				n++
			}
			if n == run {
				closeAt = k
				break
			}
			j = k + n
		}
		if closeAt < 0 {
			i += run
			continue
		}
		out.WriteString(fn(s[start:i]))
		out.WriteString(s[i : closeAt+run])
		i = closeAt + run
		start = i
	}
	out.WriteString(fn(s[start:]))
	return out.String()
}
