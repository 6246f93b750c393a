package ingest

import (
	"strings"

	"atomicrag/internal/domain"
)

// RawChunk is an intermediate chunk produced by a ChunkStrategy, before
// embedding and before the surrounding SourceDocument/tenant identifiers are
// attached.
type RawChunk struct {
	HeadingPath []string
	ClauseID    string
	Role        domain.ChunkRole
	Text        string
}

// section is one heading-delimited run of body text accumulated while
// walking a ParsedDocument.
type section struct {
	path []string
	text strings.Builder
}

// buildSections walks the parsed blocks, tracking a heading stack, and
// returns one section per contiguous run of body text under its nearest
// headings. A nil heading stack means body text appeared before any
// heading (the document's preamble).
func buildSections(doc ParsedDocument) []section {
	var sections []section
	var stack []string
	var current *section

	openSection := func() {
		sections = append(sections, section{path: append([]string(nil), stack...)})
		current = &sections[len(sections)-1]
	}

	for _, b := range doc.Blocks {
		if b.IsHeading {
			stack = pushHeading(stack, b.Level, b.Text)
			openSection()
			continue
		}
		if current == nil {
			openSection()
		}
		if current.text.Len() > 0 {
			current.text.WriteString("\n\n")
		}
		current.text.WriteString(b.Text)
	}
	return sections
}

// pushHeading maintains a stack of heading titles keyed by nesting level,
// truncating deeper levels when a shallower heading appears.
func pushHeading(stack []string, level int, title string) []string {
	if level <= 0 {
		level = len(stack) + 1
	}
	if level > len(stack)+1 {
		level = len(stack) + 1
	}
	stack = stack[:minInt(level-1, len(stack))]
	return append(stack, title)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// splitWindow breaks text into approximately maxChars-sized windows on
// sentence boundaries where possible, used both for late-chunking fallback
// (no heading structure at all) and for sections that exceed a single
// chunk's budget.
func splitWindow(text string, maxChars, overlap int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= maxChars {
		return []string{text}
	}
	var windows []string
	start := 0
	for start < len(text) {
		end := start + maxChars
		if end >= len(text) {
			windows = append(windows, strings.TrimSpace(text[start:]))
			break
		}
		cut := strings.LastIndexAny(text[start:end], ".!?\n")
		if cut <= 0 {
			cut = maxChars
		} else {
			cut++
		}
		windows = append(windows, strings.TrimSpace(text[start:start+cut]))
		next := start + cut - overlap
		if next <= start {
			next = start + cut
		}
		start = next
	}
	return windows
}

// contextualize prefixes a sub-chunk's text with its heading path, the
// "late chunking" fallback for section-chunking strategies: each embedded
// window carries the section context a pure fixed-window split would lose.
func contextualize(headingPath []string, text string) string {
	if len(headingPath) == 0 {
		return text
	}
	return strings.Join(headingPath, " > ") + "\n\n" + text
}
