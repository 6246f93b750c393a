// Package ingest implements the document ingestion pipeline (§4.4): parsing
// raw bytes into structured text, classifying chunk roles and authority
// level, chunking along heading boundaries, embedding, and persisting the
// resulting ContentChunk rows. Grounded on the teacher's rag/ingest package
// shape (preprocess -> index_vector/index_search/index_graph stages chained
// behind one api.go entrypoint) generalized to the StrategyKey-selected
// pipeline this system's ingestion state machine names instead.
package ingest

import (
	"fmt"
	"strings"
)

// ParsedBlock is one structural unit recovered from a raw document: either a
// heading line or a body paragraph, in document order.
type ParsedBlock struct {
	IsHeading bool
	Level     int // 1-6 for headings, 0 otherwise
	Text      string
}

// ParsedDocument is the normalized output of a DocumentParser, independent
// of the source file format.
type ParsedDocument struct {
	Blocks []ParsedBlock
}

// DocumentParser turns raw uploaded bytes into a ParsedDocument. Concrete
// implementations are selected by file extension; every strategy in the
// registry consumes the same ParsedDocument shape.
type DocumentParser interface {
	Parse(filename string, raw []byte) (ParsedDocument, error)
}

// MarkdownParser treats '#'-prefixed lines as headings and everything else
// as body text, splitting body text on blank lines into paragraphs. It is
// also the fallback for plain text, which simply has no headings.
type MarkdownParser struct{}

func (MarkdownParser) Parse(_ string, raw []byte) (ParsedDocument, error) {
	lines := strings.Split(string(raw), "\n")
	var blocks []ParsedBlock
	var para strings.Builder

	flush := func() {
		text := strings.TrimSpace(para.String())
		if text != "" {
			blocks = append(blocks, ParsedBlock{Text: text})
		}
		para.Reset()
	}

	for _, line := range lines {
		trimmed := strings.TrimRight(line, "\r")
		if heading, level, ok := matchHeading(trimmed); ok {
			flush()
			blocks = append(blocks, ParsedBlock{IsHeading: true, Level: level, Text: heading})
			continue
		}
		if strings.TrimSpace(trimmed) == "" {
			flush()
			continue
		}
		if para.Len() > 0 {
			para.WriteByte(' ')
		}
		para.WriteString(strings.TrimSpace(trimmed))
	}
	flush()
	return ParsedDocument{Blocks: blocks}, nil
}

// matchHeading recognizes ATX-style markdown headings ("## Title") and the
// numbered-clause headings common in regulatory standards ("8.2.1 Title").
func matchHeading(line string) (text string, level int, ok bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return "", 0, false
	}
	if strings.HasPrefix(trimmed, "#") {
		level = 0
		for level < len(trimmed) && trimmed[level] == '#' {
			level++
		}
		if level == 0 || level > 6 {
			return "", 0, false
		}
		return strings.TrimSpace(trimmed[level:]), level, true
	}
	if clause, rest, ok := splitClauseNumber(trimmed); ok && rest != "" {
		return fmt.Sprintf("%s %s", clause, rest), clauseDepth(clause), true
	}
	return "", 0, false
}

// splitClauseNumber splits a line like "8.2.1 Corrective action" into its
// clause number and title, requiring the title to start with an uppercase
// letter so body prose beginning with a version number isn't mistaken for a
// heading.
func splitClauseNumber(line string) (clause, rest string, ok bool) {
	i := 0
	for i < len(line) && (line[i] >= '0' && line[i] <= '9' || line[i] == '.') {
		i++
	}
	if i == 0 || i >= len(line) || line[i-1] == '.' {
		return "", "", false
	}
	clause = line[:i]
	if !strings.Contains(clause, ".") && len(clause) > 2 {
		return "", "", false
	}
	rest = strings.TrimSpace(line[i:])
	if rest == "" || rest[0] < 'A' || rest[0] > 'Z' {
		return "", "", false
	}
	return clause, rest, true
}

func clauseDepth(clause string) int {
	return strings.Count(clause, ".") + 1
}
