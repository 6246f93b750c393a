package ingest

import (
	"strings"

	"atomicrag/internal/domain"
)

var tocHeadingMarkers = []string{"table of contents", "contents", "index"}

var frontmatterHeadingMarkers = []string{
	"document control", "revision history", "approval", "front matter",
	"change log", "version history", "distribution list",
}

// ClassifyChunkRole assigns a ChunkRole from the nearest enclosing heading
// text. Content with no enclosing heading (a document's opening paragraphs)
// is treated as frontmatter, matching the common case of a preamble before
// the first real section. Only normative_body chunks are retrieval-eligible
// downstream.
func ClassifyChunkRole(headingPath []string) domain.ChunkRole {
	if len(headingPath) == 0 {
		return domain.ChunkRoleFrontmatter
	}
	nearest := strings.ToLower(headingPath[len(headingPath)-1])
	for _, m := range tocHeadingMarkers {
		if strings.Contains(nearest, m) {
			return domain.ChunkRoleTOC
		}
	}
	for _, m := range frontmatterHeadingMarkers {
		if strings.Contains(nearest, m) {
			return domain.ChunkRoleFrontmatter
		}
	}
	return domain.ChunkRoleNormativeBody
}

// clauseIDFromHeading extracts a leading numeric clause designator such as
// "8.2.1" from a heading like "8.2.1 Corrective action", returning "" when
// the heading carries no clause number.
func clauseIDFromHeading(heading string) string {
	fields := strings.Fields(heading)
	if len(fields) == 0 {
		return ""
	}
	head := fields[0]
	for _, r := range head {
		if (r < '0' || r > '9') && r != '.' {
			return ""
		}
	}
	return strings.Trim(head, ".")
}
