package ingest

import (
	"testing"

	"atomicrag/internal/domain"
)

func TestClassifyChunkRole(t *testing.T) {
	cases := []struct {
		path []string
		want domain.ChunkRole
	}{
		{nil, domain.ChunkRoleFrontmatter},
		{[]string{"Table of Contents"}, domain.ChunkRoleTOC},
		{[]string{"Scope", "Revision History"}, domain.ChunkRoleFrontmatter},
		{[]string{"8.2.1 Corrective action"}, domain.ChunkRoleNormativeBody},
	}
	for _, tc := range cases {
		if got := ClassifyChunkRole(tc.path); got != tc.want {
			t.Errorf("ClassifyChunkRole(%v) = %q, want %q", tc.path, got, tc.want)
		}
	}
}

func TestClauseIDFromHeading(t *testing.T) {
	if got := clauseIDFromHeading("8.2.1 Corrective action"); got != "8.2.1" {
		t.Errorf("got %q, want 8.2.1", got)
	}
	if got := clauseIDFromHeading("Scope"); got != "" {
		t.Errorf("got %q, want empty", got)
	}
}
