package ingest

import (
	"testing"

	"atomicrag/internal/domain"
)

func TestInferAuthorityLevelFromFilename(t *testing.T) {
	cases := []struct {
		filename string
		want     domain.AuthorityLevel
	}{
		{"2024-Policy-Handbook.md", domain.AuthorityPolicy},
		{"company-constitution.md", domain.AuthorityConstitution},
		{"sop-incident-response.md", domain.AuthorityAdministrative},
		{"faq-onboarding.md", domain.AuthoritySoftKnowledge},
		{"appendix-b-glossary.md", domain.AuthoritySupplementary},
		{"readme.md", domain.AuthorityCanonical},
	}
	for _, tc := range cases {
		got := InferAuthorityLevel(tc.filename, nil)
		if got != tc.want {
			t.Errorf("InferAuthorityLevel(%q) = %q, want %q", tc.filename, got, tc.want)
		}
	}
}

func TestInferAuthorityLevelMetadataOverridesFilename(t *testing.T) {
	got := InferAuthorityLevel("readme.md", map[string]any{"doc_type": "mandatory control"})
	if got != domain.AuthorityHardConstraint {
		t.Errorf("got %q, want hard_constraint", got)
	}
}
