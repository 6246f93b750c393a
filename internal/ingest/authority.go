package ingest

import (
	"path/filepath"
	"strings"

	"atomicrag/internal/domain"
)

// authorityPattern pairs a case-insensitive substring match against a
// document's filename or declared doc_type metadata with the authority
// level it implies.
type authorityPattern struct {
	substr string
	level  domain.AuthorityLevel
}

// authorityPatterns is ordered most-specific first; the first match wins.
var authorityPatterns = []authorityPattern{
	{"constitution", domain.AuthorityConstitution},
	{"charter", domain.AuthorityConstitution},
	{"hard-constraint", domain.AuthorityHardConstraint},
	{"hard_constraint", domain.AuthorityHardConstraint},
	{"mandatory", domain.AuthorityHardConstraint},
	{"policy", domain.AuthorityPolicy},
	{"standard", domain.AuthorityPolicy},
	{"procedure", domain.AuthorityAdministrative},
	{"sop", domain.AuthorityAdministrative},
	{"form", domain.AuthorityAdministrative},
	{"template", domain.AuthorityAdministrative},
	{"faq", domain.AuthoritySoftKnowledge},
	{"notes", domain.AuthoritySoftKnowledge},
	{"draft", domain.AuthoritySoftKnowledge},
	{"appendix", domain.AuthoritySupplementary},
	{"reference", domain.AuthoritySupplementary},
	{"supplementary", domain.AuthoritySupplementary},
}

// InferAuthorityLevel classifies a document's trust weight from its path and
// declared type, per the requirement that AuthorityLevel is derived at
// ingestion time rather than left at the storage-layer default. doc_type is
// read from metadata when present and takes precedence over the filename,
// since an uploader-supplied classification is more reliable than a
// filename guess.
func InferAuthorityLevel(filename string, metadata map[string]any) domain.AuthorityLevel {
	if docType, ok := metadata["doc_type"].(string); ok && docType != "" {
		if level, ok := matchAuthority(docType); ok {
			return level
		}
	}
	base := strings.ToLower(filepath.Base(filename))
	if level, ok := matchAuthority(base); ok {
		return level
	}
	return domain.AuthorityCanonical
}

func matchAuthority(haystack string) (domain.AuthorityLevel, bool) {
	haystack = strings.ToLower(haystack)
	for _, p := range authorityPatterns {
		if strings.Contains(haystack, p.substr) {
			return p.level, true
		}
	}
	return "", false
}
