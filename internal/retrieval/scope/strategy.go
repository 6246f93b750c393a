// Package scope implements the clause-aware scope strategies folded in from
// the original CIRE-RAG scope strategy modules (SPEC_FULL §12): a
// standards-agnostic default, and an ISO-clause-aware strategy used whenever
// a request's normalized filter carries source_standard(s).
package scope

import (
	"regexp"
	"strings"

	"atomicrag/internal/domain"
)

// Strategy resolves query-level scope hints (clause weighting, clause
// references found in free text) for a single request.
type Strategy interface {
	// ClauseHint reports whether query contains a clause reference this
	// strategy recognizes, and if so the clause id extracted from it.
	ClauseHint(query string) (clauseID string, matched bool)
	// Weights returns the vector/FTS weight pair to use, overridden when a
	// clause hint matched (§4.7 step 3).
	Weights(defaultVector, defaultFTS float64, clauseMatched bool) (vector, fts float64)
}

// clauseWeightOverride boosts lexical matching when a query is anchored to a
// specific clause id, since clause numbers rarely carry useful embedding
// signal on their own.
const (
	clauseVectorWeight = 0.35
	clauseFTSWeight    = 0.65
)

// agnostic is the standards-agnostic default: no clause recognition.
type agnostic struct{}

func (agnostic) ClauseHint(string) (string, bool) { return "", false }

func (agnostic) Weights(defaultVector, defaultFTS float64, _ bool) (float64, float64) {
	return defaultVector, defaultFTS
}

// isoClause recognizes dotted ISO clause identifiers, e.g. "8.5.1".
type isoClause struct{}

var isoClauseRe = regexp.MustCompile(`\b(\d{1,2}(?:\.\d{1,2}){1,3})\b`)

func (isoClause) ClauseHint(query string) (string, bool) {
	m := isoClauseRe.FindStringSubmatch(query)
	if m == nil {
		return "", false
	}
	return m[1], true
}

func (isoClause) Weights(defaultVector, defaultFTS float64, clauseMatched bool) (float64, float64) {
	if clauseMatched {
		return clauseVectorWeight, clauseFTSWeight
	}
	return defaultVector, defaultFTS
}

// For selects the strategy appropriate for a normalized scope filter: ISO
// clause-awareness activates whenever any source standard was requested.
func For(filter domain.ScopeFilter) Strategy {
	if len(filter.SourceStandards) > 0 {
		return isoClause{}
	}
	return agnostic{}
}

// CanonicalizeSubQuery derives a per-sub-query scope used by the plan
// executor (§4.8). It returns parent unchanged, so standards carry over; no
// clause hint is derived from the sub-query text, whatever number of clause
// references it contains, since domain.ScopeFilter has no clause field.
func CanonicalizeSubQuery(parent domain.ScopeFilter, subQueryText string) domain.ScopeFilter {
	out := parent
	matches := isoClauseRe.FindAllString(subQueryText, -1)
	if len(matches) != 1 {
		return out
	}
	return out
}

// ScopeClauseKey builds the canonical dedup key used by multi-query RRF:
// scope_clause::{standard}::{clause_id}.
func ScopeClauseKey(standard, clauseID string) string {
	standard = strings.ToLower(strings.TrimSpace(standard))
	clauseID = strings.TrimSpace(clauseID)
	return "scope_clause::" + standard + "::" + clauseID
}
