package ingest

import (
	"fmt"

	"atomicrag/internal/domain"
)

// ChunkStrategy turns a ParsedDocument into RawChunks. Each StrategyKey maps
// to one implementation; the registry lets an ingestion job select the
// strategy named in its payload without the handler knowing the concrete
// type.
type ChunkStrategy interface {
	BuildChunks(doc ParsedDocument) []RawChunk
}

// StrategyRegistry resolves a domain.StrategyKey to its ChunkStrategy.
type StrategyRegistry struct {
	strategies map[domain.StrategyKey]ChunkStrategy
}

// NewStrategyRegistry builds the registry covering every StrategyKey named
// in the ingestion contract: CONTENT does full contextual section chunking
// with late-chunking context prefixes, FAST_CONTENT trades that context
// enrichment for larger, cheaper windows, PRE_PROCESSED trusts the caller's
// paragraph boundaries verbatim, and RUBRIC keeps every leaf section as its
// own chunk so individual criteria never get merged together.
func NewStrategyRegistry() *StrategyRegistry {
	return &StrategyRegistry{strategies: map[domain.StrategyKey]ChunkStrategy{
		domain.StrategyContent:      contentStrategy{maxChars: 1800, overlap: 200, contextualize: true},
		domain.StrategyFastContent:  contentStrategy{maxChars: 4000, overlap: 0, contextualize: false},
		domain.StrategyPreProcessed: preProcessedStrategy{},
		domain.StrategyRubric:       rubricStrategy{},
	}}
}

// Resolve returns the strategy for key, falling back to CONTENT when key is
// empty so a missing payload field degrades gracefully; an unrecognized key
// is an error.
func (r *StrategyRegistry) Resolve(key domain.StrategyKey) (ChunkStrategy, error) {
	if key == "" {
		key = domain.StrategyContent
	}
	s, ok := r.strategies[key]
	if !ok {
		return nil, fmt.Errorf("ingest: unknown chunking strategy %q", key)
	}
	return s, nil
}

// contentStrategy implements CONTENT and FAST_CONTENT: section-aware
// chunking with optional sub-splitting of oversized sections and optional
// heading-path context prefixing.
type contentStrategy struct {
	maxChars      int
	overlap       int
	contextualize bool
}

func (s contentStrategy) BuildChunks(doc ParsedDocument) []RawChunk {
	var out []RawChunk
	for _, sec := range buildSections(doc) {
		role := ClassifyChunkRole(sec.path)
		var clauseID string
		if len(sec.path) > 0 {
			clauseID = clauseIDFromHeading(sec.path[len(sec.path)-1])
		}
		for _, window := range splitWindow(sec.text.String(), s.maxChars, s.overlap) {
			text := window
			if s.contextualize {
				text = contextualize(sec.path, window)
			}
			out = append(out, RawChunk{
				HeadingPath: sec.path,
				ClauseID:    clauseID,
				Role:        role,
				Text:        text,
			})
		}
	}
	return out
}

// preProcessedStrategy trusts the already-split blank-line-delimited blocks
// from the parser as final chunk boundaries, for callers that pre-chunked a
// document before upload (e.g. a CMS export that already knows its own
// section breaks).
type preProcessedStrategy struct{}

func (preProcessedStrategy) BuildChunks(doc ParsedDocument) []RawChunk {
	var out []RawChunk
	var path []string
	for _, b := range doc.Blocks {
		if b.IsHeading {
			path = pushHeading(path, b.Level, b.Text)
			continue
		}
		if b.Text == "" {
			continue
		}
		role := ClassifyChunkRole(path)
		var clauseID string
		if len(path) > 0 {
			clauseID = clauseIDFromHeading(path[len(path)-1])
		}
		out = append(out, RawChunk{HeadingPath: append([]string(nil), path...), ClauseID: clauseID, Role: role, Text: b.Text})
	}
	return out
}

// rubricStrategy keeps every leaf heading's content as its own chunk,
// without sub-splitting or merging, so a grading rubric's individual
// criteria remain independently retrievable and scorable.
type rubricStrategy struct{}

func (rubricStrategy) BuildChunks(doc ParsedDocument) []RawChunk {
	var out []RawChunk
	for _, sec := range buildSections(doc) {
		text := sec.text.String()
		if text == "" {
			continue
		}
		role := ClassifyChunkRole(sec.path)
		var clauseID string
		if len(sec.path) > 0 {
			clauseID = clauseIDFromHeading(sec.path[len(sec.path)-1])
		}
		out = append(out, RawChunk{HeadingPath: sec.path, ClauseID: clauseID, Role: role, Text: text})
	}
	return out
}
