package domain

import (
	"context"
	"time"
)

// Embedder turns text into fixed-dimension vectors under a single named
// profile. Implementations wrap a concrete provider (OpenAI, Gemini, ...).
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Profile() EmbeddingProfile
}

// RerankCandidate is the minimal shape an external semantic reranker needs:
// an identity and the text to score. The query is passed to Rerank
// separately.
type RerankCandidate struct {
	ID   string
	Text string
}

// RerankResult pairs a candidate ID with the reranker's relevance score.
type RerankResult struct {
	ID    string
	Score float64
}

// Reranker is the external semantic rerank port (§4.9 layer 3); modes
// jina/cohere/hybrid are distinct implementations behind this interface.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []RerankCandidate) ([]RerankResult, error)
}

// ChatMessage is a single turn in a grounded chat request.
type ChatMessage struct {
	Role    string
	Content string
}

// ChatCompletion is the Chat port's response to a completion request.
type ChatCompletion struct {
	Content string
}

// Chat is the grounded-completion port backing POST /chat/completions and
// the structured-output calls used by graph extraction and RAPTOR summaries.
type Chat interface {
	Complete(ctx context.Context, messages []ChatMessage) (ChatCompletion, error)
	// CompleteJSON asks the provider for strict structured output matching
	// schema and unmarshals the result into out.
	CompleteJSON(ctx context.Context, messages []ChatMessage, schema map[string]any, out any) error
}

// Clock is injected so job-queue lease math and TTL checks are testable.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by the wall clock.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time { return time.Now() }
