package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"atomicrag/internal/domain"
	"atomicrag/internal/observability"
)

// HTTPReranker implements domain.Reranker over a REST rerank endpoint.
// Neither Jina nor Cohere ship an official Go SDK in the curated dependency
// set, so both "jina" and "cohere" RerankMode values are served by this one
// client against their (compatible) {query, documents} -> {results:
// [{index, relevance_score}]} response shape, distinguished only by
// BaseURL/APIKey/Model.
type HTTPReranker struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
}

func NewHTTPReranker(provider, baseURL, apiKey, model string) *HTTPReranker {
	if baseURL == "" {
		switch provider {
		case "cohere":
			baseURL = "https://api.cohere.com/v2/rerank"
		default:
			baseURL = "https://api.jina.ai/v1/rerank"
		}
	}
	if model == "" {
		switch provider {
		case "cohere":
			model = "rerank-v3.5"
		default:
			model = "jina-reranker-v2-base-multilingual"
		}
	}
	client := observability.WithHeaders(observability.NewHTTPClient(nil), map[string]string{
		"Authorization": "Bearer " + apiKey,
		"Content-Type":  "application/json",
	})
	return &HTTPReranker{client: client, baseURL: baseURL, apiKey: apiKey, model: model}
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

func (r *HTTPReranker) Rerank(ctx context.Context, query string, candidates []domain.RerankCandidate) ([]domain.RerankResult, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	docs := make([]string, len(candidates))
	for i, c := range candidates {
		docs[i] = c.Text
	}
	body, err := json.Marshal(rerankRequest{Model: r.model, Query: query, Documents: docs})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("rerank request: status %s", resp.Status)
	}
	var parsed rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}
	out := make([]domain.RerankResult, 0, len(parsed.Results))
	for _, res := range parsed.Results {
		if res.Index < 0 || res.Index >= len(candidates) {
			continue
		}
		out = append(out, domain.RerankResult{ID: candidates[res.Index].ID, Score: res.RelevanceScore})
	}
	return out, nil
}
