package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"atomicrag/internal/domain"
	"atomicrag/internal/tenant"
)

type chatRequestDTO struct {
	Query  string         `json:"query"`
	K      int            `json:"k"`
	Filter scopeFilterDTO `json:"filter"`
}

type citation struct {
	ChunkID        string `json:"chunk_id"`
	SourceID       string `json:"source_id"`
	SourceStandard string `json:"source_standard,omitempty"`
	ClauseID       string `json:"clause_id,omitempty"`
}

type chatResponse struct {
	InteractionID string     `json:"interaction_id"`
	Answer        string     `json:"answer"`
	Citations     []citation `json:"citations"`
	Mode          string     `json:"mode"`
	ScopeWarnings []string   `json:"scope_warnings,omitempty"`
}

// handleChatCompletions implements POST /chat/completions: run hybrid
// retrieval, ground a chat completion in the returned chunks, and cite every
// chunk included in the prompt.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, err := tenant.RequireTenant(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req chatRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if s.Chat == nil {
		writeError(w, r, domain.ErrInternal.WithDetails(map[string]any{"reason": "no chat provider configured"}))
		return
	}

	normalized, ok := s.normalizeOrFail(w, r, req.Filter)
	if !ok {
		return
	}
	k := req.K
	if k <= 0 {
		k = 8
	}
	domainReq := domain.RetrieveRequest{TenantID: tenantID, Query: req.Query, K: k, Filter: normalized}
	items, trace, err := s.Retrieval.RunHybrid(ctx, domainReq, false, false)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var sb strings.Builder
	citations := make([]citation, 0, len(items))
	for i, it := range items {
		fmt.Fprintf(&sb, "[%d] (%s) %s\n\n", i+1, it.ID, it.Content)
		citations = append(citations, citation{
			ChunkID:        it.ID,
			SourceID:       it.SourceID,
			SourceStandard: it.SourceStandard,
			ClauseID:       it.ClauseID,
		})
	}

	messages := []domain.ChatMessage{
		{Role: "system", Content: "Answer strictly from the provided context. Cite sources by their bracketed index. If the context does not contain the answer, say so."},
		{Role: "user", Content: fmt.Sprintf("Context:\n%s\nQuestion: %s", sb.String(), req.Query)},
	}
	completion, err := s.Chat.Complete(ctx, messages)
	if err != nil {
		writeError(w, r, domain.ErrBackendContractBreach.WithCause(err))
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		InteractionID: uuid.NewString(),
		Answer:        completion.Content,
		Citations:     citations,
		Mode:          "hybrid",
		ScopeWarnings: trace.Warnings,
	})
}
