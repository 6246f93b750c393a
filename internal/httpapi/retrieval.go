package httpapi

import (
	"net/http"

	"atomicrag/internal/domain"
	"atomicrag/internal/tenant"
)

type scopeFilterDTO struct {
	Metadata        map[string]string `json:"metadata,omitempty"`
	SourceStandard  string            `json:"source_standard,omitempty"`
	SourceStandards []string          `json:"source_standards,omitempty"`
	CollectionID    string            `json:"collection_id,omitempty"`
	TimeRangeField  string            `json:"time_range_field,omitempty"`
	TimeRangeFrom   string            `json:"time_range_from,omitempty"`
	TimeRangeTo     string            `json:"time_range_to,omitempty"`
}

func (d scopeFilterDTO) toRaw() tenant.RawScopeFilter {
	return tenant.RawScopeFilter{
		Metadata:        d.Metadata,
		TimeRangeField:  d.TimeRangeField,
		TimeRangeFrom:   d.TimeRangeFrom,
		TimeRangeTo:     d.TimeRangeTo,
		SourceStandard:  d.SourceStandard,
		SourceStandards: d.SourceStandards,
		CollectionID:    d.CollectionID,
	}
}

type retrieveRequestDTO struct {
	Query              string         `json:"query"`
	SubQueries         []string       `json:"sub_queries,omitempty"`
	K                  int            `json:"k"`
	Filter             scopeFilterDTO `json:"filter"`
	SkipPlanner        bool           `json:"skip_planner,omitempty"`
	SkipExternalRerank bool           `json:"skip_external_rerank,omitempty"`
	AgentRole          string         `json:"agent_role,omitempty"`
	TaskType           string         `json:"task_type,omitempty"`
}

func (d retrieveRequestDTO) toDomain(tenantID string, normalized domain.ScopeFilter) domain.RetrieveRequest {
	if d.K <= 0 {
		d.K = 20
	}
	return domain.RetrieveRequest{
		TenantID:           tenantID,
		Query:              d.Query,
		SubQueries:         d.SubQueries,
		K:                  d.K,
		Filter:             normalized,
		SkipPlanner:        d.SkipPlanner,
		SkipExternalRerank: d.SkipExternalRerank,
		AgentRole:          d.AgentRole,
		TaskType:           d.TaskType,
	}
}

func (s *Server) normalizeOrFail(w http.ResponseWriter, r *http.Request, filter scopeFilterDTO) (domain.ScopeFilter, bool) {
	normalized, violations := tenant.NormalizeScope(filter.toRaw())
	if len(violations) > 0 {
		writeError(w, r, domain.ErrScopeValidationFailed.WithDetails(map[string]any{
			"violations": violations,
		}))
		return domain.ScopeFilter{}, false
	}
	return normalized, true
}

// handleValidateScope implements POST /retrieval/validate-scope.
func (s *Server) handleValidateScope(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, err := tenant.RequireTenant(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req retrieveRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	result := s.Retrieval.ValidateScope(req.toDomain(tenantID, domain.ScopeFilter{}), req.Filter.toRaw())
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":            result.Valid,
		"normalized_scope": result.NormalizedScope,
		"violations":       result.Violations,
		"warnings":         result.Warnings,
		"query_scope":      result.QueryScope,
	})
}

// handleHybrid implements POST /retrieval/hybrid.
func (s *Server) handleHybrid(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, err := tenant.RequireTenant(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req retrieveRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	normalized, ok := s.normalizeOrFail(w, r, req.Filter)
	if !ok {
		return
	}
	domainReq := req.toDomain(tenantID, normalized)
	items, trace, err := s.Retrieval.RunHybrid(ctx, domainReq, req.SkipPlanner, req.SkipExternalRerank)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "trace": trace})
}

// handleMultiQuery implements POST /retrieval/multi-query.
func (s *Server) handleMultiQuery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, err := tenant.RequireTenant(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req retrieveRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	normalized, ok := s.normalizeOrFail(w, r, req.Filter)
	if !ok {
		return
	}
	domainReq := req.toDomain(tenantID, normalized)
	items, statuses, trace, err := s.Retrieval.RunMultiQuery(ctx, domainReq)
	if err != nil {
		writeError(w, r, err)
		return
	}
	trace.SubQueries = statuses
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "trace": trace})
}

type explainRequestDTO struct {
	retrieveRequestDTO
	TopN int `json:"top_n"`
}

// handleExplain implements POST /retrieval/explain.
func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, err := tenant.RequireTenant(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req explainRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	normalized, ok := s.normalizeOrFail(w, r, req.Filter)
	if !ok {
		return
	}
	domainReq := req.toDomain(tenantID, normalized)
	topN := req.TopN
	if topN <= 0 {
		topN = 10
	}
	items, trace, err := s.Retrieval.RunExplain(ctx, domainReq, topN)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "trace": trace})
}
