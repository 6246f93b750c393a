package httpapi

import (
	"net/http"

	"atomicrag/internal/domain"
	"atomicrag/internal/tenant"
)

// handleDeleteCollection implements DELETE /collections/{id}. Cascade
// deletion of chunks/graph/raptor rows belongs to the repository
// implementation behind SourceRepository.DeleteCollection; the handler's job
// is tenant scoping and existence checking.
func (s *Server) handleDeleteCollection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, err := tenant.RequireTenant(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id := r.PathValue("id")
	if _, ok, err := s.Sources.GetCollection(ctx, tenantID, id); err != nil {
		writeError(w, r, err)
		return
	} else if !ok {
		writeError(w, r, domain.ErrCollectionNotFound)
		return
	}
	if err := s.Sources.DeleteCollection(ctx, tenantID, id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
