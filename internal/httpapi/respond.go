package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"atomicrag/internal/domain"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("httpapi: failed to encode response")
	}
}

// errorEnvelope is the canonical shape of every non-2xx response (§6).
type errorEnvelope struct {
	Error struct {
		Code      string         `json:"code"`
		Message   string         `json:"message"`
		Details   map[string]any `json:"details,omitempty"`
		RequestID string         `json:"request_id"`
	} `json:"error"`
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	de := domain.AsDomainError(err)
	env := errorEnvelope{}
	env.Error.Code = de.Code
	env.Error.Message = de.Message
	env.Error.Details = de.Details
	env.Error.RequestID = requestIDFromCtx(r.Context())
	if de.Status >= 500 {
		log.Error().Err(err).Str("code", de.Code).Msg("httpapi: internal error")
	}
	writeJSON(w, de.Status, env)
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		return domain.ErrFrontendContractBreach.WithCause(err)
	}
	return nil
}
