package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/navikt/zparty/internal/codegen"
	"github.com/navikt/zparty/internal/models"
	"github.com/rs/zerolog/log"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Str("module", "api").Msg("Failed to encode response")
	}
}

// statusFor maps an error category to an HTTP status
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, models.ErrUnauthorized):
		return http.StatusForbidden, "unauthorized"
	case errors.Is(err, models.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, codegen.ErrGenerationExhausted):
		return http.StatusServiceUnavailable, "exhausted"
	case errors.Is(err, models.ErrPredicateFailed):
		return http.StatusConflict, "predicate_failed"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// writeError writes err as JSON. Internal errors are logged and not exposed.
func writeError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("module", "api").Msg("Request failed")
		message = "internal server error"
	}
	writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: message, Code: "invalid_input"})
}
