// Package api provides the HTTP handlers for the zparty API
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// readyTimeout bounds a readiness check against the storage backend
const readyTimeout = 2 * time.Second

// HealthResponse represents the response for health check endpoints
type HealthResponse struct {
	Status  string `json:"status"`
	Backend string `json:"backend,omitempty"`
}

// Pinger is implemented by the storage backend
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthLiveHandler handles Kubernetes liveness probe requests
func HealthLiveHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "UP"})
}

// NewHealthReadyHandler handles Kubernetes readiness probe requests. The
// service is ready when the storage backend answers.
func NewHealthReadyHandler(backend string, store Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()

		if store != nil {
			if err := store.Ping(ctx); err != nil {
				log.Warn().Err(err).Str("module", "api").Str("backend", backend).Msg("Readiness check failed")
				writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "DOWN", Backend: backend})
				return
			}
		}

		writeJSON(w, http.StatusOK, HealthResponse{Status: "UP", Backend: backend})
	}
}
