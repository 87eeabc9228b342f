package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/navikt/zparty/internal/metrics"
	"github.com/navikt/zparty/internal/service"
)

// Dependencies holds everything the router serves
type Dependencies struct {
	Coordinator *service.Coordinator
	Broadcaster service.Broadcaster
	// Events serves the SSE stream, Sockets the websocket gateway
	Events  http.Handler
	Sockets http.Handler
	Metrics *metrics.Recorder
	Store   Pinger
	Backend string
}

// SetupRoutes configures the HTTP routes for the API
func SetupRoutes(deps Dependencies) *mux.Router {
	r := mux.NewRouter()

	// Health check endpoints for Kubernetes
	r.HandleFunc("/health/live", HealthLiveHandler).Methods(http.MethodGet)
	r.HandleFunc("/health/ready", NewHealthReadyHandler(deps.Backend, deps.Store)).Methods(http.MethodGet)

	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics.Handler()).Methods(http.MethodGet)
	}
	if deps.Events != nil {
		r.Handle("/events", deps.Events).Methods(http.MethodGet, http.MethodOptions)
	}
	if deps.Sockets != nil {
		r.Handle("/ws", deps.Sockets).Methods(http.MethodGet)
	}

	rooms := NewRoomHandler(deps.Coordinator, deps.Broadcaster)
	admin := NewAdminHandler(deps.Coordinator)

	v1 := r.PathPrefix("/api").Subrouter()
	v1.Use(corsMiddleware)

	v1.HandleFunc("/rooms", rooms.Create).Methods(http.MethodPost, http.MethodOptions)
	v1.HandleFunc("/rooms/{code}", rooms.Get).Methods(http.MethodGet, http.MethodOptions)
	v1.HandleFunc("/rooms/{code}", rooms.Update).Methods(http.MethodPatch, http.MethodOptions)
	v1.HandleFunc("/rooms/{code}/find", rooms.Find).Methods(http.MethodGet, http.MethodOptions)
	v1.HandleFunc("/rooms/{code}/join", rooms.Join).Methods(http.MethodPost, http.MethodOptions)
	v1.HandleFunc("/rooms/{code}/leave", rooms.Leave).Methods(http.MethodPost, http.MethodOptions)
	v1.HandleFunc("/rooms/{code}/kick", rooms.Kick).Methods(http.MethodPost, http.MethodOptions)
	v1.HandleFunc("/rooms/{code}/host", rooms.TransferHost).Methods(http.MethodPost, http.MethodOptions)
	v1.HandleFunc("/rooms/{code}/lock", rooms.ToggleLock).Methods(http.MethodPost, http.MethodOptions)
	v1.HandleFunc("/participants/{id}/rooms", rooms.ParticipantRooms).Methods(http.MethodGet, http.MethodOptions)

	v1.HandleFunc("/admin/stats", admin.Stats).Methods(http.MethodGet)
	v1.HandleFunc("/admin/rooms", admin.Rooms).Methods(http.MethodGet)

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+HeaderParticipantID+", "+HeaderHostSecret)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
