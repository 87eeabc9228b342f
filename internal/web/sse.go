// Package web serves room events to browsers over server-sent events
package web

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/navikt/zparty/internal/models"
	"github.com/navikt/zparty/internal/utils"
	"github.com/r3labs/sse/v2"
	"github.com/rs/zerolog/log"
)

// streamParam is the query parameter naming the room code to follow
const streamParam = "stream"

// SSEBroadcaster publishes room events on one SSE stream per room code.
// Events are rendered for an anonymous viewer, so the host secret is never sent.
type SSEBroadcaster struct {
	server *sse.Server
}

// NewSSEBroadcaster creates a broadcaster. Streams are created on first
// subscribe and dropped when the last subscriber leaves.
func NewSSEBroadcaster() *SSEBroadcaster {
	server := sse.New()
	server.AutoStream = true
	server.AutoReplay = false
	server.EventTTL = time.Minute
	server.Headers = map[string]string{
		"Cache-Control":     "no-cache, no-transform",
		"X-Accel-Buffering": "no", // Disable nginx proxy buffering
	}

	return &SSEBroadcaster{server: server}
}

// ServeHTTP implements the http.Handler interface for SSE connections
func (b *SSEBroadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")

	// Handle CORS preflight
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	if !isEventStreamSupported(r) {
		http.Error(w, "This endpoint requires EventStream support", http.StatusNotAcceptable)
		return
	}

	code := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get(streamParam)))
	if code == "" {
		http.Error(w, "Missing stream parameter", http.StatusBadRequest)
		return
	}

	// The stream id must match the normalized room code used by Notify
	q := r.URL.Query()
	q.Set(streamParam, code)
	r.URL.RawQuery = q.Encode()

	log.Debug().
		Str("module", "web.sse").
		Str("stream", utils.SanitizeLogString(code)).
		Str("remote", r.RemoteAddr).
		Msg("SSE client connected")

	b.server.ServeHTTP(w, r)
}

// Notify implements service.Broadcaster
func (b *SSEBroadcaster) Notify(roomCode string, event models.RoomEvent) {
	if !b.server.StreamExists(roomCode) {
		return
	}

	data, err := json.Marshal(event.Render(""))
	if err != nil {
		log.Error().Err(err).Str("module", "web.sse").Str("room", roomCode).Msg("Failed to encode event")
		return
	}

	b.server.Publish(roomCode, &sse.Event{
		Event: []byte(event.Operation),
		Data:  data,
	})
}

// HasStream reports whether any client follows the room
func (b *SSEBroadcaster) HasStream(roomCode string) bool {
	return b.server.StreamExists(roomCode)
}

// Shutdown closes all streams and their subscribers
func (b *SSEBroadcaster) Shutdown() {
	b.server.Close()
}

// isEventStreamSupported checks if the client accepts event streams
func isEventStreamSupported(r *http.Request) bool {
	accepts := r.Header.Get("Accept")
	return accepts == "" ||
		strings.Contains(accepts, "*/*") ||
		strings.Contains(accepts, "text/event-stream")
}
