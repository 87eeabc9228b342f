// Package ws serves the room protocol over websockets
package ws

import (
	"encoding/json"
	"sync"

	"github.com/navikt/zparty/internal/models"
	"github.com/rs/zerolog/log"
)

// sendBuffer is the number of frames queued per socket before frames are dropped
const sendBuffer = 256

// Client is one websocket connection. Its participant is fixed by the first
// message that names one.
type Client struct {
	id            string
	participantID string
	send          chan []byte
	closed        bool
}

// ID returns the connection id
func (c *Client) ID() string { return c.id }

// Hub tracks open sockets and the rooms they follow. It implements
// service.Broadcaster; each event is rendered for the participant behind
// each socket, so only the host's sockets see the secret.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	rooms   map[string]map[string]*Client // room code -> connection id -> client
}

// NewHub creates a new hub
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		rooms:   make(map[string]map[string]*Client),
	}
}

// Register adds a socket
func (h *Hub) Register(id string) *Client {
	c := &Client{
		id:   id,
		send: make(chan []byte, sendBuffer),
	}

	h.mu.Lock()
	h.clients[id] = c
	h.mu.Unlock()

	return c
}

// Unregister removes the socket from every room and closes its send queue
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c.closed {
		return
	}
	for code, subscribers := range h.rooms {
		delete(subscribers, c.id)
		if len(subscribers) == 0 {
			delete(h.rooms, code)
		}
	}
	delete(h.clients, c.id)
	c.closed = true
	close(c.send)
}

// Identify binds the socket to a participant
func (h *Hub) Identify(c *Client, participantID string) {
	h.mu.Lock()
	c.participantID = participantID
	h.mu.Unlock()
}

// ParticipantOf returns the participant bound to the socket, if any
func (h *Hub) ParticipantOf(c *Client) string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return c.participantID
}

// Subscribe makes the socket receive events of a room
func (h *Hub) Subscribe(c *Client, roomCode string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c.closed {
		return
	}
	if h.rooms[roomCode] == nil {
		h.rooms[roomCode] = make(map[string]*Client)
	}
	h.rooms[roomCode][c.id] = c
}

// Subscribers returns the number of sockets following a room
func (h *Hub) Subscribers(roomCode string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomCode])
}

// Send queues a frame for one socket. Frames to a full or closed socket are dropped.
func (h *Hub) Send(c *Client, frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		log.Error().Err(err).Str("module", "ws.hub").Msg("Failed to encode frame")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	h.trySend(c, data)
}

// trySend requires h.mu to be held
func (h *Hub) trySend(c *Client, data []byte) {
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		log.Warn().Str("module", "ws.hub").Str("connection", c.id).Msg("Send buffer full, dropping frame")
	}
}

// Notify implements service.Broadcaster. Each socket sees the room as the
// member whose seat it holds, so the host secret only reaches the host's
// current connection. A member who exits still receives the exit event and
// is unsubscribed afterwards; a closed room drops all of its subscribers.
func (h *Hub) Notify(roomCode string, event models.RoomEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subscribers := h.rooms[roomCode]
	if len(subscribers) == 0 {
		return
	}

	rendered := make(map[string][]byte)
	for id, c := range subscribers {
		viewer := ""
		if event.Room != nil {
			viewer = event.Room.SeatOf(c.id)
		}
		data, ok := rendered[viewer]
		if !ok {
			var err error
			data, err = json.Marshal(Frame{Type: TypeEvent, Payload: event.Render(viewer)})
			if err != nil {
				log.Error().Err(err).Str("module", "ws.hub").Str("room", roomCode).Msg("Failed to encode event")
				return
			}
			rendered[viewer] = data
		}
		h.trySend(c, data)

		if event.Operation != models.EventRoomExited {
			continue
		}
		if event.Reason == models.ExitReasonRoomClosed || c.participantID == event.ParticipantID {
			delete(subscribers, id)
		}
	}

	if len(subscribers) == 0 {
		delete(h.rooms, roomCode)
	}
}
