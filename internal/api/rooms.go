package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/navikt/zparty/internal/models"
	"github.com/navikt/zparty/internal/service"
)

// Request headers carrying the caller's identity and host capability
const (
	HeaderParticipantID = "X-Participant-ID"
	HeaderHostSecret    = "X-Host-Secret"
)

// RoomHandler handles HTTP requests for room management. Events are
// published after every successful mutation.
type RoomHandler struct {
	coordinator *service.Coordinator
	broadcaster service.Broadcaster
}

// NewRoomHandler creates a new room handler
func NewRoomHandler(coordinator *service.Coordinator, broadcaster service.Broadcaster) *RoomHandler {
	return &RoomHandler{
		coordinator: coordinator,
		broadcaster: broadcaster,
	}
}

// CreateRoomRequest is the request body for creating a room
type CreateRoomRequest struct {
	Name       string `json:"name"`
	IsLocked   *bool  `json:"isLocked,omitempty"`
	MaxMembers *int   `json:"maxMembers,omitempty"`
}

// JoinRoomRequest is the request body for joining a room
type JoinRoomRequest struct {
	Name string `json:"name"`
}

// TargetRequest names the member a host operation applies to
type TargetRequest struct {
	ParticipantID string `json:"participantId"`
}

// RoomResponse wraps a room as seen by the caller
type RoomResponse struct {
	ParticipantID string           `json:"participantId,omitempty"`
	Joined        *bool            `json:"joined,omitempty"`
	Room          *models.RoomView `json:"room"`
}

// ParticipantRoomsResponse lists a participant's rooms and presence
type ParticipantRoomsResponse struct {
	ParticipantID string            `json:"participantId"`
	Status        string            `json:"status"`
	Rooms         []models.RoomView `json:"rooms"`
}

func participantID(r *http.Request) string {
	return r.Header.Get(HeaderParticipantID)
}

func decodeBody(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// publicView renders the room without the host secret. Identity headers are
// self-declared, so no read or mutation reply derives the secret from them.
func publicView(room *models.Room) *models.RoomView {
	view := room.View("")
	return &view
}

// Create handles POST /api/rooms
func (h *RoomHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	room, err := h.coordinator.CreateRoom(r.Context(), service.CreateRoomInput{
		Participant: models.Participant{ID: participantID(r), Name: req.Name},
		Config:      models.RoomConfig{IsLocked: req.IsLocked, MaxMembers: req.MaxMembers},
	})
	if err != nil {
		writeError(w, err)
		return
	}

	// The creator is the one caller who is handed the secret
	host, _ := room.Host()
	view := room.View(host.ParticipantID)
	writeJSON(w, http.StatusCreated, RoomResponse{
		ParticipantID: host.ParticipantID,
		Room:          &view,
	})
}

// Get handles GET /api/rooms/{code}
func (h *RoomHandler) Get(w http.ResponseWriter, r *http.Request) {
	room, err := h.coordinator.GetRoom(r.Context(), mux.Vars(r)["code"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RoomResponse{Room: publicView(room)})
}

// Find handles GET /api/rooms/{code}/find
func (h *RoomHandler) Find(w http.ResponseWriter, r *http.Request) {
	result, err := h.coordinator.FindRoom(r.Context(), mux.Vars(r)["code"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Join handles POST /api/rooms/{code}/join
func (h *RoomHandler) Join(w http.ResponseWriter, r *http.Request) {
	var req JoinRoomRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	caller := participantID(r)
	room, joined, err := h.coordinator.JoinRoom(r.Context(), mux.Vars(r)["code"],
		models.Participant{ID: caller, Name: req.Name}, "")
	if err != nil {
		writeError(w, err)
		return
	}

	if joined {
		service.Publish(h.broadcaster, service.JoinEvents(room, caller)...)
	}
	writeJSON(w, http.StatusOK, RoomResponse{
		ParticipantID: caller,
		Joined:        &joined,
		Room:          publicView(room),
	})
}

// Leave handles POST /api/rooms/{code}/leave
func (h *RoomHandler) Leave(w http.ResponseWriter, r *http.Request) {
	caller := participantID(r)
	room, err := h.coordinator.LeaveRoom(r.Context(), mux.Vars(r)["code"], caller)
	if err != nil {
		writeError(w, err)
		return
	}

	service.Publish(h.broadcaster, service.ExitEvents(room, caller, models.ExitReasonLeft)...)
	w.WriteHeader(http.StatusNoContent)
}

// Kick handles POST /api/rooms/{code}/kick
func (h *RoomHandler) Kick(w http.ResponseWriter, r *http.Request) {
	var req TargetRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	room, err := h.coordinator.Kick(r.Context(), mux.Vars(r)["code"], r.Header.Get(HeaderHostSecret), req.ParticipantID)
	if err != nil {
		writeError(w, err)
		return
	}

	service.Publish(h.broadcaster, service.ExitEvents(room, req.ParticipantID, models.ExitReasonKicked)...)
	writeJSON(w, http.StatusOK, RoomResponse{Room: publicView(room)})
}

// TransferHost handles POST /api/rooms/{code}/host
func (h *RoomHandler) TransferHost(w http.ResponseWriter, r *http.Request) {
	var req TargetRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	room, err := h.coordinator.TransferHost(r.Context(), mux.Vars(r)["code"], r.Header.Get(HeaderHostSecret), req.ParticipantID)
	if err != nil {
		writeError(w, err)
		return
	}

	service.Publish(h.broadcaster, service.UpdateEvents(room, participantID(r))...)
	writeJSON(w, http.StatusOK, RoomResponse{Room: publicView(room)})
}

// ToggleLock handles POST /api/rooms/{code}/lock
func (h *RoomHandler) ToggleLock(w http.ResponseWriter, r *http.Request) {
	room, err := h.coordinator.ToggleLock(r.Context(), mux.Vars(r)["code"], r.Header.Get(HeaderHostSecret))
	if err != nil {
		writeError(w, err)
		return
	}

	service.Publish(h.broadcaster, service.UpdateEvents(room, participantID(r))...)
	writeJSON(w, http.StatusOK, RoomResponse{Room: publicView(room)})
}

// Update handles PATCH /api/rooms/{code}
func (h *RoomHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req models.RoomConfig
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	room, err := h.coordinator.UpdateRoom(r.Context(), mux.Vars(r)["code"], r.Header.Get(HeaderHostSecret), req)
	if err != nil {
		writeError(w, err)
		return
	}

	service.Publish(h.broadcaster, service.UpdateEvents(room, participantID(r))...)
	writeJSON(w, http.StatusOK, RoomResponse{Room: publicView(room)})
}

// ParticipantRooms handles GET /api/participants/{id}/rooms
func (h *RoomHandler) ParticipantRooms(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.coordinator.Validator().ValidateID("participant id", id); err != nil {
		writeError(w, err)
		return
	}

	rooms, err := h.coordinator.RoomsForParticipant(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	status, err := h.coordinator.PresenceOf(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := ParticipantRoomsResponse{
		ParticipantID: id,
		Status:        status.String(),
		Rooms:         make([]models.RoomView, 0, len(rooms)),
	}
	for _, room := range rooms {
		resp.Rooms = append(resp.Rooms, *publicView(room))
	}
	writeJSON(w, http.StatusOK, resp)
}
