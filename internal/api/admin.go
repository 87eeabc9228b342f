package api

import (
	"net/http"

	"github.com/navikt/zparty/internal/models"
	"github.com/navikt/zparty/internal/service"
)

// RoomStats summarizes all stored rooms
type RoomStats struct {
	TotalRooms       int `json:"totalRooms"`
	CreatedRooms     int `json:"createdRooms"`
	ActiveRooms      int `json:"activeRooms"`
	LockedRooms      int `json:"lockedRooms"`
	FullRooms        int `json:"fullRooms"`
	TotalMembers     int `json:"totalMembers"`
	ConnectedMembers int `json:"connectedMembers"`
}

// AdminHandler serves read-only views over all rooms. Secrets are never rendered.
type AdminHandler struct {
	coordinator *service.Coordinator
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(coordinator *service.Coordinator) *AdminHandler {
	return &AdminHandler{coordinator: coordinator}
}

// Stats handles GET /api/admin/stats
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.coordinator.ListRooms(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, calculateStats(rooms))
}

// Rooms handles GET /api/admin/rooms
func (h *AdminHandler) Rooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.coordinator.ListRooms(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	views := make([]models.RoomView, 0, len(rooms))
	for _, room := range rooms {
		views = append(views, room.View(""))
	}
	writeJSON(w, http.StatusOK, views)
}

// calculateStats computes the room statistics
func calculateStats(rooms []*models.Room) RoomStats {
	stats := RoomStats{TotalRooms: len(rooms)}

	for _, room := range rooms {
		switch room.State {
		case models.RoomStateCreated:
			stats.CreatedRooms++
		case models.RoomStateActive:
			stats.ActiveRooms++
		}
		if room.IsLocked {
			stats.LockedRooms++
		}
		if room.IsFull() {
			stats.FullRooms++
		}

		stats.TotalMembers += len(room.Members)
		for _, m := range room.Members {
			if m.Connected {
				stats.ConnectedMembers++
			}
		}
	}

	return stats
}
