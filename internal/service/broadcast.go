package service

import (
	"sync"

	"github.com/navikt/zparty/internal/models"
)

// Broadcaster delivers room events to connected clients. Transports call it
// after a successful coordinator operation; the coordinator never does.
type Broadcaster interface {
	Notify(roomCode string, event models.RoomEvent)
}

// UpdateCallback is a function type for room event callbacks
type UpdateCallback func(roomCode string, event models.RoomEvent)

// Notify implements Broadcaster
func (f UpdateCallback) Notify(roomCode string, event models.RoomEvent) {
	f(roomCode, event)
}

// Fanout forwards every event to all registered broadcasters
type Fanout struct {
	mu        sync.RWMutex
	callbacks []UpdateCallback
}

// NewFanout creates an empty fanout
func NewFanout() *Fanout {
	return &Fanout{callbacks: make([]UpdateCallback, 0)}
}

// Register adds a broadcaster
func (f *Fanout) Register(b Broadcaster) {
	f.RegisterUpdateCallback(b.Notify)
}

// RegisterUpdateCallback registers a callback function to be called for every room event
func (f *Fanout) RegisterUpdateCallback(callback UpdateCallback) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callbacks = append(f.callbacks, callback)
}

// Notify calls all registered callbacks with the event
func (f *Fanout) Notify(roomCode string, event models.RoomEvent) {
	f.mu.RLock()
	callbacks := f.callbacks
	f.mu.RUnlock()

	for _, callback := range callbacks {
		callback(roomCode, event)
	}
}

// Publish sends events in order
func Publish(b Broadcaster, events ...models.RoomEvent) {
	if b == nil {
		return
	}
	for _, e := range events {
		b.Notify(e.RoomCode, e)
	}
}

// JoinEvents returns the events for a participant entering a room
func JoinEvents(room *models.Room, participantID string) []models.RoomEvent {
	return []models.RoomEvent{
		models.NewRoomEvent(models.EventRoomJoined, room, participantID),
		models.NewRoomEvent(models.EventRoomMembersUpdated, room, participantID),
	}
}

// UpdateEvents returns the events for a change to room settings, host or presence
func UpdateEvents(room *models.Room, participantID string) []models.RoomEvent {
	return []models.RoomEvent{
		models.NewRoomEvent(models.EventRoomUpdated, room, participantID),
	}
}

// PresenceEvents returns the events for a member connecting, disconnecting or reconnecting
func PresenceEvents(room *models.Room, participantID string) []models.RoomEvent {
	return []models.RoomEvent{
		models.NewRoomEvent(models.EventRoomMembersUpdated, room, participantID),
	}
}

// ExitEvents returns the events for a member leaving or being removed.
// room is the snapshot after removal and may be Closed.
func ExitEvents(room *models.Room, participantID string, reason models.ExitReason) []models.RoomEvent {
	events := []models.RoomEvent{
		models.NewExitEvent(room.Code, reason, participantID, room),
	}
	if room.State == models.RoomStateClosed {
		return append(events, models.NewExitEvent(room.Code, models.ExitReasonRoomClosed, participantID, room))
	}
	return append(events, models.NewRoomEvent(models.EventRoomMembersUpdated, room, participantID))
}
