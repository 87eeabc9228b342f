package models

import (
	"time"
)

// EventOperation names a room event delivered to connected clients
type EventOperation string

const (
	EventRoomJoined         EventOperation = "room/joined"
	EventRoomUpdated        EventOperation = "room/updated"
	EventRoomExited         EventOperation = "room/exited"
	EventRoomMembersUpdated EventOperation = "room_members/updated"
)

// ExitReason explains a room/exited event
type ExitReason string

const (
	ExitReasonKicked     ExitReason = "kicked"
	ExitReasonLeft       ExitReason = "left"
	ExitReasonRoomClosed ExitReason = "room_closed"
)

// RoomEvent is produced by transports after a successful mutation and handed
// to broadcasters. It carries the full snapshot; rendering decides what each
// viewer may see.
type RoomEvent struct {
	Operation     EventOperation
	RoomCode      string
	Reason        ExitReason
	ParticipantID string
	Room          *Room
	Timestamp     time.Time
}

// EventMessage is the wire format of a room event
type EventMessage struct {
	Operation EventOperation `json:"operation"`
	Data      EventData      `json:"data"`
}

// EventData contains the payload of an event message
type EventData struct {
	RoomCode      string       `json:"roomId"`
	Reason        ExitReason   `json:"reason,omitempty"`
	ParticipantID string       `json:"participantId,omitempty"`
	Room          *RoomView    `json:"room,omitempty"`
	Members       []MemberView `json:"members,omitempty"`
	Timestamp     int64        `json:"ts"`
}

// NewRoomEvent creates an event for the given room snapshot
func NewRoomEvent(op EventOperation, room *Room, participantID string) RoomEvent {
	return RoomEvent{
		Operation:     op,
		RoomCode:      room.Code,
		ParticipantID: participantID,
		Room:          room,
		Timestamp:     time.Now(),
	}
}

// NewExitEvent creates a room/exited event. room may be nil when the room was closed.
func NewExitEvent(code string, reason ExitReason, participantID string, room *Room) RoomEvent {
	return RoomEvent{
		Operation:     EventRoomExited,
		RoomCode:      code,
		Reason:        reason,
		ParticipantID: participantID,
		Room:          room,
		Timestamp:     time.Now(),
	}
}

// Render builds the message as seen by viewerID. An empty viewer never sees the host secret.
func (e RoomEvent) Render(viewerID string) EventMessage {
	msg := EventMessage{
		Operation: e.Operation,
		Data: EventData{
			RoomCode:      e.RoomCode,
			Reason:        e.Reason,
			ParticipantID: e.ParticipantID,
			Timestamp:     e.Timestamp.UnixMilli(),
		},
	}

	if e.Room != nil && e.Room.State != RoomStateClosed {
		view := e.Room.View(viewerID)
		msg.Data.Room = &view
		msg.Data.Members = view.Members
	}

	return msg
}
