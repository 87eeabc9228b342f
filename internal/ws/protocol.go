package ws

import (
	"encoding/json"

	"github.com/navikt/zparty/internal/models"
)

// MessageType names a client request
type MessageType string

// Client requests
const (
	MsgRoomCreate    MessageType = "room.create"
	MsgRoomJoin      MessageType = "room.join"
	MsgRoomConnect   MessageType = "room.connect"
	MsgRoomReconnect MessageType = "room.reconnect"
	MsgRoomLeave     MessageType = "room.leave"
	MsgRoomKickUser  MessageType = "room.kick_user"
	MsgRoomGiveHost  MessageType = "room.give_host"
	MsgRoomLock      MessageType = "room.lock"
	MsgRoomUpdate    MessageType = "room.update"
)

// Server frame types other than request replies
const (
	TypeSession = "session"
	TypeEvent   = "event"
	TypeError   = "error"
)

// Request is the envelope of every client message
type Request struct {
	Type      MessageType     `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// RoomPayload carries the arguments of all room requests. Each request
// reads only the fields it needs.
type RoomPayload struct {
	Code          string `json:"code,omitempty"`
	ParticipantID string `json:"participantId,omitempty"`
	Name          string `json:"name,omitempty"`
	Secret        string `json:"secret,omitempty"`
	TargetID      string `json:"targetId,omitempty"`
	ConnectionID  string `json:"connectionId,omitempty"`
	IsLocked      *bool  `json:"isLocked,omitempty"`
	MaxMembers    *int   `json:"maxMembers,omitempty"`
}

// Frame is the envelope of every server message. Replies echo the request's
// type and id.
type Frame struct {
	Type      string      `json:"type"`
	RequestID string      `json:"requestId,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
	Error     *ErrorBody  `json:"error,omitempty"`
}

// ErrorBody describes a failed request
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Reply is the payload of a successful request
type Reply struct {
	ConnectionID  string            `json:"connectionId,omitempty"`
	ParticipantID string            `json:"participantId,omitempty"`
	Joined        *bool             `json:"joined,omitempty"`
	Room          *models.RoomView  `json:"room,omitempty"`
	Rooms         []models.RoomView `json:"rooms,omitempty"`
}
