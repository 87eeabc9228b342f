package models

import "time"

// PresenceStatus represents whether a connection is currently live
type PresenceStatus int

const (
	PresenceUnknown PresenceStatus = iota
	PresenceActive
	PresenceInactive
)

// String returns the string representation of a presence status
func (s PresenceStatus) String() string {
	return [...]string{"unknown", "active", "inactive"}[s]
}

// ParsePresenceStatus is the inverse of String; unrecognised values map to PresenceUnknown
func ParsePresenceStatus(s string) PresenceStatus {
	switch s {
	case "active":
		return PresenceActive
	case "inactive":
		return PresenceInactive
	default:
		return PresenceUnknown
	}
}

// PresenceEntry maps a volatile connection to a durable participant
type PresenceEntry struct {
	ConnectionID  string
	ParticipantID string
	Status        PresenceStatus
	UpdatedAt     time.Time
}
