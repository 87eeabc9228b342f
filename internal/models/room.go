package models

import (
	"crypto/subtle"
	"time"
)

// RoomState represents the lifecycle state of a room
type RoomState int

const (
	RoomStateCreated RoomState = iota
	RoomStateActive
	RoomStateClosed
)

// String returns the string representation of a room state
func (s RoomState) String() string {
	return [...]string{"created", "active", "closed"}[s]
}

// Participant identifies a caller independently of any room or connection
type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// RoomConfig holds the optional settings supplied when creating or updating a room
type RoomConfig struct {
	IsLocked   *bool `json:"isLocked,omitempty"`
	MaxMembers *int  `json:"maxMembers,omitempty"`
}

// Member is a participant's seat in a room
type Member struct {
	ParticipantID  string
	Name           string
	ConnectionID   string
	Connected      bool
	IsHost         bool
	JoinedAt       time.Time
	DisconnectedAt time.Time
}

// Room is the aggregate root for a party session. Values handed out by the
// registry are snapshots; mutating one has no effect on stored state.
type Room struct {
	Code       string
	Members    []Member
	HostSecret string
	IsLocked   bool
	// MaxMembers caps the member count, 0 means no cap
	MaxMembers int
	State      RoomState
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Clone returns a deep copy of the room
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Members = make([]Member, len(r.Members))
	copy(clone.Members, r.Members)
	return &clone
}

// MemberIndex returns the position of a participant in the member list, or -1
func (r *Room) MemberIndex(participantID string) int {
	for i := range r.Members {
		if r.Members[i].ParticipantID == participantID {
			return i
		}
	}
	return -1
}

// IsMember reports whether the participant belongs to the room
func (r *Room) IsMember(participantID string) bool {
	return r.MemberIndex(participantID) >= 0
}

// HostIndex returns the position of the host in the member list, or -1
func (r *Room) HostIndex() int {
	for i := range r.Members {
		if r.Members[i].IsHost {
			return i
		}
	}
	return -1
}

// Host returns a copy of the host member, if any
func (r *Room) Host() (Member, bool) {
	i := r.HostIndex()
	if i < 0 {
		return Member{}, false
	}
	return r.Members[i], true
}

// IsFull returns true if the room has a cap and it is reached
func (r *Room) IsFull() bool {
	return r.MaxMembers > 0 && len(r.Members) >= r.MaxMembers
}

// CheckSecret reports whether the presented secret authorizes host operations
func (r *Room) CheckSecret(secret string) bool {
	if secret == "" || r.HostSecret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(secret), []byte(r.HostSecret)) == 1
}

// SeatOf returns the participant whose seat is held by the connection, or ""
func (r *Room) SeatOf(connectionID string) string {
	if connectionID == "" {
		return ""
	}
	for _, m := range r.Members {
		if m.ConnectionID == connectionID {
			return m.ParticipantID
		}
	}
	return ""
}

// RemoveMember removes a participant, preserving join order of the others
func (r *Room) RemoveMember(participantID string) bool {
	i := r.MemberIndex(participantID)
	if i < 0 {
		return false
	}
	r.Members = append(r.Members[:i:i], r.Members[i+1:]...)
	return true
}

// MemberView is the client-facing representation of a member
type MemberView struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
	IsHost    bool   `json:"isHost"`
}

// RoomView is the client-facing representation of a room. Secret is only
// populated for the current host.
type RoomView struct {
	Code       string       `json:"code"`
	State      string       `json:"state"`
	IsLocked   bool         `json:"isLocked"`
	IsFull     bool         `json:"isFull"`
	MaxMembers int          `json:"maxMembers,omitempty"`
	HostID     string       `json:"hostId,omitempty"`
	Members    []MemberView `json:"members"`
	Secret     string       `json:"secret,omitempty"`
	CreatedAt  time.Time    `json:"createdAt"`
	UpdatedAt  time.Time    `json:"updatedAt"`
}

// View renders the room for the given viewer
func (r *Room) View(viewerID string) RoomView {
	view := RoomView{
		Code:       r.Code,
		State:      r.State.String(),
		IsLocked:   r.IsLocked,
		IsFull:     r.IsFull(),
		MaxMembers: r.MaxMembers,
		Members:    make([]MemberView, 0, len(r.Members)),
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}

	for _, m := range r.Members {
		view.Members = append(view.Members, MemberView{
			ID:        m.ParticipantID,
			Name:      m.Name,
			Connected: m.Connected,
			IsHost:    m.IsHost,
		})
		if m.IsHost {
			view.HostID = m.ParticipantID
			if viewerID != "" && viewerID == m.ParticipantID {
				view.Secret = r.HostSecret
			}
		}
	}

	return view
}
