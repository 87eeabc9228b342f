// Package repository defines interfaces for room and presence storage
package repository

import (
	"context"

	"github.com/navikt/zparty/internal/models"
)

// Predicate is evaluated against the current room inside the atomic section.
// Returning a non-nil error aborts the mutation without side effects.
type Predicate = func(room *models.Room) error

// Transform modifies a private copy of the room. The result is committed only
// if the predicate held. A room left with no members is deleted.
type Transform = func(room *models.Room)

// RoomRegistry owns the authoritative room state. All methods are safe for
// concurrent use; Mutate calls on the same code are linearized.
type RoomRegistry interface {
	// Create stores a new room, failing with models.ErrDuplicateCode if the code is taken
	Create(ctx context.Context, room *models.Room) (*models.Room, error)
	// Get returns a snapshot of the room or models.ErrRoomNotFound
	Get(ctx context.Context, code string) (*models.Room, error)
	// Exists reports whether a room with the code is stored
	Exists(ctx context.Context, code string) (bool, error)
	// Mutate applies transform if predicate holds, returning the committed snapshot.
	// Predicate failures match both models.ErrPredicateFailed and the predicate's error.
	// If the transform empties the room it is deleted and the snapshot is Closed.
	Mutate(ctx context.Context, code string, predicate Predicate, transform Transform) (*models.Room, error)
	// Delete removes a room and its member index entries
	Delete(ctx context.Context, code string) error
	// List returns snapshots of all stored rooms
	List(ctx context.Context) ([]*models.Room, error)
	// RoomsForMember returns the codes of every room the participant belongs to
	RoomsForMember(ctx context.Context, participantID string) ([]string, error)
}

// PresenceTracker maps volatile connection ids to durable participant ids.
// It has no knowledge of rooms.
type PresenceTracker interface {
	// Bind associates a connection with a participant and marks it active
	Bind(ctx context.Context, connectionID, participantID string) error
	// Unbind marks the connection inactive. It returns false if the connection
	// was unknown or already inactive.
	Unbind(ctx context.Context, connectionID string) (bool, error)
	// Resolve returns the participant bound to a connection or models.ErrConnectionNotFound
	Resolve(ctx context.Context, connectionID string) (string, error)
	// StatusOf returns Active if any connection of the participant is active,
	// Inactive if all known connections are inactive, Unknown otherwise
	StatusOf(ctx context.Context, participantID string) (models.PresenceStatus, error)
}
