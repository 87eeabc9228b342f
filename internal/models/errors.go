package models

import (
	"errors"
	"fmt"
)

// Error categories. Every failure returned by the registry or the coordinator
// matches exactly one of these with errors.Is.
var (
	ErrNotFound        = errors.New("not found")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrConflict        = errors.New("conflict")
	ErrPredicateFailed = errors.New("predicate failed")
	ErrInvalidInput    = errors.New("invalid input")
)

// Specific failures
var (
	ErrRoomNotFound = fmt.Errorf("room %w", ErrNotFound)
	ErrNotMember    = fmt.Errorf("member %w", ErrNotFound)

	ErrInvalidSecret = fmt.Errorf("%w: host secret does not match", ErrUnauthorized)

	ErrRoomLocked           = fmt.Errorf("%w: room is locked", ErrConflict)
	ErrRoomFull             = fmt.Errorf("%w: room is full", ErrConflict)
	ErrDuplicateCode        = fmt.Errorf("%w: room code already exists", ErrConflict)
	ErrCannotKickSelf       = fmt.Errorf("%w: host cannot kick themselves", ErrConflict)
	ErrAlreadyHost          = fmt.Errorf("%w: member is already host", ErrConflict)
	ErrSeatTaken            = fmt.Errorf("%w: seat is held by another connection", ErrConflict)
	ErrCapacityBelowMembers = fmt.Errorf("%w: max members is below current member count", ErrConflict)
)

// ErrConnectionNotFound is returned by the presence tracker for unknown connections
var ErrConnectionNotFound = fmt.Errorf("connection %w", ErrNotFound)
