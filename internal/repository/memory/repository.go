// Package memory provides an in-memory implementation of the repository interfaces
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/navikt/zparty/internal/models"
)

// roomEntry guards a single room. Mutations on different codes only contend
// on the index maps, never on each other.
type roomEntry struct {
	mu      sync.Mutex
	room    *models.Room
	deleted bool
}

// Repository implements the room registry with in-memory storage
type Repository struct {
	rooms map[string]*roomEntry
	mu    sync.RWMutex

	// participant ID -> set of room codes
	memberRooms map[string]map[string]struct{}
	indexMu     sync.Mutex

	now func() time.Time
}

// NewRepository creates a new in-memory room registry
func NewRepository() *Repository {
	return &Repository{
		rooms:       make(map[string]*roomEntry),
		memberRooms: make(map[string]map[string]struct{}),
		now:         time.Now,
	}
}

// entry looks up the guard for a code without holding the map lock afterwards
func (r *Repository) entry(code string) (*roomEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.rooms[code]
	return e, ok
}

// Create stores a new room
func (r *Repository) Create(ctx context.Context, room *models.Room) (*models.Room, error) {
	if len(room.Members) == 0 {
		return nil, fmt.Errorf("%w: room must have at least one member", models.ErrInvalidInput)
	}

	stored := room.Clone()

	r.mu.Lock()
	if _, exists := r.rooms[stored.Code]; exists {
		r.mu.Unlock()
		return nil, models.ErrDuplicateCode
	}
	e := &roomEntry{room: stored}
	// Hold the entry lock before publishing so no mutation can observe the
	// room ahead of its index entries.
	e.mu.Lock()
	r.rooms[stored.Code] = e
	r.mu.Unlock()

	r.reindex(stored.Code, nil, stored)
	e.mu.Unlock()

	return stored.Clone(), nil
}

// Get retrieves a room by code
func (r *Repository) Get(ctx context.Context, code string) (*models.Room, error) {
	e, ok := r.entry(code)
	if !ok {
		return nil, models.ErrRoomNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return nil, models.ErrRoomNotFound
	}
	return e.room.Clone(), nil
}

// Exists reports whether a room is stored under the code
func (r *Repository) Exists(ctx context.Context, code string) (bool, error) {
	_, ok := r.entry(code)
	return ok, nil
}

// Mutate applies transform under the room's lock if predicate holds
func (r *Repository) Mutate(ctx context.Context, code string, predicate func(*models.Room) error, transform func(*models.Room)) (*models.Room, error) {
	e, ok := r.entry(code)
	if !ok {
		return nil, models.ErrRoomNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.deleted {
		return nil, models.ErrRoomNotFound
	}

	if predicate != nil {
		if err := predicate(e.room.Clone()); err != nil {
			return nil, fmt.Errorf("%w: %w", models.ErrPredicateFailed, err)
		}
	}

	next := e.room.Clone()
	if transform != nil {
		transform(next)
	}
	next.Code = e.room.Code
	next.UpdatedAt = r.now()

	if len(next.Members) == 0 {
		next.State = models.RoomStateClosed
		r.removeEntry(code, e)
		return next, nil
	}

	r.reindex(code, e.room, next)
	e.room = next

	return next.Clone(), nil
}

// Delete removes a room by code
func (r *Repository) Delete(ctx context.Context, code string) error {
	e, ok := r.entry(code)
	if !ok {
		return models.ErrRoomNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return models.ErrRoomNotFound
	}
	r.removeEntry(code, e)
	return nil
}

// removeEntry unlinks a room. Caller holds e.mu.
func (r *Repository) removeEntry(code string, e *roomEntry) {
	e.deleted = true
	r.reindex(code, e.room, nil)

	r.mu.Lock()
	if current, ok := r.rooms[code]; ok && current == e {
		delete(r.rooms, code)
	}
	r.mu.Unlock()
}

// List returns all rooms ordered by creation time
func (r *Repository) List(ctx context.Context) ([]*models.Room, error) {
	r.mu.RLock()
	entries := make([]*roomEntry, 0, len(r.rooms))
	for _, e := range r.rooms {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	rooms := make([]*models.Room, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if !e.deleted {
			rooms = append(rooms, e.room.Clone())
		}
		e.mu.Unlock()
	}

	sort.Slice(rooms, func(i, j int) bool {
		return rooms[i].CreatedAt.Before(rooms[j].CreatedAt)
	})

	return rooms, nil
}

// RoomsForMember returns the codes of rooms the participant belongs to
func (r *Repository) RoomsForMember(ctx context.Context, participantID string) ([]string, error) {
	r.indexMu.Lock()
	defer r.indexMu.Unlock()

	codes := make([]string, 0, len(r.memberRooms[participantID]))
	for code := range r.memberRooms[participantID] {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes, nil
}

// reindex updates the member index from the membership of before to after.
// Either may be nil.
func (r *Repository) reindex(code string, before, after *models.Room) {
	r.indexMu.Lock()
	defer r.indexMu.Unlock()

	if before != nil {
		for _, m := range before.Members {
			if after != nil && after.IsMember(m.ParticipantID) {
				continue
			}
			if set, ok := r.memberRooms[m.ParticipantID]; ok {
				delete(set, code)
				if len(set) == 0 {
					delete(r.memberRooms, m.ParticipantID)
				}
			}
		}
	}

	if after != nil {
		for _, m := range after.Members {
			set, ok := r.memberRooms[m.ParticipantID]
			if !ok {
				set = make(map[string]struct{})
				r.memberRooms[m.ParticipantID] = set
			}
			set[code] = struct{}{}
		}
	}
}
