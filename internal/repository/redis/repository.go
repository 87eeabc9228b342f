package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/navikt/zparty/internal/config"
	"github.com/navikt/zparty/internal/models"
	"github.com/redis/go-redis/v9"
)

// memberState is the stored form of a member
type memberState struct {
	ParticipantID  string    `json:"participantId"`
	Name           string    `json:"name"`
	ConnectionID   string    `json:"connectionId,omitempty"`
	Connected      bool      `json:"connected"`
	IsHost         bool      `json:"isHost"`
	JoinedAt       time.Time `json:"joinedAt"`
	DisconnectedAt time.Time `json:"disconnectedAt,omitempty"`
}

// roomState is the internal model for storing room state in Redis
type roomState struct {
	Code       string           `json:"code"`
	Members    []memberState    `json:"members"`
	HostSecret string           `json:"hostSecret"`
	IsLocked   bool             `json:"isLocked"`
	MaxMembers int              `json:"maxMembers"`
	State      models.RoomState `json:"state"`
	CreatedAt  time.Time        `json:"createdAt"`
	UpdatedAt  time.Time        `json:"updatedAt"`
}

func toState(room *models.Room) roomState {
	state := roomState{
		Code:       room.Code,
		Members:    make([]memberState, len(room.Members)),
		HostSecret: room.HostSecret,
		IsLocked:   room.IsLocked,
		MaxMembers: room.MaxMembers,
		State:      room.State,
		CreatedAt:  room.CreatedAt,
		UpdatedAt:  room.UpdatedAt,
	}
	for i, m := range room.Members {
		state.Members[i] = memberState(m)
	}
	return state
}

func (s roomState) toRoom() *models.Room {
	room := &models.Room{
		Code:       s.Code,
		Members:    make([]models.Member, len(s.Members)),
		HostSecret: s.HostSecret,
		IsLocked:   s.IsLocked,
		MaxMembers: s.MaxMembers,
		State:      s.State,
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
	}
	for i, m := range s.Members {
		room.Members[i] = models.Member(m)
	}
	return room
}

func decodeRoom(data []byte) (*models.Room, error) {
	var state roomState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal room: %w", err)
	}
	return state.toRoom(), nil
}

func encodeRoom(room *models.Room) ([]byte, error) {
	data, err := json.Marshal(toState(room))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal room: %w", err)
	}
	return data, nil
}

// Repository implements the room registry with Redis storage. Mutate uses
// WATCH/MULTI on the room key so concurrent writers are linearized per code.
type Repository struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	now       func() time.Time
}

// NewRepository creates a room registry on an existing client
func NewRepository(client *redis.Client, cfg config.RedisConfig) *Repository {
	return &Repository{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
		ttl:       cfg.RoomTTL,
		now:       time.Now,
	}
}

// roomKey returns the Redis key for a room
func (r *Repository) roomKey(code string) string {
	return fmt.Sprintf("%srooms:%s", r.keyPrefix, code)
}

// memberRoomsKey returns the Redis key for a participant's set of room codes
func (r *Repository) memberRoomsKey(participantID string) string {
	return fmt.Sprintf("%smember-rooms:%s", r.keyPrefix, participantID)
}

// Create stores a new room
func (r *Repository) Create(ctx context.Context, room *models.Room) (*models.Room, error) {
	if len(room.Members) == 0 {
		return nil, fmt.Errorf("%w: room must have at least one member", models.ErrInvalidInput)
	}

	stored := room.Clone()
	data, err := encodeRoom(stored)
	if err != nil {
		return nil, err
	}

	key := r.roomKey(stored.Code)
	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("failed to check if room exists: %w", err)
		}
		if exists > 0 {
			return models.ErrDuplicateCode
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, r.ttl)
			r.indexMembers(ctx, pipe, stored.Code, nil, stored)
			return nil
		})
		return err
	}, key)

	// A concurrent writer claimed the key between EXISTS and EXEC
	if errors.Is(err, redis.TxFailedErr) {
		return nil, models.ErrDuplicateCode
	}
	if err != nil {
		return nil, err
	}

	return stored.Clone(), nil
}

// Get retrieves a room by code
func (r *Repository) Get(ctx context.Context, code string) (*models.Room, error) {
	data, err := r.client.Get(ctx, r.roomKey(code)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, models.ErrRoomNotFound
		}
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	return decodeRoom(data)
}

// Exists reports whether a room is stored under the code
func (r *Repository) Exists(ctx context.Context, code string) (bool, error) {
	n, err := r.client.Exists(ctx, r.roomKey(code)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check if room exists: %w", err)
	}
	return n > 0, nil
}

// Mutate applies transform if predicate holds, retrying the read-check-write
// cycle whenever another writer committed first
func (r *Repository) Mutate(ctx context.Context, code string, predicate func(*models.Room) error, transform func(*models.Room)) (*models.Room, error) {
	key := r.roomKey(code)
	var result *models.Room

	err := watch(ctx, r.client, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return models.ErrRoomNotFound
			}
			return fmt.Errorf("failed to get room: %w", err)
		}

		current, err := decodeRoom(data)
		if err != nil {
			return err
		}

		if predicate != nil {
			if err := predicate(current.Clone()); err != nil {
				return fmt.Errorf("%w: %w", models.ErrPredicateFailed, err)
			}
		}

		next := current.Clone()
		if transform != nil {
			transform(next)
		}
		next.Code = current.Code
		next.UpdatedAt = r.now()

		if len(next.Members) == 0 {
			next.State = models.RoomStateClosed
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				r.indexMembers(ctx, pipe, code, current, nil)
				return nil
			})
			if err != nil {
				return err
			}
			result = next
			return nil
		}

		encoded, err := encodeRoom(next)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, r.ttl)
			r.indexMembers(ctx, pipe, code, current, next)
			return nil
		})
		if err != nil {
			return err
		}
		result = next
		return nil
	}, key)
	if err != nil {
		return nil, err
	}

	return result, nil
}

// Delete removes a room by code
func (r *Repository) Delete(ctx context.Context, code string) error {
	key := r.roomKey(code)

	return watch(ctx, r.client, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return models.ErrRoomNotFound
			}
			return fmt.Errorf("failed to get room: %w", err)
		}

		current, err := decodeRoom(data)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			r.indexMembers(ctx, pipe, code, current, nil)
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to delete room: %w", err)
		}
		return nil
	}, key)
}

// List returns all stored rooms ordered by creation time
func (r *Repository) List(ctx context.Context) ([]*models.Room, error) {
	pattern := r.roomKey("*")
	keys, err := r.client.Keys(ctx, pattern).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}

	if len(keys) == 0 {
		return []*models.Room{}, nil
	}

	// Use MGET to retrieve all room data in a single roundtrip
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get room data: %w", err)
	}

	rooms := make([]*models.Room, 0, len(values))
	for _, v := range values {
		// Keys may expire between KEYS and MGET
		strData, ok := v.(string)
		if !ok {
			continue
		}

		room, err := decodeRoom([]byte(strData))
		if err != nil {
			continue
		}
		rooms = append(rooms, room)
	}

	sort.Slice(rooms, func(i, j int) bool {
		return rooms[i].CreatedAt.Before(rooms[j].CreatedAt)
	})

	return rooms, nil
}

// RoomsForMember returns the codes of rooms the participant belongs to.
// Codes whose room has expired are pruned from the index.
func (r *Repository) RoomsForMember(ctx context.Context, participantID string) ([]string, error) {
	indexKey := r.memberRoomsKey(participantID)
	codes, err := r.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get member rooms: %w", err)
	}
	if len(codes) == 0 {
		return []string{}, nil
	}

	pipe := r.client.Pipeline()
	checks := make([]*redis.IntCmd, len(codes))
	for i, code := range codes {
		checks[i] = pipe.Exists(ctx, r.roomKey(code))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to check member rooms: %w", err)
	}

	live := make([]string, 0, len(codes))
	var stale []interface{}
	for i, code := range codes {
		if checks[i].Val() > 0 {
			live = append(live, code)
		} else {
			stale = append(stale, code)
		}
	}

	if len(stale) > 0 {
		if err := r.client.SRem(ctx, indexKey, stale...).Err(); err != nil {
			return nil, fmt.Errorf("failed to prune member rooms: %w", err)
		}
	}

	sort.Strings(live)
	return live, nil
}

// indexMembers queues member index updates for a membership change from
// before to after. Either may be nil.
func (r *Repository) indexMembers(ctx context.Context, pipe redis.Pipeliner, code string, before, after *models.Room) {
	if before != nil {
		for _, m := range before.Members {
			if after != nil && after.IsMember(m.ParticipantID) {
				continue
			}
			pipe.SRem(ctx, r.memberRoomsKey(m.ParticipantID), code)
		}
	}

	if after != nil {
		for _, m := range after.Members {
			key := r.memberRoomsKey(m.ParticipantID)
			pipe.SAdd(ctx, key, code)
			if r.ttl > 0 {
				pipe.Expire(ctx, key, r.ttl)
			}
		}
	}
}
