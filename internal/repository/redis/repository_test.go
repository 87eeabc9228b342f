// Package redis_test provides tests for the Redis repository
package redis_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/navikt/zparty/internal/config"
	"github.com/navikt/zparty/internal/models"
	"github.com/navikt/zparty/internal/repository"
	"github.com/navikt/zparty/internal/repository/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Compile-time interface checks
var (
	_ repository.RoomRegistry    = (*redis.Repository)(nil)
	_ repository.PresenceTracker = (*redis.PresenceTracker)(nil)
)

func testConfig(mr *miniredis.Miniredis) config.RedisConfig {
	return config.RedisConfig{
		Enabled:   true,
		Host:      mr.Host(),
		Port:      mr.Port(),
		KeyPrefix: "test:",
		RoomTTL:   time.Hour * 24,
	}
}

func setupTestRedis(t *testing.T) (*redis.Repository, *miniredis.Miniredis, func()) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	cfg := testConfig(mr)
	client, err := redis.NewClient(cfg)
	require.NoError(t, err)

	repo := redis.NewRepository(client, cfg)

	cleanup := func() {
		_ = client.Close()
		mr.Close()
	}

	return repo, mr, cleanup
}

func newRoom(code string, memberIDs ...string) *models.Room {
	now := time.Now().UTC()
	room := &models.Room{
		Code:       code,
		HostSecret: "secret-" + code,
		State:      models.RoomStateCreated,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for i, id := range memberIDs {
		room.Members = append(room.Members, models.Member{
			ParticipantID: id,
			Name:          id,
			IsHost:        i == 0,
			Connected:     true,
			JoinedAt:      now,
		})
	}
	return room
}

// TestRedisWithURI tests connection with URI format
func TestRedisWithURI(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	cfg := config.RedisConfig{
		Enabled:   true,
		URI:       fmt.Sprintf("redis://%s:%s", mr.Host(), mr.Port()),
		KeyPrefix: "test:",
		RoomTTL:   time.Hour * 24,
	}

	client, err := redis.NewClient(cfg)
	require.NoError(t, err)
	defer client.Close()

	repo := redis.NewRepository(client, cfg)
	ctx := context.Background()

	_, err = repo.Create(ctx, newRoom("URI001", "alice"))
	require.NoError(t, err)

	retrieved, err := repo.Get(ctx, "URI001")
	require.NoError(t, err)
	assert.Equal(t, "URI001", retrieved.Code)
}

func TestRedisConnectionFailure(t *testing.T) {
	_, err := redis.NewClient(config.RedisConfig{URI: "not a uri"})
	assert.Error(t, err)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	cfg := testConfig(mr)
	mr.Close()

	_, err = redis.NewClient(cfg)
	assert.Error(t, err)
}

func TestRoomRepository(t *testing.T) {
	repo, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx := context.Background()
	room := newRoom("ROOM01", "alice")

	t.Run("CreateAndGet", func(t *testing.T) {
		_, err := repo.Create(ctx, room)
		require.NoError(t, err)

		stored, err := repo.Get(ctx, room.Code)
		require.NoError(t, err)
		assert.Equal(t, room.HostSecret, stored.HostSecret)
		require.Len(t, stored.Members, 1)
		assert.True(t, stored.Members[0].IsHost)
		assert.Equal(t, models.RoomStateCreated, stored.State)

		assert.True(t, mr.Exists("test:rooms:ROOM01"))
		assert.Greater(t, mr.TTL("test:rooms:ROOM01"), time.Duration(0))

		members, err := mr.Members("test:member-rooms:alice")
		require.NoError(t, err)
		assert.Equal(t, []string{"ROOM01"}, members)
	})

	t.Run("CreateDuplicate", func(t *testing.T) {
		_, err := repo.Create(ctx, newRoom("ROOM01", "bob"))
		assert.ErrorIs(t, err, models.ErrDuplicateCode)
	})

	t.Run("CreateEmpty", func(t *testing.T) {
		_, err := repo.Create(ctx, newRoom("EMPTY1"))
		assert.ErrorIs(t, err, models.ErrInvalidInput)
	})

	t.Run("Exists", func(t *testing.T) {
		exists, err := repo.Exists(ctx, room.Code)
		require.NoError(t, err)
		assert.True(t, exists)

		exists, err = repo.Exists(ctx, "NOPE00")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("List", func(t *testing.T) {
		_, err := repo.Create(ctx, newRoom("ROOM02", "bob"))
		require.NoError(t, err)

		rooms, err := repo.List(ctx)
		require.NoError(t, err)
		require.Len(t, rooms, 2)
		assert.Equal(t, "ROOM01", rooms[0].Code)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, repo.Delete(ctx, room.Code))

		_, err := repo.Get(ctx, room.Code)
		assert.ErrorIs(t, err, models.ErrRoomNotFound)

		codes, err := repo.RoomsForMember(ctx, "alice")
		require.NoError(t, err)
		assert.Empty(t, codes)

		assert.ErrorIs(t, repo.Delete(ctx, room.Code), models.ErrRoomNotFound)
	})
}

func TestMutate(t *testing.T) {
	repo, _, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx := context.Background()
	_, err := repo.Create(ctx, newRoom("MUT001", "alice"))
	require.NoError(t, err)

	t.Run("AppliesTransform", func(t *testing.T) {
		updated, err := repo.Mutate(ctx, "MUT001", nil, func(r *models.Room) {
			r.Members = append(r.Members, models.Member{ParticipantID: "bob", Name: "bob"})
			r.State = models.RoomStateActive
		})
		require.NoError(t, err)
		assert.Len(t, updated.Members, 2)

		stored, err := repo.Get(ctx, "MUT001")
		require.NoError(t, err)
		assert.Equal(t, models.RoomStateActive, stored.State)

		codes, err := repo.RoomsForMember(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, []string{"MUT001"}, codes)
	})

	t.Run("PredicateFailure", func(t *testing.T) {
		reason := errors.New("nope")
		_, err := repo.Mutate(ctx, "MUT001",
			func(r *models.Room) error { return reason },
			func(r *models.Room) { r.IsLocked = true },
		)
		assert.ErrorIs(t, err, models.ErrPredicateFailed)
		assert.ErrorIs(t, err, reason)

		stored, err := repo.Get(ctx, "MUT001")
		require.NoError(t, err)
		assert.False(t, stored.IsLocked)
	})

	t.Run("RemovingMemberUpdatesIndex", func(t *testing.T) {
		_, err := repo.Mutate(ctx, "MUT001", nil, func(r *models.Room) {
			r.RemoveMember("bob")
		})
		require.NoError(t, err)

		codes, err := repo.RoomsForMember(ctx, "bob")
		require.NoError(t, err)
		assert.Empty(t, codes)
	})

	t.Run("MissingRoom", func(t *testing.T) {
		_, err := repo.Mutate(ctx, "NOPE00", nil, nil)
		assert.ErrorIs(t, err, models.ErrRoomNotFound)
	})

	t.Run("EmptyingDeletesRoom", func(t *testing.T) {
		closed, err := repo.Mutate(ctx, "MUT001", nil, func(r *models.Room) { r.Members = nil })
		require.NoError(t, err)
		assert.Equal(t, models.RoomStateClosed, closed.State)

		_, err = repo.Get(ctx, "MUT001")
		assert.ErrorIs(t, err, models.ErrRoomNotFound)

		codes, err := repo.RoomsForMember(ctx, "alice")
		require.NoError(t, err)
		assert.Empty(t, codes)
	})
}

func TestMutateConcurrentJoins(t *testing.T) {
	repo, _, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx := context.Background()
	const maxMembers = 4
	room := newRoom("RACE01", "host")
	room.MaxMembers = maxMembers
	_, err := repo.Create(ctx, room)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("p%d", i)
			_, _ = repo.Mutate(ctx, "RACE01",
				func(r *models.Room) error {
					if r.IsFull() {
						return models.ErrRoomFull
					}
					return nil
				},
				func(r *models.Room) {
					r.Members = append(r.Members, models.Member{ParticipantID: id})
				},
			)
		}(i)
	}
	wg.Wait()

	stored, err := repo.Get(ctx, "RACE01")
	require.NoError(t, err)
	assert.Len(t, stored.Members, maxMembers)
}

func TestRoomsForMemberPrunesExpired(t *testing.T) {
	repo, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx := context.Background()
	_, err := repo.Create(ctx, newRoom("OLD001", "alice"))
	require.NoError(t, err)
	_, err = repo.Create(ctx, newRoom("NEW001", "alice"))
	require.NoError(t, err)

	// Simulate the room key expiring before the index
	mr.Del("test:rooms:OLD001")

	codes, err := repo.RoomsForMember(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"NEW001"}, codes)

	members, err := mr.Members("test:member-rooms:alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"NEW001"}, members)
}
