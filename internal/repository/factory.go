// Package repository provides the initialization for repository implementations
package repository

import (
	"context"

	"github.com/navikt/zparty/internal/config"
	"github.com/navikt/zparty/internal/repository/memory"
	"github.com/navikt/zparty/internal/repository/redis"
	"github.com/rs/zerolog/log"
)

// Stores bundles the room registry and presence tracker of one backend
type Stores struct {
	Rooms    RoomRegistry
	Presence PresenceTracker
	Backend  string
	ping     func(ctx context.Context) error
	close    func() error
}

// Ping checks that the backend is reachable
func (s *Stores) Ping(ctx context.Context) error {
	if s.ping == nil {
		return nil
	}
	return s.ping(ctx)
}

// Close releases the backend connection, if any
func (s *Stores) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// NewMemoryStores creates in-memory stores
func NewMemoryStores() *Stores {
	return &Stores{
		Rooms:    memory.NewRepository(),
		Presence: memory.NewPresenceTracker(),
		Backend:  "memory",
	}
}

// NewStores creates stores based on configuration. Redis is used when
// enabled, otherwise everything is kept in memory.
func NewStores(cfg config.RedisConfig) (*Stores, error) {
	if !cfg.Enabled {
		log.Info().Str("module", "repository").Msg("Using in-memory storage")
		return NewMemoryStores(), nil
	}

	client, err := redis.NewClient(cfg)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("module", "repository").
		Str("prefix", cfg.KeyPrefix).
		Dur("ttl", cfg.RoomTTL).
		Msg("Using Redis storage")

	return &Stores{
		Rooms:    redis.NewRepository(client, cfg),
		Presence: redis.NewPresenceTracker(client, cfg),
		Backend:  "redis",
		ping:     func(ctx context.Context) error { return client.Ping(ctx).Err() },
		close:    client.Close,
	}, nil
}
