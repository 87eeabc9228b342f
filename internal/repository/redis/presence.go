package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/navikt/zparty/internal/config"
	"github.com/navikt/zparty/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	fieldParticipant = "participant"
	fieldStatus      = "status"
	fieldUpdatedAt   = "updatedAt"
)

// PresenceTracker implements the presence tracker with Redis storage.
// Each connection is a hash; each participant has a set of connection ids.
type PresenceTracker struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewPresenceTracker creates a presence tracker on an existing client
func NewPresenceTracker(client *redis.Client, cfg config.RedisConfig) *PresenceTracker {
	return &PresenceTracker{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
		ttl:       cfg.RoomTTL,
	}
}

func (p *PresenceTracker) connectionKey(connectionID string) string {
	return fmt.Sprintf("%spresence:conn:%s", p.keyPrefix, connectionID)
}

func (p *PresenceTracker) participantKey(participantID string) string {
	return fmt.Sprintf("%spresence:participant:%s", p.keyPrefix, participantID)
}

// Bind associates a connection with a participant and marks it active
func (p *PresenceTracker) Bind(ctx context.Context, connectionID, participantID string) error {
	connKey := p.connectionKey(connectionID)

	return watch(ctx, p.client, func(tx *redis.Tx) error {
		previous, err := tx.HGet(ctx, connKey, fieldParticipant).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("failed to read presence: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			// A connection can only belong to one participant
			if previous != "" && previous != participantID {
				pipe.SRem(ctx, p.participantKey(previous), connectionID)
			}

			pipe.HSet(ctx, connKey,
				fieldParticipant, participantID,
				fieldStatus, models.PresenceActive.String(),
				fieldUpdatedAt, time.Now().UTC().Format(time.RFC3339Nano),
			)
			partKey := p.participantKey(participantID)
			pipe.SAdd(ctx, partKey, connectionID)

			if p.ttl > 0 {
				pipe.Expire(ctx, connKey, p.ttl)
				pipe.Expire(ctx, partKey, p.ttl)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to bind connection: %w", err)
		}
		return nil
	}, connKey)
}

// Unbind marks a connection inactive, keeping the mapping for later reconnects
func (p *PresenceTracker) Unbind(ctx context.Context, connectionID string) (bool, error) {
	connKey := p.connectionKey(connectionID)
	changed := false

	err := watch(ctx, p.client, func(tx *redis.Tx) error {
		changed = false

		status, err := tx.HGet(ctx, connKey, fieldStatus).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read presence: %w", err)
		}
		if models.ParsePresenceStatus(status) == models.PresenceInactive {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, connKey,
				fieldStatus, models.PresenceInactive.String(),
				fieldUpdatedAt, time.Now().UTC().Format(time.RFC3339Nano),
			)
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to unbind connection: %w", err)
		}
		changed = true
		return nil
	}, connKey)
	if err != nil {
		return false, err
	}

	return changed, nil
}

// Resolve returns the participant bound to a connection
func (p *PresenceTracker) Resolve(ctx context.Context, connectionID string) (string, error) {
	participantID, err := p.client.HGet(ctx, p.connectionKey(connectionID), fieldParticipant).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", models.ErrConnectionNotFound
		}
		return "", fmt.Errorf("failed to resolve connection: %w", err)
	}
	return participantID, nil
}

// StatusOf returns the aggregated status of a participant's connections
func (p *PresenceTracker) StatusOf(ctx context.Context, participantID string) (models.PresenceStatus, error) {
	connectionIDs, err := p.client.SMembers(ctx, p.participantKey(participantID)).Result()
	if err != nil {
		return models.PresenceUnknown, fmt.Errorf("failed to list connections: %w", err)
	}
	if len(connectionIDs) == 0 {
		return models.PresenceUnknown, nil
	}

	pipe := p.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(connectionIDs))
	for i, id := range connectionIDs {
		cmds[i] = pipe.HGet(ctx, p.connectionKey(id), fieldStatus)
	}
	// redis.Nil for expired connections is expected here
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return models.PresenceUnknown, fmt.Errorf("failed to read presence: %w", err)
	}

	result := models.PresenceUnknown
	for _, cmd := range cmds {
		switch models.ParsePresenceStatus(cmd.Val()) {
		case models.PresenceActive:
			return models.PresenceActive, nil
		case models.PresenceInactive:
			result = models.PresenceInactive
		}
	}
	return result, nil
}
