// Package redis provides a Redis/Valkey implementation of the repository interfaces
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

// maxTxRetries bounds optimistic transaction retries on a contended key
const maxTxRetries = 100

// ErrContention is returned when a watched key kept changing for every retry
var ErrContention = fmt.Errorf("%w: too many concurrent updates", models.ErrConflict)

// NewClient creates a Redis client from config and verifies the connection
func NewClient(cfg config.RedisConfig) (*redis.Client, error) {
	var client *redis.Client

	// Use URI if provided, otherwise build connection from individual parameters
	if cfg.URI != "" {
		opt, err := redis.ParseURL(cfg.URI)
		if err != nil {
			return nil, fmt.Errorf("failed to parse Redis URI: %w", err)
		}

		// Use DB from config if not specified in the URI
		if opt.DB == 0 {
			opt.DB = cfg.DB
		}

		// Use password from config if not in URI or if empty in URI
		if opt.Password == "" && cfg.Password != "" {
			opt.Password = cfg.Password
		}

		client = redis.NewClient(opt)
	} else {
		address := fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)

		client = redis.NewClient(&redis.Options{
			Addr:     address,
			Username: cfg.Username,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
	}

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

// watch runs fn in a WATCH/MULTI transaction on keys, retrying when another
// client modified a watched key before EXEC
func watch(ctx context.Context, client *redis.Client, fn func(tx *redis.Tx) error, keys ...string) error {
	for i := 0; i < maxTxRetries; i++ {
		err := client.Watch(ctx, fn, keys...)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrContention
}
