package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/navikt/zparty/internal/config"
	"github.com/navikt/zparty/internal/models"
	"github.com/navikt/zparty/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStores(t *testing.T) {
	ctx := context.Background()

	t.Run("Memory", func(t *testing.T) {
		stores, err := repository.NewStores(config.RedisConfig{Enabled: false})
		require.NoError(t, err)
		defer stores.Close()

		assert.Equal(t, "memory", stores.Backend)
		assert.NoError(t, stores.Ping(ctx))
		assert.NoError(t, stores.Presence.Bind(ctx, "c1", "p1"))
	})

	t.Run("Redis", func(t *testing.T) {
		mr, err := miniredis.Run()
		require.NoError(t, err)
		defer mr.Close()

		stores, err := repository.NewStores(config.RedisConfig{
			Enabled:   true,
			Host:      mr.Host(),
			Port:      mr.Port(),
			KeyPrefix: "factory:",
			RoomTTL:   time.Hour,
		})
		require.NoError(t, err)
		defer stores.Close()

		assert.Equal(t, "redis", stores.Backend)
		assert.NoError(t, stores.Ping(ctx))

		_, err = stores.Rooms.Create(ctx, &models.Room{
			Code:    "FACT01",
			Members: []models.Member{{ParticipantID: "p1", IsHost: true}},
		})
		require.NoError(t, err)
		assert.True(t, mr.Exists("factory:rooms:FACT01"))

		mr.Close()
		assert.Error(t, stores.Ping(ctx))
	})

	t.Run("RedisUnavailable", func(t *testing.T) {
		_, err := repository.NewStores(config.RedisConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    "1",
		})
		assert.Error(t, err)
	})
}
