package memory_test

import (
	"context"
	"testing"

	"github.com/navikt/zparty/internal/models"
	"github.com/navikt/zparty/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresenceTracker(t *testing.T) {
	tracker := memory.NewPresenceTracker()
	ctx := context.Background()

	t.Run("UnknownParticipant", func(t *testing.T) {
		status, err := tracker.StatusOf(ctx, "ghost")
		require.NoError(t, err)
		assert.Equal(t, models.PresenceUnknown, status)

		_, err = tracker.Resolve(ctx, "no-such-conn")
		assert.ErrorIs(t, err, models.ErrConnectionNotFound)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("BindAndResolve", func(t *testing.T) {
		require.NoError(t, tracker.Bind(ctx, "conn-1", "alice"))

		participantID, err := tracker.Resolve(ctx, "conn-1")
		require.NoError(t, err)
		assert.Equal(t, "alice", participantID)

		status, err := tracker.StatusOf(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, models.PresenceActive, status)
	})

	t.Run("UnbindIsIdempotent", func(t *testing.T) {
		changed, err := tracker.Unbind(ctx, "conn-1")
		require.NoError(t, err)
		assert.True(t, changed)

		changed, err = tracker.Unbind(ctx, "conn-1")
		require.NoError(t, err)
		assert.False(t, changed, "second unbind must be a no-op")

		changed, err = tracker.Unbind(ctx, "never-seen")
		require.NoError(t, err)
		assert.False(t, changed)

		status, err := tracker.StatusOf(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, models.PresenceInactive, status)

		// History is kept for reconnects
		participantID, err := tracker.Resolve(ctx, "conn-1")
		require.NoError(t, err)
		assert.Equal(t, "alice", participantID)
	})

	t.Run("RebindReactivates", func(t *testing.T) {
		require.NoError(t, tracker.Bind(ctx, "conn-2", "alice"))

		status, err := tracker.StatusOf(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, models.PresenceActive, status)
	})

	t.Run("ConnectionMovesToNewParticipant", func(t *testing.T) {
		require.NoError(t, tracker.Bind(ctx, "conn-3", "bob"))
		require.NoError(t, tracker.Bind(ctx, "conn-3", "carol"))

		participantID, err := tracker.Resolve(ctx, "conn-3")
		require.NoError(t, err)
		assert.Equal(t, "carol", participantID)

		status, err := tracker.StatusOf(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, models.PresenceUnknown, status)
	})
}
