package service

import (
	"context"
	"errors"
	"time"

	"github.com/navikt/zparty/internal/metrics"
	"github.com/navikt/zparty/internal/models"
	"github.com/rs/zerolog/log"
)

// Reaper removes members that stayed disconnected longer than the grace
// period, through the same path as an explicit leave
type Reaper struct {
	coordinator *Coordinator
	broadcaster Broadcaster
	metrics     *metrics.Recorder
	grace       time.Duration
	interval    time.Duration
	now         func() time.Time
}

// NewReaper creates a reaper. broadcaster and rec may be nil.
func NewReaper(c *Coordinator, broadcaster Broadcaster, rec *metrics.Recorder, grace, interval time.Duration) *Reaper {
	return &Reaper{
		coordinator: c,
		broadcaster: broadcaster,
		metrics:     rec,
		grace:       grace,
		interval:    interval,
		now:         c.now,
	}
}

// Run sweeps on every interval until ctx is cancelled
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	log.Info().
		Str("module", "service.reaper").
		Dur("grace", r.grace).
		Dur("interval", r.interval).
		Msg("Reaper started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				log.Error().Err(err).Str("module", "service.reaper").Msg("Sweep failed")
			}
		}
	}
}

// Sweep removes every expired member once and returns how many were removed
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	rooms, err := r.coordinator.ListRooms(ctx)
	if err != nil {
		return 0, err
	}
	r.metrics.SetRooms(len(rooms))

	cutoff := r.now().Add(-r.grace)
	removed := 0

	for _, room := range rooms {
		for _, m := range room.Members {
			if m.Connected || m.DisconnectedAt.IsZero() || !m.DisconnectedAt.Before(cutoff) {
				continue
			}

			updated, err := r.coordinator.ExpireMember(ctx, room.Code, m.ParticipantID, cutoff)
			if errors.Is(err, ErrMemberActive) || errors.Is(err, models.ErrNotFound) {
				continue
			}
			if err != nil {
				return removed, err
			}

			removed++
			r.metrics.MemberReaped()
			Publish(r.broadcaster, ExitEvents(updated, m.ParticipantID, models.ExitReasonLeft)...)
		}
	}

	return removed, nil
}
