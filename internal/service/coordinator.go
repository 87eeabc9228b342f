// Package service implements the room membership coordinator
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/navikt/zparty/internal/codegen"
	"github.com/navikt/zparty/internal/config"
	"github.com/navikt/zparty/internal/metrics"
	"github.com/navikt/zparty/internal/models"
	"github.com/navikt/zparty/internal/repository"
	"github.com/navikt/zparty/internal/utils"
	"github.com/rs/zerolog/log"
)

// createRetries bounds how often a code is regenerated when another caller
// claimed it between the uniqueness check and Create
const createRetries = 3

// Internal predicate outcomes that are not failures for the caller
var (
	errAlreadyMember = errors.New("already a member")
	errNoChange      = errors.New("no change")
)

// ErrMemberActive is returned by ExpireMember when the member came back
var ErrMemberActive = fmt.Errorf("%w: member is connected", models.ErrConflict)

// CreateRoomInput is the input to CreateRoom. An empty participant id is
// replaced with a freshly minted one.
type CreateRoomInput struct {
	Participant  models.Participant
	Config       models.RoomConfig
	ConnectionID string
}

// FindResult reports whether a room can be joined
type FindResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Coordinator provides the room lifecycle and membership operations. Every
// state change is a single registry call whose predicate carries the
// authorization and precondition checks.
type Coordinator struct {
	rooms     repository.RoomRegistry
	presence  repository.PresenceTracker
	codes     *codegen.Generator
	policy    codegen.ContentPolicy
	validator *Validator
	metrics   *metrics.Recorder
	now       func() time.Time
	newID     func() string
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithMetrics records operation outcomes
func WithMetrics(rec *metrics.Recorder) Option {
	return func(c *Coordinator) { c.metrics = rec }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithContentPolicy overrides the content policy for generated codes
func WithContentPolicy(policy codegen.ContentPolicy) Option {
	return func(c *Coordinator) { c.policy = policy }
}

// WithIDGenerator overrides how participant ids and host secrets are minted
func WithIDGenerator(newID func() string) Option {
	return func(c *Coordinator) { c.newID = newID }
}

// NewCoordinator creates a coordinator over the given stores
func NewCoordinator(rooms repository.RoomRegistry, presence repository.PresenceTracker, cfg config.RoomsConfig, opts ...Option) (*Coordinator, error) {
	codes, err := codegen.NewGenerator(cfg.CodeAlphabet, cfg.CodeLength, cfg.CodeMaxAttempts)
	if err != nil {
		return nil, fmt.Errorf("invalid room code settings: %w", err)
	}

	c := &Coordinator{
		rooms:     rooms,
		presence:  presence,
		codes:     codes,
		policy:    codegen.NewBlocklist(cfg.BlockedWords...),
		validator: NewValidator(cfg),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Validator returns the input validator used by the coordinator
func (c *Coordinator) Validator() *Validator {
	return c.validator
}

// observe records the outcome of an operation
func (c *Coordinator) observe(operation string, started time.Time, err error) {
	c.metrics.ObserveOperation(operation, ResultLabel(err), started)
}

// ResultLabel maps an error to a short category label
func ResultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	case errors.Is(err, models.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, models.ErrConflict):
		return "conflict"
	case errors.Is(err, models.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, codegen.ErrGenerationExhausted):
		return "exhausted"
	case errors.Is(err, models.ErrPredicateFailed):
		return "predicate_failed"
	default:
		return "error"
	}
}

// predicateReason returns the reason a registry predicate gave, so callers see
// the specific failure rather than the generic ErrPredicateFailed
func predicateReason(err error) error {
	if !errors.Is(err, models.ErrPredicateFailed) {
		return err
	}
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		for _, e := range joined.Unwrap() {
			if e != models.ErrPredicateFailed {
				return e
			}
		}
	}
	return err
}

func requireSecret(room *models.Room, secret string) error {
	if !room.CheckSecret(secret) {
		return models.ErrInvalidSecret
	}
	return nil
}

// CreateRoom creates a room with the participant as its only member and host
func (c *Coordinator) CreateRoom(ctx context.Context, in CreateRoomInput) (room *models.Room, err error) {
	defer func(started time.Time) { c.observe("create_room", started, err) }(time.Now())

	name, err := c.validator.NormalizeName(in.Participant.Name)
	if err != nil {
		return nil, err
	}
	if err := c.validator.ValidateRoomConfig(in.Config); err != nil {
		return nil, err
	}

	participantID := in.Participant.ID
	if participantID == "" {
		participantID = c.newID()
	} else if err := c.validator.ValidateID("participant id", participantID); err != nil {
		return nil, err
	}
	if in.ConnectionID != "" {
		if err := c.validator.ValidateID("connection id", in.ConnectionID); err != nil {
			return nil, err
		}
	}

	isUnique := func(ctx context.Context, code string) (bool, error) {
		exists, err := c.rooms.Exists(ctx, code)
		return !exists, err
	}

	for attempt := 0; attempt < createRetries; attempt++ {
		code, err := c.codes.Generate(ctx, isUnique, c.policy)
		if err != nil {
			log.Error().Err(err).Str("module", "service.coordinator").Msg("Failed to generate room code")
			return nil, err
		}

		now := c.now()
		candidate := &models.Room{
			Code: code,
			Members: []models.Member{{
				ParticipantID: participantID,
				Name:          name,
				ConnectionID:  in.ConnectionID,
				Connected:     true,
				IsHost:        true,
				JoinedAt:      now,
			}},
			HostSecret: c.newID(),
			State:      models.RoomStateCreated,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if in.Config.IsLocked != nil {
			candidate.IsLocked = *in.Config.IsLocked
		}
		if in.Config.MaxMembers != nil {
			candidate.MaxMembers = *in.Config.MaxMembers
		}

		room, err = c.rooms.Create(ctx, candidate)
		if errors.Is(err, models.ErrDuplicateCode) {
			log.Debug().Str("module", "service.coordinator").Str("code", code).Msg("Room code taken, regenerating")
			continue
		}
		if err != nil {
			return nil, err
		}

		if err := c.bind(ctx, in.ConnectionID, participantID); err != nil {
			return room, err
		}

		log.Info().
			Str("module", "service.coordinator").
			Str("code", room.Code).
			Str("participant", participantID).
			Str("name", utils.SanitizeLogString(name)).
			Msg("Room created")
		return room, nil
	}

	return nil, fmt.Errorf("%w: could not claim a free room code", codegen.ErrGenerationExhausted)
}

// JoinRoom adds the participant to the room. Joining a room one already
// belongs to returns the current snapshot with joined set to false.
func (c *Coordinator) JoinRoom(ctx context.Context, code string, participant models.Participant, connectionID string) (room *models.Room, joined bool, err error) {
	defer func(started time.Time) { c.observe("join_room", started, err) }(time.Now())

	if code, err = c.validator.NormalizeCode(code); err != nil {
		return nil, false, err
	}
	if err = c.validator.ValidateID("participant id", participant.ID); err != nil {
		return nil, false, err
	}
	name, err := c.validator.NormalizeName(participant.Name)
	if err != nil {
		return nil, false, err
	}

	now := c.now()
	room, err = c.rooms.Mutate(ctx, code,
		func(r *models.Room) error {
			if r.IsMember(participant.ID) {
				return errAlreadyMember
			}
			return checkJoinable(r)
		},
		func(r *models.Room) {
			r.Members = append(r.Members, models.Member{
				ParticipantID: participant.ID,
				Name:          name,
				ConnectionID:  connectionID,
				Connected:     true,
				JoinedAt:      now,
			})
			if r.State == models.RoomStateCreated {
				r.State = models.RoomStateActive
			}
		},
	)
	if errors.Is(err, errAlreadyMember) {
		room, err = c.rooms.Get(ctx, code)
		return room, false, err
	}
	if err != nil {
		return nil, false, predicateReason(err)
	}
	if err := c.bind(ctx, connectionID, participant.ID); err != nil {
		return room, true, err
	}

	log.Info().
		Str("module", "service.coordinator").
		Str("code", code).
		Str("participant", participant.ID).
		Int("members", len(room.Members)).
		Msg("Participant joined room")
	return room, true, nil
}

// checkJoinable reports why a new member may not enter. Full is checked before locked.
func checkJoinable(r *models.Room) error {
	if r.IsFull() {
		return models.ErrRoomFull
	}
	if r.IsLocked {
		return models.ErrRoomLocked
	}
	return nil
}

// checkSeat reports whether connectionID may take over the member's seat
func checkSeat(r *models.Room, m models.Member, connectionID, hostSecret string) error {
	if m.ConnectionID == connectionID {
		return nil
	}
	if m.IsHost {
		return requireSecret(r, hostSecret)
	}
	if m.Connected && m.ConnectionID != "" {
		return models.ErrSeatTaken
	}
	return nil
}

// bind records the connection as the participant's active connection
func (c *Coordinator) bind(ctx context.Context, connectionID, participantID string) error {
	if connectionID == "" {
		return nil
	}
	if err := c.presence.Bind(ctx, connectionID, participantID); err != nil {
		return fmt.Errorf("failed to bind connection: %w", err)
	}
	return nil
}

// LeaveRoom removes the participant. A leaving host hands over to the
// earliest-joined remaining member with a fresh secret; the last member
// leaving closes the room.
func (c *Coordinator) LeaveRoom(ctx context.Context, code, participantID string) (room *models.Room, err error) {
	defer func(started time.Time) { c.observe("leave_room", started, err) }(time.Now())

	if code, err = c.validator.NormalizeCode(code); err != nil {
		return nil, err
	}

	room, err = c.leave(ctx, code, participantID, nil)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("module", "service.coordinator").
		Str("code", code).
		Str("participant", participantID).
		Str("state", room.State.String()).
		Msg("Participant left room")
	return room, nil
}

// leave removes a member if it exists and extra, when given, holds for it
func (c *Coordinator) leave(ctx context.Context, code, participantID string, extra func(m models.Member) error) (*models.Room, error) {
	room, err := c.rooms.Mutate(ctx, code,
		func(r *models.Room) error {
			i := r.MemberIndex(participantID)
			if i < 0 {
				return models.ErrNotMember
			}
			if extra != nil {
				return extra(r.Members[i])
			}
			return nil
		},
		func(r *models.Room) {
			i := r.MemberIndex(participantID)
			wasHost := r.Members[i].IsHost
			r.RemoveMember(participantID)
			if wasHost && len(r.Members) > 0 {
				r.Members[0].IsHost = true
				r.HostSecret = c.newID()
			}
		},
	)
	if err != nil {
		return nil, predicateReason(err)
	}
	return room, nil
}

// Kick removes a member on behalf of the host
func (c *Coordinator) Kick(ctx context.Context, code, hostSecret, targetID string) (room *models.Room, err error) {
	defer func(started time.Time) { c.observe("kick", started, err) }(time.Now())

	if code, err = c.validator.NormalizeCode(code); err != nil {
		return nil, err
	}

	room, err = c.rooms.Mutate(ctx, code,
		func(r *models.Room) error {
			if err := requireSecret(r, hostSecret); err != nil {
				return err
			}
			if host, ok := r.Host(); ok && host.ParticipantID == targetID {
				return models.ErrCannotKickSelf
			}
			if !r.IsMember(targetID) {
				return models.ErrNotMember
			}
			return nil
		},
		func(r *models.Room) {
			r.RemoveMember(targetID)
		},
	)
	if err != nil {
		return nil, predicateReason(err)
	}

	log.Info().
		Str("module", "service.coordinator").
		Str("code", code).
		Str("participant", targetID).
		Msg("Participant kicked from room")
	return room, nil
}

// TransferHost makes another member the host and rotates the secret
func (c *Coordinator) TransferHost(ctx context.Context, code, hostSecret, targetID string) (room *models.Room, err error) {
	defer func(started time.Time) { c.observe("transfer_host", started, err) }(time.Now())

	if code, err = c.validator.NormalizeCode(code); err != nil {
		return nil, err
	}

	room, err = c.rooms.Mutate(ctx, code,
		func(r *models.Room) error {
			if err := requireSecret(r, hostSecret); err != nil {
				return err
			}
			i := r.MemberIndex(targetID)
			if i < 0 {
				return models.ErrNotMember
			}
			if r.Members[i].IsHost {
				return models.ErrAlreadyHost
			}
			return nil
		},
		func(r *models.Room) {
			for i := range r.Members {
				r.Members[i].IsHost = r.Members[i].ParticipantID == targetID
			}
			r.HostSecret = c.newID()
		},
	)
	if err != nil {
		return nil, predicateReason(err)
	}

	log.Info().
		Str("module", "service.coordinator").
		Str("code", code).
		Str("host", targetID).
		Msg("Host transferred")
	return room, nil
}

// ToggleLock flips whether new members may join
func (c *Coordinator) ToggleLock(ctx context.Context, code, hostSecret string) (room *models.Room, err error) {
	defer func(started time.Time) { c.observe("toggle_lock", started, err) }(time.Now())

	if code, err = c.validator.NormalizeCode(code); err != nil {
		return nil, err
	}

	room, err = c.rooms.Mutate(ctx, code,
		func(r *models.Room) error {
			return requireSecret(r, hostSecret)
		},
		func(r *models.Room) {
			r.IsLocked = !r.IsLocked
		},
	)
	if err != nil {
		return nil, predicateReason(err)
	}

	log.Info().
		Str("module", "service.coordinator").
		Str("code", code).
		Bool("locked", room.IsLocked).
		Msg("Room lock toggled")
	return room, nil
}

// UpdateRoom changes the lock and capacity settings on behalf of the host
func (c *Coordinator) UpdateRoom(ctx context.Context, code, hostSecret string, cfg models.RoomConfig) (room *models.Room, err error) {
	defer func(started time.Time) { c.observe("update_room", started, err) }(time.Now())

	if code, err = c.validator.NormalizeCode(code); err != nil {
		return nil, err
	}
	if err = c.validator.ValidateRoomConfig(cfg); err != nil {
		return nil, err
	}

	room, err = c.rooms.Mutate(ctx, code,
		func(r *models.Room) error {
			if err := requireSecret(r, hostSecret); err != nil {
				return err
			}
			if cfg.MaxMembers != nil && *cfg.MaxMembers < len(r.Members) {
				return models.ErrCapacityBelowMembers
			}
			return nil
		},
		func(r *models.Room) {
			if cfg.IsLocked != nil {
				r.IsLocked = *cfg.IsLocked
			}
			if cfg.MaxMembers != nil {
				r.MaxMembers = *cfg.MaxMembers
			}
		},
	)
	if err != nil {
		return nil, predicateReason(err)
	}

	log.Info().
		Str("module", "service.coordinator").
		Str("code", code).
		Bool("locked", room.IsLocked).
		Int("max_members", room.MaxMembers).
		Msg("Room updated")
	return room, nil
}

// Connect attaches a connection to the participant's seat in the room. A
// participant who is not yet a member joins under the usual capacity and lock
// rules. Moving an existing seat to a new connection fails with
// models.ErrSeatTaken while another connection holds it, and the host seat
// only moves for a caller presenting the current host secret.
func (c *Coordinator) Connect(ctx context.Context, code string, participant models.Participant, connectionID, hostSecret string) (room *models.Room, err error) {
	defer func(started time.Time) { c.observe("connect", started, err) }(time.Now())

	if code, err = c.validator.NormalizeCode(code); err != nil {
		return nil, err
	}
	if err = c.validator.ValidateID("participant id", participant.ID); err != nil {
		return nil, err
	}
	if err = c.validator.ValidateID("connection id", connectionID); err != nil {
		return nil, err
	}

	now := c.now()
	room, err = c.rooms.Mutate(ctx, code,
		func(r *models.Room) error {
			if i := r.MemberIndex(participant.ID); i >= 0 {
				return checkSeat(r, r.Members[i], connectionID, hostSecret)
			}
			if _, err := c.validator.NormalizeName(participant.Name); err != nil {
				return err
			}
			return checkJoinable(r)
		},
		func(r *models.Room) {
			if i := r.MemberIndex(participant.ID); i >= 0 {
				r.Members[i].ConnectionID = connectionID
				r.Members[i].Connected = true
				r.Members[i].DisconnectedAt = time.Time{}
				return
			}
			name, _ := c.validator.NormalizeName(participant.Name)
			r.Members = append(r.Members, models.Member{
				ParticipantID: participant.ID,
				Name:          name,
				ConnectionID:  connectionID,
				Connected:     true,
				JoinedAt:      now,
			})
			if r.State == models.RoomStateCreated {
				r.State = models.RoomStateActive
			}
		},
	)
	if err != nil {
		return nil, predicateReason(err)
	}
	if err := c.bind(ctx, connectionID, participant.ID); err != nil {
		return room, err
	}

	log.Debug().
		Str("module", "service.coordinator").
		Str("code", code).
		Str("participant", participant.ID).
		Str("connection", connectionID).
		Msg("Connection attached")
	return room, nil
}

// Disconnect marks the participant behind the connection as disconnected in
// every room where that connection is current. Unknown or already
// disconnected connections are a no-op. Only changed rooms are returned.
func (c *Coordinator) Disconnect(ctx context.Context, connectionID string) (rooms []*models.Room, err error) {
	defer func(started time.Time) { c.observe("disconnect", started, err) }(time.Now())

	participantID, err := c.presence.Resolve(ctx, connectionID)
	if errors.Is(err, models.ErrConnectionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if _, err := c.presence.Unbind(ctx, connectionID); err != nil {
		return nil, fmt.Errorf("failed to unbind connection: %w", err)
	}

	codes, err := c.rooms.RoomsForMember(ctx, participantID)
	if err != nil {
		return nil, err
	}

	now := c.now()
	for _, code := range codes {
		room, err := c.rooms.Mutate(ctx, code,
			func(r *models.Room) error {
				i := r.MemberIndex(participantID)
				if i < 0 || !r.Members[i].Connected || r.Members[i].ConnectionID != connectionID {
					return errNoChange
				}
				return nil
			},
			func(r *models.Room) {
				i := r.MemberIndex(participantID)
				r.Members[i].Connected = false
				r.Members[i].DisconnectedAt = now
			},
		)
		if errors.Is(err, errNoChange) || errors.Is(err, models.ErrRoomNotFound) {
			continue
		}
		if err != nil {
			return rooms, err
		}
		rooms = append(rooms, room)
	}

	if len(rooms) > 0 {
		log.Info().
			Str("module", "service.coordinator").
			Str("participant", participantID).
			Str("connection", connectionID).
			Int("rooms", len(rooms)).
			Msg("Participant disconnected")
	}
	return rooms, nil
}

// Reconnect moves the participant behind oldConnectionID onto
// newConnectionID in every room where the old connection is still the
// current one. A superseded old id changes nothing, presence included.
func (c *Coordinator) Reconnect(ctx context.Context, oldConnectionID, newConnectionID string) (rooms []*models.Room, err error) {
	defer func(started time.Time) { c.observe("reconnect", started, err) }(time.Now())

	if err = c.validator.ValidateID("connection id", newConnectionID); err != nil {
		return nil, err
	}

	participantID, err := c.presence.Resolve(ctx, oldConnectionID)
	if err != nil {
		return nil, err
	}

	codes, err := c.rooms.RoomsForMember(ctx, participantID)
	if err != nil {
		return nil, err
	}

	for _, code := range codes {
		room, err := c.rooms.Mutate(ctx, code,
			func(r *models.Room) error {
				i := r.MemberIndex(participantID)
				if i < 0 || r.Members[i].ConnectionID != oldConnectionID {
					return errNoChange
				}
				return nil
			},
			func(r *models.Room) {
				i := r.MemberIndex(participantID)
				r.Members[i].ConnectionID = newConnectionID
				r.Members[i].Connected = true
				r.Members[i].DisconnectedAt = time.Time{}
			},
		)
		if errors.Is(err, errNoChange) || errors.Is(err, models.ErrRoomNotFound) {
			continue
		}
		if err != nil {
			return rooms, err
		}
		rooms = append(rooms, room)
	}

	if len(rooms) == 0 {
		log.Debug().
			Str("module", "service.coordinator").
			Str("connection", oldConnectionID).
			Msg("Reconnect with superseded connection ignored")
		return nil, nil
	}

	if _, err := c.presence.Unbind(ctx, oldConnectionID); err != nil {
		return rooms, fmt.Errorf("failed to unbind connection: %w", err)
	}
	if err := c.bind(ctx, newConnectionID, participantID); err != nil {
		return rooms, err
	}

	log.Info().
		Str("module", "service.coordinator").
		Str("participant", participantID).
		Str("connection", newConnectionID).
		Int("rooms", len(rooms)).
		Msg("Participant reconnected")
	return rooms, nil
}

// GetRoom returns the current snapshot of a room
func (c *Coordinator) GetRoom(ctx context.Context, code string) (room *models.Room, err error) {
	defer func(started time.Time) { c.observe("get_room", started, err) }(time.Now())

	if code, err = c.validator.NormalizeCode(code); err != nil {
		return nil, err
	}
	return c.rooms.Get(ctx, code)
}

// FindRoom reports whether a room exists and has space
func (c *Coordinator) FindRoom(ctx context.Context, code string) (FindResult, error) {
	room, err := c.GetRoom(ctx, code)
	if errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrInvalidInput) {
		return FindResult{Success: false, Message: "No room found matching this ID"}, nil
	}
	if err != nil {
		return FindResult{}, err
	}
	if room.IsFull() {
		return FindResult{Success: false, Message: "This room is full"}, nil
	}
	return FindResult{Success: true}, nil
}

// RoomsForParticipant returns every room the participant belongs to
func (c *Coordinator) RoomsForParticipant(ctx context.Context, participantID string) ([]*models.Room, error) {
	codes, err := c.rooms.RoomsForMember(ctx, participantID)
	if err != nil {
		return nil, err
	}

	rooms := make([]*models.Room, 0, len(codes))
	for _, code := range codes {
		room, err := c.rooms.Get(ctx, code)
		if errors.Is(err, models.ErrRoomNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, nil
}

// PresenceOf returns the aggregated connection status of a participant
func (c *Coordinator) PresenceOf(ctx context.Context, participantID string) (models.PresenceStatus, error) {
	return c.presence.StatusOf(ctx, participantID)
}

// ResolveConnection returns the participant a connection is bound to
func (c *Coordinator) ResolveConnection(ctx context.Context, connectionID string) (string, error) {
	return c.presence.Resolve(ctx, connectionID)
}

// ListRooms returns all rooms
func (c *Coordinator) ListRooms(ctx context.Context) ([]*models.Room, error) {
	return c.rooms.List(ctx)
}

// ExpireMember removes a member who has been disconnected since before cutoff.
// It fails with ErrMemberActive if the member reconnected meanwhile.
func (c *Coordinator) ExpireMember(ctx context.Context, code, participantID string, cutoff time.Time) (room *models.Room, err error) {
	defer func(started time.Time) { c.observe("expire_member", started, err) }(time.Now())

	room, err = c.leave(ctx, code, participantID, func(m models.Member) error {
		if m.Connected || m.DisconnectedAt.IsZero() || !m.DisconnectedAt.Before(cutoff) {
			return ErrMemberActive
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("module", "service.coordinator").
		Str("code", code).
		Str("participant", participantID).
		Msg("Disconnected member expired")
	return room, nil
}
