package memory

import (
	"context"
	"sync"
	"time"

	"github.com/navikt/zparty/internal/models"
)

// PresenceTracker implements the presence tracker with in-memory storage
type PresenceTracker struct {
	connections  map[string]*models.PresenceEntry
	participants map[string]map[string]struct{} // participant ID -> connection IDs
	mu           sync.RWMutex
}

// NewPresenceTracker creates a new in-memory presence tracker
func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{
		connections:  make(map[string]*models.PresenceEntry),
		participants: make(map[string]map[string]struct{}),
	}
}

// Bind associates a connection with a participant and marks it active
func (p *PresenceTracker) Bind(ctx context.Context, connectionID, participantID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	// A connection can only belong to one participant
	if existing, ok := p.connections[connectionID]; ok && existing.ParticipantID != participantID {
		if conns, ok := p.participants[existing.ParticipantID]; ok {
			delete(conns, connectionID)
			if len(conns) == 0 {
				delete(p.participants, existing.ParticipantID)
			}
		}
	}

	p.connections[connectionID] = &models.PresenceEntry{
		ConnectionID:  connectionID,
		ParticipantID: participantID,
		Status:        models.PresenceActive,
		UpdatedAt:     time.Now(),
	}

	conns, ok := p.participants[participantID]
	if !ok {
		conns = make(map[string]struct{})
		p.participants[participantID] = conns
	}
	conns[connectionID] = struct{}{}

	return nil
}

// Unbind marks a connection inactive, keeping the mapping for later reconnects
func (p *PresenceTracker) Unbind(ctx context.Context, connectionID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.connections[connectionID]
	if !ok || entry.Status == models.PresenceInactive {
		return false, nil
	}

	entry.Status = models.PresenceInactive
	entry.UpdatedAt = time.Now()
	return true, nil
}

// Resolve returns the participant bound to a connection
func (p *PresenceTracker) Resolve(ctx context.Context, connectionID string) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	entry, ok := p.connections[connectionID]
	if !ok {
		return "", models.ErrConnectionNotFound
	}
	return entry.ParticipantID, nil
}

// StatusOf returns the aggregated status of a participant's connections
func (p *PresenceTracker) StatusOf(ctx context.Context, participantID string) (models.PresenceStatus, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	conns, ok := p.participants[participantID]
	if !ok || len(conns) == 0 {
		return models.PresenceUnknown, nil
	}

	for connectionID := range conns {
		if entry, ok := p.connections[connectionID]; ok && entry.Status == models.PresenceActive {
			return models.PresenceActive, nil
		}
	}
	return models.PresenceInactive, nil
}
