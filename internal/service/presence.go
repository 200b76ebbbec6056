package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/config"
	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/db"
)

// ReadStore is the persistence surface of the read APIs.
type ReadStore interface {
	ListFamilyMembers(ctx context.Context, familyID uuid.UUID) ([]db.Member, error)
	ListFamilyCurrentLocations(ctx context.Context, familyID uuid.UUID) ([]db.CurrentLocation, error)
	LatestDeviceSeen(ctx context.Context, userID uuid.UUID) (time.Time, bool, error)
	ListHistory(ctx context.Context, userID uuid.UUID, from, to time.Time, limit, offset int) ([]db.HistoryPoint, error)
	ListFamilyEvents(ctx context.Context, familyID uuid.UUID, limit, offset int) ([]db.Event, error)
}

// PresenceService serves the family map and trail reads. Staleness is
// derived at read time, never stored.
type PresenceService struct {
	store  ReadStore
	cfg    *config.Config
	logger *zap.Logger
	now    func() time.Time
}

// NewPresenceService creates the read-side service.
func NewPresenceService(store ReadStore, cfg *config.Config, logger *zap.Logger) *PresenceService {
	return &PresenceService{store: store, cfg: cfg, logger: logger, now: time.Now}
}

// FamilyPresence returns the current position and staleness class of
// every consenting family member.
func (p *PresenceService) FamilyPresence(ctx context.Context, familyID uuid.UUID) ([]MemberPresence, error) {
	members, err := p.store.ListFamilyMembers(ctx, familyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list family members: %w", err)
	}

	locations, err := p.store.ListFamilyCurrentLocations(ctx, familyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list family locations: %w", err)
	}

	byUser := make(map[uuid.UUID]*db.CurrentLocation, len(locations))
	for i := range locations {
		byUser[locations[i].UserID] = &locations[i]
	}

	now := p.now().UTC()
	var out []MemberPresence
	for _, member := range members {
		if !member.SharingEnabled {
			continue
		}

		loc := byUser[member.UserID]

		// The device heartbeat is a secondary freshness signal: a
		// device can be alive and rejecting fixes for quality reasons
		// while still phoning home.
		lastSeen, found, err := p.store.LatestDeviceSeen(ctx, member.UserID)
		if err != nil {
			p.logger.Warn("failed to read device heartbeat",
				zap.Error(err),
				zap.String("user_id", member.UserID.String()),
			)
			found = false
		}

		out = append(out, MemberPresence{
			UserID:      member.UserID,
			DisplayName: member.DisplayName,
			State:       p.classify(now, loc, lastSeen, found),
			Location:    loc,
		})
	}

	return out, nil
}

func (p *PresenceService) classify(now time.Time, loc *db.CurrentLocation, lastSeen time.Time, seenKnown bool) string {
	if loc == nil && !seenKnown {
		return PresenceNoLocation
	}

	freshness := time.Time{}
	if loc != nil {
		freshness = loc.UpdatedAt
	}
	if seenKnown && lastSeen.After(freshness) {
		freshness = lastSeen
	}

	if loc == nil {
		return PresenceNoLocation
	}

	age := now.Sub(freshness)
	switch {
	case age <= p.cfg.Presence.OnlineWithin:
		return PresenceOnline
	case age <= p.cfg.Presence.IdleWithin:
		return PresenceIdle
	default:
		return PresenceOffline
	}
}

// History returns one member's trail within a time range, most recent
// first. limit defaults to 100 and caps at 500.
func (p *PresenceService) History(ctx context.Context, userID uuid.UUID, from, to time.Time, limit, offset int) ([]db.HistoryPoint, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}
	if to.IsZero() {
		to = p.now().UTC()
	}
	if from.IsZero() {
		from = to.Add(-24 * time.Hour)
	}

	points, err := p.store.ListHistory(ctx, userID, from, to, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}

	return points, nil
}

// ActivityFeed returns the family's recent events, most recent first.
func (p *PresenceService) ActivityFeed(ctx context.Context, familyID uuid.UUID, limit, offset int) ([]db.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}

	events, err := p.store.ListFamilyEvents(ctx, familyID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list family events: %w", err)
	}

	return events, nil
}
