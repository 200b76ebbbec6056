// Package session manages the advisory live-tracking session state.
// A session is just a cache entry with a TTL; absence of keepalives
// expires it silently, no cleanup job required. The server never pushes
// to a session, clients query it to pick their sampling interval.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/kvstore"
)

// Modes a client can request.
const (
	ModeLive   = "live"
	ModeMotion = "motion"
)

// State is the session snapshot returned to clients.
type State struct {
	SessionID uuid.UUID `json:"session_id"`
	UserID    uuid.UUID `json:"user_id"`
	FamilyID  uuid.UUID `json:"family_id"`
	Mode      string    `json:"mode"`
	IntervalS int       `json:"interval_s"`
	StartedAt time.Time `json:"started_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Gate owns session lifecycle on top of the shared cache.
type Gate struct {
	store kvstore.Store
	ttl   time.Duration
	now   func() time.Time
}

// NewGate creates a session gate with the configured TTL.
func NewGate(store kvstore.Store, ttl time.Duration) *Gate {
	return &Gate{store: store, ttl: ttl, now: time.Now}
}

// NewGateWithClock creates a session gate with an injected clock.
func NewGateWithClock(store kvstore.Store, ttl time.Duration, now func() time.Time) *Gate {
	return &Gate{store: store, ttl: ttl, now: now}
}

// Start opens (or replaces) the user's live-tracking session. ttl is
// the family override; zero falls back to the service default.
func (g *Gate) Start(ctx context.Context, userID, familyID uuid.UUID, mode string, intervalS int, ttl time.Duration) (*State, error) {
	if mode != ModeLive && mode != ModeMotion {
		return nil, fmt.Errorf("unknown session mode %q", mode)
	}
	if intervalS <= 0 {
		intervalS = 5
	}

	ttl = g.effectiveTTL(ttl)
	now := g.now().UTC()
	state := &State{
		SessionID: uuid.New(),
		UserID:    userID,
		FamilyID:  familyID,
		Mode:      mode,
		IntervalS: intervalS,
		StartedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	if err := g.write(ctx, state, ttl); err != nil {
		return nil, err
	}

	return state, nil
}

// Keepalive extends the session by ttl (zero falls back to the service
// default). Returns nil when the session has already expired; callers
// read that as "not live". The swap is
// conditional on the entry being unchanged since the read, so a
// concurrent Start or Stop wins over the extension.
func (g *Gate) Keepalive(ctx context.Context, userID uuid.UUID, ttl time.Duration) (*State, error) {
	raw, ok, err := g.store.Get(ctx, sessionKey(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	if !ok {
		return nil, nil
	}

	var state State
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}

	ttl = g.effectiveTTL(ttl)
	state.ExpiresAt = g.now().UTC().Add(ttl)
	body, err := json.Marshal(&state)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session: %w", err)
	}

	swapped, err := g.store.CompareAndSwap(ctx, sessionKey(userID), raw, string(body), ttl)
	if err != nil {
		return nil, fmt.Errorf("failed to extend session: %w", err)
	}
	if !swapped {
		return g.Get(ctx, userID)
	}

	return &state, nil
}

// Stop closes the session. Reports whether one was live.
func (g *Gate) Stop(ctx context.Context, userID uuid.UUID) (bool, error) {
	state, err := g.Get(ctx, userID)
	if err != nil {
		return false, err
	}
	if state == nil {
		return false, nil
	}

	if err := g.store.Delete(ctx, sessionKey(userID)); err != nil {
		return false, fmt.Errorf("failed to delete session: %w", err)
	}

	return true, nil
}

// Get returns the user's live session, or nil when none is live.
func (g *Gate) Get(ctx context.Context, userID uuid.UUID) (*State, error) {
	raw, ok, err := g.store.Get(ctx, sessionKey(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	if !ok {
		return nil, nil
	}

	var state State
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}

	return &state, nil
}

func (g *Gate) write(ctx context.Context, state *State, ttl time.Duration) error {
	body, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	if err := g.store.Set(ctx, sessionKey(state.UserID), string(body), ttl); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}

	return nil
}

func (g *Gate) effectiveTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return g.ttl
	}
	return ttl
}

func sessionKey(userID uuid.UUID) string {
	return "session:live:" + userID.String()
}
