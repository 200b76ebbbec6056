package session

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/kvstore"
)

const sessionTTL = 300 * time.Second

func testClock(start time.Time) (*time.Time, func() time.Time) {
	now := start
	return &now, func() time.Time { return now }
}

func TestStartAndGet(t *testing.T) {
	ctx := context.Background()
	_, clock := testClock(time.Date(2026, 8, 14, 10, 0, 0, 0, time.UTC))
	gate := NewGateWithClock(kvstore.NewMemoryWithClock(clock), sessionTTL, clock)

	userID, familyID := uuid.New(), uuid.New()

	state, err := gate.Start(ctx, userID, familyID, ModeLive, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, ModeLive, state.Mode)
	assert.Equal(t, 5, state.IntervalS, "interval defaults when unset")
	assert.Equal(t, state.StartedAt.Add(sessionTTL), state.ExpiresAt)

	got, err := gate.Get(ctx, userID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, state.SessionID, got.SessionID)
}

func TestStartRejectsUnknownMode(t *testing.T) {
	_, clock := testClock(time.Now())
	gate := NewGateWithClock(kvstore.NewMemoryWithClock(clock), sessionTTL, clock)

	_, err := gate.Start(context.Background(), uuid.New(), uuid.New(), "turbo", 5, 0)
	assert.Error(t, err)
}

func TestStartReplacesSession(t *testing.T) {
	ctx := context.Background()
	_, clock := testClock(time.Now())
	gate := NewGateWithClock(kvstore.NewMemoryWithClock(clock), sessionTTL, clock)
	userID := uuid.New()

	first, err := gate.Start(ctx, userID, uuid.New(), ModeLive, 5, 0)
	require.NoError(t, err)

	second, err := gate.Start(ctx, userID, uuid.New(), ModeMotion, 10, 0)
	require.NoError(t, err)
	assert.NotEqual(t, first.SessionID, second.SessionID)

	got, err := gate.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, second.SessionID, got.SessionID)
	assert.Equal(t, ModeMotion, got.Mode)
}

func TestKeepaliveExtends(t *testing.T) {
	ctx := context.Background()
	now, clock := testClock(time.Date(2026, 8, 14, 10, 0, 0, 0, time.UTC))
	gate := NewGateWithClock(kvstore.NewMemoryWithClock(clock), sessionTTL, clock)
	userID := uuid.New()

	started, err := gate.Start(ctx, userID, uuid.New(), ModeLive, 5, 0)
	require.NoError(t, err)

	*now = now.Add(4 * time.Minute)
	extended, err := gate.Keepalive(ctx, userID, 0)
	require.NoError(t, err)
	require.NotNil(t, extended)
	assert.True(t, extended.ExpiresAt.After(started.ExpiresAt))

	// The session survives past its original deadline.
	*now = now.Add(4 * time.Minute)
	got, err := gate.Get(ctx, userID)
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestKeepaliveExpiredSession(t *testing.T) {
	ctx := context.Background()
	now, clock := testClock(time.Date(2026, 8, 14, 10, 0, 0, 0, time.UTC))
	gate := NewGateWithClock(kvstore.NewMemoryWithClock(clock), sessionTTL, clock)
	userID := uuid.New()

	_, err := gate.Start(ctx, userID, uuid.New(), ModeLive, 5, 0)
	require.NoError(t, err)

	*now = now.Add(10 * time.Minute)
	state, err := gate.Keepalive(ctx, userID, 0)
	require.NoError(t, err)
	assert.Nil(t, state, "expired session cannot be kept alive")
}

func TestStartFamilyTTLOverride(t *testing.T) {
	ctx := context.Background()
	now, clock := testClock(time.Date(2026, 8, 14, 10, 0, 0, 0, time.UTC))
	gate := NewGateWithClock(kvstore.NewMemoryWithClock(clock), sessionTTL, clock)
	userID := uuid.New()

	state, err := gate.Start(ctx, userID, uuid.New(), ModeLive, 5, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, state.StartedAt.Add(30*time.Minute), state.ExpiresAt)

	// The session outlives the default TTL.
	*now = now.Add(20 * time.Minute)
	got, err := gate.Get(ctx, userID)
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestKeepaliveFamilyTTLOverride(t *testing.T) {
	ctx := context.Background()
	now, clock := testClock(time.Date(2026, 8, 14, 10, 0, 0, 0, time.UTC))
	gate := NewGateWithClock(kvstore.NewMemoryWithClock(clock), sessionTTL, clock)
	userID := uuid.New()

	_, err := gate.Start(ctx, userID, uuid.New(), ModeLive, 5, 0)
	require.NoError(t, err)

	*now = now.Add(4 * time.Minute)
	extended, err := gate.Keepalive(ctx, userID, time.Hour)
	require.NoError(t, err)
	require.NotNil(t, extended)
	assert.Equal(t, now.Add(time.Hour), extended.ExpiresAt)

	*now = now.Add(50 * time.Minute)
	got, err := gate.Get(ctx, userID)
	require.NoError(t, err)
	assert.NotNil(t, got, "the extended session outlives the default TTL")
}

func TestStop(t *testing.T) {
	ctx := context.Background()
	_, clock := testClock(time.Now())
	gate := NewGateWithClock(kvstore.NewMemoryWithClock(clock), sessionTTL, clock)
	userID := uuid.New()

	stopped, err := gate.Stop(ctx, userID)
	require.NoError(t, err)
	assert.False(t, stopped, "stopping without a session reports false")

	_, err = gate.Start(ctx, userID, uuid.New(), ModeLive, 5, 0)
	require.NoError(t, err)

	stopped, err = gate.Stop(ctx, userID)
	require.NoError(t, err)
	assert.True(t, stopped)

	got, err := gate.Get(ctx, userID)
	require.NoError(t, err)
	assert.Nil(t, got)
}
