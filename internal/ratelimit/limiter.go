package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/kvstore"
)

// Limiter throttles per-user single-fix ingestion with a fixed window
// keyed in the shared cache. The window key's TTL is the minimum
// inter-fix interval; while the key lives, further fixes are rejected.
type Limiter struct {
	store    kvstore.Store
	interval time.Duration
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// NewLimiter creates a limiter with the given minimum inter-fix interval.
func NewLimiter(store kvstore.Store, interval time.Duration) *Limiter {
	return &Limiter{store: store, interval: interval}
}

// Allow reserves the user's window. A rejected request must have no
// side effects, so Allow is called before any pipeline stage that writes.
func (l *Limiter) Allow(ctx context.Context, userID string, interval time.Duration) (Decision, error) {
	if interval <= 0 {
		interval = l.interval
	}
	if interval <= 0 {
		return Decision{Allowed: true}, nil
	}

	key := windowKey(userID)
	ok, err := l.store.SetNX(ctx, key, "1", interval)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to reserve rate window: %w", err)
	}
	if ok {
		return Decision{Allowed: true}, nil
	}

	retryAfter, err := l.store.TTL(ctx, key)
	if errors.Is(err, kvstore.ErrNotFound) {
		// Window expired between SetNX and TTL. Let the next attempt in.
		retryAfter = time.Second
		err = nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("failed to read rate window ttl: %w", err)
	}
	if retryAfter < time.Second {
		retryAfter = time.Second
	}

	return Decision{Allowed: false, RetryAfter: retryAfter}, nil
}

func windowKey(userID string) string {
	return "ratelimit:fix:" + userID
}
