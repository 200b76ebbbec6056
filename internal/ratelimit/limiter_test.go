package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/kvstore"
)

func TestAllowFirstFix(t *testing.T) {
	ctx := context.Background()
	limiter := NewLimiter(kvstore.NewMemory(), 5*time.Second)

	d, err := limiter.Allow(ctx, "user-1", 0)
	if err != nil {
		t.Fatalf("allow failed: %v", err)
	}
	if !d.Allowed {
		t.Errorf("first fix should be allowed, got %+v", d)
	}
}

func TestAllowRejectsWithinWindow(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 14, 10, 0, 0, 0, time.UTC)
	store := kvstore.NewMemoryWithClock(func() time.Time { return now })
	limiter := NewLimiter(store, 5*time.Second)

	if d, _ := limiter.Allow(ctx, "user-1", 0); !d.Allowed {
		t.Fatal("first fix should be allowed")
	}

	d, err := limiter.Allow(ctx, "user-1", 0)
	if err != nil {
		t.Fatalf("allow failed: %v", err)
	}
	if d.Allowed {
		t.Error("second fix inside the window should be rejected")
	}
	if d.RetryAfter < time.Second {
		t.Errorf("retry_after = %v, want at least 1s", d.RetryAfter)
	}
}

func TestAllowAfterWindowExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 14, 10, 0, 0, 0, time.UTC)
	store := kvstore.NewMemoryWithClock(func() time.Time { return now })
	limiter := NewLimiter(store, 5*time.Second)

	limiter.Allow(ctx, "user-1", 0)
	now = now.Add(6 * time.Second)

	d, err := limiter.Allow(ctx, "user-1", 0)
	if err != nil {
		t.Fatalf("allow failed: %v", err)
	}
	if !d.Allowed {
		t.Errorf("fix after the window should be allowed, got %+v", d)
	}
}

func TestAllowPerUserWindows(t *testing.T) {
	ctx := context.Background()
	limiter := NewLimiter(kvstore.NewMemory(), 5*time.Second)

	limiter.Allow(ctx, "user-1", 0)

	d, _ := limiter.Allow(ctx, "user-2", 0)
	if !d.Allowed {
		t.Error("another user's window must not block this user")
	}
}

func TestAllowIntervalOverride(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 14, 10, 0, 0, 0, time.UTC)
	store := kvstore.NewMemoryWithClock(func() time.Time { return now })
	limiter := NewLimiter(store, 5*time.Second)

	// Family override widens the window past the service default.
	limiter.Allow(ctx, "user-1", 30*time.Second)
	now = now.Add(10 * time.Second)

	d, _ := limiter.Allow(ctx, "user-1", 30*time.Second)
	if d.Allowed {
		t.Error("fix inside the widened window should be rejected")
	}
}

func TestAllowZeroIntervalDisablesLimiting(t *testing.T) {
	ctx := context.Background()
	limiter := NewLimiter(kvstore.NewMemory(), 0)

	for i := 0; i < 3; i++ {
		d, err := limiter.Allow(ctx, "user-1", 0)
		if err != nil || !d.Allowed {
			t.Fatalf("attempt %d = (%+v, %v), want allowed", i, d, err)
		}
	}
}
