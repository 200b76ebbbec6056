package kvstore

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryGetSet(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	if _, ok, _ := store.Get(ctx, "missing"); ok {
		t.Error("missing key should not be found")
	}

	if err := store.Set(ctx, "k", "v", 0); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	value, ok, err := store.Get(ctx, "k")
	if err != nil || !ok || value != "v" {
		t.Errorf("get = (%q, %v, %v), want (v, true, nil)", value, ok, err)
	}

	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "k"); ok {
		t.Error("deleted key should not be found")
	}
}

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 14, 10, 0, 0, 0, time.UTC)
	store := NewMemoryWithClock(func() time.Time { return now })

	if err := store.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	now = now.Add(30 * time.Second)
	if _, ok, _ := store.Get(ctx, "k"); !ok {
		t.Error("key should survive half its ttl")
	}

	now = now.Add(31 * time.Second)
	if _, ok, _ := store.Get(ctx, "k"); ok {
		t.Error("key should expire after its ttl")
	}
}

func TestMemorySetNX(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 14, 10, 0, 0, 0, time.UTC)
	store := NewMemoryWithClock(func() time.Time { return now })

	ok, err := store.SetNX(ctx, "k", "first", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first SetNX = (%v, %v), want (true, nil)", ok, err)
	}

	ok, err = store.SetNX(ctx, "k", "second", time.Minute)
	if err != nil || ok {
		t.Fatalf("second SetNX = (%v, %v), want (false, nil)", ok, err)
	}
	if value, _, _ := store.Get(ctx, "k"); value != "first" {
		t.Errorf("value = %q, want first", value)
	}

	// Expired entries are free to take again.
	now = now.Add(2 * time.Minute)
	ok, _ = store.SetNX(ctx, "k", "third", time.Minute)
	if !ok {
		t.Error("SetNX after expiry should succeed")
	}
}

func TestMemoryTTL(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 14, 10, 0, 0, 0, time.UTC)
	store := NewMemoryWithClock(func() time.Time { return now })

	if _, err := store.TTL(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("TTL of missing key = %v, want ErrNotFound", err)
	}

	store.Set(ctx, "k", "v", time.Minute)
	ttl, err := store.TTL(ctx, "k")
	if err != nil || ttl != time.Minute {
		t.Errorf("TTL = (%v, %v), want (1m, nil)", ttl, err)
	}

	store.Set(ctx, "forever", "v", 0)
	ttl, err = store.TTL(ctx, "forever")
	if err != nil || ttl != 0 {
		t.Errorf("TTL of persistent key = (%v, %v), want (0, nil)", ttl, err)
	}
}

func TestMemoryCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	store.Set(ctx, "k", "old", 0)

	ok, err := store.CompareAndSwap(ctx, "k", "stale", "new", 0)
	if err != nil || ok {
		t.Fatalf("CAS with wrong old value = (%v, %v), want (false, nil)", ok, err)
	}

	ok, err = store.CompareAndSwap(ctx, "k", "old", "new", 0)
	if err != nil || !ok {
		t.Fatalf("CAS with matching old value = (%v, %v), want (true, nil)", ok, err)
	}
	if value, _, _ := store.Get(ctx, "k"); value != "new" {
		t.Errorf("value after CAS = %q, want new", value)
	}

	if ok, _ := store.CompareAndSwap(ctx, "missing", "x", "y", 0); ok {
		t.Error("CAS on missing key should fail")
	}
}
