package dedupe

import (
	"context"
	"testing"
	"time"

	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/kvstore"
)

var dedupeParams = Params{RadiusM: 10, TimeWindow: 60 * time.Second}

func TestIsDuplicateNoAnchor(t *testing.T) {
	ctx := context.Background()
	d := NewDetector(kvstore.NewMemory())

	dup, err := d.IsDuplicate(ctx, "user-1", 0, 0, time.Now(), dedupeParams)
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if dup {
		t.Error("first fix can never be a duplicate")
	}
}

func TestIsDuplicateSamePlaceSameMoment(t *testing.T) {
	ctx := context.Background()
	d := NewDetector(kvstore.NewMemory())
	at := time.Date(2026, 8, 14, 10, 0, 0, 0, time.UTC)

	if err := d.Remember(ctx, "user-1", -33.9249, 18.4241, at, dedupeParams); err != nil {
		t.Fatalf("remember failed: %v", err)
	}

	// Roughly a meter away, thirty seconds later.
	dup, err := d.IsDuplicate(ctx, "user-1", -33.924905, 18.42411, at.Add(30*time.Second), dedupeParams)
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if !dup {
		t.Error("near-identical fix inside the window should be a duplicate")
	}
}

func TestIsDuplicateOutsideRadius(t *testing.T) {
	ctx := context.Background()
	d := NewDetector(kvstore.NewMemory())
	at := time.Date(2026, 8, 14, 10, 0, 0, 0, time.UTC)

	d.Remember(ctx, "user-1", 0, 0, at, dedupeParams)

	// About 110m away is well past the 10m radius.
	dup, _ := d.IsDuplicate(ctx, "user-1", 0.001, 0, at.Add(10*time.Second), dedupeParams)
	if dup {
		t.Error("fix outside the radius is not a duplicate")
	}
}

func TestIsDuplicateOutsideTimeWindow(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 14, 10, 0, 0, 0, time.UTC)
	store := kvstore.NewMemoryWithClock(func() time.Time { return now })
	d := NewDetector(store)

	d.Remember(ctx, "user-1", 0, 0, now, dedupeParams)

	// Same spot, but past the window. The anchor has also expired from
	// the cache by then, either path must say no.
	dup, _ := d.IsDuplicate(ctx, "user-1", 0, 0, now.Add(2*time.Minute), dedupeParams)
	if dup {
		t.Error("fix past the time window is not a duplicate")
	}
}

func TestIsDuplicatePerUser(t *testing.T) {
	ctx := context.Background()
	d := NewDetector(kvstore.NewMemory())
	at := time.Date(2026, 8, 14, 10, 0, 0, 0, time.UTC)

	d.Remember(ctx, "user-1", 0, 0, at, dedupeParams)

	dup, _ := d.IsDuplicate(ctx, "user-2", 0, 0, at, dedupeParams)
	if dup {
		t.Error("one user's anchor must not match another user's fix")
	}
}

func TestIsDuplicateCorruptAnchor(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory()
	d := NewDetector(store)

	store.Set(ctx, "dedupe:last:user-1", "{not json", 0)

	dup, err := d.IsDuplicate(ctx, "user-1", 0, 0, time.Now(), dedupeParams)
	if err != nil {
		t.Fatalf("corrupt anchor must not fail the check: %v", err)
	}
	if dup {
		t.Error("corrupt anchor must not flag a duplicate")
	}
}
