package dedupe

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/geo"
	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/kvstore"
)

// Params are the family-tunable duplicate thresholds.
type Params struct {
	RadiusM    float64
	TimeWindow time.Duration
}

// Detector rejects near-identical fixes: same place within RadiusM and
// same moment within TimeWindow of the last accepted point. Duplicates
// are acknowledged upstream as "skipped", never stored.
type Detector struct {
	store kvstore.Store
}

type lastPoint struct {
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	RecordedAt time.Time `json:"recorded_at"`
}

// NewDetector creates a detector backed by the shared cache.
func NewDetector(store kvstore.Store) *Detector {
	return &Detector{store: store}
}

// IsDuplicate compares the fix against the user's last accepted point.
func (d *Detector) IsDuplicate(ctx context.Context, userID string, lat, lng float64, recordedAt time.Time, params Params) (bool, error) {
	raw, ok, err := d.store.Get(ctx, pointKey(userID))
	if err != nil {
		return false, fmt.Errorf("failed to read last accepted point: %w", err)
	}
	if !ok {
		return false, nil
	}

	var last lastPoint
	if err := json.Unmarshal([]byte(raw), &last); err != nil {
		// A corrupt cache entry must not block ingestion.
		return false, nil
	}

	distance := geo.HaversineDistance(
		geo.Point{Lat: lat, Lng: lng},
		geo.Point{Lat: last.Lat, Lng: last.Lng},
	)
	delta := math.Abs(recordedAt.Sub(last.RecordedAt).Seconds())

	return distance <= params.RadiusM && delta <= params.TimeWindow.Seconds(), nil
}

// Remember records the accepted point as the new dedupe anchor. The
// entry lives exactly one time window; anything older can't match anyway.
func (d *Detector) Remember(ctx context.Context, userID string, lat, lng float64, recordedAt time.Time, params Params) error {
	body, err := json.Marshal(lastPoint{Lat: lat, Lng: lng, RecordedAt: recordedAt})
	if err != nil {
		return fmt.Errorf("failed to marshal last accepted point: %w", err)
	}

	ttl := params.TimeWindow
	if ttl <= 0 {
		ttl = time.Minute
	}

	if err := d.store.Set(ctx, pointKey(userID), string(body), ttl); err != nil {
		return fmt.Errorf("failed to store last accepted point: %w", err)
	}
	return nil
}

func pointKey(userID string) string {
	return "dedupe:last:" + userID
}
