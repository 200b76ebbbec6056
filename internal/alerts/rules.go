package alerts

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/db"
)

// Rule kinds. Rules are data-driven per family, not hardcoded; unknown
// kinds fall back to KindGeneric and are skipped with a warning instead
// of failing the pipeline.
const (
	KindBatteryLow      = "battery_low"
	KindSpeedOver       = "speed_over"
	KindOutsideSafeZone = "outside_safe_zone"
	KindGeneric         = "generic"
)

// Params is the typed union of rule parameters. Exactly the fields of
// the rule's kind are meaningful; Extra carries open-ended extensions
// for generic rules.
type Params struct {
	BatteryThreshold *int            `json:"battery_threshold,omitempty"`
	SpeedLimitMPS    *float64        `json:"speed_limit_mps,omitempty"`
	GeofenceID       *uuid.UUID      `json:"geofence_id,omitempty"`
	MaxOutsideS      *int            `json:"max_outside_s,omitempty"`
	DebounceS        *int            `json:"debounce_s,omitempty"`
	Extra            json.RawMessage `json:"extra,omitempty"`
}

// Rule is one parsed alert rule.
type Rule struct {
	ID        uuid.UUID
	FamilyID  uuid.UUID
	Kind      string
	Params    Params
	LastFired map[string]time.Time
}

// Debounce returns the rule's debounce window, falling back to the
// service default.
func (r *Rule) Debounce(fallback time.Duration) time.Duration {
	if r.Params.DebounceS != nil && *r.Params.DebounceS > 0 {
		return time.Duration(*r.Params.DebounceS) * time.Second
	}
	return fallback
}

// ParseRule decodes a stored rule row into the typed union.
func ParseRule(row *db.AlertRule) (*Rule, error) {
	rule := &Rule{
		ID:        row.ID,
		FamilyID:  row.FamilyID,
		Kind:      row.Kind,
		LastFired: row.LastFired,
	}

	switch row.Kind {
	case KindBatteryLow, KindSpeedOver, KindOutsideSafeZone, KindGeneric:
	default:
		rule.Kind = KindGeneric
	}

	if len(row.Params) > 0 {
		if err := json.Unmarshal(row.Params, &rule.Params); err != nil {
			return nil, fmt.Errorf("failed to decode params of rule %s: %w", row.ID, err)
		}
	}

	if rule.LastFired == nil {
		rule.LastFired = make(map[string]time.Time)
	}

	return rule, nil
}
