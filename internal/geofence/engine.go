// Package geofence runs the per-zone inside/outside state machine.
// State is never materialized: it is reconstructed from the most recent
// enter/exit event per (user, zone) pair, so duplicate or out-of-order
// fixes cannot double-fire a crossing.
package geofence

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/db"
	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/fix"
	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/geo"
)

// Membership is the typed zone state.
type Membership int

const (
	Outside Membership = iota
	Inside
)

func (m Membership) String() string {
	if m == Inside {
		return "inside"
	}
	return "outside"
}

// TransitionKind is the direction of a boundary crossing.
type TransitionKind string

const (
	TransitionEnter TransitionKind = "enter"
	TransitionExit  TransitionKind = "exit"
)

// Transition is one detected boundary crossing.
type Transition struct {
	Geofence db.Geofence
	Kind     TransitionKind
	At       time.Time
}

// EventStore is the slice of the repository the engine needs: reading
// the last recorded crossing and appending new ones.
type EventStore interface {
	LatestTransition(ctx context.Context, userID, geofenceID uuid.UUID) (eventType string, at time.Time, found bool, err error)
	InsertEvent(ctx context.Context, ev *db.Event) error
}

// Engine evaluates every active zone of a family independently on each
// accepted fix.
type Engine struct {
	events EventStore
	logger *zap.Logger
}

// NewEngine creates a geofence engine.
func NewEngine(events EventStore, logger *zap.Logger) *Engine {
	return &Engine{events: events, logger: logger}
}

// Contains runs the membership test for one zone.
func Contains(zone *db.Geofence, lat, lng float64) bool {
	p := geo.Point{Lat: lat, Lng: lng}

	switch zone.Shape {
	case db.ShapeCircle:
		if zone.CenterLat == nil || zone.CenterLng == nil || zone.RadiusM == nil {
			return false
		}
		return geo.InCircle(p, geo.Point{Lat: *zone.CenterLat, Lng: *zone.CenterLng}, *zone.RadiusM)
	case db.ShapePolygon:
		return geo.InPolygon(p, zone.PolygonPoints)
	default:
		return false
	}
}

// membershipAt reconstructs the user's state for one zone. Absence of
// any prior transition means outside.
func (e *Engine) membershipAt(ctx context.Context, userID, geofenceID uuid.UUID) (Membership, error) {
	eventType, _, found, err := e.events.LatestTransition(ctx, userID, geofenceID)
	if err != nil {
		return Outside, err
	}
	if found && eventType == db.EventGeofenceEnter {
		return Inside, nil
	}
	return Outside, nil
}

// Evaluate tests the fix against every zone, appends an enter/exit
// event for each state change, and returns the transitions for alert
// evaluation. Per-zone failures are logged and skipped; a broken zone
// must not block the rest, and never the location write.
func (e *Engine) Evaluate(ctx context.Context, userID, familyID uuid.UUID, f *fix.Fix, zones []db.Geofence, now time.Time) []Transition {
	var transitions []Transition

	for i := range zones {
		zone := zones[i]

		state, err := e.membershipAt(ctx, userID, zone.ID)
		if err != nil {
			e.logger.Error("failed to reconstruct zone state",
				zap.Error(err),
				zap.String("geofence_id", zone.ID.String()),
			)
			continue
		}

		member := Contains(&zone, f.Lat, f.Lng)

		var kind TransitionKind
		switch {
		case member && state == Outside:
			kind = TransitionEnter
		case !member && state == Inside:
			kind = TransitionExit
		default:
			// Unchanged membership emits nothing.
			continue
		}

		if err := e.appendTransition(ctx, userID, familyID, &zone, kind, f, now); err != nil {
			e.logger.Error("failed to append geofence event",
				zap.Error(err),
				zap.String("geofence_id", zone.ID.String()),
				zap.String("kind", string(kind)),
			)
			continue
		}

		transitions = append(transitions, Transition{Geofence: zone, Kind: kind, At: now})
	}

	return transitions
}

type transitionPayload struct {
	GeofenceName string `json:"geofence_name"`
	Kind         string `json:"kind"`
}

func (e *Engine) appendTransition(ctx context.Context, userID, familyID uuid.UUID, zone *db.Geofence, kind TransitionKind, f *fix.Fix, now time.Time) error {
	eventType := db.EventGeofenceEnter
	if kind == TransitionExit {
		eventType = db.EventGeofenceExit
	}

	payload, err := json.Marshal(transitionPayload{GeofenceName: zone.Name, Kind: string(kind)})
	if err != nil {
		return err
	}

	geofenceID := zone.ID
	lat, lng := f.Lat, f.Lng

	return e.events.InsertEvent(ctx, &db.Event{
		ID:         uuid.New(),
		FamilyID:   familyID,
		UserID:     userID,
		Type:       eventType,
		GeofenceID: &geofenceID,
		Lat:        &lat,
		Lng:        &lng,
		Payload:    payload,
		CreatedAt:  now,
	})
}
