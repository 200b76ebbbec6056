package db

import (
	"time"

	"github.com/google/uuid"

	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/geo"
)

// CurrentLocation is the single authoritative row per user. It is
// overwritten in place by promoted fixes and never historized itself.
type CurrentLocation struct {
	UserID      uuid.UUID
	FamilyID    uuid.UUID
	Lat         float64
	Lng         float64
	AccuracyM   *float64
	SpeedMPS    *float64
	MotionState string
	RecordedAt  time.Time
	UpdatedAt   time.Time
	DeviceID    string
}

// HistoryPoint is one immutable row of the append-only trail ledger.
type HistoryPoint struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	FamilyID      uuid.UUID
	Lat           float64
	Lng           float64
	AccuracyM     *float64
	SpeedMPS      *float64
	BearingDeg    *float64
	AltitudeM     *float64
	BatteryLevel  *int
	MotionState   string
	RecordedAt    time.Time
	CreatedAt     time.Time
	DeviceID      string
	ClientEventID *string
}

// Geofence shapes.
const (
	ShapeCircle  = "circle"
	ShapePolygon = "polygon"
)

// Geofence is a family-defined zone. Created and edited by the admin
// CRUD surface; strictly read-only to the ingestion pipeline.
type Geofence struct {
	ID            uuid.UUID
	FamilyID      uuid.UUID
	Name          string
	Shape         string
	CenterLat     *float64
	CenterLng     *float64
	RadiusM       *float64
	PolygonPoints []geo.Point
	Active        bool
}

// Event types appended by the pipeline.
const (
	EventGeofenceEnter = "geofence_enter"
	EventGeofenceExit  = "geofence_exit"
	EventAlert         = "alert"
)

// Event is one immutable audit-log row. Geofence membership state is
// reconstructed from the most recent enter/exit event per user/zone
// pair rather than kept as a materialized flag.
type Event struct {
	ID         uuid.UUID
	FamilyID   uuid.UUID
	UserID     uuid.UUID
	Type       string
	GeofenceID *uuid.UUID
	Lat        *float64
	Lng        *float64
	Payload    []byte
	CreatedAt  time.Time
}

// AlertRule is one family alert rule; Params is the kind-specific
// JSONB blob and LastFired the per-user debounce timestamp map.
type AlertRule struct {
	ID        uuid.UUID
	FamilyID  uuid.UUID
	Kind      string
	Params    []byte
	LastFired map[string]time.Time
	Active    bool
}

// Device is a reporting handset. LastSeenAt is the heartbeat refreshed
// on every upload, accepted or skipped, so presence can tell a quiet
// device from a dead one.
type Device struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	DeviceUUID string
	Platform   string
	LastSeenAt time.Time
	CreatedAt  time.Time
}

// FamilySettings are the tunables the family admin controls. Missing
// rows fall back to service defaults.
type FamilySettings struct {
	FamilyID           uuid.UUID
	AccuracyCeilingM   float64
	DedupeRadiusM      float64
	DedupeWindowS      int
	SpeedThresholdMPS  float64
	DistanceThresholdM float64
	IdleHeartbeatS     int
	MinFixIntervalS    int
	SessionTTLS        int
}

// Member is the membership/consent row consulted before any fix is
// accepted and before any location is shown.
type Member struct {
	UserID             uuid.UUID
	FamilyID           uuid.UUID
	DisplayName        string
	SharingEnabled     bool
	SubscriptionActive bool
}
