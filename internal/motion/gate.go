package motion

import (
	"time"

	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/fix"
	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/geo"
)

// Gate classifies moving/idle and decides history retention cadence.
// Moving fixes always go to history; idle devices are sampled at the
// heartbeat interval so "last seen" never goes fully dark.
type Gate struct {
	speedThresholdMPS  float64
	distanceThresholdM float64
	idleHeartbeat      time.Duration
}

// PreviousPoint is the displacement reference, normally the promoted
// CurrentLocation.
type PreviousPoint struct {
	Lat        float64
	Lng        float64
	RecordedAt time.Time
}

// Decision is the outcome of one evaluation.
type Decision struct {
	State        fix.MotionState
	StoreHistory bool
}

// NewGate creates a motion gate with the given thresholds.
func NewGate(speedThresholdMPS, distanceThresholdM float64, idleHeartbeat time.Duration) *Gate {
	return &Gate{
		speedThresholdMPS:  speedThresholdMPS,
		distanceThresholdM: distanceThresholdM,
		idleHeartbeat:      idleHeartbeat,
	}
}

// Evaluate classifies the fix and decides whether it belongs in
// history. lastStoredAt is the timestamp of the user's most recent
// history point; pass the zero time when none is known.
func (g *Gate) Evaluate(f *fix.Fix, prev *PreviousPoint, lastStoredAt time.Time, now time.Time) Decision {
	state := g.classify(f, prev)

	store := state == fix.MotionMoving
	if !store {
		// Heartbeat floor: guarantee a minimum sampling cadence while
		// stationary without flooding history.
		if lastStoredAt.IsZero() || now.Sub(lastStoredAt) >= g.idleHeartbeat {
			store = true
		}
	}

	return Decision{State: state, StoreHistory: store}
}

func (g *Gate) classify(f *fix.Fix, prev *PreviousPoint) fix.MotionState {
	if f.SpeedMPS != nil && *f.SpeedMPS >= g.speedThresholdMPS {
		return fix.MotionMoving
	}

	if prev != nil {
		displacement := geo.HaversineDistance(
			geo.Point{Lat: f.Lat, Lng: f.Lng},
			geo.Point{Lat: prev.Lat, Lng: prev.Lng},
		)
		if displacement > g.distanceThresholdM {
			return fix.MotionMoving
		}
		return fix.MotionIdle
	}

	if !f.HasSpeed() {
		return fix.MotionUnknown
	}

	return fix.MotionIdle
}
