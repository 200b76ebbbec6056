package quality

import (
	"time"

	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/fix"
	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/geo"
)

// Score values for reference:
//   accuracy 5m, speed+bearing+altitude present -> 110
//   accuracy 50m, bare                          -> 50
//   no accuracy at all                          -> 0
const (
	maxAccuracyM = 100.0
	signalBonus  = 5.0
)

// Gate scores fix trustworthiness and decides CurrentLocation
// promotion. A burst of low-quality fixes must not degrade the
// authoritative position, so a new fix only wins if it scores at least
// as well as the incumbent (within tolerance) or the incumbent went stale.
type Gate struct {
	scoreTolerance   float64
	freshnessCeiling time.Duration
	maxSpeedMPS      float64
}

// Previous is the quality-relevant slice of the promoted CurrentLocation.
type Previous struct {
	Lat        float64
	Lng        float64
	AccuracyM  *float64
	SpeedMPS   *float64
	RecordedAt time.Time
	UpdatedAt  time.Time
}

// NewGate creates a quality gate.
//
// scoreTolerance is how far below the incumbent's score a challenger
// may be and still promote; freshnessCeiling is how long an incumbent
// stays authoritative without being refreshed; maxSpeedMPS bounds the
// plausible displacement rate between consecutive promoted fixes.
func NewGate(scoreTolerance float64, freshnessCeiling time.Duration, maxSpeedMPS float64) *Gate {
	return &Gate{
		scoreTolerance:   scoreTolerance,
		freshnessCeiling: freshnessCeiling,
		maxSpeedMPS:      maxSpeedMPS,
	}
}

// ComputeScore maps a fix to a comparable trustworthiness number.
// Smaller reported accuracy scores higher; extra sensor signals earn a
// small bonus each.
func (g *Gate) ComputeScore(f *fix.Fix) float64 {
	score := 0.0

	if f.AccuracyM != nil {
		accuracy := *f.AccuracyM
		if accuracy > maxAccuracyM {
			accuracy = maxAccuracyM
		}
		score += maxAccuracyM - accuracy
	}

	if f.SpeedMPS != nil {
		score += signalBonus
	}
	if f.BearingDeg != nil {
		score += signalBonus
	}
	if f.AltitudeM != nil {
		score += signalBonus
	}

	return score
}

// scorePrevious recomputes the incumbent's score from the stored row.
// Bearing and altitude are not retained on CurrentLocation, so the
// incumbent only collects the speed bonus; the tolerance absorbs that
// asymmetry.
func (g *Gate) scorePrevious(prev *Previous) float64 {
	score := 0.0

	if prev.AccuracyM != nil {
		accuracy := *prev.AccuracyM
		if accuracy > maxAccuracyM {
			accuracy = maxAccuracyM
		}
		score += maxAccuracyM - accuracy
	}
	if prev.SpeedMPS != nil {
		score += signalBonus
	}

	return score
}

// Decision explains a promotion verdict.
type Decision struct {
	Promote bool
	Score   float64
	Reason  string
}

// ShouldPromote decides whether the fix replaces the incumbent
// CurrentLocation. The comparison runs against the row state read at
// write time; a concurrent higher-scored write may still be overwritten
// (accepted eventual-consistency tradeoff, CAS is the upgrade path).
func (g *Gate) ShouldPromote(f *fix.Fix, prev *Previous, now time.Time) Decision {
	score := g.ComputeScore(f)

	if prev == nil {
		return Decision{Promote: true, Score: score, Reason: "no previous location"}
	}

	// Implausible displacement since the incumbent means a GPS glitch,
	// not actual travel. Never promote those.
	if g.isSpeedGlitch(f, prev) {
		return Decision{Promote: false, Score: score, Reason: "implausible speed jump"}
	}

	if now.Sub(prev.UpdatedAt) > g.freshnessCeiling {
		return Decision{Promote: true, Score: score, Reason: "previous location stale"}
	}

	if score+g.scoreTolerance >= g.scorePrevious(prev) {
		return Decision{Promote: true, Score: score, Reason: "score within tolerance"}
	}

	return Decision{Promote: false, Score: score, Reason: "score below previous"}
}

func (g *Gate) isSpeedGlitch(f *fix.Fix, prev *Previous) bool {
	if g.maxSpeedMPS <= 0 {
		return false
	}

	// Out-of-order and tied timestamps get a one second floor so a
	// large jump still reads as implausible.
	elapsed := f.RecordedAt.Sub(prev.RecordedAt).Seconds()
	if elapsed < 1 {
		elapsed = 1
	}

	distance := geo.HaversineDistance(
		geo.Point{Lat: f.Lat, Lng: f.Lng},
		geo.Point{Lat: prev.Lat, Lng: prev.Lng},
	)

	return distance/elapsed > g.maxSpeedMPS
}

// BestOfBatch picks the single highest-scoring fix of a batch. Only
// that one is evaluated for promotion, bounding promotion churn to at
// most one state transition per batch.
func (g *Gate) BestOfBatch(fixes []*fix.Fix) *fix.Fix {
	var best *fix.Fix
	bestScore := -1.0

	for _, f := range fixes {
		if f == nil {
			continue
		}
		if score := g.ComputeScore(f); score > bestScore {
			best = f
			bestScore = score
		}
	}

	return best
}
