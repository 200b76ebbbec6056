package quality

import (
	"testing"
	"time"

	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/fix"
)

const (
	testScoreTolerance   = 10.0
	testFreshnessCeiling = 2 * time.Minute
	testMaxSpeedMPS      = 70.0
)

var gateNow = time.Date(2026, 8, 14, 10, 30, 0, 0, time.UTC)

func testGate() *Gate {
	return NewGate(testScoreTolerance, testFreshnessCeiling, testMaxSpeedMPS)
}

func floatPtr(v float64) *float64 { return &v }

func TestComputeScore(t *testing.T) {
	g := testGate()

	f := &fix.Fix{
		AccuracyM:  floatPtr(5),
		SpeedMPS:   floatPtr(1.0),
		BearingDeg: floatPtr(90),
		AltitudeM:  floatPtr(10),
	}
	if got := g.ComputeScore(f); got != 110 {
		t.Errorf("full-signal 5m fix: score = %v, want 110", got)
	}

	bare := &fix.Fix{AccuracyM: floatPtr(50)}
	if got := g.ComputeScore(bare); got != 50 {
		t.Errorf("bare 50m fix: score = %v, want 50", got)
	}

	if got := g.ComputeScore(&fix.Fix{}); got != 0 {
		t.Errorf("no-accuracy fix: score = %v, want 0", got)
	}

	// Accuracy worse than the ceiling scores the same as the ceiling.
	far := &fix.Fix{AccuracyM: floatPtr(5000)}
	if got := g.ComputeScore(far); got != 0 {
		t.Errorf("5000m fix: score = %v, want 0", got)
	}
}

func TestShouldPromoteNoPrevious(t *testing.T) {
	g := testGate()

	d := g.ShouldPromote(&fix.Fix{Lat: 1, Lng: 1, RecordedAt: gateNow}, nil, gateNow)
	if !d.Promote {
		t.Errorf("first fix must always promote, got %+v", d)
	}
}

func TestShouldPromoteScoreComparison(t *testing.T) {
	g := testGate()

	// Incumbent: 5m accuracy, no extra signals -> score 95.
	prev := &Previous{
		Lat:        1,
		Lng:        1,
		AccuracyM:  floatPtr(5),
		RecordedAt: gateNow.Add(-30 * time.Second),
		UpdatedAt:  gateNow.Add(-30 * time.Second),
	}

	// 50m challenger scores 50; 50 + 10 < 95, keep the incumbent.
	worse := &fix.Fix{Lat: 1, Lng: 1, AccuracyM: floatPtr(50), RecordedAt: gateNow}
	if d := g.ShouldPromote(worse, prev, gateNow); d.Promote {
		t.Errorf("50m challenger against 5m incumbent promoted: %+v", d)
	}

	// 8m challenger scores 92; 92 + 10 >= 95, promote.
	close := &fix.Fix{Lat: 1, Lng: 1, AccuracyM: floatPtr(8), RecordedAt: gateNow}
	if d := g.ShouldPromote(close, prev, gateNow); !d.Promote {
		t.Errorf("8m challenger within tolerance not promoted: %+v", d)
	}
}

func TestShouldPromoteStaleIncumbent(t *testing.T) {
	g := testGate()

	prev := &Previous{
		Lat:        1,
		Lng:        1,
		AccuracyM:  floatPtr(5),
		RecordedAt: gateNow.Add(-5 * time.Minute),
		UpdatedAt:  gateNow.Add(-5 * time.Minute),
	}

	// A poor fix still wins once the incumbent ages past the ceiling.
	poor := &fix.Fix{Lat: 1.0001, Lng: 1, AccuracyM: floatPtr(90), RecordedAt: gateNow}
	d := g.ShouldPromote(poor, prev, gateNow)
	if !d.Promote {
		t.Errorf("stale incumbent should be replaced, got %+v", d)
	}
}

func TestShouldPromoteSpeedGlitch(t *testing.T) {
	g := testGate()

	prev := &Previous{
		Lat:        0,
		Lng:        0,
		AccuracyM:  floatPtr(50),
		RecordedAt: gateNow.Add(-10 * time.Second),
		UpdatedAt:  gateNow.Add(-10 * time.Second),
	}

	// One degree of latitude in ten seconds is about 11 km/s.
	jump := &fix.Fix{Lat: 1, Lng: 0, AccuracyM: floatPtr(5), RecordedAt: gateNow}
	d := g.ShouldPromote(jump, prev, gateNow)
	if d.Promote {
		t.Errorf("implausible jump promoted: %+v", d)
	}
}

func TestShouldPromoteSpeedGlitchTiedTimestamp(t *testing.T) {
	g := testGate()

	prev := &Previous{
		Lat:        0,
		Lng:        0,
		AccuracyM:  floatPtr(50),
		RecordedAt: gateNow,
		UpdatedAt:  gateNow,
	}

	// Same timestamp, one degree apart: no elapsed time to absorb the jump.
	jump := &fix.Fix{Lat: 1, Lng: 0, AccuracyM: floatPtr(5), RecordedAt: gateNow}
	if d := g.ShouldPromote(jump, prev, gateNow); d.Promote {
		t.Errorf("tied-timestamp jump promoted: %+v", d)
	}

	// An out-of-order fix from the same spot is still fine.
	nearby := &fix.Fix{Lat: 0.0001, Lng: 0, AccuracyM: floatPtr(5), RecordedAt: gateNow.Add(-5 * time.Second)}
	if d := g.ShouldPromote(nearby, prev, gateNow); !d.Promote {
		t.Errorf("nearby out-of-order fix rejected: %+v", d)
	}
}

func TestBestOfBatch(t *testing.T) {
	g := testGate()

	a := &fix.Fix{AccuracyM: floatPtr(60)}
	b := &fix.Fix{AccuracyM: floatPtr(10)}
	c := &fix.Fix{AccuracyM: floatPtr(30)}

	if got := g.BestOfBatch([]*fix.Fix{a, b, c}); got != b {
		t.Errorf("BestOfBatch picked %+v, want the 10m fix", got)
	}

	if got := g.BestOfBatch([]*fix.Fix{nil, a, nil}); got != a {
		t.Errorf("BestOfBatch with nils picked %+v, want the 60m fix", got)
	}

	if got := g.BestOfBatch(nil); got != nil {
		t.Errorf("BestOfBatch of empty slice should be nil, got %+v", got)
	}
}
