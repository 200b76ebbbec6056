package geo

import (
	"math"
	"testing"
)

func TestHaversineDistance(t *testing.T) {
	// Cape Town city centre to Table Mountain cableway, roughly 4.3 km.
	a := Point{Lat: -33.9249, Lng: 18.4241}
	b := Point{Lat: -33.9628, Lng: 18.4098}

	d := HaversineDistance(a, b)
	if d < 4000 || d > 4700 {
		t.Errorf("distance = %v m, want roughly 4300 m", d)
	}

	if got := HaversineDistance(a, a); got != 0 {
		t.Errorf("distance to self = %v, want 0", got)
	}

	// One degree of latitude is about 111.2 km anywhere on the globe.
	d = HaversineDistance(Point{Lat: 0, Lng: 0}, Point{Lat: 1, Lng: 0})
	if math.Abs(d-111195) > 200 {
		t.Errorf("one degree latitude = %v m, want about 111195 m", d)
	}
}

func TestInCircle(t *testing.T) {
	center := Point{Lat: -33.9249, Lng: 18.4241}
	near := Point{Lat: -33.9250, Lng: 18.4242}
	far := Point{Lat: -33.9628, Lng: 18.4098}

	if !InCircle(near, center, 100) {
		t.Error("point 15m away should be inside a 100m circle")
	}
	if InCircle(far, center, 100) {
		t.Error("point 4km away should be outside a 100m circle")
	}
	if !InCircle(center, center, 0) {
		t.Error("center is inside its own zero-radius circle")
	}
}

func TestInPolygon(t *testing.T) {
	square := []Point{
		{Lat: 0, Lng: 0},
		{Lat: 0, Lng: 10},
		{Lat: 10, Lng: 10},
		{Lat: 10, Lng: 0},
	}

	if !InPolygon(Point{Lat: 5, Lng: 5}, square) {
		t.Error("center of square should be inside")
	}
	if InPolygon(Point{Lat: 15, Lng: 5}, square) {
		t.Error("point above square should be outside")
	}
	if InPolygon(Point{Lat: 5, Lng: -1}, square) {
		t.Error("point left of square should be outside")
	}
}

func TestInPolygonDegenerate(t *testing.T) {
	if InPolygon(Point{Lat: 0, Lng: 0}, nil) {
		t.Error("empty polygon contains nothing")
	}
	if InPolygon(Point{Lat: 0, Lng: 0}, []Point{{Lat: 0, Lng: 0}, {Lat: 1, Lng: 1}}) {
		t.Error("two-vertex polygon contains nothing")
	}
}

func TestValidCoordinates(t *testing.T) {
	tests := []struct {
		lat, lng float64
		want     bool
	}{
		{0, 0, true},
		{-90, -180, true},
		{90, 180, true},
		{90.01, 0, false},
		{0, -180.01, false},
	}

	for _, tt := range tests {
		if got := ValidCoordinates(tt.lat, tt.lng); got != tt.want {
			t.Errorf("ValidCoordinates(%v, %v) = %v, want %v", tt.lat, tt.lng, got, tt.want)
		}
	}
}
