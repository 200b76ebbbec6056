package geo

import "math"

const earthRadiusM = 6371000.0

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// HaversineDistance returns the great-circle distance in meters between two points.
func HaversineDistance(a, b Point) float64 {
	latA := a.Lat * math.Pi / 180
	latB := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(latA)*math.Cos(latB)*math.Sin(dLng/2)*math.Sin(dLng/2)

	return 2 * earthRadiusM * math.Asin(math.Sqrt(h))
}

// InCircle reports whether p lies within radiusM meters of center.
func InCircle(p, center Point, radiusM float64) bool {
	return HaversineDistance(p, center) <= radiusM
}

// InPolygon reports whether p lies inside the polygon described by the
// ordered vertex list, using the ray-casting rule. Polygons with fewer
// than three vertices contain nothing.
func InPolygon(p Point, vertices []Point) bool {
	if len(vertices) < 3 {
		return false
	}

	inside := false
	j := len(vertices) - 1
	for i := 0; i < len(vertices); i++ {
		vi, vj := vertices[i], vertices[j]
		if (vi.Lng > p.Lng) != (vj.Lng > p.Lng) {
			cross := (vj.Lat-vi.Lat)*(p.Lng-vi.Lng)/(vj.Lng-vi.Lng) + vi.Lat
			if p.Lat < cross {
				inside = !inside
			}
		}
		j = i
	}

	return inside
}

// ValidCoordinates reports whether lat/lng fall inside the WGS84 envelope.
func ValidCoordinates(lat, lng float64) bool {
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}
