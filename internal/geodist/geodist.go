// Package geodist provides great-circle distance math for the
// non-spatial-index nearby-search path.
package geodist

import "math"

// EarthRadiusMeters is the mean Earth radius used by the haversine
// formula.
const EarthRadiusMeters = 6371000.0

// Haversine returns the great-circle distance in meters between two
// geodetic points given in degrees.
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return 2 * EarthRadiusMeters * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// BBox is a geographic bounding box.
type BBox struct {
	MinLat float64 `json:"min_lat"`
	MinLng float64 `json:"min_lng"`
	MaxLat float64 `json:"max_lat"`
	MaxLng float64 `json:"max_lng"`
}

// Contains reports whether the point lies inside the box (inclusive).
func (b BBox) Contains(lat, lng float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat &&
		lng >= b.MinLng && lng <= b.MaxLng
}

// RadiusBounds returns a bounding box that fully contains the circle of
// the given radius around the center point. It over-covers slightly so a
// candidate pre-filter never excludes a point that is actually within
// the radius; callers must still apply the exact distance predicate.
func RadiusBounds(lat, lng, radiusMeters float64) BBox {
	// 1.01 margin absorbs the sphere-vs-ellipsoid difference.
	dLat := radiusMeters / EarthRadiusMeters * 180 / math.Pi * 1.01

	cos := math.Cos(lat * math.Pi / 180)
	if cos < 0.01 {
		cos = 0.01
	}
	dLng := dLat / cos

	return BBox{
		MinLat: lat - dLat,
		MinLng: lng - dLng,
		MaxLat: lat + dLat,
		MaxLng: lng + dLng,
	}
}
