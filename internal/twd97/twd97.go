// Package twd97 converts between TWD97 2-degree transverse Mercator
// coordinates (EPSG:3826), the projection used by Taiwanese cadastral
// and door-number datasets, and WGS84 geodetic coordinates (EPSG:4326).
//
// The functions are pure and deterministic. The series expansions used
// here agree with reference transform libraries to well under a meter
// inside the projection's zone of validity.
package twd97

import (
	"math"

	"github.com/rotisserie/eris"
)

// ErrInvalidCoordinate is returned when the input is non-finite or the
// transform does not converge to a point inside the projection zone.
var ErrInvalidCoordinate = eris.New("twd97: invalid coordinate")

// GRS80 ellipsoid and TM2 zone parameters for EPSG:3826.
const (
	semiMajor    = 6378137.0
	flattening   = 1.0 / 298.257222101
	scaleFactor  = 0.9999
	falseEasting = 250000.0
	lon0Deg      = 121.0
)

var (
	e2  = flattening * (2 - flattening) // first eccentricity squared
	ep2 = e2 / (1 - e2)                 // second eccentricity squared
	e1  = (1 - math.Sqrt(1-e2)) / (1 + math.Sqrt(1-e2))
)

// ToWGS84 converts a projected (easting, northing) pair in meters to a
// geodetic (latitude, longitude) pair in degrees.
func ToWGS84(easting, northing float64) (lat, lng float64, err error) {
	if !isFinite(easting) || !isFinite(northing) {
		return 0, 0, eris.Wrapf(ErrInvalidCoordinate, "easting=%v northing=%v", easting, northing)
	}

	x := easting - falseEasting
	m := northing / scaleFactor

	// Footpoint latitude from the meridian arc length.
	mu := m / (semiMajor * (1 - e2/4 - 3*e2*e2/64 - 5*e2*e2*e2/256))
	fp := mu +
		(3*e1/2-27*math.Pow(e1, 3)/32)*math.Sin(2*mu) +
		(21*e1*e1/16-55*math.Pow(e1, 4)/32)*math.Sin(4*mu) +
		(151*math.Pow(e1, 3)/96)*math.Sin(6*mu) +
		(1097*math.Pow(e1, 4)/512)*math.Sin(8*mu)

	sinFp, cosFp := math.Sin(fp), math.Cos(fp)
	tanFp := sinFp / cosFp

	c1 := ep2 * cosFp * cosFp
	t1 := tanFp * tanFp
	n1 := semiMajor / math.Sqrt(1-e2*sinFp*sinFp)
	r1 := semiMajor * (1 - e2) / math.Pow(1-e2*sinFp*sinFp, 1.5)
	d := x / (n1 * scaleFactor)

	// A large D means the point is far outside the zone and the series
	// no longer converges.
	if math.Abs(d) > 1 {
		return 0, 0, eris.Wrapf(ErrInvalidCoordinate, "easting %v outside projection zone", easting)
	}

	latRad := fp - (n1*tanFp/r1)*(d*d/2-
		(5+3*t1+10*c1-4*c1*c1-9*ep2)*math.Pow(d, 4)/24+
		(61+90*t1+298*c1+45*t1*t1-252*ep2-3*c1*c1)*math.Pow(d, 6)/720)
	lngRad := deg2rad(lon0Deg) + (d-
		(1+2*t1+c1)*math.Pow(d, 3)/6+
		(5-2*c1+28*t1-3*c1*c1+8*ep2+24*t1*t1)*math.Pow(d, 5)/120)/cosFp

	lat = rad2deg(latRad)
	lng = rad2deg(lngRad)
	if !isFinite(lat) || !isFinite(lng) {
		return 0, 0, eris.Wrapf(ErrInvalidCoordinate, "transform diverged for easting=%v northing=%v", easting, northing)
	}
	return lat, lng, nil
}

// FromWGS84 converts a geodetic (latitude, longitude) pair in degrees to
// a projected (easting, northing) pair in meters.
func FromWGS84(lat, lng float64) (easting, northing float64, err error) {
	if !isFinite(lat) || !isFinite(lng) || math.Abs(lat) > 90 || math.Abs(lng) > 180 {
		return 0, 0, eris.Wrapf(ErrInvalidCoordinate, "lat=%v lng=%v", lat, lng)
	}

	latRad := deg2rad(lat)
	sinLat, cosLat := math.Sin(latRad), math.Cos(latRad)
	tanLat := sinLat / cosLat

	n := semiMajor / math.Sqrt(1-e2*sinLat*sinLat)
	t := tanLat * tanLat
	c := ep2 * cosLat * cosLat
	a := deg2rad(lng-lon0Deg) * cosLat

	m := semiMajor * ((1-e2/4-3*e2*e2/64-5*e2*e2*e2/256)*latRad -
		(3*e2/8+3*e2*e2/32+45*e2*e2*e2/1024)*math.Sin(2*latRad) +
		(15*e2*e2/256+45*e2*e2*e2/1024)*math.Sin(4*latRad) -
		(35*e2*e2*e2/3072)*math.Sin(6*latRad))

	easting = falseEasting + scaleFactor*n*(a+
		(1-t+c)*math.Pow(a, 3)/6+
		(5-18*t+t*t+72*c-58*ep2)*math.Pow(a, 5)/120)
	northing = scaleFactor * (m + n*tanLat*(a*a/2+
		(5-t+9*c+4*c*c)*math.Pow(a, 4)/24+
		(61-58*t+t*t+600*c-330*ep2)*math.Pow(a, 6)/720))

	if !isFinite(easting) || !isFinite(northing) {
		return 0, 0, eris.Wrapf(ErrInvalidCoordinate, "transform diverged for lat=%v lng=%v", lat, lng)
	}
	return easting, northing, nil
}

func deg2rad(d float64) float64 { return d * math.Pi / 180 }
func rad2deg(r float64) float64 { return r * 180 / math.Pi }

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
