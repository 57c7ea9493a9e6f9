// Package geo provides great-circle distance, bearing, and geofence
// containment math over WGS84 coordinates.
//
// All functions are pure and safe for concurrent use.
package geo

import "math"

// EarthRadiusMeters is the mean Earth radius used for Haversine distance.
const EarthRadiusMeters = 6371000.0

// Coordinate is a WGS84 position in decimal degrees.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// DistanceMeters returns the Haversine great-circle distance between two
// coordinates in meters. Accurate well past the distances a geofence
// check-in will ever see; antipodal points yield roughly half the
// Earth's circumference, never NaN.
func DistanceMeters(a, b Coordinate) float64 {
	dLat := toRadians(b.Latitude - a.Latitude)
	dLng := toRadians(b.Longitude - a.Longitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(a.Latitude))*math.Cos(toRadians(b.Latitude))*
			math.Sin(dLng/2)*math.Sin(dLng/2)

	// Clamp before the sqrt: floating error can push h a hair past 1
	// for near-antipodal pairs, and sqrt of a negative is NaN.
	if h > 1 {
		h = 1
	}

	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusMeters * c
}

// BearingDegrees returns the initial compass bearing from one coordinate
// toward another, normalized to [0, 360). North is 0, East is 90.
func BearingDegrees(from, to Coordinate) float64 {
	fromLat := toRadians(from.Latitude)
	toLat := toRadians(to.Latitude)
	dLng := toRadians(to.Longitude - from.Longitude)

	y := math.Sin(dLng) * math.Cos(toLat)
	x := math.Cos(fromLat)*math.Sin(toLat) -
		math.Sin(fromLat)*math.Cos(toLat)*math.Cos(dLng)

	bearing := toDegrees(math.Atan2(y, x))
	return math.Mod(bearing+360, 360)
}

// WithinRadius reports whether position is inside or on the boundary of
// the circle of radiusMeters around target.
func WithinRadius(position, target Coordinate, radiusMeters float64) bool {
	return DistanceMeters(position, target) <= radiusMeters
}

func toRadians(degrees float64) float64 {
	return degrees * math.Pi / 180
}

func toDegrees(radians float64) float64 {
	return radians * 180 / math.Pi
}
