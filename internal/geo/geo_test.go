package geo

import (
	"math"
	"testing"
)

// =============================================================================
// Tests for DistanceMeters
// =============================================================================

func TestDistanceIdenticalPoints(t *testing.T) {
	points := []Coordinate{
		{0, 0},
		{8.639, -83.162},
		{-45.5, 170.2},
		{89.9, 0.1},
	}
	for _, p := range points {
		if d := DistanceMeters(p, p); d != 0 {
			t.Errorf("distance from %+v to itself = %v, want 0", p, d)
		}
	}
}

func TestDistanceSymmetric(t *testing.T) {
	a := Coordinate{8.639, -83.162}
	b := Coordinate{40.7128, -74.0060}

	ab := DistanceMeters(a, b)
	ba := DistanceMeters(b, a)

	if math.Abs(ab-ba) > 1e-6 {
		t.Errorf("distance not symmetric: a->b = %v, b->a = %v", ab, ba)
	}
}

func TestDistanceKnownValue(t *testing.T) {
	// One degree of latitude at the equator is ~111.19 km with the
	// mean-radius Haversine.
	a := Coordinate{0, 0}
	b := Coordinate{1, 0}

	d := DistanceMeters(a, b)
	if d < 111000 || d > 111300 {
		t.Errorf("one degree latitude = %v m, want ~111195 m", d)
	}
}

func TestDistanceAntipodal(t *testing.T) {
	a := Coordinate{0, 0}
	b := Coordinate{0, 180}

	d := DistanceMeters(a, b)
	if math.IsNaN(d) {
		t.Fatal("antipodal distance is NaN")
	}
	if d < 20_000_000 || d > 20_100_000 {
		t.Errorf("antipodal distance = %v m, want ~20015 km", d)
	}
}

func TestDistanceNearAntipodal(t *testing.T) {
	// Points just shy of antipodal stress the h > 1 clamp.
	a := Coordinate{0.0000001, 0}
	b := Coordinate{-0.0000001, 180}

	d := DistanceMeters(a, b)
	if math.IsNaN(d) {
		t.Fatal("near-antipodal distance is NaN")
	}
}

func TestDistanceShortRange(t *testing.T) {
	// ~500 m north of the target used in the field pilot.
	target := Coordinate{8.639, -83.162}
	nearby := Coordinate{8.6435, -83.162}

	d := DistanceMeters(nearby, target)
	if d < 480 || d > 520 {
		t.Errorf("short-range distance = %v m, want ~500 m", d)
	}
}

// =============================================================================
// Tests for BearingDegrees
// =============================================================================

func TestBearingCardinalDirections(t *testing.T) {
	origin := Coordinate{0, 0}

	tests := []struct {
		name string
		to   Coordinate
		want float64
	}{
		{"north", Coordinate{1, 0}, 0},
		{"east", Coordinate{0, 1}, 90},
		{"south", Coordinate{-1, 0}, 180},
		{"west", Coordinate{0, -1}, 270},
	}

	for _, tt := range tests {
		got := BearingDegrees(origin, tt.to)
		if math.Abs(got-tt.want) > 0.01 {
			t.Errorf("bearing %s = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestBearingRange(t *testing.T) {
	coords := []Coordinate{
		{0, 0}, {45, 45}, {-30, 170}, {89, -120}, {-89, 10}, {8.639, -83.162},
	}
	for _, from := range coords {
		for _, to := range coords {
			if from == to {
				continue
			}
			b := BearingDegrees(from, to)
			if b < 0 || b >= 360 {
				t.Errorf("bearing %+v -> %+v = %v, want [0, 360)", from, to, b)
			}
		}
	}
}

// =============================================================================
// Tests for WithinRadius
// =============================================================================

func TestWithinRadius(t *testing.T) {
	target := Coordinate{8.639, -83.162}
	inside := Coordinate{8.6392, -83.1618}
	outside := Coordinate{8.66, -83.14}

	if !WithinRadius(inside, target, 500) {
		t.Error("point ~30 m away should be within 500 m fence")
	}
	if WithinRadius(outside, target, 500) {
		t.Error("point ~3 km away should not be within 500 m fence")
	}
}

func TestWithinRadiusBoundaryInclusive(t *testing.T) {
	a := Coordinate{0, 0}
	b := Coordinate{0.002, 0}

	d := DistanceMeters(a, b)
	if !WithinRadius(a, b, d) {
		t.Error("radius exactly equal to distance should count as inside")
	}
	if WithinRadius(a, b, d-0.001) {
		t.Error("radius just under distance should count as outside")
	}
}

func TestWithinRadiusZero(t *testing.T) {
	p := Coordinate{10, 10}
	if !WithinRadius(p, p, 0) {
		t.Error("identical points should be within a zero radius")
	}
}
