// Package angle holds circular arithmetic on compass degrees.
//
// Headings are always represented in [0,360). Differences between two
// headings are represented as the shortest signed rotation in (-180,180].
package angle

import "math"

// Normalize360 maps any finite degree value into [0,360) using floor-mod
// semantics (negative inputs wrap upward, large magnitudes wrap down).
func Normalize360(deg float64) float64 {
	r := math.Mod(deg, 360)
	if r < 0 {
		r += 360
	}
	// -1e-15 + 360 rounds to 360.
	if r >= 360 {
		r = 0
	}
	return r
}

// SignedDiff returns the shortest signed rotation that takes b onto a.
//
// The result is in (-180,180]; an exact half turn resolves to +180 regardless
// of argument order, so SignedDiff(180, 0) == SignedDiff(0, 180) == 180.
func SignedDiff(a, b float64) float64 {
	d := Normalize360(a - b)
	if d > 180 {
		d -= 360
	}
	return d
}

// AbsDiff is the unsigned angular distance between a and b, in [0,180].
func AbsDiff(a, b float64) float64 {
	return math.Abs(SignedDiff(a, b))
}

// DegToRad converts degrees to radians.
func DegToRad(deg float64) float64 { return deg * math.Pi / 180.0 }

// RadToDeg converts radians to degrees.
func RadToDeg(rad float64) float64 { return rad * 180.0 / math.Pi }
