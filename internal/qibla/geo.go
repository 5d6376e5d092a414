// Package qibla computes the direction and distance from a position on Earth
// to the Kaaba, and the magnetic declination used to correct compass headings
// to true north.
package qibla

import (
	"math"

	"qibla-ng/internal/angle"
)

const (
	KaabaLatDeg = 21.4225
	KaabaLonDeg = 39.8262

	// EarthRadiusKm is the mean radius used by the haversine distance.
	EarthRadiusKm = 6371.0
)

// Target is the solved direction to the Kaaba from one position.
type Target struct {
	BearingDeg float64 `json:"bearing_deg"`
	DistanceKm float64 `json:"distance_km"`
}

// BearingTo returns the initial great-circle bearing from (lat,lon) to
// (tLat,tLon) in [0,360), measured clockwise from true north.
func BearingTo(lat, lon, tLat, tLon float64) float64 {
	phi1 := angle.DegToRad(lat)
	phi2 := angle.DegToRad(tLat)
	dLambda := angle.DegToRad(tLon - lon)

	y := math.Sin(dLambda) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dLambda)
	return angle.Normalize360(angle.RadToDeg(math.Atan2(y, x)))
}

// DistanceKm is the haversine great-circle distance between two points.
func DistanceKm(lat, lon, tLat, tLon float64) float64 {
	phi1 := angle.DegToRad(lat)
	phi2 := angle.DegToRad(tLat)
	dPhi := phi2 - phi1
	dLambda := angle.DegToRad(tLon - lon)

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	if a > 1 {
		a = 1
	}
	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(a))
}

// RotationError is how far the device must turn (positive clockwise) for
// currentDeg to reach targetDeg. Result is in (-180,180].
func RotationError(currentDeg, targetDeg float64) float64 {
	return angle.SignedDiff(targetDeg, currentDeg)
}

// Solve returns bearing and distance to the Kaaba from (lat,lon).
func Solve(lat, lon float64) Target {
	return Target{
		BearingDeg: BearingTo(lat, lon, KaabaLatDeg, KaabaLonDeg),
		DistanceKm: DistanceKm(lat, lon, KaabaLatDeg, KaabaLonDeg),
	}
}

// ValidCoordinates reports whether lat/lon are finite and inside WGS84 bounds.
func ValidCoordinates(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}
