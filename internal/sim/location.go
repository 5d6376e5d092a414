package sim

import (
	"math"
	"time"
)

const metresPerDegLat = 111320.0

// LocationSim walks a figure-eight around a center point.
type LocationSim struct {
	CenterLatDeg float64
	CenterLonDeg float64
	AltM         float64
	RadiusM      float64
	Period       time.Duration
}

// Position returns a deterministic position for now.
func (s LocationSim) Position(now time.Time) (latDeg, lonDeg float64) {
	period := s.Period
	if period <= 0 {
		period = 120 * time.Second
	}
	radiusM := s.RadiusM
	if radiusM <= 0 {
		radiusM = 500
	}
	radiusDeg := radiusM / metresPerDegLat

	phase := float64(now.UnixNano()%period.Nanoseconds()) / float64(period.Nanoseconds())

	// Lissajous: x = cos(w), y = 0.5 sin(2w).
	w := 2 * math.Pi * phase
	x := math.Cos(w)
	y := 0.5 * math.Sin(2*w)

	latDeg = s.CenterLatDeg + radiusDeg*y
	lonDeg = s.CenterLonDeg + (radiusDeg*x)/math.Cos(s.CenterLatDeg*math.Pi/180.0)
	return latDeg, lonDeg
}
