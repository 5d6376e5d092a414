package qibla

import "time"

// Declinator returns the magnetic declination (degrees, east positive) at a
// position and time. True heading = magnetic heading + declination.
type Declinator interface {
	DeclinationDeg(latDeg, lonDeg, altM float64, at time.Time) (float64, error)
}

// FixedDeclination ignores position and time.
type FixedDeclination float64

func (f FixedDeclination) DeclinationDeg(_, _, _ float64, _ time.Time) (float64, error) {
	return float64(f), nil
}
