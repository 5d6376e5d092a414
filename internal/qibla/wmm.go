package qibla

import (
	"math"
	"time"

	"github.com/pkg/errors"
	"github.com/westphae/geomag/pkg/egm96"
	"github.com/westphae/geomag/pkg/wmm"
)

// WMM evaluates the World Magnetic Model.
type WMM struct{}

// NewWMM returns a WMM declinator.
func NewWMM() *WMM { return &WMM{} }

func (w *WMM) DeclinationDeg(latDeg, lonDeg, altM float64, at time.Time) (float64, error) {
	if !ValidCoordinates(latDeg, lonDeg) {
		return 0, errors.Errorf("invalid position lat=%v lon=%v", latDeg, lonDeg)
	}
	if math.IsNaN(altM) || math.IsInf(altM, 0) {
		altM = 0
	}
	if at.IsZero() {
		at = time.Now()
	}
	loc := egm96.NewLocationGeodetic(latDeg, lonDeg, altM)
	mag, err := wmm.CalculateWMMMagneticField(loc, at.UTC())
	if err != nil {
		return 0, errors.Wrap(err, "wmm")
	}
	d := mag.D()
	if math.IsNaN(d) || math.IsInf(d, 0) {
		return 0, errors.New("wmm: declination undefined at this position")
	}
	return d, nil
}
