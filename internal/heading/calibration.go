package heading

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"qibla-ng/internal/angle"
)

// CalibrationTracker flags magnetometer disturbance from the circular variance
// of the most recent headings. The flag uses a hysteresis band so borderline
// noise does not make it flicker.
type CalibrationTracker struct {
	window int
	varOn  float64
	varOff float64

	buf  []float64 // ring, radians
	head int
	n    int

	needs    bool
	variance float64
	haveVar  bool
}

// NewCalibrationTracker builds a tracker. Non-positive window falls back to
// DefaultCalibrationWindow. An inverted band is rebuilt below varOn with the
// default width, or at varOn/2 when that width would leave varOff <= 0 and
// the flag could never clear.
func NewCalibrationTracker(window int, varOn, varOff float64) *CalibrationTracker {
	if window <= 0 {
		window = DefaultCalibrationWindow
	}
	if varOff >= varOn {
		varOff = varOn - (CalibrationVarianceOn - CalibrationVarianceOff)
		if varOff <= 0 {
			varOff = varOn / 2
		}
	}
	return &CalibrationTracker{
		window: window,
		varOn:  varOn,
		varOff: varOff,
		buf:    make([]float64, window),
	}
}

// NewDefaultCalibrationTracker uses the package defaults (60 samples, 0.35/0.25).
func NewDefaultCalibrationTracker() *CalibrationTracker {
	return NewCalibrationTracker(DefaultCalibrationWindow, CalibrationVarianceOn, CalibrationVarianceOff)
}

// Update pushes a heading (degrees) and returns the needs-calibration flag.
// Until half a window is collected the flag is returned unchanged.
func (c *CalibrationTracker) Update(headingDeg float64) bool {
	c.buf[c.head] = angle.DegToRad(angle.Normalize360(headingDeg))
	c.head = (c.head + 1) % c.window
	if c.n < c.window {
		c.n++
	}
	if c.n < c.window/2 {
		return c.needs
	}

	var sx, sy float64
	for _, r := range c.samples() {
		sx += math.Cos(r)
		sy += math.Sin(r)
	}
	mx := sx / float64(c.n)
	my := sy / float64(c.n)
	v := 1 - math.Hypot(mx, my)
	if v < 0 {
		v = 0
	}
	c.variance = v
	c.haveVar = true

	if c.needs {
		if v < c.varOff {
			c.needs = false
		}
	} else if v > c.varOn {
		c.needs = true
	}
	return c.needs
}

// samples returns the buffered radians, oldest first.
func (c *CalibrationTracker) samples() []float64 {
	if c.n < c.window {
		return c.buf[:c.n]
	}
	out := make([]float64, 0, c.window)
	out = append(out, c.buf[c.head:]...)
	return append(out, c.buf[:c.head]...)
}

// Reset clears the window and the flag.
func (c *CalibrationTracker) Reset() {
	c.head = 0
	c.n = 0
	c.needs = false
	c.variance = 0
	c.haveVar = false
}

// NeedsCalibration returns the current flag.
func (c *CalibrationTracker) NeedsCalibration() bool { return c.needs }

// Variance returns the last computed circular variance, if any.
func (c *CalibrationTracker) Variance() (float64, bool) { return c.variance, c.haveVar }

// Len is the number of buffered samples.
func (c *CalibrationTracker) Len() int { return c.n }

// MeanHeading returns the circular mean of the window in [0,360).
func (c *CalibrationTracker) MeanHeading() (float64, bool) {
	if c.n == 0 {
		return 0, false
	}
	m := stat.CircularMean(c.samples(), nil)
	return angle.Normalize360(angle.RadToDeg(m)), true
}
