package sim

import (
	"math"
	"time"

	"qibla-ng/internal/angle"
)

// HeadingSim sweeps a compass heading back and forth around BaseDeg with a
// small deterministic jitter, like a hand-held phone being turned.
type HeadingSim struct {
	BaseDeg  float64
	SweepDeg float64
	NoiseDeg float64
	Period   time.Duration
}

func (s HeadingSim) Heading(now time.Time) float64 {
	period := s.Period
	if period <= 0 {
		period = 60 * time.Second
	}
	phase := float64(now.UnixNano()%period.Nanoseconds()) / float64(period.Nanoseconds())
	w := 2 * math.Pi * phase

	h := s.BaseDeg + s.SweepDeg*math.Sin(w)
	if s.NoiseDeg != 0 {
		// Incommensurate frequencies so the jitter never lines up with the sweep.
		h += s.NoiseDeg * (0.6*math.Sin(37*w) + 0.4*math.Sin(91*w+1))
	}
	return angle.Normalize360(h)
}
