// Package heading implements the stateful filters of the heading pipeline:
// an adaptive low-pass smoother, a circular-variance calibration detector and
// a facing hysteresis tracker.
//
// None of the types here are safe for concurrent use; a single goroutine owns
// each instance.
package heading

import (
	"math"

	"qibla-ng/internal/angle"
)

// Smoother is an exponential moving average over a circular quantity whose
// coefficient is boosted when the input jumps, so small jitter stays heavily
// filtered while deliberate rotations are tracked quickly.
type Smoother struct {
	value       float64
	initialized bool
	alpha       float64
}

// NewSmoother returns an uninitialized smoother; the first Update snaps to its
// input.
func NewSmoother(alpha float64) *Smoother {
	return &Smoother{alpha: clampAlpha(alpha)}
}

// NewSeededSmoother returns a smoother whose current value is already seed.
func NewSeededSmoother(alpha, seed float64) *Smoother {
	return &Smoother{
		value:       angle.Normalize360(seed),
		initialized: true,
		alpha:       clampAlpha(alpha),
	}
}

// Update feeds a raw heading and returns the new smoothed heading in [0,360).
func (s *Smoother) Update(raw float64) float64 {
	if !s.initialized {
		s.value = angle.Normalize360(raw)
		s.initialized = true
		return s.value
	}
	delta := angle.SignedDiff(raw, s.value)
	s.value = angle.Normalize360(s.value + s.effectiveAlpha(delta)*delta)
	return s.value
}

func (s *Smoother) effectiveAlpha(delta float64) float64 {
	d := math.Abs(delta)
	switch {
	case d > BurstThresholdDeg:
		return math.Min(s.alpha*BurstAlphaGain, BurstAlphaCap)
	case d > StepThresholdDeg:
		return math.Min(s.alpha*StepAlphaGain, StepAlphaCap)
	default:
		return s.alpha
	}
}

// SetAlpha changes the base coefficient without touching the current value.
func (s *Smoother) SetAlpha(alpha float64) {
	s.alpha = clampAlpha(alpha)
}

// Alpha returns the clamped base coefficient.
func (s *Smoother) Alpha() float64 { return s.alpha }

// Value returns the current smoothed heading and whether any sample was seen.
func (s *Smoother) Value() (float64, bool) { return s.value, s.initialized }

func clampAlpha(a float64) float64 {
	if math.IsNaN(a) {
		return MinAlpha
	}
	return math.Max(MinAlpha, math.Min(MaxAlpha, a))
}
