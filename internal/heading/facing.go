package heading

import "qibla-ng/internal/angle"

// FacingTracker decides whether the device points at a target bearing. It
// enters the facing state within tolOn degrees and only leaves it once the
// error exceeds tolOff. Thresholds are fixed at construction.
type FacingTracker struct {
	tolOn  float64
	tolOff float64
	facing bool
}

// NewFacingTracker builds a tracker; tolOff below tolOn is raised to tolOn.
func NewFacingTracker(tolOn, tolOff float64) *FacingTracker {
	if tolOff < tolOn {
		tolOff = tolOn
	}
	return &FacingTracker{tolOn: tolOn, tolOff: tolOff}
}

// NewFacingTrackerForTolerance uses tolerance as the enter threshold and
// tolerance+FacingExitMargin as the exit threshold.
func NewFacingTrackerForTolerance(tolerance float64) *FacingTracker {
	return NewFacingTracker(tolerance, tolerance+FacingExitMargin)
}

// Update evaluates the heading against the target and returns the new state.
func (f *FacingTracker) Update(targetDeg, headingDeg float64) bool {
	err := angle.AbsDiff(targetDeg, headingDeg)
	if f.facing {
		f.facing = err <= f.tolOff
	} else {
		f.facing = err <= f.tolOn
	}
	return f.facing
}

// Reset returns to not-facing.
func (f *FacingTracker) Reset() { f.facing = false }

// Facing returns the current state.
func (f *FacingTracker) Facing() bool { return f.facing }

// Thresholds returns the enter/exit tolerances.
func (f *FacingTracker) Thresholds() (tolOn, tolOff float64) { return f.tolOn, f.tolOff }
