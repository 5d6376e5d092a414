// Package engine turns one raw compass sample plus the current target and
// settings into a smoothed heading, the rotation error toward the target,
// the facing state and the calibration warning.
//
// An Engine is owned by a single goroutine.
package engine

import (
	"qibla-ng/internal/angle"
	"qibla-ng/internal/heading"
)

// Input is everything Calculate needs for one heading sample.
type Input struct {
	RawHeadingDeg    float64
	Accuracy         int // 0 unreliable .. 3 high
	DeclinationDeg   float64
	TargetBearingDeg float64
	Settings         Settings
}

// Output is the per-sample result.
type Output struct {
	SmoothedHeadingDeg float64 `json:"smoothed_heading_deg"`
	RotationErrorDeg   float64 `json:"rotation_error_deg"`
	IsFacing           bool    `json:"is_facing"`
	NeedsCalibration   bool    `json:"needs_calibration"`
}

// Diagnostics exposes the calibration window statistics.
type Diagnostics struct {
	Samples        int     `json:"samples"`
	Variance       float64 `json:"variance"`
	HaveVariance   bool    `json:"have_variance"`
	MeanHeadingDeg float64 `json:"mean_heading_deg"`
	Alpha          float64 `json:"alpha"`
	ToleranceOnDeg float64 `json:"tolerance_on_deg"`
	ToleranceOff   float64 `json:"tolerance_off_deg"`
}

type Engine struct {
	smoother  *heading.Smoother
	smoothing float64

	facing    *heading.FacingTracker
	tolerance int

	calibration *heading.CalibrationTracker
}

func New() *Engine {
	return &Engine{calibration: heading.NewDefaultCalibrationTracker()}
}

// NewWithCalibration lets callers size the calibration window.
func NewWithCalibration(c *heading.CalibrationTracker) *Engine {
	if c == nil {
		c = heading.NewDefaultCalibrationTracker()
	}
	return &Engine{calibration: c}
}

// Calculate runs one sample through the pipeline.
func (e *Engine) Calculate(in Input) Output {
	s := in.Settings.Clamped()

	adjusted := angle.Normalize360(in.RawHeadingDeg)
	if s.UseTrueNorth {
		adjusted = angle.Normalize360(in.RawHeadingDeg + in.DeclinationDeg)
	}

	if e.facing == nil || s.AlignmentToleranceDeg != e.tolerance {
		e.facing = heading.NewFacingTrackerForTolerance(float64(s.AlignmentToleranceDeg))
		e.tolerance = s.AlignmentToleranceDeg
	}

	if e.smoother == nil {
		e.smoother = heading.NewSeededSmoother(s.Smoothing, adjusted)
		e.smoothing = s.Smoothing
	} else if s.Smoothing != e.smoothing {
		e.smoother.SetAlpha(s.Smoothing)
		e.smoothing = s.Smoothing
	}

	smoothed := e.smoother.Update(adjusted)
	target := angle.Normalize360(in.TargetBearingDeg)

	out := Output{
		SmoothedHeadingDeg: smoothed,
		RotationErrorDeg:   angle.SignedDiff(target, smoothed),
		IsFacing:           e.facing.Update(target, smoothed),
	}
	// The window is fed even when accuracy already forces the flag.
	calib := e.calibration.Update(smoothed)
	out.NeedsCalibration = in.Accuracy == 0 || calib
	return out
}

// Reset drops the smoother and facing tracker and clears the calibration
// window. The next Calculate starts from scratch.
func (e *Engine) Reset() {
	e.smoother = nil
	e.smoothing = 0
	e.facing = nil
	e.tolerance = 0
	e.calibration.Reset()
}

// Diagnostics returns a snapshot of internal filter state.
func (e *Engine) Diagnostics() Diagnostics {
	var d Diagnostics
	d.Samples = e.calibration.Len()
	d.Variance, d.HaveVariance = e.calibration.Variance()
	d.MeanHeadingDeg, _ = e.calibration.MeanHeading()
	if e.smoother != nil {
		d.Alpha = e.smoother.Alpha()
	}
	if e.facing != nil {
		d.ToleranceOnDeg, d.ToleranceOff = e.facing.Thresholds()
	}
	return d
}
