package engine

import "math"

const (
	MinAlignmentToleranceDeg     = 2
	MaxAlignmentToleranceDeg     = 20
	DefaultAlignmentToleranceDeg = 6
	DefaultSmoothing             = 0.25
)

// Settings are the user-tunable knobs read on every Calculate.
type Settings struct {
	UseTrueNorth          bool    `json:"use_true_north" yaml:"use_true_north"`
	Smoothing             float64 `json:"smoothing" yaml:"smoothing"`
	AlignmentToleranceDeg int     `json:"alignment_tolerance_deg" yaml:"alignment_tolerance_deg"`
}

// DefaultSettings returns the out-of-box settings.
func DefaultSettings() Settings {
	return Settings{
		UseTrueNorth:          true,
		Smoothing:             DefaultSmoothing,
		AlignmentToleranceDeg: DefaultAlignmentToleranceDeg,
	}
}

// Clamped returns a copy with every field inside its allowed range.
func (s Settings) Clamped() Settings {
	s.AlignmentToleranceDeg = ClampTolerance(s.AlignmentToleranceDeg)
	if math.IsNaN(s.Smoothing) {
		s.Smoothing = DefaultSmoothing
	}
	s.Smoothing = math.Max(0, math.Min(1, s.Smoothing))
	return s
}

func ClampTolerance(tol int) int {
	if tol < MinAlignmentToleranceDeg {
		return MinAlignmentToleranceDeg
	}
	if tol > MaxAlignmentToleranceDeg {
		return MaxAlignmentToleranceDeg
	}
	return tol
}
