package heading

// Tuning constants shared by the heading filters. The engine and the session
// runtime construct trackers from these; nothing else should hardcode them.
const (
	// Smoother base coefficient bounds.
	MinAlpha = 0.01
	MaxAlpha = 0.99

	// Deltas above BurstThresholdDeg use the strong boost, deltas above
	// StepThresholdDeg use the mild boost.
	BurstThresholdDeg = 20.0
	BurstAlphaGain    = 2.5
	BurstAlphaCap     = 0.95
	StepThresholdDeg  = 10.0
	StepAlphaGain     = 1.8
	StepAlphaCap      = 0.85

	// Calibration detector window (samples) and variance hysteresis band.
	DefaultCalibrationWindow = 60
	CalibrationVarianceOn    = 0.35
	CalibrationVarianceOff   = 0.25

	// FacingExitMargin widens the leave-facing threshold relative to the
	// enter-facing tolerance.
	FacingExitMargin = 4.0
)
