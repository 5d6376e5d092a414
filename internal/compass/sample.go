// Package compass provides the heading input: a serial NMEA compass, an
// I2C IMU, remote samples over MQTT, a simulator, or samples injected by the
// replay player.
package compass

import (
	"time"

	"qibla-ng/internal/angle"
)

// Accuracy is the sensor's self-reported reliability tier.
type Accuracy int

const (
	Unreliable Accuracy = iota
	Low
	Medium
	High
)

func (a Accuracy) String() string {
	switch a {
	case Unreliable:
		return "unreliable"
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	default:
		return "unknown"
	}
}

// Valid reports whether a is one of the four defined tiers.
func (a Accuracy) Valid() bool { return a >= Unreliable && a <= High }

// Sample is one magnetic heading reading.
type Sample struct {
	HeadingDeg float64   `json:"heading_deg"`
	Accuracy   Accuracy  `json:"accuracy"`
	At         time.Time `json:"at"`
}

// Normalized returns s with the heading in [0,360) and accuracy clamped.
func (s Sample) Normalized() Sample {
	s.HeadingDeg = angle.Normalize360(s.HeadingDeg)
	if s.Accuracy < Unreliable {
		s.Accuracy = Unreliable
	}
	if s.Accuracy > High {
		s.Accuracy = High
	}
	return s
}
