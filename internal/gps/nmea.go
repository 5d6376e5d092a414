package gps

import (
	"time"

	nmea "github.com/adrianmo/go-nmea"
)

// nmeaState folds RMC and GGA sentences into a position.
type nmeaState struct {
	device string
	baud   int

	latDeg float64
	lonDeg float64
	posOK  bool

	altM  float64
	altOK bool

	fixQuality   int
	fixQualityOK bool
	satellites   int
	satsOK       bool
	hdop         float64
	hdopOK       bool

	lastFix time.Time
	valid   bool
}

// Receivers report roughly this many metres of horizontal error per HDOP unit.
const hdopUERE = 5.0

func (s *nmeaState) apply(nowUTC time.Time, sent nmea.Sentence) bool {
	switch sent.DataType() {
	case nmea.TypeRMC:
		return s.applyRMC(nowUTC, sent.(nmea.RMC))
	case nmea.TypeGGA:
		return s.applyGGA(nowUTC, sent.(nmea.GGA))
	default:
		return false
	}
}

func (s *nmeaState) applyRMC(nowUTC time.Time, m nmea.RMC) bool {
	if m.Validity != nmea.ValidRMC {
		return false
	}
	s.latDeg = m.Latitude
	s.lonDeg = m.Longitude
	s.posOK = true
	s.lastFix = rmcTime(m, nowUTC)
	s.valid = true
	return true
}

// rmcTime uses the receiver's date and time when both are present.
func rmcTime(m nmea.RMC, fallback time.Time) time.Time {
	if !m.Date.Valid || !m.Time.Valid {
		return fallback
	}
	year := 2000 + m.Date.YY
	if m.Date.YY >= 80 {
		year = 1900 + m.Date.YY
	}
	return time.Date(year, time.Month(m.Date.MM), m.Date.DD,
		m.Time.Hour, m.Time.Minute, m.Time.Second, m.Time.Millisecond*int(time.Millisecond), time.UTC)
}

func (s *nmeaState) applyGGA(nowUTC time.Time, m nmea.GGA) bool {
	if m.FixQuality == "" || m.FixQuality == nmea.Invalid {
		return false
	}
	if q, ok := parseFixQuality(m.FixQuality); ok {
		s.fixQuality = q
		s.fixQualityOK = true
	}
	s.satellites = int(m.NumSatellites)
	s.satsOK = true
	if m.HDOP > 0 {
		s.hdop = m.HDOP
		s.hdopOK = true
	}
	s.altM = m.Altitude
	s.altOK = true

	s.latDeg = m.Latitude
	s.lonDeg = m.Longitude
	s.posOK = true
	s.lastFix = nowUTC
	s.valid = true
	return true
}

func parseFixQuality(q string) (int, bool) {
	if len(q) != 1 || q[0] < '0' || q[0] > '9' {
		return 0, false
	}
	return int(q[0] - '0'), true
}

func (s *nmeaState) snapshot() Snapshot {
	out := Snapshot{
		Enabled: true,
		Valid:   s.valid && s.posOK,
		Source:  "nmea",
		Device:  s.device,
		Baud:    s.baud,
		LatDeg:  s.latDeg,
		LonDeg:  s.lonDeg,
		fixAt:   s.lastFix,
	}
	if s.altOK {
		v := s.altM
		out.AltM = &v
	}
	if s.fixQualityOK {
		v := s.fixQuality
		out.FixQuality = &v
	}
	if s.satsOK {
		v := s.satellites
		out.Satellites = &v
	}
	if s.hdopOK {
		v := s.hdop
		out.HDOP = &v
		acc := s.hdop * hdopUERE
		out.HorizAccM = &acc
	}
	if !s.lastFix.IsZero() {
		out.LastFixUTC = s.lastFix.UTC().Format(time.RFC3339Nano)
	}
	return out
}
