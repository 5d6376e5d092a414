package gps

import "time"

// Fix is one position report.
type Fix struct {
	LatDeg    float64   `json:"lat_deg"`
	LonDeg    float64   `json:"lon_deg"`
	AltM      float64   `json:"alt_m"`
	HorizAccM float64   `json:"horiz_acc_m,omitempty"`
	At        time.Time `json:"at"`
}

type Snapshot struct {
	Enabled  bool `json:"enabled"`
	Valid    bool `json:"valid"`
	FixStale bool `json:"fix_stale"`

	Source   string `json:"source,omitempty"`
	GPSDAddr string `json:"gpsd_addr,omitempty"`
	Device   string `json:"device,omitempty"`
	Baud     int    `json:"baud,omitempty"`

	LatDeg     float64  `json:"lat_deg,omitempty"`
	LonDeg     float64  `json:"lon_deg,omitempty"`
	AltM       *float64 `json:"alt_m,omitempty"`
	FixQuality *int     `json:"fix_quality,omitempty"`
	FixMode    *int     `json:"fix_mode,omitempty"`
	Satellites *int     `json:"satellites,omitempty"`
	HDOP       *float64 `json:"hdop,omitempty"`
	HorizAccM  *float64 `json:"horiz_acc_m,omitempty"`
	FixAgeSec  float64  `json:"fix_age_sec,omitempty"`

	LastFixUTC   string `json:"last_fix_utc,omitempty"`
	LastError    string `json:"last_error,omitempty"`
	BadSentences uint64 `json:"bad_sentences,omitempty"`

	fixAt time.Time
}

// Fix converts a valid snapshot into a Fix.
func (s Snapshot) Fix() (Fix, bool) {
	if !s.Valid {
		return Fix{}, false
	}
	f := Fix{LatDeg: s.LatDeg, LonDeg: s.LonDeg, At: s.fixAt}
	if s.AltM != nil {
		f.AltM = *s.AltM
	}
	if s.HorizAccM != nil {
		f.HorizAccM = *s.HorizAccM
	}
	return f, true
}
