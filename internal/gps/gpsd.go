package gps

import (
	"context"
	"encoding/json"
	"math"
	"net"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const gpsdDefaultAddr = "127.0.0.1:2947"

func dialGPSD(ctx context.Context, addr string) (net.Conn, error) {
	if strings.TrimSpace(addr) == "" {
		addr = gpsdDefaultAddr
	}
	d := &net.Dialer{Timeout: 2 * time.Second}
	return d.DialContext(ctx, "tcp", addr)
}

// gpsdWatch asks for JSON reports in SI units.
func gpsdWatch(conn net.Conn) error {
	_, err := conn.Write([]byte(`?WATCH={"enable":true,"json":true,"scaled":true}` + "\n"))
	return err
}

// gpsdReport is the union of the TPV and SKY fields we use; gpsd sends one
// object per line tagged by class.
type gpsdReport struct {
	Class string `json:"class"`

	// TPV.
	Mode   *int     `json:"mode"`
	Time   string   `json:"time"`
	Lat    *float64 `json:"lat"`
	Lon    *float64 `json:"lon"`
	Alt    *float64 `json:"alt"`
	AltHAE *float64 `json:"altHAE"`
	AltMSL *float64 `json:"altMSL"`
	Eph    *float64 `json:"eph"`
	Epx    *float64 `json:"epx"`
	Epy    *float64 `json:"epy"`

	// SKY.
	HDOP       *float64 `json:"hdop"`
	USat       *int     `json:"uSat"`
	Satellites []struct {
		Used bool `json:"used"`
	} `json:"satellites"`
}

// altitude prefers height above the ellipsoid, which is what the magnetic
// model expects.
func (r gpsdReport) altitude() *float64 {
	for _, v := range []*float64{r.AltHAE, r.AltMSL, r.Alt} {
		if v != nil {
			return v
		}
	}
	return nil
}

func (r gpsdReport) horizAcc() *float64 {
	if r.Eph != nil {
		return r.Eph
	}
	if r.Epx != nil && r.Epy != nil {
		v := math.Hypot(*r.Epx, *r.Epy)
		return &v
	}
	return nil
}

// gpsdState folds the report stream into the latest values. Nil means never
// reported.
type gpsdState struct {
	addr string

	lat, lon  *float64
	alt       *float64
	horizAccM *float64
	mode      *int
	sats      *int
	hdop      *float64

	lastFix time.Time
	valid   bool
}

func newGPSDState(addr string) *gpsdState {
	return &gpsdState{addr: strings.TrimSpace(addr)}
}

func (s *gpsdState) applyLine(nowUTC time.Time, line string) (bool, error) {
	var r gpsdReport
	if err := json.Unmarshal([]byte(line), &r); err != nil {
		return false, errors.Wrap(err, "gpsd json parse failed")
	}
	switch strings.ToUpper(r.Class) {
	case "TPV":
		return s.applyTPV(nowUTC, r), nil
	case "SKY":
		return s.applySKY(r), nil
	default:
		// VERSION, DEVICES, WATCH.
		return false, nil
	}
}

func (s *gpsdState) applyTPV(nowUTC time.Time, r gpsdReport) bool {
	changed := false
	set := func(dst **float64, v *float64) {
		if v != nil {
			*dst = v
			changed = true
		}
	}
	if r.Mode != nil {
		s.mode = r.Mode
		changed = true
	}
	set(&s.lat, r.Lat)
	set(&s.lon, r.Lon)
	set(&s.alt, r.altitude())
	set(&s.horizAccM, r.horizAcc())

	if s.mode != nil && *s.mode >= 2 && s.lat != nil && s.lon != nil {
		s.valid = true
		s.lastFix = nowUTC
		if t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(r.Time)); err == nil {
			s.lastFix = t.UTC()
		}
		changed = true
	}
	return changed
}

func (s *gpsdState) applySKY(r gpsdReport) bool {
	changed := false
	if r.HDOP != nil {
		s.hdop = r.HDOP
		changed = true
	}
	switch {
	case r.USat != nil:
		s.sats = r.USat
		changed = true
	case len(r.Satellites) > 0:
		used := 0
		for _, sat := range r.Satellites {
			if sat.Used {
				used++
			}
		}
		s.sats = &used
		changed = true
	}
	return changed
}

func (s *gpsdState) snapshot() Snapshot {
	out := Snapshot{
		Enabled:    true,
		Valid:      s.valid,
		Source:     "gpsd",
		Device:     "gpsd",
		GPSDAddr:   s.addr,
		AltM:       s.alt,
		HorizAccM:  s.horizAccM,
		FixMode:    s.mode,
		Satellites: s.sats,
		HDOP:       s.hdop,
		fixAt:      s.lastFix,
	}
	if s.lat != nil {
		out.LatDeg = *s.lat
	}
	if s.lon != nil {
		out.LonDeg = *s.lon
	}
	if !s.lastFix.IsZero() {
		out.LastFixUTC = s.lastFix.UTC().Format(time.RFC3339Nano)
	}
	return out
}
