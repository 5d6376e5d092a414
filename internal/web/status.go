package web

import (
	"sync/atomic"
	"time"

	"qibla-ng/internal/compass"
	"qibla-ng/internal/gps"
	"qibla-ng/internal/session"
)

// Sources are polled on every /api/status request. Nil entries are
// reported as absent.
type Sources struct {
	Compass func() compass.Snapshot
	GPS     func() gps.Snapshot
	Session func() session.Stats
	// Outputs reports per-output state (mqtt, udp, indicator, record).
	Outputs func() map[string]any
}

type Status struct {
	startUnixNano int64
	mode          atomic.Value // string
	sources       atomic.Pointer[Sources]
}

func NewStatus() *Status {
	s := &Status{}
	atomic.StoreInt64(&s.startUnixNano, time.Now().UTC().UnixNano())
	s.mode.Store("")
	s.sources.Store(&Sources{})
	return s
}

func (s *Status) SetMode(mode string) {
	if mode != "" {
		s.mode.Store(mode)
	}
}

func (s *Status) SetSources(src Sources) {
	s.sources.Store(&src)
}

type StatusSnapshot struct {
	Service   string            `json:"service"`
	NowUTC    string            `json:"now_utc"`
	UptimeSec int64             `json:"uptime_sec"`
	Mode      string            `json:"mode"`
	Session   *session.Stats    `json:"session,omitempty"`
	Compass   *compass.Snapshot `json:"compass,omitempty"`
	GPS       *gps.Snapshot     `json:"gps,omitempty"`
	Outputs   map[string]any    `json:"outputs,omitempty"`
	System    SystemSnapshot    `json:"system"`
}

func (s *Status) Snapshot(nowUTC time.Time) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	start := time.Unix(0, atomic.LoadInt64(&s.startUnixNano)).UTC()

	snap := StatusSnapshot{
		Service:   "qibla-ng",
		NowUTC:    nowUTC.UTC().Format(time.RFC3339Nano),
		UptimeSec: int64(nowUTC.Sub(start).Seconds()),
		Mode:      s.mode.Load().(string),
		System:    snapshotSystem(nowUTC),
	}
	src := s.sources.Load()
	if src.Session != nil {
		v := src.Session()
		snap.Session = &v
	}
	if src.Compass != nil {
		v := src.Compass()
		snap.Compass = &v
	}
	if src.GPS != nil {
		v := src.GPS()
		snap.GPS = &v
	}
	if src.Outputs != nil {
		snap.Outputs = src.Outputs()
	}
	return snap
}
