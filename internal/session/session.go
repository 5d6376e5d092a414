// Package session wires the heading engine to its live inputs: compass
// samples on the fast path, location fixes and declination on a slow poll,
// and the settings store read on every sample.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"qibla-ng/internal/compass"
	"qibla-ng/internal/engine"
	"qibla-ng/internal/gps"
	"qibla-ng/internal/heading"
	"qibla-ng/internal/qibla"
	"qibla-ng/internal/settings"
)

// Declination sources reported in Target.
const (
	DeclinationModel    = "model"
	DeclinationLast     = "last"
	DeclinationFallback = "fallback"
)

// Target is everything derived from the current location.
type Target struct {
	qibla.Target
	DeclinationDeg    float64 `json:"declination_deg"`
	DeclinationSource string  `json:"declination_source"`
	Fix               gps.Fix `json:"fix"`
}

// Reading is one published engine result.
type Reading struct {
	SessionID string    `json:"session_id"`
	At        time.Time `json:"at"`
	// Valid is false when the heading sensor went stale and the engine was
	// reset.
	Valid bool `json:"valid"`

	RawHeadingDeg float64 `json:"raw_heading_deg"`
	Accuracy      int     `json:"accuracy"`
	engine.Output

	TargetBearingDeg float64 `json:"target_bearing_deg"`
	DistanceKm       float64 `json:"distance_km"`
	DeclinationDeg   float64 `json:"declination_deg"`
	UseTrueNorth     bool    `json:"use_true_north"`
}

// Recorder receives the raw input streams.
type Recorder interface {
	WriteHeading(now time.Time, headingDeg float64, accuracy int) error
	WriteLocation(now time.Time, latDeg, lonDeg, altM, horizAccM float64) error
}

// Locator is polled for the current position.
type Locator interface {
	Fix() (gps.Fix, bool)
}

type Options struct {
	Settings *settings.Store
	// Declinator nil means FallbackDeclinationDeg is always used.
	Declinator             qibla.Declinator
	FallbackDeclinationDeg float64
	Cache                  *qibla.SolveCache
	CalibrationWindow      int
	Broadcaster            *Broadcaster
	Recorder               Recorder
	Log                    logrus.FieldLogger
	Now                    func() time.Time
}

type Session struct {
	opts  Options
	log   logrus.FieldLogger
	now   func() time.Time
	store *settings.Store
	cache *qibla.SolveCache
	bc    *Broadcaster

	// mu serializes engine access between the heading loop and Reset.
	mu        sync.Mutex
	eng       *engine.Engine
	sessionID string
	handled   uint64

	target  atomic.Pointer[Target]
	lastFix atomic.Pointer[gps.Fix]
}

func New(opts Options) (*Session, error) {
	log := opts.Log
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		log = l
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	store := opts.Settings
	if store == nil {
		var err error
		store, err = settings.New(engine.DefaultSettings(), "")
		if err != nil {
			return nil, err
		}
	}
	cache := opts.Cache
	if cache == nil {
		var err error
		cache, err = qibla.NewSolveCache(0, 0)
		if err != nil {
			return nil, err
		}
	}
	bc := opts.Broadcaster
	if bc == nil {
		bc = NewBroadcaster()
	}
	window := opts.CalibrationWindow
	if window <= 0 {
		window = heading.DefaultCalibrationWindow
	}

	return &Session{
		opts:      opts,
		log:       log.WithField("component", "session"),
		now:       now,
		store:     store,
		cache:     cache,
		bc:        bc,
		eng:       engine.NewWithCalibration(heading.NewCalibrationTracker(window, heading.CalibrationVarianceOn, heading.CalibrationVarianceOff)),
		sessionID: uuid.NewString(),
	}, nil
}

func (s *Session) Broadcaster() *Broadcaster { return s.bc }

func (s *Session) Settings() *settings.Store { return s.store }

func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Target returns the last location-derived target.
func (s *Session) Target() (Target, bool) {
	t := s.target.Load()
	if t == nil {
		return Target{}, false
	}
	return *t, true
}

// UpdateLocation recomputes bearing, distance and declination for fix. A
// repeated fix (same position and timestamp) is ignored.
func (s *Session) UpdateLocation(fix gps.Fix) (Target, bool) {
	if !qibla.ValidCoordinates(fix.LatDeg, fix.LonDeg) {
		s.log.WithField("lat", fix.LatDeg).WithField("lon", fix.LonDeg).Warn("ignoring invalid fix")
		return s.Target()
	}
	if prev := s.lastFix.Load(); prev != nil && sameFix(*prev, fix) {
		return s.Target()
	}
	f := fix
	s.lastFix.Store(&f)

	if s.opts.Recorder != nil {
		if err := s.opts.Recorder.WriteLocation(s.now(), fix.LatDeg, fix.LonDeg, fix.AltM, fix.HorizAccM); err != nil {
			s.log.WithError(err).Debug("record location failed")
		}
	}

	t := Target{
		Target: s.cache.Solve(fix.LatDeg, fix.LonDeg),
		Fix:    fix,
	}
	t.DeclinationDeg, t.DeclinationSource = s.declination(fix)
	s.target.Store(&t)
	return t, true
}

func sameFix(a, b gps.Fix) bool {
	return a.LatDeg == b.LatDeg && a.LonDeg == b.LonDeg && a.AltM == b.AltM && a.At.Equal(b.At)
}

func (s *Session) declination(fix gps.Fix) (float64, string) {
	if s.opts.Declinator == nil {
		return s.opts.FallbackDeclinationDeg, DeclinationFallback
	}
	at := fix.At
	if at.IsZero() {
		at = s.now()
	}
	d, err := s.opts.Declinator.DeclinationDeg(fix.LatDeg, fix.LonDeg, fix.AltM, at)
	if err == nil {
		return d, DeclinationModel
	}
	if prev := s.target.Load(); prev != nil {
		s.log.WithError(err).Warn("declination failed; keeping last value")
		return prev.DeclinationDeg, DeclinationLast
	}
	s.log.WithError(err).Warn("declination failed; using fallback")
	return s.opts.FallbackDeclinationDeg, DeclinationFallback
}

// HandleSample runs one compass sample through the engine and publishes the
// reading. It returns false while no target is known.
func (s *Session) HandleSample(smp compass.Sample) (Reading, bool) {
	smp = smp.Normalized()
	if smp.At.IsZero() {
		smp.At = s.now()
	}
	if s.opts.Recorder != nil {
		if err := s.opts.Recorder.WriteHeading(smp.At, smp.HeadingDeg, int(smp.Accuracy)); err != nil {
			s.log.WithError(err).Debug("record heading failed")
		}
	}

	t := s.target.Load()
	if t == nil {
		return Reading{}, false
	}
	st := s.store.Get()

	s.mu.Lock()
	out := s.eng.Calculate(engine.Input{
		RawHeadingDeg:    smp.HeadingDeg,
		Accuracy:         int(smp.Accuracy),
		DeclinationDeg:   t.DeclinationDeg,
		TargetBearingDeg: t.BearingDeg,
		Settings:         st,
	})
	s.handled++
	id := s.sessionID
	s.mu.Unlock()

	r := Reading{
		SessionID:        id,
		At:               smp.At,
		Valid:            true,
		RawHeadingDeg:    smp.HeadingDeg,
		Accuracy:         int(smp.Accuracy),
		Output:           out,
		TargetBearingDeg: t.BearingDeg,
		DistanceKm:       t.DistanceKm,
		DeclinationDeg:   t.DeclinationDeg,
		UseTrueNorth:     st.UseTrueNorth,
	}
	s.bc.Publish(r)
	return r, true
}

// Reset clears the engine state and starts a new session ID.
func (s *Session) Reset() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eng.Reset()
	s.sessionID = uuid.NewString()
	s.log.WithField("session_id", s.sessionID).Info("engine reset")
	return s.sessionID
}

// Revoke resets the engine and publishes an invalid reading so outputs
// stop showing a heading the sensor no longer backs.
func (s *Session) Revoke() {
	id := s.Reset()
	r := Reading{SessionID: id, At: s.now(), Valid: false}
	if t := s.target.Load(); t != nil {
		r.TargetBearingDeg = t.BearingDeg
		r.DistanceKm = t.DistanceKm
		r.DeclinationDeg = t.DeclinationDeg
	}
	r.UseTrueNorth = s.store.Get().UseTrueNorth
	s.bc.Publish(r)
}

// Stats is the session part of /api/status.
type Stats struct {
	SessionID   string             `json:"session_id"`
	Handled     uint64             `json:"samples_handled"`
	HaveTarget  bool               `json:"have_target"`
	Target      *Target            `json:"target,omitempty"`
	Diagnostics engine.Diagnostics `json:"diagnostics"`
	Settings    engine.Settings    `json:"settings"`
}

func (s *Session) Stats() Stats {
	s.mu.Lock()
	st := Stats{
		SessionID:   s.sessionID,
		Handled:     s.handled,
		Diagnostics: s.eng.Diagnostics(),
	}
	s.mu.Unlock()
	if t, ok := s.Target(); ok {
		st.HaveTarget = true
		st.Target = &t
	}
	st.Settings = s.store.Get()
	return st
}

type RunConfig struct {
	PollInterval time.Duration
	// StaleAfter <= 0 disables the heading watchdog.
	StaleAfter time.Duration
}

// Run drives the session until ctx is done or samples is closed.
func (s *Session) Run(ctx context.Context, samples <-chan compass.Sample, loc Locator, cfg RunConfig) error {
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = time.Second
	}
	pollLocation := func() {
		if loc == nil {
			return
		}
		if fix, ok := loc.Fix(); ok {
			s.UpdateLocation(fix)
		}
	}
	pollLocation()

	locTicker := time.NewTicker(poll)
	defer locTicker.Stop()

	var watchdog <-chan time.Time
	if cfg.StaleAfter > 0 {
		every := cfg.StaleAfter / 2
		if every < 10*time.Millisecond {
			every = 10 * time.Millisecond
		}
		t := time.NewTicker(every)
		defer t.Stop()
		watchdog = t.C
	}

	var lastSample time.Time
	revoked := false

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-locTicker.C:
			pollLocation()
		case <-watchdog:
			if lastSample.IsZero() || revoked {
				continue
			}
			if s.now().Sub(lastSample) > cfg.StaleAfter {
				s.log.WithField("last_sample", lastSample.UTC().Format(time.RFC3339Nano)).Warn("heading stale; resetting engine")
				s.Revoke()
				revoked = true
			}
		case smp, ok := <-samples:
			if !ok {
				return nil
			}
			if _, ok := s.HandleSample(smp); ok {
				lastSample = s.now()
				revoked = false
			}
		}
	}
}
