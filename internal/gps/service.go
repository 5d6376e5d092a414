package gps

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	"github.com/sirupsen/logrus"

	"qibla-ng/internal/serial"
	"qibla-ng/internal/sim"
)

// Config controls the location reader.
//
// Device may be empty to auto-detect a USB receiver. This is a best-effort
// service; failures are reported through Snapshot and never bring down the
// process.
type Config struct {
	Enable bool

	// Source is "nmea" (default), "gpsd", "fixed" or "sim".
	Source string

	GPSDAddr string
	Device   string
	Baud     int

	// StaleAfter marks the snapshot stale when no fix arrives in time.
	StaleAfter time.Duration

	Fixed Fix
	Sim   sim.LocationSim

	// SimInterval is how often the sim source moves.
	SimInterval time.Duration

	Log logrus.FieldLogger
}

type Service struct {
	cfg Config
	log logrus.FieldLogger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	last atomic.Value // Snapshot
	bad  atomic.Uint64

	mu     sync.Mutex
	closer io.Closer

	// openPort is swapped in tests.
	openPort func(path string, baud int) (serial.Port, error)
	now      func() time.Time
}

func New(cfg Config) *Service {
	cfg.Source = normalizeSource(cfg.Source)
	lg := cfg.Log
	if lg == nil {
		lg = logrus.StandardLogger()
	}
	s := &Service{
		cfg:      cfg,
		log:      lg.WithField("component", "gps"),
		openPort: serial.Open,
		now:      time.Now,
	}
	s.last.Store(Snapshot{Enabled: cfg.Enable, Source: cfg.Source, GPSDAddr: strings.TrimSpace(cfg.GPSDAddr), Device: cfg.Device, Baud: cfg.Baud})
	return s
}

func normalizeSource(src string) string {
	src = strings.ToLower(strings.TrimSpace(src))
	if src == "" {
		return "nmea"
	}
	return src
}

func (s *Service) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("gps service is nil")
	}
	if !s.cfg.Enable {
		return nil
	}
	if ctx == nil {
		return fmt.Errorf("ctx is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}

	switch s.cfg.Source {
	case "gpsd":
		return s.startGPSDLocked(ctx)
	case "fixed":
		return s.startFixedLocked()
	case "sim":
		return s.startSimLocked(ctx)
	case "nmea":
		return s.startNMEALocked(ctx)
	default:
		return fmt.Errorf("unknown gps source %q", s.cfg.Source)
	}
}

func (s *Service) startFixedLocked() error {
	f := s.cfg.Fixed
	alt := f.AltM
	snap := Snapshot{
		Enabled: true,
		Valid:   true,
		Source:  "fixed",
		LatDeg:  f.LatDeg,
		LonDeg:  f.LonDeg,
		AltM:    &alt,
		fixAt:   s.now().UTC(),
	}
	if f.HorizAccM > 0 {
		v := f.HorizAccM
		snap.HorizAccM = &v
	}
	s.last.Store(snap)
	s.cancel = func() {}
	s.log.Infof("gps fixed lat=%.5f lon=%.5f", f.LatDeg, f.LonDeg)
	return nil
}

func (s *Service) startSimLocked(ctx context.Context) error {
	interval := s.cfg.SimInterval
	if interval <= 0 {
		interval = time.Second
	}
	childCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	publish := func(now time.Time) {
		lat, lon := s.cfg.Sim.Position(now)
		alt := s.cfg.Sim.AltM
		acc := 5.0
		s.last.Store(Snapshot{
			Enabled:    true,
			Valid:      true,
			Source:     "sim",
			LatDeg:     lat,
			LonDeg:     lon,
			AltM:       &alt,
			HorizAccM:  &acc,
			LastFixUTC: now.UTC().Format(time.RFC3339Nano),
			fixAt:      now.UTC(),
		})
	}
	publish(s.now())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.log.Infof("gps sim center=%.5f,%.5f radius_m=%.0f", s.cfg.Sim.CenterLatDeg, s.cfg.Sim.CenterLonDeg, s.cfg.Sim.RadiusM)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-childCtx.Done():
				return
			case now := <-t.C:
				publish(now)
			}
		}
	}()
	return nil
}

func (s *Service) startNMEALocked(ctx context.Context) error {
	device := strings.TrimSpace(s.cfg.Device)
	if device == "" {
		device = serial.AutoDetect()
		if device == "" {
			s.setErrorLocked("gps auto-detect failed: no /dev/ttyACM* or /dev/ttyUSB* found")
			return fmt.Errorf("gps auto-detect failed")
		}
	}
	baud := s.cfg.Baud
	if baud == 0 {
		baud = serial.DefaultBaud
	}

	port, err := s.openPort(device, baud)
	if err != nil {
		s.setErrorLocked(fmt.Sprintf("gps open failed device=%s baud=%d: %v", device, baud, err))
		return err
	}
	s.closer = port

	childCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.last.Store(Snapshot{Enabled: true, Source: "nmea", Device: device, Baud: baud})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { _ = port.Close() }()
		s.log.Infof("gps enabled device=%s baud=%d", device, baud)
		err := s.readNMEA(childCtx, port, &nmeaState{device: device, baud: baud})
		if err != nil && childCtx.Err() == nil {
			s.setError(fmt.Sprintf("gps read stopped: %v", err))
		}
	}()
	return nil
}

// readNMEA consumes sentences from r until it fails or ctx ends.
func (s *Service) readNMEA(ctx context.Context, r io.Reader, st *nmeaState) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 256), 4096)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				return err
			}
			return io.EOF
		}
		line := strings.TrimSpace(sc.Text())
		// Receivers may interleave binary or UBX chatter.
		if !strings.HasPrefix(line, "$") {
			continue
		}
		sent, err := nmea.Parse(line)
		if err != nil {
			s.bad.Add(1)
			s.setError(err.Error())
			continue
		}
		if st.apply(s.now().UTC(), sent) {
			s.store(st.snapshot())
		}
	}
}

func (s *Service) startGPSDLocked(ctx context.Context) error {
	addr := strings.TrimSpace(s.cfg.GPSDAddr)
	if addr == "" {
		addr = gpsdDefaultAddr
	}

	childCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.last.Store(Snapshot{Enabled: true, Source: "gpsd", GPSDAddr: addr, Device: "gpsd"})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.log.Infof("gps enabled source=gpsd addr=%s", addr)
		st := newGPSDState(addr)
		backoff := 250 * time.Millisecond
		const maxBackoff = 10 * time.Second

		for {
			select {
			case <-childCtx.Done():
				return
			default:
			}

			conn, err := dialGPSD(childCtx, addr)
			if err != nil {
				s.setError(fmt.Sprintf("gpsd dial failed addr=%s: %v", addr, err))
				select {
				case <-childCtx.Done():
					return
				case <-time.After(backoff):
				}
				if backoff < maxBackoff {
					backoff *= 2
				}
				continue
			}
			backoff = 250 * time.Millisecond

			s.mu.Lock()
			s.closer = conn
			s.mu.Unlock()

			if err := gpsdWatch(conn); err != nil {
				s.setError(fmt.Sprintf("gpsd watch failed: %v", err))
				_ = conn.Close()
				continue
			}
			if err := s.readGPSD(childCtx, conn, st); err != nil && childCtx.Err() == nil {
				s.setError(fmt.Sprintf("gpsd read stopped: %v", err))
			}
			_ = conn.Close()
		}
	}()
	return nil
}

func (s *Service) readGPSD(ctx context.Context, r io.Reader, st *gpsdState) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 256*1024)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				return err
			}
			return io.EOF
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		updated, err := st.applyLine(s.now().UTC(), line)
		if err != nil {
			s.bad.Add(1)
			s.setError(err.Error())
			continue
		}
		if updated {
			s.store(st.snapshot())
		}
	}
}

func (s *Service) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	cancel := s.cancel
	closer := s.closer
	s.cancel = nil
	s.closer = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if closer != nil {
		_ = closer.Close()
	}
	s.wg.Wait()
}

// Snapshot returns the latest state with staleness evaluated against now.
func (s *Service) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	v := s.last.Load()
	if v == nil {
		return Snapshot{}
	}
	snap := v.(Snapshot)
	snap.BadSentences = s.bad.Load()
	if !snap.fixAt.IsZero() && snap.Source != "fixed" {
		age := s.now().Sub(snap.fixAt)
		snap.FixAgeSec = age.Seconds()
		if s.cfg.StaleAfter > 0 && age > s.cfg.StaleAfter {
			snap.FixStale = true
		}
	}
	return snap
}

// Fix returns the last known position. A stale fix is still returned; the
// caller decides how old is too old.
func (s *Service) Fix() (Fix, bool) {
	return s.Snapshot().Fix()
}

func (s *Service) store(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.last.Load().(Snapshot); ok {
		snap.LastError = cur.LastError
	}
	s.last.Store(snap)
}

func (s *Service) setError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setErrorLocked(msg)
}

func (s *Service) setErrorLocked(msg string) {
	cur, _ := s.last.Load().(Snapshot)
	cur.LastError = msg
	// Transient parse issues must not flip validity.
	s.last.Store(cur)
	s.log.Debug(msg)
}
