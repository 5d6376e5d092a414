package compass

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/spatial/r3"

	"qibla-ng/internal/serial"
	"qibla-ng/internal/sim"
)

// Subscriber delivers raw payloads published on a topic.
type Subscriber interface {
	Subscribe(topic string, handler func(payload []byte)) error
}

type Config struct {
	Enable bool

	// Source is "nmea" (default), "imu", "mqtt", "sim" or "replay". The
	// replay source produces nothing on its own; the player calls Inject.
	Source string

	// Device is the serial port for nmea and the I2C bus for imu.
	Device string
	Baud   int

	IMUAddress uint16
	// MagOffset is the hard-iron offset subtracted from the raw field, µT.
	MagOffset r3.Vec

	// Accuracy is attached to NMEA samples, which carry no quality field,
	// and is the best tier an imu sample can get.
	Accuracy Accuracy

	// StaleAfter marks the snapshot stale when no sample arrives in time.
	StaleAfter time.Duration

	MQTT      Subscriber
	MQTTTopic string

	Sim      sim.HeadingSim
	Scenario *sim.Scenario
	// SimInterval paces the sim and imu sources.
	SimInterval time.Duration

	Log logrus.FieldLogger
}

type Snapshot struct {
	Enabled bool   `json:"enabled"`
	Source  string `json:"source,omitempty"`
	Device  string `json:"device,omitempty"`

	Valid         bool     `json:"valid"`
	Stale         bool     `json:"stale"`
	HeadingDeg    float64  `json:"heading_deg"`
	Accuracy      Accuracy `json:"accuracy"`
	AccuracyLabel string   `json:"accuracy_label"`
	LastSampleUTC string   `json:"last_sample_utc,omitempty"`

	Samples      uint64 `json:"samples"`
	BadSentences uint64 `json:"bad_sentences,omitempty"`
	Dropped      uint64 `json:"dropped,omitempty"`
	LastError    string `json:"last_error,omitempty"`
}

const sampleBuffer = 16

type Service struct {
	cfg Config
	log logrus.FieldLogger

	out chan Sample

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	closer  io.Closer
	last    Sample
	haveAny bool
	lastErr string

	samples atomic.Uint64
	bad     atomic.Uint64
	dropped atomic.Uint64

	openPort func(path string, baud int) (serial.Port, error)
	openIMU  func(bus string, addr uint16) (imuReader, io.Closer, error)
	now      func() time.Time
}

func New(cfg Config) *Service {
	cfg.Source = strings.ToLower(strings.TrimSpace(cfg.Source))
	if cfg.Source == "" {
		cfg.Source = "nmea"
	}
	if !cfg.Accuracy.Valid() {
		cfg.Accuracy = High
	}
	lg := cfg.Log
	if lg == nil {
		lg = logrus.StandardLogger()
	}
	return &Service{
		cfg:      cfg,
		log:      lg.WithField("component", "compass"),
		out:      make(chan Sample, sampleBuffer),
		openPort: serial.Open,
		openIMU:  openICM20948,
		now:      time.Now,
	}
}

// Samples is the stream of accepted samples. It is never closed; consumers
// stop on their own context.
func (s *Service) Samples() <-chan Sample { return s.out }

func (s *Service) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("compass service is nil")
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
	case "nmea":
		return s.startNMEALocked(ctx)
	case "imu":
		return s.startIMULocked(ctx)
	case "mqtt":
		return s.startMQTTLocked()
	case "sim":
		return s.startSimLocked(ctx)
	case "replay":
		s.cancel = func() {}
		return nil
	default:
		return fmt.Errorf("unknown compass source %q", s.cfg.Source)
	}
}

func (s *Service) startNMEALocked(ctx context.Context) error {
	device := strings.TrimSpace(s.cfg.Device)
	if device == "" {
		s.lastErr = "compass device not configured"
		return errors.New("compass device not configured")
	}
	port, err := s.openPort(device, s.cfg.Baud)
	if err != nil {
		s.lastErr = fmt.Sprintf("compass open failed device=%s: %v", device, err)
		return err
	}
	s.closer = port

	childCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { _ = port.Close() }()
		s.log.Infof("compass enabled device=%s baud=%d", device, s.cfg.Baud)
		if err := s.readNMEA(childCtx, port); err != nil && childCtx.Err() == nil {
			s.setError(fmt.Sprintf("compass read stopped: %v", err))
		}
	}()
	return nil
}

func (s *Service) readNMEA(ctx context.Context, r io.Reader) error {
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
		if !strings.HasPrefix(line, "$") {
			continue
		}
		sent, err := nmea.Parse(line)
		if err != nil {
			s.bad.Add(1)
			s.setError(err.Error())
			continue
		}
		h, err := headingFromSentence(sent)
		if errors.Is(err, errNotHeading) {
			continue
		}
		if err != nil {
			s.bad.Add(1)
			s.setError(err.Error())
			continue
		}
		s.emit(Sample{HeadingDeg: h, Accuracy: s.cfg.Accuracy, At: s.now()})
	}
}

type mqttPayload struct {
	HeadingDeg *float64 `json:"heading_deg"`
	Accuracy   *int     `json:"accuracy"`
	At         string   `json:"at"`
}

func (s *Service) startMQTTLocked() error {
	if s.cfg.MQTT == nil {
		return errors.New("compass mqtt source has no client")
	}
	topic := s.cfg.MQTTTopic
	if err := s.cfg.MQTT.Subscribe(topic, s.handleMQTT); err != nil {
		s.lastErr = err.Error()
		return err
	}
	s.cancel = func() {}
	s.log.Infof("compass enabled source=mqtt topic=%s", topic)
	return nil
}

func (s *Service) handleMQTT(payload []byte) {
	smp, err := s.decodeMQTT(payload)
	if err != nil {
		s.bad.Add(1)
		s.setError(err.Error())
		return
	}
	s.emit(smp)
}

func (s *Service) decodeMQTT(payload []byte) (Sample, error) {
	var p mqttPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return Sample{}, errors.Wrap(err, "compass mqtt payload")
	}
	if p.HeadingDeg == nil {
		return Sample{}, errors.New("compass mqtt payload: heading_deg is required")
	}
	h, err := checkHeading(*p.HeadingDeg)
	if err != nil {
		return Sample{}, err
	}
	smp := Sample{HeadingDeg: h, Accuracy: s.cfg.Accuracy, At: s.now()}
	if p.Accuracy != nil {
		a := Accuracy(*p.Accuracy)
		if !a.Valid() {
			return Sample{}, errors.Errorf("compass mqtt payload: accuracy %d out of range", *p.Accuracy)
		}
		smp.Accuracy = a
	}
	if p.At != "" {
		if t, err := time.Parse(time.RFC3339Nano, p.At); err == nil {
			smp.At = t
		}
	}
	return smp, nil
}

func (s *Service) startSimLocked(ctx context.Context) error {
	interval := s.cfg.SimInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	childCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	start := s.now()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.log.Infof("compass enabled source=sim interval=%s", interval)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-childCtx.Done():
				return
			case now := <-t.C:
				s.emit(s.simSample(start, now))
			}
		}
	}()
	return nil
}

func (s *Service) simSample(start, now time.Time) Sample {
	if s.cfg.Scenario != nil {
		st := s.cfg.Scenario.StateAt(now.Sub(start), true)
		return Sample{HeadingDeg: st.HeadingDeg, Accuracy: Accuracy(st.Accuracy), At: now}
	}
	return Sample{HeadingDeg: s.cfg.Sim.Heading(now), Accuracy: s.cfg.Accuracy, At: now}
}

// Inject feeds an externally produced sample (replay, tests).
func (s *Service) Inject(smp Sample) {
	if smp.At.IsZero() {
		smp.At = s.now()
	}
	s.emit(smp)
}

// emit publishes a sample, dropping the oldest queued one when the
// consumer lags so the newest heading always gets through.
func (s *Service) emit(smp Sample) {
	smp = smp.Normalized()
	s.samples.Add(1)

	s.mu.Lock()
	s.last = smp
	s.haveAny = true
	s.mu.Unlock()

	for {
		select {
		case s.out <- smp:
			return
		default:
		}
		select {
		case <-s.out:
			s.dropped.Add(1)
		default:
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

func (s *Service) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	s.mu.Lock()
	last, have, lastErr := s.last, s.haveAny, s.lastErr
	s.mu.Unlock()

	out := Snapshot{
		Enabled:      s.cfg.Enable,
		Source:       s.cfg.Source,
		Device:       s.cfg.Device,
		Samples:      s.samples.Load(),
		BadSentences: s.bad.Load(),
		Dropped:      s.dropped.Load(),
		LastError:    lastErr,
	}
	if have {
		out.Valid = true
		out.HeadingDeg = last.HeadingDeg
		out.Accuracy = last.Accuracy
		out.AccuracyLabel = last.Accuracy.String()
		out.LastSampleUTC = last.At.UTC().Format(time.RFC3339Nano)
		if s.cfg.StaleAfter > 0 && s.now().Sub(last.At) > s.cfg.StaleAfter {
			out.Stale = true
		}
	}
	return out
}

func (s *Service) setError(msg string) {
	s.mu.Lock()
	s.lastErr = msg
	s.mu.Unlock()
	s.log.Debug(msg)
}
