// Package indicator drives a GPIO line (LED, buzzer) while the device is
// facing the qibla.
package indicator

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"qibla-ng/internal/session"
)

type line interface {
	SetValue(v int) error
	Close() error
}

var openLineFn = openLine

type Config struct {
	Enable    bool
	Chip      string
	Line      int
	ActiveLow bool
	Log       logrus.FieldLogger
}

type Snapshot struct {
	Enabled   bool   `json:"enabled"`
	Available bool   `json:"available"`
	Chip      string `json:"chip,omitempty"`
	Line      int    `json:"line"`
	On        bool   `json:"on"`
	Toggles   uint64 `json:"toggles"`
	LastError string `json:"last_error,omitempty"`
}

type Indicator struct {
	cfg Config
	log logrus.FieldLogger

	mu      sync.Mutex
	out     line
	on      bool
	toggles uint64
	lastErr string
}

func New(cfg Config) *Indicator {
	log := cfg.Log
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		log = l
	}
	return &Indicator{cfg: cfg, log: log.WithField("component", "indicator")}
}

// Open requests the line. A failure is recorded in the snapshot and the
// indicator stays a no-op.
func (i *Indicator) Open() error {
	if !i.cfg.Enable {
		return nil
	}
	out, err := openLineFn(i.cfg.Chip, i.cfg.Line, i.cfg.ActiveLow)
	i.mu.Lock()
	defer i.mu.Unlock()
	if err != nil {
		i.lastErr = err.Error()
		return err
	}
	i.out = out
	i.log.WithField("chip", i.cfg.Chip).WithField("line", i.cfg.Line).Info("facing indicator ready")
	return nil
}

// Set drives the line; only state changes reach the hardware.
func (i *Indicator) Set(on bool) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.out == nil || on == i.on {
		return nil
	}
	v := 0
	if on {
		v = 1
	}
	if err := i.out.SetValue(v); err != nil {
		i.lastErr = err.Error()
		return err
	}
	i.on = on
	i.toggles++
	return nil
}

// Run follows readings until ctx is done or the channel closes. An invalid
// reading turns the line off.
func (i *Indicator) Run(ctx context.Context, readings <-chan session.Reading) {
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-readings:
			if !ok {
				return
			}
			if err := i.Set(r.Valid && r.IsFacing); err != nil {
				i.log.WithError(err).Debug("set indicator failed")
			}
		}
	}
}

func (i *Indicator) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.out == nil {
		return nil
	}
	err := i.out.Close()
	i.out = nil
	i.on = false
	return err
}

func (i *Indicator) Snapshot() Snapshot {
	i.mu.Lock()
	defer i.mu.Unlock()
	return Snapshot{
		Enabled:   i.cfg.Enable,
		Available: i.out != nil,
		Chip:      i.cfg.Chip,
		Line:      i.cfg.Line,
		On:        i.on,
		Toggles:   i.toggles,
		LastError: i.lastErr,
	}
}
