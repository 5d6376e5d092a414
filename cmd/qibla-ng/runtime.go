package main

import (
	"context"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/spatial/r3"

	"qibla-ng/internal/compass"
	"qibla-ng/internal/config"
	"qibla-ng/internal/gps"
	"qibla-ng/internal/indicator"
	"qibla-ng/internal/mqttbus"
	"qibla-ng/internal/qibla"
	"qibla-ng/internal/replay"
	"qibla-ng/internal/session"
	"qibla-ng/internal/settings"
	"qibla-ng/internal/sim"
	"qibla-ng/internal/udp"
	"qibla-ng/internal/web"
)

// outputCounters are reported under status.outputs.
type outputCounters struct {
	sent   atomic.Uint64
	errors atomic.Uint64
}

func (c *outputCounters) record(err error) {
	if err != nil {
		c.errors.Add(1)
		return
	}
	c.sent.Add(1)
}

// fixHolder is the locator fed by replayed location records.
type fixHolder struct {
	v atomic.Pointer[gps.Fix]
}

func (h *fixHolder) set(f gps.Fix) { h.v.Store(&f) }

func (h *fixHolder) Fix() (gps.Fix, bool) {
	f := h.v.Load()
	if f == nil {
		return gps.Fix{}, false
	}
	return *f, true
}

// firstLocator asks each locator in order and returns the first fix.
type firstLocator []session.Locator

func (l firstLocator) Fix() (gps.Fix, bool) {
	for _, loc := range l {
		if loc == nil {
			continue
		}
		if f, ok := loc.Fix(); ok {
			return f, true
		}
	}
	return gps.Fix{}, false
}

type liveRuntime struct {
	cfg  config.Config
	log  *logrus.Logger
	logs *web.LogBuffer

	status  *web.Status
	store   *settings.Store
	sess    *session.Session
	compass *compass.Service
	gps     *gps.Service

	mqtt      *mqttbus.Client
	udp       *udp.Broadcaster
	indicator *indicator.Indicator
	recorder  *replay.Writer

	replayRecords []replay.Record
	replayFix     *fixHolder

	mqttStats outputCounters
	udpStats  outputCounters

	wg sync.WaitGroup
}

func newDeclinator(c config.DeclinationConfig) qibla.Declinator {
	if c.Source == "fixed" {
		return qibla.FixedDeclination(c.FixedDeg)
	}
	return qibla.NewWMM()
}

// newLiveRuntime brings up every configured component. Only config and
// settings errors are fatal; hardware and network failures are logged and
// reported through status.
func newLiveRuntime(ctx context.Context, cfg config.Config, log *logrus.Logger, logs *web.LogBuffer) (*liveRuntime, error) {
	c := cfg
	if err := config.DefaultAndValidate(&c); err != nil {
		return nil, err
	}

	store, err := settings.New(c.Engine.Settings(), c.Engine.SettingsPath)
	if err != nil {
		return nil, err
	}

	r := &liveRuntime{
		cfg:       c,
		log:       log,
		logs:      logs,
		status:    web.NewStatus(),
		store:     store,
		replayFix: &fixHolder{},
	}

	if c.Record.Enable {
		w, err := replay.CreateWriter(c.Record.Path)
		if err != nil {
			log.WithError(err).Error("record disabled")
		} else {
			r.recorder = w
			log.WithField("path", c.Record.Path).Info("recording sensor log")
		}
	}
	if c.Replay.Enable {
		recs, err := replay.ReadFile(c.Replay.Path)
		if err != nil {
			return nil, errors.Wrap(err, "replay")
		}
		if err := replay.Playable(recs); err != nil {
			return nil, errors.Wrapf(err, "replay %s", c.Replay.Path)
		}
		r.replayRecords = recs
	}

	cache, err := qibla.NewSolveCache(0, 0)
	if err != nil {
		return nil, err
	}
	opts := session.Options{
		Settings:               store,
		Declinator:             newDeclinator(c.Declination),
		FallbackDeclinationDeg: c.Declination.FixedDeg,
		Cache:                  cache,
		CalibrationWindow:      c.Engine.CalibrationWindow,
		Log:                    log,
	}
	if r.recorder != nil {
		opts.Recorder = r.recorder
	}
	r.sess, err = session.New(opts)
	if err != nil {
		return nil, err
	}

	if c.MQTT.Enable {
		cl, err := mqttbus.Connect(mqttbus.Config{
			Broker:   c.MQTT.Broker,
			ClientID: c.MQTT.ClientID,
			Username: c.MQTT.Username,
			Password: c.MQTT.Password,
			Log:      log,
		})
		if err != nil {
			log.WithError(err).Error("mqtt init failed")
		} else {
			r.mqtt = cl
		}
	}

	if c.UDP.Enable {
		b, err := udp.NewBroadcaster(c.UDP.Dest)
		if err != nil {
			log.WithError(err).Error("udp init failed")
		} else {
			r.udp = b
		}
	}

	r.indicator = indicator.New(indicator.Config{
		Enable:    c.Indicator.Enable,
		Chip:      c.Indicator.Chip,
		Line:      c.Indicator.Line,
		ActiveLow: c.Indicator.ActiveLow,
		Log:       log,
	})
	if err := r.indicator.Open(); err != nil {
		log.WithError(err).Error("indicator init failed")
	}

	ccfg := compass.Config{
		Enable:     c.Compass.Enable,
		Source:     c.Compass.Source,
		Device:     c.Compass.Device,
		Baud:       c.Compass.Baud,
		Accuracy:   compass.Accuracy(*c.Compass.Accuracy),
		StaleAfter: c.Compass.StaleAfter,
		MQTTTopic:  c.MQTT.TopicCompass,
		Sim: sim.HeadingSim{
			BaseDeg:  c.Compass.Sim.BaseDeg,
			SweepDeg: c.Compass.Sim.SweepDeg,
			NoiseDeg: c.Compass.Sim.NoiseDeg,
			Period:   c.Compass.Sim.Period,
		},
		SimInterval: c.Compass.Sim.Interval,
		Log:         log,
	}
	if r.mqtt != nil {
		ccfg.MQTT = r.mqtt
	}
	if c.Compass.Source == "imu" {
		ccfg.IMUAddress = c.Compass.IMU.Address
		ccfg.SimInterval = c.Compass.IMU.Interval
		if off := c.Compass.IMU.MagOffsetUT; len(off) == 3 {
			ccfg.MagOffset = r3.Vec{X: off[0], Y: off[1], Z: off[2]}
		}
	}
	if c.Compass.Sim.Script != "" {
		script, err := sim.LoadScenarioScript(c.Compass.Sim.Script)
		if err == nil {
			ccfg.Scenario, err = sim.NewScenario(script)
		}
		if err != nil {
			return nil, errors.Wrap(err, "compass.sim.script")
		}
	}
	r.compass = compass.New(ccfg)
	if err := r.compass.Start(ctx); err != nil {
		log.WithError(err).Error("compass init failed")
	}

	r.gps = gps.New(gps.Config{
		Enable:     c.GPS.Enable,
		Source:     c.GPS.Source,
		GPSDAddr:   c.GPS.GPSDAddr,
		Device:     c.GPS.Device,
		Baud:       c.GPS.Baud,
		StaleAfter: c.GPS.StaleAfter,
		Fixed: gps.Fix{
			LatDeg: c.GPS.Fixed.LatDeg,
			LonDeg: c.GPS.Fixed.LonDeg,
			AltM:   c.GPS.Fixed.AltM,
		},
		Sim: sim.LocationSim{
			CenterLatDeg: c.GPS.Sim.CenterLatDeg,
			CenterLonDeg: c.GPS.Sim.CenterLonDeg,
			RadiusM:      c.GPS.Sim.RadiusM,
			Period:       c.GPS.Sim.Period,
		},
		SimInterval: c.GPS.PollInterval,
		Log:         log,
	})
	if err := r.gps.Start(ctx); err != nil {
		log.WithError(err).Error("gps init failed")
	}

	mode := "live"
	if c.Replay.Enable {
		mode = "replay"
	}
	r.status.SetMode(mode)
	r.status.SetSources(web.Sources{
		Compass: r.compass.Snapshot,
		GPS:     r.gps.Snapshot,
		Session: r.sess.Stats,
		Outputs: r.outputs,
	})
	return r, nil
}

func (r *liveRuntime) outputs() map[string]any {
	out := map[string]any{
		"indicator": r.indicator.Snapshot(),
	}
	if r.cfg.MQTT.Enable {
		out["mqtt"] = map[string]any{
			"connected_at_start": r.mqtt != nil,
			"broker":             r.cfg.MQTT.Broker,
			"topic":              r.cfg.MQTT.TopicOutput,
			"published":          r.mqttStats.sent.Load(),
			"errors":             r.mqttStats.errors.Load(),
		}
	}
	if r.cfg.UDP.Enable {
		out["udp"] = map[string]any{
			"dest":   r.cfg.UDP.Dest,
			"ready":  r.udp != nil,
			"sent":   r.udpStats.sent.Load(),
			"errors": r.udpStats.errors.Load(),
		}
	}
	if r.cfg.Record.Enable {
		out["record"] = map[string]any{"path": r.cfg.Record.Path, "active": r.recorder != nil}
	}
	return out
}

// follow runs fn for every reading until ctx is done.
func (r *liveRuntime) follow(ctx context.Context, fn func(session.Reading)) {
	bc := r.sess.Broadcaster()
	id, ch := bc.Subscribe(16)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer bc.Unsubscribe(id)
		for {
			select {
			case <-ctx.Done():
				return
			case rd, ok := <-ch:
				if !ok {
					return
				}
				fn(rd)
			}
		}
	}()
}

func (r *liveRuntime) startOutputs(ctx context.Context) {
	if r.mqtt != nil {
		topic := r.cfg.MQTT.TopicOutput
		r.follow(ctx, func(rd session.Reading) {
			err := r.mqtt.PublishJSON(topic, true, rd)
			r.mqttStats.record(err)
			if err != nil {
				r.log.WithError(err).Debug("mqtt publish failed")
			}
		})
	}
	if r.udp != nil {
		r.follow(ctx, func(rd session.Reading) {
			err := r.udp.SendJSON(rd)
			r.udpStats.record(err)
			if err != nil {
				r.log.WithError(err).Debug("udp send failed")
			}
		})
	}
	if r.cfg.Indicator.Enable {
		bc := r.sess.Broadcaster()
		id, ch := bc.Subscribe(4)
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			defer bc.Unsubscribe(id)
			r.indicator.Run(ctx, ch)
		}()
	}
	if r.recorder != nil {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			t := time.NewTicker(2 * time.Second)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					if err := r.recorder.Flush(); err != nil {
						r.log.WithError(err).Warn("record flush failed")
					}
				}
			}
		}()
	}
}

// watchSettings logs every change applied through the settings store.
func (r *liveRuntime) watchSettings(ctx context.Context) {
	id, ch := r.store.Watch()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.store.Unwatch(id)
		for {
			select {
			case <-ctx.Done():
				return
			case st, ok := <-ch:
				if !ok {
					return
				}
				r.log.WithFields(logrus.Fields{
					"use_true_north":          st.UseTrueNorth,
					"smoothing":               st.Smoothing,
					"alignment_tolerance_deg": st.AlignmentToleranceDeg,
					"persisted":               r.store.Path() != "",
				}).Info("settings changed")
			}
		}
	}()
}

// startReplay feeds recorded headings into the compass service and recorded
// locations into the replay locator.
func (r *liveRuntime) startReplay(ctx context.Context) {
	if len(r.replayRecords) == 0 {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		err := replay.Play(ctx, r.replayRecords, r.cfg.Replay.Speed, r.cfg.Replay.Loop, nil, func(rec replay.Record) error {
			switch rec.Kind {
			case replay.KindHeading:
				r.compass.Inject(compass.Sample{HeadingDeg: rec.HeadingDeg, Accuracy: compass.Accuracy(rec.Accuracy)})
			case replay.KindLocation:
				r.replayFix.set(gps.Fix{
					LatDeg:    rec.LatDeg,
					LonDeg:    rec.LonDeg,
					AltM:      rec.AltM,
					HorizAccM: rec.HorizAccM,
					At:        time.Now().UTC(),
				})
			}
			return nil
		})
		if err != nil && ctx.Err() == nil {
			r.log.WithError(err).Error("replay stopped")
		} else if err == nil {
			r.log.Info("replay finished")
		}
	}()
}

func (r *liveRuntime) locator() session.Locator {
	if r.cfg.Replay.Enable {
		return firstLocator{r.replayFix, r.gps}
	}
	return r.gps
}

// Run blocks until ctx is done.
func (r *liveRuntime) Run(ctx context.Context) error {
	r.startOutputs(ctx)
	r.watchSettings(ctx)
	r.startReplay(ctx)

	if r.cfg.Web.Enable {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.log.WithField("listen", r.cfg.Web.ListenAddr).Info("web ui listening")
			err := web.Serve(ctx, r.cfg.Web.ListenAddr, web.Deps{
				Status:   r.status,
				Settings: r.store,
				Logs:     r.logs,
				Readings: r.sess.Broadcaster(),
				Resetter: r.sess,
				Log:      r.log,
			})
			if err != nil && ctx.Err() == nil {
				r.log.WithError(err).Error("web server stopped")
			}
		}()
	}

	err := r.sess.Run(ctx, r.compass.Samples(), r.locator(), session.RunConfig{
		PollInterval: r.cfg.GPS.PollInterval,
		StaleAfter:   r.cfg.Compass.StaleAfter,
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (r *liveRuntime) Close() {
	r.wg.Wait()
	if r.compass != nil {
		r.compass.Close()
	}
	if r.gps != nil {
		r.gps.Close()
	}
	if r.mqtt != nil {
		r.mqtt.Close()
	}
	if r.udp != nil {
		_ = r.udp.Close()
	}
	if r.indicator != nil {
		_ = r.indicator.Close()
	}
	if r.recorder != nil {
		if err := r.recorder.Close(); err != nil {
			r.log.WithError(err).Warn("record close failed")
		}
	}
}

// setupLogging builds the process logger writing to stderr (when non-nil)
// and to the in-memory buffer served at /api/logs.
func setupLogging(cfg config.Config, stderr io.Writer) (*logrus.Logger, *web.LogBuffer, error) {
	logs := web.NewLogBuffer(2000)
	var out io.Writer = logs
	if stderr != nil {
		out = io.MultiWriter(stderr, logs)
	}
	log, err := newLogger(cfg.Log, out)
	if err != nil {
		return nil, nil, err
	}
	return log, logs, nil
}

func loadConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, errors.Wrapf(err, "config load %s", path)
	}
	if err := config.DefaultAndValidate(&cfg); err != nil {
		return config.Config{}, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

func runDaemon(ctx context.Context, configPath string, stderr io.Writer) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	log, logs, err := setupLogging(cfg, stderr)
	if err != nil {
		return err
	}
	log.WithField("config", configPath).WithField("pid", os.Getpid()).Info("qibla-ng starting")

	rt, err := newLiveRuntime(ctx, cfg, log, logs)
	if err != nil {
		return err
	}
	defer rt.Close()

	err = rt.Run(ctx)
	log.Info("qibla-ng stopping")
	return err
}
