package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"qibla-ng/internal/engine"
)

type Config struct {
	Engine      EngineConfig      `yaml:"engine"`
	Compass     CompassConfig     `yaml:"compass"`
	GPS         GPSConfig         `yaml:"gps"`
	Declination DeclinationConfig `yaml:"declination"`
	Web         WebConfig         `yaml:"web"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	UDP         UDPConfig         `yaml:"udp"`
	Indicator   IndicatorConfig   `yaml:"indicator"`
	Record      RecordConfig      `yaml:"record"`
	Replay      ReplayConfig      `yaml:"replay"`
	Log         LogConfig         `yaml:"log"`
}

// EngineConfig seeds the live settings store. Once SettingsPath exists on
// disk its contents win over these values.
type EngineConfig struct {
	UseTrueNorth          *bool    `yaml:"use_true_north"`
	Smoothing             *float64 `yaml:"smoothing"`
	AlignmentToleranceDeg int      `yaml:"alignment_tolerance_deg"`
	CalibrationWindow     int      `yaml:"calibration_window"`
	SettingsPath          string   `yaml:"settings_path"`
}

type CompassConfig struct {
	Enable     bool             `yaml:"enable"`
	Source     string           `yaml:"source"`
	Device     string           `yaml:"device"`
	Baud       int              `yaml:"baud"`
	Accuracy   *int             `yaml:"accuracy"`
	StaleAfter time.Duration    `yaml:"stale_after"`
	IMU        IMUConfig        `yaml:"imu"`
	Sim        HeadingSimConfig `yaml:"sim"`
}

// IMUConfig applies when compass.source is "imu"; compass.device is the I2C
// bus.
type IMUConfig struct {
	Address     uint16        `yaml:"address"`
	MagOffsetUT []float64     `yaml:"mag_offset_ut"`
	Interval    time.Duration `yaml:"interval"`
}

type HeadingSimConfig struct {
	BaseDeg  float64       `yaml:"base_deg"`
	SweepDeg float64       `yaml:"sweep_deg"`
	NoiseDeg float64       `yaml:"noise_deg"`
	Period   time.Duration `yaml:"period"`
	Interval time.Duration `yaml:"interval"`
	Script   string        `yaml:"script"`
}

type GPSConfig struct {
	Enable       bool              `yaml:"enable"`
	Source       string            `yaml:"source"`
	Device       string            `yaml:"device"`
	Baud         int               `yaml:"baud"`
	GPSDAddr     string            `yaml:"gpsd_addr"`
	PollInterval time.Duration     `yaml:"poll_interval"`
	StaleAfter   time.Duration     `yaml:"stale_after"`
	Fixed        FixedLocation     `yaml:"fixed"`
	Sim          LocationSimConfig `yaml:"sim"`
}

type FixedLocation struct {
	LatDeg float64 `yaml:"lat_deg"`
	LonDeg float64 `yaml:"lon_deg"`
	AltM   float64 `yaml:"alt_m"`
}

type LocationSimConfig struct {
	CenterLatDeg float64       `yaml:"center_lat_deg"`
	CenterLonDeg float64       `yaml:"center_lon_deg"`
	RadiusM      float64       `yaml:"radius_m"`
	Period       time.Duration `yaml:"period"`
}

type DeclinationConfig struct {
	Source   string  `yaml:"source"`
	FixedDeg float64 `yaml:"fixed_deg"`
}

type WebConfig struct {
	Enable     bool   `yaml:"enable"`
	ListenAddr string `yaml:"listen_addr"`
}

type MQTTConfig struct {
	Enable       bool   `yaml:"enable"`
	Broker       string `yaml:"broker"`
	ClientID     string `yaml:"client_id"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	TopicOutput  string `yaml:"topic_output"`
	TopicCompass string `yaml:"topic_compass"`
}

type UDPConfig struct {
	Enable bool   `yaml:"enable"`
	Dest   string `yaml:"dest"`
}

type IndicatorConfig struct {
	Enable    bool   `yaml:"enable"`
	Chip      string `yaml:"chip"`
	Line      int    `yaml:"line"`
	ActiveLow bool   `yaml:"active_low"`
}

type RecordConfig struct {
	Enable bool   `yaml:"enable"`
	Path   string `yaml:"path"`
}

type ReplayConfig struct {
	Enable bool    `yaml:"enable"`
	Path   string  `yaml:"path"`
	Speed  float64 `yaml:"speed"`
	Loop   bool    `yaml:"loop"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(b)
}

// Parse decodes YAML strictly and applies defaults.
func Parse(b []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		var te *yaml.TypeError
		if errors.As(err, &te) {
			return Config{}, fmt.Errorf("config contains unknown fields: %s", strings.Join(stripLinePrefixes(te.Errors), "; "))
		}
		return Config{}, err
	}
	if err := DefaultAndValidate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func stripLinePrefixes(errs []string) []string {
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		if strings.HasPrefix(e, "line ") {
			if i := strings.Index(e, ": "); i != -1 {
				e = e[i+2:]
			}
		}
		out = append(out, e)
	}
	return out
}

// DefaultAndValidate fills unset fields and rejects inconsistent settings.
func DefaultAndValidate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	for _, step := range []func(*Config) error{
		defaultEngine,
		defaultCompass,
		defaultGPS,
		defaultDeclination,
		defaultOutputs,
		defaultRecordReplay,
		defaultLog,
	} {
		if err := step(cfg); err != nil {
			return err
		}
	}
	return nil
}

func defaultEngine(cfg *Config) error {
	e := &cfg.Engine
	if e.UseTrueNorth == nil {
		v := true
		e.UseTrueNorth = &v
	}
	if e.Smoothing == nil {
		v := engine.DefaultSmoothing
		e.Smoothing = &v
	}
	if *e.Smoothing < 0 || *e.Smoothing > 1 {
		return fmt.Errorf("engine.smoothing must be within [0,1]")
	}
	if e.AlignmentToleranceDeg == 0 {
		e.AlignmentToleranceDeg = engine.DefaultAlignmentToleranceDeg
	}
	if e.AlignmentToleranceDeg < engine.MinAlignmentToleranceDeg || e.AlignmentToleranceDeg > engine.MaxAlignmentToleranceDeg {
		return fmt.Errorf("engine.alignment_tolerance_deg must be within [%d,%d]", engine.MinAlignmentToleranceDeg, engine.MaxAlignmentToleranceDeg)
	}
	if e.CalibrationWindow < 0 {
		return fmt.Errorf("engine.calibration_window must be >= 0")
	}
	return nil
}

// Settings returns the engine settings seeded from config.
func (e EngineConfig) Settings() engine.Settings {
	s := engine.DefaultSettings()
	if e.UseTrueNorth != nil {
		s.UseTrueNorth = *e.UseTrueNorth
	}
	if e.Smoothing != nil {
		s.Smoothing = *e.Smoothing
	}
	if e.AlignmentToleranceDeg != 0 {
		s.AlignmentToleranceDeg = e.AlignmentToleranceDeg
	}
	return s.Clamped()
}

func defaultCompass(cfg *Config) error {
	c := &cfg.Compass
	c.Source = strings.ToLower(strings.TrimSpace(c.Source))
	if c.Source == "" {
		c.Source = "nmea"
	}
	if c.Accuracy == nil {
		v := 3
		c.Accuracy = &v
	}
	if *c.Accuracy < 0 || *c.Accuracy > 3 {
		return fmt.Errorf("compass.accuracy must be within [0,3]")
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 3 * time.Second
	}
	if c.Sim.Period <= 0 {
		c.Sim.Period = 60 * time.Second
	}
	if c.Sim.Interval <= 0 {
		c.Sim.Interval = 100 * time.Millisecond
	}
	if !c.Enable {
		return nil
	}
	switch c.Source {
	case "nmea":
		if strings.TrimSpace(c.Device) == "" {
			return fmt.Errorf("compass.device is required when compass.source is 'nmea'")
		}
		if c.Baud == 0 {
			c.Baud = 4800
		}
	case "imu":
		if strings.TrimSpace(c.Device) == "" {
			c.Device = "/dev/i2c-1"
		}
		if c.IMU.Address == 0 {
			c.IMU.Address = 0x68
		}
		if c.IMU.Address > 0x7F {
			return fmt.Errorf("compass.imu.address must be a 7-bit address")
		}
		if n := len(c.IMU.MagOffsetUT); n != 0 && n != 3 {
			return fmt.Errorf("compass.imu.mag_offset_ut must have 3 values")
		}
		if c.IMU.Interval <= 0 {
			c.IMU.Interval = 50 * time.Millisecond
		}
	case "mqtt":
		if !cfg.MQTT.Enable {
			return fmt.Errorf("compass.source 'mqtt' requires mqtt.enable")
		}
	case "sim":
	case "replay":
		if !cfg.Replay.Enable {
			return fmt.Errorf("compass.source 'replay' requires replay.enable")
		}
	default:
		return fmt.Errorf("compass.source must be one of nmea, imu, mqtt, sim, replay")
	}
	return nil
}

func defaultGPS(cfg *Config) error {
	g := &cfg.GPS
	g.Source = strings.ToLower(strings.TrimSpace(g.Source))
	if g.Source == "" {
		g.Source = "nmea"
	}
	if g.PollInterval <= 0 {
		g.PollInterval = 1 * time.Second
	}
	if g.StaleAfter <= 0 {
		g.StaleAfter = 10 * time.Second
	}
	if g.Sim.RadiusM <= 0 {
		g.Sim.RadiusM = 500
	}
	if g.Sim.Period <= 0 {
		g.Sim.Period = 120 * time.Second
	}
	if !g.Enable {
		return nil
	}
	switch g.Source {
	case "nmea":
		if g.Baud == 0 {
			g.Baud = 9600
		}
	case "gpsd":
		if strings.TrimSpace(g.GPSDAddr) == "" {
			g.GPSDAddr = "127.0.0.1:2947"
		}
	case "fixed":
		if !validLatLon(g.Fixed.LatDeg, g.Fixed.LonDeg) {
			return fmt.Errorf("gps.fixed lat_deg/lon_deg out of range")
		}
	case "sim":
		if !validLatLon(g.Sim.CenterLatDeg, g.Sim.CenterLonDeg) {
			return fmt.Errorf("gps.sim center out of range")
		}
	default:
		return fmt.Errorf("gps.source must be one of nmea, gpsd, fixed, sim")
	}
	return nil
}

func validLatLon(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

func defaultDeclination(cfg *Config) error {
	d := &cfg.Declination
	d.Source = strings.ToLower(strings.TrimSpace(d.Source))
	if d.Source == "" {
		d.Source = "wmm"
	}
	if d.Source != "wmm" && d.Source != "fixed" {
		return fmt.Errorf("declination.source must be 'wmm' or 'fixed'")
	}
	if d.FixedDeg < -180 || d.FixedDeg > 180 {
		return fmt.Errorf("declination.fixed_deg must be within [-180,180]")
	}
	return nil
}

func defaultOutputs(cfg *Config) error {
	if strings.TrimSpace(cfg.Web.ListenAddr) == "" {
		cfg.Web.ListenAddr = ":8080"
	}

	m := &cfg.MQTT
	if strings.TrimSpace(m.Broker) == "" {
		m.Broker = "tcp://localhost:1883"
	}
	if m.TopicOutput == "" {
		m.TopicOutput = "qibla/output"
	}
	if m.TopicCompass == "" {
		m.TopicCompass = "qibla/compass"
	}

	if cfg.UDP.Enable && strings.TrimSpace(cfg.UDP.Dest) == "" {
		return fmt.Errorf("udp.dest is required when udp.enable is true")
	}

	if cfg.Indicator.Chip == "" {
		cfg.Indicator.Chip = "gpiochip0"
	}
	if cfg.Indicator.Enable && cfg.Indicator.Line < 0 {
		return fmt.Errorf("indicator.line must be >= 0")
	}
	return nil
}

func defaultRecordReplay(cfg *Config) error {
	if cfg.Record.Enable && cfg.Record.Path == "" {
		return fmt.Errorf("record.path is required when record.enable is true")
	}
	if cfg.Replay.Enable {
		if cfg.Replay.Path == "" {
			return fmt.Errorf("replay.path is required when replay.enable is true")
		}
		if cfg.Replay.Speed == 0 {
			cfg.Replay.Speed = 1
		}
		if cfg.Replay.Speed < 0 {
			return fmt.Errorf("replay.speed must be > 0")
		}
	}
	if cfg.Record.Enable && cfg.Replay.Enable {
		return fmt.Errorf("record and replay cannot both be enabled")
	}
	return nil
}

func defaultLog(cfg *Config) error {
	l := &cfg.Log
	if l.Level == "" {
		l.Level = "info"
	}
	if _, err := logrus.ParseLevel(l.Level); err != nil {
		return fmt.Errorf("log.level %q is invalid", l.Level)
	}
	l.Format = strings.ToLower(strings.TrimSpace(l.Format))
	if l.Format == "" {
		l.Format = "text"
	}
	if l.Format != "text" && l.Format != "json" {
		return fmt.Errorf("log.format must be 'text' or 'json'")
	}
	return nil
}

// Save validates cfg and writes it to path atomically.
func Save(path string, cfg Config) error {
	if err := DefaultAndValidate(&cfg); err != nil {
		return err
	}
	b, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, b, 0o644)
}

// WriteFileAtomic writes b to a temp file next to path and renames it into
// place, so readers never see a partial file.
func WriteFileAtomic(path string, b []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
