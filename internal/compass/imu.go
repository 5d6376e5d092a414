package compass

import (
	"context"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/spatial/r3"

	"qibla-ng/internal/angle"
	"qibla-ng/internal/i2c"
	"qibla-ng/internal/sensors/icm20948"
)

// Plausible geomagnetic field strength at the surface, µT.
const (
	minFieldUT = 20
	maxFieldUT = 70
)

type imuReader interface {
	Read() (icm20948.Sample, error)
}

func openICM20948(bus string, addr uint16) (imuReader, io.Closer, error) {
	b, err := i2c.Open(bus)
	if err != nil {
		return nil, nil, err
	}
	d, err := icm20948.Open(b, addr)
	if err != nil {
		_ = b.Close()
		return nil, nil, err
	}
	return d, b, nil
}

// TiltHeading returns the magnetic heading of the sensor's X axis from a
// gravity reference (specific force, pointing up at rest) and the magnetic
// field, both in the same right-handed frame with Z up.
func TiltHeading(accel, mag r3.Vec) (float64, error) {
	if r3.Norm(accel) < 1e-6 {
		return 0, errors.New("no gravity reference")
	}
	down := r3.Unit(r3.Scale(-1, accel))
	east := r3.Cross(down, mag)
	if r3.Norm(east) < 1e-6 {
		return 0, errors.New("field parallel to gravity")
	}
	east = r3.Unit(east)
	north := r3.Cross(east, down)
	return angle.Normalize360(math.Atan2(east.X, north.X) * 180 / math.Pi), nil
}

// fieldAccuracy downgrades the configured tier when the corrected field is
// saturated or outside the plausible geomagnetic range, which usually means
// nearby metal or missing hard-iron calibration.
func fieldAccuracy(mag r3.Vec, overflow bool, base Accuracy) Accuracy {
	if overflow {
		return Unreliable
	}
	n := r3.Norm(mag)
	if n < minFieldUT || n > maxFieldUT {
		return Low
	}
	return base
}

func (s *Service) startIMULocked(ctx context.Context) error {
	bus := strings.TrimSpace(s.cfg.Device)
	if bus == "" {
		bus = "/dev/i2c-1"
	}
	dev, closer, err := s.openIMU(bus, s.cfg.IMUAddress)
	if err != nil {
		s.lastErr = fmt.Sprintf("imu open failed bus=%s: %v", bus, err)
		return err
	}
	s.closer = closer

	interval := s.cfg.SimInterval
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	childCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.log.Infof("compass enabled source=imu bus=%s interval=%s", bus, interval)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-childCtx.Done():
				return
			case <-t.C:
				if smp, err := s.imuSample(dev); err != nil {
					s.bad.Add(1)
					s.setError(err.Error())
				} else {
					s.emit(smp)
				}
			}
		}
	}()
	return nil
}

func (s *Service) imuSample(dev imuReader) (Sample, error) {
	raw, err := dev.Read()
	if err != nil {
		return Sample{}, err
	}
	mag := r3.Sub(raw.Mag, s.cfg.MagOffset)
	h, err := TiltHeading(raw.Accel, mag)
	if err != nil {
		return Sample{}, err
	}
	return Sample{
		HeadingDeg: h,
		Accuracy:   fieldAccuracy(mag, raw.MagOverflow, s.cfg.Accuracy),
		At:         s.now(),
	}, nil
}
