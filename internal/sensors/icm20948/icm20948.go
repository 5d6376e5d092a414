// Package icm20948 reads the accelerometer and the on-package AK09916
// magnetometer of an ICM-20948 over I2C. The magnetometer is reached
// directly on the host bus through the chip's bypass mux.
package icm20948

import (
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/spatial/r3"

	"qibla-ng/internal/i2c"
)

var sleep = time.Sleep

const (
	addrDefault = 0x68
	addrMag     = 0x0C

	// Bank 0.
	regWhoAmI     = 0x00
	whoAmIVal     = 0xEA
	regUserCtrl   = 0x03
	regPwrMgmt1   = 0x06
	bitReset      = 0x80
	regIntPinCfg  = 0x0F
	bitBypassEn   = 0x02
	regAccelXoutH = 0x2D
	regBankSel    = 0x7F

	// Bank 2.
	regAccelSmplrt2 = 0x11
	regAccelConfig  = 0x14
	fsAccel2g       = 0x00

	// AK09916.
	regMagWIA2  = 0x01
	magWIA2Val  = 0x09
	regMagST1   = 0x10
	bitMagDRDY  = 0x01
	regMagHXL   = 0x11
	bitMagHOFL  = 0x08
	regMagCntl2 = 0x31
	magCont100  = 0x08
	regMagCntl3 = 0x32
	bitMagSRST  = 0x01

	accelScale = 2.0 / 32768.0
	// µT per LSB.
	magScale = 0.15
)

// Sample is expressed in the accelerometer frame: X forward, Y left, Z up.
type Sample struct {
	Time time.Time
	// Accel is specific force in g; at rest it points up.
	Accel r3.Vec
	// Mag is the field in µT.
	Mag r3.Vec
	// MagOverflow is set when the magnetometer saturated.
	MagOverflow bool
}

// RegIO is the register access both chips need.
type RegIO interface {
	ReadRegU8(reg byte) (byte, error)
	ReadReg(reg byte, dst []byte) error
	WriteReg(reg, value byte) error
}

type Device struct {
	imu RegIO
	mag RegIO

	curBank byte
	lastMag r3.Vec
	haveMag bool
	ovf     bool
}

func DefaultAddress() uint16 { return addrDefault }

// Open probes the chip at addr on bus.
func Open(bus *i2c.Bus, addr uint16) (*Device, error) {
	if bus == nil {
		return nil, errors.New("icm20948: bus is nil")
	}
	if addr == 0 {
		addr = addrDefault
	}
	return New(bus.Dev(addr), bus.Dev(addrMag))
}

func New(imu, mag RegIO) (*Device, error) {
	if imu == nil || mag == nil {
		return nil, errors.New("icm20948: dev is nil")
	}
	d := &Device{imu: imu, mag: mag, curBank: 0xFF}

	who, err := d.imu.ReadRegU8(regWhoAmI)
	if err != nil {
		return nil, errors.Wrap(err, "icm20948: whoami read failed")
	}
	if who != whoAmIVal {
		return nil, errors.Errorf("icm20948: whoami=0x%02X want 0x%02X", who, whoAmIVal)
	}
	if err := d.initIMU(); err != nil {
		return nil, err
	}
	if err := d.initMag(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Device) initIMU() error {
	if err := d.setBank(0); err != nil {
		return err
	}
	if err := d.imu.WriteReg(regPwrMgmt1, bitReset); err != nil {
		return errors.Wrap(err, "icm20948: reset failed")
	}
	sleep(100 * time.Millisecond)
	// Reset returns to bank 0.
	d.curBank = 0

	// Auto clock select.
	if err := d.imu.WriteReg(regPwrMgmt1, 0x01); err != nil {
		return errors.Wrap(err, "icm20948: wake failed")
	}
	sleep(10 * time.Millisecond)

	// I2C master off, bypass on: the AK09916 shows up on the host bus.
	if err := d.imu.WriteReg(regUserCtrl, 0x00); err != nil {
		return errors.Wrap(err, "icm20948: user ctrl failed")
	}
	if err := d.imu.WriteReg(regIntPinCfg, bitBypassEn); err != nil {
		return errors.Wrap(err, "icm20948: bypass enable failed")
	}

	if err := d.setBank(2); err != nil {
		return err
	}
	// 1125/(1+22) ≈ 49 Hz.
	if err := d.imu.WriteReg(regAccelSmplrt2, 22); err != nil {
		return errors.Wrap(err, "icm20948: accel rate failed")
	}
	if err := d.imu.WriteReg(regAccelConfig, fsAccel2g); err != nil {
		return errors.Wrap(err, "icm20948: accel config failed")
	}
	return d.setBank(0)
}

func (d *Device) initMag() error {
	wia, err := d.mag.ReadRegU8(regMagWIA2)
	if err != nil {
		return errors.Wrap(err, "ak09916: whoami read failed")
	}
	if wia != magWIA2Val {
		return errors.Errorf("ak09916: wia2=0x%02X want 0x%02X", wia, magWIA2Val)
	}
	if err := d.mag.WriteReg(regMagCntl3, bitMagSRST); err != nil {
		return errors.Wrap(err, "ak09916: reset failed")
	}
	sleep(10 * time.Millisecond)
	if err := d.mag.WriteReg(regMagCntl2, magCont100); err != nil {
		return errors.Wrap(err, "ak09916: mode failed")
	}
	return nil
}

func (d *Device) setBank(bank byte) error {
	if d.curBank == bank {
		return nil
	}
	if err := d.imu.WriteReg(regBankSel, bank<<4); err != nil {
		return errors.Wrapf(err, "icm20948: set bank %d failed", bank)
	}
	d.curBank = bank
	return nil
}

func be16(hi, lo byte) int16 { return int16(uint16(hi)<<8 | uint16(lo)) }
func le16(lo, hi byte) int16 { return int16(uint16(hi)<<8 | uint16(lo)) }

// Read returns one accel sample and the newest magnetometer field. When the
// magnetometer has no new data the previous field is reused.
func (d *Device) Read() (Sample, error) {
	if d == nil {
		return Sample{}, errors.New("icm20948: device is nil")
	}
	if err := d.setBank(0); err != nil {
		return Sample{}, err
	}

	var ab [6]byte
	if err := d.imu.ReadReg(regAccelXoutH, ab[:]); err != nil {
		return Sample{}, errors.Wrap(err, "icm20948: accel read failed")
	}
	s := Sample{
		Time: time.Now(),
		Accel: r3.Vec{
			X: float64(be16(ab[0], ab[1])) * accelScale,
			Y: float64(be16(ab[2], ab[3])) * accelScale,
			Z: float64(be16(ab[4], ab[5])) * accelScale,
		},
	}

	st1, err := d.mag.ReadRegU8(regMagST1)
	if err != nil {
		return Sample{}, errors.Wrap(err, "ak09916: status read failed")
	}
	if st1&bitMagDRDY != 0 {
		// HXL..HZH, TMPS, ST2. Reading ST2 releases the data registers.
		var mb [8]byte
		if err := d.mag.ReadReg(regMagHXL, mb[:]); err != nil {
			return Sample{}, errors.Wrap(err, "ak09916: data read failed")
		}
		// AK09916 Y and Z point opposite to the accelerometer's.
		d.lastMag = r3.Vec{
			X: float64(le16(mb[0], mb[1])) * magScale,
			Y: -float64(le16(mb[2], mb[3])) * magScale,
			Z: -float64(le16(mb[4], mb[5])) * magScale,
		}
		d.ovf = mb[7]&bitMagHOFL != 0
		d.haveMag = true
	}
	if !d.haveMag {
		return Sample{}, errors.New("ak09916: no data yet")
	}
	s.Mag = d.lastMag
	s.MagOverflow = d.ovf
	return s, nil
}
