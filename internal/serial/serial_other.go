//go:build !linux

package serial

import (
	"github.com/jacobsa/go-serial/serial"
	"github.com/pkg/errors"
)

func openPort(path string, baud int) (Port, error) {
	if baud <= 0 {
		return nil, errors.Errorf("unsupported baud %d", baud)
	}
	p, err := serial.Open(serial.OpenOptions{
		PortName:        path,
		BaudRate:        uint(baud),
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
		ParityMode:      serial.PARITY_NONE,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	return p, nil
}
