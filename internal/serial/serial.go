// Package serial opens raw 8N1 serial ports for line-oriented NMEA devices.
package serial

import (
	"fmt"
	"os"
)

const DefaultBaud = 9600

// Open opens path at the given baud rate. A zero baud selects DefaultBaud.
//
// On Linux the port is configured through termios directly; other platforms
// go through github.com/jacobsa/go-serial.
func Open(path string, baud int) (Port, error) {
	if baud == 0 {
		baud = DefaultBaud
	}
	return openPort(path, baud)
}

// AutoDetect returns the first existing /dev/ttyACM* or /dev/ttyUSB* device,
// or "" when none is present.
func AutoDetect() string {
	return autoDetect(func(p string) bool {
		_, err := os.Stat(p)
		return err == nil
	})
}

func autoDetect(exists func(string) bool) string {
	for _, prefix := range []string{"/dev/ttyACM", "/dev/ttyUSB"} {
		for i := 0; i < 10; i++ {
			p := fmt.Sprintf("%s%d", prefix, i)
			if exists(p) {
				return p
			}
		}
	}
	return ""
}
