package serial

import "io"

// Port is an open serial device.
type Port = io.ReadWriteCloser
