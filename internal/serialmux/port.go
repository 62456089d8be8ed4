package serialmux

import (
	"io"
	"time"
)

// SerialPorter defines the minimal interface needed for a serial port.
// This abstraction enables unit testing without real serial hardware.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// TimeoutSerialPorter extends SerialPorter with timeout capabilities.
// Ports that implement it are given a short read timeout so the reader can
// notice a stop request while the line is idle.
type TimeoutSerialPorter interface {
	SerialPorter
	// SetReadTimeout sets the read timeout for the serial port.
	SetReadTimeout(timeout time.Duration) error
}

// SerialPortOpener opens the port at path with the given options. The
// connection manager calls it for the initial connect and for every
// reconnection attempt.
type SerialPortOpener func(path string, opts PortOptions) (SerialPorter, error)
