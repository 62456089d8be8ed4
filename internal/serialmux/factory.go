package serialmux

import (
	"fmt"

	"go.bug.st/serial"
)

// OpenRealPort opens a hardware serial port with go.bug.st/serial. It
// satisfies SerialPortOpener.
func OpenRealPort(path string, opts PortOptions) (SerialPorter, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return port, nil
}

// ListPorts returns the serial ports currently present on the host.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}
	return ports, nil
}
