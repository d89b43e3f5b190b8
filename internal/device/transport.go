package device

import (
	"errors"
	"time"

	"go.bug.st/serial"
)

// Port is the part of a serial port the link uses.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
	Close() error
}

// Opener opens a port by name at the given baud rate.
type Opener func(name string, baud int) (Port, error)

func OpenSerial(name string, baud int) (Port, error) {
	p, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// isClosed reports whether err means the port is gone for good.
func isClosed(err error) bool {
	var perr *serial.PortError
	if errors.As(err, &perr) {
		switch perr.Code() {
		case serial.PortClosed, serial.PortNotFound:
			return true
		}
	}
	return false
}
