package device

import (
	"errors"
	"fmt"
)

var (
	ErrPortNotFound   = errors.New("port not found")
	ErrFirmwareBuild  = errors.New("firmware build failed")
	ErrFirmwareUpload = errors.New("firmware upload failed")
	ErrTransportOpen  = errors.New("transport open failed")
	ErrNotConnected   = errors.New("not connected")
	ErrIO             = errors.New("i/o failure")
)

// ConnectError reports which connect stage failed. errors.Is matches both the
// stage sentinel and the underlying cause.
type ConnectError struct {
	Stage error
	Port  string
	Err   error
}

func (e *ConnectError) Error() string {
	msg := e.Stage.Error()
	if e.Port != "" {
		msg = fmt.Sprintf("%s (port %s)", msg, e.Port)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ConnectError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Stage}
	}
	return []error{e.Stage, e.Err}
}
