package display

import (
	"errors"
	"fmt"
)

var (
	ErrClosed          = errors.New("display closed")
	ErrTooManyClients  = errors.New("too many clients")
	ErrClientDestroyed = errors.New("client destroyed")
	ErrQueueFull       = errors.New("client event queue full")
)

// wl_display.error codes.
const (
	ErrorInvalidObject  uint32 = 0
	ErrorInvalidMethod  uint32 = 1
	ErrorNoMemory       uint32 = 2
	ErrorImplementation uint32 = 3
)

// ProtocolError is returned by request handlers to report a client error.
// The client receives wl_display.error and is disconnected.
type ProtocolError struct {
	Object  uint32
	Code    uint32
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error on object %d (code %d): %s", e.Object, e.Code, e.Message)
}

// InvalidMethod builds the error for an opcode a resource does not implement.
func InvalidMethod(r *Resource, opcode uint16) *ProtocolError {
	return &ProtocolError{
		Object:  r.ID(),
		Code:    ErrorInvalidMethod,
		Message: fmt.Sprintf("invalid method %d on %s@%d", opcode, r.Interface(), r.ID()),
	}
}
