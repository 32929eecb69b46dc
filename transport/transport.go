// Package transport provides the multidrop serial transport for the
// bench device bus.
//
// The bus uses 9-bit addressing: the first byte of every logical write
// is parity-tagged as an address byte (mark parity) so that only the
// addressed device wakes up, and all following bytes are tagged as
// data (space parity). The transport performs the parity switching and
// delivers incoming bytes as an unstructured stream; it does no
// framing or parsing.
package transport

import (
	"errors"
	"time"
)

// Sentinel errors for the transport layer.
var (
	ErrPortNotOpen  = errors.New("transport: port not open")
	ErrAlreadyOpen  = errors.New("transport: port already open")
	ErrWriteFailed  = errors.New("transport: write failed")
	ErrWriteTimeout = errors.New("transport: write flush timeout")
	ErrOpenFailed   = errors.New("transport: failed to open port")
)

// Transport abstracts the serial bus so the command link can run
// against an in-memory fake in tests.
//
// WriteAddressByte switches the line to mark parity for exactly one
// byte, waits for the flush within the timeout, and switches back to
// space parity before returning. WriteData writes payload bytes in
// space parity with the same bounded flush wait. A flush-wait failure
// is a send failure, never a hang, and does not close the port.
type Transport interface {
	Open(portName string, baud int) error
	Close() error
	IsOpen() bool
	PortName() string

	WriteAddressByte(b byte, timeout time.Duration) error
	WriteData(data []byte, timeout time.Duration) error

	// OnBytes registers the receiver for incoming byte chunks. The
	// callback runs on the transport's read goroutine.
	OnBytes(fn func(data []byte))

	// OnStatusChanged registers the receiver for open/close
	// transitions, including fatal-error auto-closes.
	OnStatusChanged(fn func(open bool))
}
