package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/benchio/dutlink/internal/pool"
	"github.com/benchio/dutlink/internal/task"
	"github.com/benchio/dutlink/logger"
)

// serialPort is the subset of [serial.Port] the transport uses,
// extracted so tests can substitute an in-memory fake.
type serialPort interface {
	SetMode(mode *serial.Mode) error
	SetReadTimeout(t time.Duration) error
	Read(p []byte) (n int, err error)
	Write(p []byte) (n int, err error)
	Drain() error
	Close() error
}

// SerialTransport implements [Transport] on a real serial port.
//
// Address bytes go out in mark parity, data bytes in space parity;
// the port is switched between the two around every address byte.
// Writes are serialized by an internal mutex since parity switching
// is stateful on the line.
type SerialTransport struct {
	cfg    *Config
	logger logger.Logger

	mu       sync.Mutex
	port     serialPort
	portName string
	baud     int

	onBytes  func(data []byte)
	onStatus func(open bool)

	taskMgr *task.Manager

	// openFn is swapped by tests to avoid touching real hardware.
	openFn func(name string, mode *serial.Mode) (serialPort, error)
}

var _ Transport = (*SerialTransport)(nil)

// NewSerialTransport creates a transport with the given configuration.
// A nil cfg uses defaults.
func NewSerialTransport(cfg *Config) *SerialTransport {
	if cfg == nil {
		cfg, _ = NewConfig()
	}

	return &SerialTransport{
		cfg:    cfg,
		logger: cfg.Logger(),
		openFn: func(name string, mode *serial.Mode) (serialPort, error) {
			return serial.Open(name, mode)
		},
	}
}

// Open opens the named port at the given baud rate with 8 data bits,
// space parity and one stop bit, and starts the receive loop. An
// already-open transport is closed first.
func (t *SerialTransport) Open(portName string, baud int) error {
	if baud <= 0 {
		return fmt.Errorf("%w: invalid baud rate %d", ErrOpenFailed, baud)
	}

	if t.IsOpen() {
		_ = t.Close()
	}

	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.SpaceParity,
		StopBits: serial.OneStopBit,
	}

	port, err := t.openFn(portName, mode)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrOpenFailed, portName, err)
	}

	if err := port.SetReadTimeout(t.cfg.PollTimeout()); err != nil {
		_ = port.Close()
		return fmt.Errorf("%w: %s: %w", ErrOpenFailed, portName, err)
	}

	t.mu.Lock()
	t.port = port
	t.portName = portName
	t.baud = baud
	t.taskMgr = task.NewManager(context.Background(), t.logger)
	mgr := t.taskMgr
	t.mu.Unlock()

	buf := make([]byte, t.cfg.ReadBufferSize())
	if err := mgr.Start("serial-reader", func() bool {
		return t.readOnce(buf)
	}, nil); err != nil {
		t.mu.Lock()
		t.port = nil
		t.mu.Unlock()
		_ = port.Close()

		return fmt.Errorf("%w: %s: %w", ErrOpenFailed, portName, err)
	}

	t.logger.Info("serial port opened", "port", portName, "baud", baud)
	t.notifyStatus(true)

	return nil
}

// Close closes the port and stops the receive loop. Closing an
// already-closed transport is a no-op.
func (t *SerialTransport) Close() error {
	t.mu.Lock()
	port := t.port
	mgr := t.taskMgr
	name := t.portName
	t.port = nil
	t.taskMgr = nil
	t.mu.Unlock()

	if port == nil {
		return nil
	}

	err := port.Close()
	if mgr != nil {
		mgr.Stop()
		mgr.Wait()
	}

	t.logger.Info("serial port closed", "port", name)
	t.notifyStatus(false)

	return err
}

// IsOpen reports whether the port is open.
func (t *SerialTransport) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.port != nil
}

// PortName returns the name of the most recently opened port.
func (t *SerialTransport) PortName() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.portName
}

// OnBytes registers the receiver for incoming byte chunks.
func (t *SerialTransport) OnBytes(fn func(data []byte)) {
	t.mu.Lock()
	t.onBytes = fn
	t.mu.Unlock()
}

// OnStatusChanged registers the receiver for open/close transitions.
func (t *SerialTransport) OnStatusChanged(fn func(open bool)) {
	t.mu.Lock()
	t.onStatus = fn
	t.mu.Unlock()
}

// WriteAddressByte writes one parity-tagged address byte: switch to
// mark parity, write, wait for the flush within the timeout, then
// switch back to space parity. A zero timeout uses the configured
// flush timeout.
func (t *SerialTransport) WriteAddressByte(b byte, timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return ErrPortNotOpen
	}

	if err := t.setParity(serial.MarkParity); err != nil {
		return fmt.Errorf("%w: set mark parity: %w", ErrWriteFailed, err)
	}

	writeErr := t.writeAndFlush([]byte{b}, timeout)

	// The line must return to data mode even when the write failed.
	if err := t.setParity(serial.SpaceParity); err != nil && writeErr == nil {
		return fmt.Errorf("%w: set space parity: %w", ErrWriteFailed, err)
	}

	return writeErr
}

// WriteData writes payload bytes in space parity with a bounded flush
// wait. A zero timeout uses the configured flush timeout.
func (t *SerialTransport) WriteData(data []byte, timeout time.Duration) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty payload", ErrWriteFailed)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return ErrPortNotOpen
	}

	if err := t.setParity(serial.SpaceParity); err != nil {
		return fmt.Errorf("%w: set space parity: %w", ErrWriteFailed, err)
	}

	return t.writeAndFlush(data, timeout)
}

// setParity reconfigures the line parity. Callers hold t.mu.
func (t *SerialTransport) setParity(parity serial.Parity) error {
	return t.port.SetMode(&serial.Mode{
		BaudRate: t.baud,
		DataBits: 8,
		Parity:   parity,
		StopBits: serial.OneStopBit,
	})
}

// writeAndFlush writes data and waits for the UART to drain, bounded
// by the timeout. A flush timeout is a transient send failure; the
// port stays open. Callers hold t.mu.
func (t *SerialTransport) writeAndFlush(data []byte, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = t.cfg.FlushTimeout()
	}

	n, err := t.port.Write(data)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	if n != len(data) {
		return fmt.Errorf("%w: short write %d of %d bytes", ErrWriteFailed, n, len(data))
	}

	done := make(chan error, 1)
	port := t.port
	go func() {
		done <- port.Drain()
	}()

	timer := pool.GetTimer(timeout)
	defer pool.PutTimer(timer)

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%w: drain: %w", ErrWriteFailed, err)
		}
		return nil
	case <-timer.C:
		t.logger.Warn("write flush timeout", "timeout", timeout, "bytes", len(data))
		return ErrWriteTimeout
	}
}

// readOnce performs one receive loop iteration. It returns false to
// stop the loop.
func (t *SerialTransport) readOnce(buf []byte) bool {
	t.mu.Lock()
	port := t.port
	onBytes := t.onBytes
	t.mu.Unlock()

	if port == nil {
		return false
	}

	n, err := port.Read(buf)
	if err != nil {
		if isFatalError(err) {
			t.fatalClose(err)
			return false
		}

		t.logger.Warn("transient serial read error", "error", err)
		time.Sleep(t.cfg.PollTimeout()) // don't spin on a hot error
		return true
	}

	if n > 0 && onBytes != nil {
		data := make([]byte, n)
		copy(data, buf[:n])
		onBytes(data)
	}

	return true
}

// fatalClose tears down the port after an unrecoverable OS-level
// condition (device removed, permission lost) and notifies status
// observers. A port already closed deliberately is left alone.
func (t *SerialTransport) fatalClose(cause error) {
	t.mu.Lock()
	port := t.port
	name := t.portName
	t.port = nil
	t.taskMgr = nil
	t.mu.Unlock()

	if port == nil {
		return
	}

	_ = port.Close()
	t.logger.Error("serial port closed after fatal error", "port", name, "error", cause)
	t.notifyStatus(false)
}

func (t *SerialTransport) notifyStatus(open bool) {
	t.mu.Lock()
	fn := t.onStatus
	t.mu.Unlock()

	if fn != nil {
		fn(open)
	}
}

// isFatalError classifies serial errors. Device-gone and
// permission-style conditions require closing the port; everything
// else (timeouts, partial writes) is transient.
func isFatalError(err error) bool {
	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		switch portErr.Code() {
		case serial.PortClosed, serial.PortNotFound, serial.InvalidSerialPort, serial.PermissionDenied:
			return true
		default:
			return false
		}
	}

	return errors.Is(err, io.EOF)
}
