package transport

import (
	"sync"
	"time"

	"go.bug.st/serial"
)

// fakePort is an in-memory serialPort. Reads block on a channel with a
// short timeout to mimic a polled UART; writes record the parity the
// line was in when they happened.
type fakePort struct {
	mu      sync.Mutex
	parity  serial.Parity
	modes   []serial.Mode
	writes  []fakeWrite
	readErr error

	reads      chan []byte
	drainBlock chan struct{} // non-nil blocks Drain until closed
	drainErr   error
	closed     bool
}

type fakeWrite struct {
	parity serial.Parity
	data   []byte
}

func newFakePort() *fakePort {
	return &fakePort{reads: make(chan []byte, 16)}
}

func (p *fakePort) SetMode(mode *serial.Mode) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.parity = mode.Parity
	p.modes = append(p.modes, *mode)

	return nil
}

func (p *fakePort) SetReadTimeout(time.Duration) error { return nil }

func (p *fakePort) Read(buf []byte) (int, error) {
	p.mu.Lock()
	err := p.readErr
	p.mu.Unlock()
	if err != nil {
		return 0, err
	}

	select {
	case data := <-p.reads:
		return copy(buf, data), nil
	case <-time.After(2 * time.Millisecond):
		return 0, nil
	}
}

func (p *fakePort) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	w := fakeWrite{parity: p.parity, data: append([]byte{}, data...)}
	p.writes = append(p.writes, w)

	return len(data), nil
}

func (p *fakePort) Drain() error {
	p.mu.Lock()
	block := p.drainBlock
	err := p.drainErr
	p.mu.Unlock()

	if block != nil {
		<-block
	}

	return err
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true

	return nil
}

func (p *fakePort) setReadErr(err error) {
	p.mu.Lock()
	p.readErr = err
	p.mu.Unlock()
}

func (p *fakePort) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.closed
}

func (p *fakePort) allWrites() []fakeWrite {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]fakeWrite{}, p.writes...)
}

// newFakeTransport returns a transport whose open function hands out
// the given fake port.
func newFakeTransport(port *fakePort, opts ...ConfigOption) *SerialTransport {
	cfg, err := NewConfig(opts...)
	if err != nil {
		panic(err)
	}

	t := NewSerialTransport(cfg)
	t.openFn = func(string, *serial.Mode) (serialPort, error) {
		return port, nil
	}

	return t
}
