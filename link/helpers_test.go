package link

import (
	"sync"
	"time"

	"github.com/benchio/dutlink/proto"
	"github.com/benchio/dutlink/transport"
)

// fakeTransport is an in-memory Transport that records writes and lets
// tests inject incoming bytes and status transitions.
type fakeTransport struct {
	mu         sync.Mutex
	open       bool
	addrWrites []byte
	dataWrites [][]byte
	writeErr   error

	onBytes  func(data []byte)
	onStatus func(open bool)
}

var _ transport.Transport = (*fakeTransport)(nil)

func newFakeTransport() *fakeTransport {
	return &fakeTransport{open: true}
}

func (f *fakeTransport) Open(string, int) error {
	f.mu.Lock()
	f.open = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.open = false
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeTransport) PortName() string { return "fake" }

func (f *fakeTransport) WriteAddressByte(b byte, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.writeErr != nil {
		return f.writeErr
	}
	f.addrWrites = append(f.addrWrites, b)
	return nil
}

func (f *fakeTransport) WriteData(data []byte, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.writeErr != nil {
		return f.writeErr
	}
	f.dataWrites = append(f.dataWrites, append([]byte{}, data...))
	return nil
}

func (f *fakeTransport) OnBytes(fn func(data []byte)) {
	f.mu.Lock()
	f.onBytes = fn
	f.mu.Unlock()
}

func (f *fakeTransport) OnStatusChanged(fn func(open bool)) {
	f.mu.Lock()
	f.onStatus = fn
	f.mu.Unlock()
}

// inject delivers bytes as if read from the wire.
func (f *fakeTransport) inject(data []byte) {
	f.mu.Lock()
	fn := f.onBytes
	f.mu.Unlock()

	if fn != nil {
		fn(data)
	}
}

// drop simulates losing the port.
func (f *fakeTransport) drop() {
	f.mu.Lock()
	f.open = false
	fn := f.onStatus
	f.mu.Unlock()

	if fn != nil {
		fn(false)
	}
}

func (f *fakeTransport) sentData() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte{}, f.dataWrites...)
}

func (f *fakeTransport) sentAddrs() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte{}, f.addrWrites...)
}

// confirmation captures one ConfirmedHandler invocation.
type confirmation struct {
	name     string
	ok       bool
	sent     []byte
	response []byte
}

// newTestLink builds a link over a fresh fake transport with short
// timeouts, returning both plus a channel of resolutions.
func newTestLink(opts ...ConfigOption) (*Link, *fakeTransport, chan confirmation) {
	tr := newFakeTransport()

	cfg, err := NewConfig(opts...)
	if err != nil {
		panic(err)
	}

	l := NewLink(tr, cfg)

	resolved := make(chan confirmation, 8)
	l.OnConfirmed(func(cmd proto.Command, ok bool, sent, response []byte) {
		resolved <- confirmation{name: cmd.Name, ok: ok, sent: sent, response: response}
	})

	return l, tr, resolved
}
