package transport

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

func TestSerialTransport_OpenClose(t *testing.T) {
	port := newFakePort()
	tr := newFakeTransport(port)

	var mu sync.Mutex
	var statuses []bool
	tr.OnStatusChanged(func(open bool) {
		mu.Lock()
		statuses = append(statuses, open)
		mu.Unlock()
	})

	require.NoError(t, tr.Open("/dev/ttyUSB0", 9600))
	assert.True(t, tr.IsOpen())
	assert.Equal(t, "/dev/ttyUSB0", tr.PortName())

	require.NoError(t, tr.Close())
	assert.False(t, tr.IsOpen())
	assert.True(t, port.isClosed())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{true, false}, statuses)
}

func TestSerialTransport_OpenRejectsBadBaud(t *testing.T) {
	tr := newFakeTransport(newFakePort())

	err := tr.Open("/dev/ttyUSB0", 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOpenFailed)
}

func TestSerialTransport_WriteAddressByteParitySwitch(t *testing.T) {
	port := newFakePort()
	tr := newFakeTransport(port)
	require.NoError(t, tr.Open("/dev/ttyUSB0", 9600))
	defer tr.Close()

	require.NoError(t, tr.WriteAddressByte(0xC0, 0))

	writes := port.allWrites()
	require.Len(t, writes, 1)
	assert.Equal(t, []byte{0xC0}, writes[0].data)
	assert.Equal(t, serial.MarkParity, writes[0].parity)

	// The line must be back in data mode afterwards.
	port.mu.Lock()
	last := port.modes[len(port.modes)-1]
	port.mu.Unlock()
	assert.Equal(t, serial.SpaceParity, last.Parity)
}

func TestSerialTransport_WriteDataInSpaceParity(t *testing.T) {
	port := newFakePort()
	tr := newFakeTransport(port)
	require.NoError(t, tr.Open("/dev/ttyUSB0", 9600))
	defer tr.Close()

	require.NoError(t, tr.WriteAddressByte(0xC0, 0))
	require.NoError(t, tr.WriteData([]byte{0x02, 0x01, 0x22}, 0))

	writes := port.allWrites()
	require.Len(t, writes, 2)
	assert.Equal(t, serial.SpaceParity, writes[1].parity)
	assert.Equal(t, []byte{0x02, 0x01, 0x22}, writes[1].data)
}

func TestSerialTransport_WriteRequiresOpenPort(t *testing.T) {
	tr := newFakeTransport(newFakePort())

	assert.ErrorIs(t, tr.WriteAddressByte(0xC0, 0), ErrPortNotOpen)
	assert.ErrorIs(t, tr.WriteData([]byte{0x01}, 0), ErrPortNotOpen)
}

func TestSerialTransport_FlushTimeoutIsTransient(t *testing.T) {
	port := newFakePort()
	port.drainBlock = make(chan struct{})
	defer close(port.drainBlock)

	tr := newFakeTransport(port, WithFlushTimeout(10*time.Millisecond))
	require.NoError(t, tr.Open("/dev/ttyUSB0", 9600))
	defer tr.Close()

	err := tr.WriteData([]byte{0x01, 0x01}, 0)
	assert.ErrorIs(t, err, ErrWriteTimeout)

	// A flush timeout does not close the port.
	assert.True(t, tr.IsOpen())
}

func TestSerialTransport_DeliversIncomingBytes(t *testing.T) {
	port := newFakePort()
	tr := newFakeTransport(port)

	received := make(chan []byte, 4)
	tr.OnBytes(func(data []byte) { received <- data })

	require.NoError(t, tr.Open("/dev/ttyUSB0", 9600))
	defer tr.Close()

	port.reads <- []byte{0x01, 0x01}

	select {
	case data := <-received:
		assert.Equal(t, []byte{0x01, 0x01}, data)
	case <-time.After(time.Second):
		t.Fatal("no bytes delivered")
	}
}

func TestSerialTransport_FatalReadErrorClosesPort(t *testing.T) {
	port := newFakePort()
	tr := newFakeTransport(port)

	statusDown := make(chan struct{})
	tr.OnStatusChanged(func(open bool) {
		if !open {
			close(statusDown)
		}
	})

	require.NoError(t, tr.Open("/dev/ttyUSB0", 9600))

	port.setReadErr(io.EOF)

	select {
	case <-statusDown:
	case <-time.After(time.Second):
		t.Fatal("no status-changed(false) after fatal error")
	}

	assert.False(t, tr.IsOpen())
	assert.True(t, port.isClosed())
}

func TestSerialTransport_TransientReadErrorKeepsPortOpen(t *testing.T) {
	port := newFakePort()
	tr := newFakeTransport(port)

	require.NoError(t, tr.Open("/dev/ttyUSB0", 9600))
	defer tr.Close()

	port.setReadErr(errors.New("try again"))
	time.Sleep(20 * time.Millisecond)
	port.setReadErr(nil)

	assert.True(t, tr.IsOpen())
}

func TestIsFatalError(t *testing.T) {
	assert.True(t, isFatalError(io.EOF))
	assert.False(t, isFatalError(errors.New("interrupted")))
	assert.False(t, isFatalError(nil))
}

func TestConfig_Options(t *testing.T) {
	cfg, err := NewConfig(
		WithFlushTimeout(200*time.Millisecond),
		WithPollTimeout(10*time.Millisecond),
		WithReadBufferSize(64),
	)
	require.NoError(t, err)
	assert.Equal(t, 200*time.Millisecond, cfg.FlushTimeout())
	assert.Equal(t, 10*time.Millisecond, cfg.PollTimeout())
	assert.Equal(t, 64, cfg.ReadBufferSize())
}

func TestConfig_RejectsInvalidOptions(t *testing.T) {
	_, err := NewConfig(WithFlushTimeout(0))
	assert.Error(t, err)

	_, err = NewConfig(WithReadBufferSize(-1))
	assert.Error(t, err)

	_, err = NewConfig(WithLogger(nil))
	assert.Error(t, err)
}
