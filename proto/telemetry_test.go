package proto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTelemetry(t *testing.T) {
	frame := AppendTelemetry(nil, 3.25)

	value, n, ok := ParseTelemetry(frame)
	require.True(t, ok)
	assert.Equal(t, TelemetryFrameSize, n)
	assert.InDelta(t, 3.25, value, 1e-6)
}

func TestParseTelemetry_ShortBuffer(t *testing.T) {
	_, n, ok := ParseTelemetry([]byte{0x50, 0x01, 0x02})
	assert.False(t, ok)
	assert.Zero(t, n)
}

func TestParseTelemetry_Resync(t *testing.T) {
	// A non-tag lead byte consumes exactly one byte.
	buf := append([]byte{0xEE}, AppendTelemetry(nil, 1.0)...)

	_, n, ok := ParseTelemetry(buf)
	assert.False(t, ok)
	assert.Equal(t, 1, n)

	value, n, ok := ParseTelemetry(buf[1:])
	require.True(t, ok)
	assert.Equal(t, TelemetryFrameSize, n)
	assert.InDelta(t, 1.0, value, 1e-6)
}

func TestTelemetryDecoder_SplitFrames(t *testing.T) {
	var d TelemetryDecoder

	stream := AppendTelemetry(nil, 0.5)
	stream = AppendTelemetry(stream, 7.0)
	stream = AppendTelemetry(stream, 12.5)

	// Feed in chunks that split frames mid-float.
	var got []float32
	got = append(got, d.Feed(stream[:3])...)
	got = append(got, d.Feed(stream[3:8])...)
	got = append(got, d.Feed(stream[8:])...)

	require.Len(t, got, 3)
	assert.InDelta(t, 0.5, got[0], 1e-6)
	assert.InDelta(t, 7.0, got[1], 1e-6)
	assert.InDelta(t, 12.5, got[2], 1e-6)
	assert.Zero(t, d.Pending())
}

func TestTelemetryDecoder_SkipsGarbage(t *testing.T) {
	var d TelemetryDecoder

	buf := []byte{0x00, 0x13, 0x27}
	buf = append(buf, AppendTelemetry(nil, 2.5)...)

	got := d.Feed(buf)
	require.Len(t, got, 1)
	assert.InDelta(t, 2.5, got[0], 1e-6)
}

func TestTelemetryDecoder_Reset(t *testing.T) {
	var d TelemetryDecoder

	d.Feed([]byte{0x50, 0x01})
	assert.Equal(t, 2, d.Pending())

	d.Reset()
	assert.Zero(t, d.Pending())
}
