package proto

import (
	"encoding/binary"
	"math"
)

// ParseTelemetry attempts to decode one telemetry frame from the front
// of buf. It returns the measured current in mA, the number of bytes
// consumed, and whether a frame was decoded.
//
// A buffer shorter than a full frame consumes nothing. A full-length
// buffer whose lead byte is not the telemetry tag consumes exactly one
// byte so the caller can resynchronize on the stream.
func ParseTelemetry(buf []byte) (value float32, n int, ok bool) {
	if len(buf) < TelemetryFrameSize {
		return 0, 0, false
	}

	if buf[0] != TelemetryTag {
		return 0, 1, false
	}

	bits := binary.LittleEndian.Uint32(buf[1:TelemetryFrameSize])

	return math.Float32frombits(bits), TelemetryFrameSize, true
}

// AppendTelemetry appends one encoded telemetry frame carrying value to
// dst. Used by tests and device simulators.
func AppendTelemetry(dst []byte, value float32) []byte {
	dst = append(dst, TelemetryTag)
	return binary.LittleEndian.AppendUint32(dst, math.Float32bits(value))
}

// TelemetryDecoder accumulates raw serial bytes and extracts telemetry
// frames from them. It is not safe for concurrent use; the link feeds
// it from a single goroutine.
type TelemetryDecoder struct {
	buf []byte
}

// Feed appends data to the decoder's buffer and returns every current
// value decoded from it, in arrival order. Bytes that cannot start a
// frame are skipped one at a time; a trailing partial frame stays
// buffered for the next call.
func (d *TelemetryDecoder) Feed(data []byte) []float32 {
	d.buf = append(d.buf, data...)

	var values []float32
	for {
		value, n, ok := ParseTelemetry(d.buf)
		if n == 0 {
			break
		}
		d.buf = d.buf[n:]
		if ok {
			values = append(values, value)
		}
	}

	if len(d.buf) == 0 {
		d.buf = nil
	}

	return values
}

// Pending returns the number of buffered bytes not yet forming a
// complete frame.
func (d *TelemetryDecoder) Pending() int {
	return len(d.buf)
}

// Reset discards any buffered bytes.
func (d *TelemetryDecoder) Reset() {
	d.buf = nil
}
