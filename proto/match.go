package proto

import "bytes"

// maxReceiveBuffer is the high-water mark above which an unmatched
// receive buffer is trimmed back to the last plausible frame start.
const maxReceiveBuffer = 100

// frameLeadBytes are the bytes a device frame can legitimately start
// with; used only by the overflow trim heuristic.
var frameLeadBytes = [...]byte{
	byte(CmdPower),
	byte(CmdVoltage),
	byte(CmdDetectionSelect),
	0x04,
	byte(CmdChannelOpen),
	TelemetryTag,
}

// MatchResponse searches buf for the expected confirmation pattern and
// returns the match offset. Comparisons are unsigned throughout since
// pattern bytes may exceed 0x7F.
//
// Multi-byte patterns match as an exact contiguous subsequence.
// Single-byte patterns are frame-aware: telemetry frames (tag byte plus
// four float bytes) interleave freely with confirmations, so a
// candidate byte that falls strictly inside the span of a
// previously-started telemetry frame is rejected and the scan
// continues. A candidate at a frame's tag position is accepted; the
// tag/StartDetection byte collision is a documented property of the
// wire protocol.
func MatchResponse(buf, expected []byte) (int, bool) {
	if len(expected) == 0 || len(buf) < len(expected) {
		return -1, false
	}

	if len(expected) > 1 {
		pos := bytes.Index(buf, expected)
		return pos, pos >= 0
	}

	want := expected[0]
	frameEnd := -1 // last buffer index claimed by a started telemetry frame

	for i := range buf {
		insideFrame := i <= frameEnd

		if !insideFrame && buf[i] == TelemetryTag {
			// A telemetry frame starts here; its float bytes span
			// the next four positions.
			frameEnd = i + TelemetryFrameSize - 1
			if buf[i] == want {
				return i, true
			}
			continue
		}

		if !insideFrame && buf[i] == want {
			return i, true
		}
	}

	return -1, false
}

// TrimOverflow bounds an unmatched receive buffer. Buffers at or below
// the high-water mark pass through unchanged. Larger buffers are cut
// back to the last byte that could start a device frame; if no such
// byte exists past the first position, the buffer is discarded
// entirely.
func TrimOverflow(buf []byte) []byte {
	if len(buf) <= maxReceiveBuffer {
		return buf
	}

	last := -1
	for i := len(buf) - 1; i >= 0; i-- {
		if isFrameLead(buf[i]) {
			last = i
			break
		}
	}

	if last > 0 {
		return buf[last:]
	}

	return buf[:0]
}

func isFrameLead(b byte) bool {
	for _, lead := range frameLeadBytes {
		if b == lead {
			return true
		}
	}
	return false
}
