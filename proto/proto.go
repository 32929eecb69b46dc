// Package proto implements the wire codec for the bench device command
// protocol: command frame construction, voltage encoding, confirmation
// matching, and telemetry frame parsing.
//
// The codec is pure and stateless apart from [TelemetryDecoder]'s buffer.
// Identical inputs always produce identical bytes; nothing here touches
// the serial port.
package proto

import "errors"

// Basic bus parameters.
const (
	// DeviceAddress is the multidrop slave address of the bench device.
	// It is written as the parity-tagged address byte before every payload.
	DeviceAddress byte = 0xC0

	// DefaultBaud is the bus baud rate.
	DefaultBaud = 9600
)

// Telemetry frame layout: one tag byte followed by a 4-byte
// little-endian IEEE-754 float carrying the measured current in mA.
const (
	TelemetryTag       byte = 0x50
	TelemetryFrameSize      = 5
)

// CommandID identifies the first payload byte of each device command.
type CommandID byte

const (
	CmdPower           CommandID = 0x01
	CmdVoltage         CommandID = 0x02
	CmdDetectionSelect CommandID = 0x03 // legacy combined range/channel select
	CmdStepAdjust      CommandID = 0x06
	CmdChannelOpen     CommandID = 0x12
	CmdStartDetection  CommandID = 0x50
	CmdStopDetection   CommandID = 0x51
	CmdIapJump         CommandID = 0x99
)

// Detection ack second bytes. StartDetection echoes its command byte
// followed by 0xAA, StopDetection by 0x55.
const (
	startDetectionAck byte = 0xAA
	stopDetectionAck  byte = 0x55
)

// iapJumpArg is the fixed second byte of the bootloader jump frame.
const iapJumpArg byte = 0xAA

// V4ChannelID is the fixed channel identifier of the V4 output rail.
const V4ChannelID byte = 0x04

// Direction is a step-adjust direction code.
type Direction byte

const (
	DirUp   Direction = 0x01
	DirDown Direction = 0x02
)

// KeyCode identifies a relay-simulated front panel key.
type KeyCode byte

const (
	KeyRight        KeyCode = 0x02
	KeyPowerConfirm KeyCode = 0x03
	KeySw3          KeyCode = 0x31
	KeySw4          KeyCode = 0x41
	KeySw5          KeyCode = 0x51
	KeySw6          KeyCode = 0x61
)

// String returns the panel name of the key.
func (k KeyCode) String() string {
	switch k {
	case KeyRight:
		return "Right"
	case KeyPowerConfirm:
		return "PowerConfirm"
	case KeySw3:
		return "SW3"
	case KeySw4:
		return "SW4"
	case KeySw5:
		return "SW5"
	case KeySw6:
		return "SW6"
	default:
		return "Unknown"
	}
}

// RangeCode selects the current-measurement range of the legacy
// combined detection command.
type RangeCode byte

const (
	RangeMilliAmp RangeCode = 0x01
	RangeMicroAmp RangeCode = 0x02
)

// String returns the unit name of the range.
func (r RangeCode) String() string {
	if r == RangeMilliAmp {
		return "mA"
	}
	return "uA"
}

// ChannelCode selects the measured channel of the legacy combined
// detection command.
type ChannelCode byte

const (
	ChannelCH1 ChannelCode = 0x11
	ChannelCH2 ChannelCode = 0x21
	ChannelCH3 ChannelCode = 0x31
	ChannelCH4 ChannelCode = 0x41
)

// String returns the channel name.
func (c ChannelCode) String() string {
	switch c {
	case ChannelCH1:
		return "CH1"
	case ChannelCH2:
		return "CH2"
	case ChannelCH3:
		return "CH3"
	case ChannelCH4:
		return "CH4"
	default:
		return "Unknown"
	}
}

// Sentinel errors for parameter validation. Builders return these
// synchronously; nothing has been written to the wire when they occur.
var (
	ErrInvalidChannel   = errors.New("proto: invalid V123 channel, must be 1, 2 or 3")
	ErrInvalidVoltage   = errors.New("proto: voltage out of range")
	ErrInvalidDirection = errors.New("proto: invalid step-adjust direction")
	ErrInvalidKey       = errors.New("proto: invalid key code")
	ErrInvalidRange     = errors.New("proto: invalid range or channel code")
	ErrEmptyPayload     = errors.New("proto: empty payload")
)
