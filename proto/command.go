package proto

import "fmt"

// Command is one encoded device operation: the data payload written
// after the address byte, and the confirmation byte pattern the device
// is expected to answer with.
//
// Echo-style commands expect their own payload back. Fire-and-forget
// commands carry an empty Expected and resolve at send time.
type Command struct {
	ID       CommandID
	Name     string
	Payload  []byte
	Expected []byte
}

// FireAndForget reports whether the command completes without a
// confirmation.
func (c Command) FireAndForget() bool {
	return len(c.Expected) == 0
}

func (c Command) String() string {
	return fmt.Sprintf("%s % X", c.Name, c.Payload)
}

// echo builds an echo-confirmed command: the expected response is a
// copy of the payload.
func echo(id CommandID, name string, payload ...byte) Command {
	expected := make([]byte, len(payload))
	copy(expected, payload)

	return Command{ID: id, Name: name, Payload: payload, Expected: expected}
}

// PowerOn builds the power-on command, payload 01 01.
func PowerOn() Command {
	return echo(CmdPower, "PowerOn", byte(CmdPower), 0x01)
}

// PowerOff builds the power-off command, payload 01 00.
func PowerOff() Command {
	return echo(CmdPower, "PowerOff", byte(CmdPower), 0x00)
}

// V123Voltage builds the voltage set command for rail V1, V2 or V3,
// payload 02 ch bcd. The voltage must be 0.0 (off) or within
// [1.2, 5.0] volts.
func V123Voltage(channel int, volts float64) (Command, error) {
	if channel < 1 || channel > 3 {
		return Command{}, fmt.Errorf("%w: channel %d", ErrInvalidChannel, channel)
	}
	if !ValidV123Voltage(volts) {
		return Command{}, fmt.Errorf("%w: V123 %.2fV, want 0.0 or 1.2-5.0", ErrInvalidVoltage, volts)
	}

	name := fmt.Sprintf("SetV%dVoltage(%.1fV)", channel, volts)

	return echo(CmdVoltage, name, byte(CmdVoltage), byte(channel), EncodeVoltage(volts)), nil //nolint:gosec
}

// V4Voltage builds the voltage set command for rail V4, payload
// 02 04 code. The voltage must be 0.0 (off) or within [1.60, 10.80]
// volts; calibrated rail voltages use dedicated firmware codes.
func V4Voltage(volts float64) (Command, error) {
	if !ValidV4Voltage(volts) {
		return Command{}, fmt.Errorf("%w: V4 %.2fV, want 0.0 or 1.60-10.80", ErrInvalidVoltage, volts)
	}

	name := fmt.Sprintf("SetV4Voltage(%.2fV)", volts)

	return echo(CmdVoltage, name, byte(CmdVoltage), V4ChannelID, EncodeV4Voltage(volts)), nil
}

// ChannelOpen builds the combined output channel open command, payload
// 12 v123ch v4ch. v123Channel must be 1, 2 or 3; v4Channel must be
// [V4ChannelID].
func ChannelOpen(v123Channel int, v4Channel byte) (Command, error) {
	if v123Channel < 1 || v123Channel > 3 {
		return Command{}, fmt.Errorf("%w: channel %d", ErrInvalidChannel, v123Channel)
	}
	if v4Channel != V4ChannelID {
		return Command{}, fmt.Errorf("%w: V4 channel 0x%02X", ErrInvalidChannel, v4Channel)
	}

	name := fmt.Sprintf("OpenChannel(V%d,V4)", v123Channel)

	return echo(CmdChannelOpen, name, byte(CmdChannelOpen), byte(v123Channel), v4Channel), nil //nolint:gosec
}

// V123ChannelOpen builds the single-rail channel open command for V1,
// V2 or V3, payload 12 ch.
func V123ChannelOpen(channel int) (Command, error) {
	if channel < 1 || channel > 3 {
		return Command{}, fmt.Errorf("%w: channel %d", ErrInvalidChannel, channel)
	}

	name := fmt.Sprintf("OpenV%dChannel", channel)

	return echo(CmdChannelOpen, name, byte(CmdChannelOpen), byte(channel)), nil //nolint:gosec
}

// V4ChannelOpen builds the single-rail channel open command for V4,
// payload 12 04.
func V4ChannelOpen() Command {
	return echo(CmdChannelOpen, "OpenV4Channel", byte(CmdChannelOpen), V4ChannelID)
}

// StepAdjust builds the fine-adjust command for rail V1-V4, payload
// 06 ch dir. Rails 1-3 address V123 channels, 4 addresses the V4 rail.
func StepAdjust(channel int, dir Direction) (Command, error) {
	if channel < 1 || channel > 4 {
		return Command{}, fmt.Errorf("%w: channel %d", ErrInvalidChannel, channel)
	}
	if dir != DirUp && dir != DirDown {
		return Command{}, fmt.Errorf("%w: 0x%02X", ErrInvalidDirection, byte(dir))
	}

	arrow := "Up"
	if dir == DirDown {
		arrow = "Down"
	}
	name := fmt.Sprintf("StepAdjust(V%d,%s)", channel, arrow)

	return echo(CmdStepAdjust, name, byte(CmdStepAdjust), byte(channel), byte(dir)), nil //nolint:gosec
}

// StartDetection builds the command that starts the external current
// meter's continuous sampling, payload 50, expected ack 50 AA.
//
// The command byte equals [TelemetryTag]; the two-byte ack is what
// distinguishes the confirmation from a telemetry frame lead byte.
func StartDetection() Command {
	return Command{
		ID:       CmdStartDetection,
		Name:     "StartDetection",
		Payload:  []byte{byte(CmdStartDetection)},
		Expected: []byte{byte(CmdStartDetection), startDetectionAck},
	}
}

// StopDetection builds the command that stops continuous sampling,
// payload 51, expected ack 51 55.
func StopDetection() Command {
	return Command{
		ID:       CmdStopDetection,
		Name:     "StopDetection",
		Payload:  []byte{byte(CmdStopDetection)},
		Expected: []byte{byte(CmdStopDetection), stopDetectionAck},
	}
}

// PressKey builds the relay key simulation command, payload 01 key.
// It reuses the power command byte; the key code selects the relay.
func PressKey(key KeyCode) (Command, error) {
	switch key {
	case KeyRight, KeyPowerConfirm, KeySw3, KeySw4, KeySw5, KeySw6:
	default:
		return Command{}, fmt.Errorf("%w: 0x%02X", ErrInvalidKey, byte(key))
	}

	name := fmt.Sprintf("PressKey(%s)", key)

	return echo(CmdPower, name, byte(CmdPower), byte(key)), nil
}

// DetectionSelect builds the legacy combined range/channel selection
// command, payload 03 range chan. Kept for devices running older
// firmware that predates the separate start/stop detection commands.
func DetectionSelect(rng RangeCode, ch ChannelCode) (Command, error) {
	if rng != RangeMilliAmp && rng != RangeMicroAmp {
		return Command{}, fmt.Errorf("%w: range 0x%02X", ErrInvalidRange, byte(rng))
	}
	switch ch {
	case ChannelCH1, ChannelCH2, ChannelCH3, ChannelCH4:
	default:
		return Command{}, fmt.Errorf("%w: channel 0x%02X", ErrInvalidRange, byte(ch))
	}

	name := fmt.Sprintf("DetectionSelect(%s,%s)", ch, rng)

	return echo(CmdDetectionSelect, name, byte(CmdDetectionSelect), byte(rng), byte(ch)), nil
}

// TestCommand builds a raw loopback test command: the payload is sent
// verbatim and echoed back. An empty payload is rejected.
func TestCommand(payload []byte) (Command, error) {
	if len(payload) == 0 {
		return Command{}, ErrEmptyPayload
	}

	data := make([]byte, len(payload))
	copy(data, payload)

	return echo(CommandID(data[0]), "TestCommand", data...), nil
}

// IapJump builds the bootloader jump command, payload 99 AA. The
// device resets on reception, so no confirmation is expected.
func IapJump() Command {
	return Command{
		ID:      CmdIapJump,
		Name:    "JumpToBootloader",
		Payload: []byte{byte(CmdIapJump), iapJumpArg},
	}
}
