package link

import (
	"github.com/benchio/dutlink/proto"
)

// defaultTestPayload is sent by TestCommand when no payload is given.
var defaultTestPayload = []byte{0x34, 0x34}

// PowerOn turns the DUT on.
func (l *Link) PowerOn() error {
	return l.execute(proto.PowerOn())
}

// PowerOff turns the DUT off.
func (l *Link) PowerOff() error {
	return l.execute(proto.PowerOff())
}

// SetV123Voltage sets the output voltage of rail V1, V2 or V3.
// Volts must be 0.0 (off) or within [1.2, 5.0].
func (l *Link) SetV123Voltage(channel int, volts float64) error {
	cmd, err := proto.V123Voltage(channel, volts)
	if err != nil {
		return err
	}

	return l.execute(cmd)
}

// SetV4Voltage sets the output voltage of the V4 rail. Volts must be
// 0.0 (off) or within [1.60, 10.80].
func (l *Link) SetV4Voltage(volts float64) error {
	cmd, err := proto.V4Voltage(volts)
	if err != nil {
		return err
	}

	return l.execute(cmd)
}

// OpenChannel opens a V123 output channel and the V4 channel in one
// command.
func (l *Link) OpenChannel(v123Channel int, v4Channel byte) error {
	cmd, err := proto.ChannelOpen(v123Channel, v4Channel)
	if err != nil {
		return err
	}

	return l.execute(cmd)
}

// OpenV123Channel opens a single V123 output channel.
func (l *Link) OpenV123Channel(channel int) error {
	cmd, err := proto.V123ChannelOpen(channel)
	if err != nil {
		return err
	}

	return l.execute(cmd)
}

// OpenV4Channel opens the V4 output channel.
func (l *Link) OpenV4Channel() error {
	return l.execute(proto.V4ChannelOpen())
}

// StepAdjust nudges a rail's output voltage one step up or down.
// Channels 1-3 address the V123 rails, 4 the V4 rail.
func (l *Link) StepAdjust(channel int, dir proto.Direction) error {
	cmd, err := proto.StepAdjust(channel, dir)
	if err != nil {
		return err
	}

	return l.execute(cmd)
}

// StartDetection starts the external current meter's continuous
// sampling; telemetry frames begin streaming once the device acks.
func (l *Link) StartDetection() error {
	return l.execute(proto.StartDetection())
}

// StopDetection stops the external current meter's continuous
// sampling.
func (l *Link) StopDetection() error {
	return l.execute(proto.StopDetection())
}

// PressKey simulates a front panel key press through the relay board.
func (l *Link) PressKey(key proto.KeyCode) error {
	cmd, err := proto.PressKey(key)
	if err != nil {
		return err
	}

	return l.execute(cmd)
}

// SelectDetectionChannel issues the legacy combined range/channel
// selection command. Kept for devices running older firmware.
func (l *Link) SelectDetectionChannel(rng proto.RangeCode, ch proto.ChannelCode) error {
	cmd, err := proto.DetectionSelect(rng, ch)
	if err != nil {
		return err
	}

	return l.execute(cmd)
}

// TestCommand sends a raw loopback payload and awaits its echo. An
// empty payload sends the default test pattern.
func (l *Link) TestCommand(payload []byte) error {
	if len(payload) == 0 {
		payload = defaultTestPayload
	}

	cmd, err := proto.TestCommand(payload)
	if err != nil {
		return err
	}

	return l.execute(cmd)
}

// JumpToBootloader commands the DUT to reset into its bootloader for
// firmware update. The device resets on reception, so the command is
// fire-and-forget and the link stays idle.
func (l *Link) JumpToBootloader() error {
	return l.execute(proto.IapJump())
}
