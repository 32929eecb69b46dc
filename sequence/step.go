// Package sequence implements the test sequence orchestrator: it
// drives an ordered list of steps, each a list of sub-actions, against
// the device command link as a timer/event-driven state machine with
// pause/resume support and structured error reporting.
package sequence

import (
	"fmt"
	"time"

	"github.com/benchio/dutlink/proto"
)

// ActionKind identifies the variant of a SubAction.
type ActionKind int

const (
	// KindSetChannelVoltage sets a V123 rail voltage.
	KindSetChannelVoltage ActionKind = iota
	// KindSetV4Voltage sets the V4 rail voltage.
	KindSetV4Voltage
	// KindOpenChannel opens a V123 output channel together with V4.
	KindOpenChannel
	// KindStartDetection starts continuous current sampling.
	KindStartDetection
	// KindPauseDetection stops continuous current sampling.
	KindPauseDetection
	// KindCheckCurrent waits for one measurement and compares it to a
	// threshold.
	KindCheckCurrent
	// KindPressKey simulates a front panel key press.
	KindPressKey
	// KindDelay waits a fixed duration.
	KindDelay
	// KindUserConfirm waits for an operator decision.
	KindUserConfirm
)

// SubAction is one primitive operation within a step. It is a tagged
// variant: Kind selects which parameter fields are meaningful.
type SubAction struct {
	Kind ActionKind

	Channel   int           // SetChannelVoltage, OpenChannel (V123 side)
	Volts     float64       // SetChannelVoltage, SetV4Voltage
	V4Channel byte          // OpenChannel
	Key       proto.KeyCode // PressKey
	Delay     time.Duration // Delay

	Threshold    float64 // CheckCurrent, in mA
	IsUpperLimit bool    // CheckCurrent: true means value <= Threshold passes

	Message string // UserConfirm
}

// Factory helpers for building step programs.

// SetChannelVoltage builds an action that sets the voltage of rail
// V1, V2 or V3.
func SetChannelVoltage(channel int, volts float64) SubAction {
	return SubAction{Kind: KindSetChannelVoltage, Channel: channel, Volts: volts}
}

// SetV4Voltage builds an action that sets the V4 rail voltage.
func SetV4Voltage(volts float64) SubAction {
	return SubAction{Kind: KindSetV4Voltage, Volts: volts}
}

// OpenChannel builds an action that opens a V123 output channel and
// the V4 channel.
func OpenChannel(v123Channel int) SubAction {
	return SubAction{Kind: KindOpenChannel, Channel: v123Channel, V4Channel: proto.V4ChannelID}
}

// StartDetection builds an action that starts continuous current
// sampling.
func StartDetection() SubAction {
	return SubAction{Kind: KindStartDetection}
}

// PauseDetection builds an action that stops continuous current
// sampling.
func PauseDetection() SubAction {
	return SubAction{Kind: KindPauseDetection}
}

// CheckCurrent builds an action that waits for the next measurement
// and compares it to a threshold. With isUpperLimit true the check
// passes when value <= threshold, otherwise when value >= threshold.
func CheckCurrent(thresholdMilliAmp float64, isUpperLimit bool) SubAction {
	return SubAction{Kind: KindCheckCurrent, Threshold: thresholdMilliAmp, IsUpperLimit: isUpperLimit}
}

// PressKey builds an action that simulates a front panel key press.
func PressKey(key proto.KeyCode) SubAction {
	return SubAction{Kind: KindPressKey, Key: key}
}

// Delay builds an action that waits the given duration.
func Delay(d time.Duration) SubAction {
	return SubAction{Kind: KindDelay, Delay: d}
}

// UserConfirm builds an action that asks the operator to confirm
// before proceeding.
func UserConfirm(message string) SubAction {
	return SubAction{Kind: KindUserConfirm, Message: message}
}

// Describe returns a human-readable one-liner for logs and error
// records.
func (a SubAction) Describe() string {
	switch a.Kind {
	case KindSetChannelVoltage:
		return fmt.Sprintf("set V%d voltage %.2fV", a.Channel, a.Volts)
	case KindSetV4Voltage:
		return fmt.Sprintf("set V4 voltage %.2fV", a.Volts)
	case KindOpenChannel:
		return fmt.Sprintf("open channel V%d+V4", a.Channel)
	case KindStartDetection:
		return "start detection"
	case KindPauseDetection:
		return "pause detection"
	case KindCheckCurrent:
		op := "<="
		if !a.IsUpperLimit {
			op = ">="
		}
		return fmt.Sprintf("check current %s %.3f mA", op, a.Threshold)
	case KindPressKey:
		return fmt.Sprintf("press key %s", a.Key)
	case KindDelay:
		return fmt.Sprintf("delay %v", a.Delay)
	case KindUserConfirm:
		return fmt.Sprintf("user confirm: %s", a.Message)
	default:
		return fmt.Sprintf("unknown action %d", int(a.Kind))
	}
}

// Step is one named stage of a scripted test: an ordered list of
// sub-actions under a shared timeout. Steps are immutable once a run
// starts.
type Step struct {
	ID          int
	Name        string
	Description string
	Actions     []SubAction

	// StepTimeout bounds the whole step. Zero uses the runner's
	// default.
	StepTimeout time.Duration
}
