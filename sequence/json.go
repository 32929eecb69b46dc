package sequence

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/benchio/dutlink/proto"
)

// StepFileVersion is the only step file schema version this package
// reads and writes.
const StepFileVersion = "1.0"

// Step file errors.
var (
	// ErrBadVersion indicates a step file with a missing or
	// unsupported version field.
	ErrBadVersion = errors.New("sequence: unsupported step file version")
	// ErrBadAction indicates an action entry with an unknown type or
	// invalid parameters.
	ErrBadAction = errors.New("sequence: invalid action")
)

const (
	actionSetChannelVoltage = "setChannelVoltage"
	actionSetV4Voltage      = "setV4Voltage"
	actionOpenChannel       = "openChannel"
	actionStartDetection    = "startDetection"
	actionPauseDetection    = "pauseDetection"
	actionCheckCurrent      = "checkCurrent"
	actionPressKey          = "pressKey"
	actionDelay             = "delay"
	actionUserConfirm       = "userConfirm"
)

type jsonAction struct {
	Type             string  `json:"type"`
	Channel          int     `json:"channel,omitempty"`
	Volts            float64 `json:"volts,omitempty"`
	Key              int     `json:"key,omitempty"`
	DelayMs          int64   `json:"delayMs,omitempty"`
	CurrentThreshold float64 `json:"currentThreshold,omitempty"`
	IsUpperLimit     *bool   `json:"isUpperLimit,omitempty"`
	Message          string  `json:"message,omitempty"`
}

type jsonStep struct {
	ID            int          `json:"id"`
	Name          string       `json:"name"`
	Description   string       `json:"description,omitempty"`
	StepTimeoutMs int64        `json:"stepTimeoutMs,omitempty"`
	Actions       []jsonAction `json:"actions"`
}

type stepFile struct {
	Version string     `json:"version"`
	Steps   []jsonStep `json:"steps"`
}

// LoadSteps reads a step program from JSON. It rejects unknown schema
// versions and unknown action types.
func LoadSteps(r io.Reader) ([]Step, error) {
	var file stepFile
	dec := json.NewDecoder(r)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("sequence: decode step file: %w", err)
	}

	if file.Version != StepFileVersion {
		return nil, fmt.Errorf("%w: %q", ErrBadVersion, file.Version)
	}

	steps := make([]Step, 0, len(file.Steps))
	for si, js := range file.Steps {
		step := Step{
			ID:          js.ID,
			Name:        js.Name,
			Description: js.Description,
			StepTimeout: time.Duration(js.StepTimeoutMs) * time.Millisecond,
			Actions:     make([]SubAction, 0, len(js.Actions)),
		}
		for ai, ja := range js.Actions {
			action, err := decodeAction(ja)
			if err != nil {
				return nil, fmt.Errorf("step %d action %d: %w", si, ai, err)
			}
			step.Actions = append(step.Actions, action)
		}
		steps = append(steps, step)
	}

	return steps, nil
}

func decodeAction(ja jsonAction) (SubAction, error) {
	switch ja.Type {
	case actionSetChannelVoltage:
		return SetChannelVoltage(ja.Channel, ja.Volts), nil
	case actionSetV4Voltage:
		return SetV4Voltage(ja.Volts), nil
	case actionOpenChannel:
		return OpenChannel(ja.Channel), nil
	case actionStartDetection:
		return StartDetection(), nil
	case actionPauseDetection:
		return PauseDetection(), nil
	case actionCheckCurrent:
		// Absent isUpperLimit means upper-bound check.
		upper := true
		if ja.IsUpperLimit != nil {
			upper = *ja.IsUpperLimit
		}
		return CheckCurrent(ja.CurrentThreshold, upper), nil
	case actionPressKey:
		if ja.Key < 0 || ja.Key > 0xFF {
			return SubAction{}, fmt.Errorf("%w: key code %d out of range", ErrBadAction, ja.Key)
		}
		return PressKey(proto.KeyCode(ja.Key)), nil
	case actionDelay:
		if ja.DelayMs < 0 {
			return SubAction{}, fmt.Errorf("%w: negative delay %d", ErrBadAction, ja.DelayMs)
		}
		return Delay(time.Duration(ja.DelayMs) * time.Millisecond), nil
	case actionUserConfirm:
		return UserConfirm(ja.Message), nil
	default:
		return SubAction{}, fmt.Errorf("%w: unknown action type %q", ErrBadAction, ja.Type)
	}
}

// SaveSteps writes a step program as indented JSON in the current
// schema version.
func SaveSteps(w io.Writer, steps []Step) error {
	file := stepFile{
		Version: StepFileVersion,
		Steps:   make([]jsonStep, 0, len(steps)),
	}
	for _, step := range steps {
		js := jsonStep{
			ID:            step.ID,
			Name:          step.Name,
			Description:   step.Description,
			StepTimeoutMs: step.StepTimeout.Milliseconds(),
			Actions:       make([]jsonAction, 0, len(step.Actions)),
		}
		for _, action := range step.Actions {
			ja, err := encodeAction(action)
			if err != nil {
				return err
			}
			js.Actions = append(js.Actions, ja)
		}
		file.Steps = append(file.Steps, js)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(&file); err != nil {
		return fmt.Errorf("sequence: encode step file: %w", err)
	}
	return nil
}

func encodeAction(a SubAction) (jsonAction, error) {
	switch a.Kind {
	case KindSetChannelVoltage:
		return jsonAction{Type: actionSetChannelVoltage, Channel: a.Channel, Volts: a.Volts}, nil
	case KindSetV4Voltage:
		return jsonAction{Type: actionSetV4Voltage, Volts: a.Volts}, nil
	case KindOpenChannel:
		return jsonAction{Type: actionOpenChannel, Channel: a.Channel}, nil
	case KindStartDetection:
		return jsonAction{Type: actionStartDetection}, nil
	case KindPauseDetection:
		return jsonAction{Type: actionPauseDetection}, nil
	case KindCheckCurrent:
		upper := a.IsUpperLimit
		return jsonAction{Type: actionCheckCurrent, CurrentThreshold: a.Threshold, IsUpperLimit: &upper}, nil
	case KindPressKey:
		return jsonAction{Type: actionPressKey, Key: int(a.Key)}, nil
	case KindDelay:
		return jsonAction{Type: actionDelay, DelayMs: a.Delay.Milliseconds()}, nil
	case KindUserConfirm:
		return jsonAction{Type: actionUserConfirm, Message: a.Message}, nil
	default:
		return jsonAction{}, fmt.Errorf("%w: unknown kind %d", ErrBadAction, int(a.Kind))
	}
}
