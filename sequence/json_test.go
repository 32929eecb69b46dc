package sequence

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benchio/dutlink/proto"
)

func TestLoadSteps(t *testing.T) {
	input := `{
	  "version": "1.0",
	  "steps": [
	    {
	      "id": 1,
	      "name": "power rail check",
	      "description": "bring up V1 and verify leakage",
	      "stepTimeoutMs": 30000,
	      "actions": [
	        {"type": "setChannelVoltage", "channel": 1, "volts": 2.2},
	        {"type": "setV4Voltage", "volts": 3.2},
	        {"type": "openChannel", "channel": 1},
	        {"type": "startDetection"},
	        {"type": "checkCurrent", "currentThreshold": 5.0, "isUpperLimit": true},
	        {"type": "pauseDetection"},
	        {"type": "pressKey", "key": 3},
	        {"type": "delay", "delayMs": 500},
	        {"type": "userConfirm", "message": "LED lit?"}
	      ]
	    }
	  ]
	}`

	steps, err := LoadSteps(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, steps, 1)

	step := steps[0]
	assert.Equal(t, 1, step.ID)
	assert.Equal(t, "power rail check", step.Name)
	assert.Equal(t, 30*time.Second, step.StepTimeout)
	require.Len(t, step.Actions, 9)

	assert.Equal(t, SetChannelVoltage(1, 2.2), step.Actions[0])
	assert.Equal(t, SetV4Voltage(3.2), step.Actions[1])
	assert.Equal(t, OpenChannel(1), step.Actions[2])
	assert.Equal(t, StartDetection(), step.Actions[3])
	assert.Equal(t, CheckCurrent(5.0, true), step.Actions[4])
	assert.Equal(t, PauseDetection(), step.Actions[5])
	assert.Equal(t, PressKey(proto.KeyPowerConfirm), step.Actions[6])
	assert.Equal(t, Delay(500*time.Millisecond), step.Actions[7])
	assert.Equal(t, UserConfirm("LED lit?"), step.Actions[8])
}

func TestLoadSteps_DefaultUpperLimit(t *testing.T) {
	input := `{
	  "version": "1.0",
	  "steps": [
	    {"name": "check", "actions": [
	      {"type": "checkCurrent", "currentThreshold": 1.5}
	    ]}
	  ]
	}`

	steps, err := LoadSteps(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, steps[0].Actions, 1)
	assert.True(t, steps[0].Actions[0].IsUpperLimit)
}

func TestLoadSteps_BadVersion(t *testing.T) {
	_, err := LoadSteps(strings.NewReader(`{"version": "2.0", "steps": []}`))
	require.ErrorIs(t, err, ErrBadVersion)

	_, err = LoadSteps(strings.NewReader(`{"steps": []}`))
	require.ErrorIs(t, err, ErrBadVersion)
}

func TestLoadSteps_BadAction(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{
			name:  "unknown type",
			input: `{"version":"1.0","steps":[{"name":"s","actions":[{"type":"reboot"}]}]}`,
		},
		{
			name:  "negative delay",
			input: `{"version":"1.0","steps":[{"name":"s","actions":[{"type":"delay","delayMs":-5}]}]}`,
		},
		{
			name:  "key out of range",
			input: `{"version":"1.0","steps":[{"name":"s","actions":[{"type":"pressKey","key":300}]}]}`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadSteps(strings.NewReader(tc.input))
			require.ErrorIs(t, err, ErrBadAction)
		})
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	steps := []Step{
		{
			ID:          1,
			Name:        "bringup",
			Description: "rail bringup and leakage",
			StepTimeout: 45 * time.Second,
			Actions: []SubAction{
				SetChannelVoltage(2, 3.3),
				OpenChannel(2),
				StartDetection(),
				CheckCurrent(2.5, false),
				PauseDetection(),
			},
		},
		{
			ID:   2,
			Name: "operator check",
			Actions: []SubAction{
				PressKey(proto.KeySw3),
				Delay(250 * time.Millisecond),
				UserConfirm("display on?"),
			},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, SaveSteps(&buf, steps))

	loaded, err := LoadSteps(&buf)
	require.NoError(t, err)
	assert.Equal(t, steps, loaded)
}
