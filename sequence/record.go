package sequence

import "time"

// ErrorType classifies a recorded step failure.
type ErrorType string

const (
	// ErrorCommandFailed marks a device command that was rejected
	// synchronously or confirmed with a failure.
	ErrorCommandFailed ErrorType = "command-failed"
	// ErrorAckTimeout marks a device command whose confirmation never
	// arrived.
	ErrorAckTimeout ErrorType = "ack-timeout"
	// ErrorMeasurementTimeout marks a current check that received no
	// measurement in time.
	ErrorMeasurementTimeout ErrorType = "measurement-timeout"
	// ErrorCurrentOutOfRange marks a current check whose measured
	// value violated the threshold.
	ErrorCurrentOutOfRange ErrorType = "current-out-of-range"
	// ErrorUserRejected marks an operator rejection at a confirmation
	// prompt.
	ErrorUserRejected ErrorType = "user-rejected"
	// ErrorStepTimeout marks a step that exceeded its overall timeout.
	ErrorStepTimeout ErrorType = "step-timeout"
)

// ErrorRecord captures one step failure with enough context to report
// it after the run. MeasuredValue and ThresholdValue are negative when
// the failure carries no measurement.
type ErrorRecord struct {
	StepIndex         int
	StepName          string
	ActionIndex       int
	ActionDescription string
	Type              ErrorType
	Detail            string
	MeasuredValue     float64
	ThresholdValue    float64
	Timestamp         time.Time
}
