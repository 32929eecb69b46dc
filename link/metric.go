package link

import (
	"sync/atomic"
)

// Metrics contains atomic metrics for a command link. Metrics can be
// used as the value of a prometheus CounterFunc or GaugeFunc.
type Metrics struct {
	// CommandSendCount indicates the number of command transmissions,
	// retries included.
	CommandSendCount atomic.Uint64
	// CommandRetryCount indicates the number of retransmissions after
	// a confirmation timeout.
	CommandRetryCount atomic.Uint64
	// ConfirmOKCount indicates the number of commands resolved with a
	// matching confirmation.
	ConfirmOKCount atomic.Uint64
	// ConfirmFailCount indicates the number of commands resolved as
	// failed after exhausting retries.
	ConfirmFailCount atomic.Uint64
	// TelemetryFrameCount indicates the number of decoded telemetry
	// frames.
	TelemetryFrameCount atomic.Uint64
}

func (m *Metrics) incCommandSendCount() {
	m.CommandSendCount.Add(1)
}

func (m *Metrics) incCommandRetryCount() {
	m.CommandRetryCount.Add(1)
}

func (m *Metrics) incConfirmOKCount() {
	m.ConfirmOKCount.Add(1)
}

func (m *Metrics) incConfirmFailCount() {
	m.ConfirmFailCount.Add(1)
}

func (m *Metrics) addTelemetryFrameCount(n int) {
	m.TelemetryFrameCount.Add(uint64(n)) //nolint:gosec
}
