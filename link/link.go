// Package link implements the device command link: it turns one
// logical device operation into a wire transaction on the multidrop
// bus and resolves it exactly once.
//
// The link enforces a single outstanding command. While a command
// awaits its confirmation, incoming bytes accumulate in a receive
// buffer and are matched against the expected response pattern,
// tolerating interleaved telemetry frames from the external current
// meter. When no command is pending, every incoming byte feeds the
// telemetry decoder and decoded measurements fan out to subscribed
// observers.
package link

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/benchio/dutlink/logger"
	"github.com/benchio/dutlink/proto"
	"github.com/benchio/dutlink/transport"
)

// Sentinel errors for the command link.
var (
	ErrNotConnected   = errors.New("link: device not connected")
	ErrCommandPending = errors.New("link: another command awaits confirmation")
	ErrSendFailed     = errors.New("link: command send failed")
	ErrConfirmTimeout = errors.New("link: confirmation timeout, retries exhausted")
	ErrCancelled      = errors.New("link: pending command cancelled")
)

// State represents the link state.
type State int32

const (
	// StateIdle accepts a new command; incoming bytes feed the
	// telemetry decoder.
	StateIdle State = iota
	// StateAwaitingConfirmation has one command in flight; incoming
	// bytes accumulate for confirmation matching.
	StateAwaitingConfirmation
)

func (s State) String() string {
	if s == StateAwaitingConfirmation {
		return "awaiting-confirmation"
	}
	return "idle"
}

// ConfirmedHandler receives the resolution of a confirmed command,
// exactly once per command, outside the link's internal lock.
type ConfirmedHandler func(cmd proto.Command, ok bool, sent []byte, response []byte)

// Measurement is one decoded telemetry frame from the external
// current meter.
type Measurement struct {
	ValueMilliAmp float64
	Timestamp     time.Time
}

// MeasurementHandler receives decoded measurements in arrival order.
type MeasurementHandler func(m Measurement)

// pendingCommand is the single in-flight wire transaction. At most one
// instance is live at any time, owned exclusively by the Link.
type pendingCommand struct {
	cmd      proto.Command
	sent     []byte
	expected []byte
	recvBuf  []byte
	retries  int
}

// Link drives the device command protocol over a Transport. One Link
// owns one physical connection and its single outstanding-command
// slot.
type Link struct {
	cfg       *Config
	transport transport.Transport
	logger    logger.Logger
	metrics   Metrics

	mu        sync.Mutex
	pending   *pendingCommand
	telemetry proto.TelemetryDecoder
	timerGen  uint64
	timer     *time.Timer

	onConfirmed ConfirmedHandler
	onStatus    func(open bool)

	observers  *xsync.MapOf[uint64, MeasurementHandler]
	observerID atomic.Uint64
}

// NewLink creates a command link over the given transport. A nil cfg
// uses defaults. The link registers itself as the transport's byte
// and status receiver.
func NewLink(tr transport.Transport, cfg *Config) *Link {
	if cfg == nil {
		cfg, _ = NewConfig()
	}

	l := &Link{
		cfg:       cfg,
		transport: tr,
		logger:    cfg.Logger(),
		observers: xsync.NewMapOf[uint64, MeasurementHandler](),
	}

	tr.OnBytes(l.handleBytes)
	tr.OnStatusChanged(l.handleStatus)

	return l
}

// State returns the current link state.
func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.pending != nil {
		return StateAwaitingConfirmation
	}
	return StateIdle
}

// Connected reports whether the underlying transport is open.
func (l *Link) Connected() bool {
	return l.transport.IsOpen()
}

// Metrics returns the link's metrics.
func (l *Link) Metrics() *Metrics {
	return &l.metrics
}

// OnConfirmed registers the handler for command resolutions. Register
// before issuing commands; a resolution with no handler is dropped.
func (l *Link) OnConfirmed(fn ConfirmedHandler) {
	l.mu.Lock()
	l.onConfirmed = fn
	l.mu.Unlock()
}

// OnStatusChanged registers the receiver for transport open/close
// transitions, forwarded after the link's own disconnect handling.
func (l *Link) OnStatusChanged(fn func(open bool)) {
	l.mu.Lock()
	l.onStatus = fn
	l.mu.Unlock()
}

// SubscribeMeasurements registers an observer for decoded telemetry
// measurements and returns its subscription id.
func (l *Link) SubscribeMeasurements(fn MeasurementHandler) uint64 {
	id := l.observerID.Add(1)
	l.observers.Store(id, fn)

	return id
}

// Unsubscribe removes a measurement observer.
func (l *Link) Unsubscribe(id uint64) {
	l.observers.Delete(id)
}

// Cancel clears any pending command without resolving it. Used on
// disconnect or explicit abort; the confirmed handler is not invoked.
func (l *Link) Cancel() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cancelLocked()
}

func (l *Link) cancelLocked() {
	if l.pending == nil {
		return
	}

	l.logger.Debug("pending command dropped", "command", l.pending.cmd.Name, "reason", ErrCancelled)
	l.pending = nil
	l.stopTimerLocked()
}

// execute runs the single-command wire transaction: validate state,
// transmit address and payload, then await the confirmation unless the
// command is fire-and-forget.
func (l *Link) execute(cmd proto.Command) error {
	l.mu.Lock()

	if !l.transport.IsOpen() {
		l.mu.Unlock()
		return ErrNotConnected
	}

	if l.pending != nil {
		busy := l.pending.cmd.Name
		l.mu.Unlock()

		return fmt.Errorf("%w: %s", ErrCommandPending, busy)
	}

	if err := l.sendLocked(cmd.Payload); err != nil {
		l.mu.Unlock()
		return err
	}

	if cmd.FireAndForget() {
		l.logger.Info("command sent, no confirmation expected", "command", cmd.Name)
		l.mu.Unlock()

		return nil
	}

	l.pending = &pendingCommand{
		cmd:      cmd,
		sent:     cmd.Payload,
		expected: cmd.Expected,
	}
	l.armTimerLocked()

	l.logger.Info("awaiting confirmation",
		"command", cmd.Name,
		"sent", fmt.Sprintf("% X", cmd.Payload),
		"expected", fmt.Sprintf("% X", cmd.Expected))

	l.mu.Unlock()

	return nil
}

// sendLocked writes the address byte then the payload. Callers hold
// l.mu.
func (l *Link) sendLocked(payload []byte) error {
	if err := l.transport.WriteAddressByte(proto.DeviceAddress, l.cfg.WriteTimeout()); err != nil {
		return fmt.Errorf("%w: address byte: %w", ErrSendFailed, err)
	}

	if err := l.transport.WriteData(payload, l.cfg.WriteTimeout()); err != nil {
		return fmt.Errorf("%w: payload: %w", ErrSendFailed, err)
	}

	l.metrics.incCommandSendCount()

	return nil
}

// armTimerLocked (re)starts the confirmation timer. The generation
// counter invalidates callbacks from superseded timers.
func (l *Link) armTimerLocked() {
	l.timerGen++
	gen := l.timerGen

	if l.timer != nil {
		l.timer.Stop()
	}

	l.timer = time.AfterFunc(l.cfg.ConfirmTimeout(), func() {
		l.onConfirmTimeout(gen)
	})
}

func (l *Link) stopTimerLocked() {
	l.timerGen++
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}

// onConfirmTimeout handles a confirmation timer expiry: retransmit the
// identical bytes while retries remain, otherwise resolve failure.
func (l *Link) onConfirmTimeout(gen uint64) {
	l.mu.Lock()

	if gen != l.timerGen || l.pending == nil {
		l.mu.Unlock()
		return
	}

	p := l.pending

	if p.retries < l.cfg.MaxRetries() {
		p.retries++
		l.metrics.incCommandRetryCount()
		l.logger.Warn("confirmation timeout, retrying",
			"command", p.cmd.Name,
			"retry", p.retries,
			"max_retries", l.cfg.MaxRetries())

		if err := l.sendLocked(p.sent); err == nil {
			l.armTimerLocked()
			l.mu.Unlock()

			return
		}

		l.logger.Error("retry send failed", "command", p.cmd.Name)
		notify := l.resolveLocked(false, nil, ErrSendFailed)
		l.mu.Unlock()
		notify()

		return
	}

	notify := l.resolveLocked(false, nil, ErrConfirmTimeout)
	l.mu.Unlock()
	notify()
}

// resolveLocked clears the pending command and returns the handler
// invocation to run after releasing l.mu. Every command resolves at
// most once.
func (l *Link) resolveLocked(ok bool, response []byte, cause error) func() {
	p := l.pending
	l.pending = nil
	l.stopTimerLocked()

	if p == nil {
		return func() {}
	}

	if ok {
		l.metrics.incConfirmOKCount()
		l.logger.Info("command confirmed",
			"command", p.cmd.Name,
			"response", fmt.Sprintf("% X", response))
	} else {
		l.metrics.incConfirmFailCount()
		l.logger.Error("command confirmation failed",
			"command", p.cmd.Name,
			"error", cause)
	}

	handler := l.onConfirmed
	if handler == nil {
		return func() {}
	}

	cmd := p.cmd
	sent := p.sent

	return func() { handler(cmd, ok, sent, response) }
}

// handleBytes is the transport byte receiver. While a command is
// pending, bytes accumulate for confirmation matching; bytes after a
// match, and all bytes while idle, feed the telemetry decoder.
func (l *Link) handleBytes(data []byte) {
	l.mu.Lock()

	if l.pending == nil {
		values := l.telemetry.Feed(data)
		l.mu.Unlock()
		l.publish(values)

		return
	}

	p := l.pending
	p.recvBuf = append(p.recvBuf, data...)

	pos, ok := proto.MatchResponse(p.recvBuf, p.expected)
	if !ok {
		p.recvBuf = proto.TrimOverflow(p.recvBuf)
		l.mu.Unlock()

		return
	}

	matched := make([]byte, len(p.expected))
	copy(matched, p.recvBuf[pos:])
	rest := p.recvBuf[pos+len(p.expected):]

	notify := l.resolveLocked(true, matched, nil)
	values := l.telemetry.Feed(rest)
	l.mu.Unlock()

	notify()
	l.publish(values)
}

// handleStatus is the transport status receiver. Losing the port
// silently cancels any pending confirmation.
func (l *Link) handleStatus(open bool) {
	l.mu.Lock()
	if !open {
		l.cancelLocked()
		l.telemetry.Reset()
	}
	fn := l.onStatus
	l.mu.Unlock()

	if fn != nil {
		fn(open)
	}
}

// publish fans decoded measurements out to all observers.
func (l *Link) publish(values []float32) {
	if len(values) == 0 {
		return
	}

	l.metrics.addTelemetryFrameCount(len(values))
	now := time.Now()

	for _, v := range values {
		m := Measurement{ValueMilliAmp: float64(v), Timestamp: now}
		l.observers.Range(func(_ uint64, fn MeasurementHandler) bool {
			fn(m)
			return true
		})
	}
}
