package sequence

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benchio/dutlink/link"
	"github.com/benchio/dutlink/logger"
	"github.com/benchio/dutlink/proto"
)

// Runner errors.
var (
	// ErrAlreadyRunning indicates Start was called while a sequence is
	// in progress.
	ErrAlreadyRunning = errors.New("sequence: already running")
	// ErrNoSteps indicates Start was called with an empty step list.
	ErrNoSteps = errors.New("sequence: no steps")
)

// RunState is the runner's lifecycle state.
type RunState int32

const (
	// StateIdle means no sequence has started.
	StateIdle RunState = iota
	// StateRunning means the runner is between actions or inside a
	// delay.
	StateRunning
	// StatePaused means timers are banked and execution is suspended.
	StatePaused
	// StateWaitingForUser means an operator confirmation is pending.
	StateWaitingForUser
	// StateWaitingForMeasurement means a current check awaits a
	// measurement.
	StateWaitingForMeasurement
	// StateWaitingForAck means a device command awaits confirmation.
	StateWaitingForAck
	// StateWaitingForPauseAck means the stop-detection command sent on
	// pause awaits confirmation.
	StateWaitingForPauseAck
	// StateFinished means all steps ran to completion.
	StateFinished
	// StateAborted means the run was stopped or the connection was
	// lost.
	StateAborted
)

// String returns a human-readable state name.
func (s RunState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateWaitingForUser:
		return "waiting-for-user"
	case StateWaitingForMeasurement:
		return "waiting-for-measurement"
	case StateWaitingForAck:
		return "waiting-for-ack"
	case StateWaitingForPauseAck:
		return "waiting-for-pause-ack"
	case StateFinished:
		return "finished"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// ActionResult is the outcome of one executed action.
type ActionResult int

const (
	// ResultSuccess means the action completed.
	ResultSuccess ActionResult = iota
	// ResultFailed means the action failed synchronously or was
	// confirmed as failed.
	ResultFailed
	// ResultTimeout means the action timed out waiting for a
	// confirmation or measurement.
	ResultTimeout
	// ResultUserRejected means the operator rejected a confirmation
	// prompt.
	ResultUserRejected
)

// String returns a human-readable result name.
func (r ActionResult) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultFailed:
		return "failed"
	case ResultTimeout:
		return "timeout"
	case ResultUserRejected:
		return "user-rejected"
	default:
		return fmt.Sprintf("unknown(%d)", int(r))
	}
}

// Events carries the runner's notification callbacks. Nil fields are
// skipped. Callbacks run outside the runner's internal lock, so they
// may call back into the runner.
type Events struct {
	LogMessage          func(text string)
	StateChanged        func(state RunState)
	StepStarted         func(index int, step Step)
	StepFinished        func(index int, passed bool, message string)
	ActionStarted       func(stepIndex, actionIndex int, action SubAction)
	ActionFinished      func(stepIndex, actionIndex int, result ActionResult, detail string)
	UserConfirmRequired func(message string)
	CurrentCheckResult  func(stepIndex int, valueMilliAmp, threshold float64, passed bool)
	SequenceFinished    func(allPassed bool, passed, total int)
}

// DeviceLink is the subset of command link operations the runner
// drives.
type DeviceLink interface {
	SetV123Voltage(channel int, volts float64) error
	SetV4Voltage(volts float64) error
	OpenChannel(v123Channel int, v4Channel byte) error
	StartDetection() error
	StopDetection() error
	PressKey(key proto.KeyCode) error
	Cancel()
	OnConfirmed(fn link.ConfirmedHandler)
	OnStatusChanged(fn func(open bool))
	SubscribeMeasurements(fn link.MeasurementHandler) uint64
	Unsubscribe(id uint64)
}

var _ DeviceLink = (*link.Link)(nil)

// Runner executes a step program against a device link. All state
// transitions are serialized under one mutex; event callbacks run
// after the lock is released.
type Runner struct {
	cfg    *Config
	lk     DeviceLink
	logger logger.Logger
	events Events

	mu            sync.Mutex
	state         RunState
	prePauseState RunState
	steps         []Step
	results       []bool
	records       []ErrorRecord
	stepIndex     int
	actionIndex   int

	waitingForMeasurement bool
	pendingThreshold      float64
	pendingUpper          bool
	detectionActive       bool

	// schedGen invalidates inter-action gap callbacks superseded by a
	// pause, stop or restart.
	schedGen uint64

	notifyQ []func()

	stepTimer        *pausableTimer
	delayTimer       *pausableTimer
	measurementTimer *pausableTimer
	ackTimer         *pausableTimer
	pauseAckTimer    *pausableTimer

	measureSub uint64
}

// NewRunner creates a Runner bound to the given link. A nil cfg uses
// defaults. The runner claims the link's confirmation and status
// handler slots and subscribes to measurements.
func NewRunner(lk DeviceLink, cfg *Config, events Events) *Runner {
	if cfg == nil {
		cfg, _ = NewConfig()
	}

	r := &Runner{
		cfg:         cfg,
		lk:          lk,
		logger:      cfg.Logger(),
		events:      events,
		state:       StateIdle,
		actionIndex: -1,
	}

	r.stepTimer = newPausableTimer(r.onStepTimeout)
	r.delayTimer = newPausableTimer(r.onDelayFinished)
	r.measurementTimer = newPausableTimer(r.onMeasurementTimeout)
	r.ackTimer = newPausableTimer(r.onAckTimeout)
	r.pauseAckTimer = newPausableTimer(r.onPauseAckTimeout)

	lk.OnConfirmed(r.onCommandConfirmed)
	lk.OnStatusChanged(r.onLinkStatus)
	r.measureSub = lk.SubscribeMeasurements(r.onMeasurement)

	return r
}

// Close releases the measurement subscription and disarms all timers.
// The runner must not be used afterwards.
func (r *Runner) Close() {
	r.lk.Unsubscribe(r.measureSub)

	r.mu.Lock()
	r.schedGen++
	r.stopTimersLocked()
	r.pauseAckTimer.Stop()
	r.mu.Unlock()
}

// State returns the current lifecycle state.
func (r *Runner) State() RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Results returns the per-step pass flags recorded so far.
func (r *Runner) Results() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]bool, len(r.results))
	copy(out, r.results)
	return out
}

// ErrorRecords returns the failures recorded during the current or
// last run.
func (r *Runner) ErrorRecords() []ErrorRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ErrorRecord, len(r.records))
	copy(out, r.records)
	return out
}

// Start begins executing steps from the first action. It fails if a
// run is already in progress or steps is empty.
func (r *Runner) Start(steps []Step) error {
	r.mu.Lock()
	defer r.unlockAndNotify()

	switch r.state {
	case StateIdle, StateFinished, StateAborted:
	default:
		return ErrAlreadyRunning
	}
	if len(steps) == 0 {
		return ErrNoSteps
	}

	r.steps = make([]Step, len(steps))
	copy(r.steps, steps)
	r.results = make([]bool, len(steps))
	r.records = nil
	r.stepIndex = 0
	r.actionIndex = -1
	r.detectionActive = false
	r.waitingForMeasurement = false

	r.logLocked(fmt.Sprintf("sequence started: %d steps", len(steps)))
	r.setStateLocked(StateRunning)
	r.startStepLocked()
	return nil
}

// Pause suspends execution, banking the remaining time of every
// running timer. If continuous detection is active the runner sends a
// stop-detection command and waits for its confirmation before
// settling in the paused state.
func (r *Runner) Pause() {
	r.mu.Lock()
	defer r.unlockAndNotify()

	switch r.state {
	case StateRunning, StateWaitingForMeasurement, StateWaitingForAck:
	default:
		return
	}

	r.prePauseState = r.state
	r.schedGen++
	r.stepTimer.Pause()
	r.delayTimer.Pause()
	r.measurementTimer.Pause()
	r.ackTimer.Pause()
	if r.state == StateWaitingForMeasurement {
		r.waitingForMeasurement = false
	}

	r.logLocked("sequence pausing")

	if r.detectionActive {
		if err := r.lk.StopDetection(); err != nil {
			r.logLocked(fmt.Sprintf("stop detection on pause failed: %v", err))
			r.setStateLocked(StatePaused)
			return
		}
		r.setStateLocked(StateWaitingForPauseAck)
		r.pauseAckTimer.Start(r.cfg.AckTimeout())
		return
	}

	r.setStateLocked(StatePaused)
}

// Resume restores the pre-pause state and restarts banked timers. If
// continuous detection was active it re-sends the start-detection
// command without waiting for its confirmation. When no action-level
// timer was banked and the runner was between actions, the next action
// is scheduled immediately.
func (r *Runner) Resume() {
	r.mu.Lock()
	defer r.unlockAndNotify()

	if r.state != StatePaused {
		return
	}

	r.logLocked("sequence resuming")

	if r.detectionActive {
		if err := r.lk.StartDetection(); err != nil {
			r.logLocked(fmt.Sprintf("restart detection on resume failed: %v", err))
		}
	}

	if r.prePauseState == StateWaitingForMeasurement {
		r.waitingForMeasurement = true
	}
	r.setStateLocked(r.prePauseState)

	r.stepTimer.Resume()
	resumedDelay := r.delayTimer.Resume()
	resumedMeasurement := r.measurementTimer.Resume()
	resumedAck := r.ackTimer.Resume()

	if !resumedDelay && !resumedMeasurement && !resumedAck && r.prePauseState == StateRunning {
		r.scheduleLocked(0)
	}
}

// Stop aborts the run. Any pending command confirmation is cancelled
// and continuous detection is stopped.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.unlockAndNotify()

	switch r.state {
	case StateIdle, StateFinished, StateAborted:
		return
	}

	r.schedGen++
	r.stopTimersLocked()
	r.pauseAckTimer.Stop()
	r.waitingForMeasurement = false

	r.lk.Cancel()
	if r.detectionActive {
		if err := r.lk.StopDetection(); err != nil {
			r.logLocked(fmt.Sprintf("stop detection on abort failed: %v", err))
		}
		r.detectionActive = false
	}

	r.logLocked(fmt.Sprintf("sequence aborted at step %d", r.stepIndex))
	r.setStateLocked(StateAborted)
}

// ConfirmUser delivers the operator's decision for a pending
// confirmation prompt. A rejection fails the current step.
func (r *Runner) ConfirmUser(accepted bool) {
	r.mu.Lock()
	defer r.unlockAndNotify()

	if r.state != StateWaitingForUser {
		return
	}

	if accepted {
		r.emitActionFinishedLocked(ResultSuccess, "operator confirmed")
		r.setStateLocked(StateRunning)
		r.scheduleLocked(r.cfg.ActionDelay())
		return
	}

	r.recordErrorLocked(ErrorUserRejected, "operator rejected", -1, -1)
	r.emitActionFinishedLocked(ResultUserRejected, "operator rejected")
	r.failStepLocked("operator rejected confirmation")
}

// --- step and action progression -----------------------------------

func (r *Runner) startStepLocked() {
	step := r.steps[r.stepIndex]
	r.logLocked(fmt.Sprintf("step %d started: %s", r.stepIndex, step.Name))
	if fn := r.events.StepStarted; fn != nil {
		index := r.stepIndex
		r.queueLocked(func() { fn(index, step) })
	}

	timeout := step.StepTimeout
	if timeout <= 0 {
		timeout = r.cfg.StepTimeout()
	}
	r.stepTimer.Start(timeout)
	r.scheduleLocked(0)
}

// scheduleLocked arms a one-shot dispatch of the next action. The
// generation guard drops callbacks superseded by pause, stop or a new
// run.
func (r *Runner) scheduleLocked(after time.Duration) {
	r.schedGen++
	gen := r.schedGen
	time.AfterFunc(after, func() { r.dispatch(gen) })
}

func (r *Runner) dispatch(gen uint64) {
	r.mu.Lock()
	defer r.unlockAndNotify()

	if gen != r.schedGen || r.state != StateRunning {
		return
	}
	r.executeNextActionLocked()
}

func (r *Runner) executeNextActionLocked() {
	r.actionIndex++
	step := r.steps[r.stepIndex]
	if r.actionIndex >= len(step.Actions) {
		r.finishStepLocked(true, "all actions completed")
		return
	}

	action := step.Actions[r.actionIndex]
	r.logLocked(fmt.Sprintf("step %d action %d: %s", r.stepIndex, r.actionIndex, action.Describe()))
	if fn := r.events.ActionStarted; fn != nil {
		si, ai := r.stepIndex, r.actionIndex
		r.queueLocked(func() { fn(si, ai, action) })
	}

	switch action.Kind {
	case KindSetChannelVoltage, KindSetV4Voltage, KindOpenChannel,
		KindStartDetection, KindPauseDetection, KindPressKey:
		r.executeDeviceActionLocked(action)

	case KindCheckCurrent:
		r.pendingThreshold = action.Threshold
		r.pendingUpper = action.IsUpperLimit
		r.waitingForMeasurement = true
		r.setStateLocked(StateWaitingForMeasurement)
		r.measurementTimer.Start(r.cfg.MeasurementTimeout())

	case KindDelay:
		r.delayTimer.Start(action.Delay)

	case KindUserConfirm:
		r.setStateLocked(StateWaitingForUser)
		if fn := r.events.UserConfirmRequired; fn != nil {
			msg := action.Message
			r.queueLocked(func() { fn(msg) })
		}
	}
}

func (r *Runner) executeDeviceActionLocked(action SubAction) {
	var err error
	switch action.Kind {
	case KindSetChannelVoltage:
		err = r.lk.SetV123Voltage(action.Channel, action.Volts)
	case KindSetV4Voltage:
		err = r.lk.SetV4Voltage(action.Volts)
	case KindOpenChannel:
		err = r.lk.OpenChannel(action.Channel, action.V4Channel)
	case KindStartDetection:
		// Optimistic: rolled back if the send or confirmation fails.
		r.detectionActive = true
		err = r.lk.StartDetection()
	case KindPauseDetection:
		r.detectionActive = false
		err = r.lk.StopDetection()
	case KindPressKey:
		err = r.lk.PressKey(action.Key)
	}

	if err != nil {
		if action.Kind == KindStartDetection {
			r.detectionActive = false
		}
		r.recordErrorLocked(ErrorCommandFailed, fmt.Sprintf("send failed: %v", err), -1, -1)
		r.emitActionFinishedLocked(ResultFailed, err.Error())
		r.failStepLocked(fmt.Sprintf("command send failed: %v", err))
		return
	}

	r.setStateLocked(StateWaitingForAck)
	r.ackTimer.Start(r.cfg.AckTimeout())
}

func (r *Runner) failStepLocked(message string) {
	r.finishStepLocked(false, message)
}

func (r *Runner) finishStepLocked(passed bool, message string) {
	r.stopTimersLocked()
	r.waitingForMeasurement = false

	r.results[r.stepIndex] = passed
	r.logLocked(fmt.Sprintf("step %d finished: passed=%v (%s)", r.stepIndex, passed, message))
	if fn := r.events.StepFinished; fn != nil {
		index := r.stepIndex
		r.queueLocked(func() { fn(index, passed, message) })
	}

	r.stepIndex++
	r.actionIndex = -1
	if r.stepIndex >= len(r.steps) {
		r.finishSequenceLocked()
		return
	}

	r.setStateLocked(StateRunning)
	r.startStepLocked()
}

func (r *Runner) finishSequenceLocked() {
	r.stopTimersLocked()
	r.pauseAckTimer.Stop()

	passed := 0
	for _, ok := range r.results {
		if ok {
			passed++
		}
	}
	total := len(r.results)

	r.logLocked(fmt.Sprintf("sequence finished: %d/%d steps passed", passed, total))
	r.setStateLocked(StateFinished)
	if fn := r.events.SequenceFinished; fn != nil {
		r.queueLocked(func() { fn(passed == total, passed, total) })
	}
}

// stopTimersLocked disarms the step-scoped timers. The pause-ack timer
// is managed separately because it outlives step boundaries only
// during a pause handshake.
func (r *Runner) stopTimersLocked() {
	r.stepTimer.Stop()
	r.delayTimer.Stop()
	r.measurementTimer.Stop()
	r.ackTimer.Stop()
}

// --- timer and link callbacks ---------------------------------------

func (r *Runner) onStepTimeout() {
	r.mu.Lock()
	defer r.unlockAndNotify()

	switch r.state {
	case StateIdle, StateFinished, StateAborted:
		return
	}

	r.recordErrorLocked(ErrorStepTimeout, "step timeout", -1, -1)
	r.failStepLocked("step timeout")
}

func (r *Runner) onDelayFinished() {
	r.mu.Lock()
	defer r.unlockAndNotify()

	if r.state != StateRunning {
		return
	}

	r.emitActionFinishedLocked(ResultSuccess, "delay elapsed")
	r.scheduleLocked(0)
}

func (r *Runner) onMeasurementTimeout() {
	r.mu.Lock()
	defer r.unlockAndNotify()

	if !r.waitingForMeasurement || r.state != StateWaitingForMeasurement {
		return
	}
	r.waitingForMeasurement = false

	r.recordErrorLocked(ErrorMeasurementTimeout, "no measurement received", -1, r.pendingThreshold)
	r.emitActionFinishedLocked(ResultTimeout, "measurement timeout")
	r.failStepLocked("measurement timeout")
}

func (r *Runner) onAckTimeout() {
	r.mu.Lock()
	defer r.unlockAndNotify()

	if r.state != StateWaitingForAck {
		return
	}

	r.recordErrorLocked(ErrorAckTimeout, "confirmation timeout", -1, -1)
	r.emitActionFinishedLocked(ResultTimeout, "confirmation timeout")
	r.failStepLocked("confirmation timeout")
}

func (r *Runner) onPauseAckTimeout() {
	r.mu.Lock()
	defer r.unlockAndNotify()

	if r.state != StateWaitingForPauseAck {
		return
	}

	r.logLocked("pause stop-detection confirmation timed out")
	r.setStateLocked(StatePaused)
}

func (r *Runner) onCommandConfirmed(cmd proto.Command, ok bool, sent, response []byte) {
	r.mu.Lock()
	defer r.unlockAndNotify()

	switch r.state {
	case StateWaitingForPauseAck:
		r.pauseAckTimer.Stop()
		if !ok {
			r.logLocked(fmt.Sprintf("pause stop-detection failed: %s", cmd.Name))
		}
		r.setStateLocked(StatePaused)

	case StateWaitingForAck:
		r.ackTimer.Stop()
		if ok {
			r.emitActionFinishedLocked(ResultSuccess, "confirmed")
			r.setStateLocked(StateRunning)
			r.scheduleLocked(r.cfg.ActionDelay())
			return
		}
		if cmd.ID == proto.CmdStartDetection {
			r.detectionActive = false
		}
		r.recordErrorLocked(ErrorCommandFailed, fmt.Sprintf("command %s not confirmed", cmd.Name), -1, -1)
		r.emitActionFinishedLocked(ResultFailed, "confirmation failed")
		r.failStepLocked(fmt.Sprintf("command failed: %s", cmd.Name))

	default:
		// Stray confirmation, e.g. the ack of a detection restart
		// issued on resume.
	}
}

func (r *Runner) onMeasurement(m link.Measurement) {
	r.mu.Lock()
	defer r.unlockAndNotify()

	if !r.waitingForMeasurement || r.state != StateWaitingForMeasurement {
		return
	}
	r.waitingForMeasurement = false
	r.measurementTimer.Stop()

	value := m.ValueMilliAmp
	threshold := r.pendingThreshold
	passed := value <= threshold
	if !r.pendingUpper {
		passed = value >= threshold
	}

	if fn := r.events.CurrentCheckResult; fn != nil {
		index := r.stepIndex
		r.queueLocked(func() { fn(index, value, threshold, passed) })
	}

	if passed {
		r.emitActionFinishedLocked(ResultSuccess, fmt.Sprintf("%.3f mA", value))
		r.setStateLocked(StateRunning)
		r.scheduleLocked(r.cfg.ActionDelay())
		return
	}

	r.recordErrorLocked(ErrorCurrentOutOfRange,
		fmt.Sprintf("measured %.3f mA against %.3f mA", value, threshold), value, threshold)
	r.emitActionFinishedLocked(ResultFailed, fmt.Sprintf("%.3f mA out of range", value))
	r.failStepLocked("current out of range")
}

func (r *Runner) onLinkStatus(open bool) {
	if open {
		return
	}

	r.mu.Lock()
	defer r.unlockAndNotify()

	switch r.state {
	case StateIdle, StateFinished, StateAborted:
		return
	}

	r.schedGen++
	r.stopTimersLocked()
	r.pauseAckTimer.Stop()
	r.waitingForMeasurement = false
	r.detectionActive = false

	r.logLocked("connection lost, aborting sequence")
	r.setStateLocked(StateAborted)
}

// --- event plumbing -------------------------------------------------

// unlockAndNotify releases the lock and runs the queued event
// callbacks in order. It must be deferred right after locking.
func (r *Runner) unlockAndNotify() {
	q := r.notifyQ
	r.notifyQ = nil
	r.mu.Unlock()

	for _, fn := range q {
		fn()
	}
}

func (r *Runner) queueLocked(fn func()) {
	r.notifyQ = append(r.notifyQ, fn)
}

func (r *Runner) setStateLocked(s RunState) {
	if s == r.state {
		return
	}
	r.logger.Debug("state changed", "from", r.state, "to", s)
	r.state = s
	if fn := r.events.StateChanged; fn != nil {
		r.queueLocked(func() { fn(s) })
	}
}

func (r *Runner) logLocked(msg string) {
	r.logger.Info(msg)
	if fn := r.events.LogMessage; fn != nil {
		r.queueLocked(func() { fn(msg) })
	}
}

func (r *Runner) emitActionFinishedLocked(result ActionResult, detail string) {
	if fn := r.events.ActionFinished; fn != nil {
		si, ai := r.stepIndex, r.actionIndex
		r.queueLocked(func() { fn(si, ai, result, detail) })
	}
}

func (r *Runner) recordErrorLocked(typ ErrorType, detail string, measured, threshold float64) {
	step := r.steps[r.stepIndex]
	desc := ""
	if r.actionIndex >= 0 && r.actionIndex < len(step.Actions) {
		desc = step.Actions[r.actionIndex].Describe()
	}

	r.records = append(r.records, ErrorRecord{
		StepIndex:         r.stepIndex,
		StepName:          step.Name,
		ActionIndex:       r.actionIndex,
		ActionDescription: desc,
		Type:              typ,
		Detail:            detail,
		MeasuredValue:     measured,
		ThresholdValue:    threshold,
		Timestamp:         time.Now(),
	})

	r.logger.Warn("step error recorded",
		"step", r.stepIndex,
		"action", r.actionIndex,
		"type", string(typ),
		"detail", detail,
	)
}
