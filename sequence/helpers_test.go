package sequence

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/benchio/dutlink/link"
	"github.com/benchio/dutlink/proto"
)

// fakeLink is an in-memory DeviceLink that records sent commands and
// lets tests drive confirmations and measurements by hand.
type fakeLink struct {
	mu        sync.Mutex
	confirmed link.ConfirmedHandler
	status    func(open bool)
	measurers map[uint64]link.MeasurementHandler
	nextSub   uint64
	sent      []proto.Command
	sendErr   error
	cancels   int
}

func newFakeLink() *fakeLink {
	return &fakeLink{measurers: make(map[uint64]link.MeasurementHandler)}
}

func (f *fakeLink) send(cmd proto.Command, err error) error {
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, cmd)
	return nil
}

func (f *fakeLink) SetV123Voltage(channel int, volts float64) error {
	cmd, err := proto.V123Voltage(channel, volts)
	return f.send(cmd, err)
}

func (f *fakeLink) SetV4Voltage(volts float64) error {
	cmd, err := proto.V4Voltage(volts)
	return f.send(cmd, err)
}

func (f *fakeLink) OpenChannel(v123Channel int, v4Channel byte) error {
	cmd, err := proto.ChannelOpen(v123Channel, v4Channel)
	return f.send(cmd, err)
}

func (f *fakeLink) StartDetection() error { return f.send(proto.StartDetection(), nil) }
func (f *fakeLink) StopDetection() error  { return f.send(proto.StopDetection(), nil) }

func (f *fakeLink) PressKey(key proto.KeyCode) error {
	cmd, err := proto.PressKey(key)
	return f.send(cmd, err)
}

func (f *fakeLink) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
}

func (f *fakeLink) OnConfirmed(fn link.ConfirmedHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmed = fn
}

func (f *fakeLink) OnStatusChanged(fn func(open bool)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = fn
}

func (f *fakeLink) SubscribeMeasurements(fn link.MeasurementHandler) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextSub++
	f.measurers[f.nextSub] = fn
	return f.nextSub
}

func (f *fakeLink) Unsubscribe(id uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.measurers, id)
}

func (f *fakeLink) setSendErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

func (f *fakeLink) sentCommands() []proto.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]proto.Command, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeLink) cancelCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancels
}

// confirmLast delivers a confirmation for the most recently sent
// command.
func (f *fakeLink) confirmLast(t *testing.T, ok bool) {
	t.Helper()
	f.mu.Lock()
	require.NotEmpty(t, f.sent, "no command to confirm")
	cmd := f.sent[len(f.sent)-1]
	fn := f.confirmed
	f.mu.Unlock()

	require.NotNil(t, fn)
	fn(cmd, ok, cmd.Payload, cmd.Expected)
}

// measure fans a measurement out to every subscriber.
func (f *fakeLink) measure(value float64) {
	f.mu.Lock()
	handlers := make([]link.MeasurementHandler, 0, len(f.measurers))
	for _, fn := range f.measurers {
		handlers = append(handlers, fn)
	}
	f.mu.Unlock()

	m := link.Measurement{ValueMilliAmp: value, Timestamp: time.Now()}
	for _, fn := range handlers {
		fn(m)
	}
}

// lose reports a closed connection to the runner.
func (f *fakeLink) lose(t *testing.T) {
	t.Helper()
	f.mu.Lock()
	fn := f.status
	f.mu.Unlock()
	require.NotNil(t, fn)
	fn(false)
}

type stepResult struct {
	index   int
	passed  bool
	message string
}

type seqResult struct {
	allPassed bool
	passed    int
	total     int
}

type actionEvent struct {
	stepIndex   int
	actionIndex int
	result      ActionResult
	detail      string
}

// recorder channels every runner event the tests care about.
type recorder struct {
	states       chan RunState
	stepDone     chan stepResult
	seqDone      chan seqResult
	actionStart  chan int
	actionDone   chan actionEvent
	userPrompt   chan string
	currentCheck chan bool
}

func newRecorder() *recorder {
	return &recorder{
		states:       make(chan RunState, 64),
		stepDone:     make(chan stepResult, 16),
		seqDone:      make(chan seqResult, 4),
		actionStart:  make(chan int, 64),
		actionDone:   make(chan actionEvent, 64),
		userPrompt:   make(chan string, 4),
		currentCheck: make(chan bool, 16),
	}
}

func (rec *recorder) events() Events {
	return Events{
		StateChanged: func(s RunState) { rec.states <- s },
		StepFinished: func(index int, passed bool, message string) {
			rec.stepDone <- stepResult{index: index, passed: passed, message: message}
		},
		SequenceFinished: func(allPassed bool, passed, total int) {
			rec.seqDone <- seqResult{allPassed: allPassed, passed: passed, total: total}
		},
		ActionStarted: func(_, ai int, _ SubAction) { rec.actionStart <- ai },
		ActionFinished: func(si, ai int, result ActionResult, detail string) {
			rec.actionDone <- actionEvent{stepIndex: si, actionIndex: ai, result: result, detail: detail}
		},
		UserConfirmRequired: func(msg string) { rec.userPrompt <- msg },
		CurrentCheckResult: func(_ int, _, _ float64, passed bool) {
			rec.currentCheck <- passed
		},
	}
}

const eventWait = 2 * time.Second

// waitState blocks until the runner reports the wanted state.
func (rec *recorder) waitState(t *testing.T, want RunState) {
	t.Helper()
	deadline := time.After(eventWait)
	for {
		select {
		case s := <-rec.states:
			if s == want {
				return
			}
		case <-deadline:
			require.FailNowf(t, "state not reached", "waiting for %v", want)
		}
	}
}

func (rec *recorder) waitStep(t *testing.T) stepResult {
	t.Helper()
	select {
	case sr := <-rec.stepDone:
		return sr
	case <-time.After(eventWait):
		require.FailNow(t, "no step result")
	}
	return stepResult{}
}

func (rec *recorder) waitSequence(t *testing.T) seqResult {
	t.Helper()
	select {
	case sr := <-rec.seqDone:
		return sr
	case <-time.After(eventWait):
		require.FailNow(t, "sequence did not finish")
	}
	return seqResult{}
}

// waitActionStart blocks until the runner begins the wanted action
// index within the current step.
func (rec *recorder) waitActionStart(t *testing.T, want int) {
	t.Helper()
	deadline := time.After(eventWait)
	for {
		select {
		case ai := <-rec.actionStart:
			if ai == want {
				return
			}
		case <-deadline:
			require.FailNowf(t, "action not started", "waiting for action %d", want)
		}
	}
}

func (rec *recorder) waitAction(t *testing.T) actionEvent {
	t.Helper()
	select {
	case ae := <-rec.actionDone:
		return ae
	case <-time.After(eventWait):
		require.FailNow(t, "no action result")
	}
	return actionEvent{}
}

// newTestRunner wires a Runner to a fake link with fast timings.
func newTestRunner(t *testing.T, opts ...ConfigOption) (*Runner, *fakeLink, *recorder) {
	t.Helper()

	base := []ConfigOption{
		WithActionDelay(time.Millisecond),
		WithAckTimeout(200 * time.Millisecond),
		WithMeasurementTimeout(200 * time.Millisecond),
		WithStepTimeout(5 * time.Second),
	}
	cfg, err := NewConfig(append(base, opts...)...)
	require.NoError(t, err)

	fl := newFakeLink()
	rec := newRecorder()
	r := NewRunner(fl, cfg, rec.events())
	t.Cleanup(r.Close)

	return r, fl, rec
}
