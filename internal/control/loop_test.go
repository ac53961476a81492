package control

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/nerrad567/devcontrol/internal/device"
	"github.com/nerrad567/devcontrol/internal/infrastructure/mqtt"
	"github.com/nerrad567/devcontrol/internal/operator"
)

var errDisk = errors.New("disk I/O error")

type fakeStore struct {
	txs       int
	rollbacks int
}

func (s *fakeStore) InTx(_ context.Context, fn func(device.Registry) error) error {
	s.txs++
	if err := fn(nil); err != nil {
		s.rollbacks++
		return err
	}
	return nil
}

type fakeCoordinator struct {
	connects int
	messages []string
	err      error
}

func (c *fakeCoordinator) HandleConnect(context.Context, device.Registry) error {
	c.connects++
	return c.err
}

func (c *fakeCoordinator) HandleMessage(_ context.Context, _ device.Registry, topic string, payload []byte) error {
	c.messages = append(c.messages, topic+" "+string(payload))
	return c.err
}

// fakeOperator records lines, fails those listed in errs and panics on "boom".
type fakeOperator struct {
	lines []string
	errs  map[string]error
}

func (o *fakeOperator) Execute(_ context.Context, _ device.Registry, line string) error {
	o.lines = append(o.lines, line)
	if line == "boom" {
		panic("operator exploded")
	}
	return o.errs[line]
}

type fakeCheck struct{ err error }

func (c *fakeCheck) HealthCheck(context.Context) error { return c.err }

type logEntry struct {
	level string
	msg   string
	args  []any
}

// recordingLogger keeps every entry and signals each message on seen.
type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
	seen    chan string
}

func newRecordingLogger() *recordingLogger {
	return &recordingLogger{seen: make(chan string, 100)}
}

func (l *recordingLogger) log(level, msg string, args []any) {
	l.mu.Lock()
	l.entries = append(l.entries, logEntry{level, msg, args})
	l.mu.Unlock()
	select {
	case l.seen <- msg:
	default:
	}
}

func (l *recordingLogger) Debug(msg string, args ...any) { l.log("debug", msg, args) }
func (l *recordingLogger) Info(msg string, args ...any)  { l.log("info", msg, args) }
func (l *recordingLogger) Warn(msg string, args ...any)  { l.log("warn", msg, args) }
func (l *recordingLogger) Error(msg string, args ...any) { l.log("error", msg, args) }

func (l *recordingLogger) messages(level string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, e := range l.entries {
		if e.level == level {
			out = append(out, e.msg)
		}
	}
	return out
}

func (l *recordingLogger) waitFor(t *testing.T, msg string) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case got := <-l.seen:
			if got == msg {
				return
			}
		case <-timeout:
			t.Fatalf("log message %q never appeared", msg)
		}
	}
}

type harness struct {
	loop   *Loop
	store  *fakeStore
	coord  *fakeCoordinator
	op     *fakeOperator
	check  *fakeCheck
	clock  *clockwork.FakeClock
	logger *recordingLogger
	diag   *bytes.Buffer
	broker *bytes.Buffer
}

func newHarness() *harness {
	h := &harness{
		store:  &fakeStore{},
		coord:  &fakeCoordinator{},
		op:     &fakeOperator{errs: map[string]error{}},
		check:  &fakeCheck{},
		clock:  clockwork.NewFakeClock(),
		logger: newRecordingLogger(),
		diag:   &bytes.Buffer{},
		broker: &bytes.Buffer{},
	}
	h.loop = New(Config{PollTimeout: 30 * time.Second, ErrorBackoff: 10 * time.Second}, Deps{
		Coordinator: h.coord,
		Operator:    h.op,
		Store:       h.store,
		Checks:      map[string]HealthChecker{"database": h.check},
		BrokerLog:   h.broker,
		Diagnostics: h.diag,
		Clock:       h.clock,
		Logger:      h.logger,
	})
	return h
}

func lines(values ...string) <-chan string {
	ch := make(chan string, len(values))
	for _, v := range values {
		ch <- v
	}
	return ch
}

func events(values ...mqtt.Event) <-chan mqtt.Event {
	ch := make(chan mqtt.Event, len(values))
	for _, v := range values {
		ch <- v
	}
	return ch
}

func TestNew_Defaults(t *testing.T) {
	l := New(Config{}, Deps{})

	if l.cfg.PollTimeout != 30*time.Second {
		t.Errorf("PollTimeout = %v, want 30s", l.cfg.PollTimeout)
	}
	if l.cfg.ErrorBackoff != 10*time.Second {
		t.Errorf("ErrorBackoff = %v, want 10s", l.cfg.ErrorBackoff)
	}
	if l.clock == nil || l.logger == nil || l.diagnostics == nil {
		t.Error("New() left a nil collaborator")
	}
}

func TestStep_OperatorLine(t *testing.T) {
	h := newHarness()
	in := Inputs{Lines: lines("ping kitchen")}

	done, err := h.loop.step(context.Background(), &in)
	if done || err != nil {
		t.Fatalf("step() = %v, %v", done, err)
	}
	if !slices.Equal(h.op.lines, []string{"ping kitchen"}) {
		t.Errorf("lines = %q", h.op.lines)
	}
	if h.store.txs != 1 {
		t.Errorf("transactions = %d, want 1", h.store.txs)
	}
}

func TestStep_OperatorErrors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantRetry bool
	}{
		{"usage", fmt.Errorf("%w: wrong number of arguments", operator.ErrUsage), false},
		{"unknown device", fmt.Errorf("resolving 'x': %w", device.ErrDeviceNotFound), false},
		{"publish", fmt.Errorf("publishing: %w", mqtt.ErrNotConnected), false},
		{"store", errDisk, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			h.op.errs["del kitchen"] = tt.err
			in := Inputs{Lines: lines("del kitchen")}

			_, err := h.loop.step(context.Background(), &in)
			if (err != nil) != tt.wantRetry {
				t.Fatalf("step() error = %v, want backoff %v", err, tt.wantRetry)
			}
			if tt.wantRetry && !errors.Is(err, tt.err) {
				t.Errorf("step() error = %v, want it to wrap %v", err, tt.err)
			}
			if h.store.rollbacks != 1 {
				t.Errorf("rollbacks = %d, want 1", h.store.rollbacks)
			}
			if !strings.HasPrefix(h.diag.String(), "Error processing line: ") {
				t.Errorf("diagnostics = %q", h.diag.String())
			}
		})
	}
}

func TestStep_BusEvents(t *testing.T) {
	h := newHarness()
	in := Inputs{Events: events(
		mqtt.Event{Kind: mqtt.EventConnected},
		mqtt.Event{Kind: mqtt.EventMessage, Topic: "u1/lobby", Payload: []byte("hello")},
		mqtt.Event{Kind: mqtt.EventConnectionLost, Err: errors.New("EOF")},
	)}

	for range 3 {
		if _, err := h.loop.step(context.Background(), &in); err != nil {
			t.Fatalf("step() error = %v", err)
		}
	}

	if h.coord.connects != 1 {
		t.Errorf("connects = %d, want 1", h.coord.connects)
	}
	if !slices.Equal(h.coord.messages, []string{"u1/lobby hello"}) {
		t.Errorf("messages = %q", h.coord.messages)
	}
	if h.store.txs != 2 {
		t.Errorf("transactions = %d, want one per handled event", h.store.txs)
	}
	if !slices.Contains(h.logger.messages("warn"), "bus connection lost") {
		t.Errorf("warnings = %q", h.logger.messages("warn"))
	}
}

func TestStep_MessageErrors(t *testing.T) {
	h := newHarness()
	h.coord.err = fmt.Errorf("u1: %w", device.ErrDeviceNotFound)
	in := Inputs{Events: events(mqtt.Event{Kind: mqtt.EventMessage, Topic: "u1/admin", Payload: []byte{0xff}})}

	if _, err := h.loop.step(context.Background(), &in); err != nil {
		t.Fatalf("step() error = %v, want request error absorbed", err)
	}
	if !slices.Contains(h.logger.messages("warn"), "device message rejected") {
		t.Errorf("warnings = %q", h.logger.messages("warn"))
	}

	h.coord.err = errDisk
	in = Inputs{Events: events(mqtt.Event{Kind: mqtt.EventMessage, Topic: "u1/admin", Payload: []byte("status on")})}
	if _, err := h.loop.step(context.Background(), &in); !errors.Is(err, errDisk) {
		t.Errorf("step() error = %v, want store failure", err)
	}
}

func TestStep_BrokerLines(t *testing.T) {
	h := newHarness()
	ch := make(chan string, 1)
	ch <- "mosquitto version 2.0.18 running"
	close(ch)
	in := Inputs{BrokerLines: ch}

	for range 2 {
		if _, err := h.loop.step(context.Background(), &in); err != nil {
			t.Fatalf("step() error = %v", err)
		}
	}

	if got := h.broker.String(); got != "mosquitto version 2.0.18 running\n" {
		t.Errorf("broker log = %q", got)
	}
	if in.BrokerLines != nil {
		t.Error("closed broker channel still selected")
	}
}

func TestStep_PanicRecovered(t *testing.T) {
	h := newHarness()
	in := Inputs{Lines: lines("boom")}

	done, err := h.loop.step(context.Background(), &in)
	if done {
		t.Fatal("step() reported done after a panic")
	}
	if !errors.Is(err, errPanic) {
		t.Fatalf("step() error = %v, want errPanic", err)
	}
	if !slices.Contains(h.logger.messages("error"), "panic recovered in control loop") {
		t.Errorf("errors = %q", h.logger.messages("error"))
	}
}

func TestStep_PollTimeoutChecksHealth(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	idle := func() {
		t.Helper()
		result := make(chan error, 1)
		go func() {
			_, err := h.loop.step(ctx, &Inputs{})
			result <- err
		}()
		if err := h.clock.BlockUntilContext(ctx, 1); err != nil {
			t.Fatalf("poll timer never armed: %v", err)
		}
		h.clock.Advance(30 * time.Second)
		if err := <-result; err != nil {
			t.Fatalf("step() error = %v", err)
		}
	}

	h.check.err = errDisk
	idle()
	idle()
	h.check.err = nil
	idle()
	idle()

	if got := h.logger.messages("warn"); !slices.Equal(got, []string{"health check failed"}) {
		t.Errorf("warnings = %q, want one failure transition", got)
	}
	if got := h.logger.messages("info"); !slices.Equal(got, []string{"health check recovered"}) {
		t.Errorf("infos = %q, want one recovery transition", got)
	}
}

func TestRun_EndsOnOperatorEOF(t *testing.T) {
	h := newHarness()
	ch := make(chan string, 2)
	ch <- "devlist"
	close(ch)

	if err := h.loop.Run(context.Background(), Inputs{Lines: ch}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !slices.Equal(h.op.lines, []string{"devlist"}) {
		t.Errorf("lines = %q", h.op.lines)
	}
}

func TestRun_EndsOnCancel(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := h.loop.Run(ctx, Inputs{}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestRun_BacksOffAfterPanic(t *testing.T) {
	h := newHarness()
	ch := make(chan string, 2)
	ch <- "boom"

	finished := make(chan error, 1)
	go func() { finished <- h.loop.Run(context.Background(), Inputs{Lines: ch}) }()

	h.logger.waitFor(t, "control loop iteration failed, backing off")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("backoff never started: %v", err)
	}

	ch <- "devlist"
	close(ch)
	h.clock.Advance(10 * time.Second)

	select {
	case err := <-finished:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not resume after the backoff")
	}

	if !slices.Equal(h.op.lines, []string{"boom", "devlist"}) {
		t.Errorf("lines = %q, want the loop to carry on after the panic", h.op.lines)
	}
}
