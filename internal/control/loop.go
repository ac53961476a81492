package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"time"
	"unicode/utf8"

	"github.com/jonboulle/clockwork"

	"github.com/nerrad567/devcontrol/internal/device"
	"github.com/nerrad567/devcontrol/internal/infrastructure/mqtt"
	"github.com/nerrad567/devcontrol/internal/operator"
	"github.com/nerrad567/devcontrol/internal/schedule"
	"github.com/nerrad567/devcontrol/internal/session"
)

// Coordinator handles bus traffic. session.Coordinator implements it.
type Coordinator interface {
	HandleConnect(ctx context.Context, reg device.Registry) error
	HandleMessage(ctx context.Context, reg device.Registry, topic string, payload []byte) error
}

// Operator runs one operator line. operator.Handler implements it.
type Operator interface {
	Execute(ctx context.Context, reg device.Registry, line string) error
}

// Store runs work in one registry transaction.
// device.SQLiteRepository implements it.
type Store interface {
	InTx(ctx context.Context, fn func(device.Registry) error) error
}

// HealthChecker is probed on every idle poll.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Logger defines the logging interface used by the Loop.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config tunes the loop.
type Config struct {
	// PollTimeout is the longest the loop waits for input before running
	// health checks. Keep it below the MQTT keepalive.
	PollTimeout time.Duration

	// ErrorBackoff is the pause after a panic or store failure.
	ErrorBackoff time.Duration
}

// Deps are the collaborators of a Loop. Coordinator, Operator and Store
// are required.
type Deps struct {
	Coordinator Coordinator
	Operator    Operator
	Store       Store

	// Checks are probed on idle polls, keyed by the name used in logs.
	Checks map[string]HealthChecker

	// BrokerLog receives the managed broker's output lines. Nil logs them
	// at debug level instead.
	BrokerLog io.Writer

	// Diagnostics receives operator-facing error lines. Nil discards them.
	Diagnostics io.Writer

	Clock  clockwork.Clock
	Logger Logger
}

// Inputs are the channels the loop selects over.
type Inputs struct {
	// Lines carries operator lines. Closing it ends the loop.
	Lines <-chan string

	// Events is the MQTT client's event stream.
	Events <-chan mqtt.Event

	// BrokerLines carries the managed broker's output. Nil when the broker
	// runs externally.
	BrokerLines <-chan string
}

// Loop is the single consumer of operator input and bus traffic. Every
// registry change and publish happens on the goroutine running Run.
type Loop struct {
	cfg         Config
	coord       Coordinator
	op          Operator
	store       Store
	checks      map[string]HealthChecker
	brokerLog   io.Writer
	diagnostics io.Writer
	clock       clockwork.Clock
	logger      Logger

	// unhealthy holds the checks that failed on the last probe.
	unhealthy map[string]bool
}

// New creates a loop. Zero durations default to a 30s poll and a 10s backoff.
func New(cfg Config, deps Deps) *Loop {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30 * time.Second
	}
	if cfg.ErrorBackoff < 0 {
		cfg.ErrorBackoff = 0
	} else if cfg.ErrorBackoff == 0 {
		cfg.ErrorBackoff = 10 * time.Second
	}

	l := &Loop{
		cfg:         cfg,
		coord:       deps.Coordinator,
		op:          deps.Operator,
		store:       deps.Store,
		checks:      deps.Checks,
		brokerLog:   deps.BrokerLog,
		diagnostics: deps.Diagnostics,
		clock:       deps.Clock,
		logger:      deps.Logger,
		unhealthy:   make(map[string]bool),
	}
	if l.diagnostics == nil {
		l.diagnostics = io.Discard
	}
	if l.clock == nil {
		l.clock = clockwork.NewRealClock()
	}
	if l.logger == nil {
		l.logger = noopLogger{}
	}
	return l
}

// Run processes input until ctx is cancelled or the operator input ends.
// It returns nil on either. A panic or store failure in one iteration is
// logged and followed by ErrorBackoff before the loop resumes.
func (l *Loop) Run(ctx context.Context, in Inputs) error {
	l.logger.Info("control loop started", "poll_timeout", l.cfg.PollTimeout)

	for {
		done, err := l.step(ctx, &in)
		if done {
			l.logger.Info("control loop stopped", "reason", stopReason(ctx))
			return nil
		}
		if err == nil {
			continue
		}

		l.logger.Error("control loop iteration failed, backing off",
			"error", err,
			"backoff", l.cfg.ErrorBackoff,
		)
		select {
		case <-ctx.Done():
			l.logger.Info("control loop stopped", "reason", stopReason(ctx))
			return nil
		case <-l.clock.After(l.cfg.ErrorBackoff):
		}
	}
}

// errPanic wraps a value recovered from a handler.
var errPanic = errors.New("control: handler panicked")

// step waits for one input and handles it. err is non-nil only for
// failures that warrant a backoff.
func (l *Loop) step(ctx context.Context, in *Inputs) (done bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("panic recovered in control loop",
				"panic", r,
				"stack", string(debug.Stack()),
			)
			done, err = false, fmt.Errorf("%w: %v", errPanic, r)
		}
	}()

	poll := l.clock.NewTimer(l.cfg.PollTimeout)
	defer poll.Stop()

	select {
	case <-ctx.Done():
		return true, nil

	case line, ok := <-in.Lines:
		if !ok {
			l.logger.Info("operator input closed")
			return true, nil
		}
		return false, l.handleLine(ctx, line)

	case ev := <-in.Events:
		return false, l.handleEvent(ctx, ev)

	case line, ok := <-in.BrokerLines:
		if !ok {
			in.BrokerLines = nil
			return false, nil
		}
		l.writeBrokerLine(line)
		return false, nil

	case <-poll.Chan():
		l.checkHealth(ctx)
		return false, nil
	}
}

func (l *Loop) handleLine(ctx context.Context, line string) error {
	err := l.store.InTx(ctx, func(reg device.Registry) error {
		return l.op.Execute(ctx, reg, line)
	})
	if err == nil {
		return nil
	}

	fmt.Fprintf(l.diagnostics, "Error processing line: %v\n", err) //nolint:errcheck // diagnostics are best effort
	if isRequestError(err) {
		l.logger.Warn("operator command failed", "line", line, "error", err)
		return nil
	}
	return fmt.Errorf("operator line %q: %w", line, err)
}

func (l *Loop) handleEvent(ctx context.Context, ev mqtt.Event) error {
	switch ev.Kind {
	case mqtt.EventConnected:
		l.logger.Info("bus connected, starting session")
		err := l.store.InTx(ctx, func(reg device.Registry) error {
			return l.coord.HandleConnect(ctx, reg)
		})
		if err == nil || isRequestError(err) {
			if err != nil {
				l.logger.Warn("session start incomplete", "error", err)
			}
			return nil
		}
		return fmt.Errorf("session start: %w", err)

	case mqtt.EventConnectionLost:
		l.logger.Warn("bus connection lost", "error", ev.Err)
		return nil

	case mqtt.EventMessage:
		err := l.store.InTx(ctx, func(reg device.Registry) error {
			return l.coord.HandleMessage(ctx, reg, ev.Topic, ev.Payload)
		})
		if err == nil {
			return nil
		}
		if isRequestError(err) {
			l.logger.Warn("device message rejected",
				"topic", ev.Topic,
				"payload", printable(ev.Payload),
				"error", err,
			)
			return nil
		}
		return fmt.Errorf("message on %s: %w", ev.Topic, err)
	}

	l.logger.Debug("ignoring bus event", "kind", ev.Kind)
	return nil
}

func (l *Loop) writeBrokerLine(line string) {
	if l.brokerLog == nil {
		l.logger.Debug("broker", "line", line)
		return
	}
	if _, err := io.WriteString(l.brokerLog, line+"\n"); err != nil {
		l.logger.Warn("writing broker log failed", "error", err)
	}
}

// checkHealth probes every check and logs only state changes.
func (l *Loop) checkHealth(ctx context.Context) {
	for name, check := range l.checks {
		err := check.HealthCheck(ctx)
		switch {
		case err != nil && !l.unhealthy[name]:
			l.unhealthy[name] = true
			l.logger.Warn("health check failed", "component", name, "error", err)
		case err == nil && l.unhealthy[name]:
			delete(l.unhealthy, name)
			l.logger.Info("health check recovered", "component", name)
		}
	}
}

// isRequestError reports whether err is about one request rather than the
// loop's own machinery. Such errors are logged and the loop carries on.
func isRequestError(err error) bool {
	for _, target := range []error{
		operator.ErrUsage,
		schedule.ErrFormat,
		schedule.ErrInvalidEvent,
		device.ErrDeviceNotFound,
		device.ErrUsernameTaken,
		device.ErrDisplayNameTaken,
		device.ErrInvalidName,
		device.ErrCredentialNotFound,
		session.ErrInvalidCommand,
		session.ErrCapacityExceeded,
		session.ErrUnreadableSchedule,
		session.ErrNotGuest,
		session.ErrUnknownType,
		session.ErrInvalidStatus,
		session.ErrSuperuser,
		mqtt.ErrNotConnected,
		mqtt.ErrPublishFailed,
		mqtt.ErrSubscribeFailed,
		mqtt.ErrTimeout,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// printable renders a payload for logs.
func printable(payload []byte) string {
	if utf8.Valid(payload) {
		return string(payload)
	}
	return fmt.Sprintf("%q", payload)
}

func stopReason(ctx context.Context) string {
	if ctx.Err() != nil {
		return "context cancelled"
	}
	return "operator input closed"
}
