package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nerrad567/devcontrol/internal/process"
)

const (
	// readyPollInterval is how often Start probes the listener.
	readyPollInterval = 100 * time.Millisecond

	// dialTimeout bounds one listener probe.
	dialTimeout = 500 * time.Millisecond
)

// HealthError is a failed broker health check. It tells the process
// manager whether a restart can help.
type HealthError struct {
	Check       string
	Recoverable bool
	Err         error
}

func (e *HealthError) Error() string {
	return fmt.Sprintf("broker %s check failed: %v", e.Check, e.Err)
}

func (e *HealthError) Unwrap() error { return e.Err }

// IsRecoverable implements process.RecoverableError.
func (e *HealthError) IsRecoverable() bool { return e.Recoverable }

// Logger defines the logging interface for the broker manager.
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

// Manager runs one mosquitto instance.
type Manager struct {
	config  Config
	process *process.Manager
	logger  Logger

	lines   chan string
	dropped atomic.Int64

	// stuckCount counts consecutive checks that found the broker in
	// uninterruptible sleep.
	stuckCount atomic.Int32
}

// NewManager validates cfg and creates a manager. Nothing runs until Start.
func NewManager(cfg Config) (*Manager, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid broker config: %w", err)
	}
	return &Manager{
		config: cfg,
		logger: noopLogger{},
		lines:  make(chan string, cfg.LineBuffer),
	}, nil
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	m.logger = logger
}

// Lines delivers everything the broker writes, one line per value. When
// the reader falls behind, new lines are dropped and counted in Stats.
func (m *Manager) Lines() <-chan string {
	return m.lines
}

func (m *Manager) pushLine(_, line string) {
	select {
	case m.lines <- line:
	default:
		m.dropped.Add(1)
	}
}

// Start writes mosquitto.conf, launches the broker and blocks until its
// listener accepts connections.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.config.WriteFile(); err != nil {
		return fmt.Errorf("starting broker: %w", err)
	}

	m.logger.Info("starting broker",
		"binary", m.config.Binary,
		"config", m.config.ConfigPath,
		"port", m.config.Port,
		"tls", m.config.CertFile != "",
	)

	m.process = process.NewManager(process.Config{
		Name:               "mosquitto",
		Binary:             m.config.Binary,
		Args:               m.config.Args(),
		WorkDir:            filepath.Dir(m.config.ConfigPath),
		RestartOnFailure:   m.config.RestartOnFailure,
		RestartDelay:       m.config.RestartDelay,
		MaxRestartAttempts: m.config.MaxRestartAttempts,
		GracefulTimeout:    m.config.GracefulTimeout,
		OnOutput:           m.pushLine,
		OnStop: func(err error) {
			if err != nil {
				m.logger.Warn("broker stopped", "error", err)
				return
			}
			m.logger.Info("broker stopped")
		},
		OnRestart: func(attempt int) {
			m.logger.Info("broker restarting", "attempt", attempt)
			// The data directory may have been cleaned while it ran.
			if err := m.config.WriteFile(); err != nil {
				m.logger.Warn("rewriting mosquitto.conf before restart failed", "error", err)
			}
		},
		HealthCheckInterval: m.config.HealthCheckInterval,
		HealthCheckFunc:     m.HealthCheck,
	})
	m.process.SetLogger(m.logger)

	if err := m.process.Start(ctx); err != nil {
		return fmt.Errorf("starting broker: %w", err)
	}

	if err := m.waitForReady(ctx); err != nil {
		if stopErr := m.process.Stop(); stopErr != nil {
			m.logger.Warn("error stopping broker after failed readiness check", "error", stopErr)
		}
		return fmt.Errorf("broker failed to become ready: %w", err)
	}

	m.logger.Info("broker ready", "address", m.address(), "pid", m.process.PID())
	return nil
}

func (m *Manager) address() string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(m.config.Port))
}

// waitForReady polls the listener until it accepts a connection.
func (m *Manager) waitForReady(ctx context.Context) error {
	addr := m.address()
	deadline := time.Now().Add(m.config.ReadyTimeout)

	m.logger.Debug("waiting for broker listener", "address", addr)

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled while waiting for broker: %w", ctx.Err())
		default:
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("timeout waiting for broker on %s after %v", addr, m.config.ReadyTimeout)
		}

		if !m.process.IsRunning() {
			if lastErr := m.process.LastError(); lastErr != nil {
				return fmt.Errorf("broker exited: %w", lastErr)
			}
			return errors.New("broker exited unexpectedly")
		}

		conn, err := net.DialTimeout("tcp", addr, dialTimeout)
		if err == nil {
			conn.Close()
			return nil
		}

		time.Sleep(readyPollInterval)
	}
}

// Stop stops the broker. It is a no-op before Start.
func (m *Manager) Stop() error {
	if m.process == nil {
		return nil
	}
	m.logger.Info("stopping broker")
	return m.process.Stop()
}

// Done is closed when the broker stops for good: after Stop, or when
// restarts are exhausted or cannot help. It is nil before Start.
func (m *Manager) Done() <-chan struct{} {
	if m.process == nil {
		return nil
	}
	return m.process.Done()
}

// IsRunning reports whether the broker process is up.
func (m *Manager) IsRunning() bool {
	return m.process != nil && m.process.IsRunning()
}

// HealthCheck verifies the broker process is schedulable and its listener
// accepts connections. It is also the process watchdog probe.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if m.process == nil {
		return &HealthError{Check: "process", Recoverable: true, Err: errors.New("not started")}
	}
	if pid := m.process.PID(); pid > 0 {
		if err := m.checkProcessState(pid); err != nil {
			return &HealthError{Check: "process", Recoverable: true, Err: err}
		}
	}

	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", m.address())
	if err != nil {
		return &HealthError{Check: "listener", Recoverable: true, Err: err}
	}
	conn.Close()
	return nil
}

// checkProcessState reads the state letter from /proc/<pid>/stat.
// Stopped, zombie and dead states fail, as does a broker stuck in
// uninterruptible sleep for three checks in a row.
func (m *Manager) checkProcessState(pid int) error {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return fmt.Errorf("cannot read process state: %w", err)
	}
	state, err := parseProcState(string(data))
	if err != nil {
		return err
	}

	switch state {
	case "T", "t":
		return fmt.Errorf("broker process is stopped (state=%s)", state)
	case "Z":
		return fmt.Errorf("broker process is zombie (state=%s)", state)
	case "X", "x":
		return fmt.Errorf("broker process is dead (state=%s)", state)
	case "D":
		count := m.stuckCount.Add(1)
		if count >= 3 {
			return fmt.Errorf("broker process stuck in uninterruptible sleep (count=%d)", count)
		}
		return nil
	default:
		m.stuckCount.Store(0)
		return nil
	}
}

// parseProcState extracts the state field from a /proc/<pid>/stat line.
// The command name may contain spaces and parentheses, so the state is
// found after the last ')'.
func parseProcState(stat string) (string, error) {
	i := strings.LastIndex(stat, ")")
	if i == -1 || i+2 >= len(stat) {
		return "", errors.New("invalid /proc stat format")
	}
	fields := strings.Fields(stat[i+2:])
	if len(fields) == 0 {
		return "", errors.New("invalid /proc stat format: no state field")
	}
	return fields[0], nil
}

// Stats is a snapshot of the managed broker.
type Stats struct {
	Status       string        `json:"status"`
	Address      string        `json:"address"`
	PID          int           `json:"pid,omitempty"`
	Uptime       time.Duration `json:"uptime,omitempty"`
	RestartCount int           `json:"restart_count"`
	LastError    string        `json:"last_error,omitempty"`
	DroppedLines int64         `json:"dropped_lines"`
}

// Stats returns a snapshot of the broker's state.
func (m *Manager) Stats() Stats {
	stats := Stats{
		Status:       string(process.StatusStopped),
		Address:      m.address(),
		DroppedLines: m.dropped.Load(),
	}
	if m.process != nil {
		ps := m.process.Stats()
		stats.Status = string(ps.Status)
		stats.PID = ps.PID
		stats.Uptime = ps.Uptime
		stats.RestartCount = ps.RestartCount
		stats.LastError = ps.LastError
	}
	return stats
}
