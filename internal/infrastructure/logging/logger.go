package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"

	"github.com/nerrad567/devcontrol/internal/infrastructure/config"
)

// Rotation defaults used when the file config leaves them zero.
const (
	defaultMaxAge       = 7 * 24 * time.Hour
	defaultRotationTime = 24 * time.Hour

	// rotationSuffix is the strftime suffix appended to rotated file names.
	rotationSuffix = ".%Y%m%d"
)

// Logger wraps slog.Logger with devcontrol-specific functionality.
//
// It provides structured logging with default fields and level-based filtering.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Logger struct {
	*slog.Logger

	// closer releases the file sink, nil for stdout/stderr output.
	closer io.Closer
}

// New creates a new Logger with the specified configuration.
//
// It configures:
//   - Output format (JSON or text)
//   - Log level filtering
//   - Default fields (service name, version)
//   - Output destination (stdout, stderr, or a rotating file)
//
// Parameters:
//   - cfg: Logging configuration from the config file
//   - version: Application version for default field
//
// Returns:
//   - *Logger: Configured logger ready for use
//   - error: If the rotating log file cannot be opened
func New(cfg config.LoggingConfig, version string) (*Logger, error) {
	var output io.Writer
	var closer io.Closer

	switch strings.ToLower(cfg.Output) {
	case "stderr":
		output = os.Stderr
	case "file":
		rl, err := NewRotatingWriter(RotationConfig{
			Path:         cfg.File.Path,
			MaxAge:       time.Duration(cfg.File.MaxAgeDays) * 24 * time.Hour,
			RotationTime: time.Duration(cfg.File.RotationHours) * time.Hour,
		})
		if err != nil {
			return nil, err
		}
		output = rl
		closer = rl
	default:
		output = os.Stdout
	}

	l := NewWithWriter(output, cfg, version)
	l.closer = closer
	return l, nil
}

// NewWithWriter creates a Logger writing to an arbitrary writer.
// The Output field of cfg is ignored.
func NewWithWriter(w io.Writer, cfg config.LoggingConfig, version string) *Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", "devcontrol"),
		slog.String("version", version),
	})

	return &Logger{
		Logger: slog.New(handler),
	}
}

// parseLevel converts a string log level to slog.Level.
//
// Supported levels: debug, info, warn, error
// Defaults to info if unrecognised.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a new Logger with additional default attributes.
//
// Parameters:
//   - args: Key-value pairs to add as default attributes
//
// Returns:
//   - *Logger: New logger with added attributes
//
// Example:
//
//	sessionLogger := logger.With("component", "session")
//	sessionLogger.Info("guest waiting") // Includes component=session
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
	}
}

// Close releases the file sink, if any. Child loggers created with With
// share the sink but never close it.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// Default creates a default logger for use before configuration is loaded.
//
// This logger writes text to stderr at info level. It should only be used
// during early startup before config is available.
func Default() *Logger {
	return NewWithWriter(os.Stderr, config.LoggingConfig{
		Level:  "info",
		Format: "text",
	}, "dev")
}

// RotationConfig describes a time-rotated log file.
type RotationConfig struct {
	// Path is the stable name of the active file (a symlink to the
	// current dated file).
	Path string

	// MaxAge bounds how long rotated files are kept.
	MaxAge time.Duration

	// RotationTime is the interval between rotations.
	RotationTime time.Duration

	// Clock overrides the wall clock, for tests.
	Clock rotatelogs.Clock
}

// NewRotatingWriter opens a time-rotated log file.
//
// It backs both the "file" logging output and the broker diagnostic log.
//
// Parameters:
//   - cfg: File location and retention
//
// Returns:
//   - *rotatelogs.RotateLogs: Writer that must be closed on shutdown
//   - error: If the path is empty or the file cannot be created
func NewRotatingWriter(cfg RotationConfig) (*rotatelogs.RotateLogs, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("rotating log: path is required")
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = defaultMaxAge
	}
	if cfg.RotationTime <= 0 {
		cfg.RotationTime = defaultRotationTime
	}

	opts := []rotatelogs.Option{
		rotatelogs.WithLinkName(cfg.Path),
		rotatelogs.WithMaxAge(cfg.MaxAge),
		rotatelogs.WithRotationTime(cfg.RotationTime),
	}
	if cfg.Clock != nil {
		opts = append(opts, rotatelogs.WithClock(cfg.Clock))
	}

	rl, err := rotatelogs.New(cfg.Path+rotationSuffix, opts...)
	if err != nil {
		return nil, fmt.Errorf("rotating log %s: %w", cfg.Path, err)
	}
	return rl, nil
}
