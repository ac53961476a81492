package schedule

import (
	"errors"
	"fmt"
)

var (
	// ErrFormat is the sentinel matched by every FormatError.
	ErrFormat = errors.New("schedule: malformed event")

	// ErrInvalidEvent is returned when an event is constructed with an
	// out-of-range or contradictory temporal specification.
	ErrInvalidEvent = errors.New("schedule: invalid event specification")
)

// FormatError describes a line that is not a valid event.
type FormatError struct {
	Line   string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("%s %q: %s", ErrFormat.Error(), e.Line, e.Reason)
}

// Unwrap lets errors.Is(err, ErrFormat) match.
func (e *FormatError) Unwrap() error {
	return ErrFormat
}

func formatErr(line, reason string) error {
	return &FormatError{Line: line, Reason: reason}
}
