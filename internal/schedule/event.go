package schedule

import (
	"fmt"
	"strings"
	"time"
)

// FuzzyJitter is the widest random offset a device applies to a fuzzy event.
const FuzzyJitter = 16 * time.Minute

// Weekday selectors for recurrent events. 1 through 7 are Monday to Sunday.
const (
	EveryDay = 0
	Monday   = 1
	Sunday   = 7
	Weekdays = 8
	Weekend  = 9
)

const (
	maxHour   = 23
	maxMinute = 59
)

// Event is one scheduled command. Exactly one temporal form is populated:
// FireAt for timed events, Weekday/Hour/Minute for recurrent ones. The
// unused fields are always zero so events compare with ==.
type Event struct {
	Command   string
	Fuzzy     bool
	Recurrent bool

	// FireAt is the epoch second a timed event fires at.
	FireAt int64

	Weekday int
	Hour    int
	Minute  int
}

// NewTimed creates an event that fires once at fireAt.
func NewTimed(command string, fuzzy bool, fireAt int64) (Event, error) {
	if err := validateCommand(command); err != nil {
		return Event{}, err
	}
	if fireAt < 0 {
		return Event{}, fmt.Errorf("%w: fire time %d is negative", ErrInvalidEvent, fireAt)
	}
	return Event{Command: command, Fuzzy: fuzzy, FireAt: fireAt}, nil
}

// NewRecurrent creates an event that fires at hour:minute on the days
// selected by weekday (see EveryDay, Weekdays, Weekend).
func NewRecurrent(command string, fuzzy bool, weekday, hour, minute int) (Event, error) {
	if err := validateCommand(command); err != nil {
		return Event{}, err
	}
	if weekday < EveryDay || weekday > Weekend {
		return Event{}, fmt.Errorf("%w: weekday %d not in [0,9]", ErrInvalidEvent, weekday)
	}
	if hour < 0 || hour > maxHour {
		return Event{}, fmt.Errorf("%w: hour %d not in [0,23]", ErrInvalidEvent, hour)
	}
	if minute < 0 || minute > maxMinute {
		return Event{}, fmt.Errorf("%w: minute %d not in [0,59]", ErrInvalidEvent, minute)
	}
	return Event{
		Command:   command,
		Fuzzy:     fuzzy,
		Recurrent: true,
		Weekday:   weekday,
		Hour:      hour,
		Minute:    minute,
	}, nil
}

// validateCommand rejects commands that cannot travel on a single line.
func validateCommand(command string) error {
	if strings.ContainsAny(command, "\r\n") {
		return fmt.Errorf("%w: command contains a line break", ErrInvalidEvent)
	}
	return nil
}

// Validate checks an Event built without a constructor, such as one loaded
// from the store.
func (e Event) Validate() error {
	var err error
	if e.Recurrent {
		if e.FireAt != 0 {
			return fmt.Errorf("%w: recurrent event has a fire time", ErrInvalidEvent)
		}
		_, err = NewRecurrent(e.Command, e.Fuzzy, e.Weekday, e.Hour, e.Minute)
	} else {
		if e.Weekday != 0 || e.Hour != 0 || e.Minute != 0 {
			return fmt.Errorf("%w: timed event has a recurrence", ErrInvalidEvent)
		}
		_, err = NewTimed(e.Command, e.Fuzzy, e.FireAt)
	}
	return err
}

// FireTime returns the instant a timed event fires. It is the zero time for
// recurrent events.
func (e Event) FireTime() time.Time {
	if e.Recurrent {
		return time.Time{}
	}
	return time.Unix(e.FireAt, 0)
}
