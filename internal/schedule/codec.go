package schedule

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/alessio/shellescape"
	"github.com/kballard/go-shellquote"
)

// Leading keywords and precision flags of the text form.
const (
	keywordTimed     = "timed"
	keywordRecurrent = "recurrent"
	flagExact        = 'x'
	flagFuzzy        = 'z'

	// eventFields is the number of space-separated fields in an event line;
	// the last one holds the quoted command.
	eventFields = 4
)

// Op marks an event sent to a device as an addition or a removal.
type Op byte

// Schedule operations understood by the device firmware.
const (
	OpAdd    Op = '+'
	OpRemove Op = '-'
)

// Marker insertion points: right after "recurrent " and "timed ".
const (
	recurrentMarkAt = len(keywordRecurrent) + 1
	timedMarkAt     = len(keywordTimed) + 1
)

// String renders the event in its single-line text form.
func (e Event) String() string {
	flag := flagExact
	if e.Fuzzy {
		flag = flagFuzzy
	}
	command := shellescape.Quote(e.Command)

	if e.Recurrent {
		return fmt.Sprintf("%s %c%d %02d.%02d %s", keywordRecurrent, flag, e.Weekday, e.Hour, e.Minute, command)
	}
	return fmt.Sprintf("%s %c %d %s", keywordTimed, flag, e.FireAt, command)
}

// Marked renders the event with op spliced in after the keyword, e.g.
// "recurrent +x0 08.30 on" or "timed -z 1700000000 off".
func (e Event) Marked(op Op) string {
	s := e.String()
	at := timedMarkAt
	if e.Recurrent {
		at = recurrentMarkAt
	}
	return s[:at] + string(op) + s[at:]
}

// Parse reads an event from its text form. Every failure is a *FormatError.
func Parse(line string) (Event, error) {
	fields := strings.SplitN(line, " ", eventFields)
	if len(fields) != eventFields {
		return Event{}, formatErr(line, fmt.Sprintf("want %d fields, got %d", eventFields, len(fields)))
	}

	command, err := unquoteCommand(fields[3])
	if err != nil {
		return Event{}, formatErr(line, err.Error())
	}

	var ev Event
	switch fields[0] {
	case keywordTimed:
		ev, err = parseTimed(fields[1], fields[2], command)
	case keywordRecurrent:
		ev, err = parseRecurrent(fields[1], fields[2], command)
	default:
		return Event{}, formatErr(line, fmt.Sprintf("unknown event type %q", fields[0]))
	}
	if err != nil {
		return Event{}, formatErr(line, err.Error())
	}
	return ev, nil
}

func parseTimed(flagField, dateField, command string) (Event, error) {
	if len(flagField) != 1 {
		return Event{}, fmt.Errorf("malformed precision flag %q", flagField)
	}
	fuzzy, err := parseFlag(flagField[0])
	if err != nil {
		return Event{}, err
	}
	if !isDigits(dateField) {
		return Event{}, fmt.Errorf("malformed fire time %q", dateField)
	}
	fireAt, err := strconv.ParseInt(dateField, 10, 64)
	if err != nil {
		return Event{}, fmt.Errorf("malformed fire time %q", dateField)
	}
	return NewTimed(command, fuzzy, fireAt)
}

func parseRecurrent(flagField, timeField, command string) (Event, error) {
	if len(flagField) != 2 {
		return Event{}, fmt.Errorf("malformed precision-weekday descriptor %q", flagField)
	}
	fuzzy, err := parseFlag(flagField[0])
	if err != nil {
		return Event{}, err
	}
	if !isDigits(flagField[1:]) {
		return Event{}, fmt.Errorf("malformed weekday %q", flagField[1:])
	}
	weekday := int(flagField[1] - '0')

	hh, mm, found := strings.Cut(timeField, ".")
	if !found || strings.Contains(mm, ".") || !isDigits(hh) || !isDigits(mm) {
		return Event{}, fmt.Errorf("malformed hour-minute descriptor %q", timeField)
	}
	hour, errH := strconv.Atoi(hh)
	minute, errM := strconv.Atoi(mm)
	if errH != nil || errM != nil {
		return Event{}, fmt.Errorf("malformed hour-minute descriptor %q", timeField)
	}
	return NewRecurrent(command, fuzzy, weekday, hour, minute)
}

func parseFlag(c byte) (bool, error) {
	switch c {
	case flagExact:
		return false, nil
	case flagFuzzy:
		return true, nil
	}
	return false, fmt.Errorf("unrecognised precision flag %q", c)
}

// unquoteCommand turns the command field back into the command. The field
// must be exactly one shell word.
func unquoteCommand(field string) (string, error) {
	words, err := shellquote.Split(field)
	if err != nil {
		return "", fmt.Errorf("command %q: %w", field, err)
	}
	if len(words) != 1 {
		return "", fmt.Errorf("command %q is %d shell words, want 1", field, len(words))
	}
	return words[0], nil
}

// isDigits reports whether s is a non-empty run of ASCII digits, rejecting
// the signs and spaces strconv would otherwise tolerate.
func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
