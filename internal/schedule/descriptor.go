package schedule

import (
	"strconv"
	"strings"
)

// Descriptor is a device's self-reported schedule.
type Descriptor struct {
	Events []Event

	// Capacity is how many events the device can hold.
	Capacity int
}

// ParseDescriptor reads a device schedule report:
//
//	<count>/<capacity>
//	<event line>   (count times)
//
// A single trailing newline is accepted. ok is false when the header is not
// two non-negative integers, the line count differs from count, or any line
// is not a valid event; such a report must not be reconciled.
func ParseDescriptor(text string) (d Descriptor, ok bool) {
	lines := strings.Split(text, "\n")
	if len(lines) > 1 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	countText, capacityText, found := strings.Cut(lines[0], "/")
	if !found || !isDigits(countText) || !isDigits(capacityText) {
		return Descriptor{}, false
	}
	count, err := strconv.Atoi(countText)
	if err != nil {
		return Descriptor{}, false
	}
	capacity, err := strconv.Atoi(capacityText)
	if err != nil {
		return Descriptor{}, false
	}

	body := lines[1:]
	if count != len(body) {
		return Descriptor{}, false
	}

	events := make([]Event, 0, count)
	for _, line := range body {
		ev, err := Parse(line)
		if err != nil {
			return Descriptor{}, false
		}
		events = append(events, ev)
	}

	return Descriptor{Events: events, Capacity: capacity}, true
}
