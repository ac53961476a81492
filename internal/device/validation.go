package device

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// maxNameLength bounds usernames and display names. The broker caps client
// identifiers well above this.
const maxNameLength = 100

// ValidateName checks a username or display name. Names are written to the
// operator one per token and line, so they must be non-empty UTF-8 without
// line breaks.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("%w: name is not valid UTF-8", ErrInvalidName)
	}
	if strings.ContainsAny(name, "\r\n\x00") {
		return fmt.Errorf("%w: %q contains a reserved character", ErrInvalidName, name)
	}
	return nil
}
