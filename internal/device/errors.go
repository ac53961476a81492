package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a username or display name does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrUsernameTaken is returned when creating a profile whose username already exists.
	ErrUsernameTaken = errors.New("device: username already exists")

	// ErrDisplayNameTaken is returned when a display name is already in use.
	ErrDisplayNameTaken = errors.New("device: display name already in use")

	// ErrInvalidName is returned when a username or display name is empty
	// or cannot travel on the bus.
	ErrInvalidName = errors.New("device: invalid name")

	// ErrCredentialNotFound is returned when a profile has no credential row.
	ErrCredentialNotFound = errors.New("device: credential not found")
)
