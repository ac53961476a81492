package session

import "errors"

// Domain errors for the session package.
var (
	// ErrInvalidCommand is returned when the catalog rejects a command for
	// the device's type and current status.
	ErrInvalidCommand = errors.New("session: invalid command for device type and status")

	// ErrCapacityExceeded is returned when the stored schedule of a device
	// holds more events than the device can keep. Nothing is changed.
	ErrCapacityExceeded = errors.New("session: stored schedule exceeds device capacity")

	// ErrUnreadableSchedule is returned when a device's schedule report
	// cannot be parsed. Nothing is changed.
	ErrUnreadableSchedule = errors.New("session: unreadable schedule descriptor")

	// ErrNotGuest is returned when provisioning an identity that is not
	// waiting in the lobby.
	ErrNotGuest = errors.New("session: identity is not a guest")

	// ErrUnknownType is returned when provisioning with a type the catalog
	// does not know.
	ErrUnknownType = errors.New("session: unknown device type")

	// ErrInvalidStatus is returned when a status is not valid for the
	// device type.
	ErrInvalidStatus = errors.New("session: invalid status for device type")

	// ErrSuperuser is returned for operations that never apply to the
	// control plane's own identity.
	ErrSuperuser = errors.New("session: operation not allowed on the superuser")
)
