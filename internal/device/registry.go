package device

import (
	"context"

	"github.com/nerrad567/devcontrol/internal/schedule"
)

// Registry is the durable store of device profiles, credentials and
// schedules. Every method takes a username unless its name says otherwise;
// callers resolve display names with Username first.
//
// Implementations are not safe for concurrent use. The control loop is the
// only caller.
type Registry interface {
	// Username resolves a display name.
	// Returns ErrDeviceNotFound if no profile carries that display name.
	Username(ctx context.Context, displayName string) (string, error)

	// Profile returns the profile for username.
	// Returns ErrDeviceNotFound if the profile does not exist.
	Profile(ctx context.Context, username string) (*Profile, error)

	// Exists reports whether a profile exists for username.
	Exists(ctx context.Context, username string) (bool, error)

	// DisplayNameInUse reports whether any profile carries displayName.
	DisplayNameInUse(ctx context.Context, displayName string) (bool, error)

	// Create inserts a profile together with its credential.
	// Returns ErrUsernameTaken or ErrDisplayNameTaken on conflict.
	Create(ctx context.Context, p Profile, cred Credential) error

	// Rename changes a profile's display name.
	// Returns ErrDeviceNotFound or ErrDisplayNameTaken.
	Rename(ctx context.Context, username, displayName string) error

	// Delete removes a profile; its credential and schedule go with it.
	// Returns ErrDeviceNotFound if the profile does not exist.
	Delete(ctx context.Context, username string) error

	// SetConnected records whether the device holds a live session.
	SetConnected(ctx context.Context, username string, connected bool) error

	// SetStatus records the device's last known status.
	SetStatus(ctx context.Context, username, status string) error

	// DisconnectAll marks every device profile disconnected and returns
	// their usernames. The superuser is left untouched.
	DisconnectAll(ctx context.Context) ([]string, error)

	// Devices lists every profile except the superuser's, ordered by
	// display name.
	Devices(ctx context.Context) ([]Profile, error)

	// Credential returns the stored credential for username.
	// Returns ErrCredentialNotFound if none is stored.
	Credential(ctx context.Context, username string) (*Credential, error)

	// SetCredential inserts or replaces a credential. The profile must exist.
	SetCredential(ctx context.Context, cred Credential) error

	// Events returns the authoritative schedule of username in insertion order.
	Events(ctx context.Context, username string) ([]schedule.Event, error)

	// AddEvent stores ev for username. Storing an event that is already
	// present is a no-op and reports added as false.
	AddEvent(ctx context.Context, username string, ev schedule.Event) (added bool, err error)

	// RemoveEvent deletes every stored copy of ev for username. Removing an
	// absent event is a no-op.
	RemoveEvent(ctx context.Context, username string, ev schedule.Event) error

	// ClearEvents deletes the whole schedule of username.
	ClearEvents(ctx context.Context, username string) error

	// AfterCommit runs fn once the current transaction has committed, so
	// other connections (the broker's auth plugin among them) see its
	// writes. Hooks of a rolled-back transaction never run.
	AfterCommit(fn func())
}
