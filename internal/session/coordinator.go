package session

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/alessio/shellescape"
	"github.com/jonboulle/clockwork"

	"github.com/nerrad567/devcontrol/internal/auth"
	"github.com/nerrad567/devcontrol/internal/catalog"
	"github.com/nerrad567/devcontrol/internal/device"
	"github.com/nerrad567/devcontrol/internal/infrastructure/mqtt"
)

// Bus is the part of the MQTT client the coordinator uses.
type Bus interface {
	// Publish sends payload to topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Forward subscribes to topic and delivers its messages on the
	// client's event stream.
	Forward(topic string, qos byte) error
}

// Kicker evicts a broker session by logging in with its credentials.
type Kicker interface {
	Kick(ctx context.Context, username, password string) error
}

// ActivityRecorder receives device activity for export. Implementations
// must not block.
type ActivityRecorder interface {
	RecordPresence(username, deviceType string, connected bool)
	RecordStatus(username, deviceType, status string)
	RecordCommand(username, deviceType, command string, accepted bool)
}

// Logger defines the logging interface used by the Coordinator.
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

type noopRecorder struct{}

func (noopRecorder) RecordPresence(string, string, bool)        {}
func (noopRecorder) RecordStatus(string, string, string)        {}
func (noopRecorder) RecordCommand(string, string, string, bool) {}

// Config holds coordinator settings.
type Config struct {
	// KickPSK is the broker's pre-shared key, accepted for any username.
	// Deleted devices are kicked with it since their credential is gone.
	KickPSK string

	// Guests are identities placed in the guest set at start-up, such as
	// local helper clients that are provisioned by hand.
	Guests []string

	// Location is the zone whose UTC offset is added to time sync epochs.
	// Defaults to time.Local.
	Location *time.Location
}

// Deps are the collaborators of a Coordinator. Catalog, Bus, Kicker and
// Hasher are required; the rest default to no-ops or the real clock.
type Deps struct {
	Catalog  *catalog.Catalog
	Bus      Bus
	Kicker   Kicker
	Hasher   auth.Hasher
	Clock    clockwork.Clock
	Logger   Logger
	Activity ActivityRecorder

	// Notices receives operator-facing presence lines such as
	// "connected: kitchen". Nil discards them.
	Notices io.Writer
}

// Coordinator drives onboarding, presence, command dispatch and schedule
// reconciliation for every device on the bus.
type Coordinator struct {
	catalog  *catalog.Catalog
	bus      Bus
	kicker   Kicker
	hasher   auth.Hasher
	clock    clockwork.Clock
	logger   Logger
	activity ActivityRecorder
	notices  io.Writer
	topics   mqtt.Topics

	kickPSK  string
	location *time.Location

	guests map[string]struct{}
}

// New creates a coordinator.
func New(cfg Config, deps Deps) *Coordinator {
	c := &Coordinator{
		catalog:  deps.Catalog,
		bus:      deps.Bus,
		kicker:   deps.Kicker,
		hasher:   deps.Hasher,
		clock:    deps.Clock,
		logger:   deps.Logger,
		activity: deps.Activity,
		notices:  deps.Notices,
		kickPSK:  cfg.KickPSK,
		location: cfg.Location,
		guests:   make(map[string]struct{}, len(cfg.Guests)),
	}
	if c.catalog == nil {
		c.catalog = catalog.Default()
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}
	if c.logger == nil {
		c.logger = noopLogger{}
	}
	if c.activity == nil {
		c.activity = noopRecorder{}
	}
	if c.notices == nil {
		c.notices = io.Discard
	}
	if c.location == nil {
		c.location = time.Local
	}
	for _, g := range cfg.Guests {
		c.guests[g] = struct{}{}
	}
	return c
}

// SetLogger replaces the coordinator's logger.
func (c *Coordinator) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	c.logger = logger
}

// Guests returns the identities waiting for provisioning, sorted.
func (c *Coordinator) Guests() []string {
	out := make([]string, 0, len(c.guests))
	for g := range c.guests {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

// IsGuest reports whether username is waiting for provisioning.
func (c *Coordinator) IsGuest(username string) bool {
	_, ok := c.guests[username]
	return ok
}

// resolve maps a display name to its profile.
func (c *Coordinator) resolve(ctx context.Context, reg device.Registry, displayName string) (*device.Profile, error) {
	username, err := reg.Username(ctx, displayName)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", shellescape.Quote(displayName), err)
	}
	return reg.Profile(ctx, username)
}

// localEpoch is the current Unix time shifted by the zone offset in effect
// now, which is what device clocks run on.
func (c *Coordinator) localEpoch() int64 {
	now := c.clock.Now().In(c.location)
	_, offset := now.Zone()
	return now.Unix() + int64(offset)
}

// publish sends a text payload on one of username's channels.
func (c *Coordinator) publish(topic, payload string, qos byte) error {
	if err := c.bus.Publish(topic, []byte(payload), qos, false); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}

// sync pushes the local time to username's admin channel.
func (c *Coordinator) sync(username string) error {
	payload := mqtt.PayloadTimePrefix + strconv.FormatInt(c.localEpoch(), 10)
	return c.publish(c.topics.Admin(username), payload, mqtt.QoSAtLeastOnce)
}

// kick evicts username's session. Failures are advisory: a stale session
// ends on its own keepalive timeout.
func (c *Coordinator) kick(ctx context.Context, username, password string) {
	if err := c.kicker.Kick(ctx, username, password); err != nil {
		c.logger.Warn("kick failed", "username", username, "error", err)
	}
}

// notice writes one operator-facing line.
func (c *Coordinator) notice(format string, args ...any) {
	fmt.Fprintf(c.notices, format+"\n", args...) //nolint:errcheck // notices are best effort
}
