package session

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/nerrad567/devcontrol/internal/auth"
	"github.com/nerrad567/devcontrol/internal/catalog"
	"github.com/nerrad567/devcontrol/internal/device"
	"github.com/nerrad567/devcontrol/internal/infrastructure/database"
	"github.com/nerrad567/devcontrol/migrations"
)

var errBroker = errors.New("broker unavailable")

type published struct {
	topic   string
	payload string
	qos     byte
}

// fakeBus records publishes. onPublish, when set, runs before a publish is
// recorded; a non-nil publishErr fails every publish.
type fakeBus struct {
	sent       []published
	forwarded  map[string]byte
	publishErr error
	forwardErr error
	onPublish  func(topic, payload string)
}

func newFakeBus() *fakeBus {
	return &fakeBus{forwarded: make(map[string]byte)}
}

func (b *fakeBus) Publish(topic string, payload []byte, qos byte, _ bool) error {
	if b.onPublish != nil {
		b.onPublish(topic, string(payload))
	}
	if b.publishErr != nil {
		return b.publishErr
	}
	b.sent = append(b.sent, published{topic: topic, payload: string(payload), qos: qos})
	return nil
}

func (b *fakeBus) Forward(topic string, qos byte) error {
	if b.forwardErr != nil {
		return b.forwardErr
	}
	b.forwarded[topic] = qos
	return nil
}

// payloads returns what was published on topic, in order.
func (b *fakeBus) payloads(topic string) []string {
	var out []string
	for _, p := range b.sent {
		if p.topic == topic {
			out = append(out, p.payload)
		}
	}
	return out
}

type kickCall struct {
	username string
	password string
}

type fakeKicker struct {
	calls []kickCall
	err   error
}

func (k *fakeKicker) Kick(_ context.Context, username, password string) error {
	k.calls = append(k.calls, kickCall{username: username, password: password})
	return k.err
}

type fakeRecorder struct {
	presence []string
	statuses []string
	commands []string
}

func (r *fakeRecorder) RecordPresence(username, _ string, connected bool) {
	if connected {
		r.presence = append(r.presence, "+"+username)
	} else {
		r.presence = append(r.presence, "-"+username)
	}
}

func (r *fakeRecorder) RecordStatus(username, _, status string) {
	r.statuses = append(r.statuses, username+"="+status)
}

func (r *fakeRecorder) RecordCommand(username, _, command string, accepted bool) {
	mark := "!"
	if accepted {
		mark = ""
	}
	r.commands = append(r.commands, mark+username+":"+command)
}

// mockLogger captures info, warning and error messages for assertions.
type mockLogger struct {
	noopLogger
	infos    []string
	warnings []string
	errors   []string
}

func (l *mockLogger) Info(msg string, _ ...any) {
	l.infos = append(l.infos, msg)
}

func (l *mockLogger) Warn(msg string, _ ...any) {
	l.warnings = append(l.warnings, msg)
}

func (l *mockLogger) Error(msg string, _ ...any) {
	l.errors = append(l.errors, msg)
}

// testEpoch is 2026-03-02 12:00:00 UTC.
var testEpoch = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

// testZone is one hour ahead of UTC.
var testZone = time.FixedZone("UTC+1", 3600)

type harness struct {
	coord   *Coordinator
	reg     *device.SQLiteRepository
	bus     *fakeBus
	kicker  *fakeKicker
	rec     *fakeRecorder
	logger  *mockLogger
	clock   *clockwork.FakeClock
	notices *bytes.Buffer
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	db, err := database.Open(database.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		db.Close() //nolint:errcheck // Test cleanup
	})
	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("failed to apply schema: %v", err)
	}

	h := &harness{
		reg:     device.NewSQLiteRepository(db.DB),
		bus:     newFakeBus(),
		kicker:  &fakeKicker{},
		rec:     &fakeRecorder{},
		logger:  &mockLogger{},
		clock:   clockwork.NewFakeClockAt(testEpoch),
		notices: &bytes.Buffer{},
	}
	h.coord = New(Config{KickPSK: "psk-secret", Location: testZone}, Deps{
		Catalog:  catalog.Default(),
		Bus:      h.bus,
		Kicker:   h.kicker,
		Hasher:   auth.SHA256Hasher{},
		Clock:    h.clock,
		Logger:   h.logger,
		Activity: h.rec,
		Notices:  h.notices,
	})
	return h
}

// addDevice stores a sonoff device directly in the registry.
func (h *harness) addDevice(t *testing.T, username, displayName, status string, connected bool) {
	t.Helper()
	p := device.Profile{Username: username, DisplayName: displayName, Type: "sonoff", Connected: connected, Status: status}
	if err := h.reg.Create(context.Background(), p, device.Credential{Hash: "h", Salt: "s"}); err != nil {
		t.Fatalf("Create(%s) error = %v", username, err)
	}
}

// addSuperuser stores the control plane's own profile.
func (h *harness) addSuperuser(t *testing.T) {
	t.Helper()
	p := device.Profile{Username: "admin", DisplayName: "devmaster", Type: device.SuperuserType, Connected: true}
	if err := h.reg.Create(context.Background(), p, device.Credential{Hash: "h", Salt: "s"}); err != nil {
		t.Fatalf("Create(admin) error = %v", err)
	}
}

func (h *harness) profile(t *testing.T, username string) *device.Profile {
	t.Helper()
	p, err := h.reg.Profile(context.Background(), username)
	if err != nil {
		t.Fatalf("Profile(%s) error = %v", username, err)
	}
	return p
}

func (h *harness) message(t *testing.T, topic, payload string) {
	t.Helper()
	if err := h.coord.HandleMessage(context.Background(), h.reg, topic, []byte(payload)); err != nil {
		t.Fatalf("HandleMessage(%q, %q) error = %v", topic, payload, err)
	}
}

// secretFrom extracts the secret from an "auth\n<u>\n<secret>" payload.
func secretFrom(t *testing.T, payload string) string {
	t.Helper()
	parts := strings.Split(payload, "\n")
	if len(parts) != 3 || parts[0] != "auth" {
		t.Fatalf("credential payload = %q, want auth\\n<u>\\n<secret>", payload)
	}
	return parts[2]
}
