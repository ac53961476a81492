package device

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"

	"github.com/nerrad567/devcontrol/internal/infrastructure/database"
	"github.com/nerrad567/devcontrol/internal/schedule"
	"github.com/nerrad567/devcontrol/migrations"
)

// setupTestDB opens an in-memory database with the devcontrol schema applied.
func setupTestDB(t *testing.T) *SQLiteRepository {
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

	return NewSQLiteRepository(db.DB)
}

// testProfile creates a disconnected sonoff profile.
func testProfile(username, displayName string) Profile {
	return Profile{
		Username:    username,
		DisplayName: displayName,
		Type:        "sonoff",
		Status:      "off",
	}
}

func testCredential() Credential {
	return Credential{Hash: "deadbeef", Salt: "salt"}
}

func mustCreate(t *testing.T, repo *SQLiteRepository, p Profile) {
	t.Helper()
	if err := repo.Create(context.Background(), p, testCredential()); err != nil {
		t.Fatalf("Create(%s) error = %v", p.Username, err)
	}
}

func TestSQLiteRepository_CreateAndResolve(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	p := testProfile("a1b2", "kitchen")
	p.Connected = true
	mustCreate(t, repo, p)

	username, err := repo.Username(ctx, "kitchen")
	if err != nil {
		t.Fatalf("Username() error = %v", err)
	}
	if username != "a1b2" {
		t.Errorf("Username() = %q, want a1b2", username)
	}

	got, err := repo.Profile(ctx, "a1b2")
	if err != nil {
		t.Fatalf("Profile() error = %v", err)
	}
	if *got != p {
		t.Errorf("Profile() = %+v, want %+v", *got, p)
	}

	cred, err := repo.Credential(ctx, "a1b2")
	if err != nil {
		t.Fatalf("Credential() error = %v", err)
	}
	if cred.Username != "a1b2" || cred.Hash != "deadbeef" || cred.Salt != "salt" {
		t.Errorf("Credential() = %+v", *cred)
	}

	exists, err := repo.Exists(ctx, "a1b2")
	if err != nil || !exists {
		t.Errorf("Exists() = %v, %v; want true", exists, err)
	}
	inUse, err := repo.DisplayNameInUse(ctx, "kitchen")
	if err != nil || !inUse {
		t.Errorf("DisplayNameInUse() = %v, %v; want true", inUse, err)
	}
}

func TestSQLiteRepository_CreateConflicts(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	mustCreate(t, repo, testProfile("a1b2", "kitchen"))

	t.Run("username taken", func(t *testing.T) {
		err := repo.Create(ctx, testProfile("a1b2", "other"), testCredential())
		if !errors.Is(err, ErrUsernameTaken) {
			t.Errorf("Create() error = %v, want ErrUsernameTaken", err)
		}
	})

	t.Run("display name taken", func(t *testing.T) {
		err := repo.Create(ctx, testProfile("c3d4", "kitchen"), testCredential())
		if !errors.Is(err, ErrDisplayNameTaken) {
			t.Errorf("Create() error = %v, want ErrDisplayNameTaken", err)
		}
	})

	t.Run("invalid display name", func(t *testing.T) {
		err := repo.Create(ctx, testProfile("e5f6", "two\nlines"), testCredential())
		if !errors.Is(err, ErrInvalidName) {
			t.Errorf("Create() error = %v, want ErrInvalidName", err)
		}
	})
}

func TestSQLiteRepository_NotFound(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	if _, err := repo.Username(ctx, "nobody"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Username() error = %v, want ErrDeviceNotFound", err)
	}
	if _, err := repo.Profile(ctx, "nobody"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Profile() error = %v, want ErrDeviceNotFound", err)
	}
	if err := repo.SetStatus(ctx, "nobody", "on"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("SetStatus() error = %v, want ErrDeviceNotFound", err)
	}
	if err := repo.SetConnected(ctx, "nobody", true); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("SetConnected() error = %v, want ErrDeviceNotFound", err)
	}
	if err := repo.Delete(ctx, "nobody"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Delete() error = %v, want ErrDeviceNotFound", err)
	}
	if err := repo.Rename(ctx, "nobody", "x"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Rename() error = %v, want ErrDeviceNotFound", err)
	}
	if _, err := repo.Credential(ctx, "nobody"); !errors.Is(err, ErrCredentialNotFound) {
		t.Errorf("Credential() error = %v, want ErrCredentialNotFound", err)
	}
	if err := repo.SetCredential(ctx, Credential{Username: "nobody", Hash: "h", Salt: "s"}); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("SetCredential() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestSQLiteRepository_Rename(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	mustCreate(t, repo, testProfile("a1b2", "kitchen"))
	mustCreate(t, repo, testProfile("c3d4", "hall"))

	if err := repo.Rename(ctx, "a1b2", "hall"); !errors.Is(err, ErrDisplayNameTaken) {
		t.Errorf("Rename() to taken name error = %v, want ErrDisplayNameTaken", err)
	}

	if err := repo.Rename(ctx, "a1b2", "pantry"); err != nil {
		t.Fatalf("Rename() error = %v", err)
	}
	if _, err := repo.Username(ctx, "kitchen"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("old display name still resolves: %v", err)
	}
	if username, err := repo.Username(ctx, "pantry"); err != nil || username != "a1b2" {
		t.Errorf("Username(pantry) = %q, %v", username, err)
	}
}

func TestSQLiteRepository_DeleteCascades(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	mustCreate(t, repo, testProfile("a1b2", "kitchen"))

	ev, _ := schedule.NewRecurrent("on", false, 0, 8, 30) //nolint:errcheck // Constant input
	if _, err := repo.AddEvent(ctx, "a1b2", ev); err != nil {
		t.Fatalf("AddEvent() error = %v", err)
	}

	if err := repo.Delete(ctx, "a1b2"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if _, err := repo.Credential(ctx, "a1b2"); !errors.Is(err, ErrCredentialNotFound) {
		t.Errorf("credential survived delete: %v", err)
	}
	events, err := repo.Events(ctx, "a1b2")
	if err != nil {
		t.Fatalf("Events() error = %v", err)
	}
	if len(events) != 0 {
		t.Errorf("schedule survived delete: %v", events)
	}
}

func TestSQLiteRepository_ConnectionAndStatus(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	mustCreate(t, repo, testProfile("a1b2", "kitchen"))
	mustCreate(t, repo, testProfile("c3d4", "hall"))
	mustCreate(t, repo, Profile{Username: "admin", DisplayName: "devmaster", Type: SuperuserType, Connected: true})

	for _, u := range []string{"a1b2", "c3d4"} {
		if err := repo.SetConnected(ctx, u, true); err != nil {
			t.Fatalf("SetConnected(%s) error = %v", u, err)
		}
	}
	if err := repo.SetStatus(ctx, "a1b2", "on"); err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}

	usernames, err := repo.DisconnectAll(ctx)
	if err != nil {
		t.Fatalf("DisconnectAll() error = %v", err)
	}
	if len(usernames) != 2 || usernames[0] != "a1b2" || usernames[1] != "c3d4" {
		t.Errorf("DisconnectAll() = %v, want [a1b2 c3d4]", usernames)
	}

	devices, err := repo.Devices(ctx)
	if err != nil {
		t.Fatalf("Devices() error = %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("Devices() returned %d profiles, want 2 (superuser hidden)", len(devices))
	}
	// Ordered by display name.
	if devices[0].DisplayName != "hall" || devices[1].DisplayName != "kitchen" {
		t.Errorf("Devices() order = %s, %s", devices[0].DisplayName, devices[1].DisplayName)
	}
	for _, d := range devices {
		if d.Connected {
			t.Errorf("%s still connected after DisconnectAll()", d.DisplayName)
		}
	}
	if devices[1].Status != "on" {
		t.Errorf("kitchen status = %q, want on", devices[1].Status)
	}

	master, err := repo.Profile(ctx, "admin")
	if err != nil {
		t.Fatalf("Profile(admin) error = %v", err)
	}
	if !master.Connected || !master.IsSuperuser() {
		t.Errorf("superuser profile = %+v, want connected master", *master)
	}
}

func TestSQLiteRepository_SetCredentialReplaces(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	mustCreate(t, repo, testProfile("a1b2", "kitchen"))

	if err := repo.SetCredential(ctx, Credential{Username: "a1b2", Hash: "new", Salt: "pepper"}); err != nil {
		t.Fatalf("SetCredential() error = %v", err)
	}
	cred, err := repo.Credential(ctx, "a1b2")
	if err != nil {
		t.Fatalf("Credential() error = %v", err)
	}
	if cred.Hash != "new" || cred.Salt != "pepper" {
		t.Errorf("Credential() = %+v, want replaced hash and salt", *cred)
	}
}

func TestSQLiteRepository_Events(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	mustCreate(t, repo, testProfile("a1b2", "kitchen"))

	morning, _ := schedule.NewRecurrent("on", false, schedule.Weekdays, 7, 0) //nolint:errcheck // Constant input
	once, _ := schedule.NewTimed("set level 5", true, 1893456000)             //nolint:errcheck // Constant input
	night, _ := schedule.NewRecurrent("off", true, schedule.EveryDay, 23, 30) //nolint:errcheck // Constant input

	for i, ev := range []schedule.Event{morning, once, night, morning} {
		added, err := repo.AddEvent(ctx, "a1b2", ev)
		if err != nil {
			t.Fatalf("AddEvent(%s) error = %v", ev, err)
		}
		if wantAdded := i < 3; added != wantAdded {
			t.Errorf("AddEvent(%s) added = %v, want %v", ev, added, wantAdded)
		}
	}

	events, err := repo.Events(ctx, "a1b2")
	if err != nil {
		t.Fatalf("Events() error = %v", err)
	}
	want := []schedule.Event{morning, once, night}
	if len(events) != len(want) {
		t.Fatalf("Events() = %v, want %v (duplicate insert is a no-op)", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event %d = %+v, want %+v", i, events[i], want[i])
		}
	}

	if err := repo.RemoveEvent(ctx, "a1b2", once); err != nil {
		t.Fatalf("RemoveEvent() error = %v", err)
	}
	// Removing something absent is fine.
	if err := repo.RemoveEvent(ctx, "a1b2", once); err != nil {
		t.Fatalf("RemoveEvent() absent error = %v", err)
	}
	events, _ = repo.Events(ctx, "a1b2") //nolint:errcheck // Checked above
	if len(events) != 2 {
		t.Errorf("after RemoveEvent() got %d events, want 2", len(events))
	}

	if err := repo.ClearEvents(ctx, "a1b2"); err != nil {
		t.Fatalf("ClearEvents() error = %v", err)
	}
	events, _ = repo.Events(ctx, "a1b2") //nolint:errcheck // Checked above
	if len(events) != 0 {
		t.Errorf("after ClearEvents() got %d events, want 0", len(events))
	}

	if _, err := repo.AddEvent(ctx, "nobody", morning); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("AddEvent() for unknown device error = %v, want ErrDeviceNotFound", err)
	}
}

func TestSQLiteRepository_InTx(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	t.Run("commits", func(t *testing.T) {
		err := repo.InTx(ctx, func(reg Registry) error {
			return reg.Create(ctx, testProfile("a1b2", "kitchen"), testCredential())
		})
		if err != nil {
			t.Fatalf("InTx() error = %v", err)
		}
		if ok, _ := repo.Exists(ctx, "a1b2"); !ok { //nolint:errcheck // Zero value fails the check
			t.Error("profile not committed")
		}
	})

	t.Run("rolls back on error", func(t *testing.T) {
		boom := errors.New("boom")
		err := repo.InTx(ctx, func(reg Registry) error {
			if err := reg.Create(ctx, testProfile("c3d4", "hall"), testCredential()); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("InTx() error = %v, want boom", err)
		}
		if ok, _ := repo.Exists(ctx, "c3d4"); ok { //nolint:errcheck // Zero value passes the check
			t.Error("profile committed despite error")
		}
	})

	t.Run("rolls back on panic", func(t *testing.T) {
		func() {
			defer func() { _ = recover() }()
			_ = repo.InTx(ctx, func(reg Registry) error { //nolint:errcheck // Panics before returning
				if err := reg.Create(ctx, testProfile("e5f6", "porch"), testCredential()); err != nil {
					return err
				}
				panic("handler crashed")
			})
		}()
		if ok, _ := repo.Exists(ctx, "e5f6"); ok { //nolint:errcheck // Zero value passes the check
			t.Error("profile committed despite panic")
		}
	})

	t.Run("nested runs in the outer transaction", func(t *testing.T) {
		err := repo.InTx(ctx, func(reg Registry) error {
			inner, ok := reg.(*SQLiteRepository)
			if !ok {
				t.Fatalf("InTx() handed %T, want *SQLiteRepository", reg)
			}
			return inner.InTx(ctx, func(reg Registry) error {
				return reg.SetStatus(ctx, "a1b2", "on")
			})
		})
		if err != nil {
			t.Fatalf("nested InTx() error = %v", err)
		}
		p, err := repo.Profile(ctx, "a1b2")
		if err != nil {
			t.Fatalf("Profile() error = %v", err)
		}
		if p.Status != "on" {
			t.Errorf("Status = %q, want on", p.Status)
		}
	})
}

func TestSQLiteRepository_AfterCommit(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	t.Run("runs after commit in order", func(t *testing.T) {
		var got []string
		err := repo.InTx(ctx, func(reg Registry) error {
			if err := reg.Create(ctx, testProfile("a1b2", "kitchen"), testCredential()); err != nil {
				return err
			}
			reg.AfterCommit(func() {
				ok, err := repo.Exists(ctx, "a1b2")
				got = append(got, fmt.Sprintf("first committed=%v err=%v", ok, err))
			})
			reg.AfterCommit(func() { got = append(got, "second") })
			if len(got) != 0 {
				t.Errorf("hooks ran before commit: %v", got)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("InTx() error = %v", err)
		}
		want := []string{"first committed=true err=<nil>", "second"}
		if !slices.Equal(got, want) {
			t.Errorf("hooks = %v, want %v", got, want)
		}
	})

	t.Run("dropped on rollback", func(t *testing.T) {
		boom := errors.New("boom")
		ran := false
		err := repo.InTx(ctx, func(reg Registry) error {
			reg.AfterCommit(func() { ran = true })
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("InTx() error = %v, want boom", err)
		}
		if ran {
			t.Error("hook ran after rollback")
		}
	})

	t.Run("nested hooks wait for the outer commit", func(t *testing.T) {
		ran := false
		err := repo.InTx(ctx, func(reg Registry) error {
			inner := reg.(*SQLiteRepository) //nolint:forcetypeassert // InTx hands out its own type
			if err := inner.InTx(ctx, func(reg Registry) error {
				reg.AfterCommit(func() { ran = true })
				return nil
			}); err != nil {
				return err
			}
			if ran {
				t.Error("hook ran before the outer commit")
			}
			return nil
		})
		if err != nil {
			t.Fatalf("InTx() error = %v", err)
		}
		if !ran {
			t.Error("hook never ran")
		}
	})

	t.Run("runs at once outside a transaction", func(t *testing.T) {
		ran := false
		repo.AfterCommit(func() { ran = true })
		if !ran {
			t.Error("hook did not run")
		}
	})
}
