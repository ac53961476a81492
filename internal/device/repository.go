package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/nerrad567/devcontrol/internal/schedule"
)

// SQLiteRepository implements Registry on the profile, auth and schedule
// tables.
type SQLiteRepository struct {
	db *sqlx.DB

	// q is db outside a transaction and the *sqlx.Tx inside one.
	q sqlx.ExtContext

	// afterCommit holds the hooks registered inside a transaction.
	afterCommit []func()
}

// NewSQLiteRepository creates a new SQLite-backed registry.
// The db parameter should be an open, migrated SQLite connection.
func NewSQLiteRepository(db *sqlx.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, q: db}
}

// InTx runs fn against a Registry bound to a single transaction. The
// transaction commits if fn returns nil and rolls back otherwise, including
// when fn panics. Hooks registered with AfterCommit run in order once the
// commit succeeds and are dropped on rollback. Calling InTx on a repository
// that is already inside a transaction runs fn in that transaction.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - fn: Work to perform; must only use the Registry it is given
//
// Returns:
//   - error: fn's error, or a begin/commit failure
func (r *SQLiteRepository) InTx(ctx context.Context, fn func(Registry) error) error {
	if r.db == nil {
		return fn(r)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	txRepo := &SQLiteRepository{q: tx}
	if err := fn(txRepo); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	for _, hook := range txRepo.afterCommit {
		hook()
	}
	return nil
}

// AfterCommit runs fn once the enclosing transaction commits. Outside a
// transaction every write is already durable, so fn runs at once.
func (r *SQLiteRepository) AfterCommit(fn func()) {
	if r.db != nil {
		fn()
		return
	}
	r.afterCommit = append(r.afterCommit, fn)
}

// Username resolves a display name to its username.
func (r *SQLiteRepository) Username(ctx context.Context, displayName string) (string, error) {
	var username string
	err := sqlx.GetContext(ctx, r.q, &username,
		"SELECT username FROM profile WHERE displayname = ?", displayName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrDeviceNotFound
		}
		return "", fmt.Errorf("querying username by display name: %w", err)
	}
	return username, nil
}

// Profile returns the profile stored for username.
func (r *SQLiteRepository) Profile(ctx context.Context, username string) (*Profile, error) {
	var p Profile
	err := sqlx.GetContext(ctx, r.q, &p, `
		SELECT username, displayname, type, connected, status
		FROM profile
		WHERE username = ?`, username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying profile: %w", err)
	}
	return &p, nil
}

// Exists reports whether username has a profile.
func (r *SQLiteRepository) Exists(ctx context.Context, username string) (bool, error) {
	var count int
	if err := sqlx.GetContext(ctx, r.q, &count,
		"SELECT COUNT(*) FROM profile WHERE username = ?", username); err != nil {
		return false, fmt.Errorf("checking profile exists: %w", err)
	}
	return count > 0, nil
}

// DisplayNameInUse reports whether displayName is taken.
func (r *SQLiteRepository) DisplayNameInUse(ctx context.Context, displayName string) (bool, error) {
	var count int
	if err := sqlx.GetContext(ctx, r.q, &count,
		"SELECT COUNT(*) FROM profile WHERE displayname = ?", displayName); err != nil {
		return false, fmt.Errorf("checking display name: %w", err)
	}
	return count > 0, nil
}

// Create inserts a profile and its credential.
func (r *SQLiteRepository) Create(ctx context.Context, p Profile, cred Credential) error {
	if err := ValidateName(p.Username); err != nil {
		return err
	}
	if err := ValidateName(p.DisplayName); err != nil {
		return err
	}

	exists, err := r.Exists(ctx, p.Username)
	if err != nil {
		return err
	}
	if exists {
		return ErrUsernameTaken
	}

	_, err = sqlx.NamedExecContext(ctx, r.q, `
		INSERT INTO profile (username, displayname, type, connected, status)
		VALUES (:username, :displayname, :type, :connected, :status)`, p)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDisplayNameTaken
		}
		return fmt.Errorf("inserting profile: %w", err)
	}

	cred.Username = p.Username
	return r.SetCredential(ctx, cred)
}

// Rename changes the display name of username.
func (r *SQLiteRepository) Rename(ctx context.Context, username, displayName string) error {
	if err := ValidateName(displayName); err != nil {
		return err
	}

	result, err := r.q.ExecContext(ctx,
		"UPDATE profile SET displayname = ? WHERE username = ?", displayName, username)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDisplayNameTaken
		}
		return fmt.Errorf("renaming profile: %w", err)
	}
	return requireRow(result)
}

// Delete removes username's profile. Foreign keys cascade the delete to the
// auth and schedule tables.
func (r *SQLiteRepository) Delete(ctx context.Context, username string) error {
	result, err := r.q.ExecContext(ctx, "DELETE FROM profile WHERE username = ?", username)
	if err != nil {
		return fmt.Errorf("deleting profile: %w", err)
	}
	return requireRow(result)
}

// SetConnected updates the connection flag.
func (r *SQLiteRepository) SetConnected(ctx context.Context, username string, connected bool) error {
	result, err := r.q.ExecContext(ctx,
		"UPDATE profile SET connected = ? WHERE username = ?", boolToInt(connected), username)
	if err != nil {
		return fmt.Errorf("updating connection state: %w", err)
	}
	return requireRow(result)
}

// SetStatus updates the last known status.
func (r *SQLiteRepository) SetStatus(ctx context.Context, username, status string) error {
	result, err := r.q.ExecContext(ctx,
		"UPDATE profile SET status = ? WHERE username = ?", status, username)
	if err != nil {
		return fmt.Errorf("updating status: %w", err)
	}
	return requireRow(result)
}

// DisconnectAll marks every device disconnected.
func (r *SQLiteRepository) DisconnectAll(ctx context.Context) ([]string, error) {
	var usernames []string
	if err := sqlx.SelectContext(ctx, r.q, &usernames,
		"SELECT username FROM profile WHERE type != ? ORDER BY username", SuperuserType); err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}

	if _, err := r.q.ExecContext(ctx,
		"UPDATE profile SET connected = 0 WHERE type != ?", SuperuserType); err != nil {
		return nil, fmt.Errorf("marking devices disconnected: %w", err)
	}
	return usernames, nil
}

// Devices lists every non-superuser profile.
func (r *SQLiteRepository) Devices(ctx context.Context) ([]Profile, error) {
	profiles := []Profile{}
	if err := sqlx.SelectContext(ctx, r.q, &profiles, `
		SELECT username, displayname, type, connected, status
		FROM profile
		WHERE type != ?
		ORDER BY displayname`, SuperuserType); err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	return profiles, nil
}

// Credential returns the credential stored for username.
func (r *SQLiteRepository) Credential(ctx context.Context, username string) (*Credential, error) {
	var cred Credential
	err := sqlx.GetContext(ctx, r.q, &cred,
		"SELECT username, hash, salt FROM auth WHERE username = ?", username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCredentialNotFound
		}
		return nil, fmt.Errorf("querying credential: %w", err)
	}
	return &cred, nil
}

// SetCredential inserts or replaces the credential of cred.Username.
func (r *SQLiteRepository) SetCredential(ctx context.Context, cred Credential) error {
	_, err := sqlx.NamedExecContext(ctx, r.q, `
		INSERT INTO auth (username, hash, salt)
		VALUES (:username, :hash, :salt)
		ON CONFLICT(username) DO UPDATE SET hash = excluded.hash, salt = excluded.salt`, cred)
	if err != nil {
		if isForeignKeyError(err) {
			return ErrDeviceNotFound
		}
		return fmt.Errorf("storing credential: %w", err)
	}
	return nil
}

// eventRow maps a schedule table row.
type eventRow struct {
	Command   string `db:"command"`
	Fuzzy     bool   `db:"fuzzy"`
	Recurrent bool   `db:"recurrent"`
	FireDate  int64  `db:"firedate"`
	Weekday   int    `db:"weekday"`
	Hours     int    `db:"hours"`
	Minutes   int    `db:"minutes"`
}

func newEventRow(ev schedule.Event) eventRow {
	return eventRow{
		Command:   ev.Command,
		Fuzzy:     ev.Fuzzy,
		Recurrent: ev.Recurrent,
		FireDate:  ev.FireAt,
		Weekday:   ev.Weekday,
		Hours:     ev.Hour,
		Minutes:   ev.Minute,
	}
}

func (row eventRow) event() schedule.Event {
	return schedule.Event{
		Command:   row.Command,
		Fuzzy:     row.Fuzzy,
		Recurrent: row.Recurrent,
		FireAt:    row.FireDate,
		Weekday:   row.Weekday,
		Hour:      row.Hours,
		Minute:    row.Minutes,
	}
}

// eventMatch selects schedule rows equal to an event, field by field.
const eventMatch = `username = ? AND command = ? AND fuzzy = ? AND recurrent = ?
	AND firedate = ? AND weekday = ? AND hours = ? AND minutes = ?`

func eventMatchArgs(username string, row eventRow) []any {
	return []any{
		username, row.Command, boolToInt(row.Fuzzy), boolToInt(row.Recurrent),
		row.FireDate, row.Weekday, row.Hours, row.Minutes,
	}
}

// Events returns username's schedule.
func (r *SQLiteRepository) Events(ctx context.Context, username string) ([]schedule.Event, error) {
	var rows []eventRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, `
		SELECT command, fuzzy, recurrent, firedate, weekday, hours, minutes
		FROM schedule
		WHERE username = ?
		ORDER BY id`, username); err != nil {
		return nil, fmt.Errorf("querying schedule: %w", err)
	}

	events := make([]schedule.Event, 0, len(rows))
	for _, row := range rows {
		events = append(events, row.event())
	}
	return events, nil
}

// AddEvent stores ev unless an identical row already exists. added is
// false when the row was already there.
func (r *SQLiteRepository) AddEvent(ctx context.Context, username string, ev schedule.Event) (bool, error) {
	values := eventMatchArgs(username, newEventRow(ev))
	args := append(values, values...)

	result, err := r.q.ExecContext(ctx, `
		INSERT INTO schedule (username, command, fuzzy, recurrent, firedate, weekday, hours, minutes)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?
		WHERE NOT EXISTS (SELECT 1 FROM schedule WHERE `+eventMatch+`)`, args...)
	if err != nil {
		if isForeignKeyError(err) {
			return false, ErrDeviceNotFound
		}
		return false, fmt.Errorf("inserting scheduled event: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking inserted event: %w", err)
	}
	return n > 0, nil
}

// RemoveEvent deletes ev from username's schedule.
func (r *SQLiteRepository) RemoveEvent(ctx context.Context, username string, ev schedule.Event) error {
	if _, err := r.q.ExecContext(ctx,
		"DELETE FROM schedule WHERE "+eventMatch, eventMatchArgs(username, newEventRow(ev))...); err != nil {
		return fmt.Errorf("deleting scheduled event: %w", err)
	}
	return nil
}

// ClearEvents deletes username's whole schedule.
func (r *SQLiteRepository) ClearEvents(ctx context.Context, username string) error {
	if _, err := r.q.ExecContext(ctx, "DELETE FROM schedule WHERE username = ?", username); err != nil {
		return fmt.Errorf("clearing schedule: %w", err)
	}
	return nil
}

// requireRow maps an UPDATE or DELETE that touched nothing to ErrDeviceNotFound.
func requireRow(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// boolToInt converts a bool to SQLite's integer representation.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// isForeignKeyError checks if an error is a SQLite foreign key violation.
func isForeignKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
