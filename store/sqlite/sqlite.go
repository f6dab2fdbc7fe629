/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements generic.Store (events, parts, users, write-back, sync runs)
  using SQLite. In production the same patterns apply to PostgreSQL with
  only minor SQL dialect differences.

KEY TABLES:
  users:          User directory (id, name, email, role)
  parts:          Catalog with the denormalized status column
  entered_parts:  Part entry events with payment fields
  sync_runs:      Audit trail of part status reconciliation

INDEXES:
  - idx_parts_serial:           Unique serial numbers (import dedup)
  - idx_entered_parts_user:     Per-user entry lookups and payment selection
  - idx_entered_parts_part:     Status reconciliation
  - idx_entered_parts_user_part: One entry per (user, part)

ATOMIC BATCHES:
  ApplyPaymentUpdate, ApplyStatusUpdate, InsertParts and RecordEntry each
  run in one SQL transaction. An unknown id rolls the whole batch back.

TIMESTAMPS:
  Stored as fixed-width UTC text so lexical order equals time order.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

USAGE:
  store, err := sqlite.New("./data/bonus.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool with versioned migrations.

SEE ALSO:
  - generic/store.go: Interface definitions
  - generic/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/bonus-engine/generic"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ generic.Store = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Every connection to ":memory:" is a separate database
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		role TEXT NOT NULL DEFAULT 'user',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS parts (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		serial_number TEXT NOT NULL,
		status INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_parts_serial
		ON parts(serial_number);
	CREATE INDEX IF NOT EXISTS idx_parts_status
		ON parts(status);

	-- Entry events. user_id and part_id are not foreign keys: the
	-- aggregation tolerates dangling references and reports them.
	CREATE TABLE IF NOT EXISTS entered_parts (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		part_id TEXT NOT NULL,
		entered_at TEXT NOT NULL,
		paid INTEGER NOT NULL DEFAULT 0,
		payment_date TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_entered_parts_user
		ON entered_parts(user_id, entered_at);
	CREATE INDEX IF NOT EXISTS idx_entered_parts_part
		ON entered_parts(part_id);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_entered_parts_user_part
		ON entered_parts(user_id, part_id);

	CREATE TABLE IF NOT EXISTS sync_runs (
		id TEXT PRIMARY KEY,
		trigger TEXT NOT NULL,
		status TEXT NOT NULL,
		updated_to_true INTEGER NOT NULL DEFAULT 0,
		reset_to_false INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_sync_runs_started
		ON sync_runs(started_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// READ SIDE
// =============================================================================

// FetchAllPartEntryEvents returns every entry event ordered by entry time.
func (s *Store) FetchAllPartEntryEvents(ctx context.Context) ([]generic.PartEntryEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryEvents(ctx, `
		SELECT id, user_id, part_id, entered_at, paid, payment_date
		FROM entered_parts
		ORDER BY entered_at ASC, id ASC
	`)
}

// FetchAllParts returns the catalog ordered by serial number.
func (s *Store) FetchAllParts(ctx context.Context) ([]generic.Part, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, serial_number, status, created_at FROM parts ORDER BY serial_number",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query parts: %w", err)
	}
	defer rows.Close()

	parts := make([]generic.Part, 0)
	for rows.Next() {
		p, err := scanPart(rows)
		if err != nil {
			return nil, err
		}
		parts = append(parts, p)
	}
	return parts, rows.Err()
}

// FetchUserDirectory returns every user keyed by id.
func (s *Store) FetchUserDirectory(ctx context.Context) (map[generic.UserID]generic.UserProfile, error) {
	users, err := s.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	dir := make(map[generic.UserID]generic.UserProfile, len(users))
	for _, u := range users {
		dir[u.ID] = u
	}
	return dir, nil
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]generic.PartEntryEvent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entry events: %w", err)
	}
	defer rows.Close()

	events := make([]generic.PartEntryEvent, 0)
	for rows.Next() {
		var e generic.PartEntryEvent
		var enteredAt string
		var paymentDate sql.NullString
		if err := rows.Scan(&e.ID, &e.UserID, &e.PartID, &enteredAt, &e.Paid, &paymentDate); err != nil {
			return nil, err
		}
		e.EnteredAt = parseTime(enteredAt)
		if paymentDate.Valid {
			t := parseTime(paymentDate.String)
			e.PaymentDate = &t
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func scanPart(rows *sql.Rows) (generic.Part, error) {
	var p generic.Part
	var createdAt string
	if err := rows.Scan(&p.ID, &p.Name, &p.SerialNumber, &p.Status, &createdAt); err != nil {
		return generic.Part{}, err
	}
	p.CreatedAt = parseTime(createdAt)
	return p, nil
}

// =============================================================================
// WRITE BACK
// =============================================================================

// ApplyPaymentUpdate sets paid and payment_date on every listed event.
func (s *Store) ApplyPaymentUpdate(ctx context.Context, ids []generic.EventID, paid bool, paymentDate *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var date sql.NullString
	if paid && paymentDate != nil {
		date = nullString(formatTime(*paymentDate))
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	stmt, err := sqlTx.PrepareContext(ctx, "UPDATE entered_parts SET paid = ?, payment_date = ? WHERE id = ?")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, id := range ids {
		res, err := stmt.ExecContext(ctx, paid, date, id)
		if err != nil {
			return fmt.Errorf("failed to update event %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return &generic.NotFoundError{Resource: "event", Key: string(id)}
		}
	}

	return sqlTx.Commit()
}

// ApplyStatusUpdate sets status on every listed part.
func (s *Store) ApplyStatusUpdate(ctx context.Context, ids []generic.PartID, status bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	stmt, err := sqlTx.PrepareContext(ctx, "UPDATE parts SET status = ? WHERE id = ?")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, id := range ids {
		res, err := stmt.ExecContext(ctx, status, id)
		if err != nil {
			return fmt.Errorf("failed to update part %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return &generic.NotFoundError{Resource: "part", Key: string(id)}
		}
	}

	return sqlTx.Commit()
}

// =============================================================================
// PART STORE
// =============================================================================

// InsertParts adds catalog parts atomically.
func (s *Store) InsertParts(ctx context.Context, parts []generic.Part) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	for _, p := range parts {
		_, err := sqlTx.ExecContext(ctx,
			"INSERT INTO parts (id, name, serial_number, status, created_at) VALUES (?, ?, ?, ?, ?)",
			p.ID, p.Name, p.SerialNumber, p.Status, formatTime(createdOrNow(p.CreatedAt)),
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return fmt.Errorf("%w: %s", generic.ErrDuplicateSerial, p.SerialNumber)
			}
			return fmt.Errorf("failed to insert part: %w", err)
		}
	}

	return sqlTx.Commit()
}

// FindPartBySerial returns nil, nil when no part has the serial.
func (s *Store) FindPartBySerial(ctx context.Context, serial string) (*generic.Part, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var p generic.Part
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, serial_number, status, created_at FROM parts WHERE serial_number = ?",
		serial,
	).Scan(&p.ID, &p.Name, &p.SerialNumber, &p.Status, &createdAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.CreatedAt = parseTime(createdAt)
	return &p, nil
}

// CountPartsByStatus counts parts with the given status.
func (s *Store) CountPartsByStatus(ctx context.Context, status bool) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM parts WHERE status = ?", status).Scan(&count)
	return count, err
}

// =============================================================================
// ENTRY STORE
// =============================================================================

// RecordEntry appends the event and marks its part entered in one transaction.
func (s *Store) RecordEntry(ctx context.Context, event generic.PartEntryEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	res, err := sqlTx.ExecContext(ctx, "UPDATE parts SET status = 1 WHERE id = ?", event.PartID)
	if err != nil {
		return fmt.Errorf("failed to update part status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &generic.MissingReferenceError{Kind: "part", ID: string(event.PartID)}
	}

	// A part is entered once, whoever entered it
	var paymentDate sql.NullString
	if event.PaymentDate != nil {
		paymentDate = nullString(formatTime(*event.PaymentDate))
	}
	res, err = sqlTx.ExecContext(ctx,
		`INSERT INTO entered_parts (id, user_id, part_id, entered_at, paid, payment_date)
		 SELECT ?, ?, ?, ?, ?, ?
		 WHERE NOT EXISTS (SELECT 1 FROM entered_parts WHERE part_id = ?)`,
		event.ID, event.UserID, event.PartID, formatTime(event.EnteredAt), event.Paid, paymentDate,
		event.PartID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return generic.ErrDuplicateEntry
		}
		return fmt.Errorf("failed to insert entry event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return entryConflict(ctx, sqlTx, event)
	}
	return sqlTx.Commit()
}

// entryConflict tells a user re-entering their own part apart from a part
// someone else already entered.
func entryConflict(ctx context.Context, tx *sql.Tx, event generic.PartEntryEvent) error {
	var own int
	err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM entered_parts WHERE part_id = ? AND user_id = ?",
		event.PartID, event.UserID,
	).Scan(&own)
	if err != nil {
		return fmt.Errorf("failed to check existing entry: %w", err)
	}
	if own > 0 {
		return generic.ErrDuplicateEntry
	}
	return generic.ErrPartAlreadyEntered
}

// AppendEvent inserts an event without touching part status. Demo
// scenarios use it to seed drifted data.
func (s *Store) AppendEvent(ctx context.Context, event generic.PartEntryEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertEvent(ctx, s.db, event)
}

func insertEvent(ctx context.Context, db interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}, e generic.PartEntryEvent) error {
	var paymentDate sql.NullString
	if e.PaymentDate != nil {
		paymentDate = nullString(formatTime(*e.PaymentDate))
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO entered_parts (id, user_id, part_id, entered_at, paid, payment_date)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.PartID, formatTime(e.EnteredAt), e.Paid, paymentDate,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return generic.ErrDuplicateEntry
		}
		return fmt.Errorf("failed to insert entry event: %w", err)
	}
	return nil
}

// HasEntry reports whether the user already entered the part.
func (s *Store) HasEntry(ctx context.Context, userID generic.UserID, partID generic.PartID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM entered_parts WHERE user_id = ? AND part_id = ?",
		userID, partID,
	).Scan(&count)
	return count > 0, err
}

// EventsByUser returns the user's events, newest first.
func (s *Store) EventsByUser(ctx context.Context, userID generic.UserID) ([]generic.PartEntryEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryEvents(ctx, `
		SELECT id, user_id, part_id, entered_at, paid, payment_date
		FROM entered_parts
		WHERE user_id = ?
		ORDER BY entered_at DESC, id DESC
	`, userID)
}

// =============================================================================
// USER STORE
// =============================================================================

// SaveUser inserts or updates a user.
func (s *Store) SaveUser(ctx context.Context, u generic.UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	role := u.Role
	if role == "" {
		role = generic.RoleUser
	}

	query := `
		INSERT INTO users (id, name, email, role, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			role = excluded.role
	`
	_, err := s.db.ExecContext(ctx, query,
		u.ID, u.Name, nullString(u.Email), role, formatTime(createdOrNow(u.CreatedAt)),
	)
	return err
}

// GetUser returns nil, nil for an unknown id.
func (s *Store) GetUser(ctx context.Context, id generic.UserID) (*generic.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var u generic.UserProfile
	var email sql.NullString
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, email, role, created_at FROM users WHERE id = ?", id,
	).Scan(&u.ID, &u.Name, &email, &u.Role, &createdAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.Email = email.String
	u.CreatedAt = parseTime(createdAt)
	return &u, nil
}

// ListUsers returns all users ordered by name.
func (s *Store) ListUsers(ctx context.Context) ([]generic.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, email, role, created_at FROM users ORDER BY name",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]generic.UserProfile, 0)
	for rows.Next() {
		var u generic.UserProfile
		var email sql.NullString
		var createdAt string
		if err := rows.Scan(&u.ID, &u.Name, &email, &u.Role, &createdAt); err != nil {
			return nil, err
		}
		u.Email = email.String
		u.CreatedAt = parseTime(createdAt)
		users = append(users, u)
	}
	return users, rows.Err()
}

// =============================================================================
// SYNC RUNS STORE
// =============================================================================

// SaveSyncRun inserts or updates a sync run.
func (s *Store) SaveSyncRun(ctx context.Context, r generic.SyncRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO sync_runs (id, trigger, status, updated_to_true, reset_to_false,
			error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			updated_to_true = excluded.updated_to_true,
			reset_to_false = excluded.reset_to_false,
			error = excluded.error,
			completed_at = excluded.completed_at
	`

	var completedAt sql.NullString
	if r.CompletedAt != nil {
		completedAt = nullString(formatTime(*r.CompletedAt))
	}

	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.Trigger, r.Status, r.UpdatedToTrue, r.ResetToFalse,
		nullString(r.Error), formatTime(r.StartedAt), completedAt,
	)
	return err
}

// ListSyncRuns returns sync runs, newest first. limit <= 0 means all.
func (s *Store) ListSyncRuns(ctx context.Context, limit int) ([]generic.SyncRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, trigger, status, updated_to_true, reset_to_false, error, started_at, completed_at
		FROM sync_runs
		ORDER BY started_at DESC
	`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := make([]generic.SyncRun, 0)
	for rows.Next() {
		var r generic.SyncRun
		var errText, completedAt sql.NullString
		var startedAt string
		if err := rows.Scan(
			&r.ID, &r.Trigger, &r.Status, &r.UpdatedToTrue, &r.ResetToFalse,
			&errText, &startedAt, &completedAt,
		); err != nil {
			return nil, err
		}
		r.Error = errText.String
		r.StartedAt = parseTime(startedAt)
		if completedAt.Valid {
			t := parseTime(completedAt.String)
			r.CompletedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"entered_parts", "parts", "users", "sync_runs"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func createdOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
