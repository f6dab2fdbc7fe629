/*
store.go - Persistence interfaces for parts, entry events and users

PURPOSE:
  Defines the interface between the bonus logic and the database.
  The aggregation core is pure; everything it needs from the outside
  world comes through these interfaces, so SQLite, PostgreSQL or an
  in-memory map can back it.

KEY INTERFACES:
  EventSource:     Full reads of entry events and catalog parts
  UserDirectory:   User id -> profile lookup for report labels
  WriteBack:       Batch payment and part status updates
  PartStore:       Catalog import and lookup
  EntryStore:      Recording new part entries
  UserStore:       Directory maintenance
  SyncRunRecorder: Audit trail of status reconciliation runs

ATOMIC BATCHES:
  ApplyPaymentUpdate and ApplyStatusUpdate are all-or-nothing. Marking a
  quarter paid either updates every selected event or none of them.

IDEMPOTENCY:
  Both write-back operations set absolute values, so replaying the same
  call leaves the store unchanged.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite
  - generic/store/memory.go: In-memory for testing

SEE ALSO:
  - bonus/service.go: Orchestrates reads, pure computation and write-back
  - store/sqlite/sqlite.go: Concrete implementation
*/
package generic

import (
	"context"
	"time"
)

// =============================================================================
// READ SIDE
// =============================================================================

type EventSource interface {
	// FetchAllPartEntryEvents returns every entry event, ordered by EnteredAt.
	FetchAllPartEntryEvents(ctx context.Context) ([]PartEntryEvent, error)

	// FetchAllParts returns the whole catalog.
	FetchAllParts(ctx context.Context) ([]Part, error)
}

type UserDirectory interface {
	FetchUserDirectory(ctx context.Context) (map[UserID]UserProfile, error)
}

// =============================================================================
// WRITE SIDE
// =============================================================================

type WriteBack interface {
	// ApplyPaymentUpdate sets Paid and PaymentDate on every listed event.
	// paymentDate must be nil when paid is false.
	ApplyPaymentUpdate(ctx context.Context, ids []EventID, paid bool, paymentDate *time.Time) error

	// ApplyStatusUpdate sets Status on every listed part.
	ApplyStatusUpdate(ctx context.Context, ids []PartID, status bool) error
}

type PartStore interface {
	// InsertParts adds catalog parts. Serial numbers must be unique.
	InsertParts(ctx context.Context, parts []Part) error

	// FindPartBySerial returns nil, nil when no part has the serial.
	FindPartBySerial(ctx context.Context, serial string) (*Part, error)

	// CountPartsByStatus counts parts whose Status equals status.
	CountPartsByStatus(ctx context.Context, status bool) (int, error)
}

type EntryStore interface {
	// RecordEntry appends the event and marks its part entered, atomically.
	// A part is entered at most once: it returns ErrDuplicateEntry when the
	// same user already entered it and ErrPartAlreadyEntered when anyone
	// else did.
	RecordEntry(ctx context.Context, event PartEntryEvent) error

	// HasEntry reports whether the user already entered the part.
	HasEntry(ctx context.Context, userID UserID, partID PartID) (bool, error)

	// EventsByUser returns the user's events, newest first.
	EventsByUser(ctx context.Context, userID UserID) ([]PartEntryEvent, error)
}

type UserStore interface {
	SaveUser(ctx context.Context, user UserProfile) error
	// GetUser returns nil, nil for an unknown id.
	GetUser(ctx context.Context, id UserID) (*UserProfile, error)
	ListUsers(ctx context.Context) ([]UserProfile, error)
}

type SyncRunRecorder interface {
	SaveSyncRun(ctx context.Context, run SyncRun) error
	ListSyncRuns(ctx context.Context, limit int) ([]SyncRun, error)
}

// Store is the full persistence surface used by the server.
type Store interface {
	EventSource
	UserDirectory
	WriteBack
	PartStore
	EntryStore
	UserStore
	SyncRunRecorder

	// Reset clears all data (demo scenarios only).
	Reset(ctx context.Context) error
}
