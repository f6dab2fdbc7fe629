/*
Package parts manages the spare-parts catalog and part entry submissions.

PURPOSE:
  The catalog side of the bonus system: admins import parts in bulk,
  technicians enter a part by serial number, and each entry becomes a
  PartEntryEvent that the bonus package later aggregates.

STATUS SYNC:
  Part.Status mirrors the entry log. The catalog asks a Syncer to
  reconcile after every import and before every listing, so a listing
  never shows a part as available once someone has entered it.

SERIAL NUMBERS:
  Serials are trimmed and inner whitespace is collapsed before lookup.
  If no part matches, the lookup retries with all whitespace removed,
  which catches serials typed with stray spaces.

SEE ALSO:
  - bonus/service.go: Syncer implementation
  - generic/store.go: PartStore, EntryStore
*/
package parts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/warp/bonus-engine/generic"
	"github.com/warp/bonus-engine/metrics"
	"go.uber.org/zap"
)

// Store is the persistence surface the catalog needs.
type Store interface {
	generic.EventSource
	generic.UserDirectory
	generic.PartStore
	generic.EntryStore
}

// Syncer reconciles part status with the entry log.
type Syncer interface {
	SyncPartStatus(ctx context.Context, trigger generic.SyncTrigger) (generic.SyncRun, error)
}

// Invalidator drops cached views of a user's bonus data.
type Invalidator interface {
	InvalidateUser(userID generic.UserID)
}

type Catalog struct {
	store       Store
	syncer      Syncer
	invalidator Invalidator
	metrics     *metrics.Collectors
	clock       generic.Clock
	logger      *zap.Logger
}

func NewCatalog(store Store, syncer Syncer, invalidator Invalidator, m *metrics.Collectors, clock generic.Clock, logger *zap.Logger) *Catalog {
	if clock == nil {
		clock = generic.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{
		store:       store,
		syncer:      syncer,
		invalidator: invalidator,
		metrics:     m,
		clock:       clock,
		logger:      logger.With(zap.String("component", "catalog")),
	}
}

// =============================================================================
// IMPORT
// =============================================================================

// PartInput is one row of a catalog import.
type PartInput struct {
	Name         string
	SerialNumber string
}

type ImportResult struct {
	Added          int
	Skipped        int
	SkippedSerials []string
	Sync           *generic.SyncRun
}

// Import inserts parts whose serial number is not already in the catalog
// (or earlier in the same batch), then reconciles part status.
func (c *Catalog) Import(ctx context.Context, inputs []PartInput) (ImportResult, error) {
	result := ImportResult{SkippedSerials: make([]string, 0)}
	seen := make(map[string]bool, len(inputs))
	now := c.clock.Now()

	var fresh []generic.Part
	for _, in := range inputs {
		serial := NormalizeSerial(in.SerialNumber)
		if serial == "" {
			result.Skipped++
			continue
		}
		if seen[serial] {
			result.Skipped++
			result.SkippedSerials = append(result.SkippedSerials, serial)
			continue
		}
		seen[serial] = true

		existing, err := c.store.FindPartBySerial(ctx, serial)
		if err != nil {
			return ImportResult{}, &generic.OperationError{Op: "lookup part", Err: err}
		}
		if existing != nil {
			result.Skipped++
			result.SkippedSerials = append(result.SkippedSerials, serial)
			continue
		}

		name := strings.TrimSpace(in.Name)
		if name == "" {
			name = serial
		}
		fresh = append(fresh, generic.Part{
			ID:           generic.PartID(uuid.NewString()),
			Name:         name,
			SerialNumber: serial,
			CreatedAt:    now,
		})
	}

	if len(fresh) > 0 {
		if err := c.store.InsertParts(ctx, fresh); err != nil {
			return ImportResult{}, &generic.OperationError{Op: "insert parts", Err: err}
		}
	}
	result.Added = len(fresh)
	c.metrics.Import(result.Added, result.Skipped)

	run, err := c.syncer.SyncPartStatus(ctx, generic.TriggerImport)
	if err != nil {
		// The parts are in; status converges on the next sync
		c.logger.Warn("post-import status sync failed", zap.Error(err))
	} else {
		result.Sync = &run
	}

	c.logger.Info("parts imported", zap.Int("added", result.Added), zap.Int("skipped", result.Skipped))
	return result, nil
}

// =============================================================================
// ENTRY SUBMISSION
// =============================================================================

type EntryResult struct {
	Event generic.PartEntryEvent
	Part  generic.Part
}

// Enter records that userID entered the part with the given serial.
func (c *Catalog) Enter(ctx context.Context, userID generic.UserID, serial string) (result EntryResult, err error) {
	defer func() { c.metrics.Entry(err) }()

	part, err := c.resolve(ctx, serial)
	if err != nil {
		return EntryResult{}, err
	}
	if part.Status {
		return EntryResult{}, fmt.Errorf("%w: %s", generic.ErrPartAlreadyEntered, part.SerialNumber)
	}

	dup, err := c.store.HasEntry(ctx, userID, part.ID)
	if err != nil {
		return EntryResult{}, &generic.OperationError{Op: "check existing entry", Err: err}
	}
	if dup {
		return EntryResult{}, fmt.Errorf("%w: %s", generic.ErrDuplicateEntry, part.SerialNumber)
	}

	event := generic.PartEntryEvent{
		ID:        generic.EventID(uuid.NewString()),
		UserID:    userID,
		PartID:    part.ID,
		EnteredAt: c.clock.Now(),
	}
	if err := c.store.RecordEntry(ctx, event); err != nil {
		// Lost a race with a concurrent entry of the same part
		if errors.Is(err, generic.ErrPartAlreadyEntered) || errors.Is(err, generic.ErrDuplicateEntry) {
			return EntryResult{}, fmt.Errorf("%w: %s", err, part.SerialNumber)
		}
		return EntryResult{}, &generic.OperationError{Op: "record entry", Err: err}
	}
	if c.invalidator != nil {
		c.invalidator.InvalidateUser(userID)
	}

	part.Status = true
	c.logger.Info("part entered",
		zap.String("user_id", string(userID)),
		zap.String("serial", part.SerialNumber),
	)
	return EntryResult{Event: event, Part: *part}, nil
}

func (c *Catalog) resolve(ctx context.Context, serial string) (*generic.Part, error) {
	normalized := NormalizeSerial(serial)
	if normalized == "" {
		return nil, generic.ErrEmptySerial
	}

	part, err := c.store.FindPartBySerial(ctx, normalized)
	if err != nil {
		return nil, &generic.OperationError{Op: "lookup part", Err: err}
	}
	if part == nil {
		if compact := CompactSerial(normalized); compact != normalized {
			part, err = c.store.FindPartBySerial(ctx, compact)
			if err != nil {
				return nil, &generic.OperationError{Op: "lookup part", Err: err}
			}
		}
	}
	if part == nil {
		return nil, fmt.Errorf("%w: %s", generic.ErrPartNotFound, normalized)
	}
	return part, nil
}

// NormalizeSerial trims the serial and collapses inner whitespace runs.
func NormalizeSerial(serial string) string {
	return strings.Join(strings.Fields(serial), " ")
}

// CompactSerial removes all whitespace.
func CompactSerial(serial string) string {
	return strings.Join(strings.Fields(serial), "")
}

// =============================================================================
// QUERIES
// =============================================================================

// List reconciles status and returns the catalog. A failed sync is logged
// and the listing is still served.
func (c *Catalog) List(ctx context.Context) ([]generic.Part, error) {
	if _, err := c.syncer.SyncPartStatus(ctx, generic.TriggerRead); err != nil {
		c.logger.Warn("pre-read status sync failed", zap.Error(err))
	}
	parts, err := c.store.FetchAllParts(ctx)
	if err != nil {
		return nil, &generic.OperationError{Op: "fetch parts", Err: err}
	}
	return parts, nil
}

// Remaining counts parts nobody has entered yet.
func (c *Catalog) Remaining(ctx context.Context) (int, error) {
	n, err := c.store.CountPartsByStatus(ctx, false)
	if err != nil {
		return 0, &generic.OperationError{Op: "count remaining parts", Err: err}
	}
	return n, nil
}

// Entries returns the user's entries, newest first.
func (c *Catalog) Entries(ctx context.Context, userID generic.UserID) ([]generic.PartEntryEvent, error) {
	events, err := c.store.EventsByUser(ctx, userID)
	if err != nil {
		return nil, &generic.OperationError{Op: "fetch user entries", Err: err}
	}
	return events, nil
}

type Stats struct {
	TotalParts   int
	EnteredToday int
	TotalUsers   int
	TotalBonus   generic.Amount
}

// Stats summarizes the catalog for the admin dashboard. "Today" is the
// current day in loc.
func (c *Catalog) Stats(ctx context.Context, loc *time.Location, rate generic.Amount) (Stats, error) {
	if loc == nil {
		loc = time.Local
	}
	parts, err := c.store.FetchAllParts(ctx)
	if err != nil {
		return Stats{}, &generic.OperationError{Op: "fetch parts", Err: err}
	}
	events, err := c.store.FetchAllPartEntryEvents(ctx)
	if err != nil {
		return Stats{}, &generic.OperationError{Op: "fetch part entry events", Err: err}
	}
	users, err := c.store.FetchUserDirectory(ctx)
	if err != nil {
		return Stats{}, &generic.OperationError{Op: "fetch user directory", Err: err}
	}

	today := c.clock.Now().In(loc)
	entered := 0
	for _, e := range events {
		if generic.SameDay(e.EnteredAt.In(loc), today) {
			entered++
		}
	}
	return Stats{
		TotalParts:   len(parts),
		EnteredToday: entered,
		TotalUsers:   len(users),
		TotalBonus:   rate.Times(len(events)),
	}, nil
}
