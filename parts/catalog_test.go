package parts_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/bonus-engine/generic"
	"github.com/warp/bonus-engine/generic/store"
	"github.com/warp/bonus-engine/parts"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type recordingSyncer struct {
	triggers []generic.SyncTrigger
	err      error
}

func (s *recordingSyncer) SyncPartStatus(_ context.Context, trigger generic.SyncTrigger) (generic.SyncRun, error) {
	s.triggers = append(s.triggers, trigger)
	if s.err != nil {
		return generic.SyncRun{Trigger: trigger, Status: generic.SyncFailed}, s.err
	}
	return generic.SyncRun{ID: "run-1", Trigger: trigger, Status: generic.SyncCompleted}, nil
}

type recordingInvalidator struct {
	users []generic.UserID
}

func (i *recordingInvalidator) InvalidateUser(userID generic.UserID) {
	i.users = append(i.users, userID)
}

type catalogFixture struct {
	catalog     *parts.Catalog
	store       *store.Memory
	syncer      *recordingSyncer
	invalidator *recordingInvalidator
	clock       *generic.FakeClock
}

func newCatalogFixture(t *testing.T) *catalogFixture {
	t.Helper()
	f := &catalogFixture{
		store:       store.NewMemory(),
		syncer:      &recordingSyncer{},
		invalidator: &recordingInvalidator{},
		clock:       generic.NewFakeClock(time.Date(2024, time.May, 14, 15, 0, 0, 0, time.UTC)),
	}
	f.catalog = parts.NewCatalog(f.store, f.syncer, f.invalidator, nil, f.clock, nil)
	return f
}

func (f *catalogFixture) importSerials(t *testing.T, serials ...string) {
	t.Helper()
	inputs := make([]parts.PartInput, 0, len(serials))
	for _, s := range serials {
		inputs = append(inputs, parts.PartInput{Name: "Pump " + s, SerialNumber: s})
	}
	_, err := f.catalog.Import(context.Background(), inputs)
	require.NoError(t, err)
}

// =============================================================================
// IMPORT
// =============================================================================

func TestImport_SkipsDuplicatesAndSyncs(t *testing.T) {
	// GIVEN: A catalog holding PMP-001
	// WHEN: Importing PMP-001 again, PMP-002 twice and a blank serial
	// THEN: Only PMP-002 is added once and status is reconciled

	f := newCatalogFixture(t)
	f.importSerials(t, "PMP-001")

	result, err := f.catalog.Import(context.Background(), []parts.PartInput{
		{Name: "Pump", SerialNumber: " PMP-001 "},
		{Name: "", SerialNumber: "PMP-002"},
		{Name: "Pump again", SerialNumber: "PMP-002"},
		{Name: "Blank", SerialNumber: "   "},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Added)
	assert.Equal(t, 3, result.Skipped)
	assert.Equal(t, []string{"PMP-001", "PMP-002"}, result.SkippedSerials)
	require.NotNil(t, result.Sync)
	assert.Equal(t, generic.TriggerImport, result.Sync.Trigger)

	part, err := f.store.FindPartBySerial(context.Background(), "PMP-002")
	require.NoError(t, err)
	require.NotNil(t, part)
	assert.Equal(t, "PMP-002", part.Name, "blank names default to the serial")
	assert.Equal(t, f.clock.Now(), part.CreatedAt)
}

func TestImport_SyncFailureDoesNotFailImport(t *testing.T) {
	f := newCatalogFixture(t)
	f.syncer.err = errors.New("store busy")

	result, err := f.catalog.Import(context.Background(), []parts.PartInput{{SerialNumber: "VLV-001"}})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Added)
	assert.Nil(t, result.Sync)
}

// =============================================================================
// ENTRY SUBMISSION
// =============================================================================

func TestEnter_RecordsEventAndInvalidates(t *testing.T) {
	// GIVEN: An available part
	// WHEN: A technician enters it
	// THEN: An event is recorded at the current time, the part is entered and the user's cache is dropped

	f := newCatalogFixture(t)
	f.importSerials(t, "BRG-001")

	result, err := f.catalog.Enter(context.Background(), "tech-1", "BRG-001")
	require.NoError(t, err)

	assert.Equal(t, generic.UserID("tech-1"), result.Event.UserID)
	assert.Equal(t, f.clock.Now(), result.Event.EnteredAt)
	assert.False(t, result.Event.Paid)
	assert.True(t, result.Part.Status)
	assert.Equal(t, []generic.UserID{"tech-1"}, f.invalidator.users)

	remaining, err := f.catalog.Remaining(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)
}

func TestEnter_SerialWithStraySpaces(t *testing.T) {
	// GIVEN: A part with serial "SNS-001"
	// WHEN: The technician types "SNS - 001"
	// THEN: The compacted serial matches

	f := newCatalogFixture(t)
	f.importSerials(t, "SNS-001")

	result, err := f.catalog.Enter(context.Background(), "tech-1", "  SNS - 001 ")
	require.NoError(t, err)
	assert.Equal(t, "SNS-001", result.Part.SerialNumber)
}

func TestEnter_Errors(t *testing.T) {
	f := newCatalogFixture(t)
	f.importSerials(t, "FLT-001")
	ctx := context.Background()

	_, err := f.catalog.Enter(ctx, "tech-1", " ")
	assert.ErrorIs(t, err, generic.ErrEmptySerial)
	assert.True(t, generic.IsClientError(err))

	_, err = f.catalog.Enter(ctx, "tech-1", "FLT-999")
	assert.ErrorIs(t, err, generic.ErrPartNotFound)
	assert.True(t, generic.IsNotFound(err))

	_, err = f.catalog.Enter(ctx, "tech-1", "FLT-001")
	require.NoError(t, err)

	_, err = f.catalog.Enter(ctx, "tech-2", "FLT-001")
	assert.ErrorIs(t, err, generic.ErrPartAlreadyEntered)
}

func TestEnter_DuplicateEntryWhenStatusDrifted(t *testing.T) {
	// GIVEN: tech-1 entered a part whose status was later reset to false
	f := newCatalogFixture(t)
	f.importSerials(t, "GSK-001")
	ctx := context.Background()

	result, err := f.catalog.Enter(ctx, "tech-1", "GSK-001")
	require.NoError(t, err)
	require.NoError(t, f.store.ApplyStatusUpdate(ctx, []generic.PartID{result.Part.ID}, false))

	// WHEN: tech-1 enters it again
	_, err = f.catalog.Enter(ctx, "tech-1", "GSK-001")

	// THEN: The duplicate is refused
	assert.ErrorIs(t, err, generic.ErrDuplicateEntry)
}

func TestEnter_OtherUserRefusedWhenStatusDrifted(t *testing.T) {
	// GIVEN: tech-1 entered a part whose status was later reset to false
	f := newCatalogFixture(t)
	f.importSerials(t, "GSK-002")
	ctx := context.Background()

	result, err := f.catalog.Enter(ctx, "tech-1", "GSK-002")
	require.NoError(t, err)
	require.NoError(t, f.store.ApplyStatusUpdate(ctx, []generic.PartID{result.Part.ID}, false))

	// WHEN: tech-2 enters it
	_, err = f.catalog.Enter(ctx, "tech-2", "GSK-002")

	// THEN: The part still counts as entered
	assert.ErrorIs(t, err, generic.ErrPartAlreadyEntered)
	assert.True(t, generic.IsClientError(err))
}

// lockstepStore holds every caller at HasEntry until all of them arrive,
// so concurrent entries all pass the pre-write checks.
type lockstepStore struct {
	*store.Memory
	arrived sync.WaitGroup
}

func (s *lockstepStore) HasEntry(ctx context.Context, userID generic.UserID, partID generic.PartID) (bool, error) {
	s.arrived.Done()
	s.arrived.Wait()
	return s.Memory.HasEntry(ctx, userID, partID)
}

func TestEnter_ConcurrentUsersSamePart(t *testing.T) {
	// GIVEN: Two technicians who both pass the availability checks for SN-1
	mem := store.NewMemory()
	require.NoError(t, mem.InsertParts(context.Background(), []generic.Part{{ID: "p1", Name: "Seal", SerialNumber: "SN-1"}}))
	racing := &lockstepStore{Memory: mem}
	racing.arrived.Add(2)
	catalog := parts.NewCatalog(racing, &recordingSyncer{}, nil, nil, nil, nil)

	// WHEN: Both enter it at the same time
	users := []generic.UserID{"tech-alice", "tech-bob"}
	errs := make([]error, len(users))
	var wg sync.WaitGroup
	for i, u := range users {
		wg.Add(1)
		go func(i int, u generic.UserID) {
			defer wg.Done()
			_, errs[i] = catalog.Enter(context.Background(), u, "SN-1")
		}(i, u)
	}
	wg.Wait()

	// THEN: One entry is recorded and the other is refused
	won := 0
	for _, err := range errs {
		if err == nil {
			won++
			continue
		}
		assert.ErrorIs(t, err, generic.ErrPartAlreadyEntered)
	}
	assert.Equal(t, 1, won)

	events, err := mem.FetchAllPartEntryEvents(context.Background())
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestNormalizeSerial(t *testing.T) {
	assert.Equal(t, "AB 12", parts.NormalizeSerial("  AB \t 12 "))
	assert.Equal(t, "AB12", parts.CompactSerial("  AB \t 12 "))
	assert.Equal(t, "", parts.NormalizeSerial(" \n "))
}

// =============================================================================
// QUERIES
// =============================================================================

func TestList_SyncsBeforeReading(t *testing.T) {
	f := newCatalogFixture(t)
	f.importSerials(t, "PMP-002", "PMP-001")

	list, err := f.catalog.List(context.Background())
	require.NoError(t, err)

	require.Len(t, list, 2)
	assert.Equal(t, "PMP-001", list[0].SerialNumber)
	assert.Equal(t, []generic.SyncTrigger{generic.TriggerImport, generic.TriggerRead}, f.syncer.triggers)
}

func TestList_ServedWhenSyncFails(t *testing.T) {
	f := newCatalogFixture(t)
	f.importSerials(t, "PMP-001")
	f.syncer.err = errors.New("boom")

	list, err := f.catalog.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestEntries_NewestFirst(t *testing.T) {
	f := newCatalogFixture(t)
	f.importSerials(t, "VLV-001", "VLV-002")
	ctx := context.Background()

	_, err := f.catalog.Enter(ctx, "tech-1", "VLV-001")
	require.NoError(t, err)
	f.clock.Advance(time.Hour)
	_, err = f.catalog.Enter(ctx, "tech-1", "VLV-002")
	require.NoError(t, err)

	entries, err := f.catalog.Entries(ctx, "tech-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, entries[0].EnteredAt.After(entries[1].EnteredAt))
}

func TestStats(t *testing.T) {
	// GIVEN: Three parts, one entered yesterday and one today
	// WHEN: Computing stats at $1 per part
	// THEN: Today's count only includes today's entry

	f := newCatalogFixture(t)
	f.importSerials(t, "BRG-001", "BRG-002", "BRG-003")
	ctx := context.Background()
	require.NoError(t, f.store.SaveUser(ctx, generic.UserProfile{ID: "tech-1", Name: "Dana"}))

	f.clock.Advance(-24 * time.Hour)
	_, err := f.catalog.Enter(ctx, "tech-1", "BRG-001")
	require.NoError(t, err)
	f.clock.Advance(24 * time.Hour)
	_, err = f.catalog.Enter(ctx, "tech-1", "BRG-002")
	require.NoError(t, err)

	stats, err := f.catalog.Stats(ctx, time.UTC, generic.NewAmountFromInt(1, generic.UnitDollars))
	require.NoError(t, err)

	assert.Equal(t, 3, stats.TotalParts)
	assert.Equal(t, 1, stats.EnteredToday)
	assert.Equal(t, 1, stats.TotalUsers)
	assert.Equal(t, "$2.00", stats.TotalBonus.Currency())
}
