package sqlite_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/bonus-engine/generic"
	"github.com/warp/bonus-engine/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(filepath.Join(t.TempDir(), "bonus.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func at(month time.Month, d int) time.Time {
	return time.Date(2024, month, d, 10, 30, 0, 0, time.UTC)
}

func seedParts(t *testing.T, s *sqlite.Store, ids ...string) {
	t.Helper()
	parts := make([]generic.Part, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, generic.Part{
			ID: generic.PartID(id), Name: "Bearing", SerialNumber: "SN-" + id, CreatedAt: at(time.January, 1),
		})
	}
	require.NoError(t, s.InsertParts(context.Background(), parts))
}

func entry(id, user, part string, enteredAt time.Time) generic.PartEntryEvent {
	return generic.PartEntryEvent{
		ID: generic.EventID(id), UserID: generic.UserID(user), PartID: generic.PartID(part), EnteredAt: enteredAt,
	}
}

// =============================================================================
// ENTRIES & READ SIDE
// =============================================================================

func TestStore_RecordEntryMarksPartAndRoundTrips(t *testing.T) {
	// GIVEN: Two parts
	s := newStore(t)
	ctx := context.Background()
	seedParts(t, s, "p1", "p2")

	// WHEN: Recording entries out of time order
	require.NoError(t, s.RecordEntry(ctx, entry("e2", "u1", "p2", at(time.March, 5))))
	require.NoError(t, s.RecordEntry(ctx, entry("e1", "u1", "p1", at(time.February, 5))))

	// THEN: Events come back ordered by entry time, parts are entered
	events, err := s.FetchAllPartEntryEvents(ctx)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, generic.EventID("e1"), events[0].ID)
	assert.True(t, events[0].EnteredAt.Equal(at(time.February, 5)))
	assert.False(t, events[0].Paid)
	assert.Nil(t, events[0].PaymentDate)

	entered, err := s.CountPartsByStatus(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 2, entered)

	byUser, err := s.EventsByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, byUser, 2)
	assert.Equal(t, generic.EventID("e2"), byUser[0].ID, "newest first")

	has, err := s.HasEntry(ctx, "u1", "p1")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestStore_RecordEntryUnknownPart(t *testing.T) {
	s := newStore(t)

	err := s.RecordEntry(context.Background(), entry("e1", "u1", "ghost", at(time.May, 1)))
	assert.ErrorIs(t, err, generic.ErrMissingReference)

	events, err := s.FetchAllPartEntryEvents(context.Background())
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestStore_PartEnteredOnlyOnce(t *testing.T) {
	// GIVEN: u1 entered p1, and p2 carries an entry while its status drifted to false
	s := newStore(t)
	ctx := context.Background()
	seedParts(t, s, "p1", "p2")
	require.NoError(t, s.RecordEntry(ctx, entry("e1", "u1", "p1", at(time.May, 1))))
	require.NoError(t, s.AppendEvent(ctx, entry("e2", "u1", "p2", at(time.May, 1))))

	// WHEN: u2 enters either part
	// THEN: Both are refused and no event is added
	assert.ErrorIs(t, s.RecordEntry(ctx, entry("e3", "u2", "p1", at(time.May, 2))), generic.ErrPartAlreadyEntered)
	assert.ErrorIs(t, s.RecordEntry(ctx, entry("e4", "u2", "p2", at(time.May, 2))), generic.ErrPartAlreadyEntered)

	events, err := s.FetchAllPartEntryEvents(ctx)
	require.NoError(t, err)
	assert.Len(t, events, 2)

	n, err := s.CountPartsByStatus(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "a refused entry leaves status untouched")
}

func TestStore_ConcurrentEntriesOfOnePart(t *testing.T) {
	// GIVEN: One part
	s := newStore(t)
	ctx := context.Background()
	seedParts(t, s, "p1")

	// WHEN: Eight users enter it at once
	const users = 8
	errs := make([]error, users)
	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("%d", i)
			errs[i] = s.RecordEntry(ctx, entry("e"+id, "u"+id, "p1", at(time.May, 1)))
		}(i)
	}
	wg.Wait()

	// THEN: Exactly one entry wins
	won := 0
	for _, err := range errs {
		if err == nil {
			won++
			continue
		}
		assert.ErrorIs(t, err, generic.ErrPartAlreadyEntered)
	}
	assert.Equal(t, 1, won)

	events, err := s.FetchAllPartEntryEvents(ctx)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestStore_DuplicateEntryRejected(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	seedParts(t, s, "p1")

	require.NoError(t, s.RecordEntry(ctx, entry("e1", "u1", "p1", at(time.May, 1))))
	err := s.RecordEntry(ctx, entry("e2", "u1", "p1", at(time.May, 2)))
	assert.ErrorIs(t, err, generic.ErrDuplicateEntry)
}

// =============================================================================
// WRITE BACK
// =============================================================================

func TestStore_ApplyPaymentUpdate(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	seedParts(t, s, "p1", "p2")
	require.NoError(t, s.RecordEntry(ctx, entry("e1", "u1", "p1", at(time.January, 5))))
	require.NoError(t, s.RecordEntry(ctx, entry("e2", "u1", "p2", at(time.January, 6))))

	paidOn := at(time.April, 2)
	require.NoError(t, s.ApplyPaymentUpdate(ctx, []generic.EventID{"e1", "e2"}, true, &paidOn))

	events, err := s.FetchAllPartEntryEvents(ctx)
	require.NoError(t, err)
	for _, e := range events {
		assert.True(t, e.Paid)
		require.NotNil(t, e.PaymentDate)
		assert.True(t, e.PaymentDate.Equal(paidOn))
	}

	// Reverting clears the date
	require.NoError(t, s.ApplyPaymentUpdate(ctx, []generic.EventID{"e1"}, false, nil))
	events, err = s.FetchAllPartEntryEvents(ctx)
	require.NoError(t, err)
	assert.False(t, events[0].Paid)
	assert.Nil(t, events[0].PaymentDate)
	assert.True(t, events[1].Paid)
}

func TestStore_ApplyPaymentUpdateIsAllOrNothing(t *testing.T) {
	// GIVEN: One real event
	s := newStore(t)
	ctx := context.Background()
	seedParts(t, s, "p1")
	require.NoError(t, s.RecordEntry(ctx, entry("e1", "u1", "p1", at(time.January, 5))))

	// WHEN: The batch also names an unknown event
	paidOn := at(time.April, 2)
	err := s.ApplyPaymentUpdate(ctx, []generic.EventID{"e1", "missing"}, true, &paidOn)

	// THEN: Nothing is written
	assert.ErrorIs(t, err, generic.ErrNotFound)
	events, err := s.FetchAllPartEntryEvents(ctx)
	require.NoError(t, err)
	assert.False(t, events[0].Paid)
}

func TestStore_ApplyStatusUpdate(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	seedParts(t, s, "p1", "p2")

	require.NoError(t, s.ApplyStatusUpdate(ctx, []generic.PartID{"p1", "p2"}, true))
	n, err := s.CountPartsByStatus(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	err = s.ApplyStatusUpdate(ctx, []generic.PartID{"p1", "nope"}, false)
	assert.ErrorIs(t, err, generic.ErrNotFound)
	n, err = s.CountPartsByStatus(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "failed batch rolled back")
}

// =============================================================================
// PARTS
// =============================================================================

func TestStore_InsertPartsDuplicateSerial(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	seedParts(t, s, "p1")

	err := s.InsertParts(ctx, []generic.Part{
		{ID: "p2", Name: "New", SerialNumber: "SN-p2"},
		{ID: "p3", Name: "Clash", SerialNumber: "SN-p1"},
	})
	assert.ErrorIs(t, err, generic.ErrDuplicateSerial)

	parts, err := s.FetchAllParts(ctx)
	require.NoError(t, err)
	assert.Len(t, parts, 1)

	found, err := s.FindPartBySerial(ctx, "SN-p1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, generic.PartID("p1"), found.ID)

	missing, err := s.FindPartBySerial(ctx, "SN-zzz")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

// =============================================================================
// USERS & SYNC RUNS
// =============================================================================

func TestStore_Users(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveUser(ctx, generic.UserProfile{ID: "u2", Name: "Bruno", Email: "bruno@example.com"}))
	require.NoError(t, s.SaveUser(ctx, generic.UserProfile{ID: "u1", Name: "Alice", Role: generic.RoleAdmin}))
	require.NoError(t, s.SaveUser(ctx, generic.UserProfile{ID: "u2", Name: "Bruno Keller", Email: "bruno@example.com"}))

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "Alice", users[0].Name)
	assert.Equal(t, "Bruno Keller", users[1].Name)
	assert.Equal(t, generic.RoleUser, users[1].Role)

	u, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, generic.RoleAdmin, u.Role)
	assert.Equal(t, "", u.Email)

	ghost, err := s.GetUser(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, ghost)

	dir, err := s.FetchUserDirectory(ctx)
	require.NoError(t, err)
	assert.Len(t, dir, 2)
}

func TestStore_SyncRuns(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	first := generic.SyncRun{ID: "r1", Trigger: generic.TriggerImport, Status: generic.SyncRunning, StartedAt: at(time.June, 1)}
	require.NoError(t, s.SaveSyncRun(ctx, first))

	done := at(time.June, 1).Add(time.Second)
	first.Status = generic.SyncCompleted
	first.UpdatedToTrue = 3
	first.CompletedAt = &done
	require.NoError(t, s.SaveSyncRun(ctx, first))

	require.NoError(t, s.SaveSyncRun(ctx, generic.SyncRun{
		ID: "r2", Trigger: generic.TriggerManual, Status: generic.SyncFailed, Error: "boom", StartedAt: at(time.June, 2),
	}))

	runs, err := s.ListSyncRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r2", runs[0].ID)
	assert.Equal(t, "boom", runs[0].Error)
	assert.Nil(t, runs[0].CompletedAt)

	assert.Equal(t, generic.SyncCompleted, runs[1].Status)
	assert.Equal(t, 3, runs[1].UpdatedToTrue)
	require.NotNil(t, runs[1].CompletedAt)
	assert.True(t, runs[1].CompletedAt.Equal(done))

	limited, err := s.ListSyncRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestStore_Reset(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	seedParts(t, s, "p1")
	require.NoError(t, s.SaveUser(ctx, generic.UserProfile{ID: "u1", Name: "Alice"}))
	require.NoError(t, s.RecordEntry(ctx, entry("e1", "u1", "p1", at(time.May, 1))))

	require.NoError(t, s.Reset(ctx))

	parts, _ := s.FetchAllParts(ctx)
	events, _ := s.FetchAllPartEntryEvents(ctx)
	users, _ := s.ListUsers(ctx)
	assert.Empty(t, parts)
	assert.Empty(t, events)
	assert.Empty(t, users)
}
