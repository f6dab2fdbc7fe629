package bonus_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/warp/bonus-engine/bonus"
	"github.com/warp/bonus-engine/generic"
)

func catalogParts(ids ...string) []generic.Part {
	parts := make([]generic.Part, len(ids))
	for i, id := range ids {
		parts[i] = generic.Part{ID: generic.PartID(id), Name: "Part " + id, SerialNumber: "SN-" + id}
	}
	return parts
}

func entriesFor(partIDs ...string) []generic.PartEntryEvent {
	events := make([]generic.PartEntryEvent, len(partIDs))
	for i, id := range partIDs {
		events[i] = pendingEvent("e-"+id, "A", id, day(2024, time.January, i+1))
	}
	return events
}

func TestSyncPartStatus_MarksEnteredParts(t *testing.T) {
	// GIVEN: Parts 1..5, events referencing 1, 2, 3
	// WHEN: Syncing
	// THEN: 1-3 are entered, 4-5 are not

	parts := catalogParts("1", "2", "3", "4", "5")
	result := bonus.SyncPartStatus(entriesFor("1", "2", "3"), parts)

	assert.Equal(t, []generic.PartID{"1", "2", "3"}, result.UpdatedToTrue)
	assert.Empty(t, result.ResetToFalse)
	for _, p := range parts {
		want := p.ID == "1" || p.ID == "2" || p.ID == "3"
		assert.Equal(t, want, p.Status, "part %s", p.ID)
	}
}

func TestSyncPartStatus_ResetsStaleFlags(t *testing.T) {
	parts := catalogParts("1", "2")
	parts[1].Status = true

	result := bonus.SyncPartStatus(entriesFor("1"), parts)

	assert.Equal(t, []generic.PartID{"1"}, result.UpdatedToTrue)
	assert.Equal(t, []generic.PartID{"2"}, result.ResetToFalse)
	assert.Equal(t, 2, result.Changed())
	assert.False(t, parts[1].Status)
}

func TestSyncPartStatus_Idempotent(t *testing.T) {
	// GIVEN: A drifted catalog
	// WHEN: Syncing twice
	// THEN: The second run changes nothing and verification is consistent

	parts := catalogParts("1", "2", "3", "4")
	parts[3].Status = true
	events := entriesFor("1", "3")

	first := bonus.SyncPartStatus(events, parts)
	second := bonus.SyncPartStatus(events, parts)

	assert.Equal(t, 3, first.Changed())
	assert.Equal(t, 0, second.Changed())
	assert.True(t, bonus.VerifyPartStatusSync(events, parts).Consistent)
}

func TestVerifyPartStatusSync_ReportsDrift(t *testing.T) {
	// GIVEN: Part 1 entered but false, part 2 true without an entry, and an
	//        event for part 9 which is not in the catalog
	// WHEN: Verifying
	// THEN: Each kind of drift is listed; the dangling ref does not affect consistency

	parts := catalogParts("1", "2", "3")
	parts[1].Status = true
	parts[2].Status = true
	events := entriesFor("1", "3", "9")

	v := bonus.VerifyPartStatusSync(events, parts)

	assert.False(t, v.Consistent)
	assert.Equal(t, []generic.PartID{"1"}, v.MissingTrue)
	assert.Equal(t, []generic.PartID{"2"}, v.ExtraTrue)
	assert.Equal(t, []generic.PartID{"9"}, v.Dangling)
	assert.False(t, parts[0].Status, "verify never writes")

	bonus.SyncPartStatus(events, parts)
	v = bonus.VerifyPartStatusSync(events, parts)
	assert.True(t, v.Consistent)
	assert.Equal(t, []generic.PartID{"9"}, v.Dangling)
}

func TestVerifyPartStatusSync_EmptyIsConsistent(t *testing.T) {
	v := bonus.VerifyPartStatusSync(nil, nil)
	assert.True(t, v.Consistent)
	assert.Empty(t, v.MissingTrue)
	assert.Empty(t, v.ExtraTrue)
	assert.Empty(t, v.Dangling)
}
