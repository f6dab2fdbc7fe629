package bonus

import (
	"sort"

	"github.com/warp/bonus-engine/generic"
)

// =============================================================================
// PART STATUS RECONCILIATION
// =============================================================================

// SyncResult lists the parts whose status a sync changed.
type SyncResult struct {
	UpdatedToTrue []generic.PartID
	ResetToFalse  []generic.PartID
}

func (r SyncResult) Changed() int { return len(r.UpdatedToTrue) + len(r.ResetToFalse) }

// SyncPartStatus makes every part's Status equal "some event references
// it". parts is modified in place. Running it twice changes nothing the
// second time.
func SyncPartStatus(events []generic.PartEntryEvent, parts []generic.Part) SyncResult {
	entered := enteredParts(events)
	result := SyncResult{
		UpdatedToTrue: make([]generic.PartID, 0),
		ResetToFalse:  make([]generic.PartID, 0),
	}
	for i := range parts {
		want := entered[parts[i].ID]
		if parts[i].Status == want {
			continue
		}
		parts[i].Status = want
		if want {
			result.UpdatedToTrue = append(result.UpdatedToTrue, parts[i].ID)
		} else {
			result.ResetToFalse = append(result.ResetToFalse, parts[i].ID)
		}
	}
	return result
}

// Verification is a read-only audit of part status against the entry log.
type Verification struct {
	Consistent bool
	// MissingTrue are entered parts whose status is still false.
	MissingTrue []generic.PartID
	// ExtraTrue are parts marked entered that no event references.
	ExtraTrue []generic.PartID
	// Dangling are part ids referenced by events but absent from the catalog.
	// They are reported but do not affect Consistent.
	Dangling []generic.PartID
}

// VerifyPartStatusSync reports every part whose status disagrees with the
// entry log, without modifying anything.
func VerifyPartStatusSync(events []generic.PartEntryEvent, parts []generic.Part) Verification {
	entered := enteredParts(events)
	v := Verification{
		MissingTrue: make([]generic.PartID, 0),
		ExtraTrue:   make([]generic.PartID, 0),
		Dangling:    make([]generic.PartID, 0),
	}

	known := make(map[generic.PartID]bool, len(parts))
	for _, p := range parts {
		known[p.ID] = true
		switch {
		case entered[p.ID] && !p.Status:
			v.MissingTrue = append(v.MissingTrue, p.ID)
		case !entered[p.ID] && p.Status:
			v.ExtraTrue = append(v.ExtraTrue, p.ID)
		}
	}
	for id := range entered {
		if !known[id] {
			v.Dangling = append(v.Dangling, id)
		}
	}
	sort.Slice(v.Dangling, func(i, j int) bool { return v.Dangling[i] < v.Dangling[j] })

	v.Consistent = len(v.MissingTrue) == 0 && len(v.ExtraTrue) == 0
	return v
}

func enteredParts(events []generic.PartEntryEvent) map[generic.PartID]bool {
	entered := make(map[generic.PartID]bool)
	for _, e := range events {
		entered[e.PartID] = true
	}
	return entered
}
