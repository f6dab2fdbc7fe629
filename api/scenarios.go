/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built datasets that populate the database with users,
	parts and entry events that demonstrate specific bonus behaviors.

AVAILABLE SCENARIOS:

	quarter-rollup:  Two technicians, one late entry after a Q1 payout
	late-entries:    Paid quarter followed by new unpaid parts
	multi-quarter:   A team across several quarters for trends and exports
	status-drift:    Part status out of sync with the entry log
	unknown-user:    Entries from a user missing from the directory

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create users
 3. Import parts
 4. Record entry events with fixed timestamps and payment state

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "late-entries"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx)
 3. Add case to LoadScenario handler

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/warp/bonus-engine/generic"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "quarter-rollup",
		Name:        "Quarter Rollup",
		Description: "Two technicians; Q1 2024 paid with one late entry, Q2 2024 pending",
	},
	{
		ID:          "late-entries",
		Name:        "Late Entries",
		Description: "Three parts paid in Q1 2025, two more entered after the payout",
	},
	{
		ID:          "multi-quarter",
		Name:        "Multi-Quarter Team",
		Description: "Three technicians across 2024-2025 with mixed payment state",
	},
	{
		ID:          "status-drift",
		Name:        "Status Drift",
		Description: "Part status disagrees with the entry log; run verify then sync",
	},
	{
		ID:          "unknown-user",
		Name:        "Unknown User",
		Description: "Entries from a user no longer in the directory",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current, Description: "Currently loaded scenario"})
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var loader func(context.Context) error
	switch req.ScenarioID {
	case "quarter-rollup":
		loader = h.loadQuarterRollupScenario
	case "late-entries":
		loader = h.loadLateEntriesScenario
	case "multi-quarter":
		loader = h.loadMultiQuarterScenario
	case "status-drift":
		loader = h.loadStatusDriftScenario
	case "unknown-user":
		loader = h.loadUnknownUserScenario
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	if err := loader(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	h.currentScenario = req.ScenarioID

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// reset must be called with h.mu held.
func (h *Handler) reset(ctx context.Context) error {
	if err := h.Store.Reset(ctx); err != nil {
		return err
	}
	h.Bonus.InvalidateAll()
	h.currentScenario = ""
	return nil
}

// =============================================================================
// SEEDING HELPERS
// =============================================================================

// eventAppender inserts events without flipping part status. Both stores
// implement it.
type eventAppender interface {
	AppendEvent(ctx context.Context, event generic.PartEntryEvent) error
}

type seeder struct {
	h     *Handler
	ctx   context.Context
	loc   *time.Location
	parts map[string]generic.PartID
	next  int
	err   error
}

func (h *Handler) newSeeder(ctx context.Context) *seeder {
	return &seeder{h: h, ctx: ctx, loc: h.location(), parts: make(map[string]generic.PartID)}
}

func (s *seeder) date(year int, month time.Month, day, hour int) time.Time {
	return time.Date(year, month, day, hour, 0, 0, 0, s.loc)
}

func (s *seeder) user(id, name, email string) {
	if s.err != nil {
		return
	}
	s.err = s.h.Store.SaveUser(s.ctx, generic.UserProfile{
		ID:        generic.UserID(id),
		Name:      name,
		Email:     email,
		Role:      generic.RoleUser,
		CreatedAt: s.date(2024, time.January, 2, 9),
	})
}

// catalog inserts n parts with serials prefix-001, prefix-002 and so on.
func (s *seeder) catalog(prefix, name string, n int) {
	if s.err != nil {
		return
	}
	batch := make([]generic.Part, 0, n)
	for i := 1; i <= n; i++ {
		serial := fmt.Sprintf("%s-%03d", prefix, i)
		id := generic.PartID("part-" + serial)
		s.parts[serial] = id
		batch = append(batch, generic.Part{
			ID:           id,
			Name:         name,
			SerialNumber: serial,
			CreatedAt:    s.date(2024, time.January, 2, 9),
		})
	}
	s.err = s.h.Store.InsertParts(s.ctx, batch)
}

// enter records an entry that flips part status. paidOn nil means pending.
func (s *seeder) enter(userID, serial string, at time.Time, paidOn *time.Time) {
	if s.err != nil {
		return
	}
	s.err = s.h.Store.RecordEntry(s.ctx, s.event(userID, serial, at, paidOn))
}

// drift records an entry without touching part status.
func (s *seeder) drift(userID, serial string, at time.Time) {
	if s.err != nil {
		return
	}
	appender, ok := s.h.Store.(eventAppender)
	if !ok {
		s.err = fmt.Errorf("store %T cannot seed drifted entries", s.h.Store)
		return
	}
	s.err = appender.AppendEvent(s.ctx, s.event(userID, serial, at, nil))
}

func (s *seeder) event(userID, serial string, at time.Time, paidOn *time.Time) generic.PartEntryEvent {
	s.next++
	partID, ok := s.parts[serial]
	if !ok {
		partID = generic.PartID("part-" + serial)
	}
	return generic.PartEntryEvent{
		ID:          generic.EventID(fmt.Sprintf("evt-%04d", s.next)),
		UserID:      generic.UserID(userID),
		PartID:      partID,
		EnteredAt:   at,
		Paid:        paidOn != nil,
		PaymentDate: paidOn,
	}
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadQuarterRollupScenario(ctx context.Context) error {
	s := h.newSeeder(ctx)
	s.user("tech-alice", "Alice Moreno", "alice.moreno@example.com")
	s.user("tech-bruno", "Bruno Keller", "bruno.keller@example.com")
	s.catalog("PMP", "Hydraulic pump", 4)

	payout := generic.TimePtr(s.date(2024, time.April, 5, 10))
	s.enter("tech-alice", "PMP-001", s.date(2024, time.January, 15, 10), payout)
	s.enter("tech-alice", "PMP-002", s.date(2024, time.February, 20, 14), payout)
	// Entered after the payout batch, still dated Q1
	s.enter("tech-alice", "PMP-003", s.date(2024, time.March, 28, 16), nil)
	s.enter("tech-bruno", "PMP-004", s.date(2024, time.May, 3, 11), nil)
	return s.err
}

func (h *Handler) loadLateEntriesScenario(ctx context.Context) error {
	s := h.newSeeder(ctx)
	s.user("tech-chen", "Chen Wei", "chen.wei@example.com")
	s.catalog("VLV", "Control valve", 5)

	payout := generic.TimePtr(s.date(2025, time.March, 20, 9))
	s.enter("tech-chen", "VLV-001", s.date(2025, time.January, 8, 10), payout)
	s.enter("tech-chen", "VLV-002", s.date(2025, time.February, 11, 10), payout)
	s.enter("tech-chen", "VLV-003", s.date(2025, time.March, 3, 10), payout)
	s.enter("tech-chen", "VLV-004", s.date(2025, time.March, 25, 15), nil)
	s.enter("tech-chen", "VLV-005", s.date(2025, time.March, 31, 23), nil)
	return s.err
}

func (h *Handler) loadMultiQuarterScenario(ctx context.Context) error {
	s := h.newSeeder(ctx)
	s.user("tech-alice", "Alice Moreno", "alice.moreno@example.com")
	s.user("tech-dana", "Dana Okafor", "dana.okafor@example.com")
	s.user("tech-erik", "Erik Lund", "erik.lund@example.com")
	s.catalog("BRG", "Bearing kit", 12)

	q3Payout := generic.TimePtr(s.date(2024, time.October, 4, 9))
	q4Payout := generic.TimePtr(s.date(2025, time.January, 6, 9))

	s.enter("tech-alice", "BRG-001", s.date(2024, time.July, 2, 9), q3Payout)
	s.enter("tech-alice", "BRG-002", s.date(2024, time.September, 30, 17), q3Payout)
	s.enter("tech-dana", "BRG-003", s.date(2024, time.August, 14, 13), q3Payout)
	s.enter("tech-dana", "BRG-004", s.date(2024, time.October, 1, 8), q4Payout)
	s.enter("tech-erik", "BRG-005", s.date(2024, time.November, 19, 12), q4Payout)
	s.enter("tech-erik", "BRG-006", s.date(2024, time.December, 31, 18), q4Payout)
	s.enter("tech-alice", "BRG-007", s.date(2025, time.January, 1, 7), nil)
	s.enter("tech-dana", "BRG-008", s.date(2025, time.February, 17, 10), nil)
	s.enter("tech-erik", "BRG-009", s.date(2025, time.April, 9, 15), nil)
	s.enter("tech-erik", "BRG-010", s.date(2025, time.June, 30, 16), nil)
	return s.err
}

func (h *Handler) loadStatusDriftScenario(ctx context.Context) error {
	s := h.newSeeder(ctx)
	s.user("tech-fatima", "Fatima Haddad", "fatima.haddad@example.com")
	s.catalog("FLT", "Air filter", 5)

	s.enter("tech-fatima", "FLT-001", s.date(2025, time.April, 2, 10), nil)
	// Entered but the status flag was never set
	s.drift("tech-fatima", "FLT-002", s.date(2025, time.April, 3, 10))
	s.drift("tech-fatima", "FLT-003", s.date(2025, time.April, 4, 10))
	if s.err != nil {
		return s.err
	}
	// Flagged as entered though nobody entered it
	return h.Store.ApplyStatusUpdate(ctx, []generic.PartID{s.parts["FLT-005"]}, true)
}

func (h *Handler) loadUnknownUserScenario(ctx context.Context) error {
	s := h.newSeeder(ctx)
	s.user("tech-gita", "Gita Rao", "gita.rao@example.com")
	s.catalog("SNS", "Pressure sensor", 3)

	s.enter("tech-gita", "SNS-001", s.date(2025, time.May, 6, 10), nil)
	s.enter("tech-departed", "SNS-002", s.date(2025, time.May, 7, 10), nil)
	s.enter("tech-departed", "SNS-003", s.date(2025, time.June, 2, 10), nil)
	return s.err
}
