// Package store provides Store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warp/bonus-engine/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	users    map[generic.UserID]generic.UserProfile
	parts    map[generic.PartID]generic.Part
	serials  map[string]generic.PartID
	events   []generic.PartEntryEvent
	syncRuns []generic.SyncRun
}

var _ generic.Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		users:   make(map[generic.UserID]generic.UserProfile),
		parts:   make(map[generic.PartID]generic.Part),
		serials: make(map[string]generic.PartID),
	}
}

// =============================================================================
// READ SIDE
// =============================================================================

func (m *Memory) FetchAllPartEntryEvents(_ context.Context) ([]generic.PartEntryEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]generic.PartEntryEvent, len(m.events))
	for i, e := range m.events {
		result[i] = copyEvent(e)
	}
	return result, nil
}

func (m *Memory) FetchAllParts(_ context.Context) ([]generic.Part, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]generic.Part, 0, len(m.parts))
	for _, p := range m.parts {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].SerialNumber < result[j].SerialNumber })
	return result, nil
}

func (m *Memory) FetchUserDirectory(_ context.Context) (map[generic.UserID]generic.UserProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	dir := make(map[generic.UserID]generic.UserProfile, len(m.users))
	for id, u := range m.users {
		dir[id] = u
	}
	return dir, nil
}

// =============================================================================
// WRITE BACK - All-or-nothing batches
// =============================================================================

func (m *Memory) ApplyPaymentUpdate(_ context.Context, ids []generic.EventID, paid bool, paymentDate *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Resolve every id before writing so a bad id leaves the store untouched
	index := make(map[generic.EventID]int, len(m.events))
	for i, e := range m.events {
		index[e.ID] = i
	}
	positions := make([]int, 0, len(ids))
	for _, id := range ids {
		i, ok := index[id]
		if !ok {
			return &generic.NotFoundError{Resource: "event", Key: string(id)}
		}
		positions = append(positions, i)
	}

	for _, i := range positions {
		m.events[i].Paid = paid
		if paid && paymentDate != nil {
			m.events[i].PaymentDate = generic.TimePtr(*paymentDate)
		} else {
			m.events[i].PaymentDate = nil
		}
	}
	return nil
}

func (m *Memory) ApplyStatusUpdate(_ context.Context, ids []generic.PartID, status bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		if _, ok := m.parts[id]; !ok {
			return &generic.NotFoundError{Resource: "part", Key: string(id)}
		}
	}
	for _, id := range ids {
		p := m.parts[id]
		p.Status = status
		m.parts[id] = p
	}
	return nil
}

// =============================================================================
// PARTS
// =============================================================================

func (m *Memory) InsertParts(_ context.Context, parts []generic.Part) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool, len(parts))
	for _, p := range parts {
		if _, exists := m.serials[p.SerialNumber]; exists || seen[p.SerialNumber] {
			return fmt.Errorf("%w: %s", generic.ErrDuplicateSerial, p.SerialNumber)
		}
		seen[p.SerialNumber] = true
	}
	for _, p := range parts {
		m.parts[p.ID] = p
		m.serials[p.SerialNumber] = p.ID
	}
	return nil
}

func (m *Memory) FindPartBySerial(_ context.Context, serial string) (*generic.Part, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.serials[serial]
	if !ok {
		return nil, nil
	}
	p := m.parts[id]
	return &p, nil
}

func (m *Memory) CountPartsByStatus(_ context.Context, status bool) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, p := range m.parts {
		if p.Status == status {
			count++
		}
	}
	return count, nil
}

// =============================================================================
// ENTRIES
// =============================================================================

func (m *Memory) RecordEntry(_ context.Context, event generic.PartEntryEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.parts[event.PartID]
	if !ok {
		return &generic.MissingReferenceError{Kind: "part", ID: string(event.PartID)}
	}
	for _, e := range m.events {
		if e.PartID != event.PartID {
			continue
		}
		if e.UserID == event.UserID {
			return generic.ErrDuplicateEntry
		}
		return generic.ErrPartAlreadyEntered
	}

	// Keep events ordered by EnteredAt
	i := sort.Search(len(m.events), func(i int) bool {
		return m.events[i].EnteredAt.After(event.EnteredAt)
	})
	m.events = append(m.events, generic.PartEntryEvent{})
	copy(m.events[i+1:], m.events[i:])
	m.events[i] = copyEvent(event)

	p.Status = true
	m.parts[p.ID] = p
	return nil
}

// AppendEvent inserts an event without touching part status. Used to seed
// drifted data in tests and demo scenarios.
func (m *Memory) AppendEvent(_ context.Context, event generic.PartEntryEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := sort.Search(len(m.events), func(i int) bool {
		return m.events[i].EnteredAt.After(event.EnteredAt)
	})
	m.events = append(m.events, generic.PartEntryEvent{})
	copy(m.events[i+1:], m.events[i:])
	m.events[i] = copyEvent(event)
	return nil
}

func (m *Memory) HasEntry(_ context.Context, userID generic.UserID, partID generic.PartID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, e := range m.events {
		if e.UserID == userID && e.PartID == partID {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) EventsByUser(_ context.Context, userID generic.UserID) ([]generic.PartEntryEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []generic.PartEntryEvent
	for i := len(m.events) - 1; i >= 0; i-- {
		if m.events[i].UserID == userID {
			result = append(result, copyEvent(m.events[i]))
		}
	}
	return result, nil
}

// =============================================================================
// USERS
// =============================================================================

func (m *Memory) SaveUser(_ context.Context, user generic.UserProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = user
	return nil
}

func (m *Memory) GetUser(_ context.Context, id generic.UserID) (*generic.UserProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (m *Memory) ListUsers(_ context.Context) ([]generic.UserProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]generic.UserProfile, 0, len(m.users))
	for _, u := range m.users {
		result = append(result, u)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// =============================================================================
// SYNC RUNS
// =============================================================================

func (m *Memory) SaveSyncRun(_ context.Context, run generic.SyncRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.syncRuns {
		if m.syncRuns[i].ID == run.ID {
			m.syncRuns[i] = run
			return nil
		}
	}
	m.syncRuns = append(m.syncRuns, run)
	return nil
}

func (m *Memory) ListSyncRuns(_ context.Context, limit int) ([]generic.SyncRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []generic.SyncRun
	for i := len(m.syncRuns) - 1; i >= 0; i-- {
		if limit > 0 && len(result) >= limit {
			break
		}
		result = append(result, m.syncRuns[i])
	}
	return result, nil
}

// Reset clears all data.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.users = make(map[generic.UserID]generic.UserProfile)
	m.parts = make(map[generic.PartID]generic.Part)
	m.serials = make(map[string]generic.PartID)
	m.events = nil
	m.syncRuns = nil
	return nil
}

func copyEvent(e generic.PartEntryEvent) generic.PartEntryEvent {
	if e.PaymentDate != nil {
		e.PaymentDate = generic.TimePtr(*e.PaymentDate)
	}
	return e
}
