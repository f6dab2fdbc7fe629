// Package cache memoizes per-user dashboard data for a session.
//
// A Memo replaces ad-hoc "already fetched" flags: concurrent requests for
// the same (user, locale) share one load, results are kept until they
// expire or a mutation invalidates them, and a load that was in flight
// when its user was invalidated never repopulates the cache.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/warp/bonus-engine/generic"
	"golang.org/x/sync/singleflight"
)

// Key identifies a memoized value.
type Key struct {
	UserID string
	Locale string
}

func (k Key) normalized() Key {
	return Key{
		UserID: strings.TrimSpace(k.UserID),
		Locale: strings.ToLower(strings.TrimSpace(k.Locale)),
	}
}

// String quotes both fields, so no user id or locale can collide with
// another pair.
func (k Key) String() string {
	n := k.normalized()
	return strconv.Quote(n.UserID) + "/" + strconv.Quote(n.Locale)
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

type generation struct {
	epoch uint64
	user  uint64
}

// Memo is a TTL cache with request de-duplication. A zero or negative TTL
// keeps entries until they are invalidated.
type Memo[V any] struct {
	ttl   time.Duration
	clock generic.Clock

	mu      sync.Mutex
	entries map[Key]entry[V]
	users   map[string]uint64
	epoch   uint64

	group singleflight.Group
}

func New[V any](ttl time.Duration, clock generic.Clock) *Memo[V] {
	if clock == nil {
		clock = generic.SystemClock{}
	}
	return &Memo[V]{
		ttl:     ttl,
		clock:   clock,
		entries: make(map[Key]entry[V]),
		users:   make(map[string]uint64),
	}
}

// Get returns the cached value for key or runs load once for all
// concurrent callers asking for the same key.
func (m *Memo[V]) Get(ctx context.Context, key Key, load func(context.Context) (V, error)) (V, error) {
	key = key.normalized()

	m.mu.Lock()
	if e, ok := m.entries[key]; ok && m.fresh(e) {
		m.mu.Unlock()
		return e.value, nil
	}
	gen := m.generationLocked(key.UserID)
	m.mu.Unlock()

	flight := fmt.Sprintf("%s@%d.%d", key, gen.epoch, gen.user)
	v, err, _ := m.group.Do(flight, func() (any, error) {
		value, err := load(ctx)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		if m.generationLocked(key.UserID) == gen {
			m.entries[key] = entry[V]{value: value, expiresAt: m.clock.Now().Add(m.ttl)}
		}
		m.mu.Unlock()
		return value, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return v.(V), nil
}

// Invalidate drops every cached locale for the user.
func (m *Memo[V]) Invalidate(userID string) {
	userID = strings.TrimSpace(userID)

	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.entries {
		if k.UserID == userID {
			delete(m.entries, k)
		}
	}
	m.users[userID]++
}

// InvalidateAll clears the whole session.
func (m *Memo[V]) InvalidateAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[Key]entry[V])
	m.epoch++
}

// Len reports the number of cached entries, expired ones included.
func (m *Memo[V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Memo[V]) fresh(e entry[V]) bool {
	return m.ttl <= 0 || m.clock.Now().Before(e.expiresAt)
}

func (m *Memo[V]) generationLocked(userID string) generation {
	return generation{epoch: m.epoch, user: m.users[userID]}
}
