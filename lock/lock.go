// Package lock serializes payment updates per user and quarter.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/warp/bonus-engine/generic"
)

// Locker grants short-lived exclusive leases on string keys.
type Locker interface {
	// TryLock returns ok=false without error when another holder owns key.
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)

	// Release frees key if token still owns it.
	Release(ctx context.Context, key, token string) error
}

// PaymentKey is the lock key for one user's quarter.
func PaymentKey(userID generic.UserID, year, quarter int) string {
	return fmt.Sprintf("bonus:payment:%s:%d:Q%d", userID, year, quarter)
}

func validate(key string, ttl time.Duration) error {
	if key == "" {
		return errors.New("lock key is empty")
	}
	if ttl <= 0 {
		return errors.New("lock ttl must be positive")
	}
	return nil
}

// =============================================================================
// MEMORY LOCKER - Single process
// =============================================================================

type lease struct {
	token     string
	expiresAt time.Time
}

type Memory struct {
	mu     sync.Mutex
	leases map[string]lease
	clock  generic.Clock
}

func NewMemory(clock generic.Clock) *Memory {
	if clock == nil {
		clock = generic.SystemClock{}
	}
	return &Memory{leases: make(map[string]lease), clock: clock}
}

func (m *Memory) TryLock(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	if err := validate(key, ttl); err != nil {
		return "", false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	if l, held := m.leases[key]; held && now.Before(l.expiresAt) {
		return "", false, nil
	}
	token := uuid.NewString()
	m.leases[key] = lease{token: token, expiresAt: now.Add(ttl)}
	return token, true, nil
}

func (m *Memory) Release(_ context.Context, key, token string) error {
	if key == "" || token == "" {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if l, held := m.leases[key]; held && l.token == token {
		delete(m.leases, key)
	}
	return nil
}

// =============================================================================
// REDIS LOCKER - Shared across server replicas
// =============================================================================

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

type Redis struct {
	client *redis.Client
	script *redis.Script
}

func NewRedis(client *redis.Client) *Redis {
	if client == nil {
		return nil
	}
	return &Redis{
		client: client,
		script: redis.NewScript(releaseScript),
	}
}

func (l *Redis) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if l == nil || l.client == nil {
		return "", false, errors.New("lock client not configured")
	}
	if err := validate(key, ttl); err != nil {
		return "", false, err
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

func (l *Redis) Release(ctx context.Context, key, token string) error {
	if l == nil || l.client == nil {
		return nil
	}
	if key == "" || token == "" {
		return nil
	}
	return l.script.Run(ctx, l.client, []string{key}, token).Err()
}
