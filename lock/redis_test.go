package lock_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/bonus-engine/generic"
	"github.com/warp/bonus-engine/lock"
)

// newRedisLocker connects to REDIS_ADDR and skips the test when it is unset.
func newRedisLocker(t *testing.T) (*lock.Redis, *redis.Client) {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, client.Ping(ctx).Err())
	return lock.NewRedis(client), client
}

func TestRedis_ExclusiveUntilReleased(t *testing.T) {
	l, client := newRedisLocker(t)
	ctx := context.Background()
	key := lock.PaymentKey(generic.UserID("test-"+uuid.NewString()), 2024, 1)
	t.Cleanup(func() { client.Del(context.Background(), key) })

	token, ok, err := l.TryLock(ctx, key, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, token)

	_, ok, err = l.TryLock(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l.Release(ctx, key, token))

	_, ok, err = l.TryLock(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedis_WrongTokenKeepsLease(t *testing.T) {
	// GIVEN: A held lease
	l, client := newRedisLocker(t)
	ctx := context.Background()
	key := lock.PaymentKey(generic.UserID("test-"+uuid.NewString()), 2024, 2)
	t.Cleanup(func() { client.Del(context.Background(), key) })

	token, ok, err := l.TryLock(ctx, key, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// WHEN: Someone releases with another token
	require.NoError(t, l.Release(ctx, key, "not-the-token"))

	// THEN: The key is still held by the original token
	held, err := client.Get(ctx, key).Result()
	require.NoError(t, err)
	assert.Equal(t, token, held)

	_, ok, err = l.TryLock(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedis_LeaseExpires(t *testing.T) {
	l, client := newRedisLocker(t)
	ctx := context.Background()
	key := lock.PaymentKey(generic.UserID("test-"+uuid.NewString()), 2024, 3)
	t.Cleanup(func() { client.Del(context.Background(), key) })

	_, ok, err := l.TryLock(ctx, key, 100*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Eventually(t, func() bool {
		_, ok, err := l.TryLock(ctx, key, time.Minute)
		return err == nil && ok
	}, 2*time.Second, 50*time.Millisecond)
}

func TestRedis_NotConfigured(t *testing.T) {
	l := lock.NewRedis(nil)
	assert.Nil(t, l)

	_, ok, err := l.TryLock(context.Background(), "k", time.Minute)
	assert.Error(t, err)
	assert.False(t, ok)
	assert.NoError(t, l.Release(context.Background(), "k", "t"))
}
