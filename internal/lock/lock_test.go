package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredislib "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisLocker(t *testing.T, expiry time.Duration) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredislib.NewClient(&goredislib.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	l, err := NewRedisLocker(client, expiry)
	require.NoError(t, err)
	return l, mr
}

func TestRedisLocker_TryLock(t *testing.T) {
	l, _ := newRedisLocker(t, time.Minute)
	ctx := context.Background()

	h, ok, err := l.TryLock(ctx, ContentKey(7))
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryLock(ctx, ContentKey(7))
	require.NoError(t, err)
	assert.False(t, ok, "second holder must not acquire a held key")

	_, ok, err = l.TryLock(ctx, ContentKey(8))
	require.NoError(t, err)
	assert.True(t, ok, "different keys are independent")

	require.NoError(t, h.Unlock(ctx))

	_, ok, err = l.TryLock(ctx, ContentKey(7))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLocker_Expiry(t *testing.T) {
	l, mr := newRedisLocker(t, time.Second)
	ctx := context.Background()

	h, ok, err := l.TryLock(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	_, ok, err = l.TryLock(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok, "expired lock can be taken again")

	assert.Error(t, h.Unlock(ctx), "stale handle must not release the new holder's lock")
}

func TestRedisLocker_Validation(t *testing.T) {
	_, err := NewRedisLocker(goredislib.NewClient(&goredislib.Options{}), 0)
	assert.ErrorIs(t, err, ErrBadExpiry)

	l, _ := newRedisLocker(t, time.Minute)
	_, _, err = l.TryLock(context.Background(), " ")
	assert.ErrorIs(t, err, ErrEmptyKey)
}

func TestRedisLocker_BackendDown(t *testing.T) {
	l, mr := newRedisLocker(t, time.Minute)
	mr.Close()

	_, ok, err := l.TryLock(context.Background(), "k")
	assert.False(t, ok)
	assert.Error(t, err)
}

func TestLocalLocker(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	h, ok, err := l.TryLock(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryLock(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, h.Unlock(ctx))
	assert.ErrorIs(t, h.Unlock(ctx), ErrNotHeld)

	_, ok, err = l.TryLock(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
}
