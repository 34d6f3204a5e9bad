// Package lock provides per-key mutual exclusion across dispatcher processes.
package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	goredislib "github.com/redis/go-redis/v9"
)

// errors
var (
	ErrEmptyKey  = errors.New("lock key cannot be empty")
	ErrNotHeld   = errors.New("lock was not held or already expired")
	ErrBadExpiry = errors.New("lock expiry must be greater than 0")
)

// Handle releases an acquired lock.
type Handle interface {
	Unlock(ctx context.Context) error
}

// Locker acquires named locks without waiting.
// TryLock returns (nil, false, nil) when another holder owns the key.
type Locker interface {
	TryLock(ctx context.Context, key string) (Handle, bool, error)
}

// RedisLocker is a Locker backed by redsync.
type RedisLocker struct {
	rs     *redsync.Redsync
	expiry time.Duration
}

// NewRedisLocker creates a locker whose locks expire after expiry unless released.
func NewRedisLocker(client goredislib.UniversalClient, expiry time.Duration) (*RedisLocker, error) {
	if expiry <= 0 {
		return nil, ErrBadExpiry
	}
	return &RedisLocker{
		rs:     redsync.New(goredis.NewPool(client)),
		expiry: expiry,
	}, nil
}

// TryLock attempts the lock once.
func (l *RedisLocker) TryLock(ctx context.Context, key string) (Handle, bool, error) {
	if strings.TrimSpace(key) == "" {
		return nil, false, ErrEmptyKey
	}

	mutex := l.rs.NewMutex(key,
		redsync.WithExpiry(l.expiry),
		redsync.WithTries(1),
	)

	if err := mutex.TryLockContext(ctx); err != nil {
		if isContention(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	return &redisHandle{mutex: mutex}, true, nil
}

func isContention(err error) bool {
	var taken *redsync.ErrTaken
	return errors.Is(err, redsync.ErrFailed) ||
		errors.As(err, &taken) ||
		strings.Contains(err.Error(), "lock already taken")
}

type redisHandle struct {
	mutex *redsync.Mutex
}

func (h *redisHandle) Unlock(ctx context.Context) error {
	ok, err := h.mutex.UnlockContext(ctx)
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	if !ok {
		return ErrNotHeld
	}
	return nil
}

// LocalLocker is an in-process Locker for single-instance deployments and tests.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocalLocker creates an empty in-process locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

// TryLock attempts the lock once.
func (l *LocalLocker) TryLock(_ context.Context, key string) (Handle, bool, error) {
	if strings.TrimSpace(key) == "" {
		return nil, false, ErrEmptyKey
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.held[key]; busy {
		return nil, false, nil
	}
	l.held[key] = struct{}{}
	return &localHandle{owner: l, key: key}, true, nil
}

type localHandle struct {
	owner *LocalLocker
	key   string
	once  sync.Once
}

func (h *localHandle) Unlock(context.Context) error {
	released := false
	h.once.Do(func() {
		h.owner.mu.Lock()
		delete(h.owner.held, h.key)
		h.owner.mu.Unlock()
		released = true
	})
	if !released {
		return ErrNotHeld
	}
	return nil
}

// ContentKey names the lock guarding one content item's dispatch.
func ContentKey(contentID int64) string {
	return fmt.Sprintf("newsletter:dispatch:%d", contentID)
}
