package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// TickLockName is the redsync mutex held while a scheduler tick runs.
const TickLockName = "core-banking:scheduler:tick"

// TickLock lets only one replica run a given scheduler tick.
type TickLock interface {
	// TryAcquire returns a release func and true when the lock was taken.
	TryAcquire(ctx context.Context) (func(), bool, error)
}

// LocalTickLock is used when Redis is not configured; a single process always
// holds it.
type LocalTickLock struct{}

func (LocalTickLock) TryAcquire(context.Context) (func(), bool, error) {
	return func() {}, true, nil
}

// RedisTickLock is a redsync mutex with a single attempt per tick.
type RedisTickLock struct {
	rs     *redsync.Redsync
	name   string
	expiry time.Duration
}

// NewRedisTickLock creates a tick lock whose expiry bounds how long a crashed
// holder can block the next tick.
func NewRedisTickLock(client *redis.Client, name string, expiry time.Duration) *RedisTickLock {
	if expiry <= 0 {
		expiry = time.Minute
	}
	return &RedisTickLock{
		rs:     redsync.New(goredis.NewPool(client)),
		name:   name,
		expiry: expiry,
	}
}

func (l *RedisTickLock) TryAcquire(ctx context.Context) (func(), bool, error) {
	mutex := l.rs.NewMutex(l.name, redsync.WithExpiry(l.expiry), redsync.WithTries(1))
	if err := mutex.LockContext(ctx); err != nil {
		var taken *redsync.ErrTaken
		if errors.Is(err, redsync.ErrFailed) || errors.As(err, &taken) || isContention(err.Error()) {
			return nil, false, nil
		}
		return nil, false, err
	}
	release := func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, _ = mutex.UnlockContext(unlockCtx)
	}
	return release, true, nil
}

func isContention(msg string) bool {
	return strings.Contains(msg, "lock already taken") || strings.Contains(msg, "failed to acquire lock")
}
