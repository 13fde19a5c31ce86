package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockTimeout is returned when a lock could not be acquired within the wait bound.
var ErrLockTimeout = errors.New("lock wait timed out")

// Locker grants exclusive ownership of a key until unlock is called.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// LocalLocker is a per-key mutex for a single process. Waiting honours ctx.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker creates a LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*keyLock)}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, kl)
		return nil, fmt.Errorf("%w: %s: %v", ErrLockTimeout, key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.ch
			l.release(key, kl)
		})
	}, nil
}

func (l *LocalLocker) release(key string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

// unlockScript deletes the lock only while it still holds the caller's token.
var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker is a Locker shared by every process using the same Redis.
type RedisLocker struct {
	client    redis.UniversalClient
	keyPrefix string
	lease     time.Duration
	wait      time.Duration
}

// RedisLockerOption configures the RedisLocker.
type RedisLockerOption func(*RedisLocker)

// WithLease sets how long a lock survives a holder that never unlocks.
func WithLease(d time.Duration) RedisLockerOption {
	return func(l *RedisLocker) {
		l.lease = d
	}
}

// WithWait bounds how long Lock waits for a held key.
func WithWait(d time.Duration) RedisLockerOption {
	return func(l *RedisLocker) {
		l.wait = d
	}
}

// NewRedisLocker creates a Redis-backed Locker.
func NewRedisLocker(client redis.UniversalClient, keyPrefix string, opts ...RedisLockerOption) *RedisLocker {
	l := &RedisLocker{
		client:    client,
		keyPrefix: keyPrefix,
		lease:     30 * time.Second,
		wait:      10 * time.Second,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := l.keyPrefix + "lock:" + key
	token := uuid.NewString()

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 25 * time.Millisecond
	expBackoff.MaxInterval = 500 * time.Millisecond

	_, err := backoff.Retry(ctx, func() (bool, error) {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.lease).Result()
		if err != nil {
			return false, backoff.Permanent(fmt.Errorf("lock: redis: %w", err))
		}
		if !ok {
			return false, errHeld
		}
		return true, nil
	},
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxElapsedTime(l.wait),
	)
	if err != nil {
		if errors.Is(err, errHeld) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, key)
		}
		return nil, err
	}

	return func() {
		// A fresh context: the caller's may already be done.
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = unlockScript.Run(ctx, l.client, []string{redisKey}, token).Err()
	}, nil
}

var errHeld = errors.New("lock held")
