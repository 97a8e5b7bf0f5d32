package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Unlock releases a held per-order lock.
type Unlock func()

// OrderLocker serializes the read-decide-write window per orderId.
// Concurrency across distinct orders is unbounded.
type OrderLocker interface {
	Lock(ctx context.Context, orderID string) (Unlock, error)
}

// RedisOrderLocker takes a SetNX lock per order, so concurrent
// duplicate deliveries are serialized even across processes. Waiters
// poll instead of failing: a duplicate must still be answered with the
// idempotent outcome, not an error.
type RedisOrderLocker struct {
	client *redis.Client
	ttl    time.Duration
	poll   time.Duration
}

func NewRedisOrderLocker(client *redis.Client) *RedisOrderLocker {
	return &RedisOrderLocker{
		client: client,
		ttl:    30 * time.Second,
		poll:   25 * time.Millisecond,
	}
}

// unlockScript deletes the lock only while this holder still owns it.
// A holder that outlived the TTL must not delete the next holder's
// lock with a blind DEL.
var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

func (l *RedisOrderLocker) Lock(ctx context.Context, orderID string) (Unlock, error) {
	key := "order_lock:" + orderID
	token := uuid.NewString()
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return func() {
				_ = unlockScript.Run(context.Background(), l.client, []string{key}, token).Err()
			}, nil
		}
		timer := time.NewTimer(l.poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// KeyedMutexLocker is the single-process fallback when redis is not
// configured. Entries are refcounted so the map does not grow with the
// order count.
type KeyedMutexLocker struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func NewKeyedMutexLocker() *KeyedMutexLocker {
	return &KeyedMutexLocker{locks: make(map[string]*keyedLock)}
}

func (l *KeyedMutexLocker) Lock(_ context.Context, orderID string) (Unlock, error) {
	l.mu.Lock()
	entry, ok := l.locks[orderID]
	if !ok {
		entry = &keyedLock{}
		l.locks[orderID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, orderID)
		}
		l.mu.Unlock()
	}, nil
}
