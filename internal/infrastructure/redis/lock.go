package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ledgerbridge/internal/domain/posting"
)

const (
	defaultLockTTL = 2 * time.Minute
	lockPollEvery  = 50 * time.Millisecond
)

// ErrLockHeld is returned when another process holds the identity.
var ErrLockHeld = errors.New("identity locked by another process")

// releaseScript deletes the key only while it still holds our owner token.
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// IdentityLock implements posting.IdentityLocker across processes with SET NX PX.
type IdentityLock struct {
	client *Client
	prefix string
	ttl    time.Duration
	wait   time.Duration
}

var _ posting.IdentityLocker = (*IdentityLock)(nil)

// NewIdentityLock creates a lock. wait is how long Lock keeps retrying a held key; 0 fails fast.
func NewIdentityLock(client *Client, prefix string, ttl, wait time.Duration) *IdentityLock {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &IdentityLock{client: client, prefix: prefix, ttl: ttl, wait: wait}
}

// Lock implements posting.IdentityLocker.
func (l *IdentityLock) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := l.prefix + key
	owner := uuid.NewString()

	var deadline time.Time
	if l.wait > 0 {
		deadline = time.Now().Add(l.wait)
	}

	for {
		ok, err := l.tryAcquire(ctx, redisKey, owner)
		if err != nil {
			return nil, err
		}
		if ok {
			return func() { l.release(redisKey, owner) }, nil
		}
		if deadline.IsZero() || time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrLockHeld, key)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockPollEvery):
		}
	}
}

func (l *IdentityLock) tryAcquire(ctx context.Context, key, owner string) (bool, error) {
	ctx, cancel := l.client.opContext(ctx)
	defer cancel()
	ok, err := l.client.store.SetNX(ctx, key, owner, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx: %w", err)
	}
	return ok, nil
}

func (l *IdentityLock) release(key, owner string) {
	ctx, cancel := l.client.opContext(context.Background())
	defer cancel()
	// A failed release expires with the TTL.
	_ = l.client.store.Eval(ctx, releaseScript, []string{key}, owner).Err()
}
