package distlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// lockKeyPrefix namespaces every Scheduler job lock in the shared
// Redis instance, so a concierge deployment can sit alongside other
// consumers of the same cache without key collisions.
const lockKeyPrefix = "concierge:lock:"

// ErrNotOwner is returned by Release/Extend when the calling process's
// token no longer matches what's stored — the lock expired and was
// re-acquired by another scheduler replica mid-run.
var ErrNotOwner = errors.New("distlock: lock not held by this owner")

// releaseScript deletes the key only if the stored token still
// matches ours, so a scheduler replica whose TTL lapsed mid-job can
// never delete a lock another replica has since acquired.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// extendScript bumps a held lock's TTL without losing ownership
// atomicity, for a job kind whose run is approaching its original TTL.
var extendScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end
`)

// RedisLock is a DistLock backed by Redis SET NX plus a per-owner
// token, so concurrent scheduler replicas racing on the same job kind
// never both believe they hold the lock.
type RedisLock struct {
	client *redis.Client
	key    string
	owner  string
	ttl    time.Duration
}

// NewRedisLock builds a lock for key (typically a JobKind) with a
// freshly generated owner token.
func NewRedisLock(client *redis.Client, key string, ttl time.Duration) *RedisLock {
	return &RedisLock{
		client: client,
		key:    lockKeyPrefix + key,
		owner:  uuid.NewString(),
		ttl:    ttl,
	}
}

// Acquire attempts the SET NX; a false result means another replica
// currently holds the lock, not an error.
func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.owner, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("distlock: acquire %s: %w", l.key, err)
	}
	return ok, nil
}

// Release deletes the lock iff this RedisLock's token is still the
// one stored, via releaseScript. Returns ErrNotOwner if the TTL
// already lapsed and another replica took over.
func (l *RedisLock) Release(ctx context.Context) error {
	deleted, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.owner).Int()
	if err != nil {
		return fmt.Errorf("distlock: release %s: %w", l.key, err)
	}
	if deleted == 0 {
		return ErrNotOwner
	}
	return nil
}

// Extend pushes the lock's TTL out by ttl, for a job run that's
// taking longer than the lock's original grant. Returns ErrNotOwner
// if ownership was lost in the meantime.
func (l *RedisLock) Extend(ctx context.Context, ttl time.Duration) error {
	extended, err := extendScript.Run(ctx, l.client, []string{l.key}, l.owner, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("distlock: extend %s: %w", l.key, err)
	}
	if extended == 0 {
		return ErrNotOwner
	}
	return nil
}
