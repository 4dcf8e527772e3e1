package ratelimit

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const lockKeyPrefix = "reservebill:lock:"

// unlockScript deletes the key only while it still holds our token, so a
// lease that outlived its ttl cannot drop a successor's lock.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

var (
	ErrLockDisabled   = errors.New("lock_disabled")
	ErrInvalidLockKey = errors.New("invalid_lock_key")
	ErrInvalidLockTTL = errors.New("invalid_lock_ttl")
)

// Locker hands out redis leases. A nil Locker refuses every lease.
type Locker struct {
	client *redis.Client
}

type lease struct {
	key   string
	token string
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{client: client}
}

// Acquire takes the lease for key. ok is false when someone else holds
// it. The returned release is always callable and runs on its own short
// deadline so a cancelled request still unlocks.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	held, err := l.lease(ctx, key, ttl)
	if err != nil || held == nil {
		return func() {}, false, err
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = l.unlock(releaseCtx, held)
	}, true, nil
}

func (l *Locker) lease(ctx context.Context, key string, ttl time.Duration) (*lease, error) {
	if l == nil || l.client == nil {
		return nil, ErrLockDisabled
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, ErrInvalidLockKey
	}
	if ttl <= 0 {
		return nil, ErrInvalidLockTTL
	}

	held := &lease{key: lockKeyPrefix + key, token: uuid.NewString()}
	ok, err := l.client.SetNX(ctx, held.key, held.token, ttl).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "acquire lock %s", key)
	}
	if !ok {
		return nil, nil
	}
	return held, nil
}

func (l *Locker) unlock(ctx context.Context, held *lease) error {
	if l == nil || l.client == nil || held == nil {
		return nil
	}
	return unlockScript.Run(ctx, l.client, []string{held.key}, held.token).Err()
}
