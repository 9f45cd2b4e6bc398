package distributed

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned when the lock could not be taken within the
// caller's wait budget.
var ErrNotAcquired = errors.New("lock not acquired")

// releaseScript deletes the key only if this holder still owns it.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`

// Lock is a redis-backed mutual exclusion primitive (SET NX with a TTL).
// While held, a background goroutine extends the TTL so slow critical
// sections do not lose the lock mid-flight.
type Lock struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration

	stopRenewal context.CancelFunc
}

func NewLock(client *redis.Client, key string, ttl time.Duration) *Lock {
	buf := make([]byte, 16)
	rand.Read(buf)

	return &Lock{
		client: client,
		key:    key,
		token:  hex.EncodeToString(buf),
		ttl:    ttl,
	}
}

// Acquire takes the lock, polling until it succeeds or wait elapses.
func (l *Lock) Acquire(ctx context.Context, wait time.Duration) error {
	deadline := time.Now().Add(wait)

	for {
		ok, err := l.TryAcquire(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s after %s", ErrNotAcquired, l.key, wait)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// TryAcquire attempts to take the lock without blocking.
func (l *Lock) TryAcquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquiring lock %s: %w", l.key, err)
	}
	if !ok {
		return false, nil
	}

	renewCtx, cancel := context.WithCancel(context.Background())
	l.stopRenewal = cancel
	go l.renew(renewCtx)
	return true, nil
}

// Release gives the lock back. Releasing a lock this holder no longer owns
// (TTL expired and someone else took it) returns an error.
func (l *Lock) Release(ctx context.Context) error {
	if l.stopRenewal != nil {
		l.stopRenewal()
		l.stopRenewal = nil
	}

	deleted, err := l.client.Eval(ctx, releaseScript, []string{l.key}, l.token).Result()
	if err != nil {
		return fmt.Errorf("releasing lock %s: %w", l.key, err)
	}
	if deleted.(int64) == 0 {
		return fmt.Errorf("lock %s is no longer held by this instance", l.key)
	}
	return nil
}

func (l *Lock) renew(ctx context.Context) {
	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			owner, err := l.client.Get(ctx, l.key).Result()
			if err != nil || owner != l.token {
				return
			}
			l.client.Expire(ctx, l.key, l.ttl)
		case <-ctx.Done():
			return
		}
	}
}
