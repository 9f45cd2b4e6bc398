package monitoring

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"telecare/internal/core/domain"
	"telecare/internal/core/ports"
)

// AddRedisCheck adds a Redis connectivity check.
func (h *HealthChecker) AddRedisCheck(client *redis.Client, interval, timeout time.Duration) {
	h.AddCheck("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}, interval, timeout)
}

// AddMessageStoreCheck adds a message store round-trip check. Looking up an
// id that cannot exist exercises the full read path; not-found is the
// healthy outcome.
func (h *HealthChecker) AddMessageStoreCheck(store ports.MessageRepository, interval, timeout time.Duration) {
	h.AddCheck("message_store", func(ctx context.Context) error {
		_, err := store.GetByID(ctx, "healthcheck-probe")
		if err != nil && !errors.Is(err, domain.ErrMessageNotFound) {
			return err
		}
		return nil
	}, interval, timeout)
}
