package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCheckAll_AllHealthy(t *testing.T) {
	h := NewHealthChecker()
	h.AddCheck("redis", func(ctx context.Context) error { return nil }, time.Minute, time.Second)
	h.AddCheck("message_store", func(ctx context.Context) error { return nil }, time.Minute, time.Second)

	status := h.CheckAll(context.Background())

	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "healthy", status.Checks["redis"])
	assert.Equal(t, "healthy", status.Checks["message_store"])
}

func TestCheckAll_OneFailingMarksUnhealthy(t *testing.T) {
	h := NewHealthChecker()
	h.AddCheck("redis", func(ctx context.Context) error { return nil }, time.Minute, time.Second)
	h.AddCheck("message_store", func(ctx context.Context) error {
		return errors.New("connection refused")
	}, time.Minute, time.Second)

	status := h.CheckAll(context.Background())

	assert.Equal(t, "unhealthy", status.Status)
	assert.Equal(t, "healthy", status.Checks["redis"])
	assert.Equal(t, "connection refused", status.Checks["message_store"])
	assert.False(t, h.IsReady(context.Background()))
}

func TestCheckAll_ProbeGetsTimeoutContext(t *testing.T) {
	h := NewHealthChecker()
	h.AddCheck("slow", func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	}, time.Minute, 10*time.Millisecond)

	status := h.CheckAll(context.Background())

	assert.Equal(t, "unhealthy", status.Status)
}

func TestBackgroundChecks_RecordLastError(t *testing.T) {
	h := NewHealthChecker()
	probeErr := errors.New("down")
	h.AddCheck("redis", func(ctx context.Context) error { return probeErr }, 5*time.Millisecond, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.StartBackgroundChecks(ctx)

	assert.Eventually(t, func() bool {
		return errors.Is(h.LastError("redis"), probeErr)
	}, time.Second, 5*time.Millisecond)
}
