package monitoring

import (
	"context"
	"sync"
	"time"
)

// Probe reports the health of one dependency. A nil error means healthy.
type Probe func(ctx context.Context) error

type check struct {
	name     string
	probe    Probe
	interval time.Duration
	timeout  time.Duration
}

// HealthChecker aggregates dependency probes for the readiness endpoint and
// keeps them warm in the background so failures surface in logs before a
// probe from the orchestrator does.
type HealthChecker struct {
	mu      sync.RWMutex
	checks  []check
	lastErr map[string]error
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{lastErr: make(map[string]error)}
}

func (h *HealthChecker) AddCheck(name string, probe Probe, interval, timeout time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check{name: name, probe: probe, interval: interval, timeout: timeout})
}

type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

// CheckAll probes every dependency right now.
func (h *HealthChecker) CheckAll(ctx context.Context) HealthStatus {
	h.mu.RLock()
	checks := make([]check, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Checks:    make(map[string]string, len(checks)),
	}

	for _, c := range checks {
		err := h.runProbe(ctx, c)
		if err != nil {
			status.Status = "unhealthy"
			status.Checks[c.name] = err.Error()
		} else {
			status.Checks[c.name] = "healthy"
		}
	}
	return status
}

// IsReady reports whether the gateway should accept traffic.
func (h *HealthChecker) IsReady(ctx context.Context) bool {
	return h.CheckAll(ctx).Status == "healthy"
}

// StartBackgroundChecks probes each dependency on its own interval until
// ctx is cancelled.
func (h *HealthChecker) StartBackgroundChecks(ctx context.Context) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.checks {
		go func(c check) {
			ticker := time.NewTicker(c.interval)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					err := h.runProbe(ctx, c)
					h.mu.Lock()
					h.lastErr[c.name] = err
					h.mu.Unlock()
				}
			}
		}(c)
	}
}

// LastError returns the most recent background probe result for a check.
func (h *HealthChecker) LastError(name string) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastErr[name]
}

func (h *HealthChecker) runProbe(ctx context.Context, c check) error {
	probeCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.probe(probeCtx)
}
