package monitoring

import (
	"context"
	"sync"
	"time"
)

// HealthChecker aggregates named probes (storage reachability, relay
// liveness) into a single status for the health and readiness endpoints.
type HealthChecker struct {
	mu     sync.RWMutex
	checks []HealthCheck
	last   map[string]error
}

type HealthCheck struct {
	Name    string
	Check   func(ctx context.Context) error
	Timeout time.Duration
}

type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		last: make(map[string]error),
	}
}

func (h *HealthChecker) AddCheck(name string, check func(ctx context.Context) error, timeout time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.checks = append(h.checks, HealthCheck{
		Name:    name,
		Check:   check,
		Timeout: timeout,
	})
}

// CheckAll runs every registered probe and reports the combined result.
// A single failing probe marks the whole service unhealthy.
func (h *HealthChecker) CheckAll(ctx context.Context) HealthStatus {
	h.mu.RLock()
	checks := make([]HealthCheck, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Checks:    make(map[string]string),
	}

	for _, check := range checks {
		err := h.run(ctx, check)
		if err != nil {
			status.Status = "unhealthy"
			status.Checks[check.Name] = err.Error()
		} else {
			status.Checks[check.Name] = "healthy"
		}
	}

	return status
}

// Ready reports whether the last run of every probe succeeded. Unlike
// CheckAll it never blocks on the probes themselves.
func (h *HealthChecker) Ready() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.last) < len(h.checks) {
		return false
	}
	for _, err := range h.last {
		if err != nil {
			return false
		}
	}
	return true
}

func (h *HealthChecker) run(ctx context.Context, check HealthCheck) error {
	checkCtx, cancel := context.WithTimeout(ctx, check.Timeout)
	defer cancel()

	err := check.Check(checkCtx)

	h.mu.Lock()
	h.last[check.Name] = err
	h.mu.Unlock()

	return err
}
