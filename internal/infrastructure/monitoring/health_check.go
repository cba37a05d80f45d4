package monitoring

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// CheckFunc reports a dependency as healthy by returning nil.
type CheckFunc func(ctx context.Context) error

type HealthCheck struct {
	Name     string
	Check    CheckFunc
	Interval time.Duration
	Timeout  time.Duration
	// Critical checks make the service unhealthy; the rest only degrade it.
	Critical bool
}

type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

type checkResult struct {
	err error
	at  time.Time
}

type HealthChecker struct {
	mu      sync.RWMutex
	checks  []HealthCheck
	results map[string]checkResult
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{results: make(map[string]checkResult)}
}

// AddCheck registers a critical check.
func (h *HealthChecker) AddCheck(name string, check CheckFunc, interval, timeout time.Duration) {
	h.add(HealthCheck{Name: name, Check: check, Interval: interval, Timeout: timeout, Critical: true})
}

// AddOptionalCheck registers a check whose failure only degrades the service.
func (h *HealthChecker) AddOptionalCheck(name string, check CheckFunc, interval, timeout time.Duration) {
	h.add(HealthCheck{Name: name, Check: check, Interval: interval, Timeout: timeout})
}

func (h *HealthChecker) add(check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check)
}

func (h *HealthChecker) snapshotChecks() []HealthCheck {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]HealthCheck(nil), h.checks...)
}

func (h *HealthChecker) run(ctx context.Context, check HealthCheck) error {
	checkCtx, cancel := context.WithTimeout(ctx, check.Timeout)
	defer cancel()
	err := check.Check(checkCtx)

	h.mu.Lock()
	h.results[check.Name] = checkResult{err: err, at: time.Now()}
	h.mu.Unlock()
	return err
}

// CheckAll runs every check concurrently and aggregates the outcome.
func (h *HealthChecker) CheckAll(ctx context.Context) HealthStatus {
	checks := h.snapshotChecks()

	var g errgroup.Group
	for _, check := range checks {
		check := check
		g.Go(func() error {
			_ = h.run(ctx, check)
			return nil
		})
	}
	_ = g.Wait()

	return h.LastStatus()
}

// LastStatus aggregates the most recent result of every check without
// running anything. Checks that have not run yet are reported as pending
// and do not affect the status.
func (h *HealthChecker) LastStatus() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := HealthStatus{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Checks:    make(map[string]string, len(h.checks)),
	}
	for _, check := range h.checks {
		res, ok := h.results[check.Name]
		switch {
		case !ok:
			status.Checks[check.Name] = "pending"
		case res.err == nil:
			status.Checks[check.Name] = StatusHealthy
		default:
			status.Checks[check.Name] = res.err.Error()
			if check.Critical {
				status.Status = StatusUnhealthy
			} else if status.Status == StatusHealthy {
				status.Status = StatusDegraded
			}
		}
	}
	return status
}

// StartBackgroundChecks refreshes every check on its own interval until ctx
// is done.
func (h *HealthChecker) StartBackgroundChecks(ctx context.Context) {
	for _, check := range h.snapshotChecks() {
		go h.runCheckPeriodically(ctx, check)
	}
}

func (h *HealthChecker) runCheckPeriodically(ctx context.Context, check HealthCheck) {
	ticker := time.NewTicker(check.Interval)
	defer ticker.Stop()

	_ = h.run(ctx, check)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = h.run(ctx, check)
		}
	}
}
