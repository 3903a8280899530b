package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"eventmesh-be/internal/pkg/logger"

	"golang.org/x/sync/errgroup"
)

const defaultCheckTimeout = 5 * time.Second

// CheckResult is what one named check reports.
type CheckResult struct {
	Healthy bool                   `json:"healthy"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// CheckFunc is a named async readiness probe.
type CheckFunc func(ctx context.Context) CheckResult

// NamedResult pairs a check's name with its outcome.
type NamedResult struct {
	Name string `json:"name"`
	CheckResult
}

// Report aggregates every registered check: healthy is the AND of all.
type Report struct {
	Healthy bool          `json:"healthy"`
	Checks  []NamedResult `json:"checks"`
}

// Checker aggregates named async checks into a single readiness signal.
type Checker struct {
	mu      sync.RWMutex
	names   []string
	checks  map[string]CheckFunc
	timeout time.Duration
	logger  logger.ILogger
}

func NewChecker(log logger.ILogger) *Checker {
	return &Checker{
		checks:  make(map[string]CheckFunc),
		timeout: defaultCheckTimeout,
		logger:  log,
	}
}

// Register adds a named check. Registering the same name twice replaces the
// previous check but keeps its position.
func (c *Checker) Register(name string, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.checks[name]; !exists {
		c.names = append(c.names, name)
	}
	c.checks[name] = check
}

// RunAll executes every check in parallel with a bounded per-check timeout
// and reports the AND of all outcomes. A check that panics or times out
// counts as unhealthy, never as an error to the caller.
func (c *Checker) RunAll(ctx context.Context) Report {
	c.mu.RLock()
	names := make([]string, len(c.names))
	copy(names, c.names)
	checks := make(map[string]CheckFunc, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	c.mu.RUnlock()

	results := make([]NamedResult, len(names))
	g, ctx := errgroup.WithContext(ctx)

	for i, name := range names {
		g.Go(func() error {
			results[i] = NamedResult{Name: name, CheckResult: c.run(ctx, name, checks[name])}
			return nil
		})
	}
	_ = g.Wait()

	report := Report{Healthy: true, Checks: results}
	for _, result := range results {
		if !result.Healthy {
			report.Healthy = false
		}
	}
	return report
}

func (c *Checker) run(ctx context.Context, name string, check CheckFunc) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	done := make(chan CheckResult, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				c.logger.Error("HealthChecker", "Check panicked", map[string]interface{}{
					"check": name,
					"panic": fmt.Sprint(rec),
				})
				done <- CheckResult{Healthy: false, Message: fmt.Sprintf("check panicked: %v", rec)}
			}
		}()
		done <- check(ctx)
	}()

	select {
	case result := <-done:
		return result
	case <-ctx.Done():
		return CheckResult{Healthy: false, Message: "check timed out"}
	}
}
