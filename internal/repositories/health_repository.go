package repositories

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	domain "github.com/deckforge/api/internal/domain"
)

const defaultDependencyTimeout = 1500 * time.Millisecond

// DependencyCheck is one readiness probe. Timeout falls back to the repository default.
type DependencyCheck struct {
	Name    string
	Timeout time.Duration
	Check   func(context.Context) error
}

// DependencyHealthOption customises the dependency-backed health repository.
type DependencyHealthOption func(*dependencyHealth)

// WithDependencyTimeout overrides the timeout applied when a check omits its own.
func WithDependencyTimeout(timeout time.Duration) DependencyHealthOption {
	return func(h *dependencyHealth) {
		if timeout > 0 {
			h.timeout = timeout
		}
	}
}

// WithDependencyClock injects a custom clock.
func WithDependencyClock(clock func() time.Time) DependencyHealthOption {
	return func(h *dependencyHealth) {
		if clock != nil {
			h.now = clock
		}
	}
}

type dependencyHealth struct {
	checks  []DependencyCheck
	timeout time.Duration
	now     func() time.Time
}

// NewDependencyHealthRepository returns a HealthRepository that probes every check in parallel.
// Check names must be unique since they key the report.
func NewDependencyHealthRepository(checks []DependencyCheck, opts ...DependencyHealthOption) (HealthRepository, error) {
	if len(checks) == 0 {
		return nil, errors.New("health repository: at least one dependency check is required")
	}
	seen := make(map[string]struct{}, len(checks))
	for _, check := range checks {
		if check.Name == "" || check.Check == nil {
			return nil, errors.New("health repository: every check needs a name and a function")
		}
		if _, dup := seen[check.Name]; dup {
			return nil, fmt.Errorf("health repository: duplicate check %q", check.Name)
		}
		seen[check.Name] = struct{}{}
	}
	h := &dependencyHealth{
		checks:  append([]DependencyCheck(nil), checks...),
		timeout: defaultDependencyTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

func (h *dependencyHealth) Collect(ctx context.Context) (domain.SystemHealthReport, error) {
	var mu sync.Mutex
	results := make(map[string]domain.SystemHealthCheck, len(h.checks))

	// Probes never fail the group; each outcome is recorded instead.
	var g errgroup.Group
	for _, check := range h.checks {
		g.Go(func() error {
			result := h.probe(ctx, check)
			mu.Lock()
			results[check.Name] = result
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return domain.SystemHealthReport{
		Status:      domain.OverallHealth(results),
		Checks:      results,
		GeneratedAt: h.now(),
	}, nil
}

func (h *dependencyHealth) probe(ctx context.Context, check DependencyCheck) (result domain.SystemHealthCheck) {
	timeout := check.Timeout
	if timeout <= 0 {
		timeout = h.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := h.now()
	defer func() {
		if r := recover(); r != nil {
			result = domain.SystemHealthCheck{Status: domain.HealthStatusError, Detail: fmt.Sprintf("panic: %v", r)}
		}
		end := h.now()
		result.Latency = end.Sub(start)
		result.CheckedAt = end
	}()

	err := check.Check(ctx)
	switch {
	case err == nil:
		return domain.SystemHealthCheck{Status: domain.HealthStatusOK, Detail: "ok"}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return domain.SystemHealthCheck{Status: domain.HealthStatusError, Detail: "timeout"}
	default:
		return domain.SystemHealthCheck{Status: domain.HealthStatusDegraded, Detail: err.Error()}
	}
}
