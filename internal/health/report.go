package health

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Status values reported per dependency.
const (
	StatusOK       = "ok"
	StatusError    = "error"
	StatusDegraded = "degraded"
)

// Check names one dependency. A failing non-critical check is reported as
// degraded and does not make the service unready.
type Check struct {
	Name     string
	Checker  Checker
	Critical bool
}

// Report is the outcome of running a set of checks.
type Report struct {
	Healthy bool
	Results map[string]string
}

// Run executes all checks concurrently, each bounded by timeout, and
// aggregates their results.
func Run(ctx context.Context, checks []Check, timeout time.Duration) Report {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		name     string
		critical bool
		err      error
	}
	results := make([]result, len(checks))

	var wg sync.WaitGroup
	for i, c := range checks {
		wg.Add(1)
		go func(i int, c Check) {
			defer wg.Done()
			results[i] = result{name: c.Name, critical: c.Critical, err: c.Checker.HealthCheck(ctx)}
		}(i, c)
	}
	wg.Wait()

	sort.SliceStable(results, func(i, j int) bool { return results[i].name < results[j].name })

	report := Report{Healthy: true, Results: make(map[string]string, len(results))}
	for _, r := range results {
		switch {
		case r.err == nil:
			report.Results[r.name] = StatusOK
		case r.critical:
			report.Results[r.name] = StatusError
			report.Healthy = false
			slog.WarnContext(ctx, "health check failed", "check", r.name, "error", r.err)
		default:
			report.Results[r.name] = StatusDegraded
			slog.WarnContext(ctx, "non-critical health check failed", "check", r.name, "error", r.err)
		}
	}
	return report
}
