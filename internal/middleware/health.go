package middleware

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds each dependency check.
const checkTimeout = 3 * time.Second

// HealthChecker probes one dependency of the service.
type HealthChecker interface {
	Check(ctx context.Context) error
}

// CheckerFunc adapts a function to HealthChecker.
type CheckerFunc func(ctx context.Context) error

func (f CheckerFunc) Check(ctx context.Context) error { return f(ctx) }

// DatabaseHealthChecker pings the attempt audit database.
type DatabaseHealthChecker struct {
	DB *sql.DB
}

func (d *DatabaseHealthChecker) Check(ctx context.Context) error {
	return d.DB.PingContext(ctx)
}

// CheckResult is the outcome of one named check.
type CheckResult struct {
	Name     string  `json:"name"`
	OK       bool    `json:"ok"`
	Error    string  `json:"error,omitempty"`
	Duration float64 `json:"duration_ms"`
}

// Report is the body of /health and /ready.
type Report struct {
	Status        string        `json:"status"`
	Timestamp     time.Time     `json:"timestamp"`
	UptimeSeconds float64       `json:"uptime_seconds"`
	Checks        []CheckResult `json:"checks"`
}

// RunChecks runs every checker concurrently and returns the results sorted by
// name, and whether all of them passed.
func RunChecks(ctx context.Context, checkers map[string]HealthChecker) ([]CheckResult, bool) {
	var (
		mu  sync.Mutex
		out = make([]CheckResult, 0, len(checkers))
		ok  = true
	)
	var g errgroup.Group
	for name, c := range checkers {
		name, c := name, c
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			start := time.Now()
			err := c.Check(cctx)
			res := CheckResult{Name: name, OK: err == nil, Duration: float64(time.Since(start).Microseconds()) / 1000}
			if err != nil {
				res.Error = err.Error()
			}
			mu.Lock()
			out = append(out, res)
			ok = ok && err == nil
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, ok
}

// HealthHandler always answers 200 and reports "degraded" when a dependency
// check fails.
func HealthHandler(checkers map[string]HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks, ok := RunChecks(r.Context(), checkers)
		status := "healthy"
		if !ok {
			status = "degraded"
		}
		writeReport(w, http.StatusOK, status, checks)
	}
}

// ReadinessHandler answers 503 until every check passes.
func ReadinessHandler(checkers map[string]HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks, ok := RunChecks(r.Context(), checkers)
		if !ok {
			writeReport(w, http.StatusServiceUnavailable, "not_ready", checks)
			return
		}
		writeReport(w, http.StatusOK, "ready", checks)
	}
}

func writeReport(w http.ResponseWriter, code int, status string, checks []CheckResult) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(Report{
		Status:        status,
		Timestamp:     time.Now().UTC(),
		UptimeSeconds: time.Since(globalMetrics.StartTime).Seconds(),
		Checks:        checks,
	})
}

// LivenessHandler answers "ok" while the process is alive.
func LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
