package middleware

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/bryanwahyu/datalyst/internal/domain/analysis"
)

// Metrics stores application metrics
type Metrics struct {
	RequestsTotal      uint64
	RequestsInProgress uint64
	RequestsSuccess    uint64
	RequestsFailed     uint64
	AnalysesTotal      uint64
	AnalysesSucceeded  uint64
	AnalysesExhausted  uint64
	AttemptsTotal      uint64
	AttemptsFailed     uint64
	StartTime          time.Time
}

var globalMetrics = &Metrics{
	StartTime: time.Now(),
}

func IncrementRequests() {
	atomic.AddUint64(&globalMetrics.RequestsTotal, 1)
}

func IncrementInProgress() {
	atomic.AddUint64(&globalMetrics.RequestsInProgress, 1)
}

func DecrementInProgress() {
	atomic.AddUint64(&globalMetrics.RequestsInProgress, ^uint64(0))
}

func IncrementSuccess() {
	atomic.AddUint64(&globalMetrics.RequestsSuccess, 1)
}

func IncrementFailed() {
	atomic.AddUint64(&globalMetrics.RequestsFailed, 1)
}

// EngineObserver feeds reflection engine events into the global counters.
// Every attempt is counted; only code-executing kinds count as analyses.
type EngineObserver struct{}

func countsAsAnalysis(kind string) bool {
	switch analysis.Kind(kind) {
	case analysis.KindAnalysis, analysis.KindDatabaseAnalysis, analysis.KindCharts:
		return true
	}
	return false
}

func (EngineObserver) AttemptFinished(kind string, ok bool) {
	atomic.AddUint64(&globalMetrics.AttemptsTotal, 1)
	if !ok {
		atomic.AddUint64(&globalMetrics.AttemptsFailed, 1)
		return
	}
	if countsAsAnalysis(kind) {
		atomic.AddUint64(&globalMetrics.AnalysesTotal, 1)
		atomic.AddUint64(&globalMetrics.AnalysesSucceeded, 1)
	}
}

func (EngineObserver) Exhausted(kind string) {
	if countsAsAnalysis(kind) {
		atomic.AddUint64(&globalMetrics.AnalysesTotal, 1)
		atomic.AddUint64(&globalMetrics.AnalysesExhausted, 1)
	}
}

// GetMetrics returns current metrics
func GetMetrics() map[string]interface{} {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return map[string]interface{}{
		"requests_total":       atomic.LoadUint64(&globalMetrics.RequestsTotal),
		"requests_in_progress": atomic.LoadUint64(&globalMetrics.RequestsInProgress),
		"requests_success":     atomic.LoadUint64(&globalMetrics.RequestsSuccess),
		"requests_failed":      atomic.LoadUint64(&globalMetrics.RequestsFailed),
		"analyses_total":       atomic.LoadUint64(&globalMetrics.AnalysesTotal),
		"analyses_succeeded":   atomic.LoadUint64(&globalMetrics.AnalysesSucceeded),
		"analyses_exhausted":   atomic.LoadUint64(&globalMetrics.AnalysesExhausted),
		"attempts_total":       atomic.LoadUint64(&globalMetrics.AttemptsTotal),
		"attempts_failed":      atomic.LoadUint64(&globalMetrics.AttemptsFailed),
		"uptime_seconds":       time.Since(globalMetrics.StartTime).Seconds(),
		"memory": map[string]interface{}{
			"alloc_bytes":       m.Alloc,
			"total_alloc_bytes": m.TotalAlloc,
			"sys_bytes":         m.Sys,
			"num_gc":            m.NumGC,
		},
		"goroutines": runtime.NumGoroutine(),
	}
}

// MetricsMiddleware tracks request metrics
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		IncrementRequests()
		IncrementInProgress()
		defer DecrementInProgress()

		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(wrapped, r)

		if wrapped.statusCode >= 200 && wrapped.statusCode < 400 {
			IncrementSuccess()
		} else {
			IncrementFailed()
		}
	})
}

// MetricsHandler returns metrics as JSON
func MetricsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(GetMetrics())
}
