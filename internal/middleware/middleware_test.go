package middleware

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestTokenBucketRefills(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tb := newTokenBucket(2, 0.5, func() time.Time { return now })

	if !tb.Allow() || !tb.Allow() {
		t.Fatal("full bucket must allow capacity requests")
	}
	if tb.Allow() {
		t.Fatal("empty bucket must deny")
	}
	if got := tb.retryAfter(); got != 2 {
		t.Fatalf("retryAfter = %d, want 2", got)
	}
	now = now.Add(2 * time.Second)
	if !tb.Allow() {
		t.Fatal("bucket must refill one token after 2s at 0.5/s")
	}
}

func TestRateLimitMiddlewareKeysSeparately(t *testing.T) {
	rl := NewRateLimiter(1, 0.001)
	h := RateLimitMiddleware(rl, func(r *http.Request) string { return r.Header.Get("X-Session") })(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) }),
	)
	do := func(session string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Session", session)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	if do("a") != http.StatusNoContent || do("b") != http.StatusNoContent {
		t.Fatal("first request per key must pass")
	}
	if do("a") != http.StatusTooManyRequests {
		t.Fatal("second request for a must be limited")
	}
}

func TestLoggingRecordsStatus(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := Logging(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("nope"))
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/sessions/x", nil))

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("entries = %d", len(entries))
	}
	f := entries[0].ContextMap()
	if f["status"] != int64(404) || f["bytes"] != int64(4) || f["path"] != "/v1/sessions/x" {
		t.Fatalf("fields = %v", f)
	}
}

func TestEngineObserverCounts(t *testing.T) {
	before := atomic.LoadUint64(&globalMetrics.AttemptsFailed)
	exhausted := atomic.LoadUint64(&globalMetrics.AnalysesExhausted)
	o := EngineObserver{}
	o.AttemptFinished("analysis", false)
	o.Exhausted("analysis")

	if atomic.LoadUint64(&globalMetrics.AttemptsFailed) != before+1 {
		t.Fatal("failed attempt not counted")
	}
	if atomic.LoadUint64(&globalMetrics.AnalysesExhausted) != exhausted+1 {
		t.Fatal("exhaustion not counted")
	}

	total := atomic.LoadUint64(&globalMetrics.AnalysesTotal)
	succeeded := atomic.LoadUint64(&globalMetrics.AnalysesSucceeded)
	o.AttemptFinished("dictionary", true)
	o.AttemptFinished("business_insight", true)
	o.Exhausted("dictionary")
	if atomic.LoadUint64(&globalMetrics.AnalysesTotal) != total || atomic.LoadUint64(&globalMetrics.AnalysesSucceeded) != succeeded {
		t.Fatal("non-analysis retries counted as analyses")
	}
	o.AttemptFinished("charts", true)
	if atomic.LoadUint64(&globalMetrics.AnalysesSucceeded) != succeeded+1 {
		t.Fatal("chart run not counted")
	}

	rec := httptest.NewRecorder()
	MetricsHandler(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	var m map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&m); err != nil {
		t.Fatal(err)
	}
	if _, ok := m["attempts_total"]; !ok {
		t.Fatalf("metrics = %v", m)
	}
}

func TestHealthAndReadiness(t *testing.T) {
	checkers := map[string]HealthChecker{
		"sandbox": CheckerFunc(func(context.Context) error { return nil }),
		"llm":     CheckerFunc(func(context.Context) error { return errors.New("unreachable") }),
	}

	rec := httptest.NewRecorder()
	HealthHandler(checkers)(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	var health Report
	if err := json.NewDecoder(rec.Body).Decode(&health); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusOK || health.Status != "degraded" {
		t.Fatalf("health = %d %+v", rec.Code, health)
	}
	if len(health.Checks) != 2 || health.Checks[0].Name != "llm" || health.Checks[0].Error != "unreachable" || !health.Checks[1].OK {
		t.Fatalf("checks = %+v", health.Checks)
	}

	rec = httptest.NewRecorder()
	ReadinessHandler(checkers)(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), `"not_ready"`) {
		t.Fatalf("ready = %d %s", rec.Code, rec.Body)
	}

	delete(checkers, "llm")
	rec = httptest.NewRecorder()
	ReadinessHandler(checkers)(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ready"`) {
		t.Fatalf("ready = %d %s", rec.Code, rec.Body)
	}
	var _ HealthChecker = &DatabaseHealthChecker{DB: (*sql.DB)(nil)}
}

func TestRunChecksTimesOut(t *testing.T) {
	checks, ok := RunChecks(context.Background(), map[string]HealthChecker{
		"hung": CheckerFunc(func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}),
	})
	if ok || len(checks) != 1 || !strings.Contains(checks[0].Error, "deadline") {
		t.Fatalf("checks = %+v ok = %t", checks, ok)
	}
}

func TestValidators(t *testing.T) {
	if ValidateSessionID("3f2b8c1e-8a8e-4a52-9d7e-0e1f2a3b4c5d") != nil {
		t.Fatal("valid uuid rejected")
	}
	for _, bad := range []string{"", "abc", "3f2b8c1e8a8e4a529d7e0e1f2a3b4c5d"} {
		if ValidateSessionID(bad) == nil {
			t.Fatalf("ValidateSessionID(%q) passed", bad)
		}
	}
	if ValidateDatasetName("sales 2024.v1") != nil {
		t.Fatal("valid dataset name rejected")
	}
	for _, bad := range []string{"", "../etc", "a;b", strings.Repeat("a", 129)} {
		if ValidateDatasetName(bad) == nil {
			t.Fatalf("ValidateDatasetName(%q) passed", bad)
		}
	}
	q, err := ValidateQuestion("  total\x00 by month\x07 ")
	if err != nil || q != "total by month" {
		t.Fatalf("ValidateQuestion = %q, %v", q, err)
	}
	if _, err := ValidateQuestion(strings.Repeat("x", MaxQuestionLength+1)); err == nil {
		t.Fatal("overlong question passed")
	}
}
