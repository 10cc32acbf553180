package fetch

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hitoshi/medpulse/internal/compliance"
)

// --- モック定義 ---

// mockGuard はURLValidatorのテスト用モック。
type mockGuard struct {
	validateFunc func(rawURL string) error
}

func (m *mockGuard) ValidateURL(rawURL string) error {
	if m.validateFunc != nil {
		return m.validateFunc(rawURL)
	}
	return nil
}

// stubRobots はRobotsPolicyのテスト用スタブ。
type stubRobots struct {
	verdict *compliance.RobotsVerdict
	err     error
}

func (s *stubRobots) Allowed(_ context.Context, _ string) (*compliance.RobotsVerdict, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.verdict, nil
}

// mockMetrics はMetricsCollectorのテスト用モック。
type mockMetrics struct {
	mu         sync.Mutex
	successes  int
	failures   map[string]int
	statuses   map[int]int
	ingested   int
	duplicates int
}

func newMockMetrics() *mockMetrics {
	return &mockMetrics{failures: make(map[string]int), statuses: make(map[int]int)}
}

func (m *mockMetrics) RecordFetchSuccess(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.successes++
}

func (m *mockMetrics) RecordFetchFailure(_ string, kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[kind]++
}

func (m *mockMetrics) RecordHTTPStatus(code int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[code]++
}

func (m *mockMetrics) RecordFetchLatency(time.Duration) {}

func (m *mockMetrics) RecordArticlesIngested(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ingested += n
}

func (m *mockMetrics) RecordDuplicateSkipped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.duplicates++
}

func (m *mockMetrics) RecordRateLimitWait(time.Duration) {}
func (m *mockMetrics) RecordClassification(string)       {}
func (m *mockMetrics) RecordComplianceValidation(string) {}
func (m *mockMetrics) RecordAggregation(bool)            {}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2, MaxDelay: 5 * time.Millisecond}
}

func newTestFetcher(robots RobotsPolicy, m *mockMetrics, cfg FetcherConfig) *Fetcher {
	return NewFetcher(&mockGuard{}, &http.Client{}, robots, m, newTestLogger(), cfg)
}
