package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// getCounterVecValue returns the value of the counter with the given labels.
func getCounterVecValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	metric := &dto.Metric{}
	if err := vec.WithLabelValues(labels...).Write(metric); err != nil {
		t.Fatalf("failed to read counter: %v", err)
	}
	return metric.GetCounter().GetValue()
}

// readCounter returns the current value of a plain counter.
func readCounter(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	metric := &dto.Metric{}
	if err := c.Write(metric); err != nil {
		t.Fatalf("failed to read counter: %v", err)
	}
	return metric.GetCounter().GetValue()
}

func TestMetrics_Register(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()

	if err := m.Register(reg); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}

	m.IncRateLimitRequests("/rank/feed", "viewer")
	m.IncRateLimitBlocked("/rank/feed", "ip")
	m.IncRateLimitRedisErrors()
	m.IncAuthFailures("expired")
	m.ObserveHTTPRequest("GET", "/feed", "200", 0.01, 0, 10)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() failed: %v", err)
	}
	found := make(map[string]bool)
	for _, mf := range families {
		found[mf.GetName()] = true
	}
	for _, name := range []string{
		MetricRateLimitRequests, MetricRateLimitBlocked, MetricRateLimitRedisErrors,
		MetricAuthFailures, MetricHTTPRequestDuration, MetricHTTPRequestsTotal,
		MetricHTTPRequestSizeBytes, MetricHTTPResponseSizeBytes,
	} {
		if !found[name] {
			t.Errorf("metric %s not found in registry", name)
		}
	}

	if err := m.Register(reg); err == nil {
		t.Error("expected error registering the same collectors twice")
	}
}

func TestHTTPMetrics(t *testing.T) {
	tests := []struct {
		name        string
		method      string
		path        string
		status      int
		wantPath    string
		wantMetrics bool
	}{
		{name: "rank request", method: http.MethodPost, path: "/rank/feed", status: http.StatusOK, wantPath: "/rank/feed", wantMetrics: true},
		{name: "unknown surface collapsed", method: http.MethodPost, path: "/rank/bogus", status: http.StatusBadRequest, wantPath: "/rank/{surface}", wantMetrics: true},
		{name: "post id normalized", method: http.MethodGet, path: "/posts/3f1c0b1e-8b8e-4a8e-9a57-1f0f3f0c2d11", status: http.StatusOK, wantPath: "/posts/{id}", wantMetrics: true},
		{name: "health excluded", method: http.MethodGet, path: "/health", status: http.StatusOK},
		{name: "ready excluded", method: http.MethodGet, path: "/ready", status: http.StatusOK},
		{name: "metrics excluded", method: http.MethodGet, path: "/metrics", status: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMetrics()
			handler := HTTPMetrics(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"items":[]}`))
			}))

			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(`{"items":[]}`))
			handler.ServeHTTP(httptest.NewRecorder(), req)

			if !tt.wantMetrics {
				if n := testCollectorCount(m.httpRequestsTotal); n != 0 {
					t.Errorf("expected no series, got %d", n)
				}
				return
			}
			got := getCounterVecValue(t, m.httpRequestsTotal, tt.method, tt.wantPath, strconv.Itoa(tt.status))
			if got != 1 {
				t.Errorf("expected 1 request for %s %s, got %v", tt.method, tt.wantPath, got)
			}
		})
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/", "/"},
		{"/feed", "/feed"},
		{"/reels", "/reels"},
		{"/discover", "/discover"},
		{"/posts", "/posts"},
		{"/posts/abc", "/posts/{id}"},
		{"/posts/", "other"},
		{"/rank/feed", "/rank/feed"},
		{"/rank/reel", "/rank/reel"},
		{"/rank/trending", "/rank/trending"},
		{"/rank/anything-else", "/rank/{surface}"},
		{"/debug/pprof/heap", "/debug/pprof"},
		{"/wp-admin/login.php", "other"},
		{"/feed/extra", "other"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := normalizePath(tt.path); got != tt.want {
				t.Errorf("normalizePath(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestMetricsResponseWriter(t *testing.T) {
	rr := httptest.NewRecorder()
	mrw := newMetricsResponseWriter(rr)

	_, _ = mrw.Write([]byte("hello "))
	_, _ = mrw.Write([]byte("world"))
	mrw.WriteHeader(http.StatusTeapot)

	if mrw.statusCode != http.StatusOK {
		t.Errorf("expected implicit status 200, got %d", mrw.statusCode)
	}
	if mrw.size != 11 {
		t.Errorf("expected size 11, got %d", mrw.size)
	}
	if mrw.Unwrap() != rr {
		t.Error("Unwrap() did not return the underlying writer")
	}
}

func testCollectorCount(c prometheus.Collector) int {
	ch := make(chan prometheus.Metric, 16)
	go func() {
		c.Collect(ch)
		close(ch)
	}()
	n := 0
	for range ch {
		n++
	}
	return n
}
