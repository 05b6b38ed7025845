package tracing

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
)

// otlpCollector records OTLP/HTTP trace exports.
type otlpCollector struct {
	mu     sync.Mutex
	bodies [][]byte
	paths  []string
}

func (c *otlpCollector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	c.mu.Lock()
	c.bodies = append(c.bodies, body)
	c.paths = append(c.paths, r.URL.Path)
	c.mu.Unlock()
	w.Header().Set("Content-Type", "application/x-protobuf")
	w.WriteHeader(http.StatusOK)
}

func (c *otlpCollector) exported() ([]byte, []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return bytes.Join(c.bodies, nil), append([]string(nil), c.paths...)
}

// keepGlobalProvider restores the global tracer provider NewProvider replaces.
func keepGlobalProvider(t *testing.T) {
	t.Helper()
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
}

func TestNewProvider_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name:    "no service name",
			cfg:     Config{Enabled: true, SamplingRate: 0.5},
			wantErr: "service name is required",
		},
		{
			name:    "sampling below zero",
			cfg:     Config{Enabled: true, ServiceName: "streamrank", SamplingRate: -0.01},
			wantErr: "sampling rate must be between 0 and 1",
		},
		{
			name:    "sampling above one",
			cfg:     Config{Enabled: true, ServiceName: "streamrank", SamplingRate: 2},
			wantErr: "sampling rate must be between 0 and 1",
		},
		{
			name:    "unknown exporter",
			cfg:     Config{Enabled: true, ServiceName: "streamrank", SamplingRate: 1, ExporterType: "zipkin"},
			wantErr: "unsupported exporter type: zipkin",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keepGlobalProvider(t)
			provider, err := NewProvider(tt.cfg)
			if err == nil {
				t.Fatal("expected an error")
			}
			if provider != nil {
				t.Error("expected no provider on error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestNewProvider_DisabledLeavesGlobalProvider(t *testing.T) {
	keepGlobalProvider(t)
	before := otel.GetTracerProvider()

	// Validation is skipped entirely when tracing is off.
	provider, err := NewProvider(Config{Enabled: false, SamplingRate: 7})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if provider.IsEnabled() {
		t.Error("expected provider to report disabled")
	}
	if otel.GetTracerProvider() != before {
		t.Error("disabled tracing must not replace the global provider")
	}
	if err := provider.Shutdown(context.Background()); err != nil {
		t.Errorf("expected no-op shutdown, got %v", err)
	}
}

func TestNewExporter(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "grpc", cfg: Config{ExporterType: "otlp-grpc", OTLPEndpoint: "collector:4317", InsecureMode: true}},
		{name: "http", cfg: Config{ExporterType: "otlp-http", OTLPEndpoint: "collector:4318", InsecureMode: true}},
		{name: "http by default", cfg: Config{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exporter, err := newExporter(tt.cfg)
			if err != nil {
				t.Fatalf("newExporter failed: %v", err)
			}
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := exporter.Shutdown(ctx); err != nil {
				t.Errorf("exporter shutdown failed: %v", err)
			}
		})
	}

	if _, err := newExporter(Config{ExporterType: "stdout"}); err == nil {
		t.Error("expected an error for an unknown exporter type")
	}
}

func TestNewSampler(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{1.0, "ParentBased{root:AlwaysOnSampler"},
		{0.0, "ParentBased{root:AlwaysOffSampler"},
		{0.05, "ParentBased{root:TraceIDRatioBased{0.05}"},
	}
	for _, tt := range tests {
		if got := newSampler(tt.rate).Description(); !strings.HasPrefix(got, tt.want) {
			t.Errorf("newSampler(%v) = %q, want prefix %q", tt.rate, got, tt.want)
		}
	}
}

// TestProvider_ExportsRankingSpans runs a ranking span with a nested cache
// lookup through a real provider and checks the OTLP/HTTP export on shutdown.
func TestProvider_ExportsRankingSpans(t *testing.T) {
	keepGlobalProvider(t)
	collector := &otlpCollector{}
	srv := httptest.NewServer(collector)
	defer srv.Close()

	provider, err := NewProvider(Config{
		ServiceName:  "streamrank",
		Enabled:      true,
		Environment:  "test",
		ExporterType: "otlp-http",
		OTLPEndpoint: strings.TrimPrefix(srv.URL, "http://"),
		SamplingRate: 1,
		InsecureMode: true,
	})
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}
	if !provider.IsEnabled() {
		t.Fatal("expected provider to be enabled")
	}

	ctx, endRank := StartSpan(context.Background(), "ranking.rank")
	_, endLookup := StartCacheSpan(ctx, "MGET", 12)
	endLookup(nil)
	endRank(nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := provider.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	body, paths := collector.exported()
	if len(paths) == 0 {
		t.Fatal("expected spans to be flushed on shutdown")
	}
	for _, p := range paths {
		if p != "/v1/traces" {
			t.Errorf("unexpected export path %q", p)
		}
	}
	for _, want := range []string{"ranking.rank", "redis MGET", "streamrank", "dev"} {
		if !bytes.Contains(body, []byte(want)) {
			t.Errorf("expected export to contain %q", want)
		}
	}
}
