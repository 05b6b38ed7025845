package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestRun(t *testing.T) {
	ok := CheckerFunc(func(context.Context) error { return nil })
	fail := CheckerFunc(func(context.Context) error { return errors.New("connection refused") })
	slow := CheckerFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	tests := []struct {
		name        string
		checks      []Check
		wantHealthy bool
		want        map[string]string
	}{
		{
			name:        "no checks",
			wantHealthy: true,
			want:        map[string]string{},
		},
		{
			name:        "all ok",
			checks:      []Check{{Name: "database", Checker: ok, Critical: true}, {Name: "redis", Checker: ok}},
			wantHealthy: true,
			want:        map[string]string{"database": StatusOK, "redis": StatusOK},
		},
		{
			name:        "critical failure",
			checks:      []Check{{Name: "database", Checker: fail, Critical: true}, {Name: "redis", Checker: ok}},
			wantHealthy: false,
			want:        map[string]string{"database": StatusError, "redis": StatusOK},
		},
		{
			name:        "non-critical failure degrades",
			checks:      []Check{{Name: "database", Checker: ok, Critical: true}, {Name: "redis", Checker: fail}},
			wantHealthy: true,
			want:        map[string]string{"database": StatusOK, "redis": StatusDegraded},
		},
		{
			name:        "timeout counts as failure",
			checks:      []Check{{Name: "database", Checker: slow, Critical: true}},
			wantHealthy: false,
			want:        map[string]string{"database": StatusError},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := Run(context.Background(), tt.checks, 50*time.Millisecond)
			if report.Healthy != tt.wantHealthy {
				t.Errorf("Healthy = %v, want %v", report.Healthy, tt.wantHealthy)
			}
			if len(report.Results) != len(tt.want) {
				t.Fatalf("got %d results, want %d", len(report.Results), len(tt.want))
			}
			for name, status := range tt.want {
				if report.Results[name] != status {
					t.Errorf("%s = %q, want %q", name, report.Results[name], status)
				}
			}
		})
	}
}

func TestRedisChecker_Unreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "localhost:9999",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	if err := NewRedisChecker(client).HealthCheck(context.Background()); err == nil {
		t.Error("expected error for unreachable Redis")
	}
}

func TestRedisChecker_CancelledContext(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := NewRedisChecker(client).HealthCheck(ctx); err == nil {
		t.Error("expected error for cancelled context")
	}
}
