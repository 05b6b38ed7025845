package signals

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/onnwee/streamrank/internal/ranking"
)

var errBackend = errors.New("connection refused")

// flakyStore fails every call while down is set.
type flakyStore struct {
	*InMemoryStore
	down  bool
	calls int
}

func (f *flakyStore) GetProfile(ctx context.Context, viewerID string) (ViewerProfile, error) {
	f.calls++
	if f.down {
		return ViewerProfile{}, errBackend
	}
	return f.InMemoryStore.GetProfile(ctx, viewerID)
}

func (f *flakyStore) GetMetrics(ctx context.Context, ids []string) (ranking.MetricsByID, error) {
	f.calls++
	if f.down {
		return nil, errBackend
	}
	return f.InMemoryStore.GetMetrics(ctx, ids)
}

func testBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:             "test",
		MaxRequests:      1,
		Timeout:          50 * time.Millisecond,
		FailureThreshold: 3,
	}
}

func TestBreakerStore_PassesThrough(t *testing.T) {
	ctx := context.Background()
	inner := NewInMemoryStore()
	store := NewBreakerStore(inner, testBreakerConfig())

	if err := store.PutProfile(ctx, ViewerProfile{ViewerID: "did:example:alice", Following: []string{"did:example:bob"}}); err != nil {
		t.Fatalf("PutProfile returned error: %v", err)
	}
	p, err := store.GetProfile(ctx, "did:example:alice")
	if err != nil {
		t.Fatalf("GetProfile returned error: %v", err)
	}
	if len(p.Following) != 1 {
		t.Errorf("expected one followed author, got %v", p.Following)
	}

	if err := store.PutMetrics(ctx, "r1", ranking.EngagementMetrics{AvgCompletionRate: 0.5}); err != nil {
		t.Fatalf("PutMetrics returned error: %v", err)
	}
	m, err := store.GetMetrics(ctx, []string{"r1", "r2"})
	if err != nil {
		t.Fatalf("GetMetrics returned error: %v", err)
	}
	if len(m) != 1 || m["r1"].AvgCompletionRate != 0.5 {
		t.Errorf("unexpected metrics: %+v", m)
	}
	if store.State() != "closed" {
		t.Errorf("expected closed breaker, got %s", store.State())
	}
}

func TestBreakerStore_OpensAndRecovers(t *testing.T) {
	ctx := context.Background()
	inner := &flakyStore{InMemoryStore: NewInMemoryStore(), down: true}
	store := NewBreakerStore(inner, testBreakerConfig())

	for i := 0; i < 3; i++ {
		if _, err := store.GetProfile(ctx, "did:example:alice"); !errors.Is(err, errBackend) {
			t.Fatalf("call %d: expected backend error, got %v", i+1, err)
		}
	}
	if store.State() != "open" {
		t.Fatalf("expected open breaker after 3 failures, got %s", store.State())
	}

	calls := inner.calls
	if _, err := store.GetMetrics(ctx, []string{"r1"}); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable while open, got %v", err)
	}
	if inner.calls != calls {
		t.Error("open breaker should not reach the backing store")
	}

	inner.down = false
	time.Sleep(80 * time.Millisecond)

	if _, err := store.GetProfile(ctx, "did:example:alice"); err != nil {
		t.Fatalf("expected trial call to succeed, got %v", err)
	}
	if store.State() != "closed" {
		t.Errorf("expected closed breaker after recovery, got %s", store.State())
	}
}

func TestBreakerStore_IgnoresCallerErrors(t *testing.T) {
	ctx := context.Background()
	store := NewBreakerStore(NewInMemoryStore(), testBreakerConfig())

	for i := 0; i < 5; i++ {
		if err := store.PutProfile(ctx, ViewerProfile{}); !errors.Is(err, ErrMissingViewerID) {
			t.Fatalf("expected ErrMissingViewerID, got %v", err)
		}
	}
	if store.State() != "closed" {
		t.Errorf("validation errors should not open the breaker, got %s", store.State())
	}
}

func TestNewBreakerStore_DefaultThreshold(t *testing.T) {
	inner := &flakyStore{InMemoryStore: NewInMemoryStore(), down: true}
	store := NewBreakerStore(inner, BreakerConfig{Name: "zero", Timeout: time.Minute})

	for i := 0; i < int(DefaultBreakerConfig().FailureThreshold)-1; i++ {
		_, _ = store.GetProfile(context.Background(), "did:example:alice")
	}
	if store.State() != "closed" {
		t.Errorf("expected closed breaker below default threshold, got %s", store.State())
	}
}
