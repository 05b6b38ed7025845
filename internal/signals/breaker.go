package signals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/onnwee/streamrank/internal/ranking"
)

// ErrUnavailable is returned while the breaker is open and calls are not
// reaching the backing store.
var ErrUnavailable = errors.New("signal store unavailable")

// BreakerConfig configures the circuit breaker in front of a Store.
type BreakerConfig struct {
	// Name identifies the breaker in logs.
	Name string

	// MaxRequests is the number of trial calls allowed while half-open.
	MaxRequests uint32

	// Interval is the cyclic period for clearing counts while closed.
	Interval time.Duration

	// Timeout is how long the breaker stays open before trying again.
	Timeout time.Duration

	// FailureThreshold is the number of consecutive failures that opens the breaker.
	FailureThreshold uint32
}

// DefaultBreakerConfig returns production defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:             "signals",
		MaxRequests:      1,
		Interval:         30 * time.Second,
		Timeout:          10 * time.Second,
		FailureThreshold: 5,
	}
}

// BreakerStore wraps a Store with a circuit breaker. Once the backing store
// fails repeatedly, calls fail fast with ErrUnavailable, and ranking degrades
// to empty profiles and zero metrics without waiting on timeouts.
type BreakerStore struct {
	next Store
	cb   *gobreaker.CircuitBreaker[struct{}]
}

// NewBreakerStore wraps next with a breaker configured by cfg.
func NewBreakerStore(next Store, cfg BreakerConfig) *BreakerStore {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	logger := slog.Default().With("component", "signals-breaker")

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		// A caller giving up says nothing about the store's health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrMissingViewerID)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	}
	return &BreakerStore{
		next: next,
		cb:   gobreaker.NewCircuitBreaker[struct{}](settings),
	}
}

// State reports the breaker state (closed, half-open, open).
func (s *BreakerStore) State() string {
	return s.cb.State().String()
}

func (s *BreakerStore) do(fn func() error) error {
	_, err := s.cb.Execute(func() (struct{}, error) {
		return struct{}{}, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

// GetProfile implements Store.
func (s *BreakerStore) GetProfile(ctx context.Context, viewerID string) (ViewerProfile, error) {
	var profile ViewerProfile
	err := s.do(func() error {
		var err error
		profile, err = s.next.GetProfile(ctx, viewerID)
		return err
	})
	return profile, err
}

// PutProfile implements Store.
func (s *BreakerStore) PutProfile(ctx context.Context, profile ViewerProfile) error {
	return s.do(func() error {
		return s.next.PutProfile(ctx, profile)
	})
}

// GetMetrics implements Store.
func (s *BreakerStore) GetMetrics(ctx context.Context, ids []string) (ranking.MetricsByID, error) {
	var metrics ranking.MetricsByID
	err := s.do(func() error {
		var err error
		metrics, err = s.next.GetMetrics(ctx, ids)
		return err
	})
	return metrics, err
}

// PutMetrics implements Store.
func (s *BreakerStore) PutMetrics(ctx context.Context, id string, metrics ranking.EngagementMetrics) error {
	return s.do(func() error {
		return s.next.PutMetrics(ctx, id, metrics)
	})
}
