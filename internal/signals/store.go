// Package signals stores the personalization inputs the ranking engine reads:
// viewer profiles (follows and tag interests) and per-item engagement metrics
// supplied by the analytics pipeline.
package signals

import (
	"context"
	"errors"
	"sync"

	"github.com/onnwee/streamrank/internal/ranking"
)

// ErrMissingViewerID is returned when a profile is written without an id.
var ErrMissingViewerID = errors.New("viewer id is required")

// ViewerProfile is the stored form of a viewer's personalization inputs.
type ViewerProfile struct {
	ViewerID  string             `json:"viewer_id" cbor:"viewer_id"`
	Following []string           `json:"following,omitempty" cbor:"following,omitempty"`
	Interests map[string]float64 `json:"interests,omitempty" cbor:"interests,omitempty"`
	ShowNSFW  bool               `json:"show_nsfw,omitempty" cbor:"show_nsfw,omitempty"`
}

// Context builds the immutable ranking snapshot for this profile.
func (p ViewerProfile) Context() ranking.ViewerContext {
	return ranking.NewViewerContext(p.ViewerID, p.Following, p.Interests)
}

// Store reads and writes viewer profiles and engagement metrics.
type Store interface {
	// GetProfile returns the viewer's profile. An unknown viewer yields an
	// empty profile carrying only the id, not an error.
	GetProfile(ctx context.Context, viewerID string) (ViewerProfile, error)

	// PutProfile replaces the viewer's profile.
	PutProfile(ctx context.Context, profile ViewerProfile) error

	// GetMetrics returns metrics for the given content ids. Ids without
	// metrics are absent from the result.
	GetMetrics(ctx context.Context, ids []string) (ranking.MetricsByID, error)

	// PutMetrics replaces the metrics for one content id.
	PutMetrics(ctx context.Context, id string, metrics ranking.EngagementMetrics) error
}

// InMemoryStore is an in-memory implementation of Store.
// Thread-safe via RWMutex.
type InMemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]ViewerProfile
	metrics  map[string]ranking.EngagementMetrics
}

// NewInMemoryStore creates a new in-memory signal store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		profiles: make(map[string]ViewerProfile),
		metrics:  make(map[string]ranking.EngagementMetrics),
	}
}

// GetProfile returns a copy of the viewer's profile.
func (s *InMemoryStore) GetProfile(_ context.Context, viewerID string) (ViewerProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[viewerID]
	if !ok {
		return ViewerProfile{ViewerID: viewerID}, nil
	}
	return cloneProfile(p), nil
}

// PutProfile stores a copy of the profile.
func (s *InMemoryStore) PutProfile(_ context.Context, profile ViewerProfile) error {
	if profile.ViewerID == "" {
		return ErrMissingViewerID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.profiles[profile.ViewerID] = cloneProfile(profile)
	return nil
}

// GetMetrics returns metrics for the ids that have them.
func (s *InMemoryStore) GetMetrics(_ context.Context, ids []string) (ranking.MetricsByID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(ranking.MetricsByID, len(ids))
	for _, id := range ids {
		if m, ok := s.metrics[id]; ok {
			out[id] = m
		}
	}
	return out, nil
}

// PutMetrics stores the metrics for id.
func (s *InMemoryStore) PutMetrics(_ context.Context, id string, metrics ranking.EngagementMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.metrics[id] = metrics
	return nil
}

func cloneProfile(p ViewerProfile) ViewerProfile {
	c := p
	c.Following = append([]string(nil), p.Following...)
	if p.Interests != nil {
		c.Interests = make(map[string]float64, len(p.Interests))
		for k, v := range p.Interests {
			c.Interests[k] = v
		}
	}
	return c
}
