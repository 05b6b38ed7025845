package signals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/onnwee/streamrank/internal/ranking"
	"github.com/onnwee/streamrank/internal/tracing"
)

// Redis key prefixes.
const (
	profileKeyPrefix = "streamrank:viewer:"
	metricsKeyPrefix = "streamrank:metrics:"
)

// profileLoadTimeout bounds a shared profile load.
const profileLoadTimeout = 2 * time.Second

// RedisStore implements Store on Redis with CBOR-encoded values.
// Concurrent profile reads for the same viewer share one round trip.
//
// Value layout, shared with any external writer:
//
//	streamrank:viewer:<viewer_id>   CBOR map {viewer_id, following, interests, show_nsfw}
//	streamrank:metrics:<content_id> CBOR map {avg_completion_rate, avg_like_rate, avg_share_rate}
//
// Omitted keys decode as zero values. Both are written with the store TTL.
type RedisStore struct {
	client      *redis.Client
	ttl         time.Duration
	loadTimeout time.Duration
	group       singleflight.Group
	logger      *slog.Logger
	hits        atomic.Int64
	misses      atomic.Int64
}

// NewRedisStore creates a RedisStore. Values expire after ttl; zero means no expiry.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client:      client,
		ttl:         ttl,
		loadTimeout: profileLoadTimeout,
		logger:      slog.Default().With("component", "signals-store"),
	}
}

// GetProfile loads a viewer profile. The shared load runs detached from any
// single caller's cancellation and is bounded by profileLoadTimeout; each
// caller still returns as soon as its own context is done.
func (s *RedisStore) GetProfile(ctx context.Context, viewerID string) (ViewerProfile, error) {
	if viewerID == "" {
		return ViewerProfile{}, nil
	}

	key := profileKeyPrefix + viewerID
	loadCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key, func() (any, error) {
		return s.loadProfile(loadCtx, key, viewerID)
	})

	select {
	case <-ctx.Done():
		return ViewerProfile{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return ViewerProfile{}, res.Err
		}
		if res.Shared {
			s.logger.DebugContext(ctx, "viewer profile load shared", "viewer_id", viewerID)
		}
		// Callers sharing a result must not share its slices and maps.
		return cloneProfile(res.Val.(ViewerProfile)), nil
	}
}

func (s *RedisStore) loadProfile(ctx context.Context, key, viewerID string) (ViewerProfile, error) {
	ctx, cancel := context.WithTimeout(ctx, s.loadTimeout)
	defer cancel()

	ctx, endSpan := tracing.StartCacheSpan(ctx, "GET", 1)
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		endSpan(nil)
		s.misses.Add(1)
		return ViewerProfile{ViewerID: viewerID}, nil
	}
	endSpan(err)
	if err != nil {
		return ViewerProfile{}, fmt.Errorf("failed to get viewer profile: %w", err)
	}

	var p ViewerProfile
	if err := cbor.Unmarshal(data, &p); err != nil {
		return ViewerProfile{}, fmt.Errorf("failed to decode viewer profile: %w", err)
	}
	s.hits.Add(1)
	return p, nil
}

// PutProfile stores a viewer profile.
func (s *RedisStore) PutProfile(ctx context.Context, profile ViewerProfile) error {
	if profile.ViewerID == "" {
		return ErrMissingViewerID
	}

	data, err := cbor.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to encode viewer profile: %w", err)
	}
	if err := s.client.Set(ctx, profileKeyPrefix+profile.ViewerID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store viewer profile: %w", err)
	}
	return nil
}

// GetMetrics loads metrics for ids with a single MGET. Entries that fail
// to decode are skipped and logged, so the item scores with zero metrics.
func (s *RedisStore) GetMetrics(ctx context.Context, ids []string) (out ranking.MetricsByID, err error) {
	out = make(ranking.MetricsByID, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	ctx, endSpan := tracing.StartCacheSpan(ctx, "MGET", len(ids))
	defer func() { endSpan(err) }()

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = metricsKeyPrefix + id
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get engagement metrics: %w", err)
	}

	for i, raw := range values {
		str, ok := raw.(string)
		if !ok {
			continue
		}
		var m ranking.EngagementMetrics
		if err := cbor.Unmarshal([]byte(str), &m); err != nil {
			s.logger.WarnContext(ctx, "skipping undecodable engagement metrics",
				"content_id", ids[i],
				"error", err)
			continue
		}
		out[ids[i]] = m
	}
	return out, nil
}

// PutMetrics stores the metrics for one content id.
func (s *RedisStore) PutMetrics(ctx context.Context, id string, metrics ranking.EngagementMetrics) error {
	data, err := cbor.Marshal(metrics)
	if err != nil {
		return fmt.Errorf("failed to encode engagement metrics: %w", err)
	}
	if err := s.client.Set(ctx, metricsKeyPrefix+id, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store engagement metrics: %w", err)
	}
	return nil
}

// Stats returns profile cache hits and misses since creation.
func (s *RedisStore) Stats() (hits, misses int64) {
	return s.hits.Load(), s.misses.Load()
}
