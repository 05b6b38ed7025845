package ranking

import (
	"errors"
	"math"
	"time"
)

// ErrUnknownSurface is returned when a surface has no scorer.
var ErrUnknownSurface = errors.New("unknown ranking surface")

// Degradation reasons reported when an item's inputs had to be coerced.
const (
	DegradedNegativeCounter  = "negative_counter"
	DegradedInvalidTimestamp = "invalid_timestamp"
)

// Scorer assigns a score to a single content item.
// Implementations are pure: identical inputs yield identical outputs and no
// argument is modified.
type Scorer interface {
	// Surface identifies the ordering policy this scorer implements.
	Surface() Surface
	// Score returns a finite, non-negative score.
	Score(item ContentItem, viewer ViewerContext, metrics EngagementMetrics, now time.Time) float64
	// Explain returns the per-component breakdown; Explain(...).Total == Score(...).
	Explain(item ContentItem, viewer ViewerContext, metrics EngagementMetrics, now time.Time) Breakdown
}

// StreamScorer composes recency, engagement, affinity, interest and quality
// with one StreamWeights configuration. Feed and reel are two instances.
type StreamScorer struct {
	surface Surface
	weights StreamWeights
}

// NewStreamScorer creates a scorer for an arbitrary stream configuration.
func NewStreamScorer(surface Surface, weights StreamWeights) *StreamScorer {
	weights.Recency = append([]RecencyRegime(nil), weights.Recency...)
	return &StreamScorer{surface: surface, weights: weights}
}

// NewFeedScorer creates the feed scorer. Nil weights use the defaults.
func NewFeedScorer(weights *Weights) *StreamScorer {
	if weights == nil {
		weights = DefaultWeights()
	}
	return NewStreamScorer(SurfaceFeed, weights.Feed)
}

// NewReelScorer creates the reel scorer. Nil weights use the defaults.
func NewReelScorer(weights *Weights) *StreamScorer {
	if weights == nil {
		weights = DefaultWeights()
	}
	return NewStreamScorer(SurfaceReel, weights.Reel)
}

// Surface implements Scorer.
func (s *StreamScorer) Surface() Surface { return s.surface }

// Score implements Scorer.
func (s *StreamScorer) Score(item ContentItem, viewer ViewerContext, metrics EngagementMetrics, now time.Time) float64 {
	return s.Explain(item, viewer, metrics, now).Total
}

// Explain implements Scorer.
func (s *StreamScorer) Explain(item ContentItem, viewer ViewerContext, metrics EngagementMetrics, now time.Time) Breakdown {
	hours, _ := HoursSince(item.CreatedAt, now)
	b := Breakdown{
		Recency:    RecencyScore(hours, s.weights.Recency),
		Engagement: EngagementScore(clampCounters(item.Counters), s.weights.Engagement),
		Affinity:   AffinityScore(item.AuthorID, viewer, s.weights.Affinity),
		Interest:   InterestScore(item.Tags, viewer, s.weights.Interest),
		Quality:    QualityScore(metrics, s.weights.Quality),
	}
	b.Total = finite(b.Recency + b.Engagement + b.Affinity + b.Interest + b.Quality)
	return b
}

// TrendingScorer ranks the vertical video discovery surface by raw
// likes and comments only. It has no recency or affinity term.
type TrendingScorer struct {
	weights TrendingWeights
}

// NewTrendingScorer creates the trending scorer. Nil weights use the defaults.
func NewTrendingScorer(weights *Weights) *TrendingScorer {
	if weights == nil {
		weights = DefaultWeights()
	}
	return &TrendingScorer{weights: weights.Trending}
}

// Surface implements Scorer.
func (s *TrendingScorer) Surface() Surface { return SurfaceTrending }

// Score implements Scorer.
func (s *TrendingScorer) Score(item ContentItem, viewer ViewerContext, metrics EngagementMetrics, now time.Time) float64 {
	return s.Explain(item, viewer, metrics, now).Total
}

// Explain implements Scorer. The whole score is reported as engagement.
func (s *TrendingScorer) Explain(item ContentItem, _ ViewerContext, _ EngagementMetrics, _ time.Time) Breakdown {
	c := clampCounters(item.Counters)
	total := finite(float64(c.Likes)*s.weights.Likes + float64(c.Comments)*s.weights.Comments)
	return Breakdown{Engagement: total, Total: total}
}

// NewScorer returns the scorer for a surface.
func NewScorer(surface Surface, weights *Weights) (Scorer, error) {
	switch surface {
	case SurfaceFeed:
		return NewFeedScorer(weights), nil
	case SurfaceReel:
		return NewReelScorer(weights), nil
	case SurfaceTrending:
		return NewTrendingScorer(weights), nil
	}
	return nil, ErrUnknownSurface
}

// Degradations lists the input coercions the engine applies to item.
// An empty result means the item was scored from its inputs as given.
func Degradations(item ContentItem, now time.Time) []string {
	var reasons []string
	c := item.Counters
	if c.Likes < 0 || c.Comments < 0 || c.Shares < 0 || c.Views < 0 || c.Saves < 0 {
		reasons = append(reasons, DegradedNegativeCounter)
	}
	if _, ok := HoursSince(item.CreatedAt, now); !ok {
		reasons = append(reasons, DegradedInvalidTimestamp)
	}
	return reasons
}

func clampCounters(c Counters) Counters {
	clamp := func(v int64) int64 {
		if v < 0 {
			return 0
		}
		return v
	}
	return Counters{
		Likes:    clamp(c.Likes),
		Comments: clamp(c.Comments),
		Shares:   clamp(c.Shares),
		Views:    clamp(c.Views),
		Saves:    clamp(c.Saves),
	}
}

// finite maps NaN, infinities and negative values to 0.
func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}
