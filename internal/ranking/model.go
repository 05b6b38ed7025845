package ranking

import (
	"math"
	"strings"
	"time"
)

// Surface identifies which ordering policy a ranking call uses.
type Surface string

// Supported surfaces.
const (
	SurfaceFeed     Surface = "feed"
	SurfaceReel     Surface = "reel"
	SurfaceTrending Surface = "trending"
)

// ParseSurface converts a string into a Surface.
// Returns ErrUnknownSurface for anything other than feed, reel or trending.
func ParseSurface(s string) (Surface, error) {
	switch Surface(strings.ToLower(strings.TrimSpace(s))) {
	case SurfaceFeed:
		return SurfaceFeed, nil
	case SurfaceReel:
		return SurfaceReel, nil
	case SurfaceTrending:
		return SurfaceTrending, nil
	}
	return "", ErrUnknownSurface
}

// ScoreField returns the JSON field name carrying this surface's score.
func (s Surface) ScoreField() string {
	switch s {
	case SurfaceFeed:
		return "feed_score"
	case SurfaceReel:
		return "reel_score"
	default:
		return "trending_score"
	}
}

// Counters holds raw interaction counts for a content item.
// Absent counters decode as 0.
type Counters struct {
	Likes    int64 `json:"like_count,omitempty"`
	Comments int64 `json:"comment_count,omitempty"`
	Shares   int64 `json:"share_count,omitempty"`
	Views    int64 `json:"view_count,omitempty"`
	Saves    int64 `json:"save_count,omitempty"`
}

// ContentItem is a candidate post or reel. The engine treats it as read-only.
type ContentItem struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"author_id"`
	CreatedAt time.Time `json:"created_at"`
	Counters
	Tags []string `json:"tags,omitempty"`
}

// EngagementMetrics are externally computed per-item rates used by the reel quality term.
type EngagementMetrics struct {
	AvgCompletionRate float64 `json:"avg_completion_rate,omitempty"`
	AvgLikeRate       float64 `json:"avg_like_rate,omitempty"`
	AvgShareRate      float64 `json:"avg_share_rate,omitempty"`
}

// MetricsByID maps content ids to their engagement metrics.
// A missing entry means all-zero metrics.
type MetricsByID map[string]EngagementMetrics

// Lookup returns the metrics for id, or zero metrics when absent.
// Safe to call on a nil map.
func (m MetricsByID) Lookup(id string) EngagementMetrics {
	return m[id]
}

// ViewerContext is an immutable snapshot of one viewer's personalization inputs.
// Build it with NewViewerContext; the zero value is a valid anonymous viewer.
type ViewerContext struct {
	viewerID  string
	following map[string]struct{}
	interests map[string]float64
}

// NewViewerContext builds a snapshot from a follow list and tag weights.
// Tag keys are lower-cased; when two keys collide the larger weight wins.
// Negative, NaN and infinite weights are dropped.
func NewViewerContext(viewerID string, following []string, interests map[string]float64) ViewerContext {
	vc := ViewerContext{
		viewerID:  viewerID,
		following: make(map[string]struct{}, len(following)),
		interests: make(map[string]float64, len(interests)),
	}
	for _, id := range following {
		if id == "" {
			continue
		}
		vc.following[id] = struct{}{}
	}
	for tag, w := range interests {
		if !validWeight(w) || w == 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(tag))
		if key == "" {
			continue
		}
		if prev, ok := vc.interests[key]; !ok || w > prev {
			vc.interests[key] = w
		}
	}
	return vc
}

// ViewerID returns the viewer's identifier.
func (v ViewerContext) ViewerID() string { return v.viewerID }

// Follows reports whether the viewer follows authorID.
func (v ViewerContext) Follows(authorID string) bool {
	_, ok := v.following[authorID]
	return ok
}

// Following returns a copy of the followed author ids.
func (v ViewerContext) Following() []string {
	out := make([]string, 0, len(v.following))
	for id := range v.following {
		out = append(out, id)
	}
	return out
}

// Interests returns a copy of the normalized tag weights.
func (v ViewerContext) Interests() map[string]float64 {
	out := make(map[string]float64, len(v.interests))
	for k, w := range v.interests {
		out[k] = w
	}
	return out
}

// InterestWeight returns the viewer's weight for tag, matched case-insensitively.
func (v ViewerContext) InterestWeight(tag string) float64 {
	if len(v.interests) == 0 {
		return 0
	}
	return v.interests[strings.ToLower(strings.TrimSpace(tag))]
}

// Breakdown is the per-component decomposition of a score.
type Breakdown struct {
	Recency    float64 `json:"recency"`
	Engagement float64 `json:"engagement"`
	Affinity   float64 `json:"affinity"`
	Interest   float64 `json:"interest"`
	Quality    float64 `json:"quality"`
	Total      float64 `json:"total"`
}

// ScoredItem pairs a content item with the score one scorer assigned to it.
// It is a new value; the source item is never modified.
type ScoredItem struct {
	Item      ContentItem
	Surface   Surface
	Score     float64
	Breakdown *Breakdown
}

func validWeight(w float64) bool {
	return !math.IsNaN(w) && !math.IsInf(w, 0) && w >= 0
}
