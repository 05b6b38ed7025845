package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/onnwee/streamrank/internal/middleware"
	"github.com/onnwee/streamrank/internal/post"
	"github.com/onnwee/streamrank/internal/ranking"
	"github.com/onnwee/streamrank/internal/signals"
)

// Request limits for the ranking endpoints.
const (
	DefaultMaxRankItems  = 1000
	maxRankBodyBytes     = 4 << 20
	defaultSurfaceLimit  = 20
	defaultSurfaceMaxCap = 100
)

// RankRequest is the body of the stateless POST /rank/{surface} endpoint.
type RankRequest struct {
	Items   []ranking.ContentItem  `json:"items"`
	Viewer  *signals.ViewerProfile `json:"viewer,omitempty"`
	Metrics ranking.MetricsByID    `json:"metrics,omitempty"`
	Now     *time.Time             `json:"now,omitempty"`
	Explain bool                   `json:"explain,omitempty"`
	Limit   int                    `json:"limit,omitempty"`
}

// Scores carries the surface-specific score field of one ranked entry.
// Exactly one of the score pointers is set.
type Scores struct {
	FeedScore     *float64           `json:"feed_score,omitempty"`
	ReelScore     *float64           `json:"reel_score,omitempty"`
	TrendingScore *float64           `json:"trending_score,omitempty"`
	Breakdown     *ranking.Breakdown `json:"breakdown,omitempty"`
}

func newScores(s ranking.ScoredItem) Scores {
	score := s.Score
	out := Scores{Breakdown: s.Breakdown}
	switch s.Surface {
	case ranking.SurfaceFeed:
		out.FeedScore = &score
	case ranking.SurfaceReel:
		out.ReelScore = &score
	default:
		out.TrendingScore = &score
	}
	return out
}

// Value returns whichever score is set.
func (s Scores) Value() float64 {
	switch {
	case s.FeedScore != nil:
		return *s.FeedScore
	case s.ReelScore != nil:
		return *s.ReelScore
	case s.TrendingScore != nil:
		return *s.TrendingScore
	}
	return 0
}

// RankedItem is one entry of a POST /rank response.
type RankedItem struct {
	ranking.ContentItem
	Scores
}

// RankResponse is the response of POST /rank/{surface}.
type RankResponse struct {
	Surface ranking.Surface `json:"surface"`
	Items   []RankedItem    `json:"items"`
}

// RankedPost is one entry of a feed, reels or discover page.
type RankedPost struct {
	*post.Post
	Scores
}

// SurfaceResponse is the response of the feed, reels and discover endpoints.
type SurfaceResponse struct {
	Surface    ranking.Surface `json:"surface"`
	Items      []RankedPost    `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// RankHandlersConfig configures RankHandlers.
type RankHandlersConfig struct {
	Ranker  *ranking.Ranker
	Posts   post.Repository
	Signals signals.Store

	// DefaultLimit and MaxLimit bound the page size of the surface endpoints.
	DefaultLimit int
	MaxLimit     int
	// MaxItems caps the candidate count of one POST /rank request.
	MaxItems int
}

// RankHandlers serves the ranking endpoints.
type RankHandlers struct {
	ranker       *ranking.Ranker
	posts        post.Repository
	signals      signals.Store
	defaultLimit int
	maxLimit     int
	maxItems     int
}

// NewRankHandlers creates RankHandlers, filling unset limits with defaults.
func NewRankHandlers(config RankHandlersConfig) *RankHandlers {
	h := &RankHandlers{
		ranker:       config.Ranker,
		posts:        config.Posts,
		signals:      config.Signals,
		defaultLimit: config.DefaultLimit,
		maxLimit:     config.MaxLimit,
		maxItems:     config.MaxItems,
	}
	if h.maxLimit <= 0 {
		h.maxLimit = defaultSurfaceMaxCap
	}
	if h.defaultLimit <= 0 || h.defaultLimit > h.maxLimit {
		h.defaultLimit = min(defaultSurfaceLimit, h.maxLimit)
	}
	if h.maxItems <= 0 {
		h.maxItems = DefaultMaxRankItems
	}
	return h
}

// Rank handles POST /rank/{surface}. It ranks the candidates in the body
// without touching any store.
func (h *RankHandlers) Rank(w http.ResponseWriter, r *http.Request) {
	surface, err := ranking.ParseSurface(r.PathValue("surface"))
	if err != nil {
		writeErr(w, r, ErrCodeUnknownSurface, "Unknown ranking surface")
		return
	}

	var req RankRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRankBodyBytes))
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeErr(w, r, ErrCodeTooManyItems, "Request body too large")
			return
		}
		writeErr(w, r, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}
	if len(req.Items) > h.maxItems {
		writeErr(w, r, ErrCodeTooManyItems, "Too many items; at most "+strconv.Itoa(h.maxItems)+" per request")
		return
	}
	if req.Limit < 0 {
		writeErr(w, r, ErrCodeValidation, "limit must not be negative")
		return
	}

	var viewer ranking.ViewerContext
	if req.Viewer != nil {
		viewer = req.Viewer.Context()
	}
	opts := ranking.RankOptions{
		Metrics: req.Metrics,
		Explain: req.Explain,
		Limit:   req.Limit,
	}
	if req.Now != nil {
		opts.Now = *req.Now
	}

	scored, err := h.ranker.Rank(r.Context(), surface, req.Items, viewer, opts)
	if err != nil {
		h.writeRankError(w, r, err, surface)
		return
	}

	resp := RankResponse{Surface: surface, Items: make([]RankedItem, len(scored))}
	for i, s := range scored {
		resp.Items[i] = RankedItem{ContentItem: s.Item, Scores: newScores(s)}
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// Feed handles GET /feed: recent posts ranked with the feed scorer.
func (h *RankHandlers) Feed(w http.ResponseWriter, r *http.Request) {
	h.serveSurface(w, r, ranking.SurfaceFeed, post.KindPost, false)
}

// Reels handles GET /reels: recent reels ranked with the reel scorer.
func (h *RankHandlers) Reels(w http.ResponseWriter, r *http.Request) {
	h.serveSurface(w, r, ranking.SurfaceReel, post.KindReel, false)
}

// Discover handles GET /discover: recent reels ranked by raw engagement.
func (h *RankHandlers) Discover(w http.ResponseWriter, r *http.Request) {
	h.serveSurface(w, r, ranking.SurfaceTrending, post.KindReel, true)
}

// serveSurface fetches one page of candidates, filters it for the viewer and
// ranks it. Ordering is within the page; the cursor walks creation time.
func (h *RankHandlers) serveSurface(w http.ResponseWriter, r *http.Request, surface ranking.Surface, kind post.Kind, discovery bool) {
	ctx := r.Context()
	q := r.URL.Query()

	limit, ok := h.parseLimit(q.Get("limit"))
	if !ok {
		writeErr(w, r, ErrCodeValidation, "Invalid limit parameter")
		return
	}
	cursor, err := post.DecodeCursor(q.Get("cursor"))
	if err != nil {
		writeErr(w, r, ErrCodeInvalidCursor, "Invalid cursor parameter")
		return
	}
	explain, _ := strconv.ParseBool(q.Get("explain"))

	posts, next, err := h.posts.ListRecent(ctx, kind, limit, cursor)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list candidates", "error", err, "surface", surface, "kind", kind)
		writeErr(w, r, ErrCodeInternal, "Failed to retrieve candidates")
		return
	}

	viewerID := middleware.GetViewerID(ctx)
	profile := h.loadProfile(ctx, viewerID)
	visible := post.FilterForViewer(posts, &post.ViewerPreferences{ShowNSFW: profile.ShowNSFW}, viewerID, discovery)

	items := post.ContentItems(visible)
	var metrics ranking.MetricsByID
	if surface == ranking.SurfaceReel {
		metrics = h.loadMetrics(ctx, items)
	}

	scored, err := h.ranker.Rank(ctx, surface, items, profile.Context(), ranking.RankOptions{
		Metrics: metrics,
		Explain: explain,
	})
	if err != nil {
		h.writeRankError(w, r, err, surface)
		return
	}

	byID := make(map[string]*post.Post, len(visible))
	for _, p := range visible {
		byID[p.ID] = p
	}
	resp := SurfaceResponse{
		Surface:    surface,
		Items:      make([]RankedPost, 0, len(scored)),
		NextCursor: post.EncodeCursor(next),
	}
	for _, s := range scored {
		resp.Items = append(resp.Items, RankedPost{Post: byID[s.Item.ID], Scores: newScores(s)})
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// parseLimit returns the page size for a limit query value. Values above the
// maximum are capped; non-numeric and non-positive values are rejected.
func (h *RankHandlers) parseLimit(s string) (int, bool) {
	if s == "" {
		return h.defaultLimit, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, false
	}
	return min(n, h.maxLimit), true
}

// loadProfile fetches the viewer's profile. A failed lookup degrades to an
// anonymous-equivalent profile.
func (h *RankHandlers) loadProfile(ctx context.Context, viewerID string) signals.ViewerProfile {
	if viewerID == "" || h.signals == nil {
		return signals.ViewerProfile{ViewerID: viewerID}
	}
	profile, err := h.signals.GetProfile(ctx, viewerID)
	if err != nil {
		slog.WarnContext(ctx, "viewer profile lookup failed, ranking without personalization",
			"error", err, "viewer_id", viewerID)
		return signals.ViewerProfile{ViewerID: viewerID}
	}
	return profile
}

// loadMetrics fetches engagement metrics for items. A failed lookup degrades
// to all-zero metrics.
func (h *RankHandlers) loadMetrics(ctx context.Context, items []ranking.ContentItem) ranking.MetricsByID {
	if h.signals == nil || len(items) == 0 {
		return nil
	}
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	metrics, err := h.signals.GetMetrics(ctx, ids)
	if err != nil {
		slog.WarnContext(ctx, "engagement metrics lookup failed, using zero metrics",
			"error", err, "items", len(ids))
		return nil
	}
	return metrics
}

func (h *RankHandlers) writeRankError(w http.ResponseWriter, r *http.Request, err error, surface ranking.Surface) {
	switch {
	case errors.Is(err, ranking.ErrUnknownSurface):
		writeErr(w, r, ErrCodeUnknownSurface, "Unknown ranking surface")
	case errors.Is(err, context.Canceled):
		// The client went away; nobody reads the response.
		slog.DebugContext(r.Context(), "ranking abandoned", "surface", surface)
	default:
		slog.ErrorContext(r.Context(), "ranking failed", "error", err, "surface", surface)
		writeErr(w, r, ErrCodeInternal, "Ranking failed")
	}
}
