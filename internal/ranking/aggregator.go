package ranking

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/onnwee/streamrank/internal/tracing"
)

// Ranker defaults.
const (
	DefaultWorkers           = 4
	DefaultParallelThreshold = 256
)

// cancelCheckInterval is how many items a worker scores between context checks.
const cancelCheckInterval = 64

// RankItems scores every item with scorer and returns them ordered by
// descending score. Items with equal scores keep their input order.
// The input slice and its items are not modified.
func RankItems(scorer Scorer, items []ContentItem, viewer ViewerContext, metrics MetricsByID, now time.Time) []ScoredItem {
	scored := make([]ScoredItem, len(items))
	for i := range items {
		scored[i] = scoreItem(scorer, items[i], viewer, metrics, now, false)
	}
	sortScored(scored)
	return scored
}

// RankerConfig configures a Ranker.
type RankerConfig struct {
	// Workers bounds the number of goroutines scoring one call.
	Workers int
	// ParallelThreshold is the candidate count at which scoring fans out.
	ParallelThreshold int
	// Metrics records ranking calls (optional).
	Metrics *Metrics
	// Logger for ranking activity.
	Logger *slog.Logger
	// Clock supplies "now" when a call does not.
	Clock func() time.Time
}

// RankOptions are the per-call inputs besides items and viewer.
type RankOptions struct {
	// Now is the reference time for recency. Zero uses the ranker clock.
	Now time.Time
	// Metrics holds reel engagement metrics keyed by content id.
	Metrics MetricsByID
	// Explain attaches a score breakdown to each result.
	Explain bool
	// Limit truncates the sorted result; 0 means no limit.
	Limit int
}

// Ranker applies the scorer for a surface to a candidate list and sorts
// the result. It holds no per-call state and is safe for concurrent use.
type Ranker struct {
	scorers map[Surface]Scorer
	config  RankerConfig
}

// NewRanker creates a Ranker with scorers built from weights.
// Nil weights use the defaults.
func NewRanker(weights *Weights, config RankerConfig) *Ranker {
	if config.Workers <= 0 {
		config.Workers = DefaultWorkers
	}
	if config.ParallelThreshold <= 0 {
		config.ParallelThreshold = DefaultParallelThreshold
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}

	return &Ranker{
		scorers: map[Surface]Scorer{
			SurfaceFeed:     NewFeedScorer(weights),
			SurfaceReel:     NewReelScorer(weights),
			SurfaceTrending: NewTrendingScorer(weights),
		},
		config: config,
	}
}

// Scorer returns the scorer registered for surface.
func (r *Ranker) Scorer(surface Surface) (Scorer, error) {
	s, ok := r.scorers[surface]
	if !ok {
		return nil, ErrUnknownSurface
	}
	return s, nil
}

// Rank scores items for surface and returns them by descending score with a
// stable tie-break on input order. Malformed items are scored fail-soft.
// The only errors are ErrUnknownSurface and the context's error when the
// caller cancels; no partial result is returned in either case.
func (r *Ranker) Rank(ctx context.Context, surface Surface, items []ContentItem, viewer ViewerContext, opts RankOptions) (result []ScoredItem, err error) {
	scorer, err := r.Scorer(surface)
	if err != nil {
		return nil, err
	}

	ctx, endSpan := tracing.StartSpan(ctx, "ranking.rank")
	defer func() { endSpan(err) }()
	tracing.SetAttributes(ctx,
		attribute.String("ranking.surface", string(surface)),
		attribute.Int("ranking.candidates", len(items)),
	)

	start := time.Now()
	now := opts.Now
	if now.IsZero() {
		now = r.config.Clock()
	}

	scored, err := r.score(ctx, scorer, items, viewer, opts, now)
	if err != nil {
		r.config.Logger.DebugContext(ctx, "ranking cancelled",
			"surface", surface,
			"candidates", len(items),
			"error", err)
		return nil, err
	}
	sortScored(scored)
	if opts.Limit > 0 && len(scored) > opts.Limit {
		scored = scored[:opts.Limit]
	}

	if m := r.config.Metrics; m != nil {
		m.IncRequests(surface)
		m.ObserveCandidates(surface, len(items))
		m.ObserveDuration(surface, time.Since(start).Seconds())
	}
	return scored, nil
}

// score fills one ScoredItem per input item, fanning out across workers
// for large lists. Each worker writes a disjoint index range.
func (r *Ranker) score(ctx context.Context, scorer Scorer, items []ContentItem, viewer ViewerContext, opts RankOptions, now time.Time) ([]ScoredItem, error) {
	scored := make([]ScoredItem, len(items))
	scoreRange := func(ctx context.Context, from, to int) error {
		for i := from; i < to; i++ {
			if (i-from)%cancelCheckInterval == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			scored[i] = scoreItem(scorer, items[i], viewer, opts.Metrics, now, opts.Explain)
			r.recordDegradations(scorer.Surface(), items[i], now)
		}
		return nil
	}

	if len(items) < r.config.ParallelThreshold || r.config.Workers == 1 {
		if err := scoreRange(ctx, 0, len(items)); err != nil {
			return nil, err
		}
		return scored, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.Workers)
	chunk := (len(items) + r.config.Workers - 1) / r.config.Workers
	for from := 0; from < len(items); from += chunk {
		to := min(from+chunk, len(items))
		g.Go(func() error {
			return scoreRange(gctx, from, to)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return scored, nil
}

func (r *Ranker) recordDegradations(surface Surface, item ContentItem, now time.Time) {
	if r.config.Metrics == nil {
		return
	}
	for _, reason := range Degradations(item, now) {
		r.config.Metrics.IncDegraded(surface, reason)
	}
}

func scoreItem(scorer Scorer, item ContentItem, viewer ViewerContext, metrics MetricsByID, now time.Time, explain bool) ScoredItem {
	out := ScoredItem{
		Item:    cloneItem(item),
		Surface: scorer.Surface(),
	}
	b := scorer.Explain(item, viewer, metrics.Lookup(item.ID), now)
	out.Score = b.Total
	if explain {
		out.Breakdown = &b
	}
	return out
}

// sortScored orders by descending score. It must run on one goroutine over
// the complete list so equal scores keep their input order.
func sortScored(scored []ScoredItem) {
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
}

func cloneItem(item ContentItem) ContentItem {
	if item.Tags != nil {
		item.Tags = append([]string(nil), item.Tags...)
	}
	return item
}
