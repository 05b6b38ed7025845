// Package ranking provides the content ranking engine: signal models, the
// feed/reel/trending scorers and the stable ranking aggregator.
//
// Basic Usage:
//
//	// Load calibration (typically at startup)
//	weights, err := ranking.LoadCalibration("configs/ranking.calibration.json")
//	if err != nil {
//		log.Warn("using default weights", "error", err)
//	}
//
//	ranker := ranking.NewRanker(weights, ranking.RankerConfig{Metrics: metrics})
//	viewer := ranking.NewViewerContext(viewerID, followedIDs, tagWeights)
//
//	// Personalized feed
//	feed, err := ranker.Rank(ctx, ranking.SurfaceFeed, posts, viewer, ranking.RankOptions{})
//
//	// Reel grid with analytics-supplied quality metrics
//	reels, err := ranker.Rank(ctx, ranking.SurfaceReel, clips, viewer, ranking.RankOptions{
//		Metrics: metricsByID,
//	})
//
//	// Full-screen discovery
//	trending, err := ranker.Rank(ctx, ranking.SurfaceTrending, clips, viewer, ranking.RankOptions{})
//
// Signal Models:
//
// RecencyScore, NormalizeEngagement/EngagementScore, AffinityScore,
// InterestScore and QualityScore are pure functions parameterized by the
// StreamWeights of a surface. StreamScorer composes them; feed and reel are
// two StreamWeights instances. TrendingScorer is a separate linear
// combination of likes and comments.
//
// Fail-soft Inputs:
//
// Scoring never fails. Negative counters count as 0, unset or future
// creation times count as age 0, and non-finite or negative interest weights
// and engagement rates count as 0. Degradations reports which coercions
// apply to an item.
//
// Calibration:
//
// Weights are loaded from a versioned JSON file at startup and merged over
// the defaults. See configs/ranking.calibration.json for the default
// configuration.
package ranking
