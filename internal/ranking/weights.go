package ranking

import (
	"math"
	"time"
)

// RecencyRegime is one segment of a piecewise exponential decay curve.
// The regime applies from StartHours until the next regime's StartHours.
type RecencyRegime struct {
	StartHours float64 `json:"start_hours"` // Inclusive lower bound of the regime
	Scale      float64 `json:"scale"`       // Value at the start of the regime
	DecayHours float64 `json:"decay_hours"` // e-folding time within the regime
}

// HoursSince returns the elapsed hours between createdAt and now.
// A zero createdAt, a zero now, or a createdAt after now yields 0 with ok=false.
func HoursSince(createdAt, now time.Time) (hours float64, ok bool) {
	if createdAt.IsZero() || now.IsZero() {
		return 0, false
	}
	d := now.Sub(createdAt)
	if d < 0 {
		return 0, false
	}
	return d.Hours(), true
}

// RecencyScore evaluates a piecewise exponential decay curve at the given age.
// The regime in effect is the last one whose StartHours is at or below hours.
//
// Parameters:
//   - hours: Age of the item in hours (negative or NaN is treated as 0)
//   - curve: The regimes, ordered by StartHours
//
// Returns the decayed value of the active regime, or 0 for an empty curve.
// Formula: scale_i * e^(-(h - start_i) / decay_i) for start_i <= h < start_{i+1}
//
// Regimes do not hand off continuously, so the curve jumps at regime
// boundaries (feed: ~36.8 -> 50 at 24h, ~18.4 -> 10 at 168h).
func RecencyScore(hours float64, curve []RecencyRegime) float64 {
	if len(curve) == 0 {
		return 0
	}
	if math.IsNaN(hours) || hours < 0 {
		hours = 0
	}
	if math.IsInf(hours, 1) {
		return 0
	}

	regime := curve[0]
	for _, r := range curve[1:] {
		if hours < r.StartHours {
			break
		}
		regime = r
	}

	if regime.DecayHours <= 0 {
		return math.Max(regime.Scale, 0)
	}
	elapsed := math.Max(hours-regime.StartHours, 0)
	return math.Max(regime.Scale*math.Exp(-elapsed/regime.DecayHours), 0)
}

// NormalizeEngagement compresses a raw counter logarithmically.
//
// Parameters:
//   - count: The raw interaction counter (negative is treated as 0)
//   - capacity: The counter value that maps to exactly scale
//   - scale: The output at capacity
//
// Returns 0 for count 0 and scale for count == capacity. Counters above
// capacity are not clamped and exceed scale slowly.
// Formula: ln(1 + count) / ln(1 + capacity) * scale
func NormalizeEngagement(count int64, capacity, scale float64) float64 {
	if count <= 0 || capacity <= 0 {
		return 0
	}
	return math.Log1p(float64(count)) / math.Log1p(capacity) * scale
}

// EngagementWeights configures engagement normalization and per-counter weights.
type EngagementWeights struct {
	Cap      float64 `json:"cap"`
	Scale    float64 `json:"scale"`
	Likes    float64 `json:"likes"`
	Comments float64 `json:"comments"`
	Shares   float64 `json:"shares"`
	Views    float64 `json:"views"`
	Saves    float64 `json:"saves"`
}

// EngagementScore is the weighted sum of normalized counters.
func EngagementScore(c Counters, w EngagementWeights) float64 {
	n := func(count int64) float64 {
		return NormalizeEngagement(count, w.Cap, w.Scale)
	}
	return n(c.Likes)*w.Likes +
		n(c.Comments)*w.Comments +
		n(c.Shares)*w.Shares +
		n(c.Views)*w.Views +
		n(c.Saves)*w.Saves
}

// AffinityTiers is the flat boost per author relationship.
type AffinityTiers struct {
	Self     float64 `json:"self"`
	Followed float64 `json:"followed"`
	Other    float64 `json:"other"`
}

// AffinityScore returns the tier for the relationship between the author and the viewer.
// Self-authored content takes precedence over followed authors.
func AffinityScore(authorID string, viewer ViewerContext, tiers AffinityTiers) float64 {
	switch {
	case authorID != "" && authorID == viewer.ViewerID():
		return tiers.Self
	case authorID != "" && viewer.Follows(authorID):
		return tiers.Followed
	default:
		return tiers.Other
	}
}

// InterestWeights configures the tag interest signal.
type InterestWeights struct {
	PerWeight float64 `json:"per_weight"` // Multiplier applied to each matched tag weight
	Cap       float64 `json:"cap"`        // Upper bound of the summed signal
}

// InterestScore computes the tag interest signal for an item.
//
// Parameters:
//   - tags: The item's tags, matched case-insensitively
//   - viewer: The viewer snapshot holding tag weights
//   - w: PerWeight multiplier and Cap (PerWeight 0 disables the term)
//
// Returns a value in [0, Cap]. Tags the viewer has no weight for contribute 0.
// Formula: min(sum(weight(tag) * per_weight), cap)
func InterestScore(tags []string, viewer ViewerContext, w InterestWeights) float64 {
	if w.PerWeight <= 0 || len(tags) == 0 {
		return 0
	}
	var sum float64
	for _, tag := range tags {
		sum += viewer.InterestWeight(tag) * w.PerWeight
	}
	if sum > w.Cap {
		sum = w.Cap
	}
	return math.Max(sum, 0)
}

// QualityWeights configures the reel quality term.
type QualityWeights struct {
	Completion float64 `json:"completion"`
	LikeRate   float64 `json:"like_rate"`
	ShareRate  float64 `json:"share_rate"`
}

// QualityScore combines externally computed engagement rates.
// Non-finite or negative rates contribute 0.
func QualityScore(m EngagementMetrics, w QualityWeights) float64 {
	rate := func(v float64) float64 {
		if !validWeight(v) {
			return 0
		}
		return v
	}
	return rate(m.AvgCompletionRate)*w.Completion +
		rate(m.AvgLikeRate)*w.LikeRate +
		rate(m.AvgShareRate)*w.ShareRate
}
