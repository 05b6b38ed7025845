package ranking

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// CalibrationVersion is the major version of the calibration file format this build understands.
const CalibrationVersion = "1"

// ErrInvalidCalibration is returned when a calibration file or weight set is unusable.
var ErrInvalidCalibration = errors.New("invalid ranking calibration")

// StreamWeights parameterizes the generic stream scorer used for feed and reel.
type StreamWeights struct {
	Recency    []RecencyRegime   `json:"recency"`
	Engagement EngagementWeights `json:"engagement"`
	Affinity   AffinityTiers     `json:"affinity"`
	Interest   InterestWeights   `json:"interest"`
	Quality    QualityWeights    `json:"quality"`
}

// TrendingWeights defines the linear trending combination.
type TrendingWeights struct {
	Likes    float64 `json:"likes"`
	Comments float64 `json:"comments"`
}

// Weights holds all ranking weight configurations.
type Weights struct {
	Feed     StreamWeights   `json:"feed"`
	Reel     StreamWeights   `json:"reel"`
	Trending TrendingWeights `json:"trending"`
}

// CalibrationConfig represents the JSON structure of the calibration file.
type CalibrationConfig struct {
	Version string  `json:"version"`
	Weights Weights `json:"weights"`
}

// DefaultFeedWeights returns the feed stream configuration.
//
// feed_score = recency + engagement + affinity + interest
//   - recency: 100·e^(-h/24) same day, 50·e^(-(h-24)/144) within a week, 10·e^(-(h-168)/720) after
//   - engagement: log-normalized against 1000 interactions, scale 100,
//     likes 0.4, comments 0.3, saves 0.2, views 0.1
//   - affinity: self 30, followed 50, other 10
//   - interest: tag weight × 10, capped at 50
func DefaultFeedWeights() StreamWeights {
	return StreamWeights{
		Recency: []RecencyRegime{
			{StartHours: 0, Scale: 100, DecayHours: 24},
			{StartHours: 24, Scale: 50, DecayHours: 144},
			{StartHours: 168, Scale: 10, DecayHours: 720},
		},
		Engagement: EngagementWeights{
			Cap:      1000,
			Scale:    100,
			Likes:    0.4,
			Comments: 0.3,
			Saves:    0.2,
			Views:    0.1,
		},
		Affinity: AffinityTiers{Self: 30, Followed: 50, Other: 10},
		Interest: InterestWeights{PerWeight: 10, Cap: 50},
	}
}

// DefaultReelWeights returns the reel stream configuration.
//
// reel_score = recency + engagement + affinity + quality
//   - recency: 40·e^(-h/48), 20·e^(-(h-48)/120), 5·e^(-(h-168)/720)
//   - engagement: log-normalized against 10000 interactions, scale 30,
//     views 0.5, likes 0.3, comments 0.1, shares 0.1
//   - affinity: self 10, followed 15, other 5
//   - quality: completion 0.1, like rate 0.03, share rate 0.02
//
// Reels carry no interest term.
func DefaultReelWeights() StreamWeights {
	return StreamWeights{
		Recency: []RecencyRegime{
			{StartHours: 0, Scale: 40, DecayHours: 48},
			{StartHours: 48, Scale: 20, DecayHours: 120},
			{StartHours: 168, Scale: 5, DecayHours: 720},
		},
		Engagement: EngagementWeights{
			Cap:      10000,
			Scale:    30,
			Views:    0.5,
			Likes:    0.3,
			Comments: 0.1,
			Shares:   0.1,
		},
		Affinity: AffinityTiers{Self: 10, Followed: 15, Other: 5},
		Quality:  QualityWeights{Completion: 0.1, LikeRate: 0.03, ShareRate: 0.02},
	}
}

// DefaultTrendingWeights returns likes + 2·comments.
func DefaultTrendingWeights() TrendingWeights {
	return TrendingWeights{Likes: 1, Comments: 2}
}

// DefaultWeights returns the default ranking weight configuration.
func DefaultWeights() *Weights {
	return &Weights{
		Feed:     DefaultFeedWeights(),
		Reel:     DefaultReelWeights(),
		Trending: DefaultTrendingWeights(),
	}
}

// Clone returns a deep copy of the weights.
func (w *Weights) Clone() *Weights {
	if w == nil {
		return nil
	}
	c := *w
	c.Feed.Recency = append([]RecencyRegime(nil), w.Feed.Recency...)
	c.Reel.Recency = append([]RecencyRegime(nil), w.Reel.Recency...)
	return &c
}

// Validate checks that the weights produce finite, non-negative scores.
func (w *Weights) Validate() error {
	if w == nil {
		return fmt.Errorf("%w: weights are nil", ErrInvalidCalibration)
	}
	var errs []error
	errs = append(errs, validateStream("feed", w.Feed)...)
	errs = append(errs, validateStream("reel", w.Reel)...)
	if w.Trending.Likes < 0 || w.Trending.Comments < 0 {
		errs = append(errs, fmt.Errorf("%w: trending weights must be non-negative", ErrInvalidCalibration))
	}
	return errors.Join(errs...)
}

func validateStream(name string, s StreamWeights) []error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s.%s", ErrInvalidCalibration, name, fmt.Sprintf(format, args...)))
	}

	if len(s.Recency) == 0 {
		fail("recency must define at least one regime")
	}
	for i, r := range s.Recency {
		if i == 0 && r.StartHours != 0 {
			fail("recency[0].start_hours must be 0")
		}
		if i > 0 && r.StartHours <= s.Recency[i-1].StartHours {
			fail("recency[%d].start_hours must increase", i)
		}
		if r.Scale < 0 {
			fail("recency[%d].scale must be non-negative", i)
		}
		if r.DecayHours <= 0 {
			fail("recency[%d].decay_hours must be positive", i)
		}
	}

	e := s.Engagement
	if e.Cap <= 0 {
		fail("engagement.cap must be positive")
	}
	if e.Scale < 0 || e.Likes < 0 || e.Comments < 0 || e.Shares < 0 || e.Views < 0 || e.Saves < 0 {
		fail("engagement weights must be non-negative")
	}

	a := s.Affinity
	if a.Self < 0 || a.Followed < 0 || a.Other < 0 {
		fail("affinity tiers must be non-negative")
	}

	if s.Interest.PerWeight < 0 || s.Interest.Cap < 0 {
		fail("interest weights must be non-negative")
	}
	if s.Interest.PerWeight > 0 && s.Interest.Cap == 0 {
		fail("interest.cap must be positive when per_weight is set")
	}

	q := s.Quality
	if q.Completion < 0 || q.LikeRate < 0 || q.ShareRate < 0 {
		fail("quality weights must be non-negative")
	}
	return errs
}

// LoadCalibration loads ranking weights from a JSON calibration file.
// An empty path returns the defaults. Partial files are merged over the
// defaults. On any error the defaults are returned together with the error
// so callers can keep serving.
func LoadCalibration(filePath string) (*Weights, error) {
	if filePath == "" {
		return DefaultWeights(), nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		slog.Warn("failed to read calibration file, using defaults",
			"path", filePath,
			"error", err)
		return DefaultWeights(), fmt.Errorf("failed to read calibration file: %w", err)
	}

	defaults := DefaultWeights()
	config, err := decodeCalibration(data, defaults)
	if err != nil {
		slog.Warn("failed to parse calibration file, using defaults",
			"path", filePath,
			"error", err)
		return DefaultWeights(), fmt.Errorf("failed to parse calibration file: %w", err)
	}

	if !supportedVersion(config.Version) {
		slog.Warn("unsupported calibration version, using defaults",
			"path", filePath,
			"version", config.Version)
		return DefaultWeights(), fmt.Errorf("%w: unsupported version %q", ErrInvalidCalibration, config.Version)
	}

	merged := &config.Weights
	if err := merged.Validate(); err != nil {
		slog.Warn("calibration failed validation, using defaults",
			"path", filePath,
			"error", err)
		return DefaultWeights(), err
	}
	logCalibrationOverrides(defaults, merged)

	return merged, nil
}

// decodeCalibration reads a calibration file over base. Every key present in
// the file replaces the base value, including an explicit 0; a non-empty
// recency curve replaces the base curve as a whole.
func decodeCalibration(data []byte, base *Weights) (CalibrationConfig, error) {
	config := CalibrationConfig{Weights: *base.Clone()}
	config.Weights.Feed.Recency = nil
	config.Weights.Reel.Recency = nil
	if err := json.Unmarshal(data, &config); err != nil {
		return CalibrationConfig{}, err
	}

	fallback := base.Clone()
	if len(config.Weights.Feed.Recency) == 0 {
		config.Weights.Feed.Recency = fallback.Feed.Recency
	}
	if len(config.Weights.Reel.Recency) == 0 {
		config.Weights.Reel.Recency = fallback.Reel.Recency
	}
	return config, nil
}

// supportedVersion accepts an empty version or any version in the current major line.
func supportedVersion(v string) bool {
	if v == "" {
		return true
	}
	major, _, _ := strings.Cut(strings.TrimPrefix(v, "v"), ".")
	return major == CalibrationVersion
}

// MergeCalibration merges override weights over base weights in code.
// Only non-zero values from the override are applied; a non-empty recency
// curve replaces the base curve as a whole. Calibration files go through
// LoadCalibration, where an explicit 0 is honored.
func MergeCalibration(base *Weights, override *Weights) *Weights {
	if base == nil {
		base = DefaultWeights()
	}
	result := base.Clone()
	if override == nil {
		return result
	}

	mergeStream(&result.Feed, override.Feed)
	mergeStream(&result.Reel, override.Reel)
	setIfNonZero(&result.Trending.Likes, override.Trending.Likes)
	setIfNonZero(&result.Trending.Comments, override.Trending.Comments)

	return result
}

func mergeStream(dst *StreamWeights, o StreamWeights) {
	if len(o.Recency) > 0 {
		dst.Recency = append([]RecencyRegime(nil), o.Recency...)
	}

	setIfNonZero(&dst.Engagement.Cap, o.Engagement.Cap)
	setIfNonZero(&dst.Engagement.Scale, o.Engagement.Scale)
	setIfNonZero(&dst.Engagement.Likes, o.Engagement.Likes)
	setIfNonZero(&dst.Engagement.Comments, o.Engagement.Comments)
	setIfNonZero(&dst.Engagement.Shares, o.Engagement.Shares)
	setIfNonZero(&dst.Engagement.Views, o.Engagement.Views)
	setIfNonZero(&dst.Engagement.Saves, o.Engagement.Saves)

	setIfNonZero(&dst.Affinity.Self, o.Affinity.Self)
	setIfNonZero(&dst.Affinity.Followed, o.Affinity.Followed)
	setIfNonZero(&dst.Affinity.Other, o.Affinity.Other)

	setIfNonZero(&dst.Interest.PerWeight, o.Interest.PerWeight)
	setIfNonZero(&dst.Interest.Cap, o.Interest.Cap)

	setIfNonZero(&dst.Quality.Completion, o.Quality.Completion)
	setIfNonZero(&dst.Quality.LikeRate, o.Quality.LikeRate)
	setIfNonZero(&dst.Quality.ShareRate, o.Quality.ShareRate)
}

func setIfNonZero(dst *float64, v float64) {
	if v != 0 {
		*dst = v
	}
}

// logCalibrationOverrides logs which weights were overridden from defaults.
func logCalibrationOverrides(defaults *Weights, loaded *Weights) {
	var overrides []string
	overrides = append(overrides, diffStream("feed", defaults.Feed, loaded.Feed)...)
	overrides = append(overrides, diffStream("reel", defaults.Reel, loaded.Reel)...)
	overrides = appendDiff(overrides, "trending.likes", defaults.Trending.Likes, loaded.Trending.Likes)
	overrides = appendDiff(overrides, "trending.comments", defaults.Trending.Comments, loaded.Trending.Comments)

	if len(overrides) > 0 {
		slog.Info("loaded ranking calibration with overrides",
			"overrides", overrides)
	} else {
		slog.Info("loaded ranking calibration (using all defaults)")
	}
}

func diffStream(prefix string, a, b StreamWeights) []string {
	var out []string
	if !equalCurves(a.Recency, b.Recency) {
		out = append(out, fmt.Sprintf("%s.recency: %d regimes -> %d regimes", prefix, len(a.Recency), len(b.Recency)))
	}
	out = appendDiff(out, prefix+".engagement.cap", a.Engagement.Cap, b.Engagement.Cap)
	out = appendDiff(out, prefix+".engagement.scale", a.Engagement.Scale, b.Engagement.Scale)
	out = appendDiff(out, prefix+".engagement.likes", a.Engagement.Likes, b.Engagement.Likes)
	out = appendDiff(out, prefix+".engagement.comments", a.Engagement.Comments, b.Engagement.Comments)
	out = appendDiff(out, prefix+".engagement.shares", a.Engagement.Shares, b.Engagement.Shares)
	out = appendDiff(out, prefix+".engagement.views", a.Engagement.Views, b.Engagement.Views)
	out = appendDiff(out, prefix+".engagement.saves", a.Engagement.Saves, b.Engagement.Saves)
	out = appendDiff(out, prefix+".affinity.self", a.Affinity.Self, b.Affinity.Self)
	out = appendDiff(out, prefix+".affinity.followed", a.Affinity.Followed, b.Affinity.Followed)
	out = appendDiff(out, prefix+".affinity.other", a.Affinity.Other, b.Affinity.Other)
	out = appendDiff(out, prefix+".interest.per_weight", a.Interest.PerWeight, b.Interest.PerWeight)
	out = appendDiff(out, prefix+".interest.cap", a.Interest.Cap, b.Interest.Cap)
	out = appendDiff(out, prefix+".quality.completion", a.Quality.Completion, b.Quality.Completion)
	out = appendDiff(out, prefix+".quality.like_rate", a.Quality.LikeRate, b.Quality.LikeRate)
	out = appendDiff(out, prefix+".quality.share_rate", a.Quality.ShareRate, b.Quality.ShareRate)
	return out
}

func appendDiff(out []string, name string, from, to float64) []string {
	if from == to {
		return out
	}
	return append(out, fmt.Sprintf("%s: %.2f -> %.2f", name, from, to))
}

func equalCurves(a, b []RecencyRegime) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
