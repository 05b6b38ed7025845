package api

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"time"

	"github.com/onnwee/streamrank/internal/ranking"
)

// UnmarshalJSON decodes a rank request. Items are decoded leniently so a
// malformed candidate is scored with degraded inputs instead of failing the
// whole batch: unparseable timestamps become the zero time, and counters
// that are not integers are truncated or read as 0.
func (r *RankRequest) UnmarshalJSON(data []byte) error {
	type plain RankRequest
	var wire struct {
		plain
		Items []wireItem `json:"items"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	*r = RankRequest(wire.plain)
	r.Items = nil
	if wire.Items != nil {
		r.Items = make([]ranking.ContentItem, len(wire.Items))
		for i, item := range wire.Items {
			r.Items[i] = item.contentItem()
		}
	}
	return nil
}

// wireItem is the loose JSON shape of a ranking candidate.
type wireItem struct {
	ID        json.RawMessage `json:"id"`
	AuthorID  json.RawMessage `json:"author_id"`
	CreatedAt json.RawMessage `json:"created_at"`
	Likes     json.RawMessage `json:"like_count"`
	Comments  json.RawMessage `json:"comment_count"`
	Shares    json.RawMessage `json:"share_count"`
	Views     json.RawMessage `json:"view_count"`
	Saves     json.RawMessage `json:"save_count"`
	Tags      json.RawMessage `json:"tags"`
}

func (w wireItem) contentItem() ranking.ContentItem {
	return ranking.ContentItem{
		ID:        looseString(w.ID),
		AuthorID:  looseString(w.AuthorID),
		CreatedAt: looseTime(w.CreatedAt),
		Counters: ranking.Counters{
			Likes:    looseCount(w.Likes),
			Comments: looseCount(w.Comments),
			Shares:   looseCount(w.Shares),
			Views:    looseCount(w.Views),
			Saves:    looseCount(w.Saves),
		},
		Tags: looseTags(w.Tags),
	}
}

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

// looseString accepts a JSON string, or a number kept as its literal text.
func looseString(raw json.RawMessage) string {
	if isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// looseTime accepts RFC 3339 strings. Anything else is the zero time,
// which the engine scores as h = 0 and reports as invalid_timestamp.
func looseTime(raw json.RawMessage) time.Time {
	var s string
	if isNull(raw) || json.Unmarshal(raw, &s) != nil {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// looseCount accepts integers, integral or fractional floats (truncated)
// and numeric strings. Anything else counts as 0.
func looseCount(raw json.RawMessage) int64 {
	if isNull(raw) {
		return 0
	}
	var text string
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		text = n.String()
	} else if err := json.Unmarshal(raw, &text); err != nil {
		return 0
	}

	if v, err := strconv.ParseInt(text, 10, 64); err == nil {
		return v
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	switch {
	case f >= math.MaxInt64:
		return math.MaxInt64
	case f <= math.MinInt64:
		return math.MinInt64
	}
	return int64(f)
}

// looseTags keeps the string entries of a tag array.
func looseTags(raw json.RawMessage) []string {
	if isNull(raw) {
		return nil
	}
	var tags []string
	if err := json.Unmarshal(raw, &tags); err == nil {
		return tags
	}
	var mixed []any
	if err := json.Unmarshal(raw, &mixed); err != nil {
		return nil
	}
	for _, v := range mixed {
		if s, ok := v.(string); ok {
			tags = append(tags, s)
		}
	}
	return tags
}
