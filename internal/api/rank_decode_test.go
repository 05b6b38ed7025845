package api

import (
	"encoding/json"
	"math"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/onnwee/streamrank/internal/ranking"
)

// degradedCount reads ranking_degraded_items_total for one reason.
func degradedCount(t *testing.T, reg *prometheus.Registry, reason string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != ranking.MetricRankingDegradedItems {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "reason" && lp.GetValue() == reason {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestRank_MalformedItemsDegrade(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := ranking.NewMetrics()
	if err := metrics.Register(reg); err != nil {
		t.Fatalf("failed to register metrics: %v", err)
	}
	h := NewRankHandlers(RankHandlersConfig{
		Ranker: ranking.NewRanker(ranking.DefaultWeights(), ranking.RankerConfig{
			Clock:   func() time.Time { return rankTestNow },
			Metrics: metrics,
		}),
	})

	body := json.RawMessage(`{"items":[
		{"id":"stale","author_id":"did:example:bob","created_at":"2025-05-30T12:00:00Z","like_count":10},
		{"id":"word","author_id":"did:example:bob","created_at":"yesterday","like_count":10.0},
		{"id":"empty","author_id":"did:example:bob","created_at":""},
		{"id":"epoch","author_id":"did:example:bob","created_at":1717243200,"tags":["x",7,null]},
		{"id":"nulls","created_at":null,"like_count":null,"tags":null}
	]}`)
	w := postRank(t, h, "feed", body)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodeRank(t, w)
	if got := itemIDs(resp.Items); got != "word,empty,epoch,nulls,stale" {
		t.Fatalf("expected order word,empty,epoch,nulls,stale, got %s", got)
	}

	// An unparseable timestamp scores as h = 0; like_count 10.0 reads as 10.
	engagement := 0.4 * 100 * math.Log(11) / math.Log(1001)
	want := 100 + engagement + 10
	if got := resp.Items[0].Value(); math.Abs(got-want) > 1e-9 {
		t.Errorf("expected score %f for word, got %f", want, got)
	}
	if got := resp.Items[1].Value(); math.Abs(got-110) > 1e-9 {
		t.Errorf("expected score 110 for empty, got %f", got)
	}
	if tags := resp.Items[2].Tags; len(tags) != 1 || tags[0] != "x" {
		t.Errorf("expected non-string tags dropped, got %v", tags)
	}

	if got := degradedCount(t, reg, ranking.DegradedInvalidTimestamp); got != 4 {
		t.Errorf("expected 4 invalid_timestamp degradations, got %v", got)
	}
}

func TestRank_MalformedEnvelopeRejected(t *testing.T) {
	h := newTestRankHandlers(nil, nil)
	tests := []struct {
		name string
		body json.RawMessage
	}{
		{name: "items not an array", body: json.RawMessage(`{"items":{"id":"a"}}`)},
		{name: "item not an object", body: json.RawMessage(`{"items":["a"]}`)},
		{name: "bad now", body: json.RawMessage(`{"items":[],"now":"soon"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postRank(t, h, "feed", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d: %s", w.Code, w.Body.String())
			}
			if code := decodeError(t, w); code != ErrCodeBadRequest {
				t.Errorf("expected code %s, got %s", ErrCodeBadRequest, code)
			}
		})
	}
}

func TestLooseCount(t *testing.T) {
	tests := []struct {
		raw  string
		want int64
	}{
		{"", 0},
		{"null", 0},
		{"10", 10},
		{"10.0", 10},
		{"10.9", 10},
		{"-3", -3},
		{"1e3", 1000},
		{`"42"`, 42},
		{`"many"`, 0},
		{"true", 0},
		{"[1]", 0},
		{"1e300", math.MaxInt64},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			if got := looseCount(json.RawMessage(tt.raw)); got != tt.want {
				t.Errorf("looseCount(%s) = %d, want %d", tt.raw, got, tt.want)
			}
		})
	}
}

func TestLooseTime(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Time
	}{
		{`"2025-06-01T10:00:00Z"`, time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)},
		{`"2025-06-01T10:00:00.5+02:00"`, time.Date(2025, 6, 1, 8, 0, 0, 5e8, time.UTC)},
		{`"yesterday"`, time.Time{}},
		{`""`, time.Time{}},
		{`1717243200`, time.Time{}},
		{`null`, time.Time{}},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			if got := looseTime(json.RawMessage(tt.raw)); !got.Equal(tt.want) {
				t.Errorf("looseTime(%s) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestLooseString(t *testing.T) {
	if got := looseString(json.RawMessage(`"did:example:bob"`)); got != "did:example:bob" {
		t.Errorf("expected string id, got %q", got)
	}
	if got := looseString(json.RawMessage(`123`)); got != "123" {
		t.Errorf("expected numeric id kept as text, got %q", got)
	}
	if got := looseString(json.RawMessage(`{"a":1}`)); got != "" {
		t.Errorf("expected empty id for object, got %q", got)
	}
}
