package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/onnwee/streamrank/internal/ranking"
	"github.com/onnwee/streamrank/internal/signals"
)

// failingWrites rejects every write.
type failingWrites struct {
	*signals.InMemoryStore
}

func (failingWrites) PutProfile(context.Context, signals.ViewerProfile) error {
	return errStoreDown
}

func (failingWrites) PutMetrics(context.Context, string, ranking.EngagementMetrics) error {
	return errStoreDown
}

func putSignal(t *testing.T, handler http.HandlerFunc, path, id string, body any) *httptest.ResponseRecorder {
	t.Helper()
	req := newJSONRequest(t, http.MethodPut, path, body)
	req.SetPathValue("id", id)
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func TestPutProfile(t *testing.T) {
	store := signals.NewInMemoryStore()
	h := NewSignalHandlers(store)

	body := map[string]any{
		"viewer_id": "did:example:someone-else",
		"following": []string{"did:example:bob"},
		"interests": map[string]float64{"synthwave": 2.5},
		"show_nsfw": true,
	}
	w := putSignal(t, h.PutProfile, "/viewers/did:example:alice/profile", "did:example:alice", body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var echoed signals.ViewerProfile
	if err := json.Unmarshal(w.Body.Bytes(), &echoed); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if echoed.ViewerID != "did:example:alice" {
		t.Errorf("expected path id to win, got %q", echoed.ViewerID)
	}

	stored, err := store.GetProfile(context.Background(), "did:example:alice")
	if err != nil {
		t.Fatalf("GetProfile failed: %v", err)
	}
	if len(stored.Following) != 1 || stored.Following[0] != "did:example:bob" {
		t.Errorf("unexpected following %v", stored.Following)
	}
	if stored.Interests["synthwave"] != 2.5 || !stored.ShowNSFW {
		t.Errorf("unexpected stored profile %+v", stored)
	}

	other, _ := store.GetProfile(context.Background(), "did:example:someone-else")
	if len(other.Following) != 0 {
		t.Error("body viewer_id must not be written")
	}

	// The stored profile drives personalization on the next ranking call.
	viewer := stored.Context()
	tiers := ranking.DefaultWeights().Feed.Affinity
	followed := ranking.AffinityScore("did:example:bob", viewer, tiers)
	stranger := ranking.AffinityScore("did:example:carol", viewer, tiers)
	if followed <= stranger {
		t.Errorf("expected followed author to outrank a stranger, got %f <= %f", followed, stranger)
	}
}

func TestPutProfile_Rejects(t *testing.T) {
	tests := []struct {
		name     string
		id       string
		body     any
		wantCode string
	}{
		{name: "negative interest", id: "did:example:alice", body: map[string]any{"interests": map[string]float64{"jazz": -1}}, wantCode: ErrCodeValidation},
		{name: "empty interest tag", id: "did:example:alice", body: map[string]any{"interests": map[string]float64{"": 1}}, wantCode: ErrCodeValidation},
		{name: "missing id", id: "", body: map[string]any{}, wantCode: ErrCodeValidation},
		{name: "malformed body", id: "did:example:alice", body: json.RawMessage(`["not","an","object"]`), wantCode: ErrCodeBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewSignalHandlers(signals.NewInMemoryStore())
			w := putSignal(t, h.PutProfile, "/viewers/x/profile", tt.id, tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d", w.Code)
			}
			if code := decodeError(t, w); code != tt.wantCode {
				t.Errorf("expected code %s, got %s", tt.wantCode, code)
			}
		})
	}
}

func TestPutMetrics(t *testing.T) {
	store := signals.NewInMemoryStore()
	h := NewSignalHandlers(store)

	body := ranking.EngagementMetrics{AvgCompletionRate: 0.8, AvgLikeRate: 0.1, AvgShareRate: 0.02}
	w := putSignal(t, h.PutMetrics, "/metrics/reel-1", "reel-1", body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	got, err := store.GetMetrics(context.Background(), []string{"reel-1"})
	if err != nil {
		t.Fatalf("GetMetrics failed: %v", err)
	}
	if got["reel-1"] != body {
		t.Errorf("expected %+v stored, got %+v", body, got["reel-1"])
	}
}

func TestPutMetrics_Rejects(t *testing.T) {
	tests := []struct {
		name     string
		body     any
		wantCode string
	}{
		{name: "negative rate", body: map[string]float64{"avg_like_rate": -0.1}, wantCode: ErrCodeValidation},
		{name: "string rate", body: map[string]string{"avg_like_rate": "high"}, wantCode: ErrCodeBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := signals.NewInMemoryStore()
			h := NewSignalHandlers(store)
			w := putSignal(t, h.PutMetrics, "/metrics/reel-1", "reel-1", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d", w.Code)
			}
			if code := decodeError(t, w); code != tt.wantCode {
				t.Errorf("expected code %s, got %s", tt.wantCode, code)
			}
			if got, _ := store.GetMetrics(context.Background(), []string{"reel-1"}); len(got) != 0 {
				t.Errorf("expected nothing stored, got %v", got)
			}
		})
	}
}

func TestSignalHandlers_StoreFailure(t *testing.T) {
	h := NewSignalHandlers(failingWrites{signals.NewInMemoryStore()})

	w := putSignal(t, h.PutProfile, "/viewers/did:example:alice/profile", "did:example:alice", map[string]any{})
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected status 500 for profile, got %d", w.Code)
	}
	w = putSignal(t, h.PutMetrics, "/metrics/reel-1", "reel-1", map[string]any{})
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected status 500 for metrics, got %d", w.Code)
	}
}
