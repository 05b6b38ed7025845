package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"

	"github.com/onnwee/streamrank/internal/ranking"
	"github.com/onnwee/streamrank/internal/signals"
)

const maxSignalBodyBytes = 1 << 20

// SignalHandlers accepts viewer profiles and engagement metrics pushed by
// the analytics pipeline. Routes are operator-only.
type SignalHandlers struct {
	store signals.Store
}

// NewSignalHandlers creates signal ingestion handlers over store.
func NewSignalHandlers(store signals.Store) *SignalHandlers {
	return &SignalHandlers{store: store}
}

// PutProfile handles PUT /viewers/{id}/profile. The path id replaces any
// viewer_id in the body.
func (h *SignalHandlers) PutProfile(w http.ResponseWriter, r *http.Request) {
	viewerID := r.PathValue("id")
	if viewerID == "" {
		writeErr(w, r, ErrCodeValidation, "viewer id is required")
		return
	}

	var profile signals.ViewerProfile
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSignalBodyBytes)).Decode(&profile); err != nil {
		writeErr(w, r, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}
	profile.ViewerID = viewerID

	for tag, weight := range profile.Interests {
		if tag == "" || weight < 0 {
			writeErr(w, r, ErrCodeValidation, "interest weights must be non-negative with non-empty tags")
			return
		}
	}

	if err := h.store.PutProfile(r.Context(), profile); err != nil {
		h.writeStoreError(w, r, err, "viewer_id", viewerID, "Failed to store viewer profile")
		return
	}
	writeJSON(w, r, http.StatusOK, profile)
}

// PutMetrics handles PUT /metrics/{id}, replacing the engagement metrics of
// one content id.
func (h *SignalHandlers) PutMetrics(w http.ResponseWriter, r *http.Request) {
	contentID := r.PathValue("id")
	if contentID == "" {
		writeErr(w, r, ErrCodeValidation, "content id is required")
		return
	}

	var metrics ranking.EngagementMetrics
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSignalBodyBytes)).Decode(&metrics); err != nil {
		writeErr(w, r, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}
	for _, rate := range []float64{metrics.AvgCompletionRate, metrics.AvgLikeRate, metrics.AvgShareRate} {
		if rate < 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
			writeErr(w, r, ErrCodeValidation, "engagement rates must be finite and non-negative")
			return
		}
	}

	if err := h.store.PutMetrics(r.Context(), contentID, metrics); err != nil {
		h.writeStoreError(w, r, err, "content_id", contentID, "Failed to store engagement metrics")
		return
	}
	writeJSON(w, r, http.StatusOK, metrics)
}

func (h *SignalHandlers) writeStoreError(w http.ResponseWriter, r *http.Request, err error, idKey, id, message string) {
	if errors.Is(err, signals.ErrMissingViewerID) {
		writeErr(w, r, ErrCodeValidation, "viewer id is required")
		return
	}
	slog.ErrorContext(r.Context(), "signal store error", "error", err, idKey, id)
	writeErr(w, r, ErrCodeInternal, message)
}
