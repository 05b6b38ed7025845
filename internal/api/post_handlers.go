package api

import (
	"encoding/json"
	"errors"
	"html"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/onnwee/streamrank/internal/middleware"
	"github.com/onnwee/streamrank/internal/post"
	"github.com/onnwee/streamrank/internal/ranking"
)

// Post validation constraints.
const (
	MaxPostTextLength = 5000
	MaxPostTags       = 20
	MaxTagLength      = 64
)

// CreatePostRequest is the body of POST /posts. Counters and created_at let
// ingestion backfill existing content.
type CreatePostRequest struct {
	Kind     string   `json:"kind,omitempty"`
	Text     string   `json:"text"`
	MediaURL string   `json:"media_url,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Labels   []string `json:"labels,omitempty"`

	ranking.Counters

	CreatedAt *time.Time `json:"created_at,omitempty"`
}

// PostHandlers holds dependencies for candidate post HTTP handlers.
type PostHandlers struct {
	repo post.Repository
}

// NewPostHandlers creates a new PostHandlers instance.
func NewPostHandlers(repo post.Repository) *PostHandlers {
	return &PostHandlers{repo: repo}
}

// validatePostText returns an error message, or "" when text is acceptable.
func validatePostText(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "post text is required"
	}
	if len(trimmed) > MaxPostTextLength {
		return "post text must not exceed 5000 characters"
	}
	return ""
}

// sanitizePostText escapes HTML in post text. Call after validation.
func sanitizePostText(text string) string {
	return html.EscapeString(strings.TrimSpace(text))
}

// sanitizeTags trims, lower-cases and de-duplicates tags, dropping empties.
func sanitizeTags(tags []string) ([]string, string) {
	if len(tags) > MaxPostTags {
		return nil, "at most 20 tags are allowed"
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		t := strings.ToLower(strings.TrimSpace(tag))
		if t == "" {
			continue
		}
		if len(t) > MaxTagLength {
			return nil, "tags must not exceed 64 characters"
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, html.EscapeString(t))
	}
	return out, ""
}

// negativeCounters reports whether any counter in c is below zero.
func negativeCounters(c ranking.Counters) bool {
	return c.Likes < 0 || c.Comments < 0 || c.Shares < 0 || c.Views < 0 || c.Saves < 0
}

// CreatePost handles POST /posts.
func (h *PostHandlers) CreatePost(w http.ResponseWriter, r *http.Request) {
	authorID := middleware.GetViewerID(r.Context())
	if authorID == "" {
		writeErr(w, r, ErrCodeAuthFailed, "Authentication required")
		return
	}

	var req CreatePostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, r, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	kind, err := post.ParseKind(req.Kind)
	if err != nil {
		writeErr(w, r, ErrCodeValidation, "kind must be post or reel")
		return
	}
	if errMsg := validatePostText(req.Text); errMsg != "" {
		writeErr(w, r, ErrCodeInvalidPostText, errMsg)
		return
	}
	if kind == post.KindReel && strings.TrimSpace(req.MediaURL) == "" {
		writeErr(w, r, ErrCodeValidation, "reels require media_url")
		return
	}
	tags, errMsg := sanitizeTags(req.Tags)
	if errMsg != "" {
		writeErr(w, r, ErrCodeValidation, errMsg)
		return
	}

	labels := make([]string, len(req.Labels))
	for i, label := range req.Labels {
		labels[i] = strings.TrimSpace(label)
	}
	if err := post.ValidateLabels(labels); err != nil {
		writeErr(w, r, ErrCodeValidation, "Invalid moderation label")
		return
	}
	if negativeCounters(req.Counters) {
		writeErr(w, r, ErrCodeValidation, "counters must not be negative")
		return
	}

	newPost := &post.Post{
		Kind:     kind,
		AuthorID: authorID,
		Text:     sanitizePostText(req.Text),
		MediaURL: strings.TrimSpace(req.MediaURL),
		Tags:     tags,
		Labels:   labels,
		Counters: req.Counters,
	}
	if req.CreatedAt != nil {
		newPost.CreatedAt = req.CreatedAt.UTC()
	}

	if err := h.repo.Create(r.Context(), newPost); err != nil {
		slog.ErrorContext(r.Context(), "failed to create post", "error", err)
		writeErr(w, r, ErrCodeInternal, "Failed to create post")
		return
	}

	writeJSON(w, r, http.StatusCreated, newPost)
}

// GetPost handles GET /posts/{id}.
func (h *PostHandlers) GetPost(w http.ResponseWriter, r *http.Request) {
	postID := r.PathValue("id")
	if postID == "" {
		writeErr(w, r, ErrCodeBadRequest, "Post ID is required")
		return
	}

	p, err := h.repo.GetByID(r.Context(), postID)
	if err != nil {
		h.writeRepoError(w, r, err, postID, "Failed to retrieve post")
		return
	}

	// Hidden posts are only visible to their author.
	if p.HasLabel(post.LabelHidden) && p.AuthorID != middleware.GetViewerID(r.Context()) {
		writeErr(w, r, ErrCodeNotFound, "Post not found")
		return
	}

	writeJSON(w, r, http.StatusOK, p)
}

// DeletePost handles DELETE /posts/{id}. Only the author may delete a post.
func (h *PostHandlers) DeletePost(w http.ResponseWriter, r *http.Request) {
	postID := r.PathValue("id")
	viewerID := middleware.GetViewerID(r.Context())

	p, err := h.repo.GetByID(r.Context(), postID)
	if err != nil {
		h.writeRepoError(w, r, err, postID, "Failed to retrieve post")
		return
	}
	if p.AuthorID != viewerID {
		writeErr(w, r, ErrCodeNotFound, "Post not found")
		return
	}

	if err := h.repo.Delete(r.Context(), postID); err != nil {
		h.writeRepoError(w, r, err, postID, "Failed to delete post")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RecordEngagement handles POST /posts/{id}/engagement. The body holds
// counter deltas; stored counters never drop below zero.
func (h *PostHandlers) RecordEngagement(w http.ResponseWriter, r *http.Request) {
	postID := r.PathValue("id")

	var delta ranking.Counters
	if err := json.NewDecoder(r.Body).Decode(&delta); err != nil {
		writeErr(w, r, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	if err := h.repo.RecordEngagement(r.Context(), postID, delta); err != nil {
		h.writeRepoError(w, r, err, postID, "Failed to record engagement")
		return
	}

	p, err := h.repo.GetByID(r.Context(), postID)
	if err != nil {
		h.writeRepoError(w, r, err, postID, "Failed to retrieve post")
		return
	}
	writeJSON(w, r, http.StatusOK, p)
}

func (h *PostHandlers) writeRepoError(w http.ResponseWriter, r *http.Request, err error, postID, message string) {
	if errors.Is(err, post.ErrPostNotFound) {
		writeErr(w, r, ErrCodeNotFound, "Post not found")
		return
	}
	slog.ErrorContext(r.Context(), "post repository error", "error", err, "post_id", postID)
	writeErr(w, r, ErrCodeInternal, message)
}
