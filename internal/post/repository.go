// Package post provides the candidate content model and repositories that
// supply posts and reels to the ranking engine.
package post

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/streamrank/internal/ranking"
)

// Common errors for post operations.
var (
	ErrPostNotFound  = errors.New("post not found")
	ErrInvalidKind   = errors.New("invalid post kind")
	ErrInvalidCursor = errors.New("invalid feed cursor")
)

// Kind distinguishes feed posts from short-form vertical videos.
type Kind string

// Supported kinds.
const (
	KindPost Kind = "post"
	KindReel Kind = "reel"
)

// ParseKind converts a string into a Kind. An empty string yields KindPost.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case "", KindPost:
		return KindPost, nil
	case KindReel:
		return KindReel, nil
	}
	return "", ErrInvalidKind
}

// Post is a piece of content that can be ranked on the feed, reel or trending surfaces.
type Post struct {
	ID       string   `json:"id"`
	Kind     Kind     `json:"kind"`
	AuthorID string   `json:"author_id"`
	Text     string   `json:"text,omitempty"`
	MediaURL string   `json:"media_url,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Labels   []string `json:"labels,omitempty"`

	ranking.Counters

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// ToContentItem converts the post into the ranking engine's candidate type.
func (p *Post) ToContentItem() ranking.ContentItem {
	return ranking.ContentItem{
		ID:        p.ID,
		AuthorID:  p.AuthorID,
		CreatedAt: p.CreatedAt,
		Counters:  p.Counters,
		Tags:      append([]string(nil), p.Tags...),
	}
}

// ContentItems converts posts into ranking candidates, preserving order.
func ContentItems(posts []*Post) []ranking.ContentItem {
	items := make([]ranking.ContentItem, len(posts))
	for i, p := range posts {
		items[i] = p.ToContentItem()
	}
	return items
}

// clone returns a deep copy of the post.
func (p *Post) clone() *Post {
	c := *p
	c.Tags = append([]string(nil), p.Tags...)
	c.Labels = append([]string(nil), p.Labels...)
	if p.DeletedAt != nil {
		deletedAt := *p.DeletedAt
		c.DeletedAt = &deletedAt
	}
	return &c
}

// FeedCursor represents a cursor for paginating through candidates.
// Uses (created_at, id) for stable pagination with tie-breaking.
type FeedCursor struct {
	CreatedAt time.Time `json:"created_at"`
	ID        string    `json:"id"`
}

// EncodeCursor encodes a cursor as "created_at_unix_nano:id".
// Returns an empty string if cursor is nil.
func EncodeCursor(cursor *FeedCursor) string {
	if cursor == nil {
		return ""
	}
	return fmt.Sprintf("%d:%s", cursor.CreatedAt.UnixNano(), cursor.ID)
}

// DecodeCursor parses a cursor produced by EncodeCursor.
// An empty string yields a nil cursor.
func DecodeCursor(s string) (*FeedCursor, error) {
	if s == "" {
		return nil, nil
	}
	ts, id, ok := strings.Cut(s, ":")
	if !ok {
		return nil, ErrInvalidCursor
	}
	nanos, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrInvalidCursor
	}
	return &FeedCursor{CreatedAt: time.Unix(0, nanos).UTC(), ID: id}, nil
}

// Repository defines the interface for post data operations.
type Repository interface {
	// Create inserts a new post with a generated UUID.
	// CreatedAt is kept when already set, which lets ingestion backfill history.
	Create(ctx context.Context, post *Post) error

	// GetByID retrieves a post by its UUID, excluding soft-deleted posts.
	GetByID(ctx context.Context, id string) (*Post, error)

	// Delete soft-deletes a post by setting deleted_at timestamp.
	Delete(ctx context.Context, id string) error

	// RecordEngagement adds delta to the post's counters. Counters never drop below 0.
	RecordEngagement(ctx context.Context, id string, delta ranking.Counters) error

	// ListRecent retrieves candidates of one kind with cursor-based pagination.
	// Returns posts ordered by created_at DESC, id ASC (tie-breaker).
	// Excludes soft-deleted posts and posts with the 'hidden' label.
	// If cursor is nil, starts from the most recent post.
	// Returns posts, next cursor (nil if no more), and error.
	ListRecent(ctx context.Context, kind Kind, limit int, cursor *FeedCursor) ([]*Post, *FeedCursor, error)
}

// InMemoryRepository is an in-memory implementation of Repository.
// Thread-safe via RWMutex.
type InMemoryRepository struct {
	mu    sync.RWMutex
	posts map[string]*Post // UUID -> Post
	now   func() time.Time
}

// NewInMemoryRepository creates a new in-memory post repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		posts: make(map[string]*Post),
		now:   time.Now,
	}
}

// Create inserts a new post with a generated UUID.
func (r *InMemoryRepository) Create(_ context.Context, post *Post) error {
	if post.Kind == "" {
		post.Kind = KindPost
	}
	if post.Kind != KindPost && post.Kind != KindReel {
		return ErrInvalidKind
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	post.ID = uuid.New().String()
	if post.CreatedAt.IsZero() {
		post.CreatedAt = now
	}
	post.UpdatedAt = now

	r.posts[post.ID] = post.clone()
	return nil
}

// GetByID retrieves a post by its UUID, excluding soft-deleted posts.
func (r *InMemoryRepository) GetByID(_ context.Context, id string) (*Post, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	post, ok := r.posts[id]
	if !ok || post.DeletedAt != nil {
		return nil, ErrPostNotFound
	}
	return post.clone(), nil
}

// Delete soft-deletes a post by setting deleted_at timestamp.
func (r *InMemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	post, ok := r.posts[id]
	// Already deleted - treat as not found for idempotency
	if !ok || post.DeletedAt != nil {
		return ErrPostNotFound
	}

	now := r.now().UTC()
	post.DeletedAt = &now
	return nil
}

// RecordEngagement adds delta to the post's counters.
func (r *InMemoryRepository) RecordEngagement(_ context.Context, id string, delta ranking.Counters) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	post, ok := r.posts[id]
	if !ok || post.DeletedAt != nil {
		return ErrPostNotFound
	}

	post.Counters = addCounters(post.Counters, delta)
	post.UpdatedAt = r.now().UTC()
	return nil
}

// ListRecent retrieves candidates of one kind with cursor-based pagination.
func (r *InMemoryRepository) ListRecent(_ context.Context, kind Kind, limit int, cursor *FeedCursor) ([]*Post, *FeedCursor, error) {
	if limit <= 0 {
		return []*Post{}, nil, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var candidates []*Post
	for _, post := range r.posts {
		if post.DeletedAt != nil || post.Kind != kind {
			continue
		}
		if post.HasLabel(LabelHidden) {
			continue
		}

		// Skip posts that are newer or at/before the cursor position
		if cursor != nil {
			if post.CreatedAt.After(cursor.CreatedAt) {
				continue
			}
			if post.CreatedAt.Equal(cursor.CreatedAt) && post.ID <= cursor.ID {
				continue
			}
		}

		candidates = append(candidates, post)
	}

	sortPostsByCreatedDesc(candidates)

	var results []*Post
	var nextCursor *FeedCursor
	if len(candidates) > limit {
		results = candidates[:limit]
		last := results[len(results)-1]
		nextCursor = &FeedCursor{CreatedAt: last.CreatedAt, ID: last.ID}
	} else {
		results = candidates
	}

	// Return deep copies to prevent external mutation
	copies := make([]*Post, len(results))
	for i, p := range results {
		copies[i] = p.clone()
	}
	return copies, nextCursor, nil
}

func addCounters(c, delta ranking.Counters) ranking.Counters {
	add := func(v, d int64) int64 {
		return max(v+d, 0)
	}
	return ranking.Counters{
		Likes:    add(c.Likes, delta.Likes),
		Comments: add(c.Comments, delta.Comments),
		Shares:   add(c.Shares, delta.Shares),
		Views:    add(c.Views, delta.Views),
		Saves:    add(c.Saves, delta.Saves),
	}
}

// sortPostsByCreatedDesc sorts posts by created_at DESC, then by ID ASC for tie-breaking.
// This provides stable ordering for cursor-based pagination.
func sortPostsByCreatedDesc(posts []*Post) {
	sort.Slice(posts, func(i, j int) bool {
		if posts[i].CreatedAt.After(posts[j].CreatedAt) {
			return true
		}
		if posts[i].CreatedAt.Before(posts[j].CreatedAt) {
			return false
		}
		return posts[i].ID < posts[j].ID
	})
}
