package post

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/onnwee/streamrank/internal/ranking"
	"github.com/onnwee/streamrank/internal/tracing"
)

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const postColumns = `id, kind, author_id, text, media_url, tags, labels,
		like_count, comment_count, share_count, view_count, save_count,
		created_at, updated_at`

// Create inserts a new post with a generated UUID.
func (r *PostgresRepository) Create(ctx context.Context, post *Post) (err error) {
	if post.Kind == "" {
		post.Kind = KindPost
	}
	if post.Kind != KindPost && post.Kind != KindReel {
		return ErrInvalidKind
	}

	ctx, endSpan := tracing.StartDBSpan(ctx, "posts", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	now := time.Now().UTC()
	post.ID = uuid.New().String()
	if post.CreatedAt.IsZero() {
		post.CreatedAt = now
	}
	post.UpdatedAt = now

	query := `
		INSERT INTO posts (
			id, kind, author_id, text, media_url, tags, labels,
			like_count, comment_count, share_count, view_count, save_count,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err = r.db.ExecContext(ctx, query,
		post.ID,
		string(post.Kind),
		post.AuthorID,
		post.Text,
		post.MediaURL,
		pq.Array(nonNil(post.Tags)),
		pq.Array(nonNil(post.Labels)),
		max(post.Likes, 0),
		max(post.Comments, 0),
		max(post.Shares, 0),
		max(post.Views, 0),
		max(post.Saves, 0),
		post.CreatedAt,
		post.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert post: %w", err)
	}
	return nil
}

// GetByID retrieves a post by its UUID, excluding soft-deleted posts.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (p *Post, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "posts", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	if _, parseErr := uuid.Parse(id); parseErr != nil {
		return nil, ErrPostNotFound
	}

	query := `SELECT ` + postColumns + ` FROM posts WHERE id = $1 AND deleted_at IS NULL`
	p, err = scanPost(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPostNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get post: %w", err)
	}
	return p, nil
}

// Delete soft-deletes a post by setting deleted_at timestamp.
func (r *PostgresRepository) Delete(ctx context.Context, id string) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "posts", tracing.DBOperationUpdate)
	defer func() { endSpan(err) }()

	if _, parseErr := uuid.Parse(id); parseErr != nil {
		return ErrPostNotFound
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE posts SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("failed to delete post: %w", err)
	}
	return expectOneRow(res)
}

// RecordEngagement adds delta to the post's counters. Counters never drop below 0.
func (r *PostgresRepository) RecordEngagement(ctx context.Context, id string, delta ranking.Counters) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "posts", tracing.DBOperationUpdate)
	defer func() { endSpan(err) }()

	if _, parseErr := uuid.Parse(id); parseErr != nil {
		return ErrPostNotFound
	}

	query := `
		UPDATE posts SET
			like_count    = GREATEST(like_count + $2, 0),
			comment_count = GREATEST(comment_count + $3, 0),
			share_count   = GREATEST(share_count + $4, 0),
			view_count    = GREATEST(view_count + $5, 0),
			save_count    = GREATEST(save_count + $6, 0),
			updated_at    = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`
	res, err := r.db.ExecContext(ctx, query, id,
		delta.Likes, delta.Comments, delta.Shares, delta.Views, delta.Saves)
	if err != nil {
		return fmt.Errorf("failed to record engagement: %w", err)
	}
	return expectOneRow(res)
}

// ListRecent retrieves candidates of one kind with cursor-based pagination.
func (r *PostgresRepository) ListRecent(ctx context.Context, kind Kind, limit int, cursor *FeedCursor) (posts []*Post, next *FeedCursor, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "posts", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	if limit <= 0 {
		return []*Post{}, nil, nil
	}

	// Fetch one extra row to learn whether another page exists.
	args := []any{string(kind), LabelHidden, limit + 1}
	query := `SELECT ` + postColumns + `
		FROM posts
		WHERE kind = $1
		  AND deleted_at IS NULL
		  AND NOT ($2 = ANY(labels))`
	if cursor != nil {
		query += `
		  AND (created_at < $4 OR (created_at = $4 AND id > $5))`
		args = append(args, cursor.CreatedAt, cursor.ID)
	}
	query += `
		ORDER BY created_at DESC, id ASC
		LIMIT $3`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list posts: %w", err)
	}
	defer rows.Close()

	posts = make([]*Post, 0, limit+1)
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to scan post: %w", err)
		}
		posts = append(posts, p)
	}
	if err = rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("error iterating posts: %w", err)
	}

	if len(posts) > limit {
		posts = posts[:limit]
		last := posts[len(posts)-1]
		next = &FeedCursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return posts, next, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (*Post, error) {
	var (
		p    Post
		kind string
	)
	err := row.Scan(
		&p.ID,
		&kind,
		&p.AuthorID,
		&p.Text,
		&p.MediaURL,
		pq.Array(&p.Tags),
		pq.Array(&p.Labels),
		&p.Likes,
		&p.Comments,
		&p.Shares,
		&p.Views,
		&p.Saves,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Kind = Kind(kind)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrPostNotFound
	}
	return nil
}

// nonNil keeps NOT NULL array columns from receiving SQL NULL.
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
