package post

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/onnwee/streamrank/internal/ranking"
)

var baseTime = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

func TestParseKind(t *testing.T) {
	tests := []struct {
		input   string
		want    Kind
		wantErr bool
	}{
		{"", KindPost, false},
		{"post", KindPost, false},
		{" Reel ", KindReel, false},
		{"story", "", true},
	}

	for _, tt := range tests {
		got, err := ParseKind(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseKind(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseKind(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestInMemoryRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepository()
	repo.now = func() time.Time { return baseTime }

	p := &Post{
		AuthorID: "did:example:alice",
		Text:     "Hello world",
		Tags:     []string{"music"},
		Counters: ranking.Counters{Likes: 3},
	}
	if err := repo.Create(ctx, p); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if p.ID == "" {
		t.Fatal("Expected non-empty ID")
	}
	if p.Kind != KindPost {
		t.Errorf("Expected default kind post, got %s", p.Kind)
	}
	if !p.CreatedAt.Equal(baseTime) {
		t.Errorf("Expected created_at %v, got %v", baseTime, p.CreatedAt)
	}

	got, err := repo.GetByID(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Text != "Hello world" || got.Likes != 3 {
		t.Errorf("unexpected post %+v", got)
	}

	// Returned posts are copies.
	got.Tags[0] = "mutated"
	again, _ := repo.GetByID(ctx, p.ID)
	if again.Tags[0] != "music" {
		t.Error("GetByID returned shared tag storage")
	}
	p.Tags[0] = "caller-mutated"
	again, _ = repo.GetByID(ctx, p.ID)
	if again.Tags[0] != "music" {
		t.Error("Create kept a reference to the caller's tags")
	}
}

func TestInMemoryRepository_CreateKeepsCreatedAt(t *testing.T) {
	repo := NewInMemoryRepository()
	past := baseTime.Add(-72 * time.Hour)

	p := &Post{AuthorID: "did:example:alice", Kind: KindReel, CreatedAt: past}
	if err := repo.Create(context.Background(), p); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if !p.CreatedAt.Equal(past) {
		t.Errorf("Expected backfilled created_at %v, got %v", past, p.CreatedAt)
	}
}

func TestInMemoryRepository_CreateInvalidKind(t *testing.T) {
	repo := NewInMemoryRepository()
	err := repo.Create(context.Background(), &Post{Kind: "story"})
	if !errors.Is(err, ErrInvalidKind) {
		t.Errorf("Expected ErrInvalidKind, got %v", err)
	}
}

func TestInMemoryRepository_Delete(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepository()

	p := &Post{AuthorID: "did:example:alice"}
	if err := repo.Create(ctx, p); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := repo.Delete(ctx, p.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := repo.GetByID(ctx, p.ID); !errors.Is(err, ErrPostNotFound) {
		t.Errorf("Expected ErrPostNotFound after delete, got %v", err)
	}
	if err := repo.Delete(ctx, p.ID); !errors.Is(err, ErrPostNotFound) {
		t.Errorf("Expected ErrPostNotFound on second delete, got %v", err)
	}
	if err := repo.Delete(ctx, "missing"); !errors.Is(err, ErrPostNotFound) {
		t.Errorf("Expected ErrPostNotFound for unknown id, got %v", err)
	}
}

func TestInMemoryRepository_RecordEngagement(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepository()

	p := &Post{AuthorID: "did:example:alice", Counters: ranking.Counters{Likes: 2, Views: 10}}
	if err := repo.Create(ctx, p); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := repo.RecordEngagement(ctx, p.ID, ranking.Counters{Likes: 5, Comments: 1, Views: -50}); err != nil {
		t.Fatalf("RecordEngagement failed: %v", err)
	}

	got, _ := repo.GetByID(ctx, p.ID)
	want := ranking.Counters{Likes: 7, Comments: 1, Views: 0}
	if got.Counters != want {
		t.Errorf("Expected counters %+v, got %+v", want, got.Counters)
	}

	if err := repo.RecordEngagement(ctx, "missing", ranking.Counters{Likes: 1}); !errors.Is(err, ErrPostNotFound) {
		t.Errorf("Expected ErrPostNotFound, got %v", err)
	}
}

func TestInMemoryRepository_ListRecent(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepository()

	// Five posts an hour apart, two sharing a timestamp, plus noise.
	offsets := []time.Duration{0, time.Hour, time.Hour, 2 * time.Hour, 3 * time.Hour}
	for i, off := range offsets {
		p := &Post{AuthorID: fmt.Sprintf("did:example:%d", i), Kind: KindPost, CreatedAt: baseTime.Add(-off)}
		if err := repo.Create(ctx, p); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}
	noise := []*Post{
		{AuthorID: "did:example:reel", Kind: KindReel, CreatedAt: baseTime},
		{AuthorID: "did:example:hidden", Kind: KindPost, CreatedAt: baseTime, Labels: []string{LabelHidden}},
	}
	for _, p := range noise {
		if err := repo.Create(ctx, p); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}
	deleted := &Post{AuthorID: "did:example:deleted", Kind: KindPost, CreatedAt: baseTime}
	if err := repo.Create(ctx, deleted); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := repo.Delete(ctx, deleted.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	var all []*Post
	var cursor *FeedCursor
	pages := 0
	for {
		page, next, err := repo.ListRecent(ctx, KindPost, 2, cursor)
		if err != nil {
			t.Fatalf("ListRecent failed: %v", err)
		}
		all = append(all, page...)
		pages++
		if next == nil {
			break
		}
		cursor = next
		if pages > 10 {
			t.Fatal("pagination did not terminate")
		}
	}

	if len(all) != len(offsets) {
		t.Fatalf("Expected %d posts across pages, got %d", len(offsets), len(all))
	}
	if pages != 3 {
		t.Errorf("Expected 3 pages, got %d", pages)
	}
	seen := make(map[string]bool)
	for i, p := range all {
		if seen[p.ID] {
			t.Errorf("post %s returned twice", p.ID)
		}
		seen[p.ID] = true
		if p.Kind != KindPost || p.HasLabel(LabelHidden) || p.ID == deleted.ID {
			t.Errorf("unexpected post in results: %+v", p)
		}
		if i > 0 {
			prev := all[i-1]
			if prev.CreatedAt.Before(p.CreatedAt) {
				t.Errorf("posts not ordered by created_at desc at %d", i)
			}
			if prev.CreatedAt.Equal(p.CreatedAt) && prev.ID > p.ID {
				t.Errorf("tie not broken by id asc at %d", i)
			}
		}
	}

	reels, next, err := repo.ListRecent(ctx, KindReel, 10, nil)
	if err != nil || len(reels) != 1 || next != nil {
		t.Errorf("Expected one reel and no cursor, got %d reels, next=%v, err=%v", len(reels), next, err)
	}

	empty, _, _ := repo.ListRecent(ctx, KindPost, 0, nil)
	if len(empty) != 0 {
		t.Errorf("Expected no posts for zero limit, got %d", len(empty))
	}
}

func TestCursorRoundTrip(t *testing.T) {
	cursor := &FeedCursor{CreatedAt: baseTime.Add(123 * time.Nanosecond), ID: "0b7e6a0e-4c4b-4f55-9b39-3f0c5e8f2a11"}

	decoded, err := DecodeCursor(EncodeCursor(cursor))
	if err != nil {
		t.Fatalf("DecodeCursor failed: %v", err)
	}
	if !decoded.CreatedAt.Equal(cursor.CreatedAt) || decoded.ID != cursor.ID {
		t.Errorf("Expected %+v, got %+v", cursor, decoded)
	}

	if EncodeCursor(nil) != "" {
		t.Error("Expected empty encoding for nil cursor")
	}
	if c, err := DecodeCursor(""); c != nil || err != nil {
		t.Errorf("Expected nil cursor for empty string, got %v, %v", c, err)
	}
}

func TestDecodeCursor_Invalid(t *testing.T) {
	for _, s := range []string{"garbage", "abc:0b7e6a0e-4c4b-4f55-9b39-3f0c5e8f2a11", "123:not-a-uuid"} {
		if _, err := DecodeCursor(s); !errors.Is(err, ErrInvalidCursor) {
			t.Errorf("DecodeCursor(%q) error = %v, want ErrInvalidCursor", s, err)
		}
	}
}

func TestPost_ToContentItem(t *testing.T) {
	p := &Post{
		ID:        "id-1",
		Kind:      KindReel,
		AuthorID:  "did:example:alice",
		Text:      "ignored by ranking",
		Tags:      []string{"dance"},
		Labels:    []string{LabelNSFW},
		Counters:  ranking.Counters{Likes: 4, Views: 100},
		CreatedAt: baseTime,
	}

	item := p.ToContentItem()
	want := ranking.ContentItem{
		ID:        "id-1",
		AuthorID:  "did:example:alice",
		CreatedAt: baseTime,
		Counters:  ranking.Counters{Likes: 4, Views: 100},
		Tags:      []string{"dance"},
	}
	if !reflect.DeepEqual(item, want) {
		t.Errorf("Expected %+v, got %+v", want, item)
	}

	item.Tags[0] = "mutated"
	if p.Tags[0] != "dance" {
		t.Error("ToContentItem shares tag storage with the post")
	}

	items := ContentItems([]*Post{p, p})
	if len(items) != 2 || items[1].ID != "id-1" {
		t.Errorf("unexpected ContentItems result %+v", items)
	}
}
