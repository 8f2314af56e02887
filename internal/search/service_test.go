package search

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	meili "github.com/meilisearch/meilisearch-go"

	"clinchem/api/internal/logging"
	"clinchem/api/internal/store"
)

func seededStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	s := store.NewMemoryStore()
	s.PutArticle(store.Article{ID: "art_1", Slug: "potassium"})
	base := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	for i, content := range []string{"Hemolysis falsely raises potassium", "Potassium EDTA contamination", "Unrelated note"} {
		if _, err := s.InsertComment(context.Background(), store.Comment{
			ID:        "cmt_" + string(rune('a'+i)),
			ArticleID: "art_1",
			AuthorID:  "usr_a",
			Content:   content,
			Status:    store.StatusApproved,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	return s
}

func TestServiceFallsBackToStoreWithoutMeili(t *testing.T) {
	svc := NewService(nil, NewStoreSearcher(seededStore(t)), logging.Discard())
	resp := svc.Search(context.Background(), Query{Text: "potassium"})
	if resp.Backend != "store" || resp.Total != 2 || len(resp.Results) != 2 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.Results[0].ID != "cmt_b" {
		t.Fatalf("expected newest hit first, got %s", resp.Results[0].ID)
	}
}

func TestServiceBlankQueryReturnsEmptySlice(t *testing.T) {
	svc := NewService(nil, NewStoreSearcher(seededStore(t)), logging.Discard())
	resp := svc.Search(context.Background(), Query{Text: "   "})
	if resp.Results == nil || len(resp.Results) != 0 {
		t.Fatalf("expected empty non-nil results, got %#v", resp.Results)
	}
}

type failingSearcher struct{}

func (failingSearcher) Search(context.Context, Query) ([]Hit, int, error) {
	return nil, 0, errors.New("db down")
}

func TestServiceSwallowsFallbackError(t *testing.T) {
	svc := NewService(nil, failingSearcher{}, logging.Discard())
	resp := svc.Search(context.Background(), Query{Text: "x"})
	if resp.Total != 0 || len(resp.Results) != 0 {
		t.Fatalf("expected empty response on error, got %+v", resp)
	}
}

func TestServiceIndexingIsNoopWithoutMeili(t *testing.T) {
	svc := NewService(nil, failingSearcher{}, logging.Discard())
	svc.IndexComment(store.Comment{ID: "cmt_1"})
	svc.DeleteComments([]string{"cmt_1"})
	svc.ReindexAll([]store.Comment{{ID: "cmt_1"}})
}

func TestStoreSearcherPagesWithOffset(t *testing.T) {
	searcher := NewStoreSearcher(seededStore(t))
	hits, total, err := searcher.Search(context.Background(), Query{Text: "potassium", Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "cmt_a" || total != 2 {
		t.Fatalf("unexpected page hits=%+v total=%d", hits, total)
	}
}

func TestSnippetTruncatesByRune(t *testing.T) {
	long := strings.Repeat("µ", 200)
	got := snippet(long, 160)
	if len([]rune(got)) != 161 {
		t.Fatalf("expected 160 runes plus ellipsis, got %d", len([]rune(got)))
	}
	if snippet("short", 160) != "short" {
		t.Fatal("short content should be unchanged")
	}
}

func TestHitToResultPrefersHighlightedContent(t *testing.T) {
	raw := func(v any) json.RawMessage {
		b, _ := json.Marshal(v)
		return b
	}
	hit := meili.Hit{
		"id":         raw("cmt_1"),
		"articleId":  raw("art_1"),
		"authorId":   raw("usr_a"),
		"status":     raw("approved"),
		"content":    raw("raises potassium"),
		"createdAt":  raw(1775030400),
		"_formatted": raw(map[string]string{"content": "raises <mark>potassium</mark>"}),
	}
	got := hitToResult(hit)
	if got.ID != "cmt_1" || got.ArticleID != "art_1" || got.Status != "approved" {
		t.Fatalf("unexpected hit %+v", got)
	}
	if got.Snippet != "raises <mark>potassium</mark>" {
		t.Fatalf("expected highlighted snippet, got %q", got.Snippet)
	}
	if got.CreatedAt != 1775030400 {
		t.Fatalf("unexpected createdAt %d", got.CreatedAt)
	}
}
