package search

import (
	"context"
	"strings"

	"clinchem/api/internal/store"
)

type commentSearcher interface {
	SearchComments(ctx context.Context, text string, status store.Status, limit int) ([]store.Comment, error)
}

// StoreSearcher answers searches from the comment store: full-text search in
// Postgres, substring match in memory.
type StoreSearcher struct {
	store commentSearcher
}

func NewStoreSearcher(s commentSearcher) *StoreSearcher {
	return &StoreSearcher{store: s}
}

func (s *StoreSearcher) Search(ctx context.Context, q Query) ([]Hit, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	comments, err := s.store.SearchComments(ctx, q.Text, q.Status, limit+offset)
	if err != nil {
		return nil, 0, err
	}
	if offset >= len(comments) {
		return nil, 0, nil
	}
	hits := make([]Hit, 0, len(comments)-offset)
	for _, comment := range comments[offset:] {
		hits = append(hits, Hit{
			ID:        comment.ID,
			ArticleID: comment.ArticleID,
			AuthorID:  comment.AuthorID,
			Status:    string(comment.Status),
			Snippet:   snippet(comment.Content, 160),
			CreatedAt: comment.CreatedAt.Unix(),
		})
	}
	return hits, offset + len(hits), nil
}

func snippet(content string, max int) string {
	runes := []rune(content)
	if len(runes) <= max {
		return content
	}
	return string(runes[:max]) + "…"
}
