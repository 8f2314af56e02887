package search

import (
	"context"

	"clinchem/api/internal/store"
)

// Hit is a single comment matched by an admin search.
type Hit struct {
	ID        string `json:"id"`
	ArticleID string `json:"articleId"`
	AuthorID  string `json:"authorId"`
	Status    string `json:"status"`
	Snippet   string `json:"snippet"`
	CreatedAt int64  `json:"createdAt"`
}

// Query describes a search request.
type Query struct {
	Text   string
	Status store.Status // empty = any status
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Hit  `json:"results"`
	Total   int    `json:"total"`
	Query   string `json:"query"`
	Backend string `json:"backend"`
}

// Searcher can execute a full-text search over comments.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Hit, int, error)
}

// CommentRecord is the data we index for a comment.
type CommentRecord struct {
	ID        string `json:"id"`
	ArticleID string `json:"articleId"`
	AuthorID  string `json:"authorId"`
	Content   string `json:"content"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"createdAt"`
}

func RecordOf(comment store.Comment) CommentRecord {
	return CommentRecord{
		ID:        comment.ID,
		ArticleID: comment.ArticleID,
		AuthorID:  comment.AuthorID,
		Content:   comment.Content,
		Status:    string(comment.Status),
		CreatedAt: comment.CreatedAt.Unix(),
	}
}
