package search

import (
	"context"
	"log/slog"

	"clinchem/api/internal/store"
)

// Service tries Meilisearch first and falls back to the store.
type Service struct {
	meili    *Meili
	fallback Searcher
	logger   *slog.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, fallback Searcher, logger *slog.Logger) *Service {
	return &Service{meili: meili, fallback: fallback, logger: logger}
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meiliReady() {
		hits, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(hits), Total: total, Query: q.Text, Backend: "meilisearch"}
		}
		s.logger.Warn("meilisearch error, falling back to store search", "error", err)
	}

	hits, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Error("store search failed", "error", err)
		return Response{Results: []Hit{}, Total: 0, Query: q.Text, Backend: "store"}
	}
	return Response{Results: nonNil(hits), Total: total, Query: q.Text, Backend: "store"}
}

// IndexComment pushes the current state of a comment (fire-and-forget).
func (s *Service) IndexComment(comment store.Comment) {
	if !s.meiliReady() {
		return
	}
	record := RecordOf(comment)
	go func() {
		if err := s.meili.IndexComments([]CommentRecord{record}); err != nil {
			s.logger.Warn("index comment", "comment_id", record.ID, "error", err)
		}
	}()
}

// DeleteComments removes purged comments from the index (fire-and-forget).
func (s *Service) DeleteComments(ids []string) {
	if !s.meiliReady() || len(ids) == 0 {
		return
	}
	ids = append([]string(nil), ids...)
	go func() {
		if err := s.meili.DeleteComments(ids); err != nil {
			s.logger.Warn("delete comments from index", "count", len(ids), "error", err)
		}
	}()
}

// ReindexAll pushes every comment into Meilisearch. Called at startup.
func (s *Service) ReindexAll(comments []store.Comment) {
	if !s.meiliReady() || len(comments) == 0 {
		return
	}
	records := make([]CommentRecord, 0, len(comments))
	for _, comment := range comments {
		records = append(records, RecordOf(comment))
	}
	if err := s.meili.IndexComments(records); err != nil {
		s.logger.Warn("reindex comments", "count", len(records), "error", err)
	}
}

func (s *Service) meiliReady() bool {
	return s.meili != nil && s.meili.Healthy()
}

func nonNil(h []Hit) []Hit {
	if h == nil {
		return []Hit{}
	}
	return h
}
