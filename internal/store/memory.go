package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps comments in process. It backs local development when no
// DATABASE_URL is configured and most package tests.
type MemoryStore struct {
	mu         sync.RWMutex
	comments   map[string]Comment
	byArticle  map[string][]string
	byParent   map[string][]string
	articles   map[string]Article
	identities map[string]string
	now        func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		comments:   make(map[string]Comment),
		byArticle:  make(map[string][]string),
		byParent:   make(map[string][]string),
		articles:   make(map[string]Article),
		identities: make(map[string]string),
		now:        time.Now,
	}
}

// SetClock replaces the time source used for CreatedAt/UpdatedAt stamps.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// PutArticle registers a host article. The wiki calls this; tests seed with it.
func (s *MemoryStore) PutArticle(article Article) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if article.UpdatedAt.IsZero() {
		article.UpdatedAt = s.now()
	}
	s.articles[article.ID] = article
}

// PutIdentity mirrors an identity provider record for display-name lookups.
func (s *MemoryStore) PutIdentity(id, displayName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identities[id] = displayName
}

func (s *MemoryStore) RemoveIdentity(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.identities, id)
}

func (s *MemoryStore) InsertComment(_ context.Context, comment Comment) (Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if comment.ID == "" {
		return Comment{}, fmt.Errorf("insert comment: id is required")
	}
	if _, exists := s.comments[comment.ID]; exists {
		return Comment{}, fmt.Errorf("insert comment %s: duplicate id", comment.ID)
	}
	now := s.now()
	comment = comment.Clone()
	comment.Version = 1
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = now
	}
	comment.UpdatedAt = comment.CreatedAt
	s.comments[comment.ID] = comment
	s.byArticle[comment.ArticleID] = append(s.byArticle[comment.ArticleID], comment.ID)
	key := parentKey(comment.ParentID)
	if key != "" {
		s.byParent[key] = append(s.byParent[key], comment.ID)
	}
	return comment.Clone(), nil
}

func (s *MemoryStore) GetComment(_ context.Context, id string) (Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	comment, ok := s.comments[id]
	if !ok {
		return Comment{}, fmt.Errorf("comment %s: %w", id, ErrNotFound)
	}
	return comment.Clone(), nil
}

func (s *MemoryStore) ListCommentsByArticle(_ context.Context, articleID string) ([]Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(s.byArticle[articleID]), nil
}

func (s *MemoryStore) ListChildComments(_ context.Context, parentID string) ([]Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(s.byParent[parentID]), nil
}

func (s *MemoryStore) collect(ids []string) []Comment {
	items := make([]Comment, 0, len(ids))
	for _, id := range ids {
		if comment, ok := s.comments[id]; ok {
			items = append(items, comment.Clone())
		}
	}
	return items
}

// SaveComment writes comment if its Version still matches the stored one.
// ArticleID, ParentID, AuthorID and CreatedAt are immutable and kept as stored.
func (s *MemoryStore) SaveComment(_ context.Context, comment Comment) (Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.comments[comment.ID]
	if !ok {
		return Comment{}, fmt.Errorf("comment %s: %w", comment.ID, ErrNotFound)
	}
	if current.Version != comment.Version {
		return Comment{}, fmt.Errorf("comment %s at version %d: %w", comment.ID, comment.Version, ErrConflict)
	}
	return s.commit(current, comment.Clone()), nil
}

// UpdateComment applies mutate to the current record under the store lock.
// If mutate returns an error nothing is written.
func (s *MemoryStore) UpdateComment(_ context.Context, id string, mutate func(*Comment) error) (Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.comments[id]
	if !ok {
		return Comment{}, fmt.Errorf("comment %s: %w", id, ErrNotFound)
	}
	next := current.Clone()
	if err := mutate(&next); err != nil {
		return Comment{}, err
	}
	return s.commit(current, next), nil
}

func (s *MemoryStore) commit(current, next Comment) Comment {
	next.ArticleID = current.ArticleID
	next.ParentID = current.ParentID
	next.AuthorID = current.AuthorID
	next.CreatedAt = current.CreatedAt
	next.Version = current.Version + 1
	next.UpdatedAt = s.now()
	s.comments[next.ID] = next
	return next.Clone()
}

// DeleteCommentHard removes a single record. Missing ids are not an error;
// records that still have replies are refused.
func (s *MemoryStore) DeleteCommentHard(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	comment, ok := s.comments[id]
	if !ok {
		return nil
	}
	if len(s.byParent[id]) > 0 {
		return fmt.Errorf("delete comment %s: still has replies: %w", id, ErrConflict)
	}
	delete(s.comments, id)
	s.byArticle[comment.ArticleID] = without(s.byArticle[comment.ArticleID], id)
	if key := parentKey(comment.ParentID); key != "" {
		s.byParent[key] = without(s.byParent[key], id)
	}
	delete(s.byParent, id)
	return nil
}

func without(ids []string, target string) []string {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

// ListCommentsByStatus pages through all comments newest first. An empty
// status matches every comment.
func (s *MemoryStore) ListCommentsByStatus(_ context.Context, status Status, offset, limit int) ([]Comment, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := make([]Comment, 0)
	for _, comment := range s.comments {
		if status != "" && comment.Status != status {
			continue
		}
		matched = append(matched, comment)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	total := len(matched)
	if offset >= total {
		return []Comment{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	page := make([]Comment, 0, end-offset)
	for _, comment := range matched[offset:end] {
		page = append(page, comment.Clone())
	}
	return page, total, nil
}

// SearchComments is a case-insensitive substring match used when no search
// index is configured.
func (s *MemoryStore) SearchComments(_ context.Context, text string, status Status, limit int) ([]Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	needle := strings.ToLower(strings.TrimSpace(text))
	if needle == "" {
		return []Comment{}, nil
	}
	matched := make([]Comment, 0)
	for _, comment := range s.comments {
		if status != "" && comment.Status != status {
			continue
		}
		if strings.Contains(strings.ToLower(comment.Content), needle) {
			matched = append(matched, comment.Clone())
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *MemoryStore) GetArticle(_ context.Context, id string) (Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	article, ok := s.articles[id]
	if !ok {
		return Article{}, fmt.Errorf("article %s: %w", id, ErrNotFound)
	}
	return article, nil
}

func (s *MemoryStore) CountVisibleComments(_ context.Context, articleID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, id := range s.byArticle[articleID] {
		if s.comments[id].Status.Visible() {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) SetArticleCommentCount(_ context.Context, articleID string, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	article, ok := s.articles[articleID]
	if !ok {
		return fmt.Errorf("article %s: %w", articleID, ErrNotFound)
	}
	article.CommentCount = count
	article.UpdatedAt = s.now()
	s.articles[articleID] = article
	return nil
}

func (s *MemoryStore) DisplayNames(_ context.Context, ids []string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make(map[string]string, len(ids))
	for _, id := range ids {
		if name, ok := s.identities[id]; ok {
			names[id] = name
		}
	}
	return names, nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}
