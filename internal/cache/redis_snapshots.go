// Package cache holds short-lived snapshots of article comment lists.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"clinchem/api/internal/store"
)

const DefaultTTL = 30 * time.Second

type snapshotReport struct {
	ReporterID string    `json:"reporter_id"`
	Reason     string    `json:"reason"`
	ReportedAt time.Time `json:"reported_at"`
}

type snapshotComment struct {
	ID         string           `json:"id"`
	ArticleID  string           `json:"article_id"`
	AuthorID   string           `json:"author_id"`
	ParentID   *string          `json:"parent_id,omitempty"`
	Content    string           `json:"content"`
	Status     string           `json:"status"`
	Upvoters   []string         `json:"upvoters"`
	Downvoters []string         `json:"downvoters"`
	IsEdited   bool             `json:"is_edited"`
	EditedAt   *time.Time       `json:"edited_at,omitempty"`
	Reports    []snapshotReport `json:"reports,omitempty"`
	Version    int64            `json:"version"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// RedisSnapshots stores the flat comment list of an article under one key
// with a TTL. Writers call Invalidate; readers tolerate a stale list until
// then.
type RedisSnapshots struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisSnapshots(redisURL string, ttl time.Duration) (*RedisSnapshots, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisSnapshotsWithClient(client, ttl), nil
}

func NewRedisSnapshotsWithClient(client *redis.Client, ttl time.Duration) *RedisSnapshots {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisSnapshots{
		client: client,
		prefix: "comments:article:",
		ttl:    ttl,
	}
}

func (s *RedisSnapshots) key(articleID string) string {
	return s.prefix + articleID
}

// Get returns the cached list and true, or false on a miss.
func (s *RedisSnapshots) Get(ctx context.Context, articleID string) ([]store.Comment, bool, error) {
	raw, err := s.client.Get(ctx, s.key(articleID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get comment snapshot: %w", err)
	}

	var items []snapshotComment
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, false, fmt.Errorf("unmarshal comment snapshot: %w", err)
	}
	comments := make([]store.Comment, 0, len(items))
	for _, item := range items {
		comments = append(comments, item.toComment())
	}
	return comments, true, nil
}

func (s *RedisSnapshots) Put(ctx context.Context, articleID string, comments []store.Comment) error {
	items := make([]snapshotComment, 0, len(comments))
	for _, comment := range comments {
		items = append(items, fromComment(comment))
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshal comment snapshot: %w", err)
	}
	if err := s.client.Set(ctx, s.key(articleID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("save comment snapshot: %w", err)
	}
	return nil
}

func (s *RedisSnapshots) Invalidate(ctx context.Context, articleID string) error {
	if err := s.client.Del(ctx, s.key(articleID)).Err(); err != nil {
		return fmt.Errorf("invalidate comment snapshot: %w", err)
	}
	return nil
}

func (s *RedisSnapshots) Close() error {
	return s.client.Close()
}

func (s *RedisSnapshots) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func fromComment(comment store.Comment) snapshotComment {
	item := snapshotComment{
		ID:         comment.ID,
		ArticleID:  comment.ArticleID,
		AuthorID:   comment.AuthorID,
		ParentID:   comment.ParentID,
		Content:    comment.Content,
		Status:     string(comment.Status),
		Upvoters:   comment.Upvoters.Sorted(),
		Downvoters: comment.Downvoters.Sorted(),
		IsEdited:   comment.IsEdited,
		EditedAt:   comment.EditedAt,
		Version:    comment.Version,
		CreatedAt:  comment.CreatedAt,
		UpdatedAt:  comment.UpdatedAt,
	}
	for _, report := range comment.Reports {
		item.Reports = append(item.Reports, snapshotReport(report))
	}
	return item
}

func (item snapshotComment) toComment() store.Comment {
	comment := store.Comment{
		ID:         item.ID,
		ArticleID:  item.ArticleID,
		AuthorID:   item.AuthorID,
		ParentID:   item.ParentID,
		Content:    item.Content,
		Status:     store.Status(item.Status),
		Upvoters:   store.NewVoterSet(item.Upvoters...),
		Downvoters: store.NewVoterSet(item.Downvoters...),
		IsEdited:   item.IsEdited,
		EditedAt:   item.EditedAt,
		Version:    item.Version,
		CreatedAt:  item.CreatedAt,
		UpdatedAt:  item.UpdatedAt,
	}
	for _, report := range item.Reports {
		comment.Reports = append(comment.Reports, store.Report(report))
	}
	return comment
}
