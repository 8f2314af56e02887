package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const commentColumns = `id, article_id, author_id, parent_id, content, status, is_edited, edited_at, version, created_at, updated_at`

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanComment(row rowScanner) (Comment, error) {
	var (
		comment  Comment
		parentID sql.NullString
		editedAt sql.NullTime
		status   string
	)
	if err := row.Scan(
		&comment.ID,
		&comment.ArticleID,
		&comment.AuthorID,
		&parentID,
		&comment.Content,
		&status,
		&comment.IsEdited,
		&editedAt,
		&comment.Version,
		&comment.CreatedAt,
		&comment.UpdatedAt,
	); err != nil {
		return Comment{}, err
	}
	if parentID.Valid {
		value := parentID.String
		comment.ParentID = &value
	}
	if editedAt.Valid {
		value := editedAt.Time
		comment.EditedAt = &value
	}
	comment.Status = Status(status)
	comment.Upvoters = VoterSet{}
	comment.Downvoters = VoterSet{}
	return comment, nil
}

func (s *PostgresStore) InsertComment(ctx context.Context, comment Comment) (Comment, error) {
	var inserted Comment
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			INSERT INTO comments (id, article_id, author_id, parent_id, content, status, is_edited, edited_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING `+commentColumns,
			comment.ID,
			comment.ArticleID,
			comment.AuthorID,
			nullableString(comment.ParentID),
			comment.Content,
			string(comment.Status),
			comment.IsEdited,
			nullableTime(comment.EditedAt),
		)
		created, err := scanComment(row)
		if err != nil {
			if isPgError(err, pgForeignKeyViolation) {
				return fmt.Errorf("insert comment %s: article or parent missing: %w", comment.ID, ErrNotFound)
			}
			return fmt.Errorf("insert comment: %w", err)
		}
		if err := syncVotes(ctx, tx, created, comment); err != nil {
			return err
		}
		if err := syncReports(ctx, tx, created, comment); err != nil {
			return err
		}
		created.Upvoters = comment.Upvoters.clone()
		created.Downvoters = comment.Downvoters.clone()
		created.Reports = append([]Report(nil), comment.Reports...)
		inserted = created
		return nil
	})
	return inserted, err
}

func (s *PostgresStore) GetComment(ctx context.Context, id string) (Comment, error) {
	comment, err := scanComment(s.db.QueryRowContext(ctx, `SELECT `+commentColumns+` FROM comments WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Comment{}, fmt.Errorf("comment %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Comment{}, fmt.Errorf("get comment: %w", err)
	}
	items := []Comment{comment}
	if err := attachRelations(ctx, s.db, items); err != nil {
		return Comment{}, err
	}
	return items[0], nil
}

func (s *PostgresStore) ListCommentsByArticle(ctx context.Context, articleID string) ([]Comment, error) {
	return s.listComments(ctx, `
		SELECT `+commentColumns+`
		FROM comments
		WHERE article_id=$1
		ORDER BY created_at ASC, id ASC
	`, articleID)
}

func (s *PostgresStore) ListChildComments(ctx context.Context, parentID string) ([]Comment, error) {
	return s.listComments(ctx, `
		SELECT `+commentColumns+`
		FROM comments
		WHERE parent_id=$1
		ORDER BY created_at ASC, id ASC
	`, parentID)
}

func (s *PostgresStore) listComments(ctx context.Context, query string, args ...any) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]Comment, 0)
	for rows.Next() {
		comment, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, comment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	if err := attachRelations(ctx, s.db, items); err != nil {
		return nil, err
	}
	return items, nil
}

// attachRelations fills voter sets and reports for items in two queries.
func attachRelations(ctx context.Context, q querier, items []Comment) error {
	if len(items) == 0 {
		return nil
	}
	ids := make([]string, len(items))
	index := make(map[string]int, len(items))
	for i := range items {
		ids[i] = items[i].ID
		index[items[i].ID] = i
		items[i].Upvoters = VoterSet{}
		items[i].Downvoters = VoterSet{}
		items[i].Reports = nil
	}

	voteRows, err := q.QueryContext(ctx, `
		SELECT comment_id, voter_id, direction
		FROM comment_votes
		WHERE comment_id = ANY($1)
	`, ids)
	if err != nil {
		return fmt.Errorf("list comment votes: %w", err)
	}
	for voteRows.Next() {
		var commentID, voterID string
		var direction int
		if err := voteRows.Scan(&commentID, &voterID, &direction); err != nil {
			voteRows.Close()
			return fmt.Errorf("scan comment vote: %w", err)
		}
		i := index[commentID]
		if direction > 0 {
			items[i].Upvoters[voterID] = struct{}{}
		} else {
			items[i].Downvoters[voterID] = struct{}{}
		}
	}
	if err := voteRows.Err(); err != nil {
		voteRows.Close()
		return fmt.Errorf("iterate comment votes: %w", err)
	}
	voteRows.Close()

	reportRows, err := q.QueryContext(ctx, `
		SELECT comment_id, reporter_id, reason, reported_at
		FROM comment_reports
		WHERE comment_id = ANY($1)
		ORDER BY reported_at ASC, reporter_id ASC
	`, ids)
	if err != nil {
		return fmt.Errorf("list comment reports: %w", err)
	}
	defer reportRows.Close()
	for reportRows.Next() {
		var commentID string
		var report Report
		if err := reportRows.Scan(&commentID, &report.ReporterID, &report.Reason, &report.ReportedAt); err != nil {
			return fmt.Errorf("scan comment report: %w", err)
		}
		i := index[commentID]
		items[i].Reports = append(items[i].Reports, report)
	}
	if err := reportRows.Err(); err != nil {
		return fmt.Errorf("iterate comment reports: %w", err)
	}
	return nil
}

// SaveComment persists comment if the stored version still equals comment.Version.
func (s *PostgresStore) SaveComment(ctx context.Context, comment Comment) (Comment, error) {
	var saved Comment
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := lockComment(ctx, tx, comment.ID)
		if err != nil {
			return err
		}
		if current.Version != comment.Version {
			return fmt.Errorf("comment %s at version %d: %w", comment.ID, comment.Version, ErrConflict)
		}
		saved, err = writeComment(ctx, tx, current, comment)
		return err
	})
	return saved, err
}

// UpdateComment locks the row, applies mutate and writes the result in one
// transaction. Concurrent updates of the same comment queue on the row lock.
func (s *PostgresStore) UpdateComment(ctx context.Context, id string, mutate func(*Comment) error) (Comment, error) {
	var saved Comment
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := lockComment(ctx, tx, id)
		if err != nil {
			return err
		}
		next := current.Clone()
		if err := mutate(&next); err != nil {
			return err
		}
		saved, err = writeComment(ctx, tx, current, next)
		return err
	})
	return saved, err
}

func lockComment(ctx context.Context, tx *sql.Tx, id string) (Comment, error) {
	comment, err := scanComment(tx.QueryRowContext(ctx, `SELECT `+commentColumns+` FROM comments WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Comment{}, fmt.Errorf("comment %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Comment{}, fmt.Errorf("lock comment: %w", err)
	}
	items := []Comment{comment}
	if err := attachRelations(ctx, tx, items); err != nil {
		return Comment{}, err
	}
	return items[0], nil
}

func writeComment(ctx context.Context, tx *sql.Tx, current, next Comment) (Comment, error) {
	var (
		version   int64
		updatedAt time.Time
	)
	err := tx.QueryRowContext(ctx, `
		UPDATE comments
		SET content=$2, status=$3, is_edited=$4, edited_at=$5, version=version+1, updated_at=NOW()
		WHERE id=$1
		RETURNING version, updated_at
	`, current.ID, next.Content, string(next.Status), next.IsEdited, nullableTime(next.EditedAt)).Scan(&version, &updatedAt)
	if err != nil {
		return Comment{}, fmt.Errorf("update comment: %w", err)
	}
	if err := syncVotes(ctx, tx, current, next); err != nil {
		return Comment{}, err
	}
	if err := syncReports(ctx, tx, current, next); err != nil {
		return Comment{}, err
	}

	saved := next.Clone()
	saved.ArticleID = current.ArticleID
	saved.ParentID = current.ParentID
	saved.AuthorID = current.AuthorID
	saved.CreatedAt = current.CreatedAt
	saved.Version = version
	saved.UpdatedAt = updatedAt
	return saved, nil
}

func voteDirections(comment Comment) map[string]int {
	directions := make(map[string]int, len(comment.Upvoters)+len(comment.Downvoters))
	for id := range comment.Upvoters {
		directions[id] = 1
	}
	for id := range comment.Downvoters {
		directions[id] = -1
	}
	return directions
}

// syncVotes writes only the membership that differs between current and next.
func syncVotes(ctx context.Context, tx *sql.Tx, current, next Comment) error {
	before := voteDirections(current)
	after := voteDirections(next)
	for voterID := range before {
		if _, keep := after[voterID]; keep {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM comment_votes WHERE comment_id=$1 AND voter_id=$2
		`, current.ID, voterID); err != nil {
			return fmt.Errorf("delete comment vote: %w", err)
		}
	}
	for voterID, direction := range after {
		if before[voterID] == direction {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO comment_votes (comment_id, voter_id, direction)
			VALUES ($1, $2, $3)
			ON CONFLICT (comment_id, voter_id)
			DO UPDATE SET direction=EXCLUDED.direction, voted_at=NOW()
		`, current.ID, voterID, direction); err != nil {
			return fmt.Errorf("upsert comment vote: %w", err)
		}
	}
	return nil
}

func syncReports(ctx context.Context, tx *sql.Tx, current, next Comment) error {
	before := make(map[string]struct{}, len(current.Reports))
	for _, report := range current.Reports {
		before[report.ReporterID] = struct{}{}
	}
	after := make(map[string]struct{}, len(next.Reports))
	for _, report := range next.Reports {
		after[report.ReporterID] = struct{}{}
		if _, exists := before[report.ReporterID]; exists {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO comment_reports (comment_id, reporter_id, reason, reported_at)
			VALUES ($1, $2, $3, $4)
		`, current.ID, report.ReporterID, report.Reason, report.ReportedAt); err != nil {
			if isPgError(err, pgUniqueViolation) {
				return fmt.Errorf("insert comment report: %w", ErrConflict)
			}
			return fmt.Errorf("insert comment report: %w", err)
		}
	}
	for reporterID := range before {
		if _, keep := after[reporterID]; keep {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM comment_reports WHERE comment_id=$1 AND reporter_id=$2
		`, current.ID, reporterID); err != nil {
			return fmt.Errorf("delete comment report: %w", err)
		}
	}
	return nil
}

// DeleteCommentHard removes one row; votes and reports cascade. Replies must
// be removed first, the parent_id foreign key refuses otherwise.
func (s *PostgresStore) DeleteCommentHard(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM comments WHERE id=$1`, id); err != nil {
		if isPgError(err, pgForeignKeyViolation) {
			return fmt.Errorf("delete comment %s: still has replies: %w", id, ErrConflict)
		}
		return fmt.Errorf("delete comment: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListCommentsByStatus(ctx context.Context, status Status, offset, limit int) ([]Comment, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM comments WHERE ($1 = '' OR status = $1)
	`, string(status)).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count comments: %w", err)
	}
	// A nil limit binds LIMIT NULL, which returns every row.
	var pageLimit any
	if limit > 0 {
		pageLimit = limit
	}
	items, err := s.listComments(ctx, `
		SELECT `+commentColumns+`
		FROM comments
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, string(status), pageLimit, offset)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *PostgresStore) SearchComments(ctx context.Context, text string, status Status, limit int) ([]Comment, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.listComments(ctx, `
		SELECT `+commentColumns+`
		FROM comments
		WHERE to_tsvector('english', content) @@ plainto_tsquery('english', $1)
		  AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3
	`, text, string(status), limit)
}

func (s *PostgresStore) GetArticle(ctx context.Context, id string) (Article, error) {
	var article Article
	err := s.db.QueryRowContext(ctx, `
		SELECT id, slug, title, comment_count, updated_at FROM articles WHERE id=$1
	`, id).Scan(&article.ID, &article.Slug, &article.Title, &article.CommentCount, &article.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Article{}, fmt.Errorf("article %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Article{}, fmt.Errorf("get article: %w", err)
	}
	return article, nil
}

// UpsertArticle mirrors a host article row. Used by seeding and tests.
func (s *PostgresStore) UpsertArticle(ctx context.Context, article Article) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO articles (id, slug, title)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET slug=EXCLUDED.slug, title=EXCLUDED.title, updated_at=NOW()
	`, article.ID, article.Slug, article.Title); err != nil {
		return fmt.Errorf("upsert article: %w", err)
	}
	return nil
}

func (s *PostgresStore) CountVisibleComments(ctx context.Context, articleID string) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM comments WHERE article_id=$1 AND status IN ('approved', 'pending')
	`, articleID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count visible comments: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) SetArticleCommentCount(ctx context.Context, articleID string, count int) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE articles SET comment_count=$2, updated_at=NOW() WHERE id=$1
	`, articleID, count)
	if err != nil {
		return fmt.Errorf("set article comment count: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set article comment count rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("article %s: %w", articleID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) DisplayNames(ctx context.Context, ids []string) (map[string]string, error) {
	names := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, display_name FROM identities WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("lookup identities: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		names[id] = name
	}
	return names, rows.Err()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func isPgError(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

func nullableString(value *string) any {
	if value == nil {
		return nil
	}
	return *value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return *value
}
