package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"clinchem/api/internal/auth"
	"clinchem/api/internal/identity"
	"clinchem/api/internal/logging"
	"clinchem/api/internal/metrics"
	"clinchem/api/internal/moderation"
	"clinchem/api/internal/rbac"
	"clinchem/api/internal/sanitize"
	"clinchem/api/internal/search"
	"clinchem/api/internal/store"
	"clinchem/api/internal/thread"
	"clinchem/api/internal/util"
	"clinchem/api/internal/vote"
)

const (
	MaxContentLength = 2000
	MaxDepth         = thread.DefaultMaxDepth

	defaultPageLimit = 20
	maxPageLimit     = 100
	editAttempts     = 3
)

// Principal is the caller as asserted by the identity provider. The zero
// value is an anonymous guest.
type Principal struct {
	ID   string
	Role rbac.Role
}

func (p Principal) Authenticated() bool {
	return p.ID != ""
}

type CommentInput struct {
	Content string `json:"content"`
}

type ReportInput struct {
	Reason string `json:"reason"`
}

// DataStore is the persistence the service needs. store.MemoryStore and
// store.PostgresStore both satisfy it.
type DataStore interface {
	InsertComment(ctx context.Context, comment store.Comment) (store.Comment, error)
	GetComment(ctx context.Context, id string) (store.Comment, error)
	ListCommentsByArticle(ctx context.Context, articleID string) ([]store.Comment, error)
	ListChildComments(ctx context.Context, parentID string) ([]store.Comment, error)
	SaveComment(ctx context.Context, comment store.Comment) (store.Comment, error)
	UpdateComment(ctx context.Context, id string, mutate func(*store.Comment) error) (store.Comment, error)
	DeleteCommentHard(ctx context.Context, id string) error
	ListCommentsByStatus(ctx context.Context, status store.Status, offset, limit int) ([]store.Comment, int, error)
	SearchComments(ctx context.Context, text string, status store.Status, limit int) ([]store.Comment, error)
	GetArticle(ctx context.Context, id string) (store.Article, error)
	CountVisibleComments(ctx context.Context, articleID string) (int, error)
	SetArticleCommentCount(ctx context.Context, articleID string, count int) error
	DisplayNames(ctx context.Context, ids []string) (map[string]string, error)
	Ping(ctx context.Context) error
}

type snapshotCache interface {
	Get(ctx context.Context, articleID string) ([]store.Comment, bool, error)
	Put(ctx context.Context, articleID string, comments []store.Comment) error
	Invalidate(ctx context.Context, articleID string) error
}

type nameResolver interface {
	Resolve(ctx context.Context, ids []string) (map[string]string, error)
}

type commentIndex interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexComment(comment store.Comment)
	DeleteComments(ids []string)
}

// Options carries the optional collaborators. Nil fields get working
// defaults backed by the store.
type Options struct {
	TokenSecret []byte
	Snapshots   snapshotCache
	Names       nameResolver
	Search      commentIndex
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
}

type Service struct {
	store     DataStore
	votes     *vote.Ledger
	gate      *moderation.Gate
	snapshots snapshotCache
	names     nameResolver
	search    commentIndex
	fills     singleflight.Group
	tokens    *auth.Signer
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

func New(dataStore DataStore, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	names := opts.Names
	if names == nil {
		names = storeNames{store: dataStore}
	}
	index := opts.Search
	if index == nil {
		index = search.NewService(nil, search.NewStoreSearcher(dataStore), logger)
	}
	return &Service{
		store:     dataStore,
		votes:     vote.NewLedger(dataStore),
		gate:      moderation.NewGate(dataStore),
		snapshots: opts.Snapshots,
		names:     names,
		search:    index,
		tokens:    auth.NewSigner(opts.TokenSecret),
		logger:    logger,
		metrics:   opts.Metrics,
		now:       time.Now,
	}
}

// storeNames resolves display names straight from the store.
type storeNames struct {
	store DataStore
}

func (n storeNames) Resolve(ctx context.Context, ids []string) (map[string]string, error) {
	found, err := n.store.DisplayNames(ctx, ids)
	out := make(map[string]string, len(ids))
	for _, id := range ids {
		out[id] = identity.UnknownAuthor
	}
	for id, name := range found {
		out[id] = name
	}
	return out, err
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// PrincipalFromToken verifies a bearer token issued for the identity
// provider's principal.
func (s *Service) PrincipalFromToken(token string) (Principal, error) {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return Principal{}, err
	}
	return Principal{ID: claims.Sub, Role: rbac.Normalize(claims.Role)}, nil
}

func (s *Service) IssueToken(principal Principal, ttl time.Duration) (string, error) {
	return s.tokens.Issue(principal.ID, string(principal.Role), ttl)
}

func (s *Service) require(principal Principal, action rbac.Action) error {
	if action != rbac.ActionRead && !principal.Authenticated() {
		return unauthorized()
	}
	role := principal.Role
	if role == "" {
		role = rbac.RoleGuest
		if principal.Authenticated() {
			role = rbac.RoleMember
		}
	}
	if !rbac.Can(role, action) {
		return forbidden(fmt.Sprintf("role %s may not %s comments", role, action))
	}
	return nil
}

func cleanContent(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	length := sanitize.Length(trimmed)
	if length == 0 {
		return "", validationError("content is required", nil)
	}
	if length > MaxContentLength {
		return "", validationError(fmt.Sprintf("content must be at most %d characters", MaxContentLength), map[string]any{"length": length})
	}
	return sanitize.Escape(trimmed), nil
}

func (s *Service) getArticle(ctx context.Context, articleID string) (store.Article, error) {
	article, err := s.store.GetArticle(ctx, articleID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Article{}, notFound("article not found")
	}
	return article, err
}

func (s *Service) getComment(ctx context.Context, commentID string) (store.Comment, error) {
	comment, err := s.store.GetComment(ctx, commentID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Comment{}, notFound("comment not found")
	}
	return comment, err
}

func (s *Service) CreateComment(ctx context.Context, principal Principal, articleID string, input CommentInput) (CommentView, error) {
	if err := s.require(principal, rbac.ActionComment); err != nil {
		return CommentView{}, err
	}
	if _, err := s.getArticle(ctx, articleID); err != nil {
		return CommentView{}, err
	}
	content, err := cleanContent(input.Content)
	if err != nil {
		return CommentView{}, err
	}
	return s.insert(ctx, principal, articleID, nil, content, 0)
}

// ReplyComment counts the hops from the parent to its root. The reply sits
// one level below the parent and is refused once that reaches MaxDepth.
func (s *Service) ReplyComment(ctx context.Context, principal Principal, parentID string, input CommentInput) (CommentView, error) {
	if err := s.require(principal, rbac.ActionComment); err != nil {
		return CommentView{}, err
	}
	parent, err := s.getComment(ctx, parentID)
	if err != nil {
		return CommentView{}, err
	}
	if parent.Status == store.StatusDeleted {
		return CommentView{}, invalidState("cannot reply to a deleted comment")
	}
	parentDepth, err := s.depthOf(ctx, parent)
	if err != nil {
		return CommentView{}, err
	}
	depth := parentDepth + 1
	if depth >= MaxDepth {
		return CommentView{}, domainError(http.StatusBadRequest, CodeDepthLimitExceeded,
			fmt.Sprintf("replies are limited to %d levels", MaxDepth), map[string]any{"depth": depth})
	}
	if _, err := s.getArticle(ctx, parent.ArticleID); err != nil {
		return CommentView{}, err
	}
	content, err := cleanContent(input.Content)
	if err != nil {
		return CommentView{}, err
	}
	return s.insert(ctx, principal, parent.ArticleID, &parent.ID, content, depth)
}

// depthOf walks parent pointers up to the root. The walk stops early once
// the depth limit is certain to be hit.
func (s *Service) depthOf(ctx context.Context, comment store.Comment) (int, error) {
	depth := 0
	seen := map[string]struct{}{comment.ID: {}}
	current := comment
	for current.ParentID != nil {
		if depth >= MaxDepth {
			return depth, nil
		}
		parentID := *current.ParentID
		if _, loop := seen[parentID]; loop {
			return 0, fmt.Errorf("comment %s: parent chain loops at %s", comment.ID, parentID)
		}
		seen[parentID] = struct{}{}
		next, err := s.getComment(ctx, parentID)
		if err != nil {
			return 0, err
		}
		current = next
		depth++
	}
	return depth, nil
}

func (s *Service) insert(ctx context.Context, principal Principal, articleID string, parentID *string, content string, depth int) (CommentView, error) {
	created, err := s.store.InsertComment(ctx, store.Comment{
		ID:         util.NewID("cmt"),
		ArticleID:  articleID,
		AuthorID:   principal.ID,
		ParentID:   parentID,
		Content:    content,
		Status:     store.StatusApproved,
		Upvoters:   store.VoterSet{},
		Downvoters: store.VoterSet{},
	})
	if err != nil {
		return CommentView{}, translate(err)
	}
	s.afterWrite(ctx, created, true)
	if parentID == nil {
		s.metrics.CommentEvent(metrics.EventCreated)
	} else {
		s.metrics.CommentEvent(metrics.EventReplied)
	}
	s.logger.Info("comment created", "comment_id", created.ID, "article_id", articleID, "depth", depth)

	view := commentView(created, principal.ID, s.resolveNames(ctx, []string{created.AuthorID}))
	view.Depth = depth
	return view, nil
}

// EditComment replaces the content of the caller's own comment. The save is
// compare-and-set; a concurrent change reloads the record and retries.
func (s *Service) EditComment(ctx context.Context, principal Principal, commentID string, input CommentInput) (CommentView, error) {
	if err := s.require(principal, rbac.ActionComment); err != nil {
		return CommentView{}, err
	}
	for attempt := 0; ; attempt++ {
		comment, err := s.getComment(ctx, commentID)
		if err != nil {
			return CommentView{}, err
		}
		if comment.AuthorID != principal.ID {
			return CommentView{}, forbidden("only the author can edit this comment")
		}
		if comment.Status == store.StatusDeleted {
			return CommentView{}, invalidState("cannot edit a deleted comment")
		}
		content, err := cleanContent(input.Content)
		if err != nil {
			return CommentView{}, err
		}
		editedAt := s.now().UTC()
		comment.Content = content
		comment.IsEdited = true
		comment.EditedAt = &editedAt

		saved, err := s.store.SaveComment(ctx, comment)
		if errors.Is(err, store.ErrConflict) && attempt+1 < editAttempts {
			continue
		}
		if err != nil {
			return CommentView{}, translate(err)
		}
		s.afterWrite(ctx, saved, false)
		s.metrics.CommentEvent(metrics.EventEdited)
		return commentView(saved, principal.ID, s.resolveNames(ctx, []string{saved.AuthorID})), nil
	}
}

// DeleteComment soft-deletes. Authors may delete their own comments and
// moderators any comment.
func (s *Service) DeleteComment(ctx context.Context, principal Principal, commentID string) (DeleteAck, error) {
	if err := s.require(principal, rbac.ActionComment); err != nil {
		return DeleteAck{}, err
	}
	deleted, err := s.gate.SoftDelete(ctx, commentID, func(comment store.Comment) error {
		if comment.AuthorID == principal.ID || rbac.Can(principal.Role, rbac.ActionModerate) {
			return nil
		}
		return forbidden("only the author or an admin can delete this comment")
	})
	if err != nil {
		return DeleteAck{}, translate(err)
	}
	s.afterWrite(ctx, deleted, true)
	s.metrics.CommentEvent(metrics.EventDeleted)
	s.logger.Info("comment deleted", "comment_id", commentID, "by", principal.ID)
	return DeleteAck{CommentID: deleted.ID, Deleted: true}, nil
}

func (s *Service) VoteComment(ctx context.Context, principal Principal, commentID, direction string) (VoteResult, error) {
	if err := s.require(principal, rbac.ActionComment); err != nil {
		return VoteResult{}, err
	}
	parsed, err := vote.ParseDirection(strings.ToLower(strings.TrimSpace(direction)))
	if err != nil {
		return VoteResult{}, translate(err)
	}
	updated, tally, err := s.votes.Toggle(ctx, commentID, principal.ID, parsed)
	if err != nil {
		return VoteResult{}, translate(err)
	}
	s.invalidate(ctx, updated.ArticleID)
	s.metrics.CommentEvent(metrics.EventVoted)
	return voteResult(commentID, tally), nil
}

func (s *Service) UnvoteComment(ctx context.Context, principal Principal, commentID string) (VoteResult, error) {
	if err := s.require(principal, rbac.ActionComment); err != nil {
		return VoteResult{}, err
	}
	updated, tally, err := s.votes.Remove(ctx, commentID, principal.ID)
	if err != nil {
		return VoteResult{}, translate(err)
	}
	s.invalidate(ctx, updated.ArticleID)
	s.metrics.CommentEvent(metrics.EventVoted)
	return voteResult(commentID, tally), nil
}

func voteResult(commentID string, tally vote.Tally) VoteResult {
	return VoteResult{CommentID: commentID, Score: tally.Score, CallerVote: callerVote(string(tally.Direction))}
}

func (s *Service) ReportComment(ctx context.Context, principal Principal, commentID string, input ReportInput) (ReportAck, error) {
	if err := s.require(principal, rbac.ActionComment); err != nil {
		return ReportAck{}, err
	}
	reported, err := s.gate.Report(ctx, commentID, principal.ID, input.Reason)
	if err != nil {
		return ReportAck{}, translate(err)
	}
	s.afterWrite(ctx, reported, true)
	s.metrics.CommentEvent(metrics.EventReported)
	if reported.Status == store.StatusSpam && len(reported.Reports) == moderation.ReportThreshold {
		s.metrics.CommentEvent(metrics.EventEscalated)
		s.logger.Info("comment escalated to spam", "comment_id", commentID, "reports", len(reported.Reports))
	}
	return ReportAck{CommentID: commentID, Reported: true}, nil
}

func (s *Service) ModerateComment(ctx context.Context, principal Principal, commentID, action string) (AdminCommentView, error) {
	if err := s.require(principal, rbac.ActionModerate); err != nil {
		return AdminCommentView{}, err
	}
	parsed, ok := moderation.ParseAction(strings.ToLower(strings.TrimSpace(action)))
	if !ok {
		return AdminCommentView{}, validationError("action must be 'approve' or 'reject'", nil)
	}
	moderated, err := s.gate.Moderate(ctx, commentID, parsed)
	if err != nil {
		return AdminCommentView{}, translate(err)
	}
	s.afterWrite(ctx, moderated, true)
	s.metrics.CommentEvent(metrics.EventModerated)
	s.logger.Info("comment moderated", "comment_id", commentID, "action", parsed, "status", moderated.Status)
	return adminCommentView(moderated), nil
}

// PurgeComment permanently removes a comment and every reply under it.
func (s *Service) PurgeComment(ctx context.Context, principal Principal, commentID string) (PurgeResult, error) {
	if err := s.require(principal, rbac.ActionPurge); err != nil {
		return PurgeResult{}, err
	}
	root, err := s.getComment(ctx, commentID)
	if err != nil {
		return PurgeResult{}, err
	}
	removed, err := s.gate.Purge(ctx, commentID)
	// Whatever was removed is gone even if the purge stopped early.
	if len(removed) > 0 {
		s.search.DeleteComments(removed)
		s.invalidate(ctx, root.ArticleID)
		s.refreshArticleCount(ctx, root.ArticleID)
	}
	if err != nil {
		return PurgeResult{}, translate(err)
	}
	s.metrics.Purged(len(removed))
	s.logger.Info("comment purged", "comment_id", commentID, "removed", len(removed), "by", principal.ID)
	return PurgeResult{
		CommentID:   commentID,
		Removed:     len(removed),
		Descendants: len(removed) - 1,
		RemovedIDs:  removed,
	}, nil
}

// ListComments renders the article's reply forest for the caller.
func (s *Service) ListComments(ctx context.Context, principal Principal, articleID, sortValue string) (ThreadView, error) {
	if err := s.require(principal, rbac.ActionRead); err != nil {
		return ThreadView{}, err
	}
	article, err := s.getArticle(ctx, articleID)
	if err != nil {
		return ThreadView{}, err
	}
	comments, err := s.loadArticleComments(ctx, articleID)
	if err != nil {
		return ThreadView{}, err
	}
	order := thread.ParseSort(sortValue)
	roots := thread.Build(comments, thread.Options{MaxDepth: MaxDepth, Sort: order, CallerID: principal.ID})

	authors := make([]string, 0, len(comments))
	thread.Walk(roots, func(node *thread.Node) {
		if !node.Placeholder {
			authors = append(authors, node.Comment.AuthorID)
		}
	})
	return ThreadView{
		ArticleID:    articleID,
		CommentCount: article.CommentCount,
		Sort:         string(order),
		Comments:     nodeViews(roots, s.resolveNames(ctx, authors)),
	}, nil
}

// loadArticleComments serves the flat list from the snapshot cache when one
// is configured. Concurrent misses for one article share a single store read.
func (s *Service) loadArticleComments(ctx context.Context, articleID string) ([]store.Comment, error) {
	if s.snapshots == nil {
		return s.store.ListCommentsByArticle(ctx, articleID)
	}
	cached, ok, err := s.snapshots.Get(ctx, articleID)
	switch {
	case err != nil:
		s.metrics.SnapshotLookup("error")
		s.logger.Warn("comment snapshot read failed", "article_id", articleID, "error", err)
	case ok:
		s.metrics.SnapshotLookup("hit")
		return cached, nil
	default:
		s.metrics.SnapshotLookup("miss")
	}

	value, err, _ := s.fills.Do(articleID, func() (any, error) {
		fillCtx := context.WithoutCancel(ctx)
		comments, err := s.store.ListCommentsByArticle(fillCtx, articleID)
		if err != nil {
			return nil, err
		}
		if err := s.snapshots.Put(fillCtx, articleID, comments); err != nil {
			s.logger.Warn("comment snapshot write failed", "article_id", articleID, "error", err)
		}
		return comments, nil
	})
	if err != nil {
		return nil, err
	}
	return value.([]store.Comment), nil
}

func (s *Service) AdminListComments(ctx context.Context, principal Principal, statusValue string, page, limit int) (AdminPage, error) {
	if err := s.require(principal, rbac.ActionModerate); err != nil {
		return AdminPage{}, err
	}
	var status store.Status
	if statusValue != "" {
		parsed, ok := store.ParseStatus(statusValue)
		if !ok {
			return AdminPage{}, validationError("status must be one of approved, pending, spam, deleted", nil)
		}
		status = parsed
	}
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	comments, total, err := s.store.ListCommentsByStatus(ctx, status, (page-1)*limit, limit)
	if err != nil {
		return AdminPage{}, err
	}
	items := make([]AdminCommentView, 0, len(comments))
	for _, comment := range comments {
		items = append(items, adminCommentView(comment))
	}
	return AdminPage{
		Items:   items,
		Total:   total,
		Page:    page,
		Limit:   limit,
		HasMore: page*limit < total,
	}, nil
}

func (s *Service) SearchComments(ctx context.Context, principal Principal, text, statusValue string, limit int) (search.Response, error) {
	if err := s.require(principal, rbac.ActionModerate); err != nil {
		return search.Response{}, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return search.Response{}, validationError("q is required", nil)
	}
	var status store.Status
	if statusValue != "" {
		parsed, ok := store.ParseStatus(statusValue)
		if !ok {
			return search.Response{}, validationError("status must be one of approved, pending, spam, deleted", nil)
		}
		status = parsed
	}
	if limit <= 0 || limit > maxPageLimit {
		limit = defaultPageLimit
	}
	return s.search.Search(ctx, search.Query{Text: text, Status: status, Limit: limit}), nil
}

// afterWrite drops the article snapshot, reindexes the comment and, when the
// status may have changed, recomputes the article's comment count.
func (s *Service) afterWrite(ctx context.Context, comment store.Comment, refreshCount bool) {
	s.invalidate(ctx, comment.ArticleID)
	if refreshCount {
		s.refreshArticleCount(ctx, comment.ArticleID)
	}
	s.search.IndexComment(comment)
}

func (s *Service) invalidate(ctx context.Context, articleID string) {
	if s.snapshots == nil {
		return
	}
	if err := s.snapshots.Invalidate(ctx, articleID); err != nil {
		s.logger.Warn("comment snapshot invalidation failed", "article_id", articleID, "error", err)
	}
}

// refreshArticleCount recounts approved and pending comments. Failures are
// logged; the next write recomputes the value anyway.
func (s *Service) refreshArticleCount(ctx context.Context, articleID string) {
	count, err := s.store.CountVisibleComments(ctx, articleID)
	if err != nil {
		s.logger.Warn("count visible comments failed", "article_id", articleID, "error", err)
		return
	}
	if err := s.store.SetArticleCommentCount(ctx, articleID, count); err != nil {
		s.logger.Warn("set article comment count failed", "article_id", articleID, "error", err)
	}
}

func (s *Service) resolveNames(ctx context.Context, ids []string) map[string]string {
	names, err := s.names.Resolve(ctx, ids)
	if err != nil {
		s.logger.Warn("display name lookup failed", "count", len(ids), "error", err)
	}
	return names
}

type reindexer interface {
	ReindexAll(comments []store.Comment)
}

// ReindexSearch pushes every stored comment to the search index.
func (s *Service) ReindexSearch(ctx context.Context, indexer reindexer) error {
	comments, total, err := s.store.ListCommentsByStatus(ctx, "", 0, 0)
	if err != nil {
		return err
	}
	indexer.ReindexAll(comments)
	s.logger.Info("search reindexed", "comments", total)
	return nil
}
