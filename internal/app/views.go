package app

import (
	"time"

	"clinchem/api/internal/identity"
	"clinchem/api/internal/store"
	"clinchem/api/internal/thread"
)

type AuthorView struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// CommentView is a rendered comment. CallerVote is null when the caller has
// not voted or is anonymous.
type CommentView struct {
	ID         string        `json:"id"`
	ArticleID  string        `json:"articleId"`
	ParentID   *string       `json:"parentId"`
	Author     AuthorView    `json:"author"`
	Content    string        `json:"content"`
	Status     string        `json:"status"`
	Score      int           `json:"score"`
	CallerVote *string       `json:"callerVote"`
	IsEdited   bool          `json:"isEdited"`
	EditedAt   *time.Time    `json:"editedAt"`
	Depth      int           `json:"depth"`
	ChildCount int           `json:"childCount"`
	CreatedAt  time.Time     `json:"createdAt"`
	UpdatedAt  time.Time     `json:"updatedAt"`
	Replies    []CommentView `json:"replies"`
}

type ThreadView struct {
	ArticleID    string        `json:"articleId"`
	CommentCount int           `json:"commentCount"`
	Sort         string        `json:"sort"`
	Comments     []CommentView `json:"comments"`
}

type VoteResult struct {
	CommentID  string  `json:"commentId"`
	Score      int     `json:"score"`
	CallerVote *string `json:"callerVote"`
}

type ReportAck struct {
	CommentID string `json:"commentId"`
	Reported  bool   `json:"reported"`
}

type DeleteAck struct {
	CommentID string `json:"commentId"`
	Deleted   bool   `json:"deleted"`
}

type PurgeResult struct {
	CommentID   string   `json:"commentId"`
	Removed     int      `json:"removed"`
	Descendants int      `json:"descendants"`
	RemovedIDs  []string `json:"removedIds"`
}

type ReportView struct {
	ReporterID string    `json:"reporterId"`
	Reason     string    `json:"reason"`
	ReportedAt time.Time `json:"reportedAt"`
}

// AdminCommentView is the raw record as moderators see it.
type AdminCommentView struct {
	ID          string       `json:"id"`
	ArticleID   string       `json:"articleId"`
	ParentID    *string      `json:"parentId"`
	AuthorID    string       `json:"authorId"`
	Content     string       `json:"content"`
	Status      string       `json:"status"`
	Score       int          `json:"score"`
	Upvotes     int          `json:"upvotes"`
	Downvotes   int          `json:"downvotes"`
	ReportCount int          `json:"reportCount"`
	Reports     []ReportView `json:"reports"`
	IsEdited    bool         `json:"isEdited"`
	EditedAt    *time.Time   `json:"editedAt"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

type AdminPage struct {
	Items   []AdminCommentView `json:"items"`
	Total   int                `json:"total"`
	Page    int                `json:"page"`
	Limit   int                `json:"limit"`
	HasMore bool               `json:"hasMore"`
}

func callerVote(direction string) *string {
	if direction == "" {
		return nil
	}
	return &direction
}

func commentView(comment store.Comment, callerID string, names map[string]string) CommentView {
	return CommentView{
		ID:         comment.ID,
		ArticleID:  comment.ArticleID,
		ParentID:   comment.ParentID,
		Author:     authorView(comment.AuthorID, names),
		Content:    comment.Content,
		Status:     string(comment.Status),
		Score:      comment.Score(),
		CallerVote: callerVote(comment.VoteOf(callerID)),
		IsEdited:   comment.IsEdited,
		EditedAt:   comment.EditedAt,
		CreatedAt:  comment.CreatedAt,
		UpdatedAt:  comment.UpdatedAt,
		Replies:    []CommentView{},
	}
}

func authorView(authorID string, names map[string]string) AuthorView {
	name, ok := names[authorID]
	if !ok || name == "" {
		name = identity.UnknownAuthor
	}
	return AuthorView{ID: authorID, DisplayName: name}
}

func nodeViews(nodes []*thread.Node, names map[string]string) []CommentView {
	views := make([]CommentView, 0, len(nodes))
	for _, node := range nodes {
		view := commentView(node.Comment, "", names)
		view.Content = node.Content
		view.Score = node.Score
		view.CallerVote = callerVote(node.CallerVote)
		view.Depth = node.Depth
		view.ChildCount = node.ChildCount()
		if node.Placeholder {
			view.Author = AuthorView{DisplayName: identity.UnknownAuthor}
		}
		view.Replies = nodeViews(node.Children, names)
		views = append(views, view)
	}
	return views
}

func adminCommentView(comment store.Comment) AdminCommentView {
	reports := make([]ReportView, 0, len(comment.Reports))
	for _, report := range comment.Reports {
		reports = append(reports, ReportView(report))
	}
	return AdminCommentView{
		ID:          comment.ID,
		ArticleID:   comment.ArticleID,
		ParentID:    comment.ParentID,
		AuthorID:    comment.AuthorID,
		Content:     comment.Content,
		Status:      string(comment.Status),
		Score:       comment.Score(),
		Upvotes:     len(comment.Upvoters),
		Downvotes:   len(comment.Downvoters),
		ReportCount: len(comment.Reports),
		Reports:     reports,
		IsEdited:    comment.IsEdited,
		EditedAt:    comment.EditedAt,
		CreatedAt:   comment.CreatedAt,
		UpdatedAt:   comment.UpdatedAt,
	}
}
