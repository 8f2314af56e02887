package store

import (
	"errors"
	"sort"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("version conflict")
)

// Status is the moderation state of a comment.
type Status string

const (
	StatusApproved Status = "approved"
	StatusPending  Status = "pending"
	StatusSpam     Status = "spam"
	StatusDeleted  Status = "deleted"
)

func ParseStatus(value string) (Status, bool) {
	switch Status(value) {
	case StatusApproved, StatusPending, StatusSpam, StatusDeleted:
		return Status(value), true
	default:
		return "", false
	}
}

// DeletedContent replaces the body of a soft-deleted comment.
const DeletedContent = "[deleted]"

// Visible reports whether the status counts toward an article's comment count.
func (s Status) Visible() bool {
	return s == StatusApproved || s == StatusPending
}

// VoterSet is a set of identity ids.
type VoterSet map[string]struct{}

func NewVoterSet(ids ...string) VoterSet {
	set := make(VoterSet, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func (s VoterSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Remove deletes id and reports whether it was present.
func (s VoterSet) Remove(id string) bool {
	if _, ok := s[id]; !ok {
		return false
	}
	delete(s, id)
	return true
}

func (s VoterSet) Sorted() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s VoterSet) clone() VoterSet {
	out := make(VoterSet, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}

type Report struct {
	ReporterID string
	Reason     string
	ReportedAt time.Time
}

type Comment struct {
	ID         string
	ArticleID  string
	AuthorID   string
	ParentID   *string
	Content    string
	Status     Status
	Upvoters   VoterSet
	Downvoters VoterSet
	IsEdited   bool
	EditedAt   *time.Time
	Reports    []Report
	Version    int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (c Comment) IsRoot() bool {
	return c.ParentID == nil
}

func (c Comment) Score() int {
	return len(c.Upvoters) - len(c.Downvoters)
}

// VoteOf returns "up", "down" or "" for the given identity.
func (c Comment) VoteOf(voterID string) string {
	if voterID == "" {
		return ""
	}
	if c.Upvoters.Has(voterID) {
		return "up"
	}
	if c.Downvoters.Has(voterID) {
		return "down"
	}
	return ""
}

func (c Comment) HasReportFrom(reporterID string) bool {
	for _, report := range c.Reports {
		if report.ReporterID == reporterID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers never share sets or slices with a store.
func (c Comment) Clone() Comment {
	out := c
	out.Upvoters = c.Upvoters.clone()
	out.Downvoters = c.Downvoters.clone()
	if c.ParentID != nil {
		parent := *c.ParentID
		out.ParentID = &parent
	}
	if c.EditedAt != nil {
		editedAt := *c.EditedAt
		out.EditedAt = &editedAt
	}
	out.Reports = append([]Report(nil), c.Reports...)
	return out
}

// Article is the host record comments hang off. The wiki owns it; this
// service only reads it and writes back CommentCount.
type Article struct {
	ID           string
	Slug         string
	Title        string
	CommentCount int
	UpdatedAt    time.Time
}

func parentKey(parentID *string) string {
	if parentID == nil {
		return ""
	}
	return *parentID
}
