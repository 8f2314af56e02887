// Package moderation owns comment status transitions: user reports with
// automatic spam escalation, admin approve and reject, soft delete and the
// cascading purge.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"clinchem/api/internal/sanitize"
	"clinchem/api/internal/store"
)

const (
	ReportThreshold = 5
	MaxReasonLength = 500
)

var (
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrAlreadyReported   = errors.New("already reported")
	ErrInvalidReason     = errors.New("invalid report reason")
	ErrCommentDeleted    = errors.New("comment is deleted")
)

type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

func ParseAction(value string) (Action, bool) {
	switch Action(value) {
	case ActionApprove, ActionReject:
		return Action(value), true
	default:
		return "", false
	}
}

// transitions lists the legal target states per source state. Staying in
// the same state is always allowed.
var transitions = map[store.Status][]store.Status{
	store.StatusApproved: {store.StatusSpam, store.StatusDeleted},
	store.StatusPending:  {store.StatusApproved, store.StatusSpam, store.StatusDeleted},
	store.StatusSpam:     {store.StatusApproved, store.StatusDeleted},
	store.StatusDeleted:  {},
}

func CanTransition(from, to store.Status) bool {
	if from == to {
		_, known := transitions[from]
		return known
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func transition(comment *store.Comment, to store.Status) error {
	if !CanTransition(comment.Status, to) {
		return fmt.Errorf("comment %s %s -> %s: %w", comment.ID, comment.Status, to, ErrIllegalTransition)
	}
	comment.Status = to
	return nil
}

type commentStore interface {
	GetComment(ctx context.Context, id string) (store.Comment, error)
	ListChildComments(ctx context.Context, parentID string) ([]store.Comment, error)
	UpdateComment(ctx context.Context, id string, mutate func(*store.Comment) error) (store.Comment, error)
	DeleteCommentHard(ctx context.Context, id string) error
}

type Gate struct {
	store commentStore
	now   func() time.Time
}

func NewGate(s commentStore) *Gate {
	return &Gate{store: s, now: time.Now}
}

// CleanReason validates a report reason and returns its escaped form.
func CleanReason(reason string) (string, error) {
	trimmed := strings.TrimSpace(reason)
	length := sanitize.Length(trimmed)
	if length == 0 || length > MaxReasonLength {
		return "", fmt.Errorf("reason must be 1-%d characters: %w", MaxReasonLength, ErrInvalidReason)
	}
	return sanitize.Escape(trimmed), nil
}

// Report records one report per reporter. The report that brings the total
// to ReportThreshold moves an approved or pending comment to spam; later
// reports are stored without another transition.
func (g *Gate) Report(ctx context.Context, commentID, reporterID, reason string) (store.Comment, error) {
	cleaned, err := CleanReason(reason)
	if err != nil {
		return store.Comment{}, err
	}
	return g.store.UpdateComment(ctx, commentID, func(comment *store.Comment) error {
		if comment.Status == store.StatusDeleted {
			return fmt.Errorf("report %s: %w", commentID, ErrCommentDeleted)
		}
		if comment.HasReportFrom(reporterID) {
			return fmt.Errorf("report %s by %s: %w", commentID, reporterID, ErrAlreadyReported)
		}
		comment.Reports = append(comment.Reports, store.Report{
			ReporterID: reporterID,
			Reason:     cleaned,
			ReportedAt: g.now().UTC(),
		})
		if len(comment.Reports) == ReportThreshold && comment.Status != store.StatusSpam {
			return transition(comment, store.StatusSpam)
		}
		return nil
	})
}

// Approve and Reject change status only. Reports stay on the record.
func (g *Gate) Approve(ctx context.Context, commentID string) (store.Comment, error) {
	return g.setStatus(ctx, commentID, store.StatusApproved)
}

func (g *Gate) Reject(ctx context.Context, commentID string) (store.Comment, error) {
	return g.setStatus(ctx, commentID, store.StatusSpam)
}

func (g *Gate) Moderate(ctx context.Context, commentID string, action Action) (store.Comment, error) {
	switch action {
	case ActionApprove:
		return g.Approve(ctx, commentID)
	case ActionReject:
		return g.Reject(ctx, commentID)
	default:
		return store.Comment{}, fmt.Errorf("moderation action %q: %w", action, ErrIllegalTransition)
	}
}

func (g *Gate) setStatus(ctx context.Context, commentID string, to store.Status) (store.Comment, error) {
	return g.store.UpdateComment(ctx, commentID, func(comment *store.Comment) error {
		return transition(comment, to)
	})
}

// SoftDelete marks the comment deleted and blanks its content. authorize
// sees the locked record and can veto with an error. Deleting twice is a
// no-op.
func (g *Gate) SoftDelete(ctx context.Context, commentID string, authorize func(store.Comment) error) (store.Comment, error) {
	return g.store.UpdateComment(ctx, commentID, func(comment *store.Comment) error {
		if authorize != nil {
			if err := authorize(*comment); err != nil {
				return err
			}
		}
		if err := transition(comment, store.StatusDeleted); err != nil {
			return err
		}
		comment.Content = store.DeletedContent
		return nil
	})
}

const purgeAttempts = 3

// Purge hard-deletes rootID and all of its descendants, children before
// parents, and returns the ids removed. A reply that lands mid-purge makes
// its parent's delete fail with store.ErrConflict; the subtree is then
// collected again.
func (g *Gate) Purge(ctx context.Context, rootID string) ([]string, error) {
	if _, err := g.store.GetComment(ctx, rootID); err != nil {
		return nil, err
	}
	removed := make([]string, 0)
	var lastErr error
	for attempt := 0; attempt < purgeAttempts; attempt++ {
		subtree, err := g.collect(ctx, rootID)
		if err != nil {
			return removed, err
		}
		lastErr = nil
		for i := len(subtree) - 1; i >= 0; i-- {
			if err := g.store.DeleteCommentHard(ctx, subtree[i]); err != nil {
				lastErr = err
				break
			}
			removed = append(removed, subtree[i])
		}
		if lastErr == nil {
			return removed, nil
		}
		if !errors.Is(lastErr, store.ErrConflict) {
			return removed, lastErr
		}
	}
	return removed, lastErr
}

// collect returns the subtree under rootID in preorder using an explicit
// stack. Every parent precedes its descendants.
func (g *Gate) collect(ctx context.Context, rootID string) ([]string, error) {
	order := make([]string, 0)
	seen := make(map[string]struct{})
	stack := []string{rootID}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		order = append(order, id)

		children, err := g.store.ListChildComments(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("list replies of %s: %w", id, err)
		}
		for _, child := range children {
			stack = append(stack, child.ID)
		}
	}
	return order, nil
}
