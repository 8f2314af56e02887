// Package vote keeps per-comment upvoter and downvoter sets.
package vote

import (
	"context"
	"errors"
	"fmt"

	"clinchem/api/internal/store"
)

type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

var (
	ErrInvalidDirection = errors.New("invalid vote direction")
	ErrDeletedComment   = errors.New("comment is deleted")
)

func ParseDirection(value string) (Direction, error) {
	switch Direction(value) {
	case Up, Down:
		return Direction(value), nil
	default:
		return "", fmt.Errorf("%q: %w", value, ErrInvalidDirection)
	}
}

// Tally is the result of a vote change as the voter sees it. Direction is
// empty when the voter holds no vote.
type Tally struct {
	Score     int
	Direction Direction
}

func TallyOf(comment store.Comment, voterID string) Tally {
	return Tally{Score: comment.Score(), Direction: Direction(comment.VoteOf(voterID))}
}

// Apply toggles voterID on comment in place. Repeating the current
// direction clears the vote; the opposite direction moves the voter across.
func Apply(comment *store.Comment, voterID string, direction Direction) {
	ensureSets(comment)
	previous := Direction(comment.VoteOf(voterID))
	comment.Upvoters.Remove(voterID)
	comment.Downvoters.Remove(voterID)
	if previous == direction {
		return
	}
	if direction == Up {
		comment.Upvoters[voterID] = struct{}{}
	} else {
		comment.Downvoters[voterID] = struct{}{}
	}
}

// Clear drops voterID from both sets and reports whether anything changed.
func Clear(comment *store.Comment, voterID string) bool {
	ensureSets(comment)
	removedUp := comment.Upvoters.Remove(voterID)
	removedDown := comment.Downvoters.Remove(voterID)
	return removedUp || removedDown
}

func ensureSets(comment *store.Comment) {
	if comment.Upvoters == nil {
		comment.Upvoters = store.VoterSet{}
	}
	if comment.Downvoters == nil {
		comment.Downvoters = store.VoterSet{}
	}
}

type commentUpdater interface {
	UpdateComment(ctx context.Context, id string, mutate func(*store.Comment) error) (store.Comment, error)
}

// Ledger applies vote changes as a single read-modify-write per comment.
type Ledger struct {
	store commentUpdater
}

func NewLedger(s commentUpdater) *Ledger {
	return &Ledger{store: s}
}

func (l *Ledger) Toggle(ctx context.Context, commentID, voterID string, direction Direction) (store.Comment, Tally, error) {
	if _, err := ParseDirection(string(direction)); err != nil {
		return store.Comment{}, Tally{}, err
	}
	updated, err := l.store.UpdateComment(ctx, commentID, func(comment *store.Comment) error {
		if comment.Status == store.StatusDeleted {
			return fmt.Errorf("vote on %s: %w", commentID, ErrDeletedComment)
		}
		Apply(comment, voterID, direction)
		return nil
	})
	if err != nil {
		return store.Comment{}, Tally{}, err
	}
	return updated, TallyOf(updated, voterID), nil
}

func (l *Ledger) Remove(ctx context.Context, commentID, voterID string) (store.Comment, Tally, error) {
	updated, err := l.store.UpdateComment(ctx, commentID, func(comment *store.Comment) error {
		if comment.Status == store.StatusDeleted {
			return fmt.Errorf("unvote on %s: %w", commentID, ErrDeletedComment)
		}
		Clear(comment, voterID)
		return nil
	})
	if err != nil {
		return store.Comment{}, Tally{}, err
	}
	return updated, TallyOf(updated, voterID), nil
}
