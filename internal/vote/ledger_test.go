package vote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"clinchem/api/internal/store"
)

func newLedgerWithComment(t *testing.T) (*Ledger, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore()
	s.PutArticle(store.Article{ID: "art_1", Slug: "sodium"})
	if _, err := s.InsertComment(context.Background(), store.Comment{
		ID:        "cmt_1",
		ArticleID: "art_1",
		AuthorID:  "usr_author",
		Content:   "Sodium reference range?",
		Status:    store.StatusApproved,
	}); err != nil {
		t.Fatalf("seed comment: %v", err)
	}
	return NewLedger(s), s
}

func TestApplyToggleIsInvolution(t *testing.T) {
	comment := store.Comment{ID: "cmt_1"}
	Apply(&comment, "usr_a", Up)
	if comment.Score() != 1 || comment.VoteOf("usr_a") != "up" {
		t.Fatalf("expected upvote, got score=%d vote=%q", comment.Score(), comment.VoteOf("usr_a"))
	}
	Apply(&comment, "usr_a", Up)
	if comment.Score() != 0 || comment.VoteOf("usr_a") != "" {
		t.Fatalf("expected neutral after second upvote, got score=%d vote=%q", comment.Score(), comment.VoteOf("usr_a"))
	}
}

func TestApplySwitchMovesVoterBetweenSets(t *testing.T) {
	comment := store.Comment{ID: "cmt_1", Upvoters: store.NewVoterSet("usr_x")}
	Apply(&comment, "usr_a", Down)
	before := comment.Score()
	Apply(&comment, "usr_a", Up)
	if delta := comment.Score() - before; delta != 2 {
		t.Fatalf("expected score delta 2, got %d", delta)
	}
	if comment.Downvoters.Has("usr_a") || !comment.Upvoters.Has("usr_a") {
		t.Fatalf("voter present in wrong set: up=%v down=%v", comment.Upvoters, comment.Downvoters)
	}
}

func TestClearRemovesFromBothSets(t *testing.T) {
	comment := store.Comment{ID: "cmt_1", Downvoters: store.NewVoterSet("usr_a")}
	if !Clear(&comment, "usr_a") {
		t.Fatal("expected Clear to report a change")
	}
	if Clear(&comment, "usr_a") {
		t.Fatal("second Clear should be a no-op")
	}
	if comment.Score() != 0 {
		t.Fatalf("expected score 0, got %d", comment.Score())
	}
}

func TestParseDirection(t *testing.T) {
	if got, err := ParseDirection("down"); err != nil || got != Down {
		t.Fatalf("ParseDirection(down) = %q, %v", got, err)
	}
	if _, err := ParseDirection("sideways"); !errors.Is(err, ErrInvalidDirection) {
		t.Fatalf("expected ErrInvalidDirection, got %v", err)
	}
}

func TestLedgerToggleReturnsTally(t *testing.T) {
	ledger, _ := newLedgerWithComment(t)
	ctx := context.Background()

	_, tally, err := ledger.Toggle(ctx, "cmt_1", "usr_a", Up)
	if err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	if tally.Score != 1 || tally.Direction != Up {
		t.Fatalf("unexpected tally %+v", tally)
	}

	_, tally, err = ledger.Toggle(ctx, "cmt_1", "usr_a", Down)
	if err != nil {
		t.Fatalf("Toggle down: %v", err)
	}
	if tally.Score != -1 || tally.Direction != Down {
		t.Fatalf("unexpected tally after switch %+v", tally)
	}

	_, tally, err = ledger.Remove(ctx, "cmt_1", "usr_a")
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if tally.Score != 0 || tally.Direction != "" {
		t.Fatalf("unexpected tally after remove %+v", tally)
	}
}

func TestLedgerRejectsDeletedComment(t *testing.T) {
	ledger, s := newLedgerWithComment(t)
	ctx := context.Background()
	if _, err := s.UpdateComment(ctx, "cmt_1", func(c *store.Comment) error {
		c.Status = store.StatusDeleted
		return nil
	}); err != nil {
		t.Fatalf("mark deleted: %v", err)
	}
	if _, _, err := ledger.Toggle(ctx, "cmt_1", "usr_a", Up); !errors.Is(err, ErrDeletedComment) {
		t.Fatalf("expected ErrDeletedComment, got %v", err)
	}
}

func TestLedgerMissingCommentIsNotFound(t *testing.T) {
	ledger, _ := newLedgerWithComment(t)
	if _, _, err := ledger.Toggle(context.Background(), "cmt_missing", "usr_a", Up); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLedgerConcurrentVotersAreNotLost(t *testing.T) {
	ledger, s := newLedgerWithComment(t)
	ctx := context.Background()

	const voters = 64
	var wg sync.WaitGroup
	for i := 0; i < voters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			direction := Up
			if i%4 == 0 {
				direction = Down
			}
			if _, _, err := ledger.Toggle(ctx, "cmt_1", fmt.Sprintf("usr_%02d", i), direction); err != nil {
				t.Errorf("Toggle: %v", err)
			}
		}(i)
	}
	wg.Wait()

	got, err := s.GetComment(ctx, "cmt_1")
	if err != nil {
		t.Fatalf("GetComment: %v", err)
	}
	if len(got.Upvoters) != 48 || len(got.Downvoters) != 16 {
		t.Fatalf("lost votes: up=%d down=%d", len(got.Upvoters), len(got.Downvoters))
	}
	if got.Score() != 32 {
		t.Fatalf("expected score 32, got %d", got.Score())
	}
}
