package oplog

import (
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/spaced/internal/card"
)

func TestCreateCardExpandsCreationOperations(t *testing.T) {
	clock := &fixedClock{now: time.UnixMilli(5000)}
	store := newTestStore(t, clock)

	created, err := store.CreateCard(NewCard{
		Front:      "question",
		Back:       "answer",
		DeckID:     "d1",
		NoteID:     "n1",
		SiblingTag: "c1",
	})
	if err != nil {
		t.Fatalf("create card: %v", err)
	}
	if created.Front != "question" || created.Back != "answer" {
		t.Fatalf("created card content = %q/%q", created.Front, created.Back)
	}
	if created.NoteID != "n1" || created.SiblingTag != "c1" {
		t.Fatalf("created card metadata = %q/%q", created.NoteID, created.SiblingTag)
	}
	if created.Scheduling.State != card.StateNew {
		t.Fatalf("state = %q, want %q", created.Scheduling.State, card.StateNew)
	}
	if !created.Scheduling.Due.Equal(clock.Now()) {
		t.Fatalf("due = %v, want creation instant", created.Scheduling.Due)
	}

	if cards := store.CardsForDeck("d1"); len(cards) != 1 || cards[0].ID != created.ID {
		t.Fatalf("deck membership not established: %+v", cards)
	}

	queued, err := store.Pending().List()
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	wantKinds := []Kind{KindCard, KindCardContent, KindUpdateDeckCard, KindCardMetadata}
	if len(queued) != len(wantKinds) {
		t.Fatalf("queued %d operations, want %d", len(queued), len(wantKinds))
	}
	for i, item := range queued {
		if item.Op.OperationKind() != wantKinds[i] {
			t.Fatalf("queued[%d] kind = %q, want %q", i, item.Op.OperationKind(), wantKinds[i])
		}
		if item.Op.OperationTime() != clock.Now().UnixMilli() {
			t.Fatalf("queued[%d] timestamp = %d, want shared creation stamp", i, item.Op.OperationTime())
		}
	}
}

type collidingIDs struct{}

func (collidingIDs) NewID() string { return "same" }

func TestCreateCardPanicsOnIDCollision(t *testing.T) {
	clock := &fixedClock{now: time.UnixMilli(5000)}
	store, err := New(Config{
		Log:        NewMemoryLog(),
		Pending:    NewMemoryPending(),
		ReviewLogs: NewMemoryLog(),
		Meta:       NewMemoryMeta(),
		Clock:      clock.Now,
		IDProvider: collidingIDs{},
	})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, err := store.CreateCard(NewCard{Front: "a", Back: "b"}); err != nil {
		t.Fatalf("first create: %v", err)
	}

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on id collision")
		}
	}()
	_, _ = store.CreateCard(NewCard{Front: "c", Back: "d"})
}

func TestGradeClampsDurationAndBuriesSiblings(t *testing.T) {
	clock := &fixedClock{now: time.Date(2026, time.March, 10, 15, 0, 0, 0, time.UTC)}
	store := newTestStore(t, clock)

	stamp := clock.Now().UnixMilli()
	siblings := []struct {
		id        string
		suspended time.Time
	}{
		{id: "c1"},
		{id: "c2"},
		{id: "c3", suspended: card.Forever},
	}
	for _, s := range siblings {
		store.Apply(cardOp(s.id, stamp))
		store.Apply(CardMetadataOperation{
			Payload:   CardMetadataPayload{CardID: s.id, NoteID: "note", SiblingTag: s.id},
			Timestamp: stamp,
		})
		if !s.suspended.IsZero() {
			store.Apply(CardSuspendedOperation{
				Payload:   CardSuspendedPayload{CardID: s.id, Suspended: s.suspended},
				Timestamp: stamp,
			})
		}
	}

	clock.Advance(time.Minute)
	graded, err := store.Grade("c1", card.GradeGood, 10*time.Minute)
	if err != nil {
		t.Fatalf("grade: %v", err)
	}
	if graded.Scheduling.Reps != 1 || graded.Scheduling.State != card.StateReview {
		t.Fatalf("graded scheduling = %+v", graded.Scheduling)
	}

	entries, err := store.ReviewLogEntries()
	if err != nil {
		t.Fatalf("review log entries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("review log has %d entries, want 1", len(entries))
	}
	if entries[0].DurationMs != maxReviewDuration.Milliseconds() {
		t.Fatalf("duration = %dms, want clamped to %dms", entries[0].DurationMs, maxReviewDuration.Milliseconds())
	}

	wantBury := time.Date(2026, time.March, 11, 0, 0, 0, 0, time.UTC)
	buried, _ := store.CardByID("c2")
	if !buried.Suspended.Equal(wantBury) {
		t.Fatalf("sibling suspended until %v, want %v", buried.Suspended, wantBury)
	}
	kept, _ := store.CardByID("c3")
	if !kept.Suspended.Equal(card.Forever) {
		t.Fatalf("indefinitely suspended sibling shortened to %v", kept.Suspended)
	}
}

func TestGradePanicsWhenSchedulingWriteIsStale(t *testing.T) {
	clock := &fixedClock{now: time.UnixMilli(5000)}
	store := newTestStore(t, clock)

	// Same-millisecond scheduling write: the grade's CardOperation carries an
	// equal stamp and loses the merge.
	store.Apply(cardOp("c1", clock.Now().UnixMilli()))

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic when the grade's scheduling write is rejected")
		}
	}()
	_, _ = store.Grade("c1", card.GradeGood, time.Second)
}

func TestUndoGradeRestoresSchedulingAndDeletesLog(t *testing.T) {
	clock := &fixedClock{now: time.UnixMilli(10_000)}
	store := newTestStore(t, clock)

	store.Apply(cardOp("c1", clock.Now().UnixMilli()))
	before, _ := store.CardByID("c1")

	clock.Advance(time.Second)
	if _, err := store.Grade("c1", card.GradeAgain, time.Second); err != nil {
		t.Fatalf("grade: %v", err)
	}

	clock.Advance(time.Second)
	undone, err := store.UndoGrade()
	if err != nil {
		t.Fatalf("undo: %v", err)
	}
	if !undone {
		t.Fatalf("undo reported nothing to revert")
	}

	restored, _ := store.CardByID("c1")
	if restored.Scheduling.Reps != before.Scheduling.Reps {
		t.Fatalf("reps = %d, want %d", restored.Scheduling.Reps, before.Scheduling.Reps)
	}
	if restored.Scheduling.State != before.Scheduling.State {
		t.Fatalf("state = %q, want %q", restored.Scheduling.State, before.Scheduling.State)
	}

	entries, err := store.ReviewLogEntries()
	if err != nil {
		t.Fatalf("review log entries: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("review log has %d entries after undo, want 0", len(entries))
	}

	if undone, _ := store.UndoGrade(); undone {
		t.Fatalf("second undo should report an empty stack")
	}
}
