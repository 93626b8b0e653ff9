package oplog

import (
	"fmt"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/spaced/internal/card"
)

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

type seqIDs struct {
	n int
}

func (p *seqIDs) NewID() string {
	p.n++
	return fmt.Sprintf("id-%02d", p.n)
}

type stubScheduler struct{}

func (stubScheduler) Grade(current card.Scheduling, cardID string, grade card.Grade, now time.Time) (card.Scheduling, card.ReviewLog) {
	next := current
	next.Reps++
	next.State = card.StateReview
	next.Due = now.Add(24 * time.Hour)
	reviewed := now
	next.LastReview = &reviewed
	return next, card.ReviewLog{
		CardID: cardID,
		Grade:  grade,
		State:  current.State,
		Due:    next.Due,
		Review: now,
	}
}

func newTestStore(t *testing.T, clock *fixedClock) *Store {
	t.Helper()
	store, err := New(Config{
		Log:        NewMemoryLog(),
		Pending:    NewMemoryPending(),
		ReviewLogs: NewMemoryLog(),
		Meta:       NewMemoryMeta(),
		Clock:      clock.Now,
		IDProvider: &seqIDs{},
		Scheduler:  stubScheduler{},
	})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func cardOp(id string, stamp int64) CardOperation {
	return CardOperation{
		Payload:   CardPayload{ID: id, Due: time.UnixMilli(stamp), State: card.StateNew},
		Timestamp: stamp,
	}
}

func contentOp(id, front, back string, stamp int64) CardContentOperation {
	return CardContentOperation{
		Payload:   CardContentPayload{CardID: id, Front: front, Back: back},
		Timestamp: stamp,
	}
}

func TestApplyRejectsStaleAndEqualTimestamps(t *testing.T) {
	clock := &fixedClock{now: time.UnixMilli(0)}
	store := newTestStore(t, clock)

	if got := store.Apply(cardOp("c1", 100)); !got.Applied {
		t.Fatalf("initial operation not applied")
	}

	testCases := []struct {
		name        string
		stamp       int64
		wantApplied bool
	}{
		{name: "older", stamp: 99, wantApplied: false},
		{name: "equal", stamp: 100, wantApplied: false},
		{name: "newer", stamp: 101, wantApplied: true},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			got := store.Apply(cardOp("c1", testCase.stamp))
			if got.Applied != testCase.wantApplied {
				t.Fatalf("applied = %v, want %v", got.Applied, testCase.wantApplied)
			}
		})
	}
}

func TestFieldGroupsMergeIndependently(t *testing.T) {
	clock := &fixedClock{now: time.UnixMilli(0)}
	store := newTestStore(t, clock)

	if got := store.Apply(cardOp("c1", 200)); !got.Applied {
		t.Fatalf("scheduling operation not applied")
	}
	// Content was never written, so an older stamp still lands.
	if got := store.Apply(contentOp("c1", "front", "back", 150)); !got.Applied {
		t.Fatalf("content operation not applied")
	}
	// The same stamp is stale for the scheduling group.
	if got := store.Apply(cardOp("c1", 150)); got.Applied {
		t.Fatalf("stale scheduling operation applied")
	}

	projected, ok := store.CardByID("c1")
	if !ok {
		t.Fatalf("card missing from projection")
	}
	if projected.Front != "front" || projected.Back != "back" {
		t.Fatalf("content = %q/%q, want front/back", projected.Front, projected.Back)
	}
	if projected.Stamps.Scheduling != 200 || projected.Stamps.Content != 150 {
		t.Fatalf("stamps = %+v", projected.Stamps)
	}
}

func TestUnknownIDCreatesFromTemplate(t *testing.T) {
	clock := &fixedClock{now: time.UnixMilli(0)}
	store := newTestStore(t, clock)

	got := store.Apply(CardBookmarkedOperation{
		Payload:   CardBookmarkedPayload{CardID: "ghost", Bookmarked: true},
		Timestamp: 50,
	})
	if !got.Applied {
		t.Fatalf("operation on unknown id not applied")
	}

	created, ok := store.CardByID("ghost")
	if !ok {
		t.Fatalf("card not created")
	}
	if !created.Bookmarked {
		t.Fatalf("bookmark flag not set")
	}
	if created.Scheduling.State != card.StateNew {
		t.Fatalf("state = %q, want %q", created.Scheduling.State, card.StateNew)
	}
	if created.Stamps.Bookmarked != 50 || created.Stamps.Scheduling != 0 {
		t.Fatalf("stamps = %+v", created.Stamps)
	}

	// A later scheduling write still applies against the template.
	if got := store.Apply(cardOp("ghost", 60)); !got.Applied {
		t.Fatalf("follow-up scheduling operation not applied")
	}
}

func TestDeckMembershipCounter(t *testing.T) {
	clock := &fixedClock{now: time.UnixMilli(0)}
	store := newTestStore(t, clock)

	store.Apply(cardOp("c1", 10))
	membership := func(count int64, stamp int64) ApplyResult {
		return store.Apply(UpdateDeckCardOperation{
			Payload:   UpdateDeckCardPayload{DeckID: "d1", CardID: "c1", Count: count},
			Timestamp: stamp,
		})
	}

	if got := membership(1, 20); !got.Applied {
		t.Fatalf("count 1 not applied")
	}
	if cards := store.CardsForDeck("d1"); len(cards) != 1 {
		t.Fatalf("deck has %d cards, want 1", len(cards))
	}

	if got := membership(2, 30); !got.Applied {
		t.Fatalf("count 2 not applied")
	}
	if cards := store.CardsForDeck("d1"); len(cards) != 0 {
		t.Fatalf("deck has %d cards after removal, want 0", len(cards))
	}

	// Redelivery of the older count loses to the higher stored value.
	if got := membership(1, 40); got.Applied {
		t.Fatalf("stale count 1 applied over stored count 2")
	}

	if got := membership(3, 50); !got.Applied {
		t.Fatalf("count 3 not applied")
	}
	if cards := store.CardsForDeck("d1"); len(cards) != 1 {
		t.Fatalf("deck has %d cards after re-add, want 1", len(cards))
	}
}

func TestDeckAndSiblingViewsTrackMutations(t *testing.T) {
	clock := &fixedClock{now: time.UnixMilli(0)}
	store := newTestStore(t, clock)

	store.Apply(cardOp("c1", 10))
	store.Apply(cardOp("c2", 11))
	for _, id := range []string{"c1", "c2"} {
		store.Apply(CardMetadataOperation{
			Payload:   CardMetadataPayload{CardID: id, NoteID: "note", SiblingTag: id},
			Timestamp: 12,
		})
		store.Apply(UpdateDeckCardOperation{
			Payload:   UpdateDeckCardPayload{DeckID: "d1", CardID: id, Count: 1},
			Timestamp: 12,
		})
	}

	first := store.CardsForDeck("d1")
	if len(first) != 2 {
		t.Fatalf("deck has %d cards, want 2", len(first))
	}
	// Writes through a returned slice must not leak into later reads.
	first[0].Front = "scribbled"
	if again := store.CardsForDeck("d1"); again[0].Front == "scribbled" {
		t.Fatalf("returned slice aliases the stored snapshot")
	}

	if got := store.SiblingCardIDs("c1"); len(got) != 1 || got[0] != "c2" {
		t.Fatalf("siblings = %v, want [c2]", got)
	}

	store.Apply(CardDeletedOperation{
		Payload:   CardDeletedPayload{CardID: "c2", Deleted: true},
		Timestamp: 20,
	})
	if cards := store.CardsForDeck("d1"); len(cards) != 1 || cards[0].ID != "c1" {
		t.Fatalf("deck after delete = %+v, want only c1", cards)
	}
	if got := store.SiblingCardIDs("c1"); len(got) != 0 {
		t.Fatalf("siblings after delete = %v, want none", got)
	}
}

func TestCardsExcludesDeleted(t *testing.T) {
	clock := &fixedClock{now: time.UnixMilli(0)}
	store := newTestStore(t, clock)

	store.Apply(cardOp("c1", 10))
	store.Apply(cardOp("c2", 11))
	store.Apply(CardDeletedOperation{
		Payload:   CardDeletedPayload{CardID: "c1", Deleted: true},
		Timestamp: 12,
	})

	cards := store.Cards()
	if len(cards) != 1 || cards[0].ID != "c2" {
		t.Fatalf("cards = %+v, want only c2", cards)
	}
	if _, ok := store.CardByID("c1"); !ok {
		t.Fatalf("deleted card should stay reachable by id")
	}
}

func TestApplyRemoteAdvancesCursorAndSkipsRedelivery(t *testing.T) {
	clock := &fixedClock{now: time.UnixMilli(0)}
	store := newTestStore(t, clock)

	notifications := 0
	unsubscribe := store.Subscribe(func() { notifications++ })
	defer unsubscribe()

	batch := []Sequenced{
		{Op: cardOp("c1", 100), SeqNo: 1},
		{Op: contentOp("c1", "f", "b", 100), SeqNo: 2},
	}
	if err := store.ApplyRemote(batch); err != nil {
		t.Fatalf("apply remote: %v", err)
	}
	if got := store.LastSeqNo(); got != 2 {
		t.Fatalf("lastSeqNo = %d, want 2", got)
	}
	if notifications != 1 {
		t.Fatalf("notifications = %d, want 1 per batch", notifications)
	}

	// Redelivering the same batch is a no-op, including the listener.
	if err := store.ApplyRemote(batch); err != nil {
		t.Fatalf("apply remote redelivery: %v", err)
	}
	if got := store.LastSeqNo(); got != 2 {
		t.Fatalf("lastSeqNo after redelivery = %d, want 2", got)
	}
	if notifications != 1 {
		t.Fatalf("notifications after redelivery = %d, want 1", notifications)
	}

	// A rejected payload still advances the cursor past its seqNo.
	stale := []Sequenced{{Op: cardOp("c1", 90), SeqNo: 3}}
	if err := store.ApplyRemote(stale); err != nil {
		t.Fatalf("apply remote stale: %v", err)
	}
	if got := store.LastSeqNo(); got != 3 {
		t.Fatalf("lastSeqNo after stale payload = %d, want 3", got)
	}
}

func TestApplyLocalNotifiesOncePerBatch(t *testing.T) {
	clock := &fixedClock{now: time.UnixMilli(0)}
	store := newTestStore(t, clock)

	notifications := 0
	unsubscribe := store.Subscribe(func() { notifications++ })
	defer unsubscribe()

	_, err := store.ApplyLocal(
		cardOp("c1", 10),
		contentOp("c1", "f", "b", 10),
		cardOp("c2", 11),
	)
	if err != nil {
		t.Fatalf("apply local: %v", err)
	}
	if notifications != 1 {
		t.Fatalf("notifications = %d, want 1", notifications)
	}

	// A batch where every operation is stale changes nothing and stays quiet.
	if _, err := store.ApplyLocal(cardOp("c1", 5)); err != nil {
		t.Fatalf("apply local stale: %v", err)
	}
	if notifications != 1 {
		t.Fatalf("notifications after stale batch = %d, want 1", notifications)
	}
}

func TestReplayRebuildsProjection(t *testing.T) {
	clock := &fixedClock{now: time.UnixMilli(1000)}
	log := NewMemoryLog()
	meta := NewMemoryMeta()

	first, err := New(Config{
		Log:        log,
		Pending:    NewMemoryPending(),
		ReviewLogs: NewMemoryLog(),
		Meta:       meta,
		Clock:      clock.Now,
		IDProvider: &seqIDs{},
	})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, err := first.ApplyLocal(
		cardOp("c1", 10),
		contentOp("c1", "front", "back", 10),
	); err != nil {
		t.Fatalf("apply local: %v", err)
	}
	if err := first.ApplyRemote([]Sequenced{{Op: cardOp("c2", 20), SeqNo: 7}}); err != nil {
		t.Fatalf("apply remote: %v", err)
	}

	second, err := New(Config{
		Log:        log,
		Pending:    NewMemoryPending(),
		ReviewLogs: NewMemoryLog(),
		Meta:       meta,
		Clock:      clock.Now,
		IDProvider: &seqIDs{},
	})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := second.Replay(); err != nil {
		t.Fatalf("replay: %v", err)
	}

	if got := second.LastSeqNo(); got != 7 {
		t.Fatalf("lastSeqNo = %d, want 7", got)
	}
	cards := second.Cards()
	if len(cards) != 2 {
		t.Fatalf("replayed %d cards, want 2", len(cards))
	}
	replayed, ok := second.CardByID("c1")
	if !ok || replayed.Front != "front" {
		t.Fatalf("replayed card = %+v", replayed)
	}
}
