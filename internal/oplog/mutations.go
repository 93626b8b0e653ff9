package oplog

import (
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/spaced/internal/card"
)

// maxReviewDuration caps the recorded time spent answering a card; longer
// gaps mean the reviewer walked away mid-session.
const maxReviewDuration = 2 * time.Minute

// NewCard describes a card to create. DeckID, NoteID and SiblingTag are
// optional.
type NewCard struct {
	Front      string
	Back       string
	DeckID     string
	NoteID     string
	SiblingTag string
}

// CreateCard mints a fresh card due immediately. Creation expands into the
// full set of field-group operations sharing one timestamp: scheduling,
// content, optional deck membership and optional sibling metadata.
func (s *Store) CreateCard(spec NewCard) (card.Card, error) {
	id := s.ids.NewID()
	now := s.clock()
	stamp := now.UnixMilli()

	ops := []Operation{
		CardOperation{
			Payload: CardPayload{
				ID:    id,
				Due:   now,
				State: card.StateNew,
			},
			Timestamp: stamp,
		},
		CardContentOperation{
			Payload:   CardContentPayload{CardID: id, Front: spec.Front, Back: spec.Back},
			Timestamp: stamp,
		},
	}
	if spec.DeckID != "" {
		ops = append(ops, UpdateDeckCardOperation{
			Payload:   UpdateDeckCardPayload{DeckID: spec.DeckID, CardID: id, Count: 1},
			Timestamp: stamp,
		})
	}
	if spec.NoteID != "" || spec.SiblingTag != "" {
		ops = append(ops, CardMetadataOperation{
			Payload:   CardMetadataPayload{CardID: id, NoteID: spec.NoteID, SiblingTag: spec.SiblingTag},
			Timestamp: stamp,
		})
	}

	results, err := s.ApplyLocal(ops...)
	if err != nil {
		return card.Card{}, err
	}
	if !results[0].Applied {
		panic(fmt.Sprintf("oplog: generated card id %q collided with an existing card", id))
	}
	created, _ := s.CardByID(id)
	return created, nil
}

// UpdateContent replaces a card's front and back text.
func (s *Store) UpdateContent(cardID, front, back string) error {
	_, err := s.ApplyLocal(CardContentOperation{
		Payload:   CardContentPayload{CardID: cardID, Front: front, Back: back},
		Timestamp: s.clock().UnixMilli(),
	})
	return err
}

// SetDeleted toggles a card's soft-delete flag.
func (s *Store) SetDeleted(cardID string, deleted bool) error {
	_, err := s.ApplyLocal(CardDeletedOperation{
		Payload:   CardDeletedPayload{CardID: cardID, Deleted: deleted},
		Timestamp: s.clock().UnixMilli(),
	})
	return err
}

// SetBookmarked toggles a card's bookmark flag.
func (s *Store) SetBookmarked(cardID string, bookmarked bool) error {
	_, err := s.ApplyLocal(CardBookmarkedOperation{
		Payload:   CardBookmarkedPayload{CardID: cardID, Bookmarked: bookmarked},
		Timestamp: s.clock().UnixMilli(),
	})
	return err
}

// SetSuspended hides a card from review until the given instant. The zero
// time lifts the suspension; card.Forever suspends indefinitely.
func (s *Store) SetSuspended(cardID string, until time.Time) error {
	_, err := s.ApplyLocal(CardSuspendedOperation{
		Payload:   CardSuspendedPayload{CardID: cardID, Suspended: until},
		Timestamp: s.clock().UnixMilli(),
	})
	return err
}

// CreateDeck mints a new deck.
func (s *Store) CreateDeck(name, description string) (card.Deck, error) {
	id := s.ids.NewID()
	_, err := s.ApplyLocal(DeckOperation{
		Payload:   DeckPayload{ID: id, Name: name, Description: description},
		Timestamp: s.clock().UnixMilli(),
	})
	if err != nil {
		return card.Deck{}, err
	}
	created, _ := s.DeckByID(id)
	return created, nil
}

// UpdateDeck rewrites a deck's name and description. Deck operations carry
// the whole record, so the current deleted flag is re-emitted unchanged.
func (s *Store) UpdateDeck(id, name, description string) error {
	existing, ok := s.DeckByID(id)
	if !ok {
		return fmt.Errorf("oplog: deck %q not found", id)
	}
	_, err := s.ApplyLocal(DeckOperation{
		Payload:   DeckPayload{ID: id, Name: name, Description: description, Deleted: existing.Deleted},
		Timestamp: s.clock().UnixMilli(),
	})
	return err
}

// DeleteDeck soft-deletes a deck. Membership counters are left in place;
// they become irrelevant once the deck is gone.
func (s *Store) DeleteDeck(id string) error {
	existing, ok := s.DeckByID(id)
	if !ok {
		return fmt.Errorf("oplog: deck %q not found", id)
	}
	_, err := s.ApplyLocal(DeckOperation{
		Payload:   DeckPayload{ID: id, Name: existing.Name, Description: existing.Description, Deleted: true},
		Timestamp: s.clock().UnixMilli(),
	})
	return err
}

// ToggleDeckCard flips a card's membership in a deck by bumping the
// monotonic membership counter.
func (s *Store) ToggleDeckCard(deckID, cardID string) error {
	s.mu.Lock()
	count := s.memberships[deckID][cardID] + 1
	s.mu.Unlock()
	_, err := s.ApplyLocal(UpdateDeckCardOperation{
		Payload:   UpdateDeckCardPayload{DeckID: deckID, CardID: cardID, Count: count},
		Timestamp: s.clock().UnixMilli(),
	})
	return err
}

// Grade runs the scheduler for one review, records the review log entry and
// buries live siblings until the next local midnight. Siblings already
// suspended to or past that horizon keep their longer suspension.
func (s *Store) Grade(cardID string, grade card.Grade, duration time.Duration) (card.Card, error) {
	if s.scheduler == nil {
		return card.Card{}, ErrNoScheduler
	}
	before, ok := s.CardByID(cardID)
	if !ok {
		return card.Card{}, fmt.Errorf("%w: %s", ErrCardNotFound, cardID)
	}

	now := s.clock()
	stamp := now.UnixMilli()
	next, entry := s.scheduler.Grade(before.Scheduling, cardID, grade, now)

	if duration < 0 {
		duration = 0
	}
	if duration > maxReviewDuration {
		duration = maxReviewDuration
	}
	entry.ID = s.ids.NewID()
	entry.CardID = cardID
	entry.DurationMs = duration.Milliseconds()
	entry.CreatedAt = now

	ops := []Operation{
		CardOperation{Payload: schedulingPayload(cardID, next), Timestamp: stamp},
		ReviewLogOperation{Payload: reviewLogPayload(entry), Timestamp: stamp},
	}
	buryUntil := nextMidnight(now)
	for _, siblingID := range s.SiblingCardIDs(cardID) {
		sibling, found := s.CardByID(siblingID)
		if !found || !sibling.Suspended.Before(buryUntil) {
			continue
		}
		ops = append(ops, CardSuspendedOperation{
			Payload:   CardSuspendedPayload{CardID: siblingID, Suspended: buryUntil},
			Timestamp: stamp,
		})
	}

	results, err := s.ApplyLocal(ops...)
	if err != nil {
		return card.Card{}, err
	}
	// The scheduling write must win: a rejection here would leave the review
	// history recording a grade the projection never saw.
	if !results[0].Applied {
		panic(fmt.Sprintf("oplog: scheduling write for graded card %q was rejected", cardID))
	}

	s.mu.Lock()
	s.undoStack = append(s.undoStack, undoRecord{before: before, reviewLogID: entry.ID})
	s.mu.Unlock()

	after, _ := s.CardByID(cardID)
	return after, nil
}

// UndoGrade reverts the most recent grade on this client: the review log
// entry is soft-deleted and the card's pre-grade scheduling is re-emitted as
// a fresh operation. Returns false when there is nothing to undo.
func (s *Store) UndoGrade() (bool, error) {
	s.mu.Lock()
	if len(s.undoStack) == 0 {
		s.mu.Unlock()
		return false, nil
	}
	record := s.undoStack[len(s.undoStack)-1]
	s.undoStack = s.undoStack[:len(s.undoStack)-1]
	s.mu.Unlock()

	stamp := s.clock().UnixMilli()
	_, err := s.ApplyLocal(
		ReviewLogDeletedOperation{
			Payload:   ReviewLogDeletedPayload{ReviewLogID: record.reviewLogID, Deleted: true},
			Timestamp: stamp,
		},
		CardOperation{Payload: schedulingPayload(record.before.ID, record.before.Scheduling), Timestamp: stamp},
	)
	if err != nil {
		return false, err
	}
	return true, nil
}

func schedulingPayload(cardID string, scheduling card.Scheduling) CardPayload {
	return CardPayload{
		ID:            cardID,
		Due:           scheduling.Due,
		Stability:     scheduling.Stability,
		Difficulty:    scheduling.Difficulty,
		ElapsedDays:   scheduling.ElapsedDays,
		ScheduledDays: scheduling.ScheduledDays,
		Reps:          scheduling.Reps,
		Lapses:        scheduling.Lapses,
		State:         scheduling.State,
		LastReview:    scheduling.LastReview,
	}
}

func reviewLogPayload(entry card.ReviewLog) ReviewLogPayload {
	return ReviewLogPayload{
		ID:              entry.ID,
		CardID:          entry.CardID,
		Grade:           entry.Grade,
		State:           entry.State,
		Due:             entry.Due,
		Stability:       entry.Stability,
		Difficulty:      entry.Difficulty,
		ElapsedDays:     entry.ElapsedDays,
		LastElapsedDays: entry.LastElapsedDays,
		ScheduledDays:   entry.ScheduledDays,
		Review:          entry.Review,
		DurationMs:      entry.DurationMs,
		CreatedAt:       entry.CreatedAt,
	}
}

func nextMidnight(now time.Time) time.Time {
	year, month, day := now.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
}
