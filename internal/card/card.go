// Package card defines the projection entities of the flashcard store:
// cards with field-scoped merge stamps, decks, and review log entries.
package card

import "time"

// State enumerates the scheduling lifecycle of a card.
type State string

const (
	StateNew        State = "New"
	StateLearning   State = "Learning"
	StateReview     State = "Review"
	StateRelearning State = "Relearning"
)

// Grade enumerates review ratings.
type Grade string

const (
	GradeManual Grade = "Manual"
	GradeAgain  Grade = "Again"
	GradeHard   Grade = "Hard"
	GradeGood   Grade = "Good"
	GradeEasy   Grade = "Easy"
)

// Stamps holds the last-modified timestamp (unix milliseconds of the writing
// client) per independently mergeable field group. A field group is only
// overwritten by operations stamped strictly later than the stored value.
type Stamps struct {
	Scheduling int64
	Content    int64
	Deleted    int64
	Bookmarked int64
	Suspended  int64
	Metadata   int64
}

// Scheduling captures the spaced-repetition state owned by the scheduler.
type Scheduling struct {
	Due           time.Time
	Stability     float64
	Difficulty    float64
	ElapsedDays   int64
	ScheduledDays int64
	Reps          int64
	Lapses        int64
	State         State
	LastReview    *time.Time
}

// Card is the materialized projection entity. A card is never physically
// removed; deletion sets the flag.
type Card struct {
	ID string

	Scheduling Scheduling

	Front string
	Back  string

	Deleted    bool
	Bookmarked bool
	// Suspended is the instant until which the card is hidden from review.
	// The zero time means not suspended.
	Suspended time.Time

	// Sibling grouping for cloze/reverse variants from one source note.
	NoteID     string
	SiblingTag string

	CreatedAt int64
	Stamps    Stamps
}

// Deck groups cards. Decks merge whole-record last-writer-wins, not per field.
type Deck struct {
	ID           string
	Name         string
	Description  string
	Deleted      bool
	LastModified int64
}

// ReviewLog records one grading action. Review logs are append-only and are
// soft-deleted when a grade is undone.
type ReviewLog struct {
	ID     string
	CardID string

	Grade Grade
	State State

	Due             time.Time
	Stability       float64
	Difficulty      float64
	ElapsedDays     int64
	LastElapsedDays int64
	ScheduledDays   int64
	Review          time.Time
	DurationMs      int64

	CreatedAt time.Time
}

// Forever is the suspend-until sentinel for indefinite suspension. Sibling
// burying never shortens a suspension, so a card suspended to Forever stays
// hidden until it is explicitly unsuspended.
var Forever = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)

// Scheduler is the opaque spaced-repetition algorithm: it maps a card and a
// grade to the card's next scheduling state plus a review log entry. The
// algorithm itself is an external collaborator.
type Scheduler interface {
	Grade(current Scheduling, cardID string, grade Grade, now time.Time) (Scheduling, ReviewLog)
}

// NewTemplate returns the zero-value card used when an operation references
// an unknown id: empty content, New state, all merge stamps at zero.
func NewTemplate(id string) Card {
	return Card{
		ID: id,
		Scheduling: Scheduling{
			State: StateNew,
		},
	}
}

// DefaultDeck returns the zero-value deck template for implicit creation.
func DefaultDeck(id string) Deck {
	return Deck{ID: id}
}
