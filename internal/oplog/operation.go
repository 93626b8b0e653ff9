// Package oplog implements the client's append-only operation log and the
// in-memory projection derived from it. Every mutation is expressed as an
// immutable, timestamped operation; the projection folds operations with
// field-scoped last-writer-wins merge, so replaying or re-receiving an
// operation is always safe.
package oplog

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/spaced/internal/card"
)

// Kind tags the operation union.
type Kind string

const (
	KindCard             Kind = "card"
	KindCardContent      Kind = "cardContent"
	KindCardDeleted      Kind = "cardDeleted"
	KindCardBookmarked   Kind = "cardBookmarked"
	KindCardSuspended    Kind = "cardSuspended"
	KindCardMetadata     Kind = "cardMetadata"
	KindDeck             Kind = "deck"
	KindUpdateDeckCard   Kind = "updateDeckCard"
	KindReviewLog        Kind = "reviewLog"
	KindReviewLogDeleted Kind = "reviewLogDeleted"
)

// ErrUnknownOperationKind indicates a wire payload whose type tag is not part
// of the operation union. This is only ever returned at decode boundaries;
// an unknown kind reaching the apply path is a programming error and panics.
var ErrUnknownOperationKind = errors.New("oplog: unknown operation kind")

// Operation is one atomic mutation intent. Operations are immutable once
// created; they are superseded by later operations, never edited. The
// interface is sealed: the set of variants is closed.
type Operation interface {
	OperationKind() Kind
	// OperationTime is the creating client's wall clock in unix milliseconds.
	OperationTime() int64
	sealed()
}

// CardPayload carries the scheduling field group.
type CardPayload struct {
	ID            string     `json:"id"`
	Due           time.Time  `json:"due"`
	Stability     float64    `json:"stability"`
	Difficulty    float64    `json:"difficulty"`
	ElapsedDays   int64      `json:"elapsed_days"`
	ScheduledDays int64      `json:"scheduled_days"`
	Reps          int64      `json:"reps"`
	Lapses        int64      `json:"lapses"`
	State         card.State `json:"state"`
	LastReview    *time.Time `json:"last_review"`
}

// CardContentPayload carries the front/back text field group.
type CardContentPayload struct {
	CardID string `json:"cardId"`
	Front  string `json:"front"`
	Back   string `json:"back"`
}

// CardDeletedPayload toggles the soft-delete flag.
type CardDeletedPayload struct {
	CardID  string `json:"cardId"`
	Deleted bool   `json:"deleted"`
}

// CardBookmarkedPayload toggles the bookmark flag.
type CardBookmarkedPayload struct {
	CardID     string `json:"cardId"`
	Bookmarked bool   `json:"bookmarked"`
}

// CardSuspendedPayload sets the suspend-until instant.
type CardSuspendedPayload struct {
	CardID    string    `json:"cardId"`
	Suspended time.Time `json:"suspended"`
}

// CardMetadataPayload carries sibling grouping metadata.
type CardMetadataPayload struct {
	CardID     string `json:"cardId"`
	NoteID     string `json:"noteId"`
	SiblingTag string `json:"siblingTag"`
}

// DeckPayload carries a whole deck record.
type DeckPayload struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Deleted     bool   `json:"deleted"`
}

// UpdateDeckCardPayload adjusts deck membership via a monotonic counter;
// odd counts mean member.
type UpdateDeckCardPayload struct {
	DeckID string `json:"deckId"`
	CardID string `json:"cardId"`
	Count  int64  `json:"clCount"`
}

// ReviewLogPayload records one grading action.
type ReviewLogPayload struct {
	ID     string `json:"id"`
	CardID string `json:"cardId"`

	Grade card.Grade `json:"grade"`
	State card.State `json:"state"`

	Due             time.Time `json:"due"`
	Stability       float64   `json:"stability"`
	Difficulty      float64   `json:"difficulty"`
	ElapsedDays     int64     `json:"elapsed_days"`
	LastElapsedDays int64     `json:"last_elapsed_days"`
	ScheduledDays   int64     `json:"scheduled_days"`
	Review          time.Time `json:"review"`
	DurationMs      int64     `json:"duration"`

	CreatedAt time.Time `json:"createdAt"`
}

// ReviewLogDeletedPayload soft-deletes a review log entry (grade undo).
type ReviewLogDeletedPayload struct {
	ReviewLogID string `json:"reviewLogId"`
	Deleted     bool   `json:"deleted"`
}

// CardOperation updates the scheduling field group.
type CardOperation struct {
	Payload   CardPayload
	Timestamp int64
}

// CardContentOperation updates the content field group.
type CardContentOperation struct {
	Payload   CardContentPayload
	Timestamp int64
}

// CardDeletedOperation updates the deleted flag.
type CardDeletedOperation struct {
	Payload   CardDeletedPayload
	Timestamp int64
}

// CardBookmarkedOperation updates the bookmark flag.
type CardBookmarkedOperation struct {
	Payload   CardBookmarkedPayload
	Timestamp int64
}

// CardSuspendedOperation updates the suspend-until instant.
type CardSuspendedOperation struct {
	Payload   CardSuspendedPayload
	Timestamp int64
}

// CardMetadataOperation updates sibling grouping metadata.
type CardMetadataOperation struct {
	Payload   CardMetadataPayload
	Timestamp int64
}

// DeckOperation upserts a deck record.
type DeckOperation struct {
	Payload   DeckPayload
	Timestamp int64
}

// UpdateDeckCardOperation adjusts deck membership.
type UpdateDeckCardOperation struct {
	Payload   UpdateDeckCardPayload
	Timestamp int64
}

// ReviewLogOperation appends a review log entry.
type ReviewLogOperation struct {
	Payload   ReviewLogPayload
	Timestamp int64
}

// ReviewLogDeletedOperation soft-deletes a review log entry.
type ReviewLogDeletedOperation struct {
	Payload   ReviewLogDeletedPayload
	Timestamp int64
}

func (CardOperation) OperationKind() Kind             { return KindCard }
func (CardContentOperation) OperationKind() Kind      { return KindCardContent }
func (CardDeletedOperation) OperationKind() Kind      { return KindCardDeleted }
func (CardBookmarkedOperation) OperationKind() Kind   { return KindCardBookmarked }
func (CardSuspendedOperation) OperationKind() Kind    { return KindCardSuspended }
func (CardMetadataOperation) OperationKind() Kind     { return KindCardMetadata }
func (DeckOperation) OperationKind() Kind             { return KindDeck }
func (UpdateDeckCardOperation) OperationKind() Kind   { return KindUpdateDeckCard }
func (ReviewLogOperation) OperationKind() Kind        { return KindReviewLog }
func (ReviewLogDeletedOperation) OperationKind() Kind { return KindReviewLogDeleted }

func (op CardOperation) OperationTime() int64             { return op.Timestamp }
func (op CardContentOperation) OperationTime() int64      { return op.Timestamp }
func (op CardDeletedOperation) OperationTime() int64      { return op.Timestamp }
func (op CardBookmarkedOperation) OperationTime() int64   { return op.Timestamp }
func (op CardSuspendedOperation) OperationTime() int64    { return op.Timestamp }
func (op CardMetadataOperation) OperationTime() int64     { return op.Timestamp }
func (op DeckOperation) OperationTime() int64             { return op.Timestamp }
func (op UpdateDeckCardOperation) OperationTime() int64   { return op.Timestamp }
func (op ReviewLogOperation) OperationTime() int64        { return op.Timestamp }
func (op ReviewLogDeletedOperation) OperationTime() int64 { return op.Timestamp }

func (CardOperation) sealed()             {}
func (CardContentOperation) sealed()      {}
func (CardDeletedOperation) sealed()      {}
func (CardBookmarkedOperation) sealed()   {}
func (CardSuspendedOperation) sealed()    {}
func (CardMetadataOperation) sealed()     {}
func (DeckOperation) sealed()             {}
func (UpdateDeckCardOperation) sealed()   {}
func (ReviewLogOperation) sealed()        {}
func (ReviewLogDeletedOperation) sealed() {}

// Sequenced pairs an operation with its server-assigned sequence number.
// Sequence numbers are assigned only by the remote side; the client never
// invents them.
type Sequenced struct {
	Op    Operation
	SeqNo int64
}

type envelope struct {
	Type      Kind            `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
	SeqNo     int64           `json:"seqNo,omitempty"`
}

func payloadOf(op Operation) any {
	switch typed := op.(type) {
	case CardOperation:
		return typed.Payload
	case CardContentOperation:
		return typed.Payload
	case CardDeletedOperation:
		return typed.Payload
	case CardBookmarkedOperation:
		return typed.Payload
	case CardSuspendedOperation:
		return typed.Payload
	case CardMetadataOperation:
		return typed.Payload
	case DeckOperation:
		return typed.Payload
	case UpdateDeckCardOperation:
		return typed.Payload
	case ReviewLogOperation:
		return typed.Payload
	case ReviewLogDeletedOperation:
		return typed.Payload
	default:
		panic(fmt.Sprintf("oplog: unhandled operation kind %q", op.OperationKind()))
	}
}

// Encode serializes an operation to its wire/storage form.
func Encode(op Operation) ([]byte, error) {
	payload, err := json.Marshal(payloadOf(op))
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{
		Type:      op.OperationKind(),
		Payload:   payload,
		Timestamp: op.OperationTime(),
	})
}

// EncodeSequenced serializes an operation together with its seqNo.
func EncodeSequenced(sequenced Sequenced) ([]byte, error) {
	payload, err := json.Marshal(payloadOf(sequenced.Op))
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{
		Type:      sequenced.Op.OperationKind(),
		Payload:   payload,
		Timestamp: sequenced.Op.OperationTime(),
		SeqNo:     sequenced.SeqNo,
	})
}

func decodeEnvelope(env envelope) (Operation, error) {
	switch env.Type {
	case KindCard:
		var payload CardPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return nil, err
		}
		return CardOperation{Payload: payload, Timestamp: env.Timestamp}, nil
	case KindCardContent:
		var payload CardContentPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return nil, err
		}
		return CardContentOperation{Payload: payload, Timestamp: env.Timestamp}, nil
	case KindCardDeleted:
		var payload CardDeletedPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return nil, err
		}
		return CardDeletedOperation{Payload: payload, Timestamp: env.Timestamp}, nil
	case KindCardBookmarked:
		var payload CardBookmarkedPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return nil, err
		}
		return CardBookmarkedOperation{Payload: payload, Timestamp: env.Timestamp}, nil
	case KindCardSuspended:
		var payload CardSuspendedPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return nil, err
		}
		return CardSuspendedOperation{Payload: payload, Timestamp: env.Timestamp}, nil
	case KindCardMetadata:
		var payload CardMetadataPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return nil, err
		}
		return CardMetadataOperation{Payload: payload, Timestamp: env.Timestamp}, nil
	case KindDeck:
		var payload DeckPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return nil, err
		}
		return DeckOperation{Payload: payload, Timestamp: env.Timestamp}, nil
	case KindUpdateDeckCard:
		var payload UpdateDeckCardPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return nil, err
		}
		return UpdateDeckCardOperation{Payload: payload, Timestamp: env.Timestamp}, nil
	case KindReviewLog:
		var payload ReviewLogPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return nil, err
		}
		return ReviewLogOperation{Payload: payload, Timestamp: env.Timestamp}, nil
	case KindReviewLogDeleted:
		var payload ReviewLogDeletedPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return nil, err
		}
		return ReviewLogDeletedOperation{Payload: payload, Timestamp: env.Timestamp}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperationKind, env.Type)
	}
}

// Decode parses the wire/storage form of an operation. Validation happens
// here, at the system edge; decoded operations are never re-validated
// internally.
func Decode(data []byte) (Operation, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return decodeEnvelope(env)
}

// DecodeSequenced parses an operation that carries a server seqNo.
func DecodeSequenced(data []byte) (Sequenced, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Sequenced{}, err
	}
	op, err := decodeEnvelope(env)
	if err != nil {
		return Sequenced{}, err
	}
	return Sequenced{Op: op, SeqNo: env.SeqNo}, nil
}
