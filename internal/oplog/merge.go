package oplog

import "github.com/MarcoPoloResearchLab/spaced/internal/card"

// The merge functions below are pure: they take the current entity (or its
// absence) plus one operation and return the next entity along with whether
// the operation applied. A field group is overwritten only by an operation
// stamped strictly later than the group's stored last-modified value; an
// operation referencing an unknown id creates the entity from the zero-value
// template.

func mergeCard(existing *card.Card, op CardOperation) (card.Card, bool) {
	if existing == nil {
		created := card.NewTemplate(op.Payload.ID)
		created.Scheduling = schedulingFromPayload(op.Payload)
		created.CreatedAt = op.Timestamp
		created.Stamps.Scheduling = op.Timestamp
		return created, true
	}

	if op.Timestamp <= existing.Stamps.Scheduling {
		return *existing, false
	}

	updated := *existing
	updated.Scheduling = schedulingFromPayload(op.Payload)
	updated.Stamps.Scheduling = op.Timestamp
	return updated, true
}

func schedulingFromPayload(payload CardPayload) card.Scheduling {
	return card.Scheduling{
		Due:           payload.Due,
		Stability:     payload.Stability,
		Difficulty:    payload.Difficulty,
		ElapsedDays:   payload.ElapsedDays,
		ScheduledDays: payload.ScheduledDays,
		Reps:          payload.Reps,
		Lapses:        payload.Lapses,
		State:         payload.State,
		LastReview:    payload.LastReview,
	}
}

func mergeCardContent(existing *card.Card, op CardContentOperation) (card.Card, bool) {
	if existing == nil {
		created := card.NewTemplate(op.Payload.CardID)
		created.Front = op.Payload.Front
		created.Back = op.Payload.Back
		created.Stamps.Content = op.Timestamp
		return created, true
	}

	if op.Timestamp <= existing.Stamps.Content {
		return *existing, false
	}

	updated := *existing
	updated.Front = op.Payload.Front
	updated.Back = op.Payload.Back
	updated.Stamps.Content = op.Timestamp
	return updated, true
}

func mergeCardDeleted(existing *card.Card, op CardDeletedOperation) (card.Card, bool) {
	if existing == nil {
		created := card.NewTemplate(op.Payload.CardID)
		created.Deleted = op.Payload.Deleted
		created.Stamps.Deleted = op.Timestamp
		return created, true
	}

	if op.Timestamp <= existing.Stamps.Deleted {
		return *existing, false
	}

	updated := *existing
	updated.Deleted = op.Payload.Deleted
	updated.Stamps.Deleted = op.Timestamp
	return updated, true
}

func mergeCardBookmarked(existing *card.Card, op CardBookmarkedOperation) (card.Card, bool) {
	if existing == nil {
		created := card.NewTemplate(op.Payload.CardID)
		created.Bookmarked = op.Payload.Bookmarked
		created.Stamps.Bookmarked = op.Timestamp
		return created, true
	}

	if op.Timestamp <= existing.Stamps.Bookmarked {
		return *existing, false
	}

	updated := *existing
	updated.Bookmarked = op.Payload.Bookmarked
	updated.Stamps.Bookmarked = op.Timestamp
	return updated, true
}

func mergeCardSuspended(existing *card.Card, op CardSuspendedOperation) (card.Card, bool) {
	if existing == nil {
		created := card.NewTemplate(op.Payload.CardID)
		created.Suspended = op.Payload.Suspended
		created.Stamps.Suspended = op.Timestamp
		return created, true
	}

	if op.Timestamp <= existing.Stamps.Suspended {
		return *existing, false
	}

	updated := *existing
	updated.Suspended = op.Payload.Suspended
	updated.Stamps.Suspended = op.Timestamp
	return updated, true
}

func mergeCardMetadata(existing *card.Card, op CardMetadataOperation) (card.Card, bool) {
	if existing == nil {
		created := card.NewTemplate(op.Payload.CardID)
		created.NoteID = op.Payload.NoteID
		created.SiblingTag = op.Payload.SiblingTag
		created.Stamps.Metadata = op.Timestamp
		return created, true
	}

	if op.Timestamp <= existing.Stamps.Metadata {
		return *existing, false
	}

	updated := *existing
	updated.NoteID = op.Payload.NoteID
	updated.SiblingTag = op.Payload.SiblingTag
	updated.Stamps.Metadata = op.Timestamp
	return updated, true
}

// mergeDeck is whole-record last-writer-wins: decks carry a single
// last-modified value, not per-field stamps.
func mergeDeck(existing *card.Deck, op DeckOperation) (card.Deck, bool) {
	if existing == nil {
		created := card.DefaultDeck(op.Payload.ID)
		created.Name = op.Payload.Name
		created.Description = op.Payload.Description
		created.Deleted = op.Payload.Deleted
		created.LastModified = op.Timestamp
		return created, true
	}

	if op.Timestamp <= existing.LastModified {
		return *existing, false
	}

	updated := *existing
	updated.Name = op.Payload.Name
	updated.Description = op.Payload.Description
	updated.Deleted = op.Payload.Deleted
	updated.LastModified = op.Timestamp
	return updated, true
}

// mergeMembershipCount resolves deck membership: the counter only grows, so
// highest count wins and ties keep the stored value. Odd parity means member.
func mergeMembershipCount(stored, incoming int64) (int64, bool) {
	if incoming <= stored {
		return stored, false
	}
	return incoming, true
}
