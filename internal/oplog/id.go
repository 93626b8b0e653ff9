package oplog

import "github.com/google/uuid"

// IDProvider issues identifiers for new cards, decks and review log entries.
type IDProvider interface {
	NewID() string
}

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider backed by random UUIDs.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() string {
	return uuid.NewString()
}
