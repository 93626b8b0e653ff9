package oplog

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/spaced/internal/card"
)

// Meta keys persisted alongside the operation log.
const (
	MetaKeyClientID  = "clientId"
	MetaKeyLastSeqNo = "lastAppliedSeqNo"
)

var (
	ErrMissingOperationLog = errors.New("oplog: operation log is required")
	ErrMissingPendingQueue = errors.New("oplog: pending queue is required")
	ErrMissingReviewLogs   = errors.New("oplog: review log store is required")
	ErrMissingMetaStore    = errors.New("oplog: meta store is required")
	ErrNoScheduler         = errors.New("oplog: no scheduler configured")
	ErrCardNotFound        = errors.New("oplog: card not found")
)

// PendingOperation is an operation queued for upload, keyed by a local
// autoincrement id so acknowledged entries can be removed individually.
type PendingOperation struct {
	LocalID int64
	Op      Operation
}

// OperationLog is the durable append-only log of applied operations. Replaying
// All in order reproduces the projection exactly.
type OperationLog interface {
	Append(ops []Operation) error
	All() ([]Operation, error)
}

// PendingQueue holds operations awaiting upload to the sync server.
type PendingQueue interface {
	Enqueue(ops []Operation) error
	List() ([]PendingOperation, error)
	Remove(localIDs []int64) error
}

// ReviewLogStore is the durable append-only log of review history
// operations. Review history is kept out of the projection fold.
type ReviewLogStore interface {
	Append(ops []Operation) error
	All() ([]Operation, error)
}

// MetaStore is a small durable key/value store for sync bookkeeping.
type MetaStore interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
}

// ApplyResult reports whether an operation changed the projection. A rejected
// operation is not an error: it only means a newer write already covered the
// same field group.
type ApplyResult struct {
	Applied bool
}

// Config wires a Store.
type Config struct {
	Log        OperationLog
	Pending    PendingQueue
	ReviewLogs ReviewLogStore
	Meta       MetaStore
	Clock      func() time.Time
	IDProvider IDProvider
	// Scheduler is optional; Grade and UndoGrade require it.
	Scheduler card.Scheduler
	Logger    *zap.Logger
}

// Store folds the operation log into an in-memory projection and is the
// single entry point for all local and remote mutations. All methods are safe
// for concurrent use.
type Store struct {
	log        OperationLog
	pending    PendingQueue
	reviewLogs ReviewLogStore
	meta       MetaStore
	clock      func() time.Time
	ids        IDProvider
	scheduler  card.Scheduler
	logger     *zap.Logger

	mu          sync.Mutex
	cards       map[string]*card.Card
	decks       map[string]*card.Deck
	memberships map[string]map[string]int64
	lastSeqNo   int64

	version          uint64
	cardsVersion     uint64
	cachedCards      []card.Card
	decksVersion     uint64
	cachedDecks      []card.Deck
	deckCardsVersion uint64
	cachedDeckCards  map[string][]card.Card
	siblingsVersion  uint64
	cachedSiblings   map[string][]string
	subscribers      map[int]func()
	nextSubID        int
	undoStack        []undoRecord
}

type undoRecord struct {
	before      card.Card
	reviewLogID string
}

// New validates the configuration and returns an empty Store. Call Replay to
// restore state from the operation log.
func New(cfg Config) (*Store, error) {
	if cfg.Log == nil {
		return nil, ErrMissingOperationLog
	}
	if cfg.Pending == nil {
		return nil, ErrMissingPendingQueue
	}
	if cfg.ReviewLogs == nil {
		return nil, ErrMissingReviewLogs
	}
	if cfg.Meta == nil {
		return nil, ErrMissingMetaStore
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	ids := cfg.IDProvider
	if ids == nil {
		ids = NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		log:         cfg.Log,
		pending:     cfg.Pending,
		reviewLogs:  cfg.ReviewLogs,
		meta:        cfg.Meta,
		clock:       clock,
		ids:         ids,
		scheduler:   cfg.Scheduler,
		logger:      logger,
		cards:       make(map[string]*card.Card),
		decks:       make(map[string]*card.Deck),
		memberships: make(map[string]map[string]int64),
		subscribers: make(map[int]func()),
	}, nil
}

// Apply folds a single operation into the projection without persisting it.
// Used by Replay and by tests exercising the merge rules directly.
func (s *Store) Apply(op Operation) ApplyResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ApplyResult{Applied: s.applyLocked(op)}
}

func (s *Store) applyLocked(op Operation) bool {
	applied := false
	switch typed := op.(type) {
	case CardOperation:
		next, ok := mergeCard(s.cards[typed.Payload.ID], typed)
		if ok {
			s.cards[typed.Payload.ID] = &next
		}
		applied = ok
	case CardContentOperation:
		next, ok := mergeCardContent(s.cards[typed.Payload.CardID], typed)
		if ok {
			s.cards[typed.Payload.CardID] = &next
		}
		applied = ok
	case CardDeletedOperation:
		next, ok := mergeCardDeleted(s.cards[typed.Payload.CardID], typed)
		if ok {
			s.cards[typed.Payload.CardID] = &next
		}
		applied = ok
	case CardBookmarkedOperation:
		next, ok := mergeCardBookmarked(s.cards[typed.Payload.CardID], typed)
		if ok {
			s.cards[typed.Payload.CardID] = &next
		}
		applied = ok
	case CardSuspendedOperation:
		next, ok := mergeCardSuspended(s.cards[typed.Payload.CardID], typed)
		if ok {
			s.cards[typed.Payload.CardID] = &next
		}
		applied = ok
	case CardMetadataOperation:
		next, ok := mergeCardMetadata(s.cards[typed.Payload.CardID], typed)
		if ok {
			s.cards[typed.Payload.CardID] = &next
		}
		applied = ok
	case DeckOperation:
		next, ok := mergeDeck(s.decks[typed.Payload.ID], typed)
		if ok {
			s.decks[typed.Payload.ID] = &next
		}
		applied = ok
	case UpdateDeckCardOperation:
		byCard := s.memberships[typed.Payload.DeckID]
		next, ok := mergeMembershipCount(byCard[typed.Payload.CardID], typed.Payload.Count)
		if ok {
			if byCard == nil {
				byCard = make(map[string]int64)
				s.memberships[typed.Payload.DeckID] = byCard
			}
			byCard[typed.Payload.CardID] = next
		}
		applied = ok
	case ReviewLogOperation, ReviewLogDeletedOperation:
		// Review history never enters the projection.
		return false
	default:
		panic(fmt.Sprintf("oplog: unhandled operation kind %q", op.OperationKind()))
	}
	if applied {
		s.version++
	}
	return applied
}

func isReviewKind(op Operation) bool {
	kind := op.OperationKind()
	return kind == KindReviewLog || kind == KindReviewLogDeleted
}

// ApplyLocal applies locally created operations, persists them to the
// operation log (review history to its own store) and queues every one of
// them for upload. Subscribers are notified once per call.
func (s *Store) ApplyLocal(ops ...Operation) ([]ApplyResult, error) {
	results := make([]ApplyResult, len(ops))
	var applied, reviews []Operation

	s.mu.Lock()
	for i, op := range ops {
		if isReviewKind(op) {
			reviews = append(reviews, op)
			continue
		}
		if s.applyLocked(op) {
			results[i] = ApplyResult{Applied: true}
			applied = append(applied, op)
		}
	}
	s.mu.Unlock()

	if len(applied) > 0 {
		if err := s.log.Append(applied); err != nil {
			return results, fmt.Errorf("append operation log: %w", err)
		}
	}
	if len(reviews) > 0 {
		if err := s.reviewLogs.Append(reviews); err != nil {
			return results, fmt.Errorf("append review log: %w", err)
		}
	}
	outbound := append(append([]Operation(nil), applied...), reviews...)
	if len(outbound) > 0 {
		if err := s.pending.Enqueue(outbound); err != nil {
			return results, fmt.Errorf("enqueue pending operations: %w", err)
		}
		s.notify()
	}
	return results, nil
}

// ApplyRemote folds a batch pulled from the sync server. Entries at or below
// the current cursor are skipped, so redelivery is harmless; the cursor then
// advances to the highest sequence number seen whether or not the merge
// accepted the payload. Remote operations are never queued for upload.
func (s *Store) ApplyRemote(batch []Sequenced) error {
	var applied, reviews []Operation

	s.mu.Lock()
	cursor := s.lastSeqNo
	maxSeq := cursor
	for _, sequenced := range batch {
		if sequenced.SeqNo <= cursor {
			continue
		}
		if sequenced.SeqNo > maxSeq {
			maxSeq = sequenced.SeqNo
		}
		if isReviewKind(sequenced.Op) {
			reviews = append(reviews, sequenced.Op)
			continue
		}
		if s.applyLocked(sequenced.Op) {
			applied = append(applied, sequenced.Op)
		}
	}
	s.lastSeqNo = maxSeq
	s.mu.Unlock()

	if len(applied) > 0 {
		if err := s.log.Append(applied); err != nil {
			return fmt.Errorf("append operation log: %w", err)
		}
	}
	if len(reviews) > 0 {
		if err := s.reviewLogs.Append(reviews); err != nil {
			return fmt.Errorf("append review log: %w", err)
		}
	}
	if maxSeq > cursor {
		if err := s.meta.Set(MetaKeyLastSeqNo, strconv.FormatInt(maxSeq, 10)); err != nil {
			return fmt.Errorf("persist sync cursor: %w", err)
		}
	}
	if len(applied) > 0 || len(reviews) > 0 {
		s.notify()
	}
	return nil
}

// Replay rebuilds the projection from the persisted operation log and
// restores the sync cursor.
func (s *Store) Replay() error {
	ops, err := s.log.All()
	if err != nil {
		return fmt.Errorf("load operation log: %w", err)
	}
	cursorRaw, ok, err := s.meta.Get(MetaKeyLastSeqNo)
	if err != nil {
		return fmt.Errorf("load sync cursor: %w", err)
	}
	cursor := int64(0)
	if ok {
		cursor, err = strconv.ParseInt(cursorRaw, 10, 64)
		if err != nil {
			return fmt.Errorf("parse sync cursor %q: %w", cursorRaw, err)
		}
	}

	s.mu.Lock()
	for _, op := range ops {
		s.applyLocked(op)
	}
	s.lastSeqNo = cursor
	s.mu.Unlock()

	s.logger.Debug("replayed operation log", zap.Int("operations", len(ops)), zap.Int64("lastSeqNo", cursor))
	s.notify()
	return nil
}

// LastSeqNo returns the pull cursor: the highest server sequence number
// already folded into the projection.
func (s *Store) LastSeqNo() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeqNo
}

// Pending exposes the upload queue for the sync loop.
func (s *Store) Pending() PendingQueue {
	return s.pending
}

// Subscribe registers a change listener and returns its unsubscribe
// function. Listeners fire once per mutation batch, after persistence.
func (s *Store) Subscribe(fn func()) func() {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}
}

func (s *Store) notify() {
	s.mu.Lock()
	fns := make([]func(), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Cards returns all live (non-deleted) cards. The snapshot is memoized per
// projection version, so repeated reads between mutations are cheap.
func (s *Store) Cards() []card.Card {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cachedCards == nil || s.cardsVersion != s.version {
		snapshot := make([]card.Card, 0, len(s.cards))
		for _, c := range s.cards {
			if c.Deleted {
				continue
			}
			snapshot = append(snapshot, *c)
		}
		sort.Slice(snapshot, func(i, j int) bool {
			if snapshot[i].CreatedAt != snapshot[j].CreatedAt {
				return snapshot[i].CreatedAt < snapshot[j].CreatedAt
			}
			return snapshot[i].ID < snapshot[j].ID
		})
		s.cachedCards = snapshot
		s.cardsVersion = s.version
	}
	out := make([]card.Card, len(s.cachedCards))
	copy(out, s.cachedCards)
	return out
}

// CardByID returns a card whether or not it is deleted.
func (s *Store) CardByID(id string) (card.Card, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cards[id]
	if !ok {
		return card.Card{}, false
	}
	return *c, true
}

// Decks returns all live decks sorted by name.
func (s *Store) Decks() []card.Deck {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cachedDecks == nil || s.decksVersion != s.version {
		snapshot := make([]card.Deck, 0, len(s.decks))
		for _, d := range s.decks {
			if d.Deleted {
				continue
			}
			snapshot = append(snapshot, *d)
		}
		sort.Slice(snapshot, func(i, j int) bool {
			if snapshot[i].Name != snapshot[j].Name {
				return snapshot[i].Name < snapshot[j].Name
			}
			return snapshot[i].ID < snapshot[j].ID
		})
		s.cachedDecks = snapshot
		s.decksVersion = s.version
	}
	out := make([]card.Deck, len(s.cachedDecks))
	copy(out, s.cachedDecks)
	return out
}

// DeckByID returns a deck whether or not it is deleted.
func (s *Store) DeckByID(id string) (card.Deck, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.decks[id]
	if !ok {
		return card.Deck{}, false
	}
	return *d, true
}

// CardsForDeck returns the live cards whose membership counter for the deck
// is odd. An even counter means the card was added and removed an equal
// number of times and is no longer a member. Memoized per projection version
// and deck, like Cards.
func (s *Store) CardsForDeck(deckID string) []card.Card {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cachedDeckCards == nil || s.deckCardsVersion != s.version {
		s.cachedDeckCards = make(map[string][]card.Card)
		s.deckCardsVersion = s.version
	}
	snapshot, ok := s.cachedDeckCards[deckID]
	if !ok {
		byCard := s.memberships[deckID]
		snapshot = make([]card.Card, 0, len(byCard))
		for cardID, count := range byCard {
			if count%2 == 0 {
				continue
			}
			c, ok := s.cards[cardID]
			if !ok || c.Deleted {
				continue
			}
			snapshot = append(snapshot, *c)
		}
		sort.Slice(snapshot, func(i, j int) bool {
			if snapshot[i].CreatedAt != snapshot[j].CreatedAt {
				return snapshot[i].CreatedAt < snapshot[j].CreatedAt
			}
			return snapshot[i].ID < snapshot[j].ID
		})
		s.cachedDeckCards[deckID] = snapshot
	}
	out := make([]card.Card, len(snapshot))
	copy(out, snapshot)
	return out
}

// SiblingCardIDs returns the ids of live cards sharing the given card's note,
// excluding the card itself. Cards without a note have no siblings.
func (s *Store) SiblingCardIDs(cardID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cachedSiblings == nil || s.siblingsVersion != s.version {
		s.cachedSiblings = make(map[string][]string)
		s.siblingsVersion = s.version
	}
	snapshot, ok := s.cachedSiblings[cardID]
	if !ok {
		self, found := s.cards[cardID]
		if !found || self.NoteID == "" {
			s.cachedSiblings[cardID] = nil
			return nil
		}
		for _, c := range s.cards {
			if c.ID == cardID || c.Deleted || c.NoteID != self.NoteID {
				continue
			}
			snapshot = append(snapshot, c.ID)
		}
		sort.Strings(snapshot)
		s.cachedSiblings[cardID] = snapshot
	}
	if snapshot == nil {
		return nil
	}
	out := make([]string, len(snapshot))
	copy(out, snapshot)
	return out
}

// ReviewLogEntries folds the review history operations into live entries,
// honoring soft deletes from grade undo. Entries are ordered by review time.
func (s *Store) ReviewLogEntries() ([]card.ReviewLog, error) {
	ops, err := s.reviewLogs.All()
	if err != nil {
		return nil, fmt.Errorf("load review log: %w", err)
	}
	entries := make(map[string]card.ReviewLog)
	order := make([]string, 0, len(ops))
	for _, op := range ops {
		switch typed := op.(type) {
		case ReviewLogOperation:
			if _, seen := entries[typed.Payload.ID]; !seen {
				order = append(order, typed.Payload.ID)
			}
			entries[typed.Payload.ID] = card.ReviewLog{
				ID:              typed.Payload.ID,
				CardID:          typed.Payload.CardID,
				Grade:           typed.Payload.Grade,
				State:           typed.Payload.State,
				Due:             typed.Payload.Due,
				Stability:       typed.Payload.Stability,
				Difficulty:      typed.Payload.Difficulty,
				ElapsedDays:     typed.Payload.ElapsedDays,
				LastElapsedDays: typed.Payload.LastElapsedDays,
				ScheduledDays:   typed.Payload.ScheduledDays,
				Review:          typed.Payload.Review,
				DurationMs:      typed.Payload.DurationMs,
				CreatedAt:       typed.Payload.CreatedAt,
			}
		case ReviewLogDeletedOperation:
			if typed.Payload.Deleted {
				delete(entries, typed.Payload.ReviewLogID)
			}
		}
	}
	out := make([]card.ReviewLog, 0, len(entries))
	for _, id := range order {
		if entry, ok := entries[id]; ok {
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Review.Before(out[j].Review) })
	return out, nil
}
