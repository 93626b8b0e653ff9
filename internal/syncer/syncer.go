// Package syncer runs the background push/pull loops against the sync
// server. Pushing and pulling are independent: uploads happen frequently,
// downloads less often to keep server load down. Both directions rely on
// operation idempotence instead of request-level coordination, so redelivery
// and overlap are harmless.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/spaced/internal/oplog"
)

const (
	defaultPushInterval = 10 * time.Second
	defaultPullInterval = 30 * time.Second
)

// ErrOffline indicates the connectivity probe vetoed a push.
var ErrOffline = errors.New("syncer: offline")

// Transport is the wire client talking to the sync server.
type Transport interface {
	Push(ctx context.Context, ops []oplog.Operation) error
	Pull(ctx context.Context, after int64) ([]oplog.Sequenced, error)
}

// Config wires a Syncer.
type Config struct {
	Store     *oplog.Store
	Transport Transport
	Logger    *zap.Logger

	// PushInterval defaults to 10s, PullInterval to 30s.
	PushInterval time.Duration
	PullInterval time.Duration

	// Online is an optional connectivity probe; pushes are skipped while it
	// reports false.
	Online func() bool
}

// Syncer drives the periodic sync loops. A push or pull that is already in
// flight is never started twice; the overlapping call returns immediately.
type Syncer struct {
	store     *oplog.Store
	transport Transport
	logger    *zap.Logger

	pushInterval time.Duration
	pullInterval time.Duration
	online       func() bool

	mu             sync.Mutex
	pushInProgress bool
	pullInProgress bool

	wake chan struct{}
}

// New validates the configuration.
func New(cfg Config) (*Syncer, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("syncer requires a store")
	}
	if cfg.Transport == nil {
		return nil, fmt.Errorf("syncer requires a transport")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	pushInterval := cfg.PushInterval
	if pushInterval <= 0 {
		pushInterval = defaultPushInterval
	}
	pullInterval := cfg.PullInterval
	if pullInterval <= 0 {
		pullInterval = defaultPullInterval
	}
	return &Syncer{
		store:        cfg.Store,
		transport:    cfg.Transport,
		logger:       logger,
		pushInterval: pushInterval,
		pullInterval: pullInterval,
		online:       cfg.Online,
		wake:         make(chan struct{}, 1),
	}, nil
}

// Run blocks until the context is cancelled, syncing both directions once
// immediately and then on their intervals. Failures are logged and retried
// on the next tick; the loop itself never stops on a sync error.
func (s *Syncer) Run(ctx context.Context) error {
	s.syncOnce(ctx)

	pushTicker := time.NewTicker(s.pushInterval)
	defer pushTicker.Stop()
	pullTicker := time.NewTicker(s.pullInterval)
	defer pullTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-pushTicker.C:
			s.logSyncError("push", s.PushPending(ctx))
		case <-pullTicker.C:
			s.logSyncError("pull", s.PullRemote(ctx))
		case <-s.wake:
			s.syncOnce(ctx)
		}
	}
}

// Wake schedules an immediate push and pull, e.g. when connectivity returns
// or the application regains focus. Safe to call from any goroutine.
func (s *Syncer) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Syncer) syncOnce(ctx context.Context) {
	s.logSyncError("push", s.PushPending(ctx))
	s.logSyncError("pull", s.PullRemote(ctx))
}

func (s *Syncer) logSyncError(direction string, err error) {
	if err == nil || errors.Is(err, ErrOffline) || errors.Is(err, context.Canceled) {
		return
	}
	s.logger.Warn("sync failed", zap.String("direction", direction), zap.Error(err))
}

// PushPending uploads the queued operations and removes exactly the
// uploaded entries on success. Operations enqueued while the upload is in
// flight stay queued for the next push. On failure the queue is left
// untouched; the next tick retries.
func (s *Syncer) PushPending(ctx context.Context) error {
	if !s.begin(&s.pushInProgress) {
		return nil
	}
	defer s.end(&s.pushInProgress)

	if s.online != nil && !s.online() {
		return ErrOffline
	}

	pending, err := s.store.Pending().List()
	if err != nil {
		return fmt.Errorf("list pending operations: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	ops := make([]oplog.Operation, len(pending))
	localIDs := make([]int64, len(pending))
	for i, item := range pending {
		ops[i] = item.Op
		localIDs[i] = item.LocalID
	}

	if err := s.transport.Push(ctx, ops); err != nil {
		return fmt.Errorf("push %d operations: %w", len(ops), err)
	}
	if err := s.store.Pending().Remove(localIDs); err != nil {
		return fmt.Errorf("clear pushed operations: %w", err)
	}
	s.logger.Debug("pushed operations", zap.Int("count", len(ops)))
	return nil
}

// PullRemote downloads operations past the current cursor and folds them
// into the projection.
func (s *Syncer) PullRemote(ctx context.Context) error {
	if !s.begin(&s.pullInProgress) {
		return nil
	}
	defer s.end(&s.pullInProgress)

	after := s.store.LastSeqNo()
	batch, err := s.transport.Pull(ctx, after)
	if err != nil {
		return fmt.Errorf("pull after seqNo %d: %w", after, err)
	}
	if len(batch) == 0 {
		return nil
	}
	if err := s.store.ApplyRemote(batch); err != nil {
		return fmt.Errorf("apply %d remote operations: %w", len(batch), err)
	}
	s.logger.Debug("pulled operations", zap.Int("count", len(batch)), zap.Int64("after", after))
	return nil
}

func (s *Syncer) begin(flag *bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if *flag {
		return false
	}
	*flag = true
	return true
}

func (s *Syncer) end(flag *bool) {
	s.mu.Lock()
	*flag = false
	s.mu.Unlock()
}
