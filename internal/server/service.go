// Package server implements the reference sync server: clients register
// for an id and token, upload operations to the global log and download
// everyone else's operations by sequence number. The server never interprets
// operation payloads; it only assigns sequence numbers and fans them out.
package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/spaced/internal/oplog"
)

const defaultPullLimit = 500

var errMissingDatabase = errors.New("database handle required")

// clientRecord registers one sync client.
type clientRecord struct {
	ClientID         string `gorm:"column:client_id;primaryKey;size:190;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (clientRecord) TableName() string {
	return "sync_clients"
}

// serverOperation stores one uploaded operation under its global sequence
// number. The envelope is the client's wire form, stored verbatim.
type serverOperation struct {
	SeqNo    int64  `gorm:"column:seq_no;primaryKey;autoIncrement"`
	ClientID string `gorm:"column:client_id;size:190;not null;index:idx_sync_operations_client"`
	Envelope string `gorm:"column:envelope;type:text;not null"`
}

// TableName provides the explicit table binding for GORM.
func (serverOperation) TableName() string {
	return "sync_operations"
}

// ServiceConfig describes the dependencies of the sync service.
type ServiceConfig struct {
	DB         *gorm.DB
	Clock      func() time.Time
	IDProvider oplog.IDProvider
	Logger     *zap.Logger
	// PullLimit caps one pull response; defaults to 500.
	PullLimit int
}

// Service is the server-side operation log.
type Service struct {
	db        *gorm.DB
	clock     func() time.Time
	ids       oplog.IDProvider
	logger    *zap.Logger
	pullLimit int
}

// NewService migrates the server schema and returns a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.DB == nil {
		return nil, errMissingDatabase
	}
	if err := cfg.DB.AutoMigrate(&clientRecord{}, &serverOperation{}); err != nil {
		return nil, fmt.Errorf("migrate sync schema: %w", err)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	ids := cfg.IDProvider
	if ids == nil {
		ids = oplog.NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	pullLimit := cfg.PullLimit
	if pullLimit <= 0 {
		pullLimit = defaultPullLimit
	}
	return &Service{
		db:        cfg.DB,
		clock:     clock,
		ids:       ids,
		logger:    logger,
		pullLimit: pullLimit,
	}, nil
}

// RegisterClient mints and persists a new client id.
func (s *Service) RegisterClient(ctx context.Context) (string, error) {
	clientID := s.ids.NewID()
	record := clientRecord{
		ClientID:         clientID,
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return "", fmt.Errorf("register client: %w", err)
	}
	s.logger.Info("client registered", zap.String("clientId", clientID))
	return clientID, nil
}

// Push appends the uploaded operations to the global log. Sequence numbers
// are assigned by the database in insertion order.
func (s *Service) Push(ctx context.Context, clientID string, ops []oplog.Operation) error {
	if len(ops) == 0 {
		return nil
	}
	rows := make([]serverOperation, 0, len(ops))
	for _, op := range ops {
		envelope, err := oplog.Encode(op)
		if err != nil {
			return fmt.Errorf("encode %s operation: %w", op.OperationKind(), err)
		}
		rows = append(rows, serverOperation{ClientID: clientID, Envelope: string(envelope)})
	}
	if err := s.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return fmt.Errorf("store %d operations: %w", len(ops), err)
	}
	return nil
}

// Pull returns operations past the given sequence number, excluding the
// caller's own uploads. Results arrive in sequence order, capped at the
// pull limit; the client keeps pulling until a batch comes back short.
func (s *Service) Pull(ctx context.Context, clientID string, after int64) ([]oplog.Sequenced, error) {
	var rows []serverOperation
	err := s.db.WithContext(ctx).
		Where("seq_no > ? AND client_id <> ?", after, clientID).
		Order("seq_no asc").
		Limit(s.pullLimit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load operations after %d: %w", after, err)
	}
	batch := make([]oplog.Sequenced, 0, len(rows))
	for _, row := range rows {
		op, err := oplog.Decode([]byte(row.Envelope))
		if err != nil {
			return nil, fmt.Errorf("decode operation %d: %w", row.SeqNo, err)
		}
		batch = append(batch, oplog.Sequenced{Op: op, SeqNo: row.SeqNo})
	}
	return batch, nil
}
