package storage

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MarcoPoloResearchLab/spaced/internal/oplog"
)

// Stores bundles the durable backends served by one SQLite database.
type Stores struct {
	Operations *OperationStore
	Pending    *PendingStore
	ReviewLogs *ReviewLogStore
	Meta       *MetaStore
}

// NewStores wires every durable store onto the given database handle.
func NewStores(db *gorm.DB) Stores {
	return Stores{
		Operations: &OperationStore{db: db},
		Pending:    &PendingStore{db: db},
		ReviewLogs: &ReviewLogStore{db: db},
		Meta:       &MetaStore{db: db},
	}
}

// OperationStore persists applied operations in log order.
type OperationStore struct {
	db *gorm.DB
}

func (s *OperationStore) Append(ops []oplog.Operation) error {
	records, err := encodeRecords(ops)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	rows := make([]operationRecord, len(records))
	for i, envelope := range records {
		rows[i] = operationRecord{Envelope: envelope}
	}
	return s.db.Create(&rows).Error
}

func (s *OperationStore) All() ([]oplog.Operation, error) {
	var rows []operationRecord
	if err := s.db.Order("id asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	ops := make([]oplog.Operation, 0, len(rows))
	for _, row := range rows {
		op, err := oplog.Decode([]byte(row.Envelope))
		if err != nil {
			return nil, fmt.Errorf("decode operation %d: %w", row.ID, err)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// PendingStore persists the upload queue.
type PendingStore struct {
	db *gorm.DB
}

func (s *PendingStore) Enqueue(ops []oplog.Operation) error {
	records, err := encodeRecords(ops)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	rows := make([]pendingRecord, len(records))
	for i, envelope := range records {
		rows[i] = pendingRecord{Envelope: envelope}
	}
	return s.db.Create(&rows).Error
}

func (s *PendingStore) List() ([]oplog.PendingOperation, error) {
	var rows []pendingRecord
	if err := s.db.Order("local_id asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	pending := make([]oplog.PendingOperation, 0, len(rows))
	for _, row := range rows {
		op, err := oplog.Decode([]byte(row.Envelope))
		if err != nil {
			return nil, fmt.Errorf("decode pending operation %d: %w", row.LocalID, err)
		}
		pending = append(pending, oplog.PendingOperation{LocalID: row.LocalID, Op: op})
	}
	return pending, nil
}

func (s *PendingStore) Remove(localIDs []int64) error {
	if len(localIDs) == 0 {
		return nil
	}
	return s.db.Delete(&pendingRecord{}, "local_id IN ?", localIDs).Error
}

// ReviewLogStore persists review history operations.
type ReviewLogStore struct {
	db *gorm.DB
}

func (s *ReviewLogStore) Append(ops []oplog.Operation) error {
	records, err := encodeRecords(ops)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	rows := make([]reviewLogRecord, len(records))
	for i, envelope := range records {
		rows[i] = reviewLogRecord{Envelope: envelope}
	}
	return s.db.Create(&rows).Error
}

func (s *ReviewLogStore) All() ([]oplog.Operation, error) {
	var rows []reviewLogRecord
	if err := s.db.Order("id asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	ops := make([]oplog.Operation, 0, len(rows))
	for _, row := range rows {
		op, err := oplog.Decode([]byte(row.Envelope))
		if err != nil {
			return nil, fmt.Errorf("decode review log operation %d: %w", row.ID, err)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// MetaStore persists sync bookkeeping values.
type MetaStore struct {
	db *gorm.DB
}

func (s *MetaStore) Get(key string) (string, bool, error) {
	var row metaRecord
	err := s.db.Where("key = ?", key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return row.Value, true, nil
}

func (s *MetaStore) Set(key, value string) error {
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&metaRecord{Key: key, Value: value}).Error
}

func encodeRecords(ops []oplog.Operation) ([]string, error) {
	envelopes := make([]string, 0, len(ops))
	for _, op := range ops {
		data, err := oplog.Encode(op)
		if err != nil {
			return nil, fmt.Errorf("encode %s operation: %w", op.OperationKind(), err)
		}
		envelopes = append(envelopes, string(data))
	}
	return envelopes, nil
}
