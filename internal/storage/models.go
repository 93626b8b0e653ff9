// Package storage provides the SQLite-backed durable stores behind the
// operation log: applied operations, the upload queue, review history and
// sync bookkeeping. Operations are stored in their wire envelope form, so
// the schema never changes when the operation union grows.
package storage

// operationRecord stores one applied operation envelope in log order.
type operationRecord struct {
	ID       int64  `gorm:"column:id;primaryKey;autoIncrement"`
	Envelope string `gorm:"column:envelope;type:text;not null"`
}

// TableName provides the explicit table binding for GORM.
func (operationRecord) TableName() string {
	return "operations"
}

// pendingRecord stores one operation envelope awaiting upload.
type pendingRecord struct {
	LocalID  int64  `gorm:"column:local_id;primaryKey;autoIncrement"`
	Envelope string `gorm:"column:envelope;type:text;not null"`
}

// TableName provides the explicit table binding for GORM.
func (pendingRecord) TableName() string {
	return "pending_operations"
}

// reviewLogRecord stores one review history operation envelope.
type reviewLogRecord struct {
	ID       int64  `gorm:"column:id;primaryKey;autoIncrement"`
	Envelope string `gorm:"column:envelope;type:text;not null"`
}

// TableName provides the explicit table binding for GORM.
func (reviewLogRecord) TableName() string {
	return "review_log_operations"
}

// metaRecord stores one sync bookkeeping value (client id, pull cursor).
type metaRecord struct {
	Key   string `gorm:"column:key;primaryKey;size:190;not null"`
	Value string `gorm:"column:value;type:text;not null"`
}

// TableName provides the explicit table binding for GORM.
func (metaRecord) TableName() string {
	return "sync_meta"
}
