package storage

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationSplitReviewLogOperations = "2026-05-12_split_review_log_operations"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationSplitReviewLogOperations, apply: splitReviewLogOperations},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// Earlier builds wrote review history into the main operation log; the
// projection replay skips review kinds, so moving them is safe at any point.
func splitReviewLogOperations(db *gorm.DB) error {
	const moveSQL = `INSERT INTO review_log_operations (envelope)
SELECT envelope FROM operations
WHERE envelope LIKE '{"type":"reviewLog%' ORDER BY id;`
	if err := db.Exec(moveSQL).Error; err != nil {
		return err
	}
	return db.Exec(`DELETE FROM operations WHERE envelope LIKE '{"type":"reviewLog%';`).Error
}
