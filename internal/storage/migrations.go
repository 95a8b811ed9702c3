package storage

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationRenameLegacyAuthExpiryKey = "2026-05-11_rename_legacy_auth_expiry_key"

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
		{name: migrationRenameLegacyAuthExpiryKey, apply: renameLegacyAuthExpiryKey},
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
			logger.Info("store migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// Early builds persisted the auth expiry under "auth_expiry".
func renameLegacyAuthExpiryKey(db *gorm.DB) error {
	return db.Exec(
		"UPDATE kv_entries SET key = ? WHERE key = 'auth_expiry' AND NOT EXISTS (SELECT 1 FROM kv_entries WHERE key = ?)",
		KeyAuthExpiresAt, KeyAuthExpiresAt,
	).Error
}
