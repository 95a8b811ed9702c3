package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type entryRecord struct {
	Key              string         `gorm:"column:key;primaryKey;size:190;not null"`
	Value            datatypes.JSON `gorm:"column:value;not null"`
	UpdatedAtSeconds int64          `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (entryRecord) TableName() string {
	return "kv_entries"
}

// SQLiteStore implements Store over a single-file SQLite database.
type SQLiteStore struct {
	db    *gorm.DB
	clock func() time.Time
}

// Open establishes a SQLite connection, performs schema migrations, and
// returns a ready store.
func Open(path string, logger *zap.Logger) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&entryRecord{}, &migrationRecord{}); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("store initialized", zap.String("path", path))
	}

	return &SQLiteStore{db: db, clock: time.Now}, nil
}

// Close releases the underlying database connection.
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Get returns the JSON value stored under key, or ErrKeyNotFound.
func (s *SQLiteStore) Get(ctx context.Context, key string) (json.RawMessage, error) {
	var entry entryRecord
	err := s.db.WithContext(ctx).Where("key = ?", key).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(entry.Value), nil
}

// Put stores value under key, replacing any previous value.
func (s *SQLiteStore) Put(ctx context.Context, key string, value json.RawMessage) error {
	entry := entryRecord{
		Key:              key,
		Value:            datatypes.JSON(value),
		UpdatedAtSeconds: s.clock().UTC().Unix(),
	}
	return s.db.WithContext(ctx).Save(&entry).Error
}

// Delete removes the value under key. Deleting an absent key is not an error.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Where("key = ?", key).Delete(&entryRecord{}).Error
}
