package preflight

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type preflightRecord struct {
	Key       string `gorm:"column:label;primaryKey"`
	OK        bool
	CheckedAt time.Time
	TokenHash string
}

func (preflightRecord) TableName() string { return "preflight_records" }

// SQLStore persists records with gorm so validation survives restarts.
type SQLStore struct {
	db *gorm.DB
}

// OpenSQLite opens (or creates) a sqlite database at path.
func OpenSQLite(path string) (*SQLStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to open preflight database: %w", err)
	}
	return NewSQLStore(db)
}

func NewSQLStore(db *gorm.DB) (*SQLStore, error) {
	if err := db.AutoMigrate(&preflightRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate preflight records: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Get(ctx context.Context, key string) (Record, bool, error) {
	if key == "" {
		return Record{}, false, ErrEmptyKey
	}

	var row preflightRecord
	err := s.db.WithContext(ctx).First(&row, "label = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("failed to read preflight record %q: %w", key, err)
	}
	return Record{OK: row.OK, CheckedAt: row.CheckedAt, TokenHash: row.TokenHash}, true, nil
}

func (s *SQLStore) Put(ctx context.Context, key string, record Record) error {
	if key == "" {
		return ErrEmptyKey
	}

	row := preflightRecord{Key: key, OK: record.OK, CheckedAt: record.CheckedAt, TokenHash: record.TokenHash}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to write preflight record %q: %w", key, err)
	}
	return nil
}

func (s *SQLStore) Revoke(ctx context.Context, key string) error {
	record, _, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	record.OK = false
	record.CheckedAt = time.Now()
	return s.Put(ctx, key, record)
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
