package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite" // pure Go SQLite driver
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/MeKo-Tech/docstream/internal/document"
)

type entryRecord struct {
	Hash      string `gorm:"primaryKey;size:64"`
	Payload   []byte
	Pages     int
	CreatedAt time.Time
}

func (entryRecord) TableName() string { return "document_entries" }

type explanationRecord struct {
	Hash      string `gorm:"primaryKey;size:64"`
	RegionID  string `gorm:"primaryKey;size:36"`
	Text      string
	UpdatedAt time.Time
}

func (explanationRecord) TableName() string { return "region_explanations" }

// SQLStore keeps entries in a SQLite database through gorm.
type SQLStore struct {
	db  *gorm.DB
	sql *sql.DB
}

// NewSQLStore opens (and migrates) the database at path.
func NewSQLStore(path string) (*SQLStore, error) {
	sqlDB, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	sqlDB.SetMaxOpenConns(4)
	sqlDB.SetConnMaxLifetime(time.Hour)

	db, err := gorm.Open(sqlite.Dialector{DriverName: "sqlite", Conn: sqlDB}, &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	if err := db.AutoMigrate(&entryRecord{}, &explanationRecord{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return &SQLStore{db: db, sql: sqlDB}, nil
}

func (s *SQLStore) Get(ctx context.Context, hash string) (*document.Entry, error) {
	var rec entryRecord
	err := s.db.WithContext(ctx).First(&rec, "hash = ?", hash).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query entry: %w", err)
	}
	return decodeEntry(rec.Payload)
}

func (s *SQLStore) Put(ctx context.Context, entry *document.Entry) error {
	data, err := encodeEntry(entry)
	if err != nil {
		return err
	}
	rec := entryRecord{Hash: entry.Hash, Payload: data, Pages: len(entry.Pages), CreatedAt: entry.CreatedAt}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("store entry: %w", err)
	}
	return nil
}

func (s *SQLStore) PutExplanation(ctx context.Context, hash, regionID, text string) error {
	rec := explanationRecord{Hash: hash, RegionID: regionID, Text: text, UpdatedAt: time.Now().UTC()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("store explanation: %w", err)
	}
	return nil
}

func (s *SQLStore) Explanations(ctx context.Context, hash string) (map[string]string, error) {
	var recs []explanationRecord
	if err := s.db.WithContext(ctx).Where("hash = ?", hash).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("query explanations: %w", err)
	}
	out := make(map[string]string, len(recs))
	for _, r := range recs {
		out[r.RegionID] = r.Text
	}
	return out, nil
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.sql.Close()
}
