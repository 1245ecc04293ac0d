package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned when a key is absent or its entry has expired.
var ErrNotFound = errors.New("store: not found")

// Entry is a single keyed record in one collection. A nil ExpiresAt means
// the entry never expires.
type Entry struct {
	Collection string `gorm:"primaryKey;size:64"`
	Key        string `gorm:"primaryKey;size:512"`
	Value      []byte
	ExpiresAt  *time.Time `gorm:"index"`
	CreatedAt  time.Time  `gorm:"autoCreateTime"`
}

// KV is a keyed store with per-entry TTL, backed by PostgreSQL or SQLite
// depending on the DSN.
type KV struct {
	db     *gorm.DB
	dbType string // "postgres" or "sqlite"
}

// NewKV opens the database and sets up the schema. An empty DSN uses a local
// SQLite file under data/.
func NewKV(dsn string) (*KV, error) {
	var gormDB *gorm.DB
	var dbType string
	var err error

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	switch {
	case dsn == "":
		dataDir := "data"
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		gormDB, err = gorm.Open(sqlite.Open(filepath.Join(dataDir, "mcp_oauth_gateway.db")), gormConfig)
		dbType = "sqlite"
	case strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://"):
		gormDB, err = gorm.Open(postgres.Open(dsn), gormConfig)
		dbType = "postgres"
	default:
		gormDB, err = gorm.Open(sqlite.Open(dsn), gormConfig)
		dbType = "sqlite"
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := gormDB.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("failed to auto-migrate database schema: %w", err)
	}

	return &KV{db: gormDB, dbType: dbType}, nil
}

// Get returns the value for key, or ErrNotFound if absent or expired.
func (s *KV) Get(collection, key string) ([]byte, error) {
	var entry Entry
	err := s.db.
		Where("collection = ? AND key = ? AND (expires_at IS NULL OR expires_at > ?)", collection, key, time.Now()).
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return entry.Value, nil
}

// Set upserts a value. A zero ttl stores the entry without expiry.
func (s *KV) Set(collection, key string, value []byte, ttl time.Duration) error {
	entry := Entry{
		Collection: collection,
		Key:        key,
		Value:      value,
	}
	if ttl > 0 {
		expires := time.Now().Add(ttl)
		entry.ExpiresAt = &expires
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "collection"}, {Name: "key"}},
		UpdateAll: true,
	}).Create(&entry).Error
}

// Delete removes an entry. Deleting an absent key is not an error.
func (s *KV) Delete(collection, key string) error {
	return s.db.Delete(&Entry{}, "collection = ? AND key = ?", collection, key).Error
}

// DeleteIfPresent atomically removes an entry and reports whether this call
// removed it. Concurrent callers racing on the same key see true at most
// once, which makes it the single-use primitive for authorization codes.
func (s *KV) DeleteIfPresent(collection, key string) (bool, error) {
	result := s.db.Delete(&Entry{}, "collection = ? AND key = ?", collection, key)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// DeleteExpired removes every entry whose expiry has passed and returns the
// number deleted. Entries without an expiry are never touched.
func (s *KV) DeleteExpired() (int64, error) {
	result := s.db.Delete(&Entry{}, "expires_at IS NOT NULL AND expires_at < ?", time.Now())
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// Close closes the database connection.
func (s *KV) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
