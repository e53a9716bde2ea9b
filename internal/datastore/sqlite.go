package datastore

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/watchme/sed-go/internal/errors"
	"github.com/watchme/sed-go/internal/logging"
)

// SQLiteStore is the SQLite-backed store.
type SQLiteStore struct {
	DataStore
	Path string
}

// NewSQLiteStore creates a store for the given database path.
func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{Path: path}
}

// Open opens the database, creating its directory if needed, and migrates
// the schema.
func (s *SQLiteStore) Open() error {
	dir := filepath.Dir(s.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.New(err).
				Component("datastore").
				Category(errors.CategoryFileIO).
				Context("dir", dir).
				Build()
		}
	}

	db, err := gorm.Open(sqlite.Open(s.Path), &gorm.Config{
		Logger: logger.New(
			gormLogWriter{},
			logger.Config{
				SlowThreshold:             time.Second,
				LogLevel:                  logger.Warn,
				IgnoreRecordNotFoundError: true,
			},
		),
	})
	if err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("path", s.Path).
			Build()
	}

	// Single writer, WAL keeps readers unblocked during batch runs
	if err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;").Error; err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}

	s.DB = db
	return performAutoMigration(db)
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	if s.DB == nil {
		return nil
	}
	sqlDB, err := s.DB.DB()
	if err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	if err := sqlDB.Close(); err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	s.DB = nil
	return nil
}

// gormLogWriter routes gorm's logger output into structured logging.
type gormLogWriter struct{}

func (gormLogWriter) Printf(format string, args ...any) {
	logging.ForService("datastore").Warn(fmt.Sprintf(format, args...))
}

var _ Interface = (*SQLiteStore)(nil)
