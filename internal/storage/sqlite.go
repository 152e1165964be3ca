// File: internal/storage/sqlite.go
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/dbtrace/pkg/utils"
	_ "modernc.org/sqlite"
)

// SQLiteStorage implements Storage using SQLite
type SQLiteStorage struct {
	db      *sql.DB
	config  *StorageConfig
	logger  *logrus.Entry
	dialect dialect
	insert  string
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(config *StorageConfig) *SQLiteStorage {
	d := sqliteDialect{}
	return &SQLiteStorage{
		config:  config,
		logger:  utils.GetLogger().WithField("component", "storage.sqlite"),
		dialect: d,
		insert:  d.InsertStmt(config.Table),
	}
}

// Connect opens the database handle. Sessions are established lazily by
// OpenBatch.
func (s *SQLiteStorage) Connect() error {
	path := sqlitePath(s.config.ConnectionString)

	// Ensure directory exists
	dir := filepath.Dir(path)
	if path != ":memory:" && dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to create database directory", err.Error())
		}
	}

	db, err := sql.Open("sqlite", s.config.ConnectionString)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to open SQLite database", err.Error())
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.config.MaxConnections)
	db.SetMaxIdleConns(s.config.MaxConnections / 2)
	db.SetConnMaxIdleTime(s.config.MaxIdleTime)

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to enable WAL mode", err.Error())
	}

	s.db = db
	s.logger.WithField("path", path).Info("SQLite database connected")

	return nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		s.logger.Info("SQLite database connection closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (s *SQLiteStorage) Ping(ctx context.Context) error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeConnection, "Database not connected", "")
	}
	return s.db.PingContext(ctx)
}

// EnsureSchema creates the log table when it does not exist yet
func (s *SQLiteStorage) EnsureSchema(ctx context.Context) error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeConnection, "Database not connected", "")
	}

	for _, stmt := range s.dialect.SchemaStmts(s.config.Table) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase,
				fmt.Sprintf("Failed to create table %s", s.config.Table),
				err.Error())
		}
	}

	s.logger.WithField("table", s.config.Table).Debug("Log table ready")
	return nil
}

// OpenBatch opens a write session for one flush
func (s *SQLiteStorage) OpenBatch(ctx context.Context) (BatchWriter, error) {
	return openSQLBatch(ctx, s.db, s.insert)
}

// Type returns the backend name
func (s *SQLiteStorage) Type() string { return s.dialect.Name() }

// Table returns the destination table
func (s *SQLiteStorage) Table() string { return s.config.Table }

// sqlitePath strips the file: scheme and query options from a DSN.
func sqlitePath(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return path
}
