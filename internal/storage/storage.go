// File: internal/storage/storage.go
package storage

import (
	"context"
	"time"

	"github.com/smartdevs17/dbtrace/internal/models"
)

// Storage is the downstream relational store log entries are written to.
// It only writes; reading rows back is left to whatever consumes the table.
type Storage interface {
	// Connection management
	Connect() error
	Close() error
	Ping(ctx context.Context) error
	EnsureSchema(ctx context.Context) error

	// OpenBatch opens one connection session with a prepared insert. A
	// failure here means no entry of the batch can be written.
	OpenBatch(ctx context.Context) (BatchWriter, error)

	// Type returns the configured backend name
	Type() string
	// Table returns the destination table name
	Table() string
}

// BatchWriter writes entries one by one over a single session, reusing the
// same prepared statement. Insert errors carry ErrCodeRowPersist when only
// that row failed and ErrCodeConnection when the session itself is gone.
type BatchWriter interface {
	Insert(ctx context.Context, entry models.LogEntry) error
	Close() error
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type             string        `json:"type"`
	ConnectionString string        `json:"connection_string"`
	Table            string        `json:"table"`
	MaxConnections   int           `json:"max_connections"`
	MaxIdleTime      time.Duration `json:"max_idle_time"`
}

// insertArgs returns the column values in the order used by every dialect's
// insert statement.
func insertArgs(e models.LogEntry) []interface{} {
	return []interface{}{
		e.DateTimeCreated,
		e.Category,
		e.Contents,
		e.StackTrace,
		e.ThreadID,
		e.ProcessName,
		e.ProcessID,
		e.EventID,
		e.Source,
		e.MachineName,
	}
}
