package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/dbtrace/internal/models"
	"github.com/smartdevs17/dbtrace/pkg/utils"
)

const pgxInsertStmtName = "dbtrace_insert_log"

// PGXStorage implements Storage using the native pgx connection pool
type PGXStorage struct {
	pool    *pgxpool.Pool
	config  *StorageConfig
	logger  *logrus.Entry
	dialect dialect
	insert  string
}

// NewPGXStorage creates a new pgx storage instance
func NewPGXStorage(config *StorageConfig) *PGXStorage {
	d := postgresDialect{}
	return &PGXStorage{
		config:  config,
		logger:  utils.GetLogger().WithField("component", "storage.pgx"),
		dialect: d,
		insert:  d.InsertStmt(config.Table),
	}
}

// Connect creates the pool. pgxpool dials lazily, so an unreachable server
// surfaces on the first OpenBatch.
func (p *PGXStorage) Connect() error {
	poolCfg, err := pgxpool.ParseConfig(p.config.ConnectionString)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to parse PostgreSQL connection string", err.Error())
	}
	if p.config.MaxConnections > 0 {
		poolCfg.MaxConns = int32(p.config.MaxConnections)
	}
	if p.config.MaxIdleTime > 0 {
		poolCfg.MaxConnIdleTime = p.config.MaxIdleTime
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to create connection pool", err.Error())
	}

	p.pool = pool
	p.logger.Info("pgx connection pool created")
	return nil
}

// Close closes the pool
func (p *PGXStorage) Close() error {
	if p.pool != nil {
		p.pool.Close()
		p.pool = nil
		p.logger.Info("pgx connection pool closed")
	}
	return nil
}

// Ping checks database connectivity
func (p *PGXStorage) Ping(ctx context.Context) error {
	if p.pool == nil {
		return utils.NewAppError(utils.ErrCodeConnection, "Database not connected", "")
	}
	return p.pool.Ping(ctx)
}

// EnsureSchema creates the log table when it does not exist yet
func (p *PGXStorage) EnsureSchema(ctx context.Context) error {
	if p.pool == nil {
		return utils.NewAppError(utils.ErrCodeConnection, "Database not connected", "")
	}

	for _, stmt := range p.dialect.SchemaStmts(p.config.Table) {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase,
				fmt.Sprintf("Failed to create table %s", p.config.Table),
				err.Error())
		}
	}
	return nil
}

// OpenBatch acquires one pooled connection and prepares the insert on it
func (p *PGXStorage) OpenBatch(ctx context.Context) (BatchWriter, error) {
	if p.pool == nil {
		return nil, utils.NewAppError(utils.ErrCodeConnection, "Database not connected", "")
	}

	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeConnection, "Failed to acquire connection", err.Error())
	}

	// Prepare is idempotent for the same name and SQL on one connection.
	if _, err := conn.Conn().Prepare(ctx, pgxInsertStmtName, p.insert); err != nil {
		conn.Release()
		return nil, utils.NewAppError(utils.ErrCodeConnection, "Failed to prepare insert statement", err.Error())
	}

	return &pgxBatchWriter{conn: conn}, nil
}

// Type returns the backend name
func (p *PGXStorage) Type() string { return "pgx" }

// Table returns the destination table
func (p *PGXStorage) Table() string { return p.config.Table }

type pgxBatchWriter struct {
	conn *pgxpool.Conn
}

func (w *pgxBatchWriter) Insert(ctx context.Context, entry models.LogEntry) error {
	if _, err := w.conn.Exec(ctx, pgxInsertStmtName, insertArgs(entry)...); err != nil {
		// A server-side error leaves the session usable.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && ctx.Err() == nil {
			return utils.NewAppError(utils.ErrCodeRowPersist, "Failed to insert log entry", err.Error())
		}
		if ctx.Err() != nil || w.conn.Conn().IsClosed() {
			return utils.NewAppError(utils.ErrCodeConnection, "Database session lost", err.Error())
		}
		return utils.NewAppError(utils.ErrCodeRowPersist, "Failed to insert log entry", err.Error())
	}
	return nil
}

func (w *pgxBatchWriter) Close() error {
	w.conn.Release()
	return nil
}
