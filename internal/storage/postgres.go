package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/dbtrace/pkg/utils"
)

// PostgreSQLStorage implements Storage using PostgreSQL through lib/pq
type PostgreSQLStorage struct {
	db      *sql.DB
	config  *StorageConfig
	logger  *logrus.Entry
	dialect dialect
	insert  string
}

// NewPostgreSQLStorage creates a new PostgreSQL storage instance
func NewPostgreSQLStorage(config *StorageConfig) *PostgreSQLStorage {
	d := postgresDialect{}
	return &PostgreSQLStorage{
		config:  config,
		logger:  utils.GetLogger().WithField("component", "storage.postgres"),
		dialect: d,
		insert:  d.InsertStmt(config.Table),
	}
}

// Connect creates the connection pool. The server is not contacted until the
// first session, so an unreachable database surfaces at flush time.
func (p *PostgreSQLStorage) Connect() error {
	db, err := sql.Open("postgres", p.config.ConnectionString)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to open PostgreSQL database", err.Error())
	}

	// Configure connection pool
	db.SetMaxOpenConns(p.config.MaxConnections)
	db.SetMaxIdleConns(p.config.MaxConnections / 2)
	db.SetConnMaxIdleTime(p.config.MaxIdleTime)

	p.db = db
	p.logger.Info("PostgreSQL connection pool created")

	return nil
}

// Close closes the database connection
func (p *PostgreSQLStorage) Close() error {
	if p.db != nil {
		err := p.db.Close()
		p.db = nil
		p.logger.Info("PostgreSQL database connection closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (p *PostgreSQLStorage) Ping(ctx context.Context) error {
	if p.db == nil {
		return utils.NewAppError(utils.ErrCodeConnection, "Database not connected", "")
	}
	return p.db.PingContext(ctx)
}

// EnsureSchema creates the log table when it does not exist yet
func (p *PostgreSQLStorage) EnsureSchema(ctx context.Context) error {
	if p.db == nil {
		return utils.NewAppError(utils.ErrCodeConnection, "Database not connected", "")
	}

	for _, stmt := range p.dialect.SchemaStmts(p.config.Table) {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase,
				fmt.Sprintf("Failed to create table %s", p.config.Table),
				err.Error())
		}
	}

	p.logger.WithField("table", p.config.Table).Debug("Log table ready")
	return nil
}

// OpenBatch opens a write session for one flush
func (p *PostgreSQLStorage) OpenBatch(ctx context.Context) (BatchWriter, error) {
	return openSQLBatch(ctx, p.db, p.insert)
}

// Type returns the backend name
func (p *PostgreSQLStorage) Type() string { return p.dialect.Name() }

// Table returns the destination table
func (p *PostgreSQLStorage) Table() string { return p.config.Table }
