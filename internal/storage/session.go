package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"

	"github.com/smartdevs17/dbtrace/internal/models"
	"github.com/smartdevs17/dbtrace/pkg/utils"
)

// sqlBatchWriter is a BatchWriter over one database/sql connection. It is
// shared by the SQLite and lib/pq backends.
type sqlBatchWriter struct {
	conn *sql.Conn
	stmt *sql.Stmt
}

// openSQLBatch reserves a dedicated connection from db and prepares query on
// it. No transaction is opened: every insert commits on its own, so a failed
// row cannot abort the rows around it.
func openSQLBatch(ctx context.Context, db *sql.DB, query string) (BatchWriter, error) {
	if db == nil {
		return nil, utils.NewAppError(utils.ErrCodeConnection, "Database not connected", "")
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeConnection, "Failed to open database session", err.Error())
	}

	stmt, err := conn.PrepareContext(ctx, query)
	if err != nil {
		conn.Close()
		return nil, utils.NewAppError(utils.ErrCodeConnection, "Failed to prepare insert statement", err.Error())
	}

	return &sqlBatchWriter{conn: conn, stmt: stmt}, nil
}

func (w *sqlBatchWriter) Insert(ctx context.Context, entry models.LogEntry) error {
	if _, err := w.stmt.ExecContext(ctx, insertArgs(entry)...); err != nil {
		if isConnectionError(ctx, err) {
			return utils.NewAppError(utils.ErrCodeConnection, "Database session lost", err.Error())
		}
		return utils.NewAppError(utils.ErrCodeRowPersist, "Failed to insert log entry", err.Error())
	}
	return nil
}

func (w *sqlBatchWriter) Close() error {
	stmtErr := w.stmt.Close()
	if err := w.conn.Close(); err != nil {
		return err
	}
	return stmtErr
}

// isConnectionError separates session-level failures from errors caused by
// the row being written.
func isConnectionError(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
