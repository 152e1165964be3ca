package storage

import (
	"fmt"
	"strings"
)

// columns lists the persisted columns in insert order. The surrogate Id is
// assigned by the database.
var columns = []string{
	"DateTimeCreated",
	"Category",
	"Contents",
	"StackTrace",
	"ThreadId",
	"ProcessName",
	"ProcessId",
	"EventId",
	"Source",
	"MachineName",
}

// dialect generates the SQL that differs between backends.
type dialect interface {
	// Name returns a short identifier for this dialect
	Name() string
	// SchemaStmts returns the DDL that creates the log table if missing
	SchemaStmts(table string) []string
	// InsertStmt returns the parameterized insert for one entry
	InsertStmt(table string) string
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string { return "sqlite" }

func (sqliteDialect) SchemaStmts(table string) []string {
	return []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				Id INTEGER PRIMARY KEY AUTOINCREMENT,
				DateTimeCreated DATETIME NOT NULL,
				Category TEXT,
				Contents TEXT NOT NULL,
				StackTrace TEXT,
				ThreadId TEXT NOT NULL,
				ProcessName TEXT NOT NULL,
				ProcessId INTEGER NOT NULL,
				EventId INTEGER NULL,
				Source TEXT NULL,
				MachineName TEXT NOT NULL
			)`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_created ON %s(DateTimeCreated)`, strings.ToLower(table), table),
	}
}

func (sqliteDialect) InsertStmt(table string) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(columns, ", "), placeholders(len(columns), func(int) string { return "?" }))
}

type postgresDialect struct{}

func (postgresDialect) Name() string { return "postgres" }

func (postgresDialect) SchemaStmts(table string) []string {
	return []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				Id BIGSERIAL PRIMARY KEY,
				DateTimeCreated TIMESTAMPTZ NOT NULL,
				Category TEXT,
				Contents TEXT NOT NULL,
				StackTrace TEXT,
				ThreadId TEXT NOT NULL,
				ProcessName TEXT NOT NULL,
				ProcessId INTEGER NOT NULL,
				EventId INTEGER NULL,
				Source TEXT NULL,
				MachineName TEXT NOT NULL
			)`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_created ON %s(DateTimeCreated)`, strings.ToLower(table), table),
	}
}

func (postgresDialect) InsertStmt(table string) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(columns, ", "), placeholders(len(columns), func(i int) string { return fmt.Sprintf("$%d", i) }))
}

func placeholders(n int, mark func(i int) string) string {
	marks := make([]string, n)
	for i := range marks {
		marks[i] = mark(i + 1)
	}
	return strings.Join(marks, ", ")
}
