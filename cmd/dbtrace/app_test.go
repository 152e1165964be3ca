package main

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/smartdevs17/dbtrace/internal/config"
	"github.com/smartdevs17/dbtrace/internal/models"
	"github.com/smartdevs17/dbtrace/internal/trace"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		App: config.AppConfig{Name: "dbtrace", Environment: "test"},
		Storage: config.StorageConfig{
			Type:             "sqlite",
			ConnectionString: filepath.Join(dir, "applog.db"),
			Table:            "AppLog",
			MaxConnections:   2,
			MaxIdleTime:      time.Minute,
			EnsureSchema:     true,
		},
		Sink: config.SinkConfig{
			FlushThreshold: 2,
			FlushTimeout:   5 * time.Second,
			CaptureStack:   true,
		},
		Logging: config.LoggingConfig{
			Level:            "info",
			Format:           "text",
			Output:           "file",
			File:             filepath.Join(dir, "dbtrace.log"),
			DiagnosticsLevel: "error",
		},
	}
}

func openLog(t *testing.T, cfg *config.Config) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", cfg.Storage.ConnectionString)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestApplication_PersistsThroughListener(t *testing.T) {
	cfg := testConfig(t)
	app, err := NewApplication(cfg)
	require.NoError(t, err)
	require.NoError(t, app.Start())

	app.listener.Write("one")
	app.listener.TraceEvent(trace.EventCache{}, "billing", models.EventError, 42, "two")
	app.listener.WriteCategory("three", "audit")

	// threshold 2: the first two are already written, the third waits for Stop
	assert.Equal(t, 1, app.sink.QueueLength())

	require.NoError(t, app.Stop())

	db := openLog(t, cfg)
	rows, err := db.Query("SELECT Contents, Category, EventId, Source, MachineName FROM AppLog ORDER BY Id")
	require.NoError(t, err)
	defer rows.Close()

	type row struct {
		contents, category string
		eventID            sql.NullInt32
		source             sql.NullString
		machine            string
	}
	var got []row
	for rows.Next() {
		var r row
		var category sql.NullString
		require.NoError(t, rows.Scan(&r.contents, &category, &r.eventID, &r.source, &r.machine))
		r.category = category.String
		got = append(got, r)
	}
	require.NoError(t, rows.Err())
	require.Len(t, got, 3)

	assert.Equal(t, "one", got[0].contents)
	assert.False(t, got[0].eventID.Valid)
	assert.False(t, got[0].source.Valid)

	assert.Equal(t, "Error", got[1].category)
	assert.Equal(t, int32(42), got[1].eventID.Int32)
	assert.Equal(t, "billing", got[1].source.String)

	assert.Equal(t, "audit", got[2].category)

	host, _ := os.Hostname()
	assert.Equal(t, host, got[0].machine)
}

func TestApplication_ForwardsHostLogger(t *testing.T) {
	cfg := testConfig(t)
	cfg.Logging.ForwardToSink = true

	app, err := NewApplication(cfg)
	require.NoError(t, err)
	require.NoError(t, app.Start())

	app.logger.WithField("event_id", 7).Warn("forwarded warning")
	require.NoError(t, app.Stop())

	// shutdown logging happens after the hook is detached
	stats := app.sink.Stats()
	assert.Equal(t, uint64(0), stats.DroppedEntries)
	assert.Equal(t, stats.Appended, stats.Persisted)
	assert.Empty(t, app.logger.Hooks[logrus.InfoLevel])

	db := openLog(t, cfg)
	var category string
	var eventID int
	require.NoError(t, db.QueryRow(
		"SELECT Category, EventId FROM AppLog WHERE Contents = ?", "forwarded warning").Scan(&category, &eventID))
	assert.Equal(t, "Warning", category)
	assert.Equal(t, 7, eventID)
}

func TestApplication_TailsFileIntoTable(t *testing.T) {
	cfg := testConfig(t)
	path := filepath.Join(t.TempDir(), "input.log")
	require.NoError(t, os.WriteFile(path, []byte("tailed line\n"), 0o644))
	cfg.Ingest.Tail = config.TailConfig{Enabled: true, Path: path, Category: "file", Poll: true}

	app, err := NewApplication(cfg)
	require.NoError(t, err)
	require.NoError(t, app.Start())

	require.Eventually(t, func() bool { return app.sink.Stats().Appended >= 1 }, 5*time.Second, 20*time.Millisecond)
	require.NoError(t, app.Stop())

	db := openLog(t, cfg)
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM AppLog WHERE Category = 'file' AND Contents = 'tailed line'").Scan(&n))
	assert.Equal(t, 1, n)
}

func TestNewApplication_RejectsBadThreshold(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sink.FlushThreshold = 0

	_, err := NewApplication(cfg)
	assert.Error(t, err)
}
