package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagersDoNotShareRegistry(t *testing.T) {
	a := NewManager()
	b := NewManager()

	a.GetPrometheusMetrics().RecordAppend(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(a.GetPrometheusMetrics().EntriesAppendedTotal))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.GetPrometheusMetrics().EntriesAppendedTotal))
	assert.Equal(t, 3.0, testutil.ToFloat64(a.GetPrometheusMetrics().QueueLength))
}

func TestRecordFlushAndDropped(t *testing.T) {
	m := NewManager().GetPrometheusMetrics()

	m.RecordFlush("partial", 5, 4, 20*time.Millisecond)
	m.RecordDropped("row", 1)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.FlushesTotal.WithLabelValues("partial")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.EntriesPersisted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EntriesDroppedTotal.WithLabelValues("row")))
}

func TestHandlerServesRegistry(t *testing.T) {
	mgr := NewManager()
	mgr.UpdateSystemMetrics()
	mgr.GetPrometheusMetrics().RecordDatabaseOperation("insert", "AppLog", "success", time.Millisecond)

	rec := httptest.NewRecorder()
	mgr.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "dbtrace_database_operations_total")
	assert.Contains(t, rec.Body.String(), "dbtrace_goroutines")
}
