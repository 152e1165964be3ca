package storage

import (
	"context"
	"time"

	"github.com/smartdevs17/dbtrace/internal/metrics"
	"github.com/smartdevs17/dbtrace/internal/models"
)

// StorageWithMetrics wraps a storage implementation with metrics
type StorageWithMetrics struct {
	Storage
	metricsManager *metrics.Manager
}

// NewStorageWithMetrics creates a storage wrapper with metrics
func NewStorageWithMetrics(storage Storage, metricsManager *metrics.Manager) *StorageWithMetrics {
	return &StorageWithMetrics{
		Storage:        storage,
		metricsManager: metricsManager,
	}
}

// OpenBatch opens a session and records metrics for it and every insert
func (s *StorageWithMetrics) OpenBatch(ctx context.Context) (BatchWriter, error) {
	start := time.Now()

	w, err := s.Storage.OpenBatch(ctx)
	s.record("open_batch", err, start)
	if err != nil {
		return nil, err
	}

	return &batchWriterWithMetrics{BatchWriter: w, parent: s}, nil
}

func (s *StorageWithMetrics) record(operation string, err error, start time.Time) {
	if s.metricsManager == nil {
		return
	}

	status := "success"
	if err != nil {
		status = "error"
	}

	s.metricsManager.GetPrometheusMetrics().RecordDatabaseOperation(
		operation,
		s.Table(),
		status,
		time.Since(start),
	)
}

type batchWriterWithMetrics struct {
	BatchWriter
	parent *StorageWithMetrics
}

func (w *batchWriterWithMetrics) Insert(ctx context.Context, entry models.LogEntry) error {
	start := time.Now()
	err := w.BatchWriter.Insert(ctx, entry)
	w.parent.record("insert", err, start)
	return err
}
