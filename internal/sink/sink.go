// Package sink batches log entries in memory and writes them to a relational
// store.
//
// Producers call Append from any goroutine. The producer whose Append brings
// the queue to the flush threshold performs the flush itself before Append
// returns. Flushes are serialized: each one drains the whole queue and writes
// it over a single storage session. Write failures never reach the producer;
// they are reported on a separate diagnostic logger, and the affected entries
// are dropped.
package sink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/dbtrace/internal/metrics"
	"github.com/smartdevs17/dbtrace/internal/models"
	"github.com/smartdevs17/dbtrace/internal/storage"
	"github.com/smartdevs17/dbtrace/pkg/utils"
)

// Config holds the batching parameters of a sink.
type Config struct {
	// FlushThreshold is the queue length that triggers a flush from Append.
	// Must be positive.
	FlushThreshold int
	// FlushInterval enables a background flush on a ticker when positive.
	FlushInterval time.Duration
	// FlushTimeout bounds a single flush when positive.
	FlushTimeout time.Duration
}

// Stats is a point-in-time snapshot of sink counters.
type Stats struct {
	Queued         int       `json:"queued"`
	Appended       uint64    `json:"appended"`
	Persisted      uint64    `json:"persisted"`
	DroppedRows    uint64    `json:"dropped_rows"`
	DroppedBatches uint64    `json:"dropped_batches"`
	DroppedEntries uint64    `json:"dropped_entries"`
	Flushes        uint64    `json:"flushes"`
	LastFlush      time.Time `json:"last_flush"`
	Closed         bool      `json:"closed"`
}

// Option customizes a BatchingSink.
type Option func(*BatchingSink)

// WithDiagnostics routes the sink's own failure reports to logger. The
// logger must not forward into this sink.
func WithDiagnostics(logger *logrus.Logger) Option {
	return func(s *BatchingSink) {
		s.diag = logger.WithField("component", utils.DiagnosticComponent)
	}
}

// WithMetrics records sink activity into the manager's collectors.
func WithMetrics(m *metrics.Manager) Option {
	return func(s *BatchingSink) {
		if m != nil {
			s.metrics = m.GetPrometheusMetrics()
		}
	}
}

// BatchingSink queues log entries and writes them to storage in batches.
type BatchingSink struct {
	store   storage.Storage
	cfg     Config
	queue   queue
	flushMu sync.Mutex

	diag    *logrus.Entry
	metrics *metrics.PrometheusMetrics

	appended       atomic.Uint64
	persisted      atomic.Uint64
	droppedRows    atomic.Uint64
	droppedBatches atomic.Uint64
	droppedEntries atomic.Uint64
	flushes        atomic.Uint64
	lastFlush      atomic.Value // time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// New creates a sink writing to store. A non-positive flush threshold is
// rejected.
func New(store storage.Storage, cfg Config, opts ...Option) (*BatchingSink, error) {
	if store == nil {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Sink requires a storage backend", "")
	}
	if cfg.FlushThreshold <= 0 {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration,
			"Flush threshold must be positive", fmt.Sprintf("got %d", cfg.FlushThreshold))
	}
	if cfg.FlushInterval < 0 || cfg.FlushTimeout < 0 {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Sink durations must not be negative", "")
	}

	s := &BatchingSink{
		store:  store,
		cfg:    cfg,
		stopCh: make(chan struct{}),
	}
	s.lastFlush.Store(time.Time{})

	for _, opt := range opts {
		opt(s)
	}
	if s.diag == nil {
		WithDiagnostics(utils.NewDiagnosticLogger("warning", "text", os.Stderr))(s)
	}

	return s, nil
}

// Append enqueues entry. If the queue reaches the flush threshold, Append
// flushes on the calling goroutine before returning.
func (s *BatchingSink) Append(entry models.LogEntry) {
	n, ok := s.queue.push(entry)
	if !ok {
		s.droppedEntries.Add(1)
		s.recordDropped("closed", 1)
		s.diag.WithField("category", entry.Category).Warn("Log entry appended after close was dropped")
		return
	}
	s.appended.Add(1)
	if s.metrics != nil {
		s.metrics.RecordAppend(n)
	}

	if n >= s.cfg.FlushThreshold {
		s.Sync()
	}
}

// Flush drains the queue and writes the drained entries as one batch. It is
// a no-op when the queue is empty. Write failures are reported on the
// diagnostic logger and never returned.
func (s *BatchingSink) Flush(ctx context.Context) {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	batch := s.queue.drain()
	if s.metrics != nil {
		s.metrics.UpdateQueueLength(s.queue.len())
	}
	if len(batch) == 0 {
		return
	}

	s.write(ctx, batch)
}

// Close stops the background flusher, marks the sink closed and flushes what
// is left. Closing and the final drain are ordered through the queue lock, so
// an Append racing with Close is either persisted or counted as dropped.
// Calling Close again only flushes an empty queue.
func (s *BatchingSink) Close() error {
	s.Stop()
	s.queue.close()
	s.Sync()
	return nil
}

// Start launches the interval flusher when FlushInterval is positive. It
// returns immediately.
func (s *BatchingSink) Start(ctx context.Context) {
	if s.cfg.FlushInterval <= 0 {
		return
	}
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go s.flushLoop(ctx)
	})
}

// Stop halts the interval flusher and waits for it to exit.
func (s *BatchingSink) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// QueueLength returns the number of entries waiting for a flush.
func (s *BatchingSink) QueueLength() int {
	return s.queue.len()
}

// Stats returns a snapshot of the sink counters.
func (s *BatchingSink) Stats() Stats {
	last, _ := s.lastFlush.Load().(time.Time)
	return Stats{
		Queued:         s.queue.len(),
		Appended:       s.appended.Load(),
		Persisted:      s.persisted.Load(),
		DroppedRows:    s.droppedRows.Load(),
		DroppedBatches: s.droppedBatches.Load(),
		DroppedEntries: s.droppedEntries.Load(),
		Flushes:        s.flushes.Load(),
		LastFlush:      last,
		Closed:         s.queue.isClosed(),
	}
}

func (s *BatchingSink) flushLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if s.queue.len() > 0 {
				s.Sync()
			}
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Sync runs Flush under the configured flush timeout, detached from any
// caller context.
func (s *BatchingSink) Sync() {
	ctx := context.Background()
	if s.cfg.FlushTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.FlushTimeout)
		defer cancel()
	}
	s.Flush(ctx)
}

// write persists batch over one storage session. Callers hold flushMu.
func (s *BatchingSink) write(ctx context.Context, batch []models.LogEntry) {
	start := time.Now()
	persisted := 0
	remaining := len(batch)
	status := "success"

	s.flushes.Add(1)
	defer func() {
		if r := recover(); r != nil {
			status = "failed"
			perr := utils.NewAppError(utils.ErrCodeInternal, "Panic during flush", fmt.Sprint(r)).WithStackTrace()
			s.dropBatch(perr, remaining)
		}
		s.persisted.Add(uint64(persisted))
		s.lastFlush.Store(time.Now())
		if s.metrics != nil {
			s.metrics.RecordFlush(status, len(batch), persisted, time.Since(start))
		}
	}()

	w, err := s.store.OpenBatch(ctx)
	if err != nil {
		status = "failed"
		s.dropBatch(err, remaining)
		remaining = 0
		return
	}
	defer func() {
		if err := w.Close(); err != nil {
			s.diag.WithError(err).Warn("Failed to close storage session")
		}
	}()

	for _, entry := range batch {
		err := w.Insert(ctx, entry)
		remaining--
		if err == nil {
			persisted++
			continue
		}

		if utils.HasCode(err, utils.ErrCodeConnection) {
			status = "failed"
			s.dropBatch(err, remaining+1)
			remaining = 0
			return
		}

		status = "partial"
		s.dropRow(err, entry)
	}
}

func (s *BatchingSink) dropBatch(err error, count int) {
	s.droppedBatches.Add(1)
	s.droppedEntries.Add(uint64(count))
	s.recordDropped("connection", count)

	fields := logrus.Fields{
		"error":   err.Error(),
		"dropped": count,
		"storage": s.store.Type(),
	}
	var appErr *utils.AppError
	if errors.As(err, &appErr) && appErr.StackTrace != "" {
		fields["stack"] = appErr.StackTrace
	}
	s.diag.WithFields(fields).Error("Storage unavailable, log batch discarded")
}

func (s *BatchingSink) dropRow(err error, entry models.LogEntry) {
	s.droppedRows.Add(1)
	s.droppedEntries.Add(1)
	s.recordDropped("row", 1)

	s.diag.WithFields(logrus.Fields{
		"error":        err.Error(),
		"created":      entry.DateTimeCreated.Format(time.RFC3339Nano),
		"category":     entry.Category,
		"contents_len": len(entry.Contents),
	}).Warn("Log entry could not be persisted")
}

func (s *BatchingSink) recordDropped(reason string, count int) {
	if s.metrics != nil {
		s.metrics.RecordDropped(reason, count)
	}
}
