package sink

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/dbtrace/internal/metrics"
	"github.com/smartdevs17/dbtrace/internal/models"
	"github.com/smartdevs17/dbtrace/internal/storage"
	"github.com/smartdevs17/dbtrace/pkg/utils"
)

// fakeStore records every persisted batch and can be told to fail.
type fakeStore struct {
	mu        sync.Mutex
	batches   [][]models.LogEntry
	opens     int
	active    int
	maxActive int

	openErr   error
	badRows   map[string]bool
	loseConn  string
	panicOn   string
	openGate  chan struct{} // when set, OpenBatch signals entered then waits on it
	entered   chan struct{}
	waitOnCtx bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{badRows: map[string]bool{}}
}

func (f *fakeStore) Connect() error                         { return nil }
func (f *fakeStore) Close() error                           { return nil }
func (f *fakeStore) Ping(ctx context.Context) error         { return nil }
func (f *fakeStore) EnsureSchema(ctx context.Context) error { return nil }
func (f *fakeStore) Type() string                           { return "fake" }
func (f *fakeStore) Table() string                          { return "AppLog" }

func (f *fakeStore) OpenBatch(ctx context.Context) (storage.BatchWriter, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.openGate != nil {
		<-f.openGate
	}
	if f.waitOnCtx {
		<-ctx.Done()
		return nil, utils.NewAppError(utils.ErrCodeConnection, "timed out", ctx.Err().Error())
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	f.batches = append(f.batches, nil)
	return &fakeWriter{store: f, idx: len(f.batches) - 1}, nil
}

func (f *fakeStore) setOpenErr(err error) {
	f.mu.Lock()
	f.openErr = err
	f.mu.Unlock()
}

func (f *fakeStore) persisted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, b := range f.batches {
		for _, e := range b {
			out = append(out, e.Contents)
		}
	}
	return out
}

func (f *fakeStore) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

type fakeWriter struct {
	store *fakeStore
	idx   int
}

func (w *fakeWriter) Insert(ctx context.Context, e models.LogEntry) error {
	f := w.store
	if e.Contents == f.panicOn {
		panic("driver exploded")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if e.Contents == f.loseConn {
		return utils.NewAppError(utils.ErrCodeConnection, "Database session lost", "broken pipe")
	}
	if f.badRows[e.Contents] {
		return utils.NewAppError(utils.ErrCodeRowPersist, "Failed to insert log entry", "constraint")
	}
	f.batches[w.idx] = append(f.batches[w.idx], e)
	return nil
}

func (w *fakeWriter) Close() error {
	w.store.mu.Lock()
	w.store.active--
	w.store.mu.Unlock()
	return nil
}

func entry(contents string) models.LogEntry {
	return models.NewMessageEntry(time.Now(), "", contents, "", "1", "test", 1, "host")
}

func newTestSink(t *testing.T, store *fakeStore, cfg Config) (*BatchingSink, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	s, err := New(store, cfg, WithDiagnostics(logger), WithMetrics(metrics.NewManager()))
	require.NoError(t, err)
	return s, hook
}

func TestNew_RejectsNonPositiveThreshold(t *testing.T) {
	for _, threshold := range []int{0, -1} {
		_, err := New(newFakeStore(), Config{FlushThreshold: threshold})
		require.Error(t, err)
		assert.True(t, utils.HasCode(err, utils.ErrCodeConfiguration))
	}

	_, err := New(nil, Config{FlushThreshold: 1})
	assert.Error(t, err)
}

func TestAppend_ThresholdTriggersSingleFlush(t *testing.T) {
	store := newFakeStore()
	s, _ := newTestSink(t, store, Config{FlushThreshold: 3})

	s.Append(entry("A"))
	s.Append(entry("B"))
	assert.Equal(t, 2, s.QueueLength())
	assert.Equal(t, 0, store.batchCount())

	s.Append(entry("C"))
	assert.Equal(t, 0, s.QueueLength())
	require.Equal(t, 1, store.batchCount())
	assert.Equal(t, []string{"A", "B", "C"}, store.persisted())

	stats := s.Stats()
	assert.Equal(t, uint64(3), stats.Appended)
	assert.Equal(t, uint64(3), stats.Persisted)
	assert.Equal(t, uint64(1), stats.Flushes)
}

func TestAppend_ThresholdOneFlushesEveryEntry(t *testing.T) {
	store := newFakeStore()
	s, _ := newTestSink(t, store, Config{FlushThreshold: 1})

	for i := 0; i < 4; i++ {
		s.Append(entry(fmt.Sprintf("e%d", i)))
		assert.Equal(t, 0, s.QueueLength())
		assert.Equal(t, i+1, store.batchCount())
	}

	store.mu.Lock()
	for _, b := range store.batches {
		assert.Len(t, b, 1)
	}
	store.mu.Unlock()
}

func TestFlush_EmptyQueueIsNoop(t *testing.T) {
	store := newFakeStore()
	s, _ := newTestSink(t, store, Config{FlushThreshold: 10})

	s.Flush(context.Background())
	assert.Equal(t, 0, store.opens)
	assert.Equal(t, uint64(0), s.Stats().Flushes)
}

func TestFlush_RowFailureIsolated(t *testing.T) {
	store := newFakeStore()
	store.badRows["bad"] = true
	s, hook := newTestSink(t, store, Config{FlushThreshold: 100})

	for _, c := range []string{"a", "b", "bad", "d", "e"} {
		s.Append(entry(c))
	}
	s.Flush(context.Background())

	assert.Equal(t, []string{"a", "b", "d", "e"}, store.persisted())
	assert.Equal(t, 1, store.opens, "the whole batch shares one session")

	stats := s.Stats()
	assert.Equal(t, uint64(1), stats.DroppedRows)
	assert.Equal(t, uint64(4), stats.Persisted)

	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, utils.DiagnosticComponent, hook.LastEntry().Data["component"])
}

func TestFlush_ConnectionFailureDiscardsBatch(t *testing.T) {
	store := newFakeStore()
	store.setOpenErr(utils.NewAppError(utils.ErrCodeConnection, "Failed to open database session", "refused"))
	s, hook := newTestSink(t, store, Config{FlushThreshold: 3})

	s.Append(entry("a"))
	s.Append(entry("b"))
	s.Append(entry("c"))

	assert.Empty(t, store.persisted())
	assert.Equal(t, 0, s.QueueLength(), "failed batch is not re-queued")
	assert.Equal(t, uint64(3), s.Stats().DroppedEntries)
	assert.Equal(t, uint64(1), s.Stats().DroppedBatches)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	assert.Equal(t, 3, hook.LastEntry().Data["dropped"])

	store.setOpenErr(nil)
	s.Append(entry("d"))
	s.Flush(context.Background())
	assert.Equal(t, []string{"d"}, store.persisted())
}

func TestFlush_ConnectionLostMidBatch(t *testing.T) {
	store := newFakeStore()
	store.loseConn = "c"
	s, _ := newTestSink(t, store, Config{FlushThreshold: 100})

	for _, c := range []string{"a", "b", "c", "d", "e"} {
		s.Append(entry(c))
	}
	s.Flush(context.Background())

	assert.Equal(t, []string{"a", "b"}, store.persisted())
	stats := s.Stats()
	assert.Equal(t, uint64(3), stats.DroppedEntries)
	assert.Equal(t, uint64(0), stats.DroppedRows)
	assert.Equal(t, 0, s.QueueLength())
}

func TestFlush_PanicInStorageIsContained(t *testing.T) {
	store := newFakeStore()
	store.panicOn = "boom"
	s, hook := newTestSink(t, store, Config{FlushThreshold: 3})

	assert.NotPanics(t, func() {
		s.Append(entry("a"))
		s.Append(entry("boom"))
		s.Append(entry("c"))
	})

	assert.Equal(t, []string{"a"}, store.persisted())
	assert.Equal(t, uint64(2), s.Stats().DroppedEntries)

	report := hook.LastEntry()
	require.NotNil(t, report)
	assert.Contains(t, report.Data["error"], utils.ErrCodeInternal)
	assert.Contains(t, report.Data["stack"], "goroutine")

	// Sink stays usable.
	s.Append(entry("x"))
	s.Flush(context.Background())
	assert.Equal(t, []string{"a", "x"}, store.persisted())
}

func TestFlush_DrainIsAtomic(t *testing.T) {
	store := newFakeStore()
	store.openGate = make(chan struct{})
	store.entered = make(chan struct{}, 1)
	s, _ := newTestSink(t, store, Config{FlushThreshold: 100})

	s.Append(entry("early-1"))
	s.Append(entry("early-2"))

	done := make(chan struct{})
	go func() {
		s.Flush(context.Background())
		close(done)
	}()

	<-store.entered
	s.Append(entry("late"))
	close(store.openGate)
	<-done

	assert.Equal(t, []string{"early-1", "early-2"}, store.persisted())
	assert.Equal(t, 1, s.QueueLength())

	store.entered = nil
	store.openGate = nil
	s.Flush(context.Background())
	assert.Equal(t, []string{"early-1", "early-2", "late"}, store.persisted())
}

func TestAppend_ConcurrentProducers(t *testing.T) {
	store := newFakeStore()
	s, _ := newTestSink(t, store, Config{FlushThreshold: 7})

	const producers = 32
	const perProducer = 100

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				s.Append(entry(fmt.Sprintf("%d-%d", p, i)))
			}
		}(p)
	}
	wg.Wait()
	require.NoError(t, s.Close())

	got := store.persisted()
	assert.Len(t, got, producers*perProducer)

	seen := make(map[string]bool, len(got))
	for _, c := range got {
		assert.False(t, seen[c], "entry %s persisted twice", c)
		seen[c] = true
	}
	assert.Equal(t, 1, store.maxActive, "flushes must not overlap")
	assert.Equal(t, uint64(producers*perProducer), s.Stats().Persisted)
}

func TestClose_IdempotentAndRejectsAppends(t *testing.T) {
	store := newFakeStore()
	s, hook := newTestSink(t, store, Config{FlushThreshold: 10})

	s.Append(entry("a"))
	require.NoError(t, s.Close())
	assert.Equal(t, []string{"a"}, store.persisted())
	assert.Equal(t, 1, store.opens)

	require.NoError(t, s.Close())
	assert.Equal(t, 1, store.opens, "second close flushes an empty queue")

	s.Append(entry("late"))
	assert.Equal(t, 0, s.QueueLength())
	assert.True(t, s.Stats().Closed)
	assert.Equal(t, uint64(1), s.Stats().DroppedEntries)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestClose_RacingAppendsAreAccounted(t *testing.T) {
	store := newFakeStore()
	s, _ := newTestSink(t, store, Config{FlushThreshold: 1000})

	const producers = 16
	const perProducer = 200

	start := make(chan struct{})
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			<-start
			for i := 0; i < perProducer; i++ {
				s.Append(entry(fmt.Sprintf("%d-%d", p, i)))
			}
		}(p)
	}

	close(start)
	require.NoError(t, s.Close())
	wg.Wait()

	stats := s.Stats()
	assert.Equal(t, 0, s.QueueLength(), "nothing may be stranded in the queue after close")
	assert.Equal(t, uint64(producers*perProducer), stats.Persisted+stats.DroppedEntries)
	assert.Equal(t, stats.Appended, stats.Persisted)
}

func TestIntervalFlusher(t *testing.T) {
	store := newFakeStore()
	s, _ := newTestSink(t, store, Config{FlushThreshold: 100, FlushInterval: 10 * time.Millisecond})

	s.Start(context.Background())
	defer s.Stop()

	s.Append(entry("tick"))
	require.Eventually(t, func() bool {
		return len(store.persisted()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestIntervalFlusher_DisabledWhenZero(t *testing.T) {
	store := newFakeStore()
	s, _ := newTestSink(t, store, Config{FlushThreshold: 100})

	s.Start(context.Background())
	s.Append(entry("stay"))
	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, 1, s.QueueLength())
	s.Stop()
}

func TestFlushTimeoutBoundsAppend(t *testing.T) {
	store := newFakeStore()
	store.waitOnCtx = true
	s, _ := newTestSink(t, store, Config{FlushThreshold: 1, FlushTimeout: 20 * time.Millisecond})

	done := make(chan struct{})
	go func() {
		s.Append(entry("stalled"))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("append did not return after the flush timeout")
	}
	assert.Equal(t, uint64(1), s.Stats().DroppedEntries)
}
