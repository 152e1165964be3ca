package ingest

import (
	"context"
	"io"
	"sync"

	"github.com/hpcloud/tail"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/dbtrace/internal/config"
	"github.com/smartdevs17/dbtrace/pkg/utils"
)

// Tailer follows a file and writes every new line under a fixed category.
type Tailer struct {
	cfg    config.TailConfig
	tracer Tracer
	logger *logrus.Entry

	mu      sync.Mutex
	t       *tail.Tail
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewTailer creates a tailer. It does nothing until Start is called.
func NewTailer(cfg config.TailConfig, tracer Tracer, logger *logrus.Logger) *Tailer {
	return &Tailer{
		cfg:    cfg,
		tracer: tracer,
		logger: logger.WithFields(logrus.Fields{"component": "tailer", "path": cfg.Path}),
	}
}

// Start opens the file and begins following it.
func (t *Tailer) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return utils.NewAppError(utils.ErrCodeInternal, "tailer already running")
	}

	tc := tail.Config{
		Follow: true,
		ReOpen: true,
		Poll:   t.cfg.Poll,
		Logger: tail.DiscardingLogger,
	}
	if t.cfg.FromEnd {
		tc.Location = &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd}
	}

	tf, err := tail.TailFile(t.cfg.Path, tc)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeInternal, "failed to tail file", err.Error())
	}

	ctx, cancel := context.WithCancel(ctx)
	t.t = tf
	t.cancel = cancel
	t.running = true

	t.wg.Add(1)
	go t.follow(ctx, tf)

	t.logger.Info("File tailer started")
	return nil
}

// Stop ends the follow loop and releases the file.
func (t *Tailer) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	t.cancel()
	tf := t.t
	t.mu.Unlock()

	if err := tf.Stop(); err != nil {
		t.logger.WithError(err).Debug("Tail stopped with error")
	}
	t.wg.Wait()
	tf.Cleanup()
	t.logger.Info("File tailer stopped")
}

func (t *Tailer) follow(ctx context.Context, tf *tail.Tail) {
	defer t.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-tf.Lines:
			if !ok {
				return
			}
			if line == nil {
				continue
			}
			if line.Err != nil {
				t.logger.WithError(line.Err).Warn("Error reading tailed file")
				continue
			}
			t.tracer.WriteCategory(line.Text, t.cfg.Category)
		}
	}
}
