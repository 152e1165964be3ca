package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/dbtrace/internal/config"
	"github.com/smartdevs17/dbtrace/pkg/utils"
)

const reconnectDelay = 5 * time.Second

// AMQPConsumer reads JSON log records from a durable queue.
type AMQPConsumer struct {
	cfg    config.AMQPConfig
	tracer Tracer
	logger *logrus.Entry
	diag   *logrus.Entry

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewAMQPConsumer creates a consumer. Rejected records are reported on diag.
func NewAMQPConsumer(cfg config.AMQPConfig, tracer Tracer, logger, diag *logrus.Logger) *AMQPConsumer {
	return &AMQPConsumer{
		cfg:    cfg,
		tracer: tracer,
		logger: logger.WithFields(logrus.Fields{"component": "amqp_consumer", "queue": cfg.Queue}),
		diag:   diag.WithField("component", utils.DiagnosticComponent),
	}
}

// Start runs the consume loop in the background, reconnecting until Stop.
func (c *AMQPConsumer) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.Run(ctx); err != nil && ctx.Err() == nil {
			c.logger.WithError(err).Error("AMQP consumer exited")
		}
	}()
}

// Stop cancels the consume loop and waits for it to return.
func (c *AMQPConsumer) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	c.wg.Wait()
	c.logger.Info("AMQP consumer stopped")
}

// Run consumes until ctx is done, reconnecting after broker failures.
func (c *AMQPConsumer) Run(ctx context.Context) error {
	for {
		err := c.consume(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			return nil
		}

		c.logger.WithError(err).Warnf("AMQP consumer disconnected, reconnecting in %s", reconnectDelay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay):
		}
	}
}

func (c *AMQPConsumer) consume(ctx context.Context) error {
	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	closeChan := ch.NotifyClose(make(chan *amqp.Error, 1))

	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}
	if _, err := ch.QueueDeclare(c.cfg.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	msgs, err := ch.Consume(c.cfg.Queue, c.cfg.Consumer, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("AMQP consumer started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-closeChan:
			if err != nil {
				return fmt.Errorf("channel closed: %w", err)
			}
			return fmt.Errorf("channel closed gracefully")

		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("messages channel closed")
			}
			if err := c.handle(msg.Body); err != nil {
				_ = msg.Nack(false, false)
				continue
			}
			_ = msg.Ack(false)
		}
	}
}

// handle decodes and dispatches one message body.
func (c *AMQPConsumer) handle(body []byte) error {
	rec, err := DecodeRecord(body)
	if err != nil {
		c.diag.WithError(err).WithField("size", len(body)).Warn("Rejected queued log record")
		return err
	}
	Dispatch(c.tracer, rec)
	return nil
}
