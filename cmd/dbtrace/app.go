// File: cmd/dbtrace/app.go
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/dbtrace/internal/config"
	"github.com/smartdevs17/dbtrace/internal/ingest"
	"github.com/smartdevs17/dbtrace/internal/metrics"
	"github.com/smartdevs17/dbtrace/internal/server"
	"github.com/smartdevs17/dbtrace/internal/sink"
	"github.com/smartdevs17/dbtrace/internal/storage"
	"github.com/smartdevs17/dbtrace/internal/trace"
	"github.com/smartdevs17/dbtrace/pkg/utils"
)

// Application wires the sink to its storage, feeders and HTTP surface
type Application struct {
	config   *config.Config
	logger   *logrus.Logger
	diag     *logrus.Logger
	metrics  *metrics.Manager
	storage  storage.Storage
	sink     *sink.BatchingSink
	listener *trace.Listener
	hook     *trace.Hook
	tailer   *ingest.Tailer
	consumer *ingest.AMQPConsumer
	server   *server.HTTPServer
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewApplication creates a new application instance
func NewApplication(cfg *config.Config) (*Application, error) {
	ctx, cancel := context.WithCancel(context.Background())

	app := &Application{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	if err := app.initializeLogger(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := app.initializeComponents(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	return app, nil
}

// initializeLogger sets up the host logger and the separate diagnostic logger
func (app *Application) initializeLogger() error {
	logCfg := app.config.Logging

	if err := utils.InitLogger(logCfg.Level, logCfg.Format, logCfg.Output, logCfg.File); err != nil {
		return err
	}

	app.logger = utils.GetLogger()
	app.diag = utils.NewDiagnosticLogger(logCfg.DiagnosticsLevel, logCfg.Format, nil)

	app.logger.WithFields(logrus.Fields{
		"level":             logCfg.Level,
		"format":            logCfg.Format,
		"output":            logCfg.Output,
		"diagnostics_level": logCfg.DiagnosticsLevel,
	}).Info("Logger initialized")

	return nil
}

// initializeComponents initializes all application components
func (app *Application) initializeComponents() error {
	app.logger.Info("Initializing application components")

	app.metrics = metrics.NewManager()

	if err := app.initializeStorage(); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := app.initializeSink(); err != nil {
		return fmt.Errorf("failed to initialize sink: %w", err)
	}

	app.initializeIngest()

	if app.config.Server.Enabled {
		if err := app.initializeServer(); err != nil {
			return fmt.Errorf("failed to initialize server: %w", err)
		}
	}

	app.logger.Info("All components initialized successfully")
	return nil
}

// initializeStorage connects the store and bootstraps the table when asked to
func (app *Application) initializeStorage() error {
	app.logger.Info("Initializing storage layer")

	store, err := storage.NewStorage(&app.config.Storage)
	if err != nil {
		return fmt.Errorf("failed to create storage: %w", err)
	}

	if err := store.Connect(); err != nil {
		return fmt.Errorf("failed to connect to storage: %w", err)
	}

	if app.config.Storage.EnsureSchema {
		ctx, cancel := context.WithTimeout(app.ctx, 30*time.Second)
		defer cancel()
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return fmt.Errorf("failed to ensure log table: %w", err)
		}
	}

	app.storage = storage.NewStorageWithMetrics(store, app.metrics)

	app.logger.WithFields(logrus.Fields{
		"type":  store.Type(),
		"table": store.Table(),
	}).Info("Storage layer initialized successfully")
	return nil
}

// initializeSink creates the batching sink and the listener in front of it
func (app *Application) initializeSink() error {
	sinkCfg := app.config.Sink

	var err error
	app.sink, err = sink.New(app.storage, sink.Config{
		FlushThreshold: sinkCfg.FlushThreshold,
		FlushInterval:  sinkCfg.FlushInterval,
		FlushTimeout:   sinkCfg.FlushTimeout,
	}, sink.WithDiagnostics(app.diag), sink.WithMetrics(app.metrics))
	if err != nil {
		return err
	}

	host := trace.ResolveHostInfo()
	app.listener = trace.NewListener(app.sink, host, trace.NewRuntimeIntrospector(host),
		trace.WithStackCapture(sinkCfg.CaptureStack, sinkCfg.StackSkip),
		trace.WithDiagnostics(app.diag),
	)

	if app.config.Logging.ForwardToSink {
		app.hook = trace.NewHook(app.listener, app.logger.GetLevel())
		app.logger.AddHook(app.hook)
	}

	app.logger.WithFields(logrus.Fields{
		"flush_threshold": sinkCfg.FlushThreshold,
		"flush_interval":  sinkCfg.FlushInterval,
		"machine":         host.MachineName,
		"process":         host.ProcessName,
	}).Info("Batching sink initialized")
	return nil
}

// initializeIngest creates the optional feeders
func (app *Application) initializeIngest() {
	ingestCfg := app.config.Ingest

	if ingestCfg.Tail.Enabled {
		app.tailer = ingest.NewTailer(ingestCfg.Tail, app.listener, app.logger)
	}
	if ingestCfg.AMQP.Enabled {
		app.consumer = ingest.NewAMQPConsumer(ingestCfg.AMQP, app.listener, app.logger, app.diag)
	}
}

// initializeServer initializes the HTTP server
func (app *Application) initializeServer() error {
	app.logger.Info("Initializing HTTP server")

	var err error
	app.server, err = server.NewHTTPServer(&app.config.Server, app.storage, app.sink, app.listener, app.metrics)
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}
	return nil
}

// Start starts the application
func (app *Application) Start() error {
	app.logger.WithFields(logrus.Fields{
		"version":     AppVersion,
		"environment": app.config.App.Environment,
	}).Info("Starting dbtrace")

	app.sink.Start(app.ctx)

	if app.tailer != nil {
		if err := app.tailer.Start(app.ctx); err != nil {
			return fmt.Errorf("failed to start file tailer: %w", err)
		}
	}
	if app.consumer != nil {
		app.consumer.Start(app.ctx)
	}

	if app.server != nil {
		if err := app.server.Start(); err != nil {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
	}

	app.logger.WithFields(logrus.Fields{
		"server_enabled": app.config.Server.Enabled,
		"server_address": fmt.Sprintf("%s:%d", app.config.Server.Host, app.config.Server.Port),
		"storage":        app.storage.Type(),
	}).Info("dbtrace started successfully")

	return nil
}

// Stop stops the feeders first so the final flush sees everything they
// produced, then closes the sink and the store.
func (app *Application) Stop() error {
	app.logger.Info("Stopping dbtrace")

	if app.server != nil {
		if err := app.server.Stop(); err != nil {
			app.logger.WithError(err).Error("Failed to stop HTTP server")
		}
	}
	if app.tailer != nil {
		app.tailer.Stop()
	}
	if app.consumer != nil {
		app.consumer.Stop()
	}

	app.cancel()

	// shutdown logging below must not feed a sink that is closing
	app.detachHook()

	if app.sink != nil {
		if err := app.sink.Close(); err != nil {
			app.logger.WithError(err).Error("Failed to close sink")
		}
		stats := app.sink.Stats()
		app.logger.WithFields(logrus.Fields{
			"persisted":       stats.Persisted,
			"dropped_entries": stats.DroppedEntries,
			"dropped_rows":    stats.DroppedRows,
		}).Info("Sink closed")
	}

	if app.storage != nil {
		if err := app.storage.Close(); err != nil {
			app.logger.WithError(err).Error("Failed to close storage")
		}
	}

	app.logger.Info("dbtrace stopped successfully")
	return nil
}

// detachHook removes the sink forwarding hook and leaves any others in place
func (app *Application) detachHook() {
	if app.hook == nil {
		return
	}
	kept := make(logrus.LevelHooks)
	for lvl, hooks := range app.logger.Hooks {
		for _, h := range hooks {
			if h != logrus.Hook(app.hook) {
				kept[lvl] = append(kept[lvl], h)
			}
		}
	}
	app.logger.ReplaceHooks(kept)
	app.hook = nil
}
