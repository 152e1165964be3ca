// File: internal/server/server.go
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/dbtrace/internal/config"
	"github.com/smartdevs17/dbtrace/internal/ingest"
	"github.com/smartdevs17/dbtrace/internal/metrics"
	"github.com/smartdevs17/dbtrace/internal/sink"
	"github.com/smartdevs17/dbtrace/internal/storage"
	"github.com/smartdevs17/dbtrace/pkg/utils"
)

const (
	maxRecordBytes = 1 << 20
	healthTimeout  = 5 * time.Second
)

// SinkController is the part of the batching sink exposed over HTTP.
type SinkController interface {
	Stats() sink.Stats
	// Sync flushes under the sink's own timeout, not the request's.
	Sync()
}

// HTTPServer represents the HTTP server
type HTTPServer struct {
	config         *config.ServerConfig
	server         *http.Server
	router         *mux.Router
	storage        storage.Storage
	sink           SinkController
	tracer         ingest.Tracer
	metricsManager *metrics.Manager
	logger         *logrus.Logger

	stopOnce sync.Once
	done     chan struct{}
}

// NewHTTPServer creates a new HTTP server
func NewHTTPServer(
	cfg *config.ServerConfig,
	store storage.Storage,
	sk SinkController,
	tracer ingest.Tracer,
	metricsManager *metrics.Manager,
) (*HTTPServer, error) {
	if store == nil || sk == nil || tracer == nil {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "HTTP server requires storage, sink and tracer")
	}

	server := &HTTPServer{
		config:         cfg,
		storage:        store,
		sink:           sk,
		tracer:         tracer,
		metricsManager: metricsManager,
		logger:         utils.GetLogger(),
		done:           make(chan struct{}),
	}

	server.setupRouter()

	server.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      server.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return server, nil
}

// setupRouter sets up the HTTP routes
func (s *HTTPServer) setupRouter() {
	s.router = mux.NewRouter()

	s.router.Use(s.loggingMiddleware)
	if s.metricsManager != nil {
		s.router.Use(s.metricsMiddleware)
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()

	if s.config.EnableHealth {
		api.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)
	}
	api.HandleFunc("/stats", s.statsHandler).Methods(http.MethodGet)
	api.HandleFunc("/logs", s.appendHandler).Methods(http.MethodPost)
	api.HandleFunc("/flush", s.flushHandler).Methods(http.MethodPost)

	if s.config.EnableMetrics && s.metricsManager != nil {
		s.router.Handle("/metrics", s.metricsManager.Handler()).Methods(http.MethodGet)
	}
}

// Handler returns the routed handler, for embedding and tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *HTTPServer) Start() error {
	s.logger.WithFields(logrus.Fields{
		"address":         s.server.Addr,
		"metrics_enabled": s.config.EnableMetrics,
	}).Info("Starting HTTP server")

	if s.metricsManager != nil {
		s.updateMetrics()
		go s.systemMetricsUpdater()
	}

	errChan := make(chan error, 1)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("HTTP server error")
			errChan <- err
		}
	}()

	// Give the server a moment to surface binding errors
	select {
	case err := <-errChan:
		return fmt.Errorf("failed to start HTTP server: %w", err)
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Stop stops the HTTP server
func (s *HTTPServer) Stop() error {
	s.logger.Info("Stopping HTTP server")
	s.stopOnce.Do(func() { close(s.done) })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// systemMetricsUpdater updates system metrics periodically
func (s *HTTPServer) systemMetricsUpdater() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.updateMetrics()
		case <-s.done:
			return
		}
	}
}

func (s *HTTPServer) updateMetrics() {
	s.metricsManager.UpdateSystemMetrics()
	s.metricsManager.GetPrometheusMetrics().UpdateQueueLength(s.sink.Stats().Queued)
}

// Handlers

// healthHandler reports whether the store is reachable
func (s *HTTPServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	resp := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"storage":   "ok",
	}
	status := http.StatusOK

	if err := s.storage.Ping(ctx); err != nil {
		resp["status"] = "degraded"
		resp["storage"] = err.Error()
		status = http.StatusServiceUnavailable
	}

	s.writeJSON(w, status, resp)
}

// statsHandler returns the sink counters
func (s *HTTPServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"timestamp": time.Now(),
		"sink":      s.sink.Stats(),
		"storage": map[string]string{
			"type":  s.storage.Type(),
			"table": s.storage.Table(),
		},
		"metrics_enabled": s.config.EnableMetrics,
	}

	s.writeJSON(w, http.StatusOK, stats)
}

// appendHandler accepts one JSON log record into the sink
func (s *HTTPServer) appendHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRecordBytes))
	if err != nil {
		s.writeError(w, http.StatusRequestEntityTooLarge, "Request body too large", err)
		return
	}

	rec, err := ingest.DecodeRecord(body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid log record", err)
		return
	}

	ingest.Dispatch(s.tracer, rec)

	s.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status": "accepted",
	})
}

// flushHandler forces a flush of the queued entries. A client hanging up
// mid-flush must not abort the batch.
func (s *HTTPServer) flushHandler(w http.ResponseWriter, r *http.Request) {
	s.sink.Sync()
	w.WriteHeader(http.StatusNoContent)
}

// Utility Methods

// writeJSON writes a JSON response
func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}

// writeError writes an error response
func (s *HTTPServer) writeError(w http.ResponseWriter, status int, message string, err error) {
	errorResponse := map[string]interface{}{
		"error":     message,
		"status":    status,
		"timestamp": time.Now(),
	}

	if err != nil {
		errorResponse["details"] = err.Error()
		s.logger.WithFields(logrus.Fields{
			"status":  status,
			"message": message,
			"error":   err,
		}).Warn("HTTP error")
	}

	s.writeJSON(w, status, errorResponse)
}
