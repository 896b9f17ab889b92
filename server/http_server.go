// Package server exposes a log store over HTTP: the metrics endpoint, the
// query and ingest API, a Prometheus exposition and the debug server.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/INLOpen/nexuslog/auth"
	"github.com/INLOpen/nexuslog/capture"
	"github.com/INLOpen/nexuslog/config"
	"github.com/INLOpen/nexuslog/core"
	"github.com/INLOpen/nexuslog/metrics"
	"github.com/INLOpen/nexuslog/query"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// LogStore is the part of engine.LogStore the HTTP API uses.
type LogStore interface {
	capture.Recorder
	StoreBatch(ctx context.Context, recs []*core.CallRecord) error
	Search(ctx context.Context, req query.Request, defaultPageSize int) (query.Result, error)
	ResetLatency()
	Metrics() *metrics.Registry
}

// HTTPServer serves the log store API.
type HTTPServer struct {
	server          *http.Server
	tls             config.TLSConfig
	shutdownTimeout time.Duration
	logger          *slog.Logger
	started         bool
	mu              sync.Mutex
}

// NewHTTPServer builds the routes for store. authN guards query, search,
// ingest and reset-latency; pass auth.NewNonAuthenticator() to leave them
// open.
func NewHTTPServer(cfg *config.Config, store LogStore, authN auth.Authenticator, logger *slog.Logger) *HTTPServer {
	logger = logger.With("component", "HTTPServer")
	if authN == nil {
		authN = auth.NewNonAuthenticator()
	}

	addr := cfg.Server.ListenAddress
	if addr == "" {
		addr = ":8080"
	}

	return &HTTPServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           NewHandler(cfg, store, authN, logger),
			ReadHeaderTimeout: 10 * time.Second,
		},
		tls:             cfg.Server.TLS,
		shutdownTimeout: config.ParseDuration(cfg.Server.ShutdownTimeout, 10*time.Second, logger),
		logger:          logger,
	}
}

// NewHandler returns the API mux, wrapped with request capture when
// cfg.Capture.Enabled is set.
func NewHandler(cfg *config.Config, store LogStore, authN auth.Authenticator, logger *slog.Logger) http.Handler {
	h := &handlers{
		store:           store,
		defaultPageSize: cfg.Query.DefaultPageSize,
		logger:          logger,
	}
	mux := http.NewServeMux()

	if cfg.Metrics.Enabled {
		path := "/" + strings.Trim(cfg.Metrics.Path, "/")
		mux.HandleFunc("GET "+path, h.handleMetrics)
		mux.Handle(path+"/reset-latency", authN.Require(auth.RoleWriter, http.HandlerFunc(h.handleResetLatency)))
		logger.Info("Metrics endpoint enabled", "path", path)

		if cfg.Metrics.PrometheusEnabled {
			reg := prometheus.NewRegistry()
			reg.MustRegister(
				metrics.NewCollector(cfg.Metrics.PrometheusNamespace, store.Metrics()),
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			mux.Handle("GET /metrics/prometheus", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		}
	}

	mux.Handle("GET /api/logs/query", authN.Require(auth.RoleReader, http.HandlerFunc(h.handleQuery)))
	mux.Handle("POST /api/logs/search", authN.Require(auth.RoleReader, http.HandlerFunc(h.handleSearch)))
	mux.Handle("POST /api/logs/ingest", authN.Require(auth.RoleWriter, http.HandlerFunc(h.handleIngest)))

	if !cfg.Capture.Enabled {
		return mux
	}
	return capture.Middleware(store, CaptureOptions(cfg.Capture, logger))(mux)
}

// CaptureOptions converts the capture section of the config.
func CaptureOptions(cfg config.CaptureConfig, logger *slog.Logger) capture.Options {
	return capture.Options{
		URLPatterns:        cfg.URLPatterns,
		ExcludeURLPatterns: cfg.ExcludePatterns,
		MaxContentLength:   cfg.MaxContentLength,
		LogRequestBody:     cfg.LogRequestBody,
		LogResponseBody:    cfg.LogResponseBody,
		LogHeaders:         cfg.LogHeaders,
		Logger:             logger,
	}
}

// Start starts the HTTP server. It's a blocking call.
func (s *HTTPServer) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	s.logger.Info("HTTP server listening", "address", s.server.Addr, "tls", s.tls.Enabled)
	var err error
	if s.tls.Enabled {
		err = s.server.ListenAndServeTLS(s.tls.CertFile, s.tls.KeyFile)
	} else {
		err = s.server.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		s.logger.Error("HTTP server failed", "error", err)
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *HTTPServer) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	s.logger.Info("Stopping HTTP server...")
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown failed", "error", err)
	} else {
		s.logger.Info("HTTP server stopped gracefully.")
	}
}
