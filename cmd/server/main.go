package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/INLOpen/nexuslog/auth"
	"github.com/INLOpen/nexuslog/codec"
	"github.com/INLOpen/nexuslog/config"
	"github.com/INLOpen/nexuslog/core"
	"github.com/INLOpen/nexuslog/engine"
	"github.com/INLOpen/nexuslog/hooks"
	"github.com/INLOpen/nexuslog/hooks/listeners"
	"github.com/INLOpen/nexuslog/metrics"
	"github.com/INLOpen/nexuslog/server"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// createLogger creates a slog.Logger based on the provided configuration.
func createLogger(cfg config.LoggingConfig) (*slog.Logger, io.Closer, error) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, nil, fmt.Errorf("invalid log level: %s", cfg.Level)
	}

	var output io.Writer
	var closer io.Closer
	switch strings.ToLower(cfg.Output) {
	case "stdout":
		output = os.Stdout
	case "file":
		if cfg.File == "" {
			return nil, nil, fmt.Errorf("log output is 'file' but no file path is specified")
		}
		file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file %s: %w", cfg.File, err)
		}
		output = file
		closer = file
	case "none":
		output = io.Discard
	default:
		return nil, nil, fmt.Errorf("invalid log output: %s", cfg.Output)
	}

	logger := slog.New(slog.NewJSONHandler(output, &slog.HandlerOptions{Level: level}))
	return logger, closer, nil
}

// initTracerProvider creates and configures an OpenTelemetry TracerProvider.
// It sets up an exporter based on the configuration to send traces to a collector.
func initTracerProvider(cfg config.TracingConfig, logger *slog.Logger) (*sdktrace.TracerProvider, func(), error) {
	if !cfg.Enabled {
		logger.Info("Distributed tracing is disabled.")
		return sdktrace.NewTracerProvider(), func() {}, nil
	}

	logger.Info("Initializing distributed tracing...", "protocol", cfg.Protocol, "endpoint", cfg.Endpoint)

	ctx := context.Background()
	var exporter sdktrace.SpanExporter
	var err error
	switch strings.ToLower(cfg.Protocol) {
	case "http":
		exporter, err = otlptrace.New(ctx, otlptracehttp.NewClient(otlptracehttp.WithEndpoint(cfg.Endpoint), otlptracehttp.WithInsecure()))
	case "grpc":
		exporter, err = otlptrace.New(ctx, otlptracegrpc.NewClient(otlptracegrpc.WithEndpoint(cfg.Endpoint), otlptracegrpc.WithInsecure()))
	default:
		return nil, nil, fmt.Errorf("unsupported tracing protocol: %q", cfg.Protocol)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceNameKey.String("nexuslog")))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	cleanup := func() {
		logger.Info("Shutting down tracer provider...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error shutting down tracer provider", "error", err)
		}
	}
	return tp, cleanup, nil
}

// storeOptions maps the store, query and metrics sections onto engine options.
func storeOptions(cfg *config.Config, logger *slog.Logger) (engine.Options, error) {
	ct, err := core.ParseCompressionType(cfg.Store.Compression)
	if err != nil {
		return engine.Options{}, err
	}
	c, err := codec.New(cfg.Store.Codec, ct)
	if err != nil {
		return engine.Options{}, err
	}

	opts := engine.DefaultOptions(cfg.Store.BaseDir)
	opts.Host = cfg.Store.Host
	if opts.Host == "" {
		if h, err := os.Hostname(); err == nil {
			opts.Host = h
		}
	}
	opts.Codec = c
	opts.SegmentSize = cfg.Store.SegmentSizeBytes
	opts.FlushThreshold = cfg.Store.FlushThreshold
	opts.FlushInterval = config.ParseDuration(cfg.Store.FlushInterval, engine.DefaultFlushInterval, logger)
	opts.RingBufferSize = cfg.Store.RingBufferSize
	opts.Preallocate = cfg.Store.Preallocate
	opts.SyncOnFlush = cfg.Store.SyncOnFlush
	opts.RetentionPeriod = config.ParseDuration(cfg.Store.RetentionPeriod, 0, logger)
	opts.RetentionCheckInterval = config.ParseDuration(cfg.Store.RetentionCheckInterval, engine.DefaultRetentionCheckInterval, logger)
	opts.QueryWorkers = cfg.Query.Workers
	opts.PruneByFileTime = cfg.Query.PruneByFileTime
	opts.MetricsInterval = config.ParseDuration(cfg.Metrics.RefreshInterval, engine.DefaultMetricsInterval, logger)
	opts.PerformanceThreshold = config.ParseDuration(cfg.Metrics.PerformanceThreshold, metrics.DefaultPerformanceThreshold, logger)
	opts.Logger = logger
	return opts, nil
}

func registerListeners(hm hooks.HookManager, cfg *config.Config, logger *slog.Logger) {
	if len(cfg.Capture.RedactHeaders) > 0 || len(cfg.Capture.RedactParams) > 0 {
		hm.Register(hooks.EventPreStore, listeners.NewRedactionListener(logger, cfg.Capture.RedactHeaders, cfg.Capture.RedactParams))
		logger.Info("Registered RedactionListener for PreStore events.", "headers", cfg.Capture.RedactHeaders, "params", cfg.Capture.RedactParams)
	}
	slowFlush := config.ParseDuration(cfg.Metrics.SlowFlushThreshold, 500*time.Millisecond, logger)
	hm.Register(hooks.EventPostFlush, listeners.NewSlowFlushListener(logger, slowFlush))
	hm.Register(hooks.EventPostSegmentClose, listeners.NewSegmentStatsListener(logger))
	logger.Info("Registered SlowFlushListener and SegmentStatsListener.", "slow_flush_threshold", slowFlush)
}

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		// Use a temporary logger for pre-config errors
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		os.Exit(1)
	}

	logger, logCloser, err := createLogger(cfg.Logging)
	if err != nil {
		slog.Error("Failed to create logger", "error", err)
		os.Exit(1)
	}
	if logCloser != nil {
		defer logCloser.Close()
	}
	logger.Info("Using log store directory", "path", cfg.Store.BaseDir)

	var debugSrv *server.DebugServer
	if cfg.Debug.Enabled {
		debugSrv = server.NewDebugServer(&cfg.Debug, logger)
		go func() {
			if err := debugSrv.Start(); err != nil {
				logger.Error("Failed to start debug server", "error", err)
			}
		}()
	}

	tp, tracerCleanup, err := initTracerProvider(cfg.Tracing, logger)
	if err != nil {
		logger.Error("Failed to initialize tracer provider", "error", err)
		os.Exit(1)
	}

	opts, err := storeOptions(cfg, logger)
	if err != nil {
		logger.Error("Invalid store configuration", "error", err)
		os.Exit(1)
	}
	opts.TracerProvider = tp

	store, err := engine.New(opts)
	if err != nil {
		logger.Error("Failed to create log store", "error", err)
		os.Exit(1)
	}
	registerListeners(store.HookManager(), cfg, logger)

	if cfg.Metrics.Enabled && cfg.Metrics.ExpvarName != "" {
		if err := metrics.PublishExpvar(cfg.Metrics.ExpvarName, store.Metrics()); err != nil {
			logger.Warn("Failed to publish store metrics via expvar", "name", cfg.Metrics.ExpvarName, "error", err)
		}
	}

	var systemCollector *server.SystemCollector
	if cfg.Debug.Enabled && cfg.Debug.MetricsEnabled {
		systemCollector = server.NewSystemCollector(cfg.Store.BaseDir, config.ParseDuration(cfg.Debug.SystemStatsInterval, 15*time.Second, logger), logger)
		systemCollector.Start()
	}

	if err := store.Start(context.Background()); err != nil {
		logger.Error("Failed to start log store", "error", err)
		os.Exit(1)
	}

	authN := auth.NewNonAuthenticator()
	if cfg.Server.Auth.Enabled {
		authN, err = auth.NewAuthenticator(cfg.Server.Auth.UserFilePath, logger)
		if err != nil {
			logger.Error("Failed to load users", "error", err)
			_ = store.Shutdown(context.Background())
			os.Exit(1)
		}
	}

	httpSrv := server.NewHTTPServer(cfg, store, authN, logger)
	logger.Info("Application running. Press Ctrl+C to exit.")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- httpSrv.Start()
	}()

	select {
	case err := <-serverErrChan:
		logger.Error("Server exited with an error", "error", err)
	case <-quit:
		logger.Info("Shutdown signal received. Stopping server...")
		httpSrv.Stop()
		<-serverErrChan
	}

	// The HTTP server is down, so no producer is left; drain and close the store.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ParseDuration(cfg.Server.ShutdownTimeout, 10*time.Second, logger))
	defer cancel()
	if err := store.Shutdown(shutdownCtx); err != nil {
		logger.Error("Log store shutdown failed", "error", err)
	}

	tracerCleanup()
	if systemCollector != nil {
		systemCollector.Stop()
	}
	if debugSrv != nil {
		debugSrv.Stop()
	}
	logger.Info("Application exited gracefully.")
}
