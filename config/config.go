package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/INLOpen/nexuslog/core"
	"gopkg.in/yaml.v3"
)

// TLSConfig holds TLS-specific configurations.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// StoreConfig holds the log store configuration.
type StoreConfig struct {
	BaseDir                string `yaml:"base_dir"`
	Host                   string `yaml:"host"` // defaults to the machine hostname
	SegmentSizeBytes       int64  `yaml:"segment_size_bytes"`
	FlushThreshold         int    `yaml:"flush_threshold"`
	FlushInterval          string `yaml:"flush_interval"`
	RingBufferSize         int    `yaml:"ring_buffer_size"`
	Codec                  string `yaml:"codec"`       // "json" or "proto"
	Compression            string `yaml:"compression"` // "none", "snappy", "lz4" or "zstd"
	RetentionPeriod        string `yaml:"retention_period"`
	RetentionCheckInterval string `yaml:"retention_check_interval"`
	Preallocate            bool   `yaml:"preallocate"`
	SyncOnFlush            bool   `yaml:"sync_on_flush"`
}

type QueryConfig struct {
	Workers         int  `yaml:"workers"`
	DefaultPageSize int  `yaml:"default_page_size"`
	PruneByFileTime bool `yaml:"prune_by_file_time"`
}

// MetricsConfig holds the metrics endpoint configuration.
type MetricsConfig struct {
	Enabled              bool   `yaml:"enabled"`
	RefreshInterval      string `yaml:"refresh_interval"`
	Path                 string `yaml:"path"`
	PerformanceThreshold string `yaml:"performance_threshold"`
	SlowFlushThreshold   string `yaml:"slow_flush_threshold"`
	PrometheusEnabled    bool   `yaml:"prometheus_enabled"`
	PrometheusNamespace  string `yaml:"prometheus_namespace"`
	ExpvarName           string `yaml:"expvar_name"`
}

// CaptureConfig controls which requests to the server itself are recorded.
type CaptureConfig struct {
	Enabled          bool     `yaml:"enabled"`
	URLPatterns      []string `yaml:"url_patterns"`
	ExcludePatterns  []string `yaml:"exclude_patterns"` // the server's own /api/logs/** by default
	MaxContentLength int      `yaml:"max_content_length"`
	LogRequestBody   bool     `yaml:"log_request_body"`
	LogResponseBody  bool     `yaml:"log_response_body"`
	LogHeaders       bool     `yaml:"log_headers"`
	RedactHeaders    []string `yaml:"redact_headers"`
	RedactParams     []string `yaml:"redact_params"`
}

// AuthConfig enables basic auth against a YAML user file of bcrypt hashes.
type AuthConfig struct {
	Enabled      bool   `yaml:"enabled"`
	UserFilePath string `yaml:"user_file_path"`
}

// ServerConfig holds server-specific configurations.
type ServerConfig struct {
	ListenAddress   string     `yaml:"listen_address"`
	ShutdownTimeout string     `yaml:"shutdown_timeout"`
	TLS             TLSConfig  `yaml:"tls"`
	Auth            AuthConfig `yaml:"auth"`
}

// LoggingConfig holds logging-specific configurations.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // e.g., "debug", "info", "warn", "error"
	Output string `yaml:"output"` // e.g., "stdout", "file", "none"
	File   string `yaml:"file"`   // Path to the log file, used if output is "file"
}

// DebugConfig holds debugging-related configurations.
type DebugConfig struct {
	Enabled             bool   `yaml:"enabled"`
	ListenAddress       string `yaml:"listen_address"`
	PProfEnabled        bool   `yaml:"pprof_enabled"`
	MetricsEnabled      bool   `yaml:"metrics_enabled"`
	MonitorUIEnabled    bool   `yaml:"monitor_ui_enabled"`
	SystemStatsInterval string `yaml:"system_stats_interval"`
}

// TracingConfig holds configuration for distributed tracing.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"` // e.g., "localhost:4317" for gRPC OTLP collector
	Protocol string `yaml:"protocol"` // "grpc" or "http"
}

// Config is the top-level configuration struct.
type Config struct {
	Store   StoreConfig   `yaml:"store"`
	Query   QueryConfig   `yaml:"query"`
	Metrics MetricsConfig `yaml:"metrics"`
	Capture CaptureConfig `yaml:"capture"`
	Server  ServerConfig  `yaml:"server"`
	Debug   DebugConfig   `yaml:"debug"`
	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
}

// ParseDuration parses a duration string. Returns the default duration if the string is empty or invalid.
// Logs a warning if the string is invalid but not empty.
func ParseDuration(durationStr string, defaultDuration time.Duration, logger *slog.Logger) time.Duration {
	if durationStr == "" || durationStr == "0" {
		return defaultDuration
	}
	d, err := time.ParseDuration(durationStr)
	if err != nil {
		if logger != nil {
			logger.Warn("Invalid duration format, using default", "input", durationStr, "default", defaultDuration.String(), "error", err)
		}
		return defaultDuration
	}
	return d
}

// Default returns the configuration used for every key a file leaves out.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			BaseDir:                "./logs/api",
			SegmentSizeBytes:       64 * 1024 * 1024, // 64 MiB
			FlushThreshold:         100,
			FlushInterval:          "100ms",
			RingBufferSize:         16384,
			Codec:                  "json",
			Compression:            "none",
			RetentionPeriod:        "168h", // 7 days
			RetentionCheckInterval: "1h",
			Preallocate:            true,
		},
		Query: QueryConfig{
			Workers:         4,
			DefaultPageSize: 20,
		},
		Metrics: MetricsConfig{
			Enabled:              true,
			RefreshInterval:      "1s",
			Path:                 "/oem-log/metrics",
			PerformanceThreshold: "100ms",
			SlowFlushThreshold:   "500ms",
			PrometheusEnabled:    true,
			PrometheusNamespace:  "nexuslog",
			ExpvarName:           "nexuslog",
		},
		Capture: CaptureConfig{
			Enabled:          true,
			URLPatterns:      []string{"/api/**"},
			ExcludePatterns:  []string{"/api/logs/**"},
			MaxContentLength: 1000,
			LogRequestBody:   true,
			LogResponseBody:  true,
			LogHeaders:       false,
			RedactHeaders:    []string{"Authorization", "Cookie"},
		},
		Server: ServerConfig{
			ListenAddress:   ":8080",
			ShutdownTimeout: "10s",
			TLS: TLSConfig{
				Enabled:  false,
				CertFile: "certs/server.crt",
				KeyFile:  "certs/server.key",
			},
			Auth: AuthConfig{
				Enabled:      false,
				UserFilePath: "users.yaml",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stdout",
			File:   "nexuslog.log",
		},
		Tracing: TracingConfig{
			Enabled:  false,
			Endpoint: "localhost:4317",
			Protocol: "grpc",
		},
		Debug: DebugConfig{
			Enabled:             false,
			ListenAddress:       "127.0.0.1:6060",
			PProfEnabled:        true,
			MetricsEnabled:      true,
			MonitorUIEnabled:    true,
			SystemStatsInterval: "15s",
		},
	}
}

// Load reads configuration from an io.Reader.
// This is the core logic, separated for testability.
func Load(r io.Reader) (*Config, error) {
	cfg := Default()

	// If the reader is nil, it's like an empty file, return defaults.
	if r == nil {
		return cfg, nil
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config data: %w", err)
	}
	if len(data) == 0 {
		return cfg, nil
	}

	// Unmarshal YAML into the config struct, overwriting defaults
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig reads configuration from a YAML file by path.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			// If file doesn't exist, return default config by calling Load with a nil reader.
			return Load(nil)
		}
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()

	return Load(file)
}

// Validate rejects values the store cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Store.BaseDir == "" {
		errs = append(errs, errors.New("store.base_dir must not be empty"))
	}
	if c.Store.SegmentSizeBytes < 0 {
		errs = append(errs, fmt.Errorf("store.segment_size_bytes must not be negative, got %d", c.Store.SegmentSizeBytes))
	}
	if c.Store.FlushThreshold < 0 {
		errs = append(errs, fmt.Errorf("store.flush_threshold must not be negative, got %d", c.Store.FlushThreshold))
	}
	switch c.Store.Codec {
	case "", "json", "proto":
	default:
		errs = append(errs, fmt.Errorf("store.codec must be json or proto, got %q", c.Store.Codec))
	}
	if _, err := core.ParseCompressionType(c.Store.Compression); err != nil {
		errs = append(errs, fmt.Errorf("store.compression: %w", err))
	}
	switch c.Tracing.Protocol {
	case "", "grpc", "http":
	default:
		errs = append(errs, fmt.Errorf("tracing.protocol must be grpc or http, got %q", c.Tracing.Protocol))
	}
	return errors.Join(errs...)
}
