package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_ValidConfig(t *testing.T) {
	yamlContent := `
store:
  base_dir: "/var/log/orders"
  segment_size_bytes: 8388608 # 8 MiB
  codec: proto
  compression: zstd
capture:
  url_patterns: ["/orders/**", "/admin/*"]
  log_headers: true
`
	cfg, err := Load(strings.NewReader(yamlContent))
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Check overridden values
	assert.Equal(t, "/var/log/orders", cfg.Store.BaseDir)
	assert.Equal(t, int64(8388608), cfg.Store.SegmentSizeBytes)
	assert.Equal(t, "proto", cfg.Store.Codec)
	assert.Equal(t, "zstd", cfg.Store.Compression)
	assert.Equal(t, []string{"/orders/**", "/admin/*"}, cfg.Capture.URLPatterns)
	assert.True(t, cfg.Capture.LogHeaders)

	// Check a default value that was not overridden
	assert.Equal(t, 100, cfg.Store.FlushThreshold)
	assert.Equal(t, 1000, cfg.Capture.MaxContentLength)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, "./logs/api", cfg.Store.BaseDir)
	assert.Equal(t, int64(64*1024*1024), cfg.Store.SegmentSizeBytes)
	assert.Equal(t, 100, cfg.Store.FlushThreshold)
	assert.Equal(t, "100ms", cfg.Store.FlushInterval)
	assert.Equal(t, 16384, cfg.Store.RingBufferSize)
	assert.Equal(t, "json", cfg.Store.Codec)
	assert.Equal(t, "none", cfg.Store.Compression)
	assert.Equal(t, "168h", cfg.Store.RetentionPeriod)
	assert.True(t, cfg.Store.Preallocate)
	assert.Equal(t, 4, cfg.Query.Workers)
	assert.Equal(t, 20, cfg.Query.DefaultPageSize)
	assert.False(t, cfg.Query.PruneByFileTime)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/oem-log/metrics", cfg.Metrics.Path)
	assert.Equal(t, "100ms", cfg.Metrics.PerformanceThreshold)
	assert.Equal(t, []string{"/api/**"}, cfg.Capture.URLPatterns)
	assert.Equal(t, []string{"/api/logs/**"}, cfg.Capture.ExcludePatterns)
	assert.Equal(t, []string{"Authorization", "Cookie"}, cfg.Capture.RedactHeaders)
	assert.Equal(t, ":8080", cfg.Server.ListenAddress)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_EmptyReader(t *testing.T) {
	cfg, err := Load(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.ListenAddress)
}

func TestLoad_InvalidYAML(t *testing.T) {
	yamlContent := `
store:
  base_dir: "/tmp/test_data"
  this: is: invalid: yaml
`
	_, err := Load(strings.NewReader(yamlContent))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to unmarshal config yaml")
}

func TestLoad_InvalidValues(t *testing.T) {
	testCases := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"UnknownCodec", "store:\n  codec: avro\n", "store.codec"},
		{"UnknownCompression", "store:\n  compression: brotli\n", "store.compression"},
		{"EmptyBaseDir", "store:\n  base_dir: \"\"\n", "store.base_dir"},
		{"NegativeThreshold", "store:\n  flush_threshold: -1\n", "store.flush_threshold"},
		{"UnknownTracingProtocol", "tracing:\n  protocol: thrift\n", "tracing.protocol"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tc.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoadConfig_FileIntegration(t *testing.T) {
	t.Run("FileExists", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(configPath, []byte("server:\n  listen_address: \":9090\"\n"), 0644))

		cfg, err := LoadConfig(configPath)
		require.NoError(t, err)
		assert.Equal(t, ":9090", cfg.Server.ListenAddress)
	})

	t.Run("FileDoesNotExist", func(t *testing.T) {
		cfg, err := LoadConfig(filepath.Join(t.TempDir(), "non_existent_config.yaml"))
		require.NoError(t, err)
		assert.Equal(t, ":8080", cfg.Server.ListenAddress)
	})
}

func TestParseDuration(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	defaultDuration := 10 * time.Second

	testCases := []struct {
		name     string
		input    string
		expected time.Duration
	}{
		{"ValidSeconds", "5s", 5 * time.Second},
		{"ValidMilliseconds", "500ms", 500 * time.Millisecond},
		{"ValidHours", "168h", 168 * time.Hour},
		{"EmptyString", "", defaultDuration},
		{"ZeroString", "0", defaultDuration},
		{"InvalidString", "5x", defaultDuration},
		{"JustNumber", "10", defaultDuration},
		{"NilLogger", "5x", defaultDuration}, // Should not panic with nil logger
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var testLogger *slog.Logger
			if tc.name != "NilLogger" {
				testLogger = logger
			}
			assert.Equal(t, tc.expected, ParseDuration(tc.input, defaultDuration, testLogger))
		})
	}
}
