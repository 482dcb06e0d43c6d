package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testSampling struct {
	Rate float64 `koanf:"rate"`
}

type testMetrics struct {
	Enabled        bool     `koanf:"enabled"`
	ExportInterval Duration `koanf:"export_interval"`
}

type testConfig struct {
	ServiceName string            `koanf:"service_name"`
	Endpoint    string            `koanf:"endpoint"`
	Headers     map[string]Secret `koanf:"headers"`
	Sampling    testSampling      `koanf:"sampling"`
	Metrics     testMetrics       `koanf:"metrics"`
}

func defaultTestConfig() *testConfig {
	return &testConfig{
		ServiceName: "default-service",
		Sampling:    testSampling{Rate: 1.0},
		Metrics:     testMetrics{Enabled: true, ExportInterval: Duration(15 * time.Second)},
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfig(t, `service_name: checkout
endpoint: collector:4317
headers:
  authorization: Bearer abc
sampling:
  rate: 0.25
metrics:
  export_interval: 5s
`)

	cfg := defaultTestConfig()
	require.NoError(t, Load(Options{Path: path}, cfg))

	assert.Equal(t, "checkout", cfg.ServiceName)
	assert.Equal(t, "collector:4317", cfg.Endpoint)
	assert.Equal(t, "Bearer abc", cfg.Headers["authorization"].Value())
	assert.Equal(t, 0.25, cfg.Sampling.Rate)
	assert.Equal(t, 5*time.Second, cfg.Metrics.ExportInterval.Duration())
	// Untouched keys keep defaults
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoad_MissingFileKeepsDefaults(t *testing.T) {
	cfg := defaultTestConfig()
	err := Load(Options{Path: filepath.Join(t.TempDir(), "absent.yaml")}, cfg)
	require.NoError(t, err)
	assert.Equal(t, "default-service", cfg.ServiceName)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	path := writeConfig(t, `service_name: from-file
sampling:
  rate: 0.5
`)
	t.Setenv("OTELKIT_TEST_SERVICE_NAME", "from-env")
	t.Setenv("OTELKIT_TEST_SAMPLING_RATE", "0.1")
	t.Setenv("OTELKIT_TEST_METRICS_EXPORT_INTERVAL", "30s")

	cfg := defaultTestConfig()
	err := Load(Options{
		Path:      path,
		EnvPrefix: "OTELKIT_TEST_",
		Sections:  []string{"sampling", "metrics"},
	}, cfg)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.ServiceName)
	assert.Equal(t, 0.1, cfg.Sampling.Rate)
	assert.Equal(t, 30*time.Second, cfg.Metrics.ExportInterval.Duration())
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, "metrics:\n  export_interval: soon\n")
	err := Load(Options{Path: path}, defaultTestConfig())
	require.Error(t, err)
}

func TestLoad_RejectsWorldWritable(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission model differs on windows")
	}
	path := writeConfig(t, "service_name: x\n")
	require.NoError(t, os.Chmod(path, 0666))

	err := Load(Options{Path: path}, defaultTestConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "world-writable")
}

func TestLoad_RejectsOversizedFile(t *testing.T) {
	path := writeConfig(t, "service_name: "+strings.Repeat("a", maxConfigFileSize)+"\n")
	err := Load(Options{Path: path}, defaultTestConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestEnvKeyMapper(t *testing.T) {
	mapper := envKeyMapper("OTELKIT_", []string{"metrics", "sampling"})

	assert.Equal(t, "service_name", mapper("OTELKIT_SERVICE_NAME"))
	assert.Equal(t, "metrics/export_interval", mapper("OTELKIT_METRICS_EXPORT_INTERVAL"))
	assert.Equal(t, "sampling/rate", mapper("OTELKIT_SAMPLING_RATE"))
	assert.Equal(t, "batch_timeout", mapper("OTELKIT_BATCH_TIMEOUT"))

	nested := envKeyMapper("OTELKIT_", []string{"logging", "logging.output"})
	assert.Equal(t, "logging/output/stdout", nested("OTELKIT_LOGGING_OUTPUT_STDOUT"))
	assert.Equal(t, "logging/format", nested("OTELKIT_LOGGING_FORMAT"))
}

func TestLoad_ScalarsIntoTextTypes(t *testing.T) {
	path := writeConfig(t, "headers:\n  x-api-key: 12345\nmetrics:\n  enabled: false\n  export_interval: 750\n")

	cfg := defaultTestConfig()
	require.NoError(t, Load(Options{Path: path}, cfg))

	assert.Equal(t, "12345", cfg.Headers["x-api-key"].Value())
	assert.False(t, cfg.Metrics.Enabled, "plain bool fields are untouched")
	assert.Equal(t, 750*time.Millisecond, cfg.Metrics.ExportInterval.Duration())
}
