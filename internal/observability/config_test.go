package observability

import (
	"testing"

	"github.com/smallbiznis/autumn/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfigPrefersOtelVariables(t *testing.T) {
	t.Setenv("OTLP_ENDPOINT", "collector:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "otel:4318")
	t.Setenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")
	t.Setenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", "HTTP")
	t.Setenv("DEPLOYMENT_ENV", "staging")
	t.Setenv("OTEL_SAMPLING_RATIO", "7")

	cfg := LoadConfig(config.Load())
	assert.Equal(t, "otel:4318", cfg.OtelExporterEndpoint)
	assert.Equal(t, "http", cfg.OtelExporterProtocol)
	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, 0.1, cfg.OtelSamplingRatio)
	assert.True(t, cfg.OtelEnabled)
	assert.False(t, cfg.Debug())
}

func TestLoadConfigDebugInDevelopment(t *testing.T) {
	cfg := LoadConfig(config.Config{
		Environment: "development",
		Telemetry:   config.TelemetryConfig{LogLevel: "info", OtelEnabled: true, SamplingRatio: 0.5},
	})
	assert.Equal(t, "autumn", cfg.ServiceName)
	assert.True(t, cfg.Debug())
	assert.False(t, cfg.OtelEnabled, "no endpoint")
	assert.Equal(t, 0.5, cfg.OtelSamplingRatio)
}
