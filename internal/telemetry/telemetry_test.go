package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric"

	"github.com/fyrsmithlabs/orchestrd/internal/config"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults valid", func(*Config) {}, ""},
		{"disabled skips validation", func(c *Config) {
			c.Enabled = false
			c.Endpoint = ""
		}, ""},
		{"missing endpoint", func(c *Config) {
			c.Endpoint = ""
		}, "endpoint is required"},
		{"missing service name", func(c *Config) {
			c.ServiceName = ""
		}, "service_name is required"},
		{"insecure remote endpoint", func(c *Config) {
			c.Endpoint = "collector.example.com:4317"
		}, "insecure connections to remote endpoints"},
		{"secure remote endpoint allowed", func(c *Config) {
			c.Endpoint = "collector.example.com:4317"
			c.Insecure = false
		}, ""},
		{"sampling rate out of range", func(c *Config) {
			c.SamplingRate = 1.5
		}, "sampling_rate"},
		{"non-positive metrics interval", func(c *Config) {
			c.MetricsInterval = config.Duration(0)
		}, "metrics_interval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			cfg.Enabled = true
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestNewDisabled(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig())
	require.NoError(t, err)

	assert.False(t, tel.IsEnabled())
	assert.NotNil(t, tel.Tracer("test"))
	assert.NotNil(t, tel.Meter("test"))
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNewInvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.Endpoint = ""

	_, err := New(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid telemetry config")
}

func TestNilTelemetryIsNoOp(t *testing.T) {
	var tel *Telemetry

	assert.False(t, tel.IsEnabled())
	assert.NotNil(t, tel.Tracer("test"))
	assert.NoError(t, tel.Shutdown(context.Background()))
	assert.NoError(t, tel.ForceFlush(context.Background()))
}

func TestTestTelemetryRecordsSpans(t *testing.T) {
	tel := NewTestTelemetry()

	tracer := tel.Tracer("test-scope")
	_, span := tracer.Start(context.Background(), "test.operation")
	span.End()

	tel.AssertSpanExists(t, "test.operation")
	assert.Nil(t, tel.SpanByName("missing"))
}

func TestTestTelemetryRecordsCounters(t *testing.T) {
	tel := NewTestTelemetry()

	meter := tel.Meter("test-scope")
	counter, err := meter.Int64Counter("orchestrd.test.total",
		metric.WithDescription("test counter"))
	require.NoError(t, err)

	counter.Add(context.Background(), 2)
	counter.Add(context.Background(), 3)

	assert.Equal(t, int64(5), tel.CounterValue(t, "orchestrd.test.total"))
	assert.Equal(t, int64(0), tel.CounterValue(t, "orchestrd.untracked"))
}
