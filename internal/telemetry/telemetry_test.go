package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/fyrsmithlabs/coachd/internal/config"
)

func TestConfig_Validate(t *testing.T) {
	enabled := func(mut func(*Config)) Config {
		c := NewDefaultConfig()
		c.Enabled = true
		mut(&c)
		return c
	}

	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"disabled skips validation", Config{}, ""},
		{"local insecure", enabled(func(c *Config) {}), ""},
		{"remote with tls", enabled(func(c *Config) {
			c.Endpoint = "collector.prod:4317"
			c.Insecure = false
		}), ""},
		{"remote insecure", enabled(func(c *Config) { c.Endpoint = "collector.prod:4317" }), "insecure connections"},
		{"missing endpoint", enabled(func(c *Config) { c.Endpoint = "" }), "endpoint is required"},
		{"missing service", enabled(func(c *Config) { c.ServiceName = "" }), "service_name is required"},
		{"bad protocol", enabled(func(c *Config) { c.Protocol = "thrift" }), "protocol"},
		{"sample rate", enabled(func(c *Config) { c.SampleRate = 1.5 }), "sample rate"},
		{"metrics interval", enabled(func(c *Config) { c.MetricsInterval = 0 }), "metrics interval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestIsLocalEndpoint(t *testing.T) {
	for endpoint, local := range map[string]bool{
		"localhost:4317":        true,
		"127.0.0.1:4317":        true,
		"http://localhost:4318": true,
		"[::1]:4317":            true,
		"collector.prod:4317":   false,
		"10.0.0.1:4317":         false,
	} {
		assert.Equal(t, local, isLocalEndpoint(endpoint), endpoint)
	}
}

func TestFromObservability(t *testing.T) {
	obs := config.Default().Observability
	obs.EnableTelemetry = true
	obs.Protocol = "http"
	obs.MetricsInterval = config.Duration(time.Minute)

	cfg := FromObservability(obs, "1.2.3")
	assert.True(t, cfg.Enabled)
	assert.Equal(t, "http", cfg.Protocol)
	assert.Equal(t, "1.2.3", cfg.ServiceVersion)
	assert.Equal(t, time.Minute, cfg.MetricsInterval)
	assert.NoError(t, cfg.Validate())
}

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig(), nil)
	require.NoError(t, err)

	assert.NotNil(t, tel.Tracer("test"))
	assert.Equal(t, HealthStatus{}, tel.Health())
	assert.NotNil(t, tel.LoggerProvider())
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNew_WithInjectedExporters(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	exp := tracetest.NewInMemoryExporter()
	reader := sdkmetric.NewManualReader()

	tel, err := New(context.Background(), cfg, nil, WithSpanExporter(exp), WithMetricReader(reader))
	require.NoError(t, err)
	assert.Equal(t, HealthStatus{Enabled: true}, tel.Health())

	_, span := tel.Tracer("test").Start(context.Background(), "turn")
	span.End()
	require.NoError(t, tel.ForceFlush(context.Background()))
	require.Len(t, exp.GetSpans(), 1)
	assert.Equal(t, "turn", exp.GetSpans()[0].Name)

	require.NoError(t, tel.Shutdown(context.Background()))
	assert.NoError(t, tel.Shutdown(context.Background()), "second shutdown is a no-op")
	assert.False(t, tel.Health().Enabled)
}

func TestTestTelemetry(t *testing.T) {
	tt := NewTestTelemetry()
	ctx := context.Background()

	_, span := tt.Tracer("test").Start(ctx, "orchestrator.turn")
	span.SetAttributes(attribute.String("phase", "scoping"), attribute.Int("turn", 2))
	span.End()

	tt.AssertSpanExists(t, "orchestrator.turn")
	tt.AssertSpanAttribute(t, "orchestrator.turn", "phase", "scoping")
	tt.AssertSpanAttribute(t, "orchestrator.turn", "turn", int64(2))

	counter, err := tt.Meter("test").Int64Counter("turns")
	require.NoError(t, err)
	counter.Add(ctx, 3)

	rm, err := tt.Collect(ctx)
	require.NoError(t, err)
	_, ok := Metric(rm, "turns")
	assert.True(t, ok)
}
