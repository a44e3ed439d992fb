// Package config provides configuration loading for coachd.
//
// Configuration comes from a YAML file overridden by COACHD_* environment
// variables, on top of the defaults returned by Default.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete coachd configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Logging       LoggingConfig       `koanf:"logging"`
	Observability ObservabilityConfig `koanf:"observability"`
	Orchestrator  OrchestratorConfig  `koanf:"orchestrator"`
	Breaker       BreakerConfig       `koanf:"breaker"`
	Complexity    ComplexityConfig    `koanf:"complexity"`
	Intervention  InterventionConfig  `koanf:"intervention"`
	Mailbox       MailboxConfig       `koanf:"mailbox"`
	NATS          NATSConfig          `koanf:"nats"`
	Store         StoreConfig         `koanf:"store"`
	Analytics     AnalyticsConfig     `koanf:"analytics"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"http_host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig selects the logger's level, format and outputs.
type LoggingConfig struct {
	Level     string `koanf:"level"`
	Format    string `koanf:"format"`
	Stdout    bool   `koanf:"stdout"`
	OTEL      bool   `koanf:"otel"`
	Sampling  bool   `koanf:"sampling"`
	Redaction bool   `koanf:"redaction"`
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool     `koanf:"enable_telemetry"`
	ServiceName     string   `koanf:"service_name"`
	Endpoint        string   `koanf:"otlp_endpoint"`
	Protocol        string   `koanf:"otlp_protocol"`
	Insecure        bool     `koanf:"otlp_insecure"`
	SampleRate      float64  `koanf:"sample_rate"`
	MetricsInterval Duration `koanf:"metrics_interval"`
}

// OrchestratorConfig tunes the turn pipeline.
type OrchestratorConfig struct {
	// DispatchTimeout bounds each collaborator call.
	DispatchTimeout Duration `koanf:"dispatch_timeout"`
	// PhaseTimeout advances a stalled phase. Zero disables it.
	PhaseTimeout Duration `koanf:"phase_timeout"`
	// EvictAfter releases ended sessions from memory. Zero keeps them.
	EvictAfter      Duration `koanf:"evict_after"`
	DeadLetterLimit int      `koanf:"dead_letter_limit"`
}

// BreakerConfig holds the per-collaborator circuit breaker thresholds.
type BreakerConfig struct {
	FailureThreshold int      `koanf:"failure_threshold"`
	ResetTimeout     Duration `koanf:"reset_timeout"`
	HalfOpenRequests int      `koanf:"half_open_requests"`
	MonitoringWindow Duration `koanf:"monitoring_window"`
}

// ComplexityConfig overrides assessment weights and thresholds. Zero values
// keep the built-in defaults.
type ComplexityConfig struct {
	DomainWeights    map[string]float64 `koanf:"domain_weights"`
	LevelWeights     map[string]float64 `koanf:"level_weights"`
	TechnicalMarkers []string           `koanf:"technical_markers"`
	MediumWords      int                `koanf:"medium_words"`
	HighWords        int                `koanf:"high_words"`
	VeryHighWords    int                `koanf:"very_high_words"`
	VeryHighMarkers  int                `koanf:"very_high_markers"`
}

// InterventionConfig holds the silence threshold and an optional rule list
// replacing the defaults.
type InterventionConfig struct {
	SilenceThreshold Duration     `koanf:"silence_threshold"`
	Rules            []RuleConfig `koanf:"rules"`
}

// RuleConfig is one intervention rule as written in YAML.
type RuleConfig struct {
	Kind           string   `koanf:"kind"`
	Phases         []string `koanf:"phases"`
	Keywords       []string `koanf:"keywords"`
	Match          string   `koanf:"match"`
	ScoreDimension string   `koanf:"score_dimension"`
	ScoreThreshold float64  `koanf:"score_threshold"`
	SilenceOver    Duration `koanf:"silence_over"`
	Message        string   `koanf:"message"`
	Priority       string   `koanf:"priority"`
}

// MailboxConfig sizes the in-process collaborator mailboxes.
type MailboxConfig struct {
	Capacity int `koanf:"capacity"`
}

// NATSConfig enables the NATS transport.
type NATSConfig struct {
	Enabled       bool     `koanf:"enabled"`
	URL           string   `koanf:"url"`
	Token         Secret   `koanf:"token"`
	SubjectPrefix string   `koanf:"subject_prefix"`
	RequireAck    bool     `koanf:"require_ack"`
	ConnectWait   Duration `koanf:"connect_wait"`
}

// StoreConfig selects the session store.
type StoreConfig struct {
	// Backend is "memory" or "nats".
	Backend  string   `koanf:"backend"`
	Bucket   string   `koanf:"bucket"`
	TTL      Duration `koanf:"ttl"`
	Replicas int      `koanf:"replicas"`
}

// AnalyticsConfig controls event recording.
type AnalyticsConfig struct {
	Enabled   bool    `koanf:"enabled"`
	Subject   string  `koanf:"subject"`
	PerSecond float64 `koanf:"per_second"`
	Burst     int     `koanf:"burst"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            9191,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Logging: LoggingConfig{
			Level:     "info",
			Format:    "json",
			Stdout:    true,
			Sampling:  true,
			Redaction: true,
		},
		Observability: ObservabilityConfig{
			ServiceName:     "coachd",
			Endpoint:        "localhost:4317",
			Protocol:        "grpc",
			Insecure:        true,
			SampleRate:      1.0,
			MetricsInterval: Duration(15 * time.Second),
		},
		Orchestrator: OrchestratorConfig{
			DispatchTimeout: Duration(5 * time.Second),
			EvictAfter:      Duration(time.Hour),
			DeadLetterLimit: 1000,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     Duration(60 * time.Second),
			HalfOpenRequests: 3,
			MonitoringWindow: Duration(5 * time.Minute),
		},
		Intervention: InterventionConfig{
			SilenceThreshold: Duration(15 * time.Second),
		},
		Mailbox: MailboxConfig{Capacity: 64},
		NATS: NATSConfig{
			URL:           "nats://127.0.0.1:4222",
			SubjectPrefix: "coachd.agents",
			ConnectWait:   Duration(2 * time.Second),
		},
		Store: StoreConfig{
			Backend: "memory",
			Bucket:  "coachd_sessions",
			TTL:     Duration(24 * time.Hour),
		},
		Analytics: AnalyticsConfig{
			Enabled:   true,
			Subject:   "coachd.analytics",
			PerSecond: 50,
			Burst:     100,
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	if c.Observability.EnableTelemetry {
		if c.Observability.ServiceName == "" {
			return errors.New("service name required when telemetry is enabled")
		}
		if p := c.Observability.Protocol; p != "grpc" && p != "http" {
			return fmt.Errorf("otlp_protocol must be grpc or http, got %q", p)
		}
		if r := c.Observability.SampleRate; r < 0 || r > 1 {
			return fmt.Errorf("sample_rate must be within [0,1], got %v", r)
		}
	}

	if c.Orchestrator.DispatchTimeout <= 0 {
		return errors.New("orchestrator dispatch_timeout must be positive")
	}
	if c.Orchestrator.DeadLetterLimit < 1 {
		return errors.New("orchestrator dead_letter_limit must be positive")
	}

	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("breaker failure_threshold must be >= 1, got %d", c.Breaker.FailureThreshold)
	}
	if c.Breaker.HalfOpenRequests < 1 {
		return fmt.Errorf("breaker half_open_requests must be >= 1, got %d", c.Breaker.HalfOpenRequests)
	}
	if c.Breaker.ResetTimeout <= 0 || c.Breaker.MonitoringWindow <= 0 {
		return errors.New("breaker reset_timeout and monitoring_window must be positive")
	}

	if c.Mailbox.Capacity < 1 {
		return fmt.Errorf("mailbox capacity must be >= 1, got %d", c.Mailbox.Capacity)
	}

	switch c.Store.Backend {
	case "memory":
	case "nats":
		if !c.NATS.Enabled {
			return errors.New("store backend nats requires nats.enabled")
		}
	default:
		return fmt.Errorf("unknown store backend %q (memory or nats)", c.Store.Backend)
	}

	if c.NATS.Enabled && c.NATS.URL == "" {
		return errors.New("nats url required when nats is enabled")
	}
	if c.Analytics.Enabled && c.Analytics.PerSecond <= 0 {
		return errors.New("analytics per_second must be positive")
	}
	return nil
}
