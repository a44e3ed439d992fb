// Package telemetry sets up OpenTelemetry tracing and metrics for coachd.
//
// Spans and metrics are exported over OTLP, gRPC or HTTP, to a collector:
//
//	tel, err := telemetry.New(ctx, telemetry.FromObservability(cfg.Observability, version), logger)
//	defer tel.Shutdown(ctx)
//
//	tracer := tel.Tracer("github.com/fyrsmithlabs/coachd/internal/orchestrator")
//
// Telemetry failures never stop the daemon. Tests use NewTestTelemetry, which
// records spans and metrics in memory.
package telemetry
