// Package observability wires AutoSage's ambient logging, metrics, and
// tracing stack: structured slog logging, Prometheus counters/histograms
// over tool invocations and job-store state, and an OpenTelemetry tracer
// wrapping every ExecutionEngine.Execute call and orchestrator prompt cycle.
package observability
