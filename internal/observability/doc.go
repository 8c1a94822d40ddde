// Package observability provides monitoring and debugging capabilities for
// the pulse realtime engine through metrics, structured logging, and
// distributed tracing.
//
// The package implements the three pillars of observability:
//
//  1. Metrics - Prometheus counters, gauges, and histograms for delivery,
//     queueing, gate verdicts, and HTTP latency
//  2. Logging - slog-based structured logs with sensitive data redaction and
//     context correlation (request, session, user, job IDs)
//  3. Tracing - OpenTelemetry spans across the dispatch pipeline
//
// All three integrate with context.Context so a single domain event can be
// correlated from the inbound API call through gate, lifecycle, dispatcher,
// and registry push.
package observability
