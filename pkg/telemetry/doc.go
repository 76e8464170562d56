// Package telemetry provides structured logging, Prometheus metrics, and
// OpenTelemetry tracing for the transformation pipeline.
package telemetry
