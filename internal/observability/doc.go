// Package observability provides the structured logger and Prometheus
// collectors for the orchestration layer.
package observability
