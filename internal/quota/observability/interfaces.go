// Package observability defines logging and metrics interfaces.
package observability

import "time"

// Logger provides structured logging hooks.
type Logger interface {
	Info(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
}

// Metrics records limiter measurements.
type Metrics interface {
	IncDecision(dependency string, result string)
	IncFailOpen(dependency string, reason string)
	IncStoreError(op string)
	ObserveLatency(op string, d time.Duration)
	IncUsageRecord(dependency string, outcome string)
	SetStoreUp(up bool)
}

// NopLogger discards log entries.
type NopLogger struct{}

// Info is a no-op.
func (NopLogger) Info(string, map[string]any) {}

// Warn is a no-op.
func (NopLogger) Warn(string, map[string]any) {}

// Error is a no-op.
func (NopLogger) Error(string, map[string]any) {}

// NopMetrics discards measurements.
type NopMetrics struct{}

// IncDecision is a no-op.
func (NopMetrics) IncDecision(string, string) {}

// IncFailOpen is a no-op.
func (NopMetrics) IncFailOpen(string, string) {}

// IncStoreError is a no-op.
func (NopMetrics) IncStoreError(string) {}

// ObserveLatency is a no-op.
func (NopMetrics) ObserveLatency(string, time.Duration) {}

// IncUsageRecord is a no-op.
func (NopMetrics) IncUsageRecord(string, string) {}

// SetStoreUp is a no-op.
func (NopMetrics) SetStoreUp(bool) {}
