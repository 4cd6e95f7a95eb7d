// Package sinks implements progress consumers: structured logging and
// Prometheus run metrics.
package sinks
