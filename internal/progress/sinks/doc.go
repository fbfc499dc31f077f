// Package sinks implements progress consumers backed by structured logging and
// Prometheus collectors.
package sinks
