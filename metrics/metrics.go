// Package metrics defines the instrumentation contract for the settlement
// service and its Prometheus implementation.
package metrics

import "time"

// Recorder counts settlement events and observes request latencies.
// Event labels are {kind, outcome}; latency labels are {operation}.
type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(operation string, d time.Duration, labels map[string]string)
}

// NoopRecorder drops every observation.
type NoopRecorder struct{}

func (NoopRecorder) IncCounter(string, map[string]string)                    {}
func (NoopRecorder) ObserveLatency(string, time.Duration, map[string]string) {}
