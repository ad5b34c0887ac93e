// Package otel publishes engine metrics through an OpenTelemetry meter.
//
// Counters become Int64ObservableCounter instruments. The validation
// latency histogram is flattened into one cumulative gauge per bucket plus
// count and sum gauges, all fed by a single callback that reads one
// snapshot per collection. Callers own the MeterProvider.
package otel
