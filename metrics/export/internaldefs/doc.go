// Package internaldefs holds the metric names, help text and bucket layout
// shared by the Prometheus and OpenTelemetry exporters.
package internaldefs
