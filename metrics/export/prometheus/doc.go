// Package prometheus exposes engine counters and the validation latency
// histogram as a client_golang Collector.
//
// Every counter is named keystone_<metric>_total. The collector registers
// itself with a private registry served by Handler, so nothing leaks into
// the global default registry.
package prometheus
