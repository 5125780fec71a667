// Package prometheus exposes authcore engine metrics through
// client_golang.
//
// [PrometheusExporter] is a prometheus.Collector: counters are published
// as authcore_*_total and the rotate and consume latencies as
// authcore_*_latency_seconds histograms. Nothing is registered globally.
package prometheus
