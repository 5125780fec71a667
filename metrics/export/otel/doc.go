// Package otel registers authcore engine metrics as OpenTelemetry
// observable instruments on a caller-supplied meter.
//
// Counters become Int64ObservableCounter instruments. Latency histograms
// become one cumulative Int64ObservableGauge per bucket plus a count
// gauge. The exporter never owns the MeterProvider.
package otel
