// Package otel publishes goIdentity metrics through an OpenTelemetry meter.
//
// Each counter becomes an Int64ObservableCounter and each histogram bucket
// an Int64ObservableGauge. One callback reads the service snapshot per
// collection cycle. The caller owns the MeterProvider.
package otel
