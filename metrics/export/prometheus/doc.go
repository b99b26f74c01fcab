// Package prometheus renders goIdentity metrics in Prometheus text
// exposition format.
//
// Counters are named goidentity_*_total. The single histogram is
// goidentity_authenticate_latency_seconds. Nothing is registered in a global
// registry; callers mount [Exporter.Handler] themselves.
package prometheus
