// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Imvault Contributors

// Package metrics exposes Prometheus counters for vault operations.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Operation names used as the "operation" label.
const (
	OpStore  = "store"
	OpLoad   = "load"
	OpDelete = "delete"
)

// Result values used as the "result" label.
const (
	ResultSuccess  = "success"
	ResultFailure  = "failure"
	ResultNotFound = "not_found"
	ResultSkipped  = "skipped"
)

// Metrics holds the collectors of one process. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	inflight   prometheus.Gauge
	unlocks    *prometheus.CounterVec
}

// New registers the vault collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imvault_operations_total",
			Help: "Total number of credential operations by operation and result",
		}, []string{"operation", "result"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "imvault_operations_inflight",
			Help: "Number of credential operations waiting for the secret service",
		}),
		unlocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imvault_collection_unlocks_total",
			Help: "Total number of collection unlock attempts by result",
		}, []string{"result"}),
	}
	m.registry.MustRegister(
		m.operations,
		m.inflight,
		m.unlocks,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Started marks one operation as in flight.
func (m *Metrics) Started() {
	if m == nil {
		return
	}
	m.inflight.Inc()
}

// Finished records the outcome of an operation started with Started.
func (m *Metrics) Finished(op, result string) {
	if m == nil {
		return
	}
	m.inflight.Dec()
	m.operations.WithLabelValues(op, result).Inc()
}

// Skipped records an operation that never reached the secret service.
func (m *Metrics) Skipped(op string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, ResultSkipped).Inc()
}

// Unlock records the outcome of a collection unlock.
func (m *Metrics) Unlock(ok bool) {
	if m == nil {
		return
	}
	result := ResultSuccess
	if !ok {
		result = ResultFailure
	}
	m.unlocks.WithLabelValues(result).Inc()
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
