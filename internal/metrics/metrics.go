// Package metrics exposes Prometheus counters for account operations.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Status labels for account operation metrics.
const (
	StatusSuccess  = "success"
	StatusRejected = "rejected"
	StatusError    = "error"
)

// Metrics holds the collectors recorded by the account service.
type Metrics struct {
	Operations       *prometheus.CounterVec
	ResetsDispatched *prometheus.CounterVec
}

// New creates the account metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "identity_account_operations_total",
				Help: "Total number of account operations by operation and status",
			},
			[]string{"operation", "status"},
		),
		ResetsDispatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "identity_reset_notifications_total",
				Help: "Total number of password reset notifications by status",
			},
			[]string{"status"},
		),
	}
	reg.MustRegister(m.Operations)
	reg.MustRegister(m.ResetsDispatched)
	return m
}

// NewRegistry returns a registry with the Go and process collectors plus
// the account metrics.
func NewRegistry() (*prometheus.Registry, *Metrics) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return registry, New(registry)
}

// RecordOperation increments the counter for operation with status.
// It is a no-op on a nil receiver.
func (m *Metrics) RecordOperation(operation, status string) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(operation, status).Inc()
}

// RecordResetNotification increments the reset notification counter.
func (m *Metrics) RecordResetNotification(status string) {
	if m == nil {
		return
	}
	m.ResetsDispatched.WithLabelValues(status).Inc()
}
