// Package observability exposes prometheus metrics for the sync protocol.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the counters the HTTP layer updates per request. Import
// rejection reasons are deliberately visible here and in logs only; the
// wire response never distinguishes them.
type Metrics struct {
	registry *prometheus.Registry

	ExportsTotal     *prometheus.CounterVec
	ImportsTotal     *prometheus.CounterVec
	ImportRejections *prometheus.CounterVec
}

// NewMetrics creates and registers the metric set on a fresh registry.
func NewMetrics() (*Metrics, error) {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.ExportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labelsync_exports_total",
			Help: "Number of annotation document exports by outcome.",
		},
		[]string{"outcome"},
	)
	m.ImportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labelsync_imports_total",
			Help: "Number of annotation document imports by outcome.",
		},
		[]string{"outcome"},
	)
	m.ImportRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labelsync_import_rejections_total",
			Help: "Number of rejected imports by rejection reason.",
		},
		[]string{"reason"},
	)

	for _, c := range []prometheus.Collector{m.ExportsTotal, m.ImportsTotal, m.ImportRejections} {
		if err := m.registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Registry returns the underlying registry for the /metrics endpoint.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
