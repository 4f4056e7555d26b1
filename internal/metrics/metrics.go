// Package metrics holds the prometheus collectors of the service on a
// dedicated registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dsctrack/internal/ledger"
)

type Metrics struct {
	Registry     *prometheus.Registry
	operations   *prometheus.CounterVec
	expiringSoon prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dsc_ledger_operations_total",
			Help: "Ledger mutations by operation and result kind.",
		}, []string{"operation", "result"}),
		expiringSoon: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dsc_expiring_soon",
			Help: "DSCs whose expiry date falls inside the warning window.",
		}),
	}
	m.Registry.MustRegister(
		m.operations,
		m.expiringSoon,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Observe implements ledger.Recorder.
func (m *Metrics) Observe(op string, err error) {
	m.operations.WithLabelValues(op, ledger.KindOf(err)).Inc()
}

func (m *Metrics) SetExpiringSoon(n int) { m.expiringSoon.Set(float64(n)) }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
