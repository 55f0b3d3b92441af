// Package metrics exposes prometheus counters for farming runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry. A nil *Metrics is a valid no-op.
type Metrics struct {
	Registry      *prometheus.Registry
	Actions       *prometheus.CounterVec
	Accounts      *prometheus.CounterVec
	SubmitSeconds prometheus.Histogram
	ActiveWorkers prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "incentiv_actions_total",
			Help: "Actions attempted, by kind and outcome.",
		}, []string{"kind", "status"}),
		Accounts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "incentiv_accounts_processed_total",
			Help: "Accounts processed, by result.",
		}, []string{"result"}),
		SubmitSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "incentiv_userop_submit_seconds",
			Help:    "Time from estimate to bundler acceptance of a user operation.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		ActiveWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "incentiv_active_workers",
			Help: "Accounts currently being processed.",
		}),
	}
	m.Registry.MustRegister(
		m.Actions, m.Accounts, m.SubmitSeconds, m.ActiveWorkers,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Action(kind, status string) {
	if m == nil {
		return
	}
	m.Actions.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) Account(result string) {
	if m == nil {
		return
	}
	m.Accounts.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveSubmit(d time.Duration) {
	if m == nil {
		return
	}
	m.SubmitSeconds.Observe(d.Seconds())
}

// WorkerStarted increments the active gauge and returns the matching decrement.
func (m *Metrics) WorkerStarted() func() {
	if m == nil {
		return func() {}
	}
	m.ActiveWorkers.Inc()
	return m.ActiveWorkers.Dec
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
