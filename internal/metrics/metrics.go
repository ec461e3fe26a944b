// Package metrics exposes Prometheus metrics for the resolution service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sundayezeilo/deeplink/resolver"
)

const namespace = "deeplink"

// Metrics holds the service's collectors on a private registry, so several
// instances (one per test, for example) never collide.
type Metrics struct {
	registry *prometheus.Registry

	Resolutions        *prometheus.CounterVec
	AttributionRetries prometheus.Counter
	HTTPDuration       *prometheus.HistogramVec
}

var _ resolver.Recorder = (*Metrics)(nil)

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		Resolutions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolutions_total",
			Help:      "Finished deep link resolutions by mode and outcome.",
		}, []string{"mode", "outcome"}),

		AttributionRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attribution_retries_total",
			Help:      "Attribution requests retried after a 5xx or transport failure.",
		}),

		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method, route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

// Resolution implements resolver.Recorder.
func (m *Metrics) Resolution(mode resolver.Mode, outcome resolver.Outcome) {
	m.Resolutions.WithLabelValues(string(mode), string(outcome)).Inc()
}

// AttributionRetry matches attribution.Config.OnRetry.
func (m *Metrics) AttributionRetry(_ error, _ time.Duration) {
	m.AttributionRetries.Inc()
}

// ObserveHTTP implements httpx.HTTPObserver.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	m.HTTPDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
