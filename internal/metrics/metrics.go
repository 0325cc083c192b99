package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go-sitewatch/internal/models"
)

// Metrics exports observations and alert deliveries as Prometheus series. It
// is both an engine observer and an alert recorder.
type Metrics struct {
	registry *prometheus.Registry

	probes    *prometheus.CounterVec
	online    *prometheus.GaugeVec
	changes   *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	alerts    *prometheus.CounterVec
	nextCheck prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		probes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sitewatch_probes_total",
			Help: "Probes per site and result.",
		}, []string{"url", "status"}),
		online: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sitewatch_site_online",
			Help: "1 if the last probe of the site succeeded.",
		}, []string{"url"}),
		changes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sitewatch_content_changes_total",
			Help: "Detected content changes per site.",
		}, []string{"url"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sitewatch_probe_duration_seconds",
			Help:    "Probe latency per site.",
			Buckets: prometheus.DefBuckets,
		}, []string{"url"}),
		alerts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sitewatch_alerts_total",
			Help: "Alert delivery attempts per transport and result.",
		}, []string{"transport", "result"}),
		nextCheck: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sitewatch_next_check_seconds",
			Help: "Seconds until the next monitoring cycle.",
		}),
	}
}

func (m *Metrics) Observe(obs models.Observation) {
	status := "offline"
	online := 0.0
	if obs.Online {
		status = "online"
		online = 1
	}
	m.probes.WithLabelValues(obs.URL, status).Inc()
	m.online.WithLabelValues(obs.URL).Set(online)
	m.duration.WithLabelValues(obs.URL).Observe(obs.Latency.Seconds())
	if obs.Changed {
		m.changes.WithLabelValues(obs.URL).Inc()
	}
}

func (m *Metrics) Tick(remaining int) {
	m.nextCheck.Set(float64(remaining))
}

func (m *Metrics) RecordAlert(_ context.Context, rec models.AlertRecord) error {
	result := "delivered"
	if !rec.Delivered() {
		result = "failed"
	}
	m.alerts.WithLabelValues(rec.Transport, result).Inc()
	return nil
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
