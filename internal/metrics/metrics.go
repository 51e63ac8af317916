// Package metrics exposes Prometheus collectors for the verification and
// download pipelines.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"keygate/internal/licensing"
)

// Collector aggregates pipeline outcome counters.
type Collector struct {
	verifications *prometheus.CounterVec
	downloads     *prometheus.CounterVec
	watermarkSecs prometheus.Histogram
}

// NewCollector registers the collectors on the given registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "keygate",
			Name:      "verifications_total",
			Help:      "Terminal verification outcomes by team and status.",
		}, []string{"team", "status"}),
		downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "keygate",
			Name:      "downloads_total",
			Help:      "Terminal download outcomes by team and status.",
		}, []string{"team", "status"}),
		watermarkSecs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "keygate",
			Name:      "watermark_duration_seconds",
			Help:      "Wall time spent in the external watermarking codec.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(c.verifications, c.downloads, c.watermarkSecs)
	return c
}

// ObserveVerification implements licensing.OutcomeObserver.
func (c *Collector) ObserveVerification(teamID string, status licensing.Status) {
	c.verifications.WithLabelValues(teamID, string(status)).Inc()
}

// ObserveDownload counts a download terminal state.
func (c *Collector) ObserveDownload(teamID string, status licensing.Status) {
	c.downloads.WithLabelValues(teamID, string(status)).Inc()
}

// ObserveWatermarkDuration records one watermarking round trip.
func (c *Collector) ObserveWatermarkDuration(seconds float64) {
	c.watermarkSecs.Observe(seconds)
}
