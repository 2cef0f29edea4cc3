package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus collectors for the packaging service.
type Metrics struct {
	registry          *prometheus.Registry
	requestsTotal     prometheus.Counter
	errorsTotal       prometheus.Counter
	uploadsAccepted   prometheus.Counter
	uploadsRejected   *prometheus.CounterVec
	transcodeJobs     *prometheus.CounterVec
	transcodeDuration *prometheus.HistogramVec
	activeTranscodes  prometheus.Gauge
	assetsAvailable   prometheus.Gauge
}

// New creates and registers Prometheus metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vod_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vod_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		uploadsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vod_uploads_accepted_total",
			Help: "Uploads whose raw file was fully written",
		}),
		uploadsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vod_uploads_rejected_total",
			Help: "Uploads rejected before transcoding, by reason",
		}, []string{"reason"}),
		transcodeJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vod_transcode_jobs_total",
			Help: "Finished transcode jobs by format and result",
		}, []string{"format", "result"}),
		transcodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vod_transcode_duration_seconds",
			Help:    "Wall time of a single transcode job",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"format"}),
		activeTranscodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vod_active_transcodes",
			Help: "Assets currently being transcoded",
		}),
		assetsAvailable: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vod_assets_available",
			Help: "Assets with at least one playable format, refreshed per scrape",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.uploadsAccepted,
		m.uploadsRejected,
		m.transcodeJobs,
		m.transcodeDuration,
		m.activeTranscodes,
		m.assetsAvailable,
	)
	return m
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

func (m *Metrics) IncUploadsAccepted() {
	m.uploadsAccepted.Inc()
}

// IncUploadsRejected counts a rejected upload; reason is a short label such
// as "no_file" or "unsupported_type".
func (m *Metrics) IncUploadsRejected(reason string) {
	m.uploadsRejected.WithLabelValues(reason).Inc()
}

// ObserveTranscode records one finished job.
func (m *Metrics) ObserveTranscode(format string, ok bool, d time.Duration) {
	result := "success"
	if !ok {
		result = "failure"
	}
	m.transcodeJobs.WithLabelValues(format, result).Inc()
	m.transcodeDuration.WithLabelValues(format).Observe(d.Seconds())
}

// TranscodeStarted and TranscodeFinished bracket one coordinated asset transcode.
func (m *Metrics) TranscodeStarted() {
	m.activeTranscodes.Inc()
}

func (m *Metrics) TranscodeFinished() {
	m.activeTranscodes.Dec()
}

// SetAssetsAvailable sets the playable assets gauge.
func (m *Metrics) SetAssetsAvailable(n int) {
	m.assetsAvailable.Set(float64(n))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. available assets).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
