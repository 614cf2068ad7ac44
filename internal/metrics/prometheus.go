package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of the fingerprinting engine.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Pipeline metrics
	FramesProcessed *prometheus.CounterVec
	RecordsEmitted  *prometheus.CounterVec
	DecodeErrors    prometheus.Counter
	SamplesDecoded  prometheus.Counter
	QueueDepth      prometheus.Gauge

	// Run metrics
	Runs        *prometheus.CounterVec
	RunDuration *prometheus.HistogramVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		FramesProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "acousticprint_frames_total",
			Help: "Total number of frames transformed and reduced to features",
		}, []string{"strategy"}),
		RecordsEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "acousticprint_records_total",
			Help: "Total number of fingerprint records written to sinks",
		}, []string{"strategy"}),
		DecodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "acousticprint_decode_errors_total",
			Help: "Total number of corrupt packets skipped while decoding",
		}),
		SamplesDecoded: factory.NewCounter(prometheus.CounterOpts{
			Name: "acousticprint_samples_total",
			Help: "Total number of analysis samples produced by the channel reducer",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "acousticprint_queue_depth",
			Help: "Chunks waiting between producer and consumer in streaming mode",
		}),

		Runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "acousticprint_runs_total",
			Help: "Fingerprinting runs by outcome",
		}, []string{"strategy", "mode", "status"}),
		RunDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "acousticprint_run_duration_seconds",
			Help:    "Wall time of fingerprinting runs",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
		}, []string{"strategy", "mode"}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "acousticprint_http_requests_total",
			Help: "HTTP requests by method, route and status",
		}, []string{"method", "endpoint", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "acousticprint_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

func (m *Metrics) FrameDone(strategy string) {
	if m == nil {
		return
	}
	m.FramesProcessed.WithLabelValues(strategy).Inc()
}

func (m *Metrics) RecordsWritten(strategy string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.RecordsEmitted.WithLabelValues(strategy).Add(float64(n))
}

func (m *Metrics) DecodeErrorSkipped() {
	if m == nil {
		return
	}
	m.DecodeErrors.Inc()
}

func (m *Metrics) Samples(n int) {
	if m == nil {
		return
	}
	m.SamplesDecoded.Add(float64(n))
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

// RunFinished records the outcome and duration of one run.
func (m *Metrics) RunFinished(strategy, mode, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(strategy, mode, status).Inc()
	m.RunDuration.WithLabelValues(strategy, mode).Observe(d.Seconds())
}

// RecordHTTPRequest records one served HTTP request.
func (m *Metrics) RecordHTTPRequest(method, endpoint string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(d.Seconds())
}
