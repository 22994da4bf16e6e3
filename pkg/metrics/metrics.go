package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	registry           *prometheus.Registry
	registryOnce       sync.Once
	defaultMetricsPath = "/metrics"
	metricsEnabled     = true

	// Prediction metrics
	PredictionsTotal      *prometheus.CounterVec
	AnalysisFailuresTotal *prometheus.CounterVec
	StageDuration         *prometheus.HistogramVec
	PredictionConfidence  prometheus.Histogram

	// Audio metrics
	AudioDuration       prometheus.Histogram
	AudioTruncatedTotal prometheus.Counter
	UploadBytes         prometheus.Histogram

	// Model metrics
	ModelState prometheus.Gauge

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Rate limiting metrics
	RateLimitEvents *prometheus.CounterVec
)

// Init initializes all metrics and registers them with Prometheus
func Init(logger *logrus.Logger) {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()

		PredictionsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "emotion_predictions_total",
				Help: "Total number of successful predictions by label",
			},
			[]string{"label"},
		)

		AnalysisFailuresTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "emotion_analysis_failures_total",
				Help: "Total number of failed analyses by error kind",
			},
			[]string{"kind"},
		)

		StageDuration = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "emotion_stage_duration_seconds",
				Help:    "Time spent in each pipeline stage",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
			},
			[]string{"stage"},
		)

		PredictionConfidence = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "emotion_prediction_confidence",
				Help:    "Confidence of the predicted label",
				Buckets: prometheus.LinearBuckets(0.125, 0.125, 7),
			},
		)

		AudioDuration = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "emotion_audio_duration_seconds",
				Help:    "Duration of analyzed clips after truncation",
				Buckets: []float64{0.5, 1, 2, 3, 5, 8, 12, 16, 20},
			},
		)

		AudioTruncatedTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "emotion_audio_truncated_total",
				Help: "Number of clips cut to the maximum duration",
			},
		)

		UploadBytes = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "emotion_upload_bytes",
				Help:    "Size of uploaded audio files",
				Buckets: prometheus.ExponentialBuckets(16*1024, 2, 10), // 16KiB to 8MiB
			},
		)

		ModelState = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "emotion_model_state",
				Help: "Model loader state (0 unloaded, 1 loading, 2 ready, 3 failed)",
			},
		)

		HTTPRequestsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "emotion_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"path", "method", "status"},
		)

		HTTPRequestDuration = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "emotion_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"path"},
		)

		RateLimitEvents = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "emotion_rate_limit_events_total",
				Help: "Rate limiter decisions",
			},
			[]string{"event"},
		)

		registry.MustRegister(
			PredictionsTotal,
			AnalysisFailuresTotal,
			StageDuration,
			PredictionConfidence,
			AudioDuration,
			AudioTruncatedTotal,
			UploadBytes,
			ModelState,
			HTTPRequestsTotal,
			HTTPRequestDuration,
			RateLimitEvents,
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)

		logger.Info("Prometheus metrics initialized")
	})
}

// SetMetricsPath sets the HTTP path for metrics endpoint
func SetMetricsPath(path string) {
	if path != "" {
		defaultMetricsPath = path
	}
}

// MetricsPath returns the HTTP path of the metrics endpoint
func MetricsPath() string {
	return defaultMetricsPath
}

// EnableMetrics enables or disables metrics collection
func EnableMetrics(enabled bool) {
	metricsEnabled = enabled
}

// IsMetricsEnabled returns whether metrics are enabled
func IsMetricsEnabled() bool {
	return metricsEnabled
}

func active() bool {
	return metricsEnabled && registry != nil
}

// Handler returns the Prometheus scrape handler
func Handler() http.Handler {
	if registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(
		registry,
		promhttp.HandlerOpts{
			EnableOpenMetrics: true,
			Registry:          registry,
		},
	)
}

// RecordPrediction records a successful prediction
func RecordPrediction(label string, confidence float64) {
	if active() {
		PredictionsTotal.WithLabelValues(label).Inc()
		PredictionConfidence.Observe(confidence)
	}
}

// RecordFailure records a failed analysis
func RecordFailure(kind string) {
	if active() {
		AnalysisFailuresTotal.WithLabelValues(kind).Inc()
	}
}

// ObserveStage records the time taken by a pipeline stage with a timer function
func ObserveStage(stage string) func() {
	if !active() {
		return func() {}
	}

	start := time.Now()
	return func() {
		StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
}

// RecordAudio records properties of an accepted clip
func RecordAudio(seconds float64, truncated bool, uploadBytes int) {
	if active() {
		AudioDuration.Observe(seconds)
		UploadBytes.Observe(float64(uploadBytes))
		if truncated {
			AudioTruncatedTotal.Inc()
		}
	}
}

// SetModelState publishes the model loader state
func SetModelState(state int) {
	if active() {
		ModelState.Set(float64(state))
	}
}

// RecordHTTPRequest records an HTTP request
func RecordHTTPRequest(path, method string, status int, duration time.Duration) {
	if active() {
		HTTPRequestsTotal.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
		HTTPRequestDuration.WithLabelValues(path).Observe(duration.Seconds())
	}
}

// RecordRateLimitEvent records a rate limiter decision
func RecordRateLimitEvent(event string) {
	if active() {
		RateLimitEvents.WithLabelValues(event).Inc()
	}
}
