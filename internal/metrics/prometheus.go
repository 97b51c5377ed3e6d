package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the ASR service
type Metrics struct {
	// Batch metrics
	BatchesProcessed *prometheus.CounterVec
	BatchSize        prometheus.Histogram
	EmptyResults     prometheus.Counter

	// Audio normalization metrics
	DecodeDuration *prometheus.HistogramVec
	DecodeFailures *prometheus.CounterVec
	ClipDuration   prometheus.Histogram

	// VAD metrics
	VoiceRatio  prometheus.Histogram
	SilentClips prometheus.Counter

	// Engine metrics
	EngineRequests      prometheus.Counter
	EngineFailures      prometheus.Counter
	EngineDuration      prometheus.Histogram
	UnknownKeyFallbacks prometheus.Counter

	// Tag metrics
	EmotionTags *prometheus.CounterVec
	EventTags   *prometheus.CounterVec

	// Gateway metrics
	GatewayRequests *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all Prometheus metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Batch metrics
		BatchesProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "asr_batches_processed_total",
			Help: "Total number of recognition batches by outcome",
		}, []string{"outcome"}),
		BatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "asr_batch_size_files",
			Help:    "Number of files per recognition batch",
			Buckets: prometheus.ExponentialBuckets(1, 2, 7), // 1 to 64 files
		}),
		EmptyResults: factory.NewCounter(prometheus.CounterOpts{
			Name: "asr_empty_results_total",
			Help: "Total number of batches where the engine reported no speech",
		}),

		// Audio normalization metrics
		DecodeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "asr_decode_duration_seconds",
			Help:    "Time spent decoding and resampling one upload",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		}, []string{"format", "decoder"}),
		DecodeFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "asr_decode_failures_total",
			Help: "Total number of uploads that could not be decoded",
		}, []string{"format"}),
		ClipDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "asr_clip_duration_seconds",
			Help:    "Duration of normalized clips",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~4 minutes
		}),

		// VAD metrics
		VoiceRatio: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "asr_clip_voice_ratio",
			Help:    "Fraction of VAD windows with voice per clip",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11), // 0.0 to 1.0
		}),
		SilentClips: factory.NewCounter(prometheus.CounterOpts{
			Name: "asr_silent_clips_total",
			Help: "Total number of clips without any voiced window",
		}),

		// Engine metrics
		EngineRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "asr_engine_requests_total",
			Help: "Total number of inference calls sent to the recognition engine",
		}),
		EngineFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "asr_engine_failures_total",
			Help: "Total number of failed inference calls",
		}),
		EngineDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "asr_engine_duration_seconds",
			Help:    "Duration of inference calls",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		}),
		UnknownKeyFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "asr_engine_unknown_key_fallbacks_total",
			Help: "Total number of engine transcripts returned without a key",
		}),

		// Tag metrics
		EmotionTags: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "asr_emotion_tags_total",
			Help: "Total number of emotion tags extracted from transcripts",
		}, []string{"emotion"}),
		EventTags: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "asr_event_tags_total",
			Help: "Total number of acoustic event tags extracted from transcripts",
		}, []string{"event"}),

		// Gateway metrics
		GatewayRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "asr_gateway_requests_total",
			Help: "Total number of requests forwarded to the upstream ASR service by outcome",
		}, []string{"outcome"}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "asr_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "asr_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "asr_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordBatch records a finished batch with its outcome
func (m *Metrics) RecordBatch(outcome string, files int) {
	m.BatchesProcessed.WithLabelValues(outcome).Inc()
	m.BatchSize.Observe(float64(files))
}

// RecordEmptyResult increments the empty result counter
func (m *Metrics) RecordEmptyResult() {
	m.EmptyResults.Inc()
}

// RecordDecode records a successfully normalized clip
func (m *Metrics) RecordDecode(format, decoder string, durationSeconds, clipSeconds float64) {
	m.DecodeDuration.WithLabelValues(format, decoder).Observe(durationSeconds)
	m.ClipDuration.Observe(clipSeconds)
}

// RecordDecodeFailure increments the decode failure counter for format
func (m *Metrics) RecordDecodeFailure(format string) {
	m.DecodeFailures.WithLabelValues(format).Inc()
}

// RecordVoiceActivity records the voice ratio of a clip
func (m *Metrics) RecordVoiceActivity(voiceRatio float64, hasVoice bool) {
	m.VoiceRatio.Observe(voiceRatio)
	if !hasVoice {
		m.SilentClips.Inc()
	}
}

// RecordEngineRequest increments the engine request counter
func (m *Metrics) RecordEngineRequest() {
	m.EngineRequests.Inc()
}

// RecordEngineSuccess records a successful inference call
func (m *Metrics) RecordEngineSuccess(durationSeconds float64) {
	m.EngineDuration.Observe(durationSeconds)
}

// RecordEngineFailure records a failed inference call
func (m *Metrics) RecordEngineFailure(durationSeconds float64) {
	m.EngineFailures.Inc()
	m.EngineDuration.Observe(durationSeconds)
}

// RecordUnknownKeyFallback increments the unknown key fallback counter
func (m *Metrics) RecordUnknownKeyFallback() {
	m.UnknownKeyFallbacks.Inc()
}

// RecordTags counts extracted emotion and event tags
func (m *Metrics) RecordTags(emotions, events []string) {
	for _, e := range emotions {
		m.EmotionTags.WithLabelValues(e).Inc()
	}
	for _, e := range events {
		m.EventTags.WithLabelValues(e).Inc()
	}
}

// RecordGatewayRequest records a forwarded request outcome
func (m *Metrics) RecordGatewayRequest(outcome string) {
	m.GatewayRequests.WithLabelValues(outcome).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
