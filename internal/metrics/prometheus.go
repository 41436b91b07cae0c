package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains the Prometheus collectors for the capture and analysis pipeline.
type Metrics struct {
	registry *prometheus.Registry

	// Audio metrics
	FramesCaptured prometheus.Counter
	FramesSent     prometheus.Counter
	FramesDropped  prometheus.Counter

	// Session metrics
	SessionsStarted prometheus.Counter
	SessionFailures *prometheus.CounterVec
	SessionStatus   *prometheus.GaugeVec

	// Transcript metrics
	TranscriptEvents *prometheus.CounterVec
	ParseErrors      prometheus.Counter

	// Analysis metrics
	AnalysisRequests prometheus.Counter
	AnalysisDropped  prometheus.Counter
	AnalysisFailures prometheus.Counter
	AnalysisDuration prometheus.Histogram
}

// New creates the collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		FramesCaptured: factory.NewCounter(prometheus.CounterOpts{
			Name: "aura_audio_frames_captured_total",
			Help: "Total number of PCM frames produced by the capture engine",
		}),
		FramesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "aura_audio_frames_sent_total",
			Help: "Total number of PCM frames forwarded to the transcription socket",
		}),
		FramesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "aura_audio_frames_dropped_total",
			Help: "Total number of PCM frames dropped before the socket opened",
		}),

		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "aura_sessions_started_total",
			Help: "Total number of transcription sessions started",
		}),
		SessionFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aura_session_failures_total",
			Help: "Total number of failed sessions by error kind",
		}, []string{"kind"}),
		SessionStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "aura_session_status",
			Help: "Current session status (1 for the active status)",
		}, []string{"status"}),

		TranscriptEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aura_transcript_events_total",
			Help: "Total number of transcript events received by finality",
		}, []string{"final"}),
		ParseErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "aura_transcript_parse_errors_total",
			Help: "Total number of malformed transcription messages discarded",
		}),

		AnalysisRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "aura_analysis_requests_total",
			Help: "Total number of analysis requests issued",
		}),
		AnalysisDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "aura_analysis_requests_dropped_total",
			Help: "Total number of analysis requests dropped while another was in flight",
		}),
		AnalysisFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "aura_analysis_failures_total",
			Help: "Total number of failed analysis requests",
		}),
		AnalysisDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "aura_analysis_duration_seconds",
			Help:    "Analysis request latency",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// SetStatus marks exactly one status as current.
func (m *Metrics) SetStatus(current string, all ...string) {
	for _, status := range all {
		value := 0.0
		if status == current {
			value = 1
		}
		m.SessionStatus.WithLabelValues(status).Set(value)
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
