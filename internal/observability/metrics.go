package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Playback session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fan_gateway_active_sessions",
		Help: "Number of playback sessions currently running",
	})

	totalSessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fan_gateway_sessions_total",
		Help: "Total playback sessions by terminal state",
	}, []string{"state"}) // state: completed, cancelled, failed

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fan_gateway_session_duration_seconds",
		Help:    "Duration of playback sessions in seconds",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	})

	// Frame metrics
	framesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fan_gateway_frames_total",
		Help: "Frames by outcome",
	}, []string{"outcome"}) // outcome: sent, failed, stale

	frameRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fan_gateway_frame_retries_total",
		Help: "Total frame upload retry attempts",
	})

	uploadLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fan_gateway_upload_latency_seconds",
		Help:    "Fan frame upload latency in seconds",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	})

	// Collaborator metrics
	chatRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fan_gateway_chat_requests_total",
		Help: "Total conversation service requests",
	}, []string{"status"})

	chatLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fan_gateway_chat_latency_seconds",
		Help:    "Conversation service latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	})

	ttsRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fan_gateway_tts_requests_total",
		Help: "Total speech synthesis requests",
	}, []string{"status"})

	ttsLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fan_gateway_tts_latency_seconds",
		Help:    "Speech synthesis latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fan_gateway_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})
)

// Metrics tracks metrics for a single chatbot turn
type Metrics struct {
	turnID       string
	startTime    time.Time
	chatStart    time.Time
	ttsStart     time.Time
	sessionStart time.Time
}

// NewTurnMetrics creates a new metrics tracker for a turn
func NewTurnMetrics(turnID string) *Metrics {
	return &Metrics{
		turnID:    turnID,
		startTime: time.Now(),
	}
}

// RecordSessionStart records the start of a playback session
func (m *Metrics) RecordSessionStart() {
	activeSessions.Inc()
	m.sessionStart = time.Now()
}

// RecordSessionEnd records the end of a playback session with its terminal state
func (m *Metrics) RecordSessionEnd(state string) {
	activeSessions.Dec()
	totalSessions.WithLabelValues(state).Inc()
	if !m.sessionStart.IsZero() {
		sessionDuration.Observe(time.Since(m.sessionStart).Seconds())
	}
}

// RecordChatStart records the start of a conversation request
func (m *Metrics) RecordChatStart() {
	m.chatStart = time.Now()
}

// RecordChatEnd records the end of a conversation request
func (m *Metrics) RecordChatEnd(success bool) {
	if !m.chatStart.IsZero() {
		chatLatency.Observe(time.Since(m.chatStart).Seconds())
	}

	status := "success"
	if !success {
		status = "error"
	}
	chatRequests.WithLabelValues(status).Inc()
}

// RecordTTSStart records the start of speech synthesis
func (m *Metrics) RecordTTSStart() {
	m.ttsStart = time.Now()
}

// RecordTTSEnd records the end of speech synthesis
func (m *Metrics) RecordTTSEnd(success bool) {
	if !m.ttsStart.IsZero() {
		ttsLatency.Observe(time.Since(m.ttsStart).Seconds())
	}

	status := "success"
	if !success {
		status = "error"
	}
	ttsRequests.WithLabelValues(status).Inc()
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordFrameSent records a successfully delivered frame
func RecordFrameSent() {
	framesTotal.WithLabelValues("sent").Inc()
}

// RecordFrameFailed records a frame dropped after transport failure
func RecordFrameFailed() {
	framesTotal.WithLabelValues("failed").Inc()
}

// RecordFrameStale records a frame skipped because its display window passed
func RecordFrameStale() {
	framesTotal.WithLabelValues("stale").Inc()
}

// RecordFrameRetries adds to the retry counter
func RecordFrameRetries(n int) {
	if n > 0 {
		frameRetries.Add(float64(n))
	}
}

// ObserveUploadLatency records one fan upload round trip
func ObserveUploadLatency(d time.Duration) {
	uploadLatency.Observe(d.Seconds())
}
