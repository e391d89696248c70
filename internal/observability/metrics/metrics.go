// Package metrics defines the Prometheus instruments for the study
// service. All Observe methods are nil-safe so callers never have to
// guard against a missing registry.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// StudyMetrics exposes counters/histograms for session and game flows.
type StudyMetrics struct {
	sessionsStarted   *prometheus.CounterVec
	sessionsCompleted *prometheus.CounterVec
	responsesRecorded *prometheus.CounterVec
	mirrorFailures    *prometheus.CounterVec
	chatRequests      *prometheus.CounterVec
	chatFallbacks     prometheus.Counter
	chatLatency       *prometheus.HistogramVec
}

func NewStudyMetrics(reg prometheus.Registerer) *StudyMetrics {
	m := &StudyMetrics{
		sessionsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "study",
			Subsystem: "sessions",
			Name:      "started_total",
			Help:      "Total sessions created",
		}, []string{"game_type", "demo"}),
		sessionsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "study",
			Subsystem: "sessions",
			Name:      "completed_total",
			Help:      "Total sessions marked complete",
		}, []string{"game_type"}),
		responsesRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "study",
			Subsystem: "responses",
			Name:      "recorded_total",
			Help:      "Total game responses appended to sessions",
		}, []string{"game_type", "correct"}),
		mirrorFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "study",
			Subsystem: "records",
			Name:      "mirror_failures_total",
			Help:      "Best-effort external record writes that failed",
		}, []string{"operation"}),
		chatRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "study",
			Subsystem: "chat",
			Name:      "requests_total",
			Help:      "Total chat turns sent to the model port",
		}, []string{"status"}),
		chatFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "study",
			Subsystem: "chat",
			Name:      "fallbacks_total",
			Help:      "Chat turns answered by the scripted fallback",
		}),
		chatLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "study",
			Subsystem: "chat",
			Name:      "latency_seconds",
			Help:      "Latency of model chat round trips",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.sessionsStarted, m.sessionsCompleted, m.responsesRecorded,
		m.mirrorFailures, m.chatRequests, m.chatFallbacks, m.chatLatency,
	)
	return m
}

func (m *StudyMetrics) ObserveSessionStarted(gameType string, demo bool) {
	if m == nil {
		return
	}
	label := "false"
	if demo {
		label = "true"
	}
	m.sessionsStarted.WithLabelValues(gameType, label).Inc()
}

func (m *StudyMetrics) ObserveSessionCompleted(gameType string) {
	if m == nil {
		return
	}
	m.sessionsCompleted.WithLabelValues(gameType).Inc()
}

func (m *StudyMetrics) ObserveResponseRecorded(gameType string, correct bool) {
	if m == nil {
		return
	}
	label := "false"
	if correct {
		label = "true"
	}
	m.responsesRecorded.WithLabelValues(gameType, label).Inc()
}

func (m *StudyMetrics) ObserveMirrorFailure(operation string) {
	if m == nil {
		return
	}
	m.mirrorFailures.WithLabelValues(operation).Inc()
}

func (m *StudyMetrics) ObserveChatRequest(status string, seconds float64) {
	if m == nil {
		return
	}
	m.chatRequests.WithLabelValues(status).Inc()
	m.chatLatency.WithLabelValues(status).Observe(seconds)
}

func (m *StudyMetrics) ObserveChatFallback() {
	if m == nil {
		return
	}
	m.chatFallbacks.Inc()
}
