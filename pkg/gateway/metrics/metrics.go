// Package metrics exposes the gateway's Prometheus metrics: session
// lifecycle and incidents taken from the orchestrator's event bus, reasoning
// calls from the conversation engine, and live connections from the live
// handler.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vango-go/vai-interview/pkg/core/conversation"
	"github.com/vango-go/vai-interview/pkg/core/session"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	SessionTransitions *prometheus.CounterVec
	SessionsFinalized  *prometheus.CounterVec
	SessionDuration    prometheus.Histogram
	Incidents          *prometheus.CounterVec
	ResponsesRecorded  *prometheus.CounterVec

	// Reasoning metrics
	ReasoningCalls    *prometheus.CounterVec
	ReasoningDuration *prometheus.HistogramVec

	// Live connection metrics
	LiveConnectionsActive prometheus.Gauge
	LiveConnectionsTotal  *prometheus.CounterVec
}

// New creates a Metrics instance with every metric registered on a private
// registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "interview"
	}

	registry := prometheus.NewRegistry()

	sessionTransitions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Session status transitions by target status",
		},
		[]string{"to"},
	)

	sessionsFinalized := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_finalized_total",
			Help:      "Finalized sessions by final status, plan and termination reason",
		},
		[]string{"status", "plan", "reason", "flagged"},
	)

	sessionDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Wall time from interview start to finalization",
			Buckets:   []float64{30, 60, 300, 600, 900, 1800, 3600},
		},
	)

	incidents := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "incidents_total",
			Help:      "Proctoring incidents by type and severity",
		},
		[]string{"type", "severity"},
	)

	responsesRecorded := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responses_recorded_total",
			Help:      "Recorded interview answers",
		},
		[]string{"ai_flagged", "incomplete"},
	)

	reasoningCalls := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reasoning_calls_total",
			Help:      "Reasoning capability operations by outcome",
		},
		[]string{"operation", "outcome"},
	)

	reasoningDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reasoning_duration_seconds",
			Help:      "Reasoning operation latency in seconds, fallbacks included",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"operation"},
	)

	liveConnectionsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_connections_active",
			Help:      "Number of open live interview connections",
		},
	)

	liveConnectionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_connections_total",
			Help:      "Closed live connections by outcome",
		},
		[]string{"outcome"},
	)

	registry.MustRegister(
		sessionTransitions,
		sessionsFinalized,
		sessionDuration,
		incidents,
		responsesRecorded,
		reasoningCalls,
		reasoningDuration,
		liveConnectionsActive,
		liveConnectionsTotal,
	)

	return &Metrics{
		registry:              registry,
		SessionTransitions:    sessionTransitions,
		SessionsFinalized:     sessionsFinalized,
		SessionDuration:       sessionDuration,
		Incidents:             incidents,
		ResponsesRecorded:     responsesRecorded,
		ReasoningCalls:        reasoningCalls,
		ReasoningDuration:     reasoningDuration,
		LiveConnectionsActive: liveConnectionsActive,
		LiveConnectionsTotal:  liveConnectionsTotal,
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RegisterBusDropped exposes the event bus drop count.
func (m *Metrics) RegisterBusDropped(dropped func() int64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "interview_bus_events_dropped_total",
			Help: "Session events dropped because a subscriber was slow",
		},
		func() float64 { return float64(dropped()) },
	))
}

// ObserveReasoning matches conversation.WithObserver.
func (m *Metrics) ObserveReasoning(op string, outcome conversation.Outcome, d time.Duration) {
	m.ReasoningCalls.WithLabelValues(op, string(outcome)).Inc()
	m.ReasoningDuration.WithLabelValues(op).Observe(d.Seconds())
}

// LiveOpened records a live connection opening.
func (m *Metrics) LiveOpened() {
	m.LiveConnectionsActive.Inc()
}

// LiveClosed records a live connection closing.
func (m *Metrics) LiveClosed(outcome string) {
	m.LiveConnectionsActive.Dec()
	m.LiveConnectionsTotal.WithLabelValues(outcome).Inc()
}

// Observe records one session event.
func (m *Metrics) Observe(env session.Envelope) {
	switch ev := env.Event.(type) {
	case *session.StatusChangedEvent:
		m.SessionTransitions.WithLabelValues(string(ev.To)).Inc()
	case *session.IncidentEvent:
		m.Incidents.WithLabelValues(string(ev.Log.Type), string(ev.Log.Severity)).Inc()
	case *session.ResponseRecordedEvent:
		m.ResponsesRecorded.WithLabelValues(boolLabel(ev.Response.AIFlagged), boolLabel(ev.Response.Incomplete)).Inc()
	case *session.FinalizedEvent:
		s := ev.Session
		if s == nil {
			return
		}
		m.SessionsFinalized.WithLabelValues(string(s.Status), string(s.Plan), string(s.Termination), boolLabel(s.IsFlagged)).Inc()
		if s.StartTime != nil && s.EndTime != nil {
			m.SessionDuration.Observe(s.EndTime.Sub(*s.StartTime).Seconds())
		}
	}
}

// Run records events until the channel closes or ctx is done.
func (m *Metrics) Run(ctx context.Context, events <-chan session.Envelope) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-events:
			if !ok {
				return nil
			}
			m.Observe(env)
		}
	}
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
