// Package metrics exposes Prometheus instruments for playback sessions.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "serenade"

// Teardown reasons
const (
	ReasonStopped      = "stopped"
	ReasonQueueEnded   = "queue_ended"
	ReasonDisconnected = "disconnected"
	ReasonShutdown     = "shutdown"
	ReasonSourceFailed = "source_failed"
)

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	activeSessions prometheus.Gauge
	tracksStarted  prometheus.Counter
	sourceFailures prometheus.Counter
	teardowns      *prometheus.CounterVec
	commands       *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		activeSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of guilds with a live playback session",
		}),
		tracksStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tracks_started_total",
			Help:      "Tracks handed to an audio sink",
		}),
		sourceFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_failures_total",
			Help:      "Track sources that failed to start or produced no audio",
		}),
		teardowns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_teardowns_total",
			Help:      "Session teardowns by reason",
		}, []string{"reason"}),
		commands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Chat commands handled, by command and result",
		}, []string{"command", "result"}),
	}
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

func (m *Metrics) SessionClosed(reason string) {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
	m.teardowns.WithLabelValues(reason).Inc()
}

func (m *Metrics) TrackStarted() {
	if m == nil {
		return
	}
	m.tracksStarted.Inc()
}

func (m *Metrics) SourceFailed() {
	if m == nil {
		return
	}
	m.sourceFailures.Inc()
}

func (m *Metrics) Command(name, result string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(name, result).Inc()
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
