package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's prometheus instruments on a private registry.
type Metrics struct {
	SessionsStarted   prometheus.Counter
	SessionsCompleted prometheus.Counter
	SessionsFailed    prometheus.Counter
	SessionsEvicted   prometheus.Counter
	EventsPublished   prometheus.Counter
	ActiveSessions    prometheus.Gauge
	Observers         prometheus.Gauge
	AnalysisDuration  prometheus.Histogram

	registry *prometheus.Registry
}

func New() *Metrics {
	m := &Metrics{
		SessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "doclens_sessions_started_total",
			Help: "Analysis sessions created.",
		}),
		SessionsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "doclens_sessions_completed_total",
			Help: "Analysis sessions that reached completed.",
		}),
		SessionsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "doclens_sessions_failed_total",
			Help: "Analysis sessions that reached failed, including evictions.",
		}),
		SessionsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "doclens_sessions_evicted_total",
			Help: "Sessions removed by the eviction sweeper.",
		}),
		EventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "doclens_events_published_total",
			Help: "Update events published to the observer hub.",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "doclens_active_sessions",
			Help: "Sessions currently in processing state.",
		}),
		Observers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "doclens_observers",
			Help: "Currently connected observers.",
		}),
		AnalysisDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "doclens_analysis_duration_seconds",
			Help:    "Wall time from session creation to terminal state.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.SessionsStarted,
		m.SessionsCompleted,
		m.SessionsFailed,
		m.SessionsEvicted,
		m.EventsPublished,
		m.ActiveSessions,
		m.Observers,
		m.AnalysisDuration,
	)
	return m
}

// Handler serves the registry in prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
