package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Poll outcomes reported by the polls_finished_total counter.
const (
	OutcomeCompleted  = "completed"
	OutcomeEndedEarly = "ended_early"
	OutcomeAborted    = "aborted"
	OutcomeSuperseded = "superseded"
)

// Metrics groups all Prometheus instruments used by the engine
type Metrics struct {
	ActivePolls      prometheus.Gauge
	VotesCast        prometheus.Counter
	RemindersFired   prometheus.Counter
	PollsFinished    *prometheus.CounterVec
	ConnectedClients prometheus.Gauge
}

// NewMetrics registers all instruments on reg under the given namespace.
// Passing a fresh registry keeps parallel tests from colliding on the
// default one.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActivePolls: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_polls",
			Help:      "Number of polls currently running.",
		}),
		VotesCast: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "votes_cast_total",
			Help:      "Votes counted across all polls.",
		}),
		RemindersFired: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_fired_total",
			Help:      "Time-remaining reminders emitted.",
		}),
		PollsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_finished_total",
			Help:      "Finished polls by outcome.",
		}, []string{"outcome"}),
		ConnectedClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_clients",
			Help:      "Gateway websocket clients currently connected.",
		}),
	}
}

// Handler serves the metrics registered on reg
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
