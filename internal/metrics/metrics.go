// Package metrics provides Prometheus instrumentation for the companion bot.
// It exposes gauges for roster, duel, and dashboard state, counters for event
// and notification throughput, and a histogram for dispatch latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// DashboardConnections tracks the current number of connected dashboards.
	DashboardConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "arachnobot_dashboard_connections",
		Help: "Current number of connected dashboard sessions",
	})

	// RosterSize tracks the number of viewers currently known.
	RosterSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "arachnobot_roster_size",
		Help: "Current number of viewers in the roster",
	})

	// OpenChallenges tracks the number of pending duels.
	OpenChallenges = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "arachnobot_open_challenges",
		Help: "Current number of open duel challenges",
	})

	// EventsTotal counts events processed by the dispatch loop, labeled by
	// kind: "chat", "join", "part", "redemption", "expiry", "task", "sync".
	EventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arachnobot_events_total",
		Help: "Total number of events dispatched",
	}, []string{"kind"})

	// EventPanics counts events whose handler panicked.
	EventPanics = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "arachnobot_event_panics_total",
		Help: "Total number of events whose handler panicked",
	})

	// CommandsTotal counts dispatched chat commands, labeled by command name.
	CommandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arachnobot_commands_total",
		Help: "Total number of chat commands dispatched",
	}, []string{"command"})

	// NotificationsTotal counts dashboard notifications, labeled by state:
	// "enqueued", "delivered", or "dropped".
	NotificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arachnobot_notifications_total",
		Help: "Total number of dashboard notifications",
	}, []string{"state"})

	// RedemptionsTotal counts reward redemptions, labeled by outcome:
	// "handled" or "unknown".
	RedemptionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arachnobot_redemptions_total",
		Help: "Total number of reward redemptions",
	}, []string{"outcome"})

	// DispatchLatency records how long a single event spends in the
	// dispatch loop.
	DispatchLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "arachnobot_dispatch_latency_seconds",
		Help:    "Event dispatch latency in seconds",
		Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25},
	})
)

func init() {
	prometheus.MustRegister(
		DashboardConnections,
		RosterSize,
		OpenChallenges,
		EventsTotal,
		EventPanics,
		CommandsTotal,
		NotificationsTotal,
		RedemptionsTotal,
		DispatchLatency,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
