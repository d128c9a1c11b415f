// Package metrics provides Prometheus instrumentation for the relay. It
// exposes gauges for connections and presence, counters for message, action,
// call and login outcomes, and a histogram for per-action latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of open WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// OnlineUsers tracks the size of the presence registry.
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_online_users",
		Help: "Current number of logged-in users on this instance",
	})

	// MessagesTotal counts chat messages by type.
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_messages_total",
		Help: "Total number of chat messages processed",
	}, []string{"type"}) // type = "public", "sticker", "private", "blocked"

	// ActionsTotal counts dispatched actions by outcome.
	ActionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_actions_total",
		Help: "Total number of client actions dispatched",
	}, []string{"action", "result"}) // result = "ok" or an error code

	// ActionLatency records handler latency in seconds.
	ActionLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relay_action_latency_seconds",
		Help:    "Action processing latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"action"})

	// CallsTotal counts call records by the status they reached.
	CallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_calls_total",
		Help: "Total number of call state changes",
	}, []string{"status"})

	// LoginsTotal counts login attempts by outcome.
	LoginsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_logins_total",
		Help: "Total number of login attempts",
	}, []string{"result"}) // result = "ok", "invalid", "banned", "error"
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		OnlineUsers,
		MessagesTotal,
		ActionsTotal,
		ActionLatency,
		CallsTotal,
		LoginsTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
