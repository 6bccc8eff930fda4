// Package metrics provides Prometheus instrumentation for the chat relay. It
// exposes gauges for connection and presence counts, counters for admission
// outcomes and deliveries, and a histogram for admission latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// OnlineUsers tracks the number of distinct identified users online.
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_online_users",
		Help: "Current number of distinct online users",
	})

	// MessagesTotal counts admission outcomes, labeled by outcome:
	// "admitted", "restricted" or a rejection code.
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_messages_total",
		Help: "Total number of messages processed by the admission pipeline",
	}, []string{"outcome"})

	// AdmissionLatency records end-to-end admission latency in seconds.
	AdmissionLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_admission_latency_seconds",
		Help:    "Message admission latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// PresenceEvents counts presence announcements, labeled by event type.
	PresenceEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_presence_events_total",
		Help: "Total number of presence events emitted",
	}, []string{"type"})

	// DeliveriesTotal counts frames written by the delivery router, labeled by
	// event type.
	DeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_deliveries_total",
		Help: "Total number of frames written by the delivery router",
	}, []string{"type"})

	// StoreRetries counts queries retried after a store reconnect.
	StoreRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_store_retries_total",
		Help: "Total number of store queries retried after reconnecting",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		OnlineUsers,
		MessagesTotal,
		AdmissionLatency,
		PresenceEvents,
		DeliveriesTotal,
		StoreRetries,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
