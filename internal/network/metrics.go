package network

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "swapbytes"

type Metrics struct {
	Commands       *prometheus.CounterVec
	Events         *prometheus.CounterVec
	Messages       *prometheus.CounterVec
	Queries        *prometheus.CounterVec
	Transfers      *prometheus.CounterVec
	ConnectedPeers prometheus.Gauge
}

// NewMetrics builds the event loop metrics and registers them with reg. A
// nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Commands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "commands_total",
			Help:      "Commands processed by the event loop.",
		}, []string{"command"}),
		Events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_total",
			Help:      "Protocol events processed by the event loop.",
		}, []string{"event"}),
		Messages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_received_total",
			Help:      "Chat messages received, by topic kind.",
		}, []string{"kind"}),
		Queries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "directory_queries_total",
			Help:      "Directory lookups by outcome.",
		}, []string{"outcome"}),
		Transfers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "file_transfers_total",
			Help:      "Files sent or received.",
		}, []string{"direction"}),
		ConnectedPeers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connected_peers",
			Help:      "Peers currently discovered on the local network.",
		}),
	}
}
