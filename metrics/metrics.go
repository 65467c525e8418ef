// Package metrics exposes the replication counters scraped through
// the observer API.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sketchwire"

var (
	ActionsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "actions_applied_total",
		Help:      "Drawing actions applied to the local shape store.",
	}, []string{"op"})

	PeersConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "peers_connected",
		Help:      "Peer connections currently registered at the hub.",
	})

	BroadcastDrops = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "broadcast_drops_total",
		Help:      "Peers dropped from the hub because their send queue stalled.",
	})

	Frames = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_total",
		Help:      "Wire frames handled, by direction.",
	}, []string{"direction"})

	FeedDrops = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "feed_drops_total",
		Help:      "Actions not delivered to observer subscribers that fell behind.",
	})
)

// Handler serves the exposition format for the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
