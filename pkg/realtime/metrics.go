package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fanoutEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsync_fanout_events_total",
		Help: "Change events accepted into the fanout queue, by kind.",
	}, []string{"kind"})

	fanoutDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_fanout_dropped_total",
		Help: "Change events refused because the fanout queue was full.",
	})

	wsConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatsync_channel_connections",
		Help: "Currently connected websocket subscribers.",
	})
)
