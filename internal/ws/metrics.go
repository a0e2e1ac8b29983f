package ws

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tessera_ws_connections",
		Help: "Live websocket connections",
	})

	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tessera_ws_events_total",
		Help: "Events delivered to connection send buffers, by category",
	}, []string{"category"})

	droppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tessera_ws_events_dropped_total",
		Help: "Events dropped because a connection's send buffer was full",
	})
)
