package roomsync

import "github.com/prometheus/client_golang/prometheus"

var CommandsReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "roomsync",
	Subsystem: "dispatcher",
	Name:      "commands",
}, []string{"type"})

var PushesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "roomsync",
	Subsystem: "dispatcher",
	Name:      "pushes",
}, []string{"type"})

var PushesDropped = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "roomsync",
	Subsystem: "dispatcher",
	Name:      "pushes_dropped",
})

var Reconnects = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "roomsync",
	Subsystem: "dispatcher",
	Name:      "reconnects",
})

var SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "roomsync",
	Subsystem: "store",
	Name:      "sessions_active",
})

var SessionsStored = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "roomsync",
	Subsystem: "store",
	Name:      "sessions_journaled",
})

var SessionsExpired = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "roomsync",
	Subsystem: "store",
	Name:      "sessions_expired",
})

var SessionsLoaded = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "roomsync",
	Subsystem: "store",
	Name:      "sessions_loaded",
}, []string{"source"})

var MethodCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "roomsync",
	Subsystem: "store",
	Name:      "method_calls",
}, []string{"method", "result"})

var BroadcastDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
	Namespace: "roomsync",
	Subsystem: "store",
	Name:      "broadcast_duration",
	Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
})

var UpdateSize = prometheus.NewHistogram(prometheus.HistogramOpts{
	Namespace: "roomsync",
	Subsystem: "store",
	Name:      "update_bytes",
	Buckets:   prometheus.ExponentialBuckets(8, 4, 8),
})

// Collectors lists every metric of the package for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		CommandsReceived,
		PushesSent,
		PushesDropped,
		Reconnects,
		SessionsActive,
		SessionsStored,
		SessionsExpired,
		SessionsLoaded,
		MethodCalls,
		BroadcastDuration,
		UpdateSize,
	}
}
