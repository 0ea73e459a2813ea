package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RefreshTotal counts bulk rebuilds by result: ok, error, superseded.
	RefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "canal_refresh_total",
		Help: "Bulk network rebuilds by result",
	}, []string{"result"})

	RefreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "canal_refresh_duration_seconds",
		Help:    "Duration of bulk network rebuilds including retries",
		Buckets: prometheus.DefBuckets,
	})

	// EventsTotal counts realtime events by kind and outcome.
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "canal_feed_events_total",
		Help: "Realtime notification events by kind and outcome",
	}, []string{"kind", "outcome"})

	FeedReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "canal_feed_reconnects_total",
		Help: "Notification feed subscription attempts after a failure",
	}, []string{"driver"})

	// CacheOpsTotal counts snapshot cache operations by op and result.
	CacheOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "canal_snapshot_cache_total",
		Help: "Snapshot cache saves and loads by result",
	}, []string{"op", "result"})

	LiveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "canal_live_clients",
		Help: "Connected live stream websocket clients",
	})
)
