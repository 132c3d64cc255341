package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedisErrorRate counts Redis errors by operation type.
	RedisErrorRate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fediwall_redis_error_rate_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})

	// ResolverProbes counts streaming endpoint discovery probes by outcome.
	ResolverProbes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fediwall_resolver_probes_total",
		Help: "Streaming base discovery probes by outcome (redirect, fallback, error)",
	}, []string{"outcome"})

	// UpstreamConnectionsActive is the gauge of open upstream stream connections.
	UpstreamConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fediwall_upstream_connections_active",
		Help: "Number of open upstream streaming connections",
	})

	// UpstreamEventsTotal counts upstream stream events by type as received.
	UpstreamEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fediwall_upstream_events_total",
		Help: "Total upstream streaming events by event type",
	}, []string{"event_type"})

	// UpstreamMalformedTotal counts upstream frames dropped as unparseable.
	UpstreamMalformedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fediwall_upstream_malformed_total",
		Help: "Total upstream frames dropped because they could not be parsed",
	})

	// SessionsActive is the gauge of connected downstream fanout sessions.
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fediwall_sessions_active",
		Help: "Number of connected downstream websocket sessions",
	})

	// FanoutDeliveries counts posts pushed to downstream sessions per stream key.
	FanoutDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fediwall_fanout_deliveries_total",
		Help: "Total posts delivered to downstream sessions",
	}, []string{"stream_key"})

	// BackpressureDrops counts messages dropped due to backpressure by reason.
	BackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fediwall_backpressure_drops_total",
		Help: "Total messages dropped due to downstream backpressure",
	}, []string{"reason"})

	// SnapshotRequests counts snapshot queries by result (ok, error, cached).
	SnapshotRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fediwall_snapshot_requests_total",
		Help: "Total snapshot timeline queries by result",
	}, []string{"result"})
)
