package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Balance and event sync counters and histograms, partitioned by network.

var (
	// Balance fetcher
	BalanceFetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "treasury",
		Subsystem: "balance",
		Name:      "fetches_total",
		Help:      "Total account balance fetches",
	}, []string{"network", "status"})

	BalanceFetchLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "treasury",
		Subsystem: "balance",
		Name:      "fetch_duration_seconds",
		Help:      "Account balance fetch duration across all tokens",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"network"})

	BalanceTokenReadFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "treasury",
		Subsystem: "balance",
		Name:      "token_read_failures_total",
		Help:      "Token balance reads that failed and were reported as zero",
	}, []string{"network", "token"})

	BalancePriceFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "treasury",
		Subsystem: "balance",
		Name:      "price_failures_total",
		Help:      "Token price lookups that failed and were reported as zero",
	}, []string{"token"})

	// Poller
	PollerActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "treasury",
		Subsystem: "poller",
		Name:      "active",
		Help:      "Accounts with at least one live subscription",
	}, []string{"network"})

	PollerRefreshesCoalesced = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "treasury",
		Subsystem: "poller",
		Name:      "refreshes_coalesced_total",
		Help:      "Forced refreshes merged into a pending follow-up fetch",
	}, []string{"network"})

	PollerFetchesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "treasury",
		Subsystem: "poller",
		Name:      "fetches_skipped_total",
		Help:      "Ticks skipped because a fetch was already in flight",
	}, []string{"network"})

	// Event history
	EventBatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "treasury",
		Subsystem: "events",
		Name:      "batches_total",
		Help:      "Total event history batches",
	}, []string{"network", "status"})

	EventRecordsDecoded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "treasury",
		Subsystem: "events",
		Name:      "records_decoded_total",
		Help:      "Total event records decoded",
	}, []string{"network", "event"})

	EventBatchLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "treasury",
		Subsystem: "events",
		Name:      "batch_duration_seconds",
		Help:      "Event history batch duration including enrichment",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"network"})

	EventCursorBlock = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "treasury",
		Subsystem: "events",
		Name:      "cursor_block",
		Help:      "Next block the event history fetcher will read from",
	}, []string{"network", "event"})

	// Price source
	PriceCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "treasury",
		Subsystem: "price",
		Name:      "cache_hits_total",
		Help:      "Price lookups served from cache",
	}, []string{"source"})

	PriceRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "treasury",
		Subsystem: "price",
		Name:      "requests_total",
		Help:      "Upstream price API requests",
	}, []string{"source", "status"})

	// RPC
	RPCCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "treasury",
		Subsystem: "rpc",
		Name:      "calls_total",
		Help:      "Total node RPC calls by method and outcome",
	}, []string{"network", "method", "status"})

	RPCRateLimitWaits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "treasury",
		Subsystem: "rpc",
		Name:      "rate_limit_waits_total",
		Help:      "Total times RPC calls waited for rate limiter",
	}, []string{"network"})

	RPCCircuitState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "treasury",
		Subsystem: "rpc",
		Name:      "circuit_state",
		Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"network"})

	// Sinks
	SinkPublishErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "treasury",
		Subsystem: "sink",
		Name:      "publish_errors_total",
		Help:      "Snapshot publishes that failed",
	}, []string{"sink"})

	// Alerts
	AlertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "treasury",
		Subsystem: "alert",
		Name:      "notifications_total",
		Help:      "Alert deliveries by channel, kind and outcome (sent, error, suppressed)",
	}, []string{"channel", "kind", "outcome"})

	// HTTP API
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "treasury",
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "HTTP API requests by route and status code",
	}, []string{"route", "code"})

	APIRateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "treasury",
		Subsystem: "api",
		Name:      "rate_limited_total",
		Help:      "HTTP API requests rejected by the per-client limiter",
	}, []string{"route"})

	APIStreamsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "treasury",
		Subsystem: "api",
		Name:      "streams_active",
		Help:      "Open balance event streams",
	})
)
