package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics exposed by the entitlement engine.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Snapshot metrics
	SnapshotRebuildsTotal   *prometheus.CounterVec
	SnapshotRebuildDuration *prometheus.HistogramVec
	SnapshotRebuildFailures *prometheus.CounterVec
	SnapshotUsers           *prometheus.GaugeVec
	SnapshotGroups          *prometheus.GaugeVec
	SnapshotLastRebuild     *prometheus.GaugeVec

	// Query metrics
	MembershipChecksTotal *prometheus.CounterVec
	ResolutionsTotal      *prometheus.CounterVec
	ResolutionMemoHits    prometheus.Counter
	ResolutionMemoMisses  prometheus.Counter

	// Reconciliation metrics
	ReconcileBatchesTotal *prometheus.CounterVec
	ReconcileRowsTotal    *prometheus.CounterVec
	ReconcileDuration     *prometheus.HistogramVec

	// Invalidation metrics
	InvalidationsTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: registry,
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitlements_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "entitlements_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		SnapshotRebuildsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitlements_snapshot_rebuilds_total",
				Help: "Total number of membership snapshot rebuilds",
			},
			[]string{"tenant", "trigger"},
		),
		SnapshotRebuildDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "entitlements_snapshot_rebuild_duration_seconds",
				Help:    "Membership snapshot rebuild duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tenant"},
		),
		SnapshotRebuildFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitlements_snapshot_rebuild_failures_total",
				Help: "Total number of failed snapshot rebuilds",
			},
			[]string{"tenant"},
		),
		SnapshotUsers: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "entitlements_snapshot_users",
				Help: "Number of users in the currently published snapshot",
			},
			[]string{"tenant"},
		),
		SnapshotGroups: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "entitlements_snapshot_groups",
				Help: "Number of groups in the currently published snapshot",
			},
			[]string{"tenant"},
		),
		SnapshotLastRebuild: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "entitlements_snapshot_last_rebuild_timestamp_seconds",
				Help: "Unix time of the last successful snapshot rebuild",
			},
			[]string{"tenant"},
		),
		MembershipChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitlements_membership_checks_total",
				Help: "Total number of membership predicate evaluations",
			},
			[]string{"tenant", "kind"},
		),
		ResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitlements_resolutions_total",
				Help: "Total number of right resolutions",
			},
			[]string{"tenant", "source"},
		),
		ResolutionMemoHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "entitlements_resolution_memo_hits_total",
				Help: "Resolution memo cache hits",
			},
		),
		ResolutionMemoMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "entitlements_resolution_memo_misses_total",
				Help: "Resolution memo cache misses",
			},
		),
		ReconcileBatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitlements_reconcile_batches_total",
				Help: "Total number of assignment reconciliation batches",
			},
			[]string{"tenant", "status"},
		),
		ReconcileRowsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitlements_reconcile_rows_total",
				Help: "Total number of assignment rows touched by reconciliation",
			},
			[]string{"tenant", "op"},
		),
		ReconcileDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "entitlements_reconcile_duration_seconds",
				Help:    "Assignment reconciliation batch duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tenant"},
		),
		InvalidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitlements_cache_invalidations_total",
				Help: "Total number of cache invalidations",
			},
			[]string{"tenant", "origin"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.SnapshotRebuildsTotal,
		m.SnapshotRebuildDuration,
		m.SnapshotRebuildFailures,
		m.SnapshotUsers,
		m.SnapshotGroups,
		m.SnapshotLastRebuild,
		m.MembershipChecksTotal,
		m.ResolutionsTotal,
		m.ResolutionMemoHits,
		m.ResolutionMemoMisses,
		m.ReconcileBatchesTotal,
		m.ReconcileRowsTotal,
		m.ReconcileDuration,
		m.InvalidationsTotal,
	)

	return m
}

// Handler returns the Prometheus scrape handler for this metrics registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveHTTPRequest records one served HTTP request.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// ObserveRebuild records one completed snapshot rebuild.
func (m *Metrics) ObserveRebuild(tenant, trigger string, duration time.Duration, users, groups int) {
	m.SnapshotRebuildsTotal.WithLabelValues(tenant, trigger).Inc()
	m.SnapshotRebuildDuration.WithLabelValues(tenant).Observe(duration.Seconds())
	m.SnapshotUsers.WithLabelValues(tenant).Set(float64(users))
	m.SnapshotGroups.WithLabelValues(tenant).Set(float64(groups))
	m.SnapshotLastRebuild.WithLabelValues(tenant).SetToCurrentTime()
}
