package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authorization metrics
	AuthzDecisionsTotal   *prometheus.CounterVec
	AuthzDecisionDuration prometheus.Histogram
	GuardDenialsTotal     *prometheus.CounterVec

	// Grant store metrics
	StoreOperationsTotal *prometheus.CounterVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge

	// Catalog metrics, refreshed periodically
	PermissionsTotal prometheus.Gauge
	GrantsTotal      *prometheus.GaugeVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hiregate_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hiregate_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		AuthzDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hiregate_authz_decisions_total",
				Help: "Permission decisions by outcome and the grant that decided them",
			},
			[]string{"decision", "source"},
		),
		AuthzDecisionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "hiregate_authz_decision_duration_seconds",
				Help:    "Time to evaluate a single permission",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
			},
		),
		GuardDenialsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hiregate_guard_denials_total",
				Help: "Requests rejected by enforcement guards",
			},
			[]string{"guard", "kind"},
		),

		StoreOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hiregate_grant_store_operations_total",
				Help: "Grant store mutations",
			},
			[]string{"operation", "status"},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hiregate_cache_hits_total",
				Help: "Grant-set cache hits",
			},
			[]string{"layer"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hiregate_cache_misses_total",
				Help: "Grant-set cache misses",
			},
			[]string{"layer"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "hiregate_db_connections_active",
				Help: "Number of in-use database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "hiregate_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),

		PermissionsTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "hiregate_permissions_total",
				Help: "Number of permissions in the catalog",
			},
		),
		GrantsTotal: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hiregate_grants_total",
				Help: "Number of grants by target kind",
			},
			[]string{"target"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AuthzDecisionsTotal,
		m.AuthzDecisionDuration,
		m.GuardDenialsTotal,
		m.StoreOperationsTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.PermissionsTotal,
		m.GrantsTotal,
	)

	return m
}

// ObserveDecision records one permission evaluation.
func (m *Metrics) ObserveDecision(decision, source string, duration time.Duration) {
	m.AuthzDecisionsTotal.WithLabelValues(decision, source).Inc()
	m.AuthzDecisionDuration.Observe(duration.Seconds())
}

// ObserveDenial records a request rejected by a guard.
func (m *Metrics) ObserveDenial(guard, kind string) {
	m.GuardDenialsTotal.WithLabelValues(guard, kind).Inc()
}

// ObserveStoreOperation records a grant store mutation.
func (m *Metrics) ObserveStoreOperation(operation string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.StoreOperationsTotal.WithLabelValues(operation, status).Inc()
}

// CacheHit records a cache hit in layer ("l1" or "l2").
func (m *Metrics) CacheHit(layer string) {
	m.CacheHitsTotal.WithLabelValues(layer).Inc()
}

// CacheMiss records a cache miss in layer.
func (m *Metrics) CacheMiss(layer string) {
	m.CacheMissesTotal.WithLabelValues(layer).Inc()
}

// SetGrantStats publishes catalog and grant counts.
func (m *Metrics) SetGrantStats(permissions, roleGrants, userGrants int64) {
	m.PermissionsTotal.Set(float64(permissions))
	m.GrantsTotal.WithLabelValues("role").Set(float64(roleGrants))
	m.GrantsTotal.WithLabelValues("user").Set(float64(userGrants))
}

// UpdateDBStats publishes connection pool usage.
func (m *Metrics) UpdateDBStats(stats sql.DBStats) {
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests. The route label is the
// mux path template so user ids and permission names do not explode
// cardinality.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := routeTemplate(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(router *mux.Router, registry *prometheus.Registry) {
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}
