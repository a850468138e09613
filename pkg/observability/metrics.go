package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authentication metrics
	LoginAttemptsTotal  *prometheus.CounterVec
	AccountLockoutsTotal prometheus.Counter

	// Token metrics
	TokensIssuedTotal      *prometheus.CounterVec
	TokensRevokedTotal     *prometheus.CounterVec
	TokenValidationsTotal  *prometheus.CounterVec
	TokenBackfillsTotal    prometheus.Counter
	SlowPathScansTotal     prometheus.Counter

	// Store metrics
	StoreOperationsTotal   *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turnstile_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "turnstile_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		LoginAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turnstile_login_attempts_total",
				Help: "Total number of login attempts by outcome",
			},
			[]string{"outcome"},
		),
		AccountLockoutsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "turnstile_account_lockouts_total",
				Help: "Total number of accounts locked after repeated failures",
			},
		),
		TokensIssuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turnstile_tokens_issued_total",
				Help: "Total number of tokens issued by kind",
			},
			[]string{"kind"},
		),
		TokensRevokedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turnstile_tokens_revoked_total",
				Help: "Total number of tokens revoked",
			},
			[]string{"scope"},
		),
		TokenValidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turnstile_token_validations_total",
				Help: "Total number of token validations by path and result",
			},
			[]string{"path", "result"},
		),
		TokenBackfillsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "turnstile_token_backfills_total",
				Help: "Total number of lookup-hash backfills performed on legacy records",
			},
		),
		SlowPathScansTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "turnstile_token_slow_path_scans_total",
				Help: "Total number of validations that fell back to the enumeration path",
			},
		),
		StoreOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turnstile_store_operations_total",
				Help: "Total number of token store operations",
			},
			[]string{"operation", "status"},
		),
		StoreOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "turnstile_store_operation_duration_seconds",
				Help:    "Token store operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.LoginAttemptsTotal,
		m.AccountLockoutsTotal,
		m.TokensIssuedTotal,
		m.TokensRevokedTotal,
		m.TokenValidationsTotal,
		m.TokenBackfillsTotal,
		m.SlowPathScansTotal,
		m.StoreOperationsTotal,
		m.StoreOperationDuration,
	)

	return m
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveStoreOperation records a store operation with its duration and status
func (m *Metrics) ObserveStoreOperation(operation string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.StoreOperationsTotal.WithLabelValues(operation, status).Inc()
	m.StoreOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// HTTPMiddleware instruments an HTTP handler with request metrics
func (m *Metrics) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		m.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rec.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
