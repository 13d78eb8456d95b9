// Package metrics holds the Prometheus collectors shared by the
// accessguard packages. Collectors are package-level so instrumented code
// can record unconditionally; [Register] exposes them on a registry.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "accessguard"

var (
	// TokenValidations counts validation outcomes by provider and reason
	// ("valid" on success).
	TokenValidations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "token_validations_total",
		Help:      "Bearer token validations by provider and outcome.",
	}, []string{"provider", "outcome"})

	// KeySetRefreshes counts JWKS fetches by provider, whether forced, and
	// result.
	KeySetRefreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jwks_refreshes_total",
		Help:      "JWKS fetches by provider, trigger and result.",
	}, []string{"provider", "forced", "result"})

	// AuthorizationDenials counts 403 decisions by check ("role", "tenant",
	// "cross_tenant").
	AuthorizationDenials = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "authorization_denials_total",
		Help:      "Requests denied by the authorization enforcer.",
	}, []string{"check"})

	// RateLimitDecisions counts limiter decisions by tier and result.
	RateLimitDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ratelimit_decisions_total",
		Help:      "Rate limiter decisions by tier and result.",
	}, []string{"tier", "result"})

	// AuditEntries counts audit entries handed to the store by status.
	AuditEntries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audit_entries_total",
		Help:      "Audit entries recorded by outcome status.",
	}, []string{"status"})

	// AuditWriteFailures counts audit writes that failed and were dropped.
	AuditWriteFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audit_write_failures_total",
		Help:      "Audit entries that could not be persisted.",
	})

	// AuditPending is the number of audit writes still in flight.
	AuditPending = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "audit_pending_writes",
		Help:      "Audit writes started but not yet finished.",
	})

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "http_in_flight_requests",
		Help:      "In-flight HTTP requests.",
	})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latencies in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "status"})
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		TokenValidations, KeySetRefreshes, AuthorizationDenials,
		RateLimitDecisions, AuditEntries, AuditWriteFailures, AuditPending,
		httpInFlight, httpDuration,
	}
}

// Register adds every collector to reg. Collectors already registered on
// reg are skipped, so Register is safe to call more than once.
func Register(reg prometheus.Registerer) error {
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Handler serves the metrics of gatherer in the Prometheus text format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Instrument records in-flight requests and latency by method and status.
// Paths are not used as a label to keep cardinality bounded.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		httpDuration.WithLabelValues(r.Method, strconv.Itoa(sw.code)).
			Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Bool renders a label value for boolean dimensions.
func Bool(b bool) string {
	return strconv.FormatBool(b)
}
