package engine

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"google.golang.org/grpc"

	"github.com/StricklySoft/accessguard/pkg/auth"
	"github.com/StricklySoft/accessguard/pkg/metrics"
	"github.com/StricklySoft/accessguard/pkg/ratelimit"
	"github.com/StricklySoft/accessguard/pkg/tenant"
)

// MetricsPath serves the Prometheus metrics. It is neither authenticated
// nor audited.
const MetricsPath = "/metrics"

// HealthResponse is the body of the health route.
type HealthResponse struct {
	Status        string            `json:"status"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks"`
}

// Handler returns the complete HTTP surface: the health and metrics
// routes, the audit query routes, and app for everything else.
//
// A request passes these stages:
//  1. HTTP metrics
//  2. The audit recorder, which records the request once it completes
//  3. Routing: health and metrics are answered here without authentication
//  4. [Engine.Protect] for the audit routes and app
//
// Example:
//
//	eng, err := engine.New(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	if err := eng.Start(ctx); err != nil {
//		return err
//	}
//	srv := &http.Server{Addr: cfg.Server.Addr, Handler: eng.Handler(app)}
func (e *Engine) Handler(app http.Handler) http.Handler {
	protected := http.NewServeMux()
	e.handler.Register(protected)
	if app != nil {
		protected.Handle("/", app)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+ratelimit.HealthPath, e.serveHealth)
	mux.Handle("GET "+MetricsPath, metrics.Handler(e.metrics))
	mux.Handle("/", e.Protect(protected))

	return auth.Chain(mux, metrics.Instrument, e.recorder.Middleware)
}

// Protect puts h behind the rate limiter, authentication and, when
// configured, the active-tenant check. The token is validated once before
// the limiter so user-based paths are keyed by subject, while requests
// without a valid token are still limited by address before the 401.
//
// Use it to mount routes outside [Engine.Handler]:
//
//	mux.Handle("/internal/", eng.Protect(internalAPI))
func (e *Engine) Protect(h http.Handler) http.Handler {
	mws := []func(http.Handler) http.Handler{auth.ResolveIdentity(e.validator)}
	if e.limiter != nil {
		mws = append(mws, ratelimit.Middleware(e.limiter, e.cfg.RateLimit))
	}
	mws = append(mws, auth.RequireIdentity(e.validator))
	if e.cfg.Tenants.RequireActive {
		mws = append(mws, tenant.RequireActive(e.tenants))
	}
	return auth.Chain(h, mws...)
}

func (e *Engine) serveHealth(w http.ResponseWriter, r *http.Request) {
	report, err := e.HealthReport(r.Context())
	resp := HealthResponse{
		Status:        "healthy",
		UptimeSeconds: int64(e.Uptime().Seconds()),
		Checks:        report,
	}
	code := http.StatusOK
	if err != nil {
		resp.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.WarnContext(r.Context(), "engine: writing health response failed", "error", err)
	}
}

// GRPCServerOptions returns interceptors authenticating every call with
// the engine's validator and then running checks.
func (e *Engine) GRPCServerOptions(checks ...auth.Check) []grpc.ServerOption {
	return []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(auth.UnaryServerInterceptor(e.validator, checks...)),
		grpc.ChainStreamInterceptor(auth.StreamServerInterceptor(e.validator, checks...)),
	}
}
