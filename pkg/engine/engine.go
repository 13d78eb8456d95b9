// Package engine assembles the access-control components from a [Config]
// and runs them through a start/stop lifecycle. An [Engine] owns the
// provider registry, the rate limiter, the audit pipeline and the tenant
// directory, plus the PostgreSQL, Redis and MinIO clients they use.
//
// Typical use:
//
//	cfg := config.MustLoad[engine.Config](config.New().WithEnvPrefix("ACCESSGUARD"))
//	eng, err := engine.New(ctx, cfg)
//	if err != nil { ... }
//	if err := eng.Start(ctx); err != nil { ... }
//	defer eng.Stop(context.Background())
//	http.ListenAndServe(cfg.Server.Addr, eng.Handler(appMux))
package engine

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/StricklySoft/accessguard/pkg/audit"
	"github.com/StricklySoft/accessguard/pkg/auth"
	"github.com/StricklySoft/accessguard/pkg/clients/minio"
	"github.com/StricklySoft/accessguard/pkg/clients/postgres"
	"github.com/StricklySoft/accessguard/pkg/clients/redis"
	sserr "github.com/StricklySoft/accessguard/pkg/errors"
	"github.com/StricklySoft/accessguard/pkg/metrics"
	"github.com/StricklySoft/accessguard/pkg/ratelimit"
	"github.com/StricklySoft/accessguard/pkg/tenant"
)

const tracerName = "github.com/StricklySoft/accessguard/pkg/engine"

// Hook runs during a lifecycle transition. A failing hook moves the
// engine to [StateFailed].
type Hook func(ctx context.Context) error

// HealthChecker is a dependency probed by [Engine.Health].
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Option configures an [Engine]. Injected components replace the ones New
// would build from the configuration.
type Option func(*Engine)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithTracerProvider sets the provider of the lifecycle spans. Defaults to
// the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) { e.tracer = tp.Tracer(tracerName) }
}

// WithAuthOptions passes options to every provider of the registry.
func WithAuthOptions(opts ...auth.Option) Option {
	return func(e *Engine) { e.authOpts = append(e.authOpts, opts...) }
}

// WithValidator replaces the provider registry. Key-set warm-up is skipped.
func WithValidator(v auth.TokenValidator) Option {
	return func(e *Engine) { e.validator = v }
}

// WithAuditStore replaces the configured audit store.
func WithAuditStore(s audit.Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithTenantDirectory replaces the configured tenant directory.
func WithTenantDirectory(d tenant.Directory) Option {
	return func(e *Engine) { e.tenants = d }
}

// WithLimiter replaces the configured limiter backend.
func WithLimiter(l ratelimit.Limiter) Option {
	return func(e *Engine) { e.limiter = l }
}

// WithArchive replaces the MinIO archive of the retention sweep.
func WithArchive(w audit.ObjectWriter) Option {
	return func(e *Engine) { e.archive = w }
}

// WithClock overrides the time source of the audit service, recorder and
// detector.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// OnStart adds a hook run after the built-in start steps.
func OnStart(h Hook) Option {
	return func(e *Engine) { e.onStart = append(e.onStart, h) }
}

// OnStop adds a hook run before the built-in stop steps.
func OnStop(h Hook) Option {
	return func(e *Engine) { e.onStop = append(e.onStop, h) }
}

// Engine is the assembled service. It is safe for concurrent use.
type Engine struct {
	cfg    Config
	logger *slog.Logger
	tracer trace.Tracer
	now    func() time.Time

	authOpts  []auth.Option
	registry  *auth.Registry
	validator auth.TokenValidator
	limiter   ratelimit.Limiter
	tenants   tenant.Directory

	store    audit.Store
	archive  audit.ObjectWriter
	recorder *audit.Recorder
	service  *audit.Service
	detector *audit.Detector
	handler  *audit.Handler

	pg    *postgres.Client
	redis *redis.Client
	minio *minio.Client

	metrics  *prometheus.Registry
	checks   map[string]HealthChecker
	migrate  []Hook
	onStart  []Hook
	onStop   []Hook
	stopLoop context.CancelFunc
	loopDone chan struct{}

	mu        sync.RWMutex
	state     State
	startedAt time.Time
}

// New validates cfg and builds every component. Clients for PostgreSQL,
// Redis and MinIO are created only when a configured backend needs them
// and no injected component replaces it. Nothing is migrated or warmed
// before [Engine.Start].
func New(ctx context.Context, cfg Config, opts ...Option) (*Engine, error) {
	e := &Engine{
		logger:  slog.Default(),
		tracer:  otel.Tracer(tracerName),
		now:     time.Now,
		metrics: prometheus.NewRegistry(),
		checks:  map[string]HealthChecker{},
		state:   StateCreated,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.validator == nil {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	} else if err := cfg.validateBackends(); err != nil {
		return nil, err
	}
	e.cfg = cfg

	if err := metrics.Register(e.metrics); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalConfiguration, "engine: cannot register metrics")
	}

	if err := e.connect(ctx); err != nil {
		e.closeClients()
		return nil, err
	}

	if e.validator == nil {
		reg, err := auth.NewRegistry(cfg.ProviderConfigs(), append([]auth.Option{auth.WithLogger(e.logger)}, e.authOpts...)...)
		if err != nil {
			e.closeClients()
			return nil, err
		}
		e.registry = reg
		e.validator = reg
	}

	e.buildLimiter()
	e.buildTenants()
	e.buildAudit()
	return e, nil
}

// connect opens the clients the configured backends need.
func (e *Engine) connect(ctx context.Context) error {
	cfg := &e.cfg
	needPostgres := (cfg.Audit.Storage == StoragePostgres && e.store == nil) ||
		(cfg.Tenants.Storage == StoragePostgres && e.tenants == nil)
	needRedis := (cfg.RateLimit.Enabled && cfg.RateLimit.Backend == ratelimit.BackendRedis && e.limiter == nil) ||
		(cfg.Tenants.CacheTTL > 0 && e.tenants == nil)
	needMinIO := cfg.Audit.Archive && e.archive == nil

	if needPostgres {
		c, err := postgres.NewClient(ctx, cfg.Postgres)
		if err != nil {
			return err
		}
		e.pg = c
		e.checks["postgres"] = c
	}
	if needRedis {
		c, err := redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		e.redis = c
		e.checks["redis"] = c
	}
	if needMinIO {
		c, err := minio.NewClient(ctx, cfg.MinIO)
		if err != nil {
			return err
		}
		e.minio = c
		e.archive = c
		e.checks["minio"] = c
		e.migrate = append(e.migrate, c.EnsureBucket)
	}
	return nil
}

func (e *Engine) buildLimiter() {
	if e.limiter != nil || !e.cfg.RateLimit.Enabled {
		return
	}
	if e.cfg.RateLimit.Backend == ratelimit.BackendRedis {
		e.limiter = ratelimit.NewRedisLimiter(e.redis, e.cfg.RateLimit.FailOpen)
		return
	}
	e.limiter = ratelimit.NewMemoryLimiter(ratelimit.WithClock(e.now))
}

func (e *Engine) buildTenants() {
	if e.tenants != nil {
		return
	}
	var dir tenant.Directory = tenant.NewMemoryDirectory()
	if e.cfg.Tenants.Storage == StoragePostgres {
		pd := tenant.NewPostgresDirectory(e.pg)
		e.migrate = append(e.migrate, pd.Migrate)
		dir = pd
	}
	if e.cfg.Tenants.CacheTTL > 0 {
		dir = tenant.NewCachedDirectory(dir, e.redis, e.cfg.Tenants.CacheTTL)
	}
	e.tenants = dir
}

func (e *Engine) buildAudit() {
	if e.store == nil {
		if e.cfg.Audit.Storage == StoragePostgres {
			ps := audit.NewPostgresStore(e.pg)
			e.migrate = append(e.migrate, ps.Migrate)
			e.store = ps
		} else {
			e.store = audit.NewMemoryStore()
		}
	}

	skip := append([]string{MetricsPath}, audit.DefaultSkipPaths...)
	e.recorder = audit.NewRecorder(e.store,
		audit.WithSkipPaths(skip...),
		audit.WithWriteTimeout(e.cfg.Audit.WriteTimeout),
		audit.WithRecorderClock(e.now),
	)

	svcOpts := []audit.ServiceOption{audit.WithServiceClock(e.now)}
	if e.archive != nil {
		svcOpts = append(svcOpts, audit.WithArchive(e.archive))
	}
	e.service = audit.NewService(e.store, svcOpts...)
	e.detector = audit.NewDetector(e.store, e.now)
	e.handler = audit.NewHandler(e.service, e.detector)
}

// Registry returns the provider registry, or nil when a validator was
// injected.
func (e *Engine) Registry() *auth.Registry { return e.registry }

// Validator returns the bearer token validator.
func (e *Engine) Validator() auth.TokenValidator { return e.validator }

// Recorder returns the audit recorder.
func (e *Engine) Recorder() *audit.Recorder { return e.recorder }

// Audit returns the audit query service.
func (e *Engine) Audit() *audit.Service { return e.service }

// Detector returns the anomaly detector.
func (e *Engine) Detector() *audit.Detector { return e.detector }

// Tenants returns the tenant directory.
func (e *Engine) Tenants() tenant.Directory { return e.tenants }

// Gatherer returns the engine's metrics registry.
func (e *Engine) Gatherer() prometheus.Gatherer { return e.metrics }

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Uptime is the time since the engine entered [StateRunning], or zero
// when it is not running.
func (e *Engine) Uptime() time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.state != StateRunning {
		return 0
	}
	return e.now().Sub(e.startedAt)
}

func (e *Engine) setState(to State) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !ValidTransition(e.state, to) {
		return sserr.Newf(sserr.CodeInternal,
			"engine: invalid state transition from %q to %q", e.state, to)
	}
	e.state = to
	if to == StateRunning {
		e.startedAt = e.now()
	}
	return nil
}

// Start migrates the stores, prepares the archive bucket and warms the
// provider key sets, then moves to [StateRunning]. A warm-up failure is
// logged and not fatal; keys are fetched again on first use.
func (e *Engine) Start(ctx context.Context) error {
	ctx, span := e.tracer.Start(ctx, "engine.Start", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	if err := ctx.Err(); err != nil {
		return spanError(span, sserr.Wrap(err, sserr.CodeTimeout, "engine: start canceled before execution"))
	}
	if err := e.setState(StateStarting); err != nil {
		return spanError(span, err)
	}
	e.logger.InfoContext(ctx, "engine: starting",
		"audit_storage", e.cfg.Audit.Storage,
		"tenant_storage", e.cfg.Tenants.Storage,
		"rate_limit", e.limiter != nil,
	)

	for _, step := range slices.Concat(e.migrate, e.onStart) {
		if err := step(ctx); err != nil {
			e.logger.ErrorContext(ctx, "engine: start step failed", "error", err)
			_ = e.setState(StateFailed)
			return spanError(span, sserr.Wrap(err, sserr.CodeInternal, "engine: start failed"))
		}
	}

	if e.registry != nil {
		if err := e.registry.Warm(ctx); err != nil {
			e.logger.WarnContext(ctx, "engine: key set warm-up failed", "error", err)
		}
		span.SetAttributes(attribute.Int("engine.providers", len(e.registry.Providers())))
	}

	if e.cfg.Audit.SweepInterval > 0 {
		e.startSweeper()
	}

	if err := e.setState(StateRunning); err != nil {
		return spanError(span, err)
	}
	e.logger.InfoContext(ctx, "engine: started")
	span.SetStatus(codes.Ok, "")
	return nil
}

// Stop drains pending audit writes and closes the clients. Stopping a
// stopped or failed engine is a no-op.
func (e *Engine) Stop(ctx context.Context) error {
	ctx, span := e.tracer.Start(ctx, "engine.Stop", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	if e.State().IsTerminal() {
		span.SetStatus(codes.Ok, "")
		return nil
	}
	if err := e.setState(StateStopping); err != nil {
		return spanError(span, err)
	}
	e.logger.InfoContext(ctx, "engine: stopping")

	var errs []error
	for _, h := range e.onStop {
		errs = append(errs, h(ctx))
	}
	if e.stopLoop != nil {
		e.stopLoop()
		<-e.loopDone
	}
	errs = append(errs, e.recorder.Close(ctx))
	e.closeClients()

	if err := errors.Join(errs...); err != nil {
		e.logger.ErrorContext(ctx, "engine: stop failed", "error", err)
		_ = e.setState(StateFailed)
		return spanError(span, err)
	}
	if err := e.setState(StateStopped); err != nil {
		return spanError(span, err)
	}
	e.logger.InfoContext(ctx, "engine: stopped")
	span.SetStatus(codes.Ok, "")
	return nil
}

func (e *Engine) closeClients() {
	if e.pg != nil {
		e.pg.Close()
	}
	if e.redis != nil {
		if err := e.redis.Close(); err != nil {
			e.logger.Warn("engine: closing redis failed", "error", err)
		}
	}
}

// Health reports nil when the engine is running and every dependency
// answers. Dependencies are probed concurrently.
func (e *Engine) Health(ctx context.Context) error {
	_, err := e.HealthReport(ctx)
	return err
}

// HealthReport probes every dependency and returns "ok" or the failure
// message per dependency name, plus the first failure.
func (e *Engine) HealthReport(ctx context.Context) (map[string]string, error) {
	report := make(map[string]string, len(e.checks)+1)
	if state := e.State(); state != StateRunning {
		report["engine"] = state.String()
		return report, sserr.Newf(sserr.CodeUnavailable, "engine: not running, current state is %q", state)
	}
	report["engine"] = "ok"

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for name, c := range e.checks {
		g.Go(func() error {
			err := c.Health(gctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report[name] = err.Error()
				return sserr.Wrapf(err, sserr.CodeUnavailableDependency, "engine: %s unhealthy", name)
			}
			report[name] = "ok"
			return nil
		})
	}
	return report, g.Wait()
}

// Sweep deletes audit entries of every tenant older than the configured
// retention, archiving them first when an archive is configured.
func (e *Engine) Sweep(ctx context.Context) (audit.CleanupResult, error) {
	ctx, span := e.tracer.Start(ctx, "engine.Sweep")
	defer span.End()
	res, err := e.service.Cleanup(ctx, "", e.cfg.Audit.RetentionDays)
	if err != nil {
		return res, spanError(span, err)
	}
	span.SetAttributes(attribute.Int64("audit.deleted", res.Deleted))
	return res, nil
}

func (e *Engine) startSweeper() {
	ctx, cancel := context.WithCancel(context.Background())
	e.stopLoop = cancel
	e.loopDone = make(chan struct{})
	go func() {
		defer close(e.loopDone)
		t := time.NewTicker(e.cfg.Audit.SweepInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				res, err := e.Sweep(ctx)
				if err != nil {
					e.logger.ErrorContext(ctx, "engine: retention sweep failed", "error", err)
					continue
				}
				e.logger.InfoContext(ctx, "engine: retention sweep done",
					"deleted", res.Deleted, "archived", res.Archived)
			}
		}
	}()
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
