package audit

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/StricklySoft/accessguard/pkg/auth"
	sserr "github.com/StricklySoft/accessguard/pkg/errors"
	"github.com/StricklySoft/accessguard/pkg/metrics"
	"github.com/StricklySoft/accessguard/pkg/models"
	"github.com/StricklySoft/accessguard/pkg/ratelimit"
)

// DefaultSkipPaths are path prefixes never audited.
var DefaultSkipPaths = []string{
	"/api/v1/health",
	"/api/v1/docs",
	"/api/v1/openapi.json",
	"/api/v1/redoc",
}

// DefaultWriteTimeout bounds a single background write.
const DefaultWriteTimeout = 5 * time.Second

// Recorder writes one [models.AuditLogEntry] per request.
type Recorder struct {
	store        Store
	skipPaths    []string
	writeTimeout time.Duration
	now          func() time.Time

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// RecorderOption configures a [Recorder].
type RecorderOption func(*Recorder)

// WithSkipPaths replaces [DefaultSkipPaths].
func WithSkipPaths(prefixes ...string) RecorderOption {
	return func(r *Recorder) { r.skipPaths = prefixes }
}

// WithWriteTimeout replaces [DefaultWriteTimeout].
func WithWriteTimeout(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.writeTimeout = d
		}
	}
}

// WithRecorderClock overrides the time source.
func WithRecorderClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) { r.now = now }
}

// NewRecorder returns a recorder persisting to store.
func NewRecorder(store Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:        store,
		skipPaths:    DefaultSkipPaths,
		writeTimeout: DefaultWriteTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Middleware audits every request not under a skip path, whatever its
// outcome. It must wrap the authentication middleware: the identity that
// inner stages attach is picked up after the handler returns. A panic in
// next is recorded as a 500 error entry and then re-raised.
func (rec *Recorder) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rec.skipped(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		start := rec.now()
		ctx, captured := auth.WithIdentityCapture(r.Context())
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}

		defer func() {
			p := recover()
			code, errMsg := sw.code, ""
			if p != nil {
				code, errMsg = http.StatusInternalServerError, fmt.Sprint(p)
			}
			id, ok := captured()
			if !ok {
				id, ok = auth.IdentityFromContext(r.Context())
			}
			var idp *auth.Identity
			if ok {
				idp = &id
			}
			rec.Record(ctx, rec.entryFor(r, idp, code, errMsg, start))
			if p != nil {
				panic(p)
			}
		}()

		next.ServeHTTP(sw, r.WithContext(ctx))
	})
}

// Record persists e on a background goroutine. Failures are logged and
// counted, never returned. Entries recorded after [Recorder.Close] are
// dropped.
func (rec *Recorder) Record(ctx context.Context, e *models.AuditLogEntry) {
	rec.mu.Lock()
	if rec.closed {
		rec.mu.Unlock()
		metrics.AuditWriteFailures.Inc()
		slog.WarnContext(ctx, "audit: recorder closed, dropping entry",
			"action", e.Action, "resource_type", e.ResourceType)
		return
	}
	rec.wg.Add(1)
	rec.mu.Unlock()

	metrics.AuditPending.Inc()
	go rec.write(context.WithoutCancel(ctx), e)
}

func (rec *Recorder) write(ctx context.Context, e *models.AuditLogEntry) {
	defer rec.wg.Done()
	defer metrics.AuditPending.Dec()
	defer func() {
		if p := recover(); p != nil {
			metrics.AuditWriteFailures.Inc()
			slog.ErrorContext(ctx, "audit: store panicked", "panic", p)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, rec.writeTimeout)
	defer cancel()

	e.Truncate()
	if err := rec.store.Insert(ctx, e); err != nil {
		metrics.AuditWriteFailures.Inc()
		slog.ErrorContext(ctx, "audit: failed to persist entry",
			"user_id", e.UserID,
			"action", e.Action,
			"resource_type", e.ResourceType,
			"error", err,
		)
		return
	}
	metrics.AuditEntries.WithLabelValues(string(e.Status)).Inc()
	slog.DebugContext(ctx, "audit: entry recorded",
		"user_email", e.UserEmail,
		"action", e.Action,
		"resource_type", e.ResourceType,
		"status", e.Status,
	)
}

// Close stops accepting entries and waits for pending writes until ctx
// is done.
func (rec *Recorder) Close(ctx context.Context) error {
	rec.mu.Lock()
	rec.closed = true
	rec.mu.Unlock()

	done := make(chan struct{})
	go func() {
		rec.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return sserr.Wrap(ctx.Err(), sserr.CodeTimeout, "audit: pending writes did not finish")
	}
}

func (rec *Recorder) skipped(path string) bool {
	for _, p := range rec.skipPaths {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func (rec *Recorder) entryFor(r *http.Request, id *auth.Identity, code int, errMsg string, start time.Time) *models.AuditLogEntry {
	resourceType, resourceID := ResourceFromPath(r.URL.Path)

	var userID, tenantID string
	email := models.UnknownEmail
	if id != nil {
		userID, email, tenantID = id.Subject, id.Email, id.TenantID
	}
	e := models.NewAuditLogEntry(userID, tenantID, models.ActionForMethod(r.Method), resourceType)
	e.UserEmail = email
	e.ResourceID = resourceID
	e.Status = models.StatusForCode(code)
	e.ErrorMessage = errMsg
	e.IPAddress = ratelimit.ClientIP(r)
	e.UserAgent = r.UserAgent()
	e.Timestamp = start.UTC()
	e.CreatedAt = rec.now().UTC()

	e.Details["method"] = r.Method
	e.Details["path"] = r.URL.Path
	e.Details["query_string"] = r.URL.RawQuery
	e.Details["duration_ms"] = float64(rec.now().Sub(start).Microseconds()) / 1000
	e.Details["status_code"] = code
	if code >= http.StatusBadRequest {
		e.Details["error_status_code"] = code
	}
	if traceID, ok := auth.TraceIDFromContext(r.Context()); ok {
		e.Details["trace_id"] = traceID
	}
	return e
}

type statusWriter struct {
	http.ResponseWriter
	code        int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.code, w.wroteHeader = code, true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
