package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/StricklySoft/accessguard/internal/testutil"
	"github.com/StricklySoft/accessguard/internal/testutil/fixtures"
	"github.com/StricklySoft/accessguard/pkg/audit"
	"github.com/StricklySoft/accessguard/pkg/auth"
	sserr "github.com/StricklySoft/accessguard/pkg/errors"
	"github.com/StricklySoft/accessguard/pkg/models"
	"github.com/StricklySoft/accessguard/pkg/ratelimit"
	"github.com/StricklySoft/accessguard/pkg/tenant"
)

func testConfig(idp *fixtures.IdP) Config {
	return Config{
		Provider: auth.ProviderConfig{
			Name:             "kc",
			Kind:             "keycloak",
			Authority:        idp.URL(),
			ClientID:         fixtures.TestClientID,
			ValidateIssuer:   true,
			ValidateAudience: true,
		},
		RateLimit: ratelimit.Config{Enabled: true},
	}
}

// newTestEngine starts an engine against a fake IdP with an in-memory
// audit store the test can inspect.
func newTestEngine(t *testing.T, opts ...Option) (*Engine, *fixtures.IdP, *audit.MemoryStore) {
	t.Helper()
	idp := fixtures.NewIdP(t)
	store := audit.NewMemoryStore()
	opts = append([]Option{
		WithAuthOptions(auth.WithHTTPClient(idp.Client())),
		WithAuditStore(store),
	}, opts...)

	eng, err := New(context.Background(), testConfig(idp), opts...)
	require.NoError(t, err)
	require.NoError(t, eng.Start(context.Background()))
	t.Cleanup(func() { _ = eng.Stop(context.Background()) })
	return eng, idp, store
}

func token(idp *fixtures.IdP, sub, tenantID string, roles ...string) string {
	claims := idp.Claims(sub)
	claims["tenant_id"] = tenantID
	claims["roles"] = roles
	return idp.Mint(claims)
}

func do(h http.Handler, method, path, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "203.0.113.9:5000"
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

var app = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	id := auth.MustIdentityFromContext(r.Context())
	if r.Method == http.MethodDelete {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	_, _ = w.Write([]byte(id.Subject + "@" + id.TenantID))
})

func TestEngine_Lifecycle(t *testing.T) {
	t.Parallel()
	idp := fixtures.NewIdP(t)
	var started, stopped bool
	eng, err := New(context.Background(), testConfig(idp),
		WithAuthOptions(auth.WithHTTPClient(idp.Client())),
		OnStart(func(context.Context) error { started = true; return nil }),
		OnStop(func(context.Context) error { stopped = true; return nil }),
	)
	require.NoError(t, err)
	assert.Equal(t, StateCreated, eng.State())
	testutil.AssertErrorCode(t, eng.Health(context.Background()), sserr.CodeUnavailable)

	require.NoError(t, eng.Start(context.Background()))
	assert.True(t, started)
	assert.Equal(t, StateRunning, eng.State())
	assert.EqualValues(t, 1, idp.JWKSHits(), "start warms the key set")
	require.NoError(t, eng.Health(context.Background()))

	testutil.AssertErrorCode(t, eng.Start(context.Background()), sserr.CodeInternal)

	require.NoError(t, eng.Stop(context.Background()))
	assert.True(t, stopped)
	assert.Equal(t, StateStopped, eng.State())
	assert.Zero(t, eng.Uptime())
	require.NoError(t, eng.Stop(context.Background()), "stop is idempotent")
}

func TestEngine_WarmFailureIsNotFatal(t *testing.T) {
	t.Parallel()
	idp := fixtures.NewIdP(t)
	idp.SetFailing(true)
	eng, err := New(context.Background(), testConfig(idp), WithAuthOptions(auth.WithHTTPClient(idp.Client())))
	require.NoError(t, err)
	require.NoError(t, eng.Start(context.Background()))
	assert.Equal(t, StateRunning, eng.State())
	require.NoError(t, eng.Stop(context.Background()))
}

func TestEngine_StartHookFailure(t *testing.T) {
	t.Parallel()
	idp := fixtures.NewIdP(t)
	eng, err := New(context.Background(), testConfig(idp),
		WithAuthOptions(auth.WithHTTPClient(idp.Client())),
		OnStart(func(context.Context) error { return errors.New("boom") }),
	)
	require.NoError(t, err)
	testutil.RequireErrorCode(t, eng.Start(context.Background()), sserr.CodeInternal)
	assert.Equal(t, StateFailed, eng.State())
	require.NoError(t, eng.Stop(context.Background()))
}

func TestEngine_StopUnstarted(t *testing.T) {
	t.Parallel()
	idp := fixtures.NewIdP(t)
	eng, err := New(context.Background(), testConfig(idp))
	require.NoError(t, err)
	require.NoError(t, eng.Stop(context.Background()))
	assert.Equal(t, StateStopped, eng.State())
}

func TestNew_InvalidConfig(t *testing.T) {
	t.Parallel()
	_, err := New(context.Background(), Config{})
	require.Error(t, err)

	idp := fixtures.NewIdP(t)
	cfg := testConfig(idp)
	cfg.Audit.Storage = "cassandra"
	_, err = New(context.Background(), cfg)
	require.Error(t, err)
}

func TestEngine_Handler(t *testing.T) {
	t.Parallel()
	eng, idp, store := newTestEngine(t)
	h := eng.Handler(app)

	alice := token(idp, "alice", "acme", "user")
	admin := token(idp, "root", "acme", "Admin")

	t.Run("health is public", func(t *testing.T) {
		rec := do(h, http.MethodGet, ratelimit.HealthPath, "")
		require.Equal(t, http.StatusOK, rec.Code)
		var body HealthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "healthy", body.Status)
		assert.Equal(t, "ok", body.Checks["engine"])
		testutil.AssertJSONContains(t, body, `"uptime_seconds":`)
	})

	t.Run("metrics are public", func(t *testing.T) {
		rec := do(h, http.MethodGet, MetricsPath, "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "accessguard_")
	})

	t.Run("missing token", func(t *testing.T) {
		rec := do(h, http.MethodGet, "/api/v1/contratos", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "50/minute", rec.Header().Get(ratelimit.HeaderLimit), "limited before authentication")
	})

	t.Run("valid token reaches the app", func(t *testing.T) {
		rec := do(h, http.MethodGet, "/api/v1/contratos", alice)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "alice@acme", rec.Body.String())
		assert.NotEmpty(t, rec.Header().Get(ratelimit.HeaderLimit))
	})

	t.Run("admin routes need the admin role", func(t *testing.T) {
		assert.Equal(t, http.StatusForbidden, do(h, http.MethodGet, audit.RoutePrefix+"/tenant-activity", alice).Code)
		assert.Equal(t, http.StatusOK, do(h, http.MethodGet, audit.RoutePrefix+"/tenant-activity", admin).Code)
	})

	t.Run("eleventh delete is limited", func(t *testing.T) {
		bob := token(idp, "bob", "acme")
		for i := range 10 {
			require.Equal(t, http.StatusNoContent, do(h, http.MethodDelete, "/api/v1/contratos/9", bob).Code, "request %d", i+1)
		}
		rec := do(h, http.MethodDelete, "/api/v1/contratos/9", bob)
		require.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	})

	// Stop drains the pending audit writes.
	require.NoError(t, eng.Stop(context.Background()))

	entries, err := store.List(context.Background(), audit.Filter{}, audit.Page{})
	require.NoError(t, err)

	var anonymous, limited, health int
	for _, e := range entries {
		switch {
		case e.UserID == models.AnonymousUserID && e.Status == models.AuditStatusBlocked:
			anonymous++
		case e.Status == models.AuditStatusError && e.Details["status_code"] == http.StatusTooManyRequests:
			limited++
		}
		if e.ResourceType == "health" {
			health++
		}
	}
	assert.Equal(t, 1, anonymous, "the unauthenticated request is audited as blocked")
	assert.Equal(t, 1, limited, "the limited delete is audited")
	assert.Zero(t, health, "health checks are not audited")
}

func TestEngine_RequireActiveTenant(t *testing.T) {
	t.Parallel()
	dir := tenant.NewMemoryDirectory()
	dir.Put(models.Tenant{ID: "acme", Name: "Acme", Active: true})
	dir.Put(models.Tenant{ID: "gone", Name: "Gone", Active: false})

	idp := fixtures.NewIdP(t)
	cfg := testConfig(idp)
	cfg.Tenants.RequireActive = true
	eng, err := New(context.Background(), cfg,
		WithAuthOptions(auth.WithHTTPClient(idp.Client())),
		WithTenantDirectory(dir),
	)
	require.NoError(t, err)
	require.NoError(t, eng.Start(context.Background()))
	t.Cleanup(func() { _ = eng.Stop(context.Background()) })
	h := eng.Handler(app)

	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/v1/pareceres", token(idp, "a", "acme")).Code)
	assert.Equal(t, http.StatusForbidden, do(h, http.MethodGet, "/api/v1/pareceres", token(idp, "b", "gone")).Code)
	assert.Equal(t, http.StatusForbidden, do(h, http.MethodGet, "/api/v1/pareceres", token(idp, "c", "nobody")).Code)
}

type staticValidator map[string]auth.Identity

func (s staticValidator) Validate(_ context.Context, token string) (auth.Identity, error) {
	if id, ok := s[token]; ok {
		return id, nil
	}
	return auth.Identity{}, sserr.New(sserr.CodeAuthenticationInvalid, "invalid token")
}

func TestEngine_WithValidator(t *testing.T) {
	t.Parallel()
	eng, err := New(context.Background(), Config{},
		WithValidator(staticValidator{"t": {Subject: "s", TenantID: "acme"}}),
	)
	require.NoError(t, err)
	assert.Nil(t, eng.Registry())
	require.NoError(t, eng.Start(context.Background()))
	t.Cleanup(func() { _ = eng.Stop(context.Background()) })

	h := eng.Handler(app)
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/v1/x", "t").Code)
	assert.Equal(t, http.StatusUnauthorized, do(h, http.MethodGet, "/api/v1/x", "u").Code)
	assert.Len(t, eng.GRPCServerOptions(auth.TenantCheck()), 2)
}

func TestEngine_Sweep(t *testing.T) {
	t.Parallel()
	eng, _, store := newTestEngine(t)
	old := models.NewAuditLogEntry("u", "acme", models.AuditActionRead, "contratos")
	old.Timestamp = old.Timestamp.AddDate(-2, 0, 0)
	fresh := models.NewAuditLogEntry("u", "acme", models.AuditActionRead, "contratos")
	require.NoError(t, store.Insert(context.Background(), old))
	require.NoError(t, store.Insert(context.Background(), fresh))

	res, err := eng.Sweep(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Deleted)
	assert.Equal(t, 1, store.Len())
}

func TestEngine_WrongAudienceIsRejected(t *testing.T) {
	t.Parallel()
	eng, idp, _ := newTestEngine(t)
	claims := idp.Claims("mallory")
	claims["aud"] = "someone-else"
	rec := do(eng.Handler(app), http.MethodGet, "/api/v1/contratos", idp.Mint(claims))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestEngine_LifecycleSpans(t *testing.T) {
	t.Parallel()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	idp := fixtures.NewIdP(t)
	eng, err := New(context.Background(), testConfig(idp),
		WithAuthOptions(auth.WithHTTPClient(idp.Client())),
		WithTracerProvider(tp),
	)
	require.NoError(t, err)
	require.NoError(t, eng.Start(context.Background()))
	require.NoError(t, eng.Stop(context.Background()))

	var names []string
	for _, s := range exporter.GetSpans() {
		names = append(names, s.Name)
	}
	assert.Contains(t, names, "engine.Start")
	assert.Contains(t, names, "engine.Stop")
}
