package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/accessguard/pkg/auth"
	"github.com/StricklySoft/accessguard/pkg/models"
)

var (
	analyst = auth.Identity{Subject: "alice", Email: "alice@example.com", TenantID: "t1", Roles: []string{"analista"}}
	admin   = auth.Identity{Subject: "root", Email: "root@example.com", TenantID: "t1", Roles: []string{"Admin"}}
)

func newTestHandler(t *testing.T) (*http.ServeMux, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	mux := http.NewServeMux()
	NewHandler(NewService(store, WithServiceClock(fixedNow)), NewDetector(store, fixedNow)).Register(mux)
	return mux, store
}

func get(t *testing.T, h http.Handler, id auth.Identity, target string) *httptest.ResponseRecorder {
	t.Helper()
	return do(t, h, id, http.MethodGet, target)
}

func do(t *testing.T, h http.Handler, id auth.Identity, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(method, target, nil)
	r = r.WithContext(auth.ContextWithIdentity(r.Context(), id))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestHandler_MyActivity(t *testing.T) {
	t.Parallel()
	mux, store := newTestHandler(t)
	seed(t, store,
		entry("alice", "t1", "", models.AuditStatusSuccess, time.Hour),
		entry("alice", "t1", "", models.AuditStatusSuccess, 2*time.Hour),
		entry("root", "t1", "", models.AuditStatusSuccess, time.Hour),
	)

	seed(t, store, entry("alice", "t2", "", models.AuditStatusSuccess, time.Minute))

	w := get(t, mux, analyst, RoutePrefix+"/my-activity?limit=1&skip=1")
	require.Equal(t, http.StatusOK, w.Code)

	var resp ListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, 1, resp.Skip)
	assert.Equal(t, 1, resp.Limit)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "alice", resp.Items[0].UserID)
	assert.Equal(t, baseTime.Add(-2*time.Hour), resp.Items[0].Timestamp)
}

func TestHandler_PaginationValidation(t *testing.T) {
	t.Parallel()
	mux, _ := newTestHandler(t)
	for _, q := range []string{"limit=0", "limit=1001", "skip=-1", "days_back=0", "days_back=366", "limit=ten"} {
		w := get(t, mux, analyst, RoutePrefix+"/my-activity?"+q)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestHandler_AdminRoutesRequireAdmin(t *testing.T) {
	t.Parallel()
	mux, _ := newTestHandler(t)
	for _, path := range []string{"/tenant-activity", "/failed-actions", "/activity-summary", "/suspicious-activity", "/ip/1.2.3.4"} {
		assert.Equal(t, http.StatusForbidden, get(t, mux, analyst, RoutePrefix+path).Code, path)
		assert.Equal(t, http.StatusOK, get(t, mux, admin, RoutePrefix+path).Code, path)
	}
	assert.Equal(t, http.StatusForbidden, do(t, mux, analyst, http.MethodDelete, RoutePrefix+"/expired").Code)
}

func TestHandler_MissingTenantIsForbidden(t *testing.T) {
	t.Parallel()
	mux, _ := newTestHandler(t)
	noTenant := auth.Identity{Subject: "x", Roles: []string{"admin"}}
	assert.Equal(t, http.StatusForbidden, get(t, mux, noTenant, RoutePrefix+"/my-activity").Code)
}

func TestHandler_TenantActivityRejectsUnknownFilters(t *testing.T) {
	t.Parallel()
	mux, _ := newTestHandler(t)
	assert.Equal(t, http.StatusBadRequest, get(t, mux, admin, RoutePrefix+"/tenant-activity?action=purge").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, mux, admin, RoutePrefix+"/tenant-activity?status=ok").Code)
	assert.Equal(t, http.StatusOK, get(t, mux, admin, RoutePrefix+"/tenant-activity?action=delete&status=Blocked").Code)
}

func TestHandler_ResourceHistoryOnlyShowsOwnTenant(t *testing.T) {
	t.Parallel()
	mux, store := newTestHandler(t)
	own := entry("alice", "t1", "", models.AuditStatusSuccess, time.Hour)
	own.ResourceID = "123"
	anonymous := entry("", models.DefaultTenantID, "9.9.9.9", models.AuditStatusBlocked, time.Minute)
	anonymous.ResourceID = "123"
	foreign := entry("mallory", "t2", "", models.AuditStatusSuccess, time.Minute)
	foreign.ResourceID = "123"
	seed(t, store, own, anonymous, foreign)

	w := get(t, mux, analyst, RoutePrefix+"/resource/contratos/123")
	require.Equal(t, http.StatusOK, w.Code)
	var resp ListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Items, 1)
	assert.Equal(t, own.ID, resp.Items[0].ID)
}

func TestHandler_SuspiciousActivity(t *testing.T) {
	t.Parallel()
	mux, store := newTestHandler(t)
	seedFailures(t, store, 10, "mallory", "1.2.3.4")

	assert.Equal(t, http.StatusBadRequest, get(t, mux, admin, RoutePrefix+"/suspicious-activity?threshold=0").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, mux, admin, RoutePrefix+"/suspicious-activity?threshold=101").Code)

	w := get(t, mux, admin, RoutePrefix+"/suspicious-activity")
	require.Equal(t, http.StatusOK, w.Code)
	var findings []Finding
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &findings))
	assert.Contains(t, findings, Finding{Type: FindingIP, Value: "1.2.3.4", Count: 10, Threshold: 10})
}

func TestHandler_ActivitySummary(t *testing.T) {
	t.Parallel()
	mux, store := newTestHandler(t)
	seed(t, store, entry("alice", "t1", "", models.AuditStatusSuccess, time.Hour))

	w := get(t, mux, admin, RoutePrefix+"/activity-summary?days_back=7")
	require.Equal(t, http.StatusOK, w.Code)
	var sum Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sum))
	assert.Equal(t, 1, sum.TotalActions)
	assert.Equal(t, 1, sum.UniqueUsers)
}

func TestHandler_Cleanup(t *testing.T) {
	t.Parallel()
	mux, store := newTestHandler(t)
	seed(t, store,
		entry("a", "t1", "", models.AuditStatusSuccess, 400*24*time.Hour),
		entry("b", "t2", "", models.AuditStatusSuccess, 400*24*time.Hour),
	)

	w := do(t, mux, admin, http.MethodDelete, RoutePrefix+"/expired?days_retention=30")
	require.Equal(t, http.StatusOK, w.Code)
	var res CleanupResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.EqualValues(t, 1, res.Deleted)

	left, err := store.List(context.Background(), Filter{}, Page{})
	require.NoError(t, err)
	require.Len(t, left, 1, "another tenant's entries survive")
	assert.Equal(t, "t2", left[0].TenantID)
}
