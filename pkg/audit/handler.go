package audit

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/StricklySoft/accessguard/pkg/auth"
	sserr "github.com/StricklySoft/accessguard/pkg/errors"
	"github.com/StricklySoft/accessguard/pkg/models"
)

// RoutePrefix is where [Handler.Register] mounts the query surface.
const RoutePrefix = "/api/v1/audit-logs"

// AdminRole is required by the tenant-wide routes.
const AdminRole = "admin"

// Page size bounds and default.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// ListResponse is a page of entries. Count is the size of this page, not
// the number of matching entries.
type ListResponse struct {
	Count int                    `json:"count"`
	Skip  int                    `json:"skip"`
	Limit int                    `json:"limit"`
	Items []models.AuditLogEntry `json:"items"`
}

// Handler serves the audit query surface. Routes must be mounted behind
// [auth.RequireIdentity]; each route applies its own tenant and role
// checks.
type Handler struct {
	svc      *Service
	detector *Detector
}

// NewHandler returns a handler over svc and detector.
func NewHandler(svc *Service, detector *Detector) *Handler {
	return &Handler{svc: svc, detector: detector}
}

// Register mounts the routes on mux under [RoutePrefix].
func (h *Handler) Register(mux *http.ServeMux) {
	member := auth.Enforce(auth.TenantCheck())
	admin := auth.Enforce(auth.TenantCheck(), auth.RolesCheck(AdminRole))

	mux.Handle("GET "+RoutePrefix+"/my-activity", member(http.HandlerFunc(h.myActivity)))
	mux.Handle("GET "+RoutePrefix+"/resource/{type}/{id}", member(http.HandlerFunc(h.resourceHistory)))
	mux.Handle("GET "+RoutePrefix+"/tenant-activity", admin(http.HandlerFunc(h.tenantActivity)))
	mux.Handle("GET "+RoutePrefix+"/failed-actions", admin(http.HandlerFunc(h.failedActions)))
	mux.Handle("GET "+RoutePrefix+"/ip/{ip}", admin(http.HandlerFunc(h.ipActivity)))
	mux.Handle("GET "+RoutePrefix+"/activity-summary", admin(http.HandlerFunc(h.activitySummary)))
	mux.Handle("GET "+RoutePrefix+"/suspicious-activity", admin(http.HandlerFunc(h.suspiciousActivity)))
	mux.Handle("DELETE "+RoutePrefix+"/expired", admin(http.HandlerFunc(h.cleanup)))
}

func (h *Handler) myActivity(w http.ResponseWriter, r *http.Request) {
	id := auth.MustIdentityFromContext(r.Context())
	p, days, err := pageAndDays(r, DefaultUserDaysBack, 365)
	if err != nil {
		sserr.WriteHTTP(w, r, err)
		return
	}
	entries, err := h.svc.UserActivity(r.Context(), id, days, p)
	writeList(w, r, entries, p, err)
}

func (h *Handler) tenantActivity(w http.ResponseWriter, r *http.Request) {
	id := auth.MustIdentityFromContext(r.Context())
	p, days, err := pageAndDays(r, DefaultTenantDaysBack, 365)
	if err != nil {
		sserr.WriteHTTP(w, r, err)
		return
	}
	q := r.URL.Query()
	entries, err := h.svc.TenantActivity(r.Context(), id.TenantID, days, q.Get("action"), q.Get("status"), p)
	writeList(w, r, entries, p, err)
}

func (h *Handler) resourceHistory(w http.ResponseWriter, r *http.Request) {
	id := auth.MustIdentityFromContext(r.Context())
	p, err := page(r)
	if err != nil {
		sserr.WriteHTTP(w, r, err)
		return
	}
	entries, err := h.svc.ResourceHistory(r.Context(), id, r.PathValue("type"), r.PathValue("id"), p)
	writeList(w, r, entries, p, err)
}

func (h *Handler) failedActions(w http.ResponseWriter, r *http.Request) {
	id := auth.MustIdentityFromContext(r.Context())
	p, days, err := pageAndDays(r, 7, 30)
	if err != nil {
		sserr.WriteHTTP(w, r, err)
		return
	}
	entries, err := h.svc.FailedActions(r.Context(), id.TenantID, days, p)
	writeList(w, r, entries, p, err)
}

func (h *Handler) ipActivity(w http.ResponseWriter, r *http.Request) {
	id := auth.MustIdentityFromContext(r.Context())
	p, days, err := pageAndDays(r, DefaultIPDaysBack, 365)
	if err != nil {
		sserr.WriteHTTP(w, r, err)
		return
	}
	entries, err := h.svc.IPActivity(r.Context(), id.TenantID, r.PathValue("ip"), days, p)
	writeList(w, r, entries, p, err)
}

func (h *Handler) activitySummary(w http.ResponseWriter, r *http.Request) {
	id := auth.MustIdentityFromContext(r.Context())
	days, err := intParam(r, "days_back", DefaultSummaryDaysBack, 1, 365)
	if err != nil {
		sserr.WriteHTTP(w, r, err)
		return
	}
	sum, err := h.svc.Summarize(r.Context(), id.TenantID, days)
	if err != nil {
		sserr.WriteHTTP(w, r, err)
		return
	}
	writeJSON(w, r, sum)
}

func (h *Handler) suspiciousActivity(w http.ResponseWriter, r *http.Request) {
	id := auth.MustIdentityFromContext(r.Context())
	threshold, err := intParam(r, "threshold", DefaultThreshold, MinThreshold, MaxThreshold)
	if err != nil {
		sserr.WriteHTTP(w, r, err)
		return
	}
	findings, err := h.detector.Detect(r.Context(), id.TenantID, threshold)
	if err != nil {
		sserr.WriteHTTP(w, r, err)
		return
	}
	writeJSON(w, r, findings)
}

func (h *Handler) cleanup(w http.ResponseWriter, r *http.Request) {
	id := auth.MustIdentityFromContext(r.Context())
	days, err := intParam(r, "days_retention", DefaultRetentionDays, 1, 3650)
	if err != nil {
		sserr.WriteHTTP(w, r, err)
		return
	}
	res, err := h.svc.Cleanup(r.Context(), id.TenantID, days)
	if err != nil {
		sserr.WriteHTTP(w, r, err)
		return
	}
	writeJSON(w, r, res)
}

func page(r *http.Request) (Page, error) {
	skip, err := intParam(r, "skip", 0, 0, -1)
	if err != nil {
		return Page{}, err
	}
	limit, err := intParam(r, "limit", DefaultLimit, 1, MaxLimit)
	if err != nil {
		return Page{}, err
	}
	return Page{Skip: skip, Limit: limit}, nil
}

func pageAndDays(r *http.Request, defDays, maxDays int) (Page, int, error) {
	p, err := page(r)
	if err != nil {
		return Page{}, 0, err
	}
	days, err := intParam(r, "days_back", defDays, 1, maxDays)
	return p, days, err
}

// intParam reads an integer query parameter within [lo, hi]. A negative
// hi leaves the upper end open.
func intParam(r *http.Request, name string, def, lo, hi int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, sserr.Newf(sserr.CodeValidation, "%s must be an integer", name)
	}
	if v < lo || (hi >= 0 && v > hi) {
		if hi < 0 {
			return 0, sserr.Newf(sserr.CodeValidationRange, "%s must be at least %d", name, lo)
		}
		return 0, sserr.Newf(sserr.CodeValidationRange, "%s must be between %d and %d", name, lo, hi)
	}
	return v, nil
}

func writeList(w http.ResponseWriter, r *http.Request, entries []models.AuditLogEntry, p Page, err error) {
	if err != nil {
		sserr.WriteHTTP(w, r, err)
		return
	}
	if entries == nil {
		entries = []models.AuditLogEntry{}
	}
	writeJSON(w, r, ListResponse{Count: len(entries), Skip: p.Skip, Limit: p.Limit, Items: entries})
}

func writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.ErrorContext(r.Context(), "audit: failed to encode response", "path", r.URL.Path, "error", err)
	}
}
