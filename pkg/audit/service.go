package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/StricklySoft/accessguard/pkg/auth"
	sserr "github.com/StricklySoft/accessguard/pkg/errors"
	"github.com/StricklySoft/accessguard/pkg/models"
)

// Look-back defaults, in days.
const (
	DefaultUserDaysBack    = 90
	DefaultTenantDaysBack  = 30
	DefaultFailedDaysBack  = 30
	DefaultIPDaysBack      = 7
	DefaultSummaryDaysBack = 30
	DefaultRetentionDays   = 365
)

// ArchiveContentType is the content type of retention archives.
const ArchiveContentType = "application/x-ndjson"

// ObjectWriter stores retention archives. The minio client satisfies it.
type ObjectWriter interface {
	Put(ctx context.Context, objectName, contentType string, data []byte) (minio.UploadInfo, error)
}

// Service answers audit queries over a [Store].
type Service struct {
	store   Store
	archive ObjectWriter
	now     func() time.Time
}

// ServiceOption configures a [Service].
type ServiceOption func(*Service)

// WithArchive makes [Service.Cleanup] upload expired entries before
// deleting them.
func WithArchive(w ObjectWriter) ServiceOption {
	return func(s *Service) { s.archive = w }
}

// WithServiceClock overrides the time source.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService returns a service over store.
func NewService(store Store, opts ...ServiceOption) *Service {
	s := &Service{store: store, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) since(daysBack, fallback int) time.Time {
	if daysBack <= 0 {
		daysBack = fallback
	}
	return s.now().UTC().AddDate(0, 0, -daysBack)
}

// UserActivity lists the entries of one subject within its tenant. Subject
// ids are only unique per provider, so the tenant is part of the key.
func (s *Service) UserActivity(ctx context.Context, id auth.Identity, daysBack int, p Page) ([]models.AuditLogEntry, error) {
	if err := auth.CheckTenant(id); err != nil {
		return nil, err
	}
	return s.store.List(ctx, Filter{
		UserID:   id.Subject,
		TenantID: id.TenantID,
		Since:    s.since(daysBack, DefaultUserDaysBack),
	}, p)
}

// TenantActivity lists the entries of a tenant. action and status are
// optional filters parsed case-insensitively; unknown values are a
// validation error.
func (s *Service) TenantActivity(ctx context.Context, tenantID string, daysBack int, action, status string, p Page) ([]models.AuditLogEntry, error) {
	f := Filter{TenantID: tenantID, Since: s.since(daysBack, DefaultTenantDaysBack)}
	if action != "" {
		a, err := models.ParseAuditAction(action)
		if err != nil {
			return nil, sserr.Validationf("Invalid action: %s", action)
		}
		f.Action = a
	}
	if status != "" {
		st, err := models.ParseAuditStatus(status)
		if err != nil {
			return nil, sserr.Validationf("Invalid status: %s", status)
		}
		f.Statuses = []models.AuditStatus{st}
	}
	return s.store.List(ctx, f, p)
}

// ResourceHistory lists the caller's tenant's entries for one resource.
// Resource ids are path segments and repeat across tenants, so entries of
// other tenants are never matched.
func (s *Service) ResourceHistory(ctx context.Context, id auth.Identity, resourceType, resourceID string, p Page) ([]models.AuditLogEntry, error) {
	if err := auth.CheckTenant(id); err != nil {
		return nil, err
	}
	return s.store.List(ctx, Filter{
		TenantID:     id.TenantID,
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}, p)
}

// FailedActions lists error and blocked entries of a tenant.
func (s *Service) FailedActions(ctx context.Context, tenantID string, daysBack int, p Page) ([]models.AuditLogEntry, error) {
	return s.store.List(ctx, Filter{
		TenantID: tenantID,
		Statuses: []models.AuditStatus{models.AuditStatusError, models.AuditStatusBlocked},
		Since:    s.since(daysBack, DefaultFailedDaysBack),
	}, p)
}

// IPActivity lists the entries of a tenant originating from ip.
func (s *Service) IPActivity(ctx context.Context, tenantID, ip string, daysBack int, p Page) ([]models.AuditLogEntry, error) {
	return s.store.List(ctx, Filter{
		TenantID:  tenantID,
		IPAddress: ip,
		Since:     s.since(daysBack, DefaultIPDaysBack),
	}, p)
}

// DateRange is the window a [Summary] covers.
type DateRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Summary aggregates a tenant's entries.
type Summary struct {
	TotalActions int            `json:"total_actions"`
	Actions      map[string]int `json:"actions"`
	Statuses     map[string]int `json:"statuses"`
	Resources    map[string]int `json:"resources"`
	UniqueUsers  int            `json:"unique_users"`
	DateRange    DateRange      `json:"date_range"`
}

// Summarize counts a tenant's entries by action, status and resource type.
func (s *Service) Summarize(ctx context.Context, tenantID string, daysBack int) (Summary, error) {
	from := s.since(daysBack, DefaultSummaryDaysBack)
	entries, err := s.store.List(ctx, Filter{TenantID: tenantID, Since: from}, Page{})
	if err != nil {
		return Summary{}, err
	}

	sum := Summary{
		TotalActions: len(entries),
		Actions:      map[string]int{},
		Statuses:     map[string]int{},
		Resources:    map[string]int{},
		DateRange:    DateRange{From: from, To: s.now().UTC()},
	}
	users := make(map[string]struct{})
	for _, e := range entries {
		sum.Actions[string(e.Action)]++
		sum.Statuses[string(e.Status)]++
		sum.Resources[e.ResourceType]++
		if e.UserID != "" {
			users[e.UserID] = struct{}{}
		}
	}
	sum.UniqueUsers = len(users)
	return sum, nil
}

// CleanupResult reports a retention sweep.
type CleanupResult struct {
	Deleted  int64  `json:"deleted"`
	Archived int    `json:"archived"`
	Object   string `json:"object,omitempty"`
}

// Cleanup deletes the entries of tenantID older than retentionDays. An
// empty tenantID sweeps every tenant; only the engine's retention sweeper
// passes it. With an archive configured the expired entries are first
// uploaded as NDJSON; a failed upload leaves the entries in place.
func (s *Service) Cleanup(ctx context.Context, tenantID string, retentionDays int) (CleanupResult, error) {
	cutoff := s.since(retentionDays, DefaultRetentionDays)
	var res CleanupResult

	if s.archive != nil {
		expired, err := s.store.List(ctx, Filter{TenantID: tenantID, Until: cutoff}, Page{})
		if err != nil {
			return res, err
		}
		if len(expired) > 0 {
			var buf bytes.Buffer
			enc := json.NewEncoder(&buf)
			for i := range expired {
				if err := enc.Encode(&expired[i]); err != nil {
					return res, sserr.Wrap(err, sserr.CodeInternal, "audit: failed to encode archive")
				}
			}
			scope := tenantID
			if scope == "" {
				scope = "all"
			}
			res.Object = fmt.Sprintf("audit-logs/%s/%s-%d.ndjson", scope, cutoff.Format("2006-01-02"), s.now().Unix())
			if _, err := s.archive.Put(ctx, res.Object, ArchiveContentType, buf.Bytes()); err != nil {
				return CleanupResult{}, err
			}
			res.Archived = len(expired)
		}
	}

	n, err := s.store.DeleteBefore(ctx, tenantID, cutoff)
	if err != nil {
		return res, err
	}
	res.Deleted = n
	slog.InfoContext(ctx, "audit: retention sweep finished",
		"tenant_id", tenantID,
		"cutoff", cutoff,
		"deleted", n,
		"archived", res.Archived,
	)
	return res, nil
}
