// Package audit records one entry per gated HTTP request and serves the
// query, summary, retention and anomaly-detection operations over them.
//
// Writes are fire-and-forget: the [Recorder] persists entries on a
// detached goroutine and a failed write is logged and dropped, never
// surfaced to the request that produced it. [Recorder.Close] waits for
// pending writes during shutdown.
package audit

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/StricklySoft/accessguard/pkg/models"
)

// Filter selects entries. Zero fields do not filter.
type Filter struct {
	UserID       string
	TenantID     string
	ResourceType string
	ResourceID   string
	IPAddress    string
	Action       models.AuditAction

	// Statuses matches any of the listed statuses.
	Statuses []models.AuditStatus

	// Since is inclusive, Until exclusive.
	Since time.Time
	Until time.Time
}

// Page bounds a listing. A zero Limit returns every match.
type Page struct {
	Skip  int
	Limit int
}

// Store persists audit entries. List returns newest first.
//
// DeleteBefore removes the entries of tenantID older than cutoff. An empty
// tenantID removes them for every tenant and is reserved for the
// system-wide retention sweep.
type Store interface {
	Insert(ctx context.Context, entry *models.AuditLogEntry) error
	List(ctx context.Context, f Filter, p Page) ([]models.AuditLogEntry, error)
	DeleteBefore(ctx context.Context, tenantID string, cutoff time.Time) (int64, error)
}

// MemoryStore is a process-local [Store] for tests and single-instance
// deployments without a database.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []models.AuditLogEntry
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Insert(_ context.Context, entry *models.AuditLogEntry) error {
	e := *entry
	e.Details = maps.Clone(entry.Details)
	s.mu.Lock()
	s.entries = append(s.entries, e)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) List(_ context.Context, f Filter, p Page) ([]models.AuditLogEntry, error) {
	s.mu.RLock()
	var out []models.AuditLogEntry
	for _, e := range s.entries {
		if f.matches(&e) {
			out = append(out, e)
		}
	}
	s.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b models.AuditLogEntry) int {
		return b.Timestamp.Compare(a.Timestamp)
	})
	return paginate(out, p), nil
}

func (s *MemoryStore) DeleteBefore(_ context.Context, tenantID string, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.entries)
	s.entries = slices.DeleteFunc(s.entries, func(e models.AuditLogEntry) bool {
		return (tenantID == "" || e.TenantID == tenantID) && e.Timestamp.Before(cutoff)
	})
	return int64(n - len(s.entries)), nil
}

// Len returns the number of stored entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (f Filter) matches(e *models.AuditLogEntry) bool {
	switch {
	case f.UserID != "" && e.UserID != f.UserID:
		return false
	case f.TenantID != "" && e.TenantID != f.TenantID:
		return false
	case f.ResourceType != "" && e.ResourceType != f.ResourceType:
		return false
	case f.ResourceID != "" && e.ResourceID != f.ResourceID:
		return false
	case f.IPAddress != "" && e.IPAddress != f.IPAddress:
		return false
	case f.Action != "" && e.Action != f.Action:
		return false
	case len(f.Statuses) > 0 && !slices.Contains(f.Statuses, e.Status):
		return false
	case !f.Since.IsZero() && e.Timestamp.Before(f.Since):
		return false
	case !f.Until.IsZero() && !e.Timestamp.Before(f.Until):
		return false
	}
	return true
}

func paginate(entries []models.AuditLogEntry, p Page) []models.AuditLogEntry {
	if p.Skip >= len(entries) {
		return []models.AuditLogEntry{}
	}
	entries = entries[max(p.Skip, 0):]
	if p.Limit > 0 && p.Limit < len(entries) {
		entries = entries[:p.Limit]
	}
	return entries
}
