package audit

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	sserr "github.com/StricklySoft/accessguard/pkg/errors"
	"github.com/StricklySoft/accessguard/pkg/models"
)

// Threshold bounds and default.
const (
	DefaultThreshold = 10
	MinThreshold     = 1
	MaxThreshold     = 100
)

// DetectionWindow is how far back failures are counted.
const DetectionWindow = 24 * time.Hour

// detectionScanLimit caps the failures loaded per detection run.
const detectionScanLimit = 10000

// Finding types.
const (
	FindingIP   = "ip"
	FindingUser = "user"
)

// Finding is one group at or over the failure threshold.
type Finding struct {
	Type      string `json:"type"`
	Value     string `json:"value"`
	Count     int    `json:"count"`
	Threshold int    `json:"threshold"`
}

// Detector flags IPs and users with many failed requests. It recomputes
// from the store on every call.
type Detector struct {
	store Store
	now   func() time.Time
}

// NewDetector returns a detector over store. A nil now uses time.Now.
func NewDetector(store Store, now func() time.Time) *Detector {
	if now == nil {
		now = time.Now
	}
	return &Detector{store: store, now: now}
}

// Detect counts a tenant's error and blocked entries of the last
// [DetectionWindow] per client IP and per user, and returns every group
// whose count is at least threshold. IP findings come first, each kind
// ordered by count descending. A zero threshold means [DefaultThreshold].
func (d *Detector) Detect(ctx context.Context, tenantID string, threshold int) ([]Finding, error) {
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	if threshold < MinThreshold || threshold > MaxThreshold {
		return nil, sserr.Newf(sserr.CodeValidationRange,
			"threshold must be between %d and %d", MinThreshold, MaxThreshold)
	}

	failed, err := d.store.List(ctx, Filter{
		TenantID: tenantID,
		Statuses: []models.AuditStatus{models.AuditStatusError, models.AuditStatusBlocked},
		Since:    d.now().UTC().Add(-DetectionWindow),
	}, Page{Limit: detectionScanLimit})
	if err != nil {
		return nil, err
	}

	byIP := map[string]int{}
	byUser := map[string]int{}
	for _, e := range failed {
		if e.IPAddress != "" {
			byIP[e.IPAddress]++
		}
		byUser[fmt.Sprintf("%s (%s)", e.UserEmail, e.UserID)]++
	}

	findings := append(over(FindingIP, byIP, threshold), over(FindingUser, byUser, threshold)...)
	return findings, nil
}

func over(kind string, counts map[string]int, threshold int) []Finding {
	out := []Finding{}
	for value, n := range counts {
		if n >= threshold {
			out = append(out, Finding{Type: kind, Value: value, Count: n, Threshold: threshold})
		}
	}
	slices.SortFunc(out, func(a, b Finding) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Value, b.Value)
	})
	return out
}
