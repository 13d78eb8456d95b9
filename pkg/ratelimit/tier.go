// Package ratelimit maps requests to a bucket key and a quota tier and
// rejects over-budget requests with 429. Limiters never queue: a request
// is admitted or refused immediately.
package ratelimit

import (
	"fmt"
	"strings"
	"time"
)

// Tier names a quota class.
type Tier string

const (
	TierDefault   Tier = "default"
	TierRead      Tier = "read"
	TierWrite     Tier = "write"
	TierUpload    Tier = "upload"
	TierDelete    Tier = "delete"
	TierAdmin     Tier = "admin"
	TierAuth      Tier = "auth"
	TierReports   Tier = "reports"
	TierAudit     Tier = "audit"
	TierUnlimited Tier = "unlimited"
)

// Quota is Limit requests per Window. A zero Limit means unlimited.
type Quota struct {
	Limit  int           `json:"limit" yaml:"limit"`
	Window time.Duration `json:"window" yaml:"window"`
}

// PerMinute returns a quota of n requests per minute.
func PerMinute(n int) Quota {
	return Quota{Limit: n, Window: time.Minute}
}

// Unlimited reports whether the quota admits every request.
func (q Quota) Unlimited() bool {
	return q.Limit <= 0
}

// String renders the quota the way it is advertised in X-RateLimit-Limit,
// e.g. "10/minute".
func (q Quota) String() string {
	if q.Unlimited() {
		return "unlimited"
	}
	switch q.Window {
	case time.Second:
		return fmt.Sprintf("%d/second", q.Limit)
	case time.Minute:
		return fmt.Sprintf("%d/minute", q.Limit)
	case time.Hour:
		return fmt.Sprintf("%d/hour", q.Limit)
	}
	return fmt.Sprintf("%d/%s", q.Limit, q.Window)
}

// DefaultQuotas is the quota table applied when no override is configured.
func DefaultQuotas() map[Tier]Quota {
	return map[Tier]Quota{
		TierDefault:   PerMinute(100),
		TierRead:      PerMinute(50),
		TierWrite:     PerMinute(20),
		TierUpload:    PerMinute(10),
		TierDelete:    PerMinute(10),
		TierAdmin:     PerMinute(5),
		TierAuth:      PerMinute(5),
		TierReports:   PerMinute(10),
		TierAudit:     PerMinute(20),
		TierUnlimited: {},
	}
}

// HealthPath is never limited.
const HealthPath = "/api/v1/health"

// Classify resolves the tier for a request. Rules are tried in order:
// the health endpoint, uploads, deletes, audit-log reads, admin paths, and
// finally the method.
func Classify(method, path string) Tier {
	p := strings.ToLower(path)
	method = strings.ToUpper(method)
	switch {
	case p == HealthPath:
		return TierUnlimited
	case strings.Contains(p, "/upload"):
		return TierUpload
	case method == "DELETE":
		return TierDelete
	case strings.Contains(p, "/audit-logs"):
		return TierAudit
	case strings.Contains(p, "/admin"):
		return TierAdmin
	}
	switch method {
	case "GET", "HEAD":
		return TierRead
	case "POST", "PUT", "PATCH":
		return TierWrite
	}
	return TierDefault
}
