package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// DefaultUserBasedPaths are the path prefixes budgeted per subject rather
// than per client address.
var DefaultUserBasedPaths = []string{
	"/api/v1/contratos",
	"/api/v1/pareceres",
	"/api/v1/bureau",
	"/api/v1/geolocalizacao",
	"/api/v1/audit-logs",
}

// Keyer derives the bucket key of a request.
type Keyer struct {
	// UserBasedPaths lists prefixes keyed by subject when one is known.
	UserBasedPaths []string
}

// Key returns "user:<subject>" for user-based paths when subject is
// non-empty, and "ip:<client address>" otherwise.
func (k Keyer) Key(r *http.Request, subject string) string {
	if subject != "" && k.userBased(r.URL.Path) {
		return "user:" + subject
	}
	return "ip:" + ClientIP(r)
}

func (k Keyer) userBased(path string) bool {
	for _, prefix := range k.UserBasedPaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// ClientIP returns the first X-Forwarded-For entry, then X-Real-IP, then
// the host of RemoteAddr, or "unknown".
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xr := strings.TrimSpace(r.Header.Get("X-Real-IP")); xr != "" {
		return xr
	}
	if r.RemoteAddr == "" {
		return "unknown"
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
