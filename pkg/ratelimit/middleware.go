package ratelimit

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/StricklySoft/accessguard/pkg/auth"
	sserr "github.com/StricklySoft/accessguard/pkg/errors"
	"github.com/StricklySoft/accessguard/pkg/metrics"
)

// Header names set on limited responses.
const (
	HeaderLimit     = "X-RateLimit-Limit"
	HeaderRemaining = "X-RateLimit-Remaining"
)

// ExceededMessage is the detail returned with every 429.
const ExceededMessage = "Rate limit exceeded. Try again in a few seconds."

// Middleware enforces per-tier budgets. Each tier has its own budget per
// bucket key, so reads never eat into the delete budget of the same
// caller. The subject of an identity already on the request context
// selects a user-keyed bucket on user-based paths.
//
// Limiter failures are answered with 503 unless the limiter fails open.
func Middleware(limiter Limiter, cfg Config) func(http.Handler) http.Handler {
	quotas := cfg.ResolvedQuotas()
	keyer := cfg.Keyer()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tier := Classify(r.Method, r.URL.Path)
			quota := quotas[tier]
			if quota.Unlimited() {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			var subject string
			if id, ok := auth.IdentityFromContext(ctx); ok {
				subject = id.Subject
			}
			key := keyer.Key(r, subject)

			d, err := limiter.Allow(ctx, string(tier)+":"+key, quota)
			if err != nil {
				metrics.RateLimitDecisions.WithLabelValues(string(tier), "error").Inc()
				slog.ErrorContext(ctx, "ratelimit: limiter failed", "tier", tier, "error", err)
				sserr.WriteHTTP(w, r, err)
				return
			}

			w.Header().Set(HeaderLimit, quota.String())
			if !d.Allowed {
				metrics.RateLimitDecisions.WithLabelValues(string(tier), "rejected").Inc()
				slog.WarnContext(ctx, "ratelimit: limit exceeded",
					"method", r.Method,
					"path", r.URL.Path,
					"tier", tier,
					"key", key,
					"limit", quota.String(),
				)
				sserr.WriteHTTP(w, r, sserr.RateLimited(ExceededMessage).
					WithDetails(map[string]any{"tier": string(tier), "limit": quota.String()}))
				return
			}

			metrics.RateLimitDecisions.WithLabelValues(string(tier), "allowed").Inc()
			w.Header().Set(HeaderRemaining, strconv.Itoa(d.Remaining))
			next.ServeHTTP(w, r)
		})
	}
}
