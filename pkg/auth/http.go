package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	sserr "github.com/StricklySoft/accessguard/pkg/errors"
)

// HeaderAuthorization is the header carrying the bearer token.
const HeaderAuthorization = "Authorization"

// ExtractBearerToken returns the token of a "Bearer <token>" header value,
// or "" when the value is absent or uses another scheme. The scheme is
// matched case-insensitively.
func ExtractBearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func missingToken() error {
	return sserr.New(sserr.CodeAuthenticationMissing, "Bearer token not provided")
}

// RequireIdentity is mandatory authentication.
//
// The middleware performs the following steps:
//  1. Reuses the outcome recorded by [ResolveIdentity], if it ran earlier
//  2. Otherwise extracts the bearer token from the "Authorization" header
//  3. Validates the token using the provided [TokenValidator]
//  4. Stores the resulting [Identity] in the request context
//
// Requests without a valid bearer token are answered with 401 and the
// uniform error body; the rejection reason is carried in the error code.
//
// Example:
//
//	mux := http.NewServeMux()
//	mux.HandleFunc("GET /api/v1/me", handleMe)
//	handler := auth.RequireIdentity(registry)(mux)
//	http.ListenAndServe(":8080", handler)
func RequireIdentity(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if res, ok := ctx.Value(resolutionKey).(resolution); ok {
				if res.err != nil {
					sserr.WriteHTTP(w, r, res.err)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			token := ExtractBearerToken(r.Header.Get(HeaderAuthorization))
			if token == "" {
				sserr.WriteHTTP(w, r, missingToken())
				return
			}

			identity, err := validator.Validate(ctx, token)
			if err != nil {
				slog.WarnContext(ctx, "auth: authentication failed",
					"method", r.Method,
					"path", r.URL.Path,
					"reason", reasonOf(err),
				)
				sserr.WriteHTTP(w, r, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(ctx, identity)))
		})
	}
}

// OptionalIdentity is best-effort authentication: a valid token attaches
// an [Identity], while a missing or invalid token lets the request
// continue anonymously.
func OptionalIdentity(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ExtractBearerToken(r.Header.Get(HeaderAuthorization))
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			identity, err := validator.Validate(ctx, token)
			if err != nil {
				slog.DebugContext(ctx, "auth: ignoring invalid optional token",
					"path", r.URL.Path, "reason", reasonOf(err))
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(ctx, identity)))
		})
	}
}

// ResolveIdentity validates the bearer token, if any, without rejecting the
// request. A valid token attaches an [Identity]; a missing or invalid one
// is remembered so a later [RequireIdentity] answers 401 with the original
// reason. It lets stages that only need an optional identity, such as the
// rate limiter, run before authentication is enforced.
//
// Example:
//
//	handler := auth.Chain(app,
//		auth.ResolveIdentity(registry),
//		ratelimit.Middleware(limiter, cfg),
//		auth.RequireIdentity(registry),
//	)
func ResolveIdentity(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token := ExtractBearerToken(r.Header.Get(HeaderAuthorization))
			if token == "" {
				next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, resolutionKey, resolution{err: missingToken()})))
				return
			}
			identity, err := validator.Validate(ctx, token)
			if err != nil {
				slog.WarnContext(ctx, "auth: authentication failed",
					"method", r.Method,
					"path", r.URL.Path,
					"reason", reasonOf(err),
				)
				next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, resolutionKey, resolution{err: err})))
				return
			}
			ctx = context.WithValue(ctx, resolutionKey, resolution{})
			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(ctx, identity)))
		})
	}
}
