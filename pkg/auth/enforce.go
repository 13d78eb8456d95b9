package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	sserr "github.com/StricklySoft/accessguard/pkg/errors"
	"github.com/StricklySoft/accessguard/pkg/metrics"
)

// Check is one authorization stage. It inspects the identity and returns
// nil to let the request through or an error to stop it.
type Check func(ctx context.Context, id Identity) error

// CheckRoles passes when the identity holds at least one of allowed.
// Both sides are compared lower-cased, so order and casing never matter.
// An identity without roles is always rejected.
func CheckRoles(id Identity, allowed ...string) error {
	have := NewRoleSet(id.Roles...)
	if len(have) == 0 {
		return sserr.New(sserr.CodeAuthorizationRole, "Insufficient permissions. No roles assigned").
			WithDetail("required_roles", NewRoleSet(allowed...).Sorted())
	}
	want := NewRoleSet(allowed...)
	if !have.Intersects(want) {
		return sserr.Newf(sserr.CodeAuthorizationRole,
			"Insufficient permissions. Required roles: %s", strings.Join(want.Sorted(), ", ")).
			WithDetail("required_roles", want.Sorted())
	}
	return nil
}

// CheckTenant passes when the identity carries a tenant. Matching a
// record's tenant against the identity is done with [CheckTenantAccess]
// at the data-access boundary.
func CheckTenant(id Identity) error {
	if strings.TrimSpace(id.TenantID) == "" {
		return sserr.New(sserr.CodeAuthorizationTenant, "Tenant information missing")
	}
	return nil
}

// CheckTenantAccess rejects access to a record owned by another tenant.
// Cross-tenant access is always reported as 403, never as 404.
func CheckTenantAccess(id Identity, recordTenant string) error {
	if err := CheckTenant(id); err != nil {
		return err
	}
	if recordTenant != id.TenantID {
		metrics.AuthorizationDenials.WithLabelValues("cross_tenant").Inc()
		return sserr.New(sserr.CodeAuthorizationCrossTenant, "Access to this resource is not permitted").
			WithDetail("tenant_id", id.TenantID)
	}
	return nil
}

// RolesCheck adapts [CheckRoles] to a [Check].
func RolesCheck(allowed ...string) Check {
	want := append([]string(nil), allowed...)
	return func(_ context.Context, id Identity) error {
		if err := CheckRoles(id, want...); err != nil {
			metrics.AuthorizationDenials.WithLabelValues("role").Inc()
			return err
		}
		return nil
	}
}

// TenantCheck adapts [CheckTenant] to a [Check].
func TenantCheck() Check {
	return func(_ context.Context, id Identity) error {
		if err := CheckTenant(id); err != nil {
			metrics.AuthorizationDenials.WithLabelValues("tenant").Inc()
			return err
		}
		return nil
	}
}

// Enforce returns middleware running checks in order against the
// request's identity.
//
// For each request it:
//  1. Loads the [Identity] attached by [RequireIdentity]
//  2. Runs every check in order, stopping at the first error
//  3. Answers the first failure with its error (403 for role and tenant
//     checks) and logs the denial at warn level
//  4. Calls next when every check passes
//
// A request that reaches Enforce without an identity was routed around
// [RequireIdentity]; that is a wiring bug and is answered with 500 and
// logged at error level, not reported as a permission problem.
//
// Example:
//
//	mux.Handle("DELETE /api/v1/contratos/{id}", auth.Chain(deleteContrato,
//		auth.RequireIdentity(registry),
//		auth.Enforce(auth.TenantCheck(), auth.RolesCheck("admin", "manager")),
//	))
func Enforce(checks ...Check) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			id, ok := IdentityFromContext(ctx)
			if !ok {
				slog.ErrorContext(ctx, "auth: authorization stage reached without identity",
					"method", r.Method, "path", r.URL.Path)
				sserr.WriteHTTP(w, r, sserr.New(sserr.CodeInternalIdentityMissing,
					"identity dependency not satisfied"))
				return
			}
			for _, check := range checks {
				if err := check(ctx, id); err != nil {
					slog.WarnContext(ctx, "auth: authorization denied",
						"method", r.Method,
						"path", r.URL.Path,
						"sub", id.Subject,
						"tenant_id", id.TenantID,
						"code", sserr.GetCode(err),
					)
					sserr.WriteHTTP(w, r, err)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRoles is Enforce(RolesCheck(allowed...)). Roles match
// case-insensitively and any one of allowed is enough.
//
// Example:
//
//	admin := auth.RequireRoles("admin")(http.HandlerFunc(cleanup))
func RequireRoles(allowed ...string) func(http.Handler) http.Handler {
	return Enforce(RolesCheck(allowed...))
}

// RequireTenant is Enforce(TenantCheck()).
func RequireTenant() func(http.Handler) http.Handler {
	return Enforce(TenantCheck())
}

// Chain composes middleware so the first argument runs outermost.
func Chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
