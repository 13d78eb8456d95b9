package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/accessguard/pkg/errors"
	"github.com/StricklySoft/accessguard/pkg/metrics"
)

// Provider validates bearer tokens issued by one configured identity
// provider. It owns the provider's key-set cache and claim adapter.
//
// A Provider is safe for concurrent use. Each validation is independent;
// the key-set cache is the only shared mutable state.
type Provider struct {
	kind   ProviderKind
	cfg    ProviderConfig
	keys   *KeySetCache
	now    func() time.Time
	logger *slog.Logger
	tracer trace.Tracer
}

var (
	_ TokenValidator = (*Provider)(nil)
	_ TokenValidator = (*Registry)(nil)
)

// NewProvider builds a provider from cfg. The kind is matched over the
// closed set of [ProviderKind]s; an unrecognized kind is logged and
// treated as Keycloak.
func NewProvider(cfg ProviderConfig, opts ...Option) (*Provider, error) {
	o := newOptions(opts)

	kind, ok := ParseProviderKind(cfg.Kind)
	if !ok {
		o.logger.Warn("auth: unknown provider kind, falling back to keycloak", "kind", cfg.Kind)
		kind = ProviderKeycloak
	}
	n := cfg.normalized(kind)
	if err := n.Validate(); err != nil {
		return nil, err
	}

	return &Provider{
		kind:   kind,
		cfg:    n,
		keys:   NewKeySetCache(n.Name, n.discoveryURL(), n.JWKSTTL, n.FetchTimeout, opts...),
		now:    o.now,
		logger: o.logger,
		tracer: otel.Tracer(tracerName),
	}, nil
}

// Kind returns the provider family.
func (p *Provider) Kind() ProviderKind { return p.kind }

// Name returns the registry name of the provider.
func (p *Provider) Name() string { return p.cfg.Name }

// Config returns the normalized configuration.
func (p *Provider) Config() ProviderConfig { return p.cfg }

// KeySets exposes the provider's key-set cache.
func (p *Provider) KeySets() *KeySetCache { return p.keys }

// Warm fetches the key set so the first request does not pay for it.
func (p *Provider) Warm(ctx context.Context) error {
	_, err := p.keys.Get(ctx, false)
	return err
}

// Validate implements [TokenValidator] using the configured audience.
func (p *Provider) Validate(ctx context.Context, token string) (Identity, error) {
	return p.ValidateToken(ctx, token, "").Unpack()
}

// ValidateToken runs the validation pipeline on token:
//
//  1. the token must be three dot-separated segments (invalid_format);
//  2. the header kid is read without verification; a missing kid selects
//     the first key of the set and is logged;
//  3. the key set is loaded (jwks_error on failure); an unknown kid
//     triggers one forced refresh before key_not_found;
//  4. signature, aud, iss and exp are verified (invalid_token or
//     token_expired);
//  5. the verified claims are adapted into an [Identity].
//
// audience overrides the configured expected audience when non-empty.
// A panic anywhere in the pipeline yields internal_error.
func (p *Provider) ValidateToken(ctx context.Context, token, audience string) (res Result) {
	ctx, span := startSpan(ctx, p.tracer, "auth.ValidateToken")
	span.SetAttributes(
		attribute.String("auth.provider", p.cfg.Name),
		attribute.String("auth.provider_kind", p.kind.String()),
	)
	defer func() {
		if r := recover(); r != nil {
			p.logger.ErrorContext(ctx, "auth: panic during token validation",
				"provider", p.cfg.Name, "panic", r)
			res = Invalid(ReasonInternalError, "auth: internal error during token validation",
				fmt.Errorf("panic: %v", r))
		}
		outcome := "valid"
		if !res.IsValid() {
			outcome = string(res.Reason())
		}
		metrics.TokenValidations.WithLabelValues(p.cfg.Name, outcome).Inc()
		span.SetAttributes(attribute.String("auth.outcome", outcome))
		finishSpan(span, res.Err())
		span.End()
	}()

	if strings.Count(token, ".") != 2 || len(token) > maxTokenSize {
		return Invalid(ReasonInvalidFormat, "auth: token is not a compact JWT", nil)
	}

	unverified, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return Invalid(ReasonInvalidToken, "auth: token header is malformed", err)
	}
	if alg, _ := unverified.Header["alg"].(string); strings.EqualFold(alg, "none") {
		return Invalid(ReasonInvalidToken, "auth: algorithm 'none' is not permitted", nil)
	}
	kid, _ := unverified.Header["kid"].(string)
	if kid == "" {
		p.logger.WarnContext(ctx, "auth: token has no kid, using first key of the set",
			"provider", p.cfg.Name)
	}

	key, res, ok := p.resolveKey(ctx, kid)
	if !ok {
		return res
	}

	if audience == "" {
		audience = p.cfg.Audience
	}
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{p.cfg.Algorithm}),
		jwt.WithLeeway(p.cfg.Leeway),
		jwt.WithTimeFunc(p.now),
		jwt.WithExpirationRequired(),
	}
	if p.cfg.ValidateIssuer {
		parserOpts = append(parserOpts, jwt.WithIssuer(p.cfg.Issuer))
	}
	if p.cfg.ValidateAudience {
		parserOpts = append(parserOpts, jwt.WithAudience(audience))
	}

	claims := jwt.MapClaims{}
	if _, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return key, nil
	}, parserOpts...); err != nil {
		rejected := classifyJWTError(err)
		p.logger.WarnContext(ctx, "auth: token rejected",
			"provider", p.cfg.Name, "reason", rejected.Reason(), "error", err)
		return rejected
	}

	id := p.kind.Adapt(claims)
	span.SetAttributes(
		attribute.String("auth.subject", id.Subject),
		attribute.String("auth.tenant_id", id.TenantID),
	)
	return Valid(id)
}

// resolveKey finds the verification key for kid, forcing one key-set
// refresh when a named kid is absent from the cached set.
func (p *Provider) resolveKey(ctx context.Context, kid string) (any, Result, bool) {
	keys, err := p.keys.Get(ctx, false)
	if err != nil {
		p.logger.ErrorContext(ctx, "auth: key set unavailable", "provider", p.cfg.Name, "error", err)
		return nil, Invalid(ReasonJWKSError, "auth: signing keys are unavailable", err), false
	}
	if key, ok := keys.Lookup(kid); ok {
		return key, Result{}, true
	}

	if kid != "" {
		p.logger.InfoContext(ctx, "auth: unknown kid, forcing key set refresh",
			"provider", p.cfg.Name, "kid", kid)
		keys, err = p.keys.Get(ctx, true)
		if err != nil {
			p.logger.ErrorContext(ctx, "auth: key set refresh failed", "provider", p.cfg.Name, "error", err)
			return nil, Invalid(ReasonJWKSError, "auth: signing keys are unavailable", err), false
		}
		if key, ok := keys.Lookup(kid); ok {
			return key, Result{}, true
		}
	}

	p.logger.WarnContext(ctx, "auth: signing key not found", "provider", p.cfg.Name, "kid", kid)
	return nil, Invalid(ReasonKeyNotFound, "auth: signing key not found", nil), false
}

// classifyJWTError maps a golang-jwt failure to a rejection. Expiry wins
// over any other claim failure reported alongside it.
func classifyJWTError(err error) Result {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return Invalid(ReasonTokenExpired, "auth: token has expired", err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return Invalid(ReasonInvalidToken, "auth: token signature is invalid", err)
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return Invalid(ReasonInvalidToken, "auth: token audience is invalid", err)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return Invalid(ReasonInvalidToken, "auth: token issuer is invalid", err)
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return Invalid(ReasonInvalidToken, "auth: token is not valid yet", err)
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return Invalid(ReasonInvalidToken, "auth: token has no expiry", err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return Invalid(ReasonInvalidToken, "auth: token is malformed", err)
	default:
		return Invalid(ReasonInvalidToken, "auth: token validation failed", err)
	}
}

// reasonOf extracts the rejection reason recorded on a validation error.
func reasonOf(err error) Reason {
	e, ok := sserr.AsError(err)
	if !ok {
		return ReasonInternalError
	}
	if r, ok := e.Detail("reason"); ok {
		if s, ok := r.(string); ok {
			return Reason(s)
		}
	}
	return ReasonInvalidToken
}
