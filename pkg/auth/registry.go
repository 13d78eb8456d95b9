package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	sserr "github.com/StricklySoft/accessguard/pkg/errors"
)

// Registry holds the providers configured for the process. It is built
// once at startup and never mutated; key-set refresh inside each provider
// is the only state that changes afterwards.
//
// Tokens are routed to the provider whose expected issuer matches the
// unverified iss claim. Tokens with an unknown or unreadable issuer go to
// the default provider, which is the first one configured.
type Registry struct {
	providers []*Provider
	byName    map[string]*Provider
	byIssuer  map[string]*Provider
}

// NewRegistry builds one [Provider] per config. Names must be unique.
func NewRegistry(configs []ProviderConfig, opts ...Option) (*Registry, error) {
	if len(configs) == 0 {
		return nil, sserr.New(sserr.CodeInternalConfiguration, "auth: at least one provider is required")
	}
	r := &Registry{
		byName:   make(map[string]*Provider, len(configs)),
		byIssuer: make(map[string]*Provider, len(configs)),
	}
	for _, cfg := range configs {
		p, err := NewProvider(cfg, opts...)
		if err != nil {
			return nil, err
		}
		if _, dup := r.byName[p.Name()]; dup {
			return nil, sserr.Newf(sserr.CodeInternalConfiguration,
				"auth: duplicate provider name %q", p.Name())
		}
		r.providers = append(r.providers, p)
		r.byName[p.Name()] = p
		iss := strings.TrimRight(p.cfg.Issuer, "/")
		if _, taken := r.byIssuer[iss]; !taken {
			r.byIssuer[iss] = p
		}
	}
	return r, nil
}

// Default returns the first configured provider.
func (r *Registry) Default() *Provider { return r.providers[0] }

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (*Provider, bool) {
	p, ok := r.byName[name]
	return p, ok
}

// Providers returns the providers in configuration order.
func (r *Registry) Providers() []*Provider {
	return append([]*Provider(nil), r.providers...)
}

// Resolve picks the provider for token by its unverified issuer.
func (r *Registry) Resolve(token string) *Provider {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil {
		if iss, _ := claims["iss"].(string); iss != "" {
			if p, ok := r.byIssuer[strings.TrimRight(iss, "/")]; ok {
				return p
			}
		}
	}
	return r.Default()
}

// ValidateToken validates token with the provider chosen by [Registry.Resolve].
func (r *Registry) ValidateToken(ctx context.Context, token, audience string) Result {
	return r.Resolve(token).ValidateToken(ctx, token, audience)
}

// Validate implements [TokenValidator].
func (r *Registry) Validate(ctx context.Context, token string) (Identity, error) {
	return r.ValidateToken(ctx, token, "").Unpack()
}

// Warm prefetches every provider's key set. Failures are joined; a
// provider that cannot be warmed still fetches lazily on first use.
func (r *Registry) Warm(ctx context.Context) error {
	var errs []error
	for _, p := range r.providers {
		if err := p.Warm(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
