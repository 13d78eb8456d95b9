package auth

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	sserr "github.com/StricklySoft/accessguard/pkg/errors"
)

// Secret redacts its value when printed or serialized. Use [Secret.Value]
// where the raw string is needed.
type Secret string

const secretRedacted = "[REDACTED]"

func (s Secret) String() string               { return secretRedacted }
func (s Secret) GoString() string             { return secretRedacted }
func (s Secret) Value() string                { return string(s) }
func (s Secret) MarshalText() ([]byte, error) { return []byte(secretRedacted), nil }

const (
	// DefaultJWKSTTL bounds provider load while still picking up a key
	// rotation within one business day.
	DefaultJWKSTTL = 24 * time.Hour

	// MinForcedRefreshInterval is the shortest gap between two forced
	// key-set refreshes. Tokens naming unknown kids inside the window are
	// checked against the cached set only.
	MinForcedRefreshInterval = 30 * time.Second

	// DefaultFetchTimeout bounds each discovery and key-set request.
	DefaultFetchTimeout = 10 * time.Second

	// DefaultAlgorithm is the signing algorithm expected unless configured.
	DefaultAlgorithm = "RS256"

	// DefaultCognitoRegion is used when a Cognito provider sets no region.
	DefaultCognitoRegion = "us-east-1"

	// maxTokenSize rejects oversized bearer tokens before any parsing.
	maxTokenSize = 8192
)

var supportedAlgorithms = map[string]bool{
	"RS256": true, "RS384": true, "RS512": true,
	"PS256": true, "PS384": true, "PS512": true,
	"ES256": true, "ES384": true, "ES512": true,
}

// ProviderConfig describes one configured identity provider. Values are
// copied into the [Provider] at construction; later changes to the
// caller's struct have no effect.
type ProviderConfig struct {
	// Name keys the provider in a [Registry]. Defaults to the kind.
	Name string `json:"name" yaml:"name" env:"NAME"`

	// Kind selects the provider family; see [ParseProviderKind]. Unknown
	// kinds fall back to Keycloak with a warning.
	Kind string `json:"kind" yaml:"kind" env:"KIND" envDefault:"keycloak"`

	// Authority is the issuer base URL. Discovery is fetched from
	// {Authority}/.well-known/openid-configuration. Ignored for Google.
	// For Cognito it may be left empty when Region and UserPoolID are set.
	Authority string `json:"authority" yaml:"authority" env:"AUTHORITY"`

	// Issuer overrides the expected iss claim. Defaults to Authority
	// without a trailing slash.
	Issuer string `json:"issuer" yaml:"issuer" env:"ISSUER"`

	ClientID     string `json:"client_id" yaml:"client_id" env:"CLIENT_ID"`
	ClientSecret Secret `json:"-" yaml:"client_secret" env:"CLIENT_SECRET"`

	// Audience is the expected aud claim. Defaults to ClientID.
	Audience string `json:"audience" yaml:"audience" env:"AUDIENCE"`

	Algorithm string        `json:"algorithm" yaml:"algorithm" env:"ALGORITHM" envDefault:"RS256"`
	JWKSTTL   time.Duration `json:"jwks_ttl" yaml:"jwks_ttl" env:"JWKS_TTL" envDefault:"24h"`

	// FetchTimeout bounds discovery and key-set requests independently of
	// the inbound request deadline.
	FetchTimeout time.Duration `json:"fetch_timeout" yaml:"fetch_timeout" env:"FETCH_TIMEOUT" envDefault:"10s"`

	// Leeway tolerates clock skew on exp, nbf and iat.
	Leeway time.Duration `json:"leeway" yaml:"leeway" env:"LEEWAY" envDefault:"0s"`

	ValidateIssuer   bool `json:"validate_issuer" yaml:"validate_issuer" env:"VALIDATE_ISSUER" envDefault:"true"`
	ValidateAudience bool `json:"validate_audience" yaml:"validate_audience" env:"VALIDATE_AUDIENCE" envDefault:"true"`

	// Region and UserPoolID build the Cognito authority when Authority is
	// empty.
	Region     string `json:"region" yaml:"region" env:"REGION"`
	UserPoolID string `json:"user_pool_id" yaml:"user_pool_id" env:"USER_POOL_ID"`
}

// DefaultProviderConfig returns a Keycloak configuration with production
// defaults and no authority.
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		Kind:             ProviderKeycloak.String(),
		Algorithm:        DefaultAlgorithm,
		JWKSTTL:          DefaultJWKSTTL,
		FetchTimeout:     DefaultFetchTimeout,
		ValidateIssuer:   true,
		ValidateAudience: true,
	}
}

// Validate reports the first configuration problem, if any. It checks the
// normalized form, so a Google provider needs no authority.
func (c ProviderConfig) Validate() error {
	n := c.normalized(ProviderKeycloak)
	if kind, ok := ParseProviderKind(c.Kind); ok {
		n = c.normalized(kind)
	}
	if n.Authority == "" {
		return sserr.New(sserr.CodeValidationRequired, "auth: provider authority is required")
	}
	u, err := url.Parse(n.Authority)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return sserr.Newf(sserr.CodeValidation, "auth: provider authority %q is not an absolute URL", n.Authority)
	}
	if !supportedAlgorithms[n.Algorithm] {
		return sserr.Newf(sserr.CodeValidation, "auth: unsupported signing algorithm %q", n.Algorithm)
	}
	if n.ValidateAudience && n.Audience == "" && n.ClientID == "" {
		return sserr.New(sserr.CodeValidationRequired,
			"auth: client_id or audience is required when audience validation is enabled")
	}
	if n.JWKSTTL < 0 || n.FetchTimeout < 0 || n.Leeway < 0 {
		return sserr.New(sserr.CodeValidationRange, "auth: durations must not be negative")
	}
	return nil
}

// normalized applies defaults and the per-kind authority rules.
func (c ProviderConfig) normalized(kind ProviderKind) ProviderConfig {
	n := c
	n.Kind = kind.String()
	if n.Name == "" {
		n.Name = kind.String()
	}
	if n.Algorithm == "" {
		n.Algorithm = DefaultAlgorithm
	}
	n.Algorithm = strings.ToUpper(n.Algorithm)
	if n.JWKSTTL == 0 {
		n.JWKSTTL = DefaultJWKSTTL
	}
	if n.FetchTimeout == 0 {
		n.FetchTimeout = DefaultFetchTimeout
	}

	switch kind {
	case ProviderGoogle:
		n.Authority = GoogleAuthority
	case ProviderCognito:
		if n.Region == "" {
			n.Region = DefaultCognitoRegion
		}
		if n.Authority == "" && n.UserPoolID != "" {
			n.Authority = fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/%s", n.Region, n.UserPoolID)
		}
	}

	n.Authority = strings.TrimRight(strings.TrimSpace(n.Authority), "/")
	if n.Issuer == "" {
		n.Issuer = n.Authority
	}
	if n.Audience == "" {
		n.Audience = n.ClientID
	}
	return n
}

// discoveryURL is the OpenID discovery endpoint of the authority.
func (c ProviderConfig) discoveryURL() string {
	return c.Authority + "/.well-known/openid-configuration"
}
