package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/accessguard/internal/testutil"
	"github.com/StricklySoft/accessguard/internal/testutil/fixtures"
	sserr "github.com/StricklySoft/accessguard/pkg/errors"
)

// fakeClock is a settable time source for cache expiry tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Now()} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestProvider(t *testing.T, idp *fixtures.IdP, opts ...Option) *Provider {
	t.Helper()
	cfg := DefaultProviderConfig()
	cfg.Name = "kc"
	cfg.Authority = idp.URL()
	cfg.ClientID = fixtures.TestClientID
	p, err := NewProvider(cfg, append([]Option{WithHTTPClient(idp.Client())}, opts...)...)
	require.NoError(t, err)
	return p
}

// ---------------------------------------------------------------------------
// Pipeline outcomes
// ---------------------------------------------------------------------------

func TestValidateToken_Valid(t *testing.T) {
	t.Parallel()
	idp := fixtures.NewIdP(t)
	p := newTestProvider(t, idp)

	claims := idp.Claims("u-1")
	claims["roles"] = []string{"Analista"}
	claims["tenant_id"] = "acme"

	res := p.ValidateToken(context.Background(), idp.Mint(claims), "")
	require.True(t, res.IsValid(), "unexpected rejection: %v", res.Err())
	id, ok := res.Identity()
	require.True(t, ok)
	assert.Equal(t, "u-1", id.Subject)
	assert.Equal(t, "acme", id.TenantID)
	assert.Equal(t, []string{"Analista"}, id.Roles)
	assert.Equal(t, []string{fixtures.TestClientID}, id.Audience)
}

func TestValidateToken_InvalidFormatSkipsNetwork(t *testing.T) {
	t.Parallel()
	idp := fixtures.NewIdP(t)
	p := newTestProvider(t, idp)

	for _, token := range []string{"", "abc", "a.b", "a.b.c.d"} {
		res := p.ValidateToken(context.Background(), token, "")
		assert.Equal(t, ReasonInvalidFormat, res.Reason(), "token %q", token)
		testutil.AssertErrorCode(t, res.Err(), sserr.CodeAuthenticationFormat)
	}
	assert.Zero(t, idp.DiscoveryHits())
	assert.Zero(t, idp.JWKSHits())
}

func TestValidateToken_Rejections(t *testing.T) {
	t.Parallel()
	idp := fixtures.NewIdP(t)
	p := newTestProvider(t, idp)

	expired := idp.Claims("u-1")
	expired["exp"] = time.Now().Add(-time.Minute).Unix()

	wrongAud := idp.Claims("u-1")
	wrongAud["aud"] = "someone-else"

	wrongIss := idp.Claims("u-1")
	wrongIss["iss"] = "https://evil.example.com"

	noExpiry := idp.Claims("u-1")
	delete(noExpiry, "exp")

	tests := []struct {
		name   string
		token  string
		reason Reason
		code   sserr.Code
	}{
		{name: "expired", token: idp.Mint(expired), reason: ReasonTokenExpired, code: sserr.CodeAuthenticationExpired},
		{name: "no expiry", token: idp.Mint(noExpiry), reason: ReasonInvalidToken, code: sserr.CodeAuthenticationInvalid},
		{name: "wrong audience", token: idp.Mint(wrongAud), reason: ReasonInvalidToken, code: sserr.CodeAuthenticationInvalid},
		{name: "wrong issuer", token: idp.Mint(wrongIss), reason: ReasonInvalidToken, code: sserr.CodeAuthenticationInvalid},
		{name: "bad signature", token: idp.MintForeign(idp.Claims("u-1"), idp.KeyID()), reason: ReasonInvalidToken, code: sserr.CodeAuthenticationInvalid},
		{name: "alg none", token: "eyJhbGciOiJub25lIiwidHlwIjoiSldUIn0.eyJzdWIiOiJ1LTEifQ.", reason: ReasonInvalidToken, code: sserr.CodeAuthenticationInvalid},
		{name: "garbage header", token: "!!!.e30.sig", reason: ReasonInvalidToken, code: sserr.CodeAuthenticationInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := p.ValidateToken(context.Background(), tt.token, "")
			assert.False(t, res.IsValid())
			assert.Equal(t, tt.reason, res.Reason())
			testutil.AssertErrorCode(t, res.Err(), tt.code)
		})
	}
}

func TestValidateToken_AudienceOverride(t *testing.T) {
	t.Parallel()
	idp := fixtures.NewIdP(t)
	p := newTestProvider(t, idp)

	claims := idp.Claims("u-1")
	claims["aud"] = "reports-api"
	token := idp.Mint(claims)

	assert.Equal(t, ReasonInvalidToken, p.ValidateToken(context.Background(), token, "").Reason())
	assert.True(t, p.ValidateToken(context.Background(), token, "reports-api").IsValid())
}

func TestValidateToken_MissingKIDUsesFirstKey(t *testing.T) {
	t.Parallel()
	idp := fixtures.NewIdP(t)
	p := newTestProvider(t, idp)

	res := p.ValidateToken(context.Background(), idp.MintWithoutKID(idp.Claims("u-1")), "")
	assert.True(t, res.IsValid(), "unexpected rejection: %v", res.Err())
}

func TestValidateToken_KeySetUnavailable(t *testing.T) {
	t.Parallel()
	idp := fixtures.NewIdP(t)
	idp.SetFailing(true)
	p := newTestProvider(t, idp)

	res := p.ValidateToken(context.Background(), idp.Mint(idp.Claims("u-1")), "")
	assert.Equal(t, ReasonJWKSError, res.Reason())
	testutil.AssertErrorCode(t, res.Err(), sserr.CodeAuthenticationKeySet)
}

// ---------------------------------------------------------------------------
// Key rotation
// ---------------------------------------------------------------------------

func TestValidateToken_RotationForcesOneRefresh(t *testing.T) {
	t.Parallel()
	idp := fixtures.NewIdP(t)
	p := newTestProvider(t, idp)

	require.True(t, p.ValidateToken(context.Background(), idp.Mint(idp.Claims("u-1")), "").IsValid())
	require.EqualValues(t, 1, idp.JWKSHits())

	idp.Rotate(false)
	res := p.ValidateToken(context.Background(), idp.Mint(idp.Claims("u-1")), "")
	assert.True(t, res.IsValid(), "unexpected rejection: %v", res.Err())
	assert.EqualValues(t, 2, idp.JWKSHits())
}

func TestValidateToken_UnknownKIDAfterRefresh(t *testing.T) {
	t.Parallel()
	idp := fixtures.NewIdP(t)
	p := newTestProvider(t, idp)
	require.NoError(t, p.Warm(context.Background()))

	res := p.ValidateToken(context.Background(), idp.MintForeign(idp.Claims("u-1"), "never-published"), "")
	assert.Equal(t, ReasonKeyNotFound, res.Reason())
	testutil.AssertErrorCode(t, res.Err(), sserr.CodeAuthenticationKeyNotFound)
	assert.EqualValues(t, 2, idp.JWKSHits(), "exactly one forced refresh")
}

func TestValidateToken_RepeatedUnknownKIDsDoNotRefetch(t *testing.T) {
	t.Parallel()
	idp := fixtures.NewIdP(t)
	p := newTestProvider(t, idp)
	require.NoError(t, p.Warm(context.Background()))

	for _, kid := range []string{"k-1", "k-2", "k-1", "k-3"} {
		res := p.ValidateToken(context.Background(), idp.MintForeign(idp.Claims("u-1"), kid), "")
		assert.Equal(t, ReasonKeyNotFound, res.Reason())
	}
	assert.EqualValues(t, 2, idp.JWKSHits())
}

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

func TestNewProvider_UnknownKindFallsBackToKeycloak(t *testing.T) {
	t.Parallel()
	cfg := DefaultProviderConfig()
	cfg.Kind = "okta"
	cfg.Authority = "https://idp.example.com/"
	cfg.ClientID = "api"

	p, err := NewProvider(cfg)
	require.NoError(t, err)
	assert.Equal(t, ProviderKeycloak, p.Kind())
	assert.Equal(t, "https://idp.example.com", p.Config().Issuer)
}

func TestNewProvider_ConfigErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*ProviderConfig)
		code   sserr.Code
	}{
		{name: "no authority", mutate: func(c *ProviderConfig) { c.Authority = "" }, code: sserr.CodeValidationRequired},
		{name: "relative authority", mutate: func(c *ProviderConfig) { c.Authority = "idp.local" }, code: sserr.CodeValidation},
		{name: "hmac algorithm", mutate: func(c *ProviderConfig) { c.Algorithm = "HS256" }, code: sserr.CodeValidation},
		{name: "no audience", mutate: func(c *ProviderConfig) { c.ClientID = "" }, code: sserr.CodeValidationRequired},
		{name: "negative ttl", mutate: func(c *ProviderConfig) { c.JWKSTTL = -time.Second }, code: sserr.CodeValidationRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := DefaultProviderConfig()
			cfg.Authority = "https://idp.example.com"
			cfg.ClientID = "api"
			tt.mutate(&cfg)
			_, err := NewProvider(cfg)
			testutil.AssertErrorCode(t, err, tt.code)
		})
	}
}

func TestProviderConfig_Normalization(t *testing.T) {
	t.Parallel()
	google := ProviderConfig{Kind: "google", ClientID: "g"}
	require.NoError(t, google.Validate())
	assert.Equal(t, GoogleAuthority, google.normalized(ProviderGoogle).Authority)

	cognito := ProviderConfig{Kind: "aws_cognito", UserPoolID: "us-east-1_abc", ClientID: "c"}
	n := cognito.normalized(ProviderCognito)
	assert.Equal(t, "https://cognito-idp.us-east-1.amazonaws.com/us-east-1_abc", n.Authority)
	assert.Equal(t, n.Authority+"/.well-known/openid-configuration", n.discoveryURL())
	assert.Equal(t, "c", n.Audience)
}

func TestSecret_Redacts(t *testing.T) {
	t.Parallel()
	cfg := ProviderConfig{ClientSecret: "s3cr3t"}
	testutil.AssertJSONNotContains(t, cfg, "s3cr3t")
	assert.Equal(t, "[REDACTED]", cfg.ClientSecret.String())
	assert.Equal(t, "s3cr3t", cfg.ClientSecret.Value())
}
