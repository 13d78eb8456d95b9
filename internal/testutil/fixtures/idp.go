// Package fixtures provides an in-process OpenID provider for tests. It
// serves a discovery document and a JWKS over httptest, mints RS256
// tokens signed with its current key, and counts every request so tests
// can assert on cache behavior.
package fixtures

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/stretchr/testify/require"
)

// TestClientID is the audience minted tokens carry by default.
const TestClientID = "accessguard-api"

type signingKey struct {
	kid  string
	priv *rsa.PrivateKey
}

// IdP is a fake identity provider.
type IdP struct {
	t      testing.TB
	server *httptest.Server

	mu      sync.RWMutex
	keys    []signingKey
	failing bool
	seq     int

	discoveryHits atomic.Int64
	jwksHits      atomic.Int64
}

// NewIdP starts a provider with one signing key. The server is closed
// when the test ends.
func NewIdP(t testing.TB) *IdP {
	t.Helper()
	idp := &IdP{t: t}
	idp.keys = []signingKey{idp.newKey()}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", idp.serveDiscovery)
	mux.HandleFunc("/jwks", idp.serveJWKS)
	idp.server = httptest.NewServer(mux)
	t.Cleanup(idp.server.Close)
	return idp
}

// URL is the authority (and issuer) of the provider.
func (p *IdP) URL() string { return p.server.URL }

// Client returns an HTTP client for the test server.
func (p *IdP) Client() *http.Client { return p.server.Client() }

// DiscoveryHits counts discovery document requests.
func (p *IdP) DiscoveryHits() int64 { return p.discoveryHits.Load() }

// JWKSHits counts key-set requests.
func (p *IdP) JWKSHits() int64 { return p.jwksHits.Load() }

// KeyID returns the kid of the current signing key.
func (p *IdP) KeyID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.keys[0].kid
}

// SetFailing makes both endpoints answer 500 while on is true.
func (p *IdP) SetFailing(on bool) {
	p.mu.Lock()
	p.failing = on
	p.mu.Unlock()
}

// Rotate replaces the signing key. The old key stays published when
// keepOld is true, as providers do during a rollover window.
func (p *IdP) Rotate(keepOld bool) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := p.newKey()
	if keepOld {
		p.keys = append([]signingKey{k}, p.keys...)
	} else {
		p.keys = []signingKey{k}
	}
	return k.kid
}

// Claims returns a valid claim set for a Keycloak-style token from this
// provider expiring in one hour.
func (p *IdP) Claims(sub string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":   p.URL(),
		"aud":   TestClientID,
		"sub":   sub,
		"email": sub + "@example.com",
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}
}

// Mint signs claims with the current key and stamps its kid.
func (p *IdP) Mint(claims jwt.MapClaims) string {
	p.mu.RLock()
	k := p.keys[0]
	p.mu.RUnlock()
	return p.sign(claims, k.kid, k.priv)
}

// MintWithoutKID signs with the current key and omits the kid header.
func (p *IdP) MintWithoutKID(claims jwt.MapClaims) string {
	p.mu.RLock()
	k := p.keys[0]
	p.mu.RUnlock()
	return p.sign(claims, "", k.priv)
}

// MintForeign signs with a key this provider never published, stamped
// with kid.
func (p *IdP) MintForeign(claims jwt.MapClaims, kid string) string {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(p.t, err)
	return p.sign(claims, kid, priv)
}

func (p *IdP) sign(claims jwt.MapClaims, kid string, priv *rsa.PrivateKey) string {
	p.t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		tok.Header["kid"] = kid
	}
	s, err := tok.SignedString(priv)
	require.NoError(p.t, err, "sign token")
	return s
}

// newKey must be called with mu held or before the server starts.
func (p *IdP) newKey() signingKey {
	p.t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(p.t, err, "generate rsa key")
	p.seq++
	return signingKey{kid: fmt.Sprintf("key-%d", p.seq), priv: priv}
}

func (p *IdP) serveDiscovery(w http.ResponseWriter, _ *http.Request) {
	p.discoveryHits.Add(1)
	if p.isFailing() {
		http.Error(w, "unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"issuer":   p.URL(),
		"jwks_uri": p.URL() + "/jwks",
	})
}

func (p *IdP) serveJWKS(w http.ResponseWriter, _ *http.Request) {
	p.jwksHits.Add(1)
	if p.isFailing() {
		http.Error(w, "unavailable", http.StatusInternalServerError)
		return
	}

	p.mu.RLock()
	keys := append([]signingKey(nil), p.keys...)
	p.mu.RUnlock()

	set := jwk.NewSet()
	for _, k := range keys {
		pub, err := jwk.FromRaw(&k.priv.PublicKey)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		_ = pub.Set(jwk.KeyIDKey, k.kid)
		_ = pub.Set(jwk.AlgorithmKey, jwa.RS256)
		_ = pub.Set(jwk.KeyUsageKey, "sig")
		_ = set.AddKey(pub)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(set)
}

func (p *IdP) isFailing() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.failing
}
