package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	sserr "github.com/StricklySoft/accessguard/pkg/errors"
	"github.com/StricklySoft/accessguard/pkg/metrics"
)

// maxDocumentSize caps discovery and key-set response bodies.
const maxDocumentSize = 1 << 20

// HTTPClient is the subset of *http.Client used to reach the provider.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// KeySet is one captured JSON Web Key Set. It is immutable: a refresh
// builds a new KeySet and swaps it in whole.
type KeySet struct {
	set        jwk.Set
	URI        string
	CapturedAt time.Time
	TTL        time.Duration
}

// ValidAt reports whether the set is still fresh at now.
func (k *KeySet) ValidAt(now time.Time) bool {
	return k != nil && now.Before(k.CapturedAt.Add(k.TTL))
}

// Len returns the number of keys in the set.
func (k *KeySet) Len() int {
	if k == nil || k.set == nil {
		return 0
	}
	return k.set.Len()
}

// Lookup returns the raw public key for kid. An empty kid selects the
// first key in the set.
func (k *KeySet) Lookup(kid string) (any, bool) {
	if k.Len() == 0 {
		return nil, false
	}
	var (
		key jwk.Key
		ok  bool
	)
	if kid == "" {
		key, ok = k.set.Key(0)
	} else {
		key, ok = k.set.LookupKeyID(kid)
	}
	if !ok {
		return nil, false
	}
	var raw any
	if err := key.Raw(&raw); err != nil {
		return nil, false
	}
	return raw, true
}

// KeyIDs lists the kid of every key, in document order.
func (k *KeySet) KeyIDs() []string {
	ids := make([]string, 0, k.Len())
	for i := range k.Len() {
		if key, ok := k.set.Key(i); ok {
			ids = append(ids, key.KeyID())
		}
	}
	return ids
}

// KeySetCache holds the current [KeySet] of one provider.
//
// Readers load the current set without locking. Refreshes are collapsed
// so at most one discovery+fetch is in flight at a time; concurrent
// callers wait for it and share its result. A reader never observes a
// partially built set. Forced refreshes are throttled to one per
// [MinForcedRefreshInterval] while the cached set is still valid.
type KeySetCache struct {
	name         string
	discoveryURL string
	ttl          time.Duration
	timeout      time.Duration
	client       HTTPClient
	now          func() time.Time
	logger       *slog.Logger
	tracer       trace.Tracer

	current    atomic.Pointer[KeySet]
	lastForced atomic.Int64 // unix nanos of the last forced refresh
	flight     singleflight.Group
}

// NewKeySetCache creates an empty cache for the provider whose discovery
// document lives at discoveryURL. The first Get fetches the keys.
func NewKeySetCache(name, discoveryURL string, ttl, timeout time.Duration, opts ...Option) *KeySetCache {
	o := newOptions(opts)
	c := &KeySetCache{
		name:         name,
		discoveryURL: discoveryURL,
		ttl:          ttl,
		timeout:      timeout,
		client:       o.client,
		now:          o.now,
		logger:       o.logger,
		tracer:       otel.Tracer(tracerName),
	}
	if c.client == nil {
		c.client = &http.Client{Timeout: timeout}
	}
	return c
}

// Current returns the cached set without any I/O. It may be nil or stale.
func (c *KeySetCache) Current() *KeySet {
	return c.current.Load()
}

// Get returns a fresh key set. A valid cached set is returned without I/O
// unless forceRefresh is set. Otherwise the set is fetched and replaces
// the cached one. Fetch failures are CodeAuthenticationKeySet errors; an
// empty set is never returned in place of an error.
func (c *KeySetCache) Get(ctx context.Context, forceRefresh bool) (*KeySet, error) {
	if cur := c.current.Load(); !forceRefresh && cur.ValidAt(c.now()) {
		return cur, nil
	}

	v, err, shared := c.flight.Do("refresh", func() (any, error) {
		// A refresh that finished between the check above and this call
		// already satisfies a non-forced caller.
		cur := c.current.Load()
		now := c.now()
		if !forceRefresh && cur.ValidAt(now) {
			return cur, nil
		}
		if forceRefresh {
			if cur.ValidAt(now) && now.Sub(time.Unix(0, c.lastForced.Load())) < MinForcedRefreshInterval {
				c.logger.DebugContext(ctx, "auth: forced key set refresh throttled", "provider", c.name)
				return cur, nil
			}
			c.lastForced.Store(now.UnixNano())
		}
		return c.refresh(ctx, forceRefresh)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.logger.DebugContext(ctx, "auth: joined in-flight key set refresh", "provider", c.name)
	}
	return v.(*KeySet), nil
}

// refresh fetches discovery and the key set under the cache's own
// timeout, detached from the caller's cancellation.
func (c *KeySetCache) refresh(ctx context.Context, forced bool) (_ *KeySet, err error) {
	ctx, span := startSpan(ctx, c.tracer, "auth.RefreshKeySet")
	span.SetAttributes(
		attribute.String("auth.provider", c.name),
		attribute.Bool("auth.jwks.forced", forced),
	)
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}
		metrics.KeySetRefreshes.WithLabelValues(c.name, metrics.Bool(forced), result).Inc()
		finishSpan(span, err)
		span.End()
	}()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	var discovery struct {
		Issuer  string `json:"issuer"`
		JWKSURI string `json:"jwks_uri"`
	}
	if err := c.getJSON(ctx, c.discoveryURL, &discovery); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeAuthenticationKeySet, "auth: OIDC discovery failed")
	}
	if discovery.JWKSURI == "" {
		return nil, sserr.New(sserr.CodeAuthenticationKeySet, "auth: discovery document has no jwks_uri")
	}

	var raw json.RawMessage
	if err := c.getJSON(ctx, discovery.JWKSURI, &raw); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeAuthenticationKeySet, "auth: key set fetch failed")
	}
	set, err := jwk.Parse(raw)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeAuthenticationKeySet, "auth: key set is not a valid JWKS")
	}

	ks := &KeySet{set: set, URI: discovery.JWKSURI, CapturedAt: c.now(), TTL: c.ttl}
	c.current.Store(ks)

	span.SetAttributes(attribute.Int("auth.jwks.keys", ks.Len()))
	c.logger.InfoContext(ctx, "auth: key set refreshed",
		"provider", c.name, "keys", ks.Len(), "forced", forced)
	return ks, nil
}

func (c *KeySetCache) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request for %s: %w", url, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: unexpected status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxDocumentSize)).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}
