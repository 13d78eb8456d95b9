package auth

import (
	"log/slog"
	"time"
)

type options struct {
	client HTTPClient
	now    func() time.Time
	logger *slog.Logger
}

// Option customizes providers, registries and key-set caches.
type Option func(*options)

// WithHTTPClient sets the client used for discovery and key-set requests.
// By default each cache uses an *http.Client with the fetch timeout.
func WithHTTPClient(c HTTPClient) Option {
	return func(o *options) { o.client = c }
}

// WithClock replaces time.Now for cache expiry and token time checks.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func newOptions(opts []Option) options {
	o := options{now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}
