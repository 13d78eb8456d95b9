// Package tenant resolves the tenants that identities and audit entries
// are partitioned by. Tenants are owned by another system; this package
// only looks them up.
package tenant

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	goredis "github.com/redis/go-redis/v9"

	"github.com/StricklySoft/accessguard/pkg/auth"
	sserr "github.com/StricklySoft/accessguard/pkg/errors"
	"github.com/StricklySoft/accessguard/pkg/models"
)

// Schema creates the tenants table.
//
//go:embed schema.sql
var Schema string

// Directory looks tenants up by ID. A missing tenant is a
// [sserr.CodeNotFoundTenant] error.
type Directory interface {
	Get(ctx context.Context, id string) (models.Tenant, error)
}

func notFound(id string) error {
	return sserr.Newf(sserr.CodeNotFoundTenant, "tenant %q not found", id)
}

// MemoryDirectory is a fixed in-process directory.
type MemoryDirectory struct {
	mu      sync.RWMutex
	tenants map[string]models.Tenant
}

// NewMemoryDirectory returns a directory holding the default tenant and
// tenants.
func NewMemoryDirectory(tenants ...models.Tenant) *MemoryDirectory {
	d := &MemoryDirectory{tenants: map[string]models.Tenant{}}
	d.Put(models.DefaultTenant())
	for _, t := range tenants {
		d.Put(t)
	}
	return d
}

// Put adds or replaces t.
func (d *MemoryDirectory) Put(t models.Tenant) {
	d.mu.Lock()
	d.tenants[t.ID] = t
	d.mu.Unlock()
}

func (d *MemoryDirectory) Get(_ context.Context, id string) (models.Tenant, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.tenants[id]
	if !ok {
		return models.Tenant{}, notFound(id)
	}
	return t, nil
}

// DB is the subset of the postgres client used by [PostgresDirectory].
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type migrator interface {
	Migrate(ctx context.Context, name, ddl string) error
}

// PostgresDirectory reads the tenants table.
type PostgresDirectory struct {
	db DB
}

// NewPostgresDirectory returns a directory over db.
func NewPostgresDirectory(db DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

// Migrate applies [Schema] and seeds the default tenant.
func (d *PostgresDirectory) Migrate(ctx context.Context) error {
	if m, ok := d.db.(migrator); ok {
		if err := m.Migrate(ctx, "tenants", Schema); err != nil {
			return err
		}
	} else if _, err := d.db.Exec(ctx, Schema); err != nil {
		return err
	}
	def := models.DefaultTenant()
	_, err := d.db.Exec(ctx,
		`INSERT INTO tenants (id, name, description, active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (id) DO NOTHING`,
		def.ID, def.Name, def.Description, def.Active, def.CreatedAt, def.UpdatedAt)
	return err
}

func (d *PostgresDirectory) Get(ctx context.Context, id string) (models.Tenant, error) {
	var t models.Tenant
	err := d.db.QueryRow(ctx,
		`SELECT id, name, description, active, created_at, updated_at FROM tenants WHERE id = $1`, id).
		Scan(&t.ID, &t.Name, &t.Description, &t.Active, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Tenant{}, notFound(id)
	}
	if err != nil {
		return models.Tenant{}, sserr.Wrap(err, sserr.CodeInternalDatabase, "tenant: lookup failed")
	}
	return t, nil
}

// Cache is the subset of the redis client used by [CachedDirectory].
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	Del(ctx context.Context, keys ...string) (int64, error)
}

// DefaultCacheTTL is how long a looked-up tenant is cached.
const DefaultCacheTTL = 5 * time.Minute

const cacheKeyPrefix = "accessguard:tenant:"

// CachedDirectory caches lookups of another directory in Redis. Cache
// failures fall through to the underlying directory. An entry that no
// longer decodes is deleted before the underlying lookup, so a failing
// lookup does not leave it behind.
type CachedDirectory struct {
	next  Directory
	cache Cache
	ttl   time.Duration
}

// NewCachedDirectory wraps next. A non-positive ttl uses [DefaultCacheTTL].
func NewCachedDirectory(next Directory, cache Cache, ttl time.Duration) *CachedDirectory {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedDirectory{next: next, cache: cache, ttl: ttl}
}

func (d *CachedDirectory) Get(ctx context.Context, id string) (models.Tenant, error) {
	key := cacheKeyPrefix + id
	raw, err := d.cache.Get(ctx, key)
	switch {
	case err == nil:
		var t models.Tenant
		if jerr := json.Unmarshal([]byte(raw), &t); jerr == nil {
			return t, nil
		}
		slog.WarnContext(ctx, "tenant: discarding undecodable cache entry", "tenant_id", id)
		if _, derr := d.cache.Del(ctx, key); derr != nil {
			slog.WarnContext(ctx, "tenant: cache delete failed", "tenant_id", id, "error", derr)
		}
	case !errors.Is(err, goredis.Nil):
		slog.WarnContext(ctx, "tenant: cache read failed", "tenant_id", id, "error", err)
	}

	t, err := d.next.Get(ctx, id)
	if err != nil {
		return models.Tenant{}, err
	}
	if data, jerr := json.Marshal(t); jerr == nil {
		if serr := d.cache.Set(ctx, key, data, d.ttl); serr != nil {
			slog.WarnContext(ctx, "tenant: cache write failed", "tenant_id", id, "error", serr)
		}
	}
	return t, nil
}

// RequireActive rejects requests whose identity belongs to an unknown or
// inactive tenant with 403. It must run behind [auth.RequireIdentity].
func RequireActive(dir Directory) func(http.Handler) http.Handler {
	return auth.Enforce(func(ctx context.Context, id auth.Identity) error {
		t, err := dir.Get(ctx, id.TenantID)
		if sserr.HasCode(err, sserr.CodeNotFoundTenant) {
			return sserr.New(sserr.CodeAuthorizationTenant, "Tenant not found or inactive").
				WithDetail("tenant_id", id.TenantID)
		}
		if err != nil {
			return err
		}
		if !t.Active {
			return sserr.New(sserr.CodeAuthorizationTenant, "Tenant not found or inactive").
				WithDetail("tenant_id", id.TenantID)
		}
		return nil
	})
}
