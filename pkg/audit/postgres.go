package audit

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	sserr "github.com/StricklySoft/accessguard/pkg/errors"
	"github.com/StricklySoft/accessguard/pkg/models"
)

// Schema creates the audit_logs table and its indexes.
//
//go:embed schema.sql
var Schema string

// DB is the subset of the postgres client used by [PostgresStore].
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresStore keeps entries in the audit_logs table.
type PostgresStore struct {
	db DB
}

// NewPostgresStore returns a store over db.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrator applies a named, idempotent schema under a lock. The postgres
// client implements it.
type Migrator interface {
	Migrate(ctx context.Context, name, ddl string) error
}

// Migrate applies [Schema]. It is idempotent. When the DB is a [Migrator]
// the schema is applied under its lock.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if m, ok := s.db.(Migrator); ok {
		return m.Migrate(ctx, "audit_logs", Schema)
	}
	_, err := s.db.Exec(ctx, Schema)
	return err
}

const insertSQL = `INSERT INTO audit_logs
	(id, user_id, user_email, tenant_id, action, resource_type, resource_id,
	 status, error_message, ip_address, user_agent, details, timestamp, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

const selectColumns = `id, user_id, user_email, tenant_id, action, resource_type, resource_id,
	status, error_message, ip_address, user_agent, details, timestamp, created_at`

func (s *PostgresStore) Insert(ctx context.Context, e *models.AuditLogEntry) error {
	var details []byte
	if len(e.Details) > 0 {
		var err error
		if details, err = json.Marshal(e.Details); err != nil {
			return sserr.Wrap(err, sserr.CodeInternal, "audit: failed to encode details")
		}
	}
	_, err := s.db.Exec(ctx, insertSQL,
		e.ID, e.UserID, e.UserEmail, e.TenantID, string(e.Action), e.ResourceType, e.ResourceID,
		string(e.Status), e.ErrorMessage, e.IPAddress, e.UserAgent, details, e.Timestamp, e.CreatedAt,
	)
	return err
}

func (s *PostgresStore) List(ctx context.Context, f Filter, p Page) ([]models.AuditLogEntry, error) {
	where, args := whereClause(f)
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(selectColumns)
	b.WriteString(" FROM audit_logs")
	b.WriteString(where)
	b.WriteString(" ORDER BY timestamp DESC")
	if p.Limit > 0 {
		args = append(args, p.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	if p.Skip > 0 {
		args = append(args, p.Skip)
		fmt.Fprintf(&b, " OFFSET $%d", len(args))
	}

	rows, err := s.db.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.AuditLogEntry{}
	for rows.Next() {
		var (
			e              models.AuditLogEntry
			action, status string
			details        []byte
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.UserEmail, &e.TenantID, &action, &e.ResourceType,
			&e.ResourceID, &status, &e.ErrorMessage, &e.IPAddress, &e.UserAgent, &details,
			&e.Timestamp, &e.CreatedAt); err != nil {
			return nil, sserr.Wrap(err, sserr.CodeInternalDatabase, "audit: failed to scan entry")
		}
		e.Action = models.AuditAction(action)
		e.Status = models.AuditStatus(status)
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, sserr.Wrap(err, sserr.CodeInternalDatabase, "audit: failed to decode details")
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalDatabase, "audit: failed to read entries")
	}
	return out, nil
}

func (s *PostgresStore) DeleteBefore(ctx context.Context, tenantID string, cutoff time.Time) (int64, error) {
	where, args := whereClause(Filter{TenantID: tenantID, Until: cutoff})
	tag, err := s.db.Exec(ctx, "DELETE FROM audit_logs"+where, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func whereClause(f Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.UserID != "" {
		add("user_id = $%d", f.UserID)
	}
	if f.TenantID != "" {
		add("tenant_id = $%d", f.TenantID)
	}
	if f.ResourceType != "" {
		add("resource_type = $%d", f.ResourceType)
	}
	if f.ResourceID != "" {
		add("resource_id = $%d", f.ResourceID)
	}
	if f.IPAddress != "" {
		add("ip_address = $%d", f.IPAddress)
	}
	if f.Action != "" {
		add("action = $%d", string(f.Action))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		add("status = ANY($%d)", statuses)
	}
	if !f.Since.IsZero() {
		add("timestamp >= $%d", f.Since)
	}
	if !f.Until.IsZero() {
		add("timestamp < $%d", f.Until)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
