// Package models defines the records persisted by accessguard.
//
// An [AuditLogEntry] is written for every audited HTTP request and is
// never modified afterwards. A [Tenant] scopes identities and audit data;
// requests without a tenant claim fall into [DefaultTenantID].
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Field limits of the audit_logs table.
const (
	MaxUserAgentLength    = 500
	MaxErrorMessageLength = 500
	MaxIPAddressLength    = 45
)

// Placeholders recorded for requests that never resolved an identity.
const (
	AnonymousUserID = "anonymous"
	UnknownEmail    = "unknown"
)

// AuditAction is the kind of operation an entry describes.
type AuditAction string

const (
	AuditActionCreate   AuditAction = "CREATE"
	AuditActionRead     AuditAction = "READ"
	AuditActionUpdate   AuditAction = "UPDATE"
	AuditActionDelete   AuditAction = "DELETE"
	AuditActionExport   AuditAction = "EXPORT"
	AuditActionDownload AuditAction = "DOWNLOAD"
	AuditActionUpload   AuditAction = "UPLOAD"
	AuditActionExecute  AuditAction = "EXECUTE"
	AuditActionLogin    AuditAction = "LOGIN"
	AuditActionLogout   AuditAction = "LOGOUT"
)

// String returns the action name.
func (a AuditAction) String() string { return string(a) }

// Valid reports whether a is one of the recognized actions.
func (a AuditAction) Valid() bool {
	switch a {
	case AuditActionCreate, AuditActionRead, AuditActionUpdate, AuditActionDelete,
		AuditActionExport, AuditActionDownload, AuditActionUpload,
		AuditActionExecute, AuditActionLogin, AuditActionLogout:
		return true
	default:
		return false
	}
}

// ParseAuditAction parses s case-insensitively.
func ParseAuditAction(s string) (AuditAction, error) {
	a := AuditAction(strings.ToUpper(strings.TrimSpace(s)))
	if !a.Valid() {
		return "", fmt.Errorf("models: invalid audit action %q", s)
	}
	return a, nil
}

// ActionForMethod maps an HTTP method to the action it performs. Unknown
// methods are reads.
func ActionForMethod(method string) AuditAction {
	switch strings.ToUpper(method) {
	case "POST":
		return AuditActionCreate
	case "PUT", "PATCH":
		return AuditActionUpdate
	case "DELETE":
		return AuditActionDelete
	default:
		return AuditActionRead
	}
}

// AuditStatus is the outcome of an audited operation.
type AuditStatus string

const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusError   AuditStatus = "error"

	// AuditStatusBlocked marks requests refused by authentication or
	// authorization.
	AuditStatusBlocked AuditStatus = "blocked"
)

// String returns the status name.
func (s AuditStatus) String() string { return string(s) }

// Valid reports whether s is one of the recognized statuses.
func (s AuditStatus) Valid() bool {
	switch s {
	case AuditStatusSuccess, AuditStatusError, AuditStatusBlocked:
		return true
	default:
		return false
	}
}

// IsFailure reports whether s counts towards anomaly detection.
func (s AuditStatus) IsFailure() bool {
	return s == AuditStatusError || s == AuditStatusBlocked
}

// ParseAuditStatus parses s case-insensitively.
func ParseAuditStatus(s string) (AuditStatus, error) {
	st := AuditStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("models: invalid audit status %q", s)
	}
	return st, nil
}

// StatusForCode classifies an HTTP response status. 401 and 403 are
// blocked, any other status from 400 up is an error.
func StatusForCode(code int) AuditStatus {
	switch {
	case code == 401 || code == 403:
		return AuditStatusBlocked
	case code >= 400:
		return AuditStatusError
	default:
		return AuditStatusSuccess
	}
}

// AuditLogEntry is one immutable audit record.
type AuditLogEntry struct {
	ID           string         `json:"id" db:"id"`
	UserID       string         `json:"user_id" db:"user_id"`
	UserEmail    string         `json:"user_email,omitempty" db:"user_email"`
	TenantID     string         `json:"tenant_id" db:"tenant_id"`
	Action       AuditAction    `json:"action" db:"action"`
	ResourceType string         `json:"resource_type" db:"resource_type"`
	ResourceID   string         `json:"resource_id,omitempty" db:"resource_id"`
	Status       AuditStatus    `json:"status" db:"status"`
	ErrorMessage string         `json:"error_message,omitempty" db:"error_message"`
	IPAddress    string         `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent    string         `json:"user_agent,omitempty" db:"user_agent"`
	Details      map[string]any `json:"details,omitempty" db:"details"`
	Timestamp    time.Time      `json:"timestamp" db:"timestamp"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
}

// NewAuditLogEntry returns an entry with a fresh ID, UTC timestamps and a
// success status. Empty user and tenant fields are filled with the
// anonymous placeholders.
func NewAuditLogEntry(userID, tenantID string, action AuditAction, resourceType string) *AuditLogEntry {
	if userID == "" {
		userID = AnonymousUserID
	}
	if tenantID == "" {
		tenantID = DefaultTenantID
	}
	now := time.Now().UTC()
	return &AuditLogEntry{
		ID:           uuid.New().String(),
		UserID:       userID,
		TenantID:     tenantID,
		Action:       action,
		ResourceType: resourceType,
		Status:       AuditStatusSuccess,
		Details:      make(map[string]any),
		Timestamp:    now,
		CreatedAt:    now,
	}
}

// Truncate enforces the column limits on free-text fields.
func (e *AuditLogEntry) Truncate() {
	e.UserAgent = truncate(e.UserAgent, MaxUserAgentLength)
	e.ErrorMessage = truncate(e.ErrorMessage, MaxErrorMessageLength)
	e.IPAddress = truncate(e.IPAddress, MaxIPAddressLength)
}

// Validate returns the first problem found with e.
func (e *AuditLogEntry) Validate() error {
	switch {
	case e.ID == "":
		return errors.New("models: audit entry ID is required")
	case e.UserID == "":
		return errors.New("models: audit entry user_id is required")
	case e.TenantID == "":
		return errors.New("models: audit entry tenant_id is required")
	case e.ResourceType == "":
		return errors.New("models: audit entry resource_type is required")
	case !e.Action.Valid():
		return fmt.Errorf("models: invalid audit action %q", e.Action)
	case !e.Status.Valid():
		return fmt.Errorf("models: invalid audit status %q", e.Status)
	case e.Timestamp.IsZero():
		return errors.New("models: audit entry timestamp is required")
	}
	return nil
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
