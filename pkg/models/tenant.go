package models

import (
	"errors"
	"time"
)

// DefaultTenantID is the tenant of identities that carry no tenant claim.
const DefaultTenantID = "default"

// Tenant is an isolated customer space.
type Tenant struct {
	ID          string    `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description,omitempty" db:"description"`
	Active      bool      `json:"active" db:"active"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// DefaultTenant returns the tenant seeded on first start.
func DefaultTenant() Tenant {
	now := time.Now().UTC()
	return Tenant{
		ID:          DefaultTenantID,
		Name:        "Default Tenant",
		Description: "Tenant for identities without a tenant claim",
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Validate checks the required fields.
func (t Tenant) Validate() error {
	if t.ID == "" {
		return errors.New("models: tenant ID is required")
	}
	if len(t.ID) > 36 {
		return errors.New("models: tenant ID must be at most 36 characters")
	}
	if t.Name == "" {
		return errors.New("models: tenant name is required")
	}
	return nil
}
