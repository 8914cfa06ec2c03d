package auth

import (
	"context"
	"database/sql"
	"errors"

	unitrepo "coldchain-cloud/internal/units/infrastructure/postgres"
)

var (
	// ErrTenantMismatch indicates resource belongs to a different tenant.
	ErrTenantMismatch = errors.New("tenant mismatch")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("resource not found")
)

// UnitTenantChecker validates unit tenant ownership.
type UnitTenantChecker interface {
	EnsureUnitTenant(ctx context.Context, tenantID, unitID string) error
}

// UnitChecker checks unit ownership against the units table.
type UnitChecker struct {
	repo *unitrepo.UnitRepository
}

// NewUnitChecker constructs a UnitChecker.
func NewUnitChecker(db *sql.DB) *UnitChecker {
	if db == nil {
		return nil
	}
	return &UnitChecker{repo: unitrepo.NewUnitRepository(db)}
}

// EnsureUnitTenant verifies the unit belongs to the tenant.
func (c *UnitChecker) EnsureUnitTenant(ctx context.Context, tenantID, unitID string) error {
	if c == nil || c.repo == nil {
		return nil
	}
	if tenantID == "" || unitID == "" {
		return nil
	}
	unit, err := c.repo.Get(ctx, unitID)
	if err != nil {
		return err
	}
	if unit == nil {
		return ErrNotFound
	}
	if unit.TenantID != tenantID {
		return ErrTenantMismatch
	}
	return nil
}
