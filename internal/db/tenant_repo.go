package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"lodgemail/internal/types"
)

// TenantRepository provides data access for the tenant_settings table,
// which holds the per-tenant notification addresses used by fallback
// recipient resolution.
type TenantRepository struct {
	db DBTX
}

// NewTenantRepository creates a new TenantRepository backed by the given
// database connection (pool or transaction).
func NewTenantRepository(db DBTX) *TenantRepository {
	return &TenantRepository{db: db}
}

// GetSettings retrieves the notification settings for a tenant. Callers on
// the dispatch path read settings at send time, not at scheduling time, so
// address changes made between scheduling and delivery always take effect.
func (r *TenantRepository) GetSettings(ctx context.Context, tenantID string) (*types.TenantSettings, error) {
	var settings types.TenantSettings
	var primary *string
	err := r.db.QueryRow(ctx,
		`SELECT tenant_id, primary_email, additional_emails
		 FROM tenant_settings
		 WHERE tenant_id = $1`,
		tenantID,
	).Scan(&settings.TenantID, &primary, &settings.AdditionalEmails)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundTenant, "tenant settings not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get tenant settings", err)
	}
	if primary != nil {
		settings.PrimaryEmail = *primary
	}
	return &settings, nil
}

// UpsertSettings creates or replaces a tenant's notification settings.
func (r *TenantRepository) UpsertSettings(ctx context.Context, settings *types.TenantSettings) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO tenant_settings (tenant_id, primary_email, additional_emails, updated_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (tenant_id)
		 DO UPDATE SET
		   primary_email = EXCLUDED.primary_email,
		   additional_emails = EXCLUDED.additional_emails,
		   updated_at = NOW()`,
		settings.TenantID,
		settings.PrimaryEmail,
		settings.AdditionalEmails,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert tenant settings", err)
	}
	return nil
}
