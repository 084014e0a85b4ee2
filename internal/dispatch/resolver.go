// Package dispatch implements the delivery side of the email subsystem:
// recipient resolution, the per-recipient delivery fan-out, and the
// user-facing service operations (schedule, send-now, cancel).
package dispatch

import (
	"context"
	"log/slog"

	"lodgemail/internal/types"
)

// TenantSettingsReader is the narrow read interface the resolver needs
// from the tenant store.
type TenantSettingsReader interface {
	GetSettings(ctx context.Context, tenantID string) (*types.TenantSettings, error)
}

// Resolver turns a dispatch record into the concrete recipient list at
// send time.
//
// Resolution order:
//  1. The record's explicit recipients, deduplicated, empties dropped.
//  2. Fallback when that list is empty: the fixed default address first,
//     then the tenant's primary email, then its additional emails, in
//     that order, deduplicated. Tenant settings are read at send time so
//     address changes made after scheduling take effect.
//  3. The default address alone when the tenant is unknown or its
//     settings cannot be read.
//
// The result is never empty.
type Resolver struct {
	tenants          TenantSettingsReader
	defaultRecipient string
	logger           *slog.Logger
}

// NewResolver creates a Resolver. defaultRecipient is the fixed
// system-level fallback address and must be non-empty.
func NewResolver(tenants TenantSettingsReader, defaultRecipient string, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		tenants:          tenants,
		defaultRecipient: defaultRecipient,
		logger:           logger,
	}
}

// Resolve returns the recipient list for one record.
func (r *Resolver) Resolve(ctx context.Context, rec *types.DispatchRecord) []string {
	if explicit := dedupAddresses(rec.Recipients); len(explicit) > 0 {
		return explicit
	}
	return r.fallback(ctx, rec)
}

// ResolveExplicit resolves a raw recipient list outside a stored record,
// for the immediate-send path.
func (r *Resolver) ResolveExplicit(ctx context.Context, recipients []string, tenantID string) []string {
	if explicit := dedupAddresses(recipients); len(explicit) > 0 {
		return explicit
	}
	return r.fallback(ctx, &types.DispatchRecord{TenantID: tenantID})
}

func (r *Resolver) fallback(ctx context.Context, rec *types.DispatchRecord) []string {
	candidates := []string{r.defaultRecipient}

	if rec.TenantID != "" {
		settings, err := r.tenants.GetSettings(ctx, rec.TenantID)
		if err != nil {
			// A missing or unreadable tenant must not block delivery;
			// the default address still gets the mail.
			r.logger.WarnContext(ctx, "tenant settings unavailable, using default recipient only",
				"tenant_id", rec.TenantID,
				"dispatch_id", rec.ID,
				"error", err,
			)
		} else {
			candidates = append(candidates, settings.PrimaryEmail)
			candidates = append(candidates, settings.AdditionalEmails...)
		}
	}

	return dedupAddresses(candidates)
}

// dedupAddresses drops empty entries and duplicates while preserving the
// first-seen order.
func dedupAddresses(addrs []string) []string {
	seen := make(map[string]struct{}, len(addrs))
	var out []string
	for _, a := range addrs {
		if a == "" {
			continue
		}
		if _, dup := seen[a]; dup {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out
}
