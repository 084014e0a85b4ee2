package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"lodgemail/internal/types"
)

// DispatchRepository provides data access for the dispatch_records table,
// the durable store behind the email dispatch subsystem.
//
// State transitions are enforced at the SQL level: every mutating statement
// carries a `WHERE state = 'scheduled'` guard, so terminal states can never
// be overwritten regardless of caller ordering. That guard is also the only
// concurrency control between back-to-back dispatch ticks; there is no
// record-level claim or lease (see scheduler.TickService).
type DispatchRepository struct {
	db DBTX
}

// NewDispatchRepository creates a new DispatchRepository backed by the given
// database connection (pool or transaction).
func NewDispatchRepository(db DBTX) *DispatchRepository {
	return &DispatchRepository{db: db}
}

// dispatchColumns is the SELECT list shared by all read queries.
const dispatchColumns = `id, recipients, subject, body_html, scheduled_at, state,
	 kind, correlation_id, tenant_id, created_at, completed_at, error_detail`

// Create inserts a new record in the scheduled state. If the ID is empty, a
// prefixed UUID is assigned. CreatedAt defaults to NOW() when unset.
func (r *DispatchRepository) Create(ctx context.Context, rec *types.DispatchRecord) error {
	if rec.ID == "" {
		rec.ID = "disp_" + uuid.New().String()
	}
	if rec.State == "" {
		rec.State = types.StateScheduled
	}

	row := r.db.QueryRow(ctx,
		`INSERT INTO dispatch_records
		 (id, recipients, subject, body_html, scheduled_at, state,
		  kind, correlation_id, tenant_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, COALESCE($10, NOW()))
		 RETURNING created_at`,
		rec.ID,
		rec.Recipients,
		rec.Subject,
		rec.BodyHTML,
		rec.ScheduledAt,
		string(rec.State),
		string(rec.Kind),
		nilIfEmpty(rec.CorrelationID),
		nilIfEmpty(rec.TenantID),
		nilIfZeroTime(rec.CreatedAt),
	)
	if err := row.Scan(&rec.CreatedAt); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create dispatch record", err)
	}
	return nil
}

// Get retrieves a single record by ID.
func (r *DispatchRepository) Get(ctx context.Context, id string) (*types.DispatchRecord, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+dispatchColumns+` FROM dispatch_records WHERE id = $1`,
		id,
	)
	rec, err := scanDispatchRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundDispatch, "dispatch record not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get dispatch record", err)
	}
	return rec, nil
}

// FindDue returns records still in the scheduled state whose scheduled_at
// has passed, capped at limit. Ordering among due records is
// implementation-defined; no ordering guarantee is offered or relied upon.
func (r *DispatchRepository) FindDue(ctx context.Context, now time.Time, limit int) ([]*types.DispatchRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.Query(ctx,
		`SELECT `+dispatchColumns+`
		 FROM dispatch_records
		 WHERE state = 'scheduled' AND scheduled_at <= $1
		 LIMIT $2`,
		now,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query due dispatch records", err)
	}
	defer rows.Close()

	return collectDispatchRows(rows)
}

// MarkSent transitions a record scheduled -> sent and stamps completed_at.
// Returns false with no error when the record has already left the
// scheduled state (the update is idempotent-in-intent: applying it twice
// is safe because the guard makes the second application a no-op).
func (r *DispatchRepository) MarkSent(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE dispatch_records
		 SET state = 'sent', completed_at = $2
		 WHERE id = $1 AND state = 'scheduled'`,
		id,
		at,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to mark dispatch record sent", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkFailed transitions a record scheduled -> failed, persisting the error
// detail. Same idempotency semantics as MarkSent.
func (r *DispatchRepository) MarkFailed(ctx context.Context, id string, errorDetail string, at time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE dispatch_records
		 SET state = 'failed', completed_at = $2, error_detail = $3
		 WHERE id = $1 AND state = 'scheduled'`,
		id,
		at,
		errorDetail,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to mark dispatch record failed", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Cancel transitions a record scheduled -> cancelled. When the guard does
// not match it distinguishes a missing record (NotFound) from one that has
// already reached a terminal state, returning the current state so the
// caller can report it without mutating anything.
func (r *DispatchRepository) Cancel(ctx context.Context, id string, at time.Time) (types.DispatchState, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE dispatch_records
		 SET state = 'cancelled', completed_at = $2
		 WHERE id = $1 AND state = 'scheduled'`,
		id,
		at,
	)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to cancel dispatch record", err)
	}
	if tag.RowsAffected() > 0 {
		return types.StateCancelled, nil
	}

	// Guard did not match: either the record is missing or already terminal.
	var state string
	err = r.db.QueryRow(ctx,
		`SELECT state FROM dispatch_records WHERE id = $1`,
		id,
	).Scan(&state)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", types.NewAppError(types.ErrCodeNotFoundDispatch, "dispatch record not found", err)
		}
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to read dispatch record state", err)
	}
	return types.DispatchState(state), nil
}

// DeleteOlderThan bulk-deletes records created before cutoff, regardless of
// state, capped at limit per call to respect backend delete limits. Returns
// the number of rows deleted.
func (r *DispatchRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 500
	}

	tag, err := r.db.Exec(ctx,
		`DELETE FROM dispatch_records
		 WHERE id IN (
		   SELECT id FROM dispatch_records WHERE created_at < $1 LIMIT $2
		 )`,
		cutoff,
		limit,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete old dispatch records", err)
	}
	return int(tag.RowsAffected()), nil
}

// DeleteByIDs deletes exactly the given records. The archive path uses
// this instead of DeleteOlderThan so only rows that were actually
// uploaded get removed.
func (r *DispatchRepository) DeleteByIDs(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	tag, err := r.db.Exec(ctx,
		`DELETE FROM dispatch_records WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete dispatch records by id", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListOlderThan returns records created before cutoff, capped at limit.
// This is the read side of the archive-before-delete path in the retention
// sweep.
func (r *DispatchRepository) ListOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*types.DispatchRecord, error) {
	if limit <= 0 {
		limit = 500
	}

	rows, err := r.db.Query(ctx,
		`SELECT `+dispatchColumns+`
		 FROM dispatch_records
		 WHERE created_at < $1
		 LIMIT $2`,
		cutoff,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list old dispatch records", err)
	}
	defer rows.Close()

	return collectDispatchRows(rows)
}

// List retrieves records matching the filter, newest first. Used by the API
// read endpoints; tenant scoping is the caller's responsibility via the
// filter.
func (r *DispatchRepository) List(ctx context.Context, filter types.DispatchFilter) ([]*types.DispatchRecord, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	var conditions []string
	var args []any
	argIdx := 1

	if filter.TenantID != "" {
		conditions = append(conditions, fmt.Sprintf("tenant_id = $%d", argIdx))
		args = append(args, filter.TenantID)
		argIdx++
	}
	if filter.State != "" {
		conditions = append(conditions, fmt.Sprintf("state = $%d", argIdx))
		args = append(args, string(filter.State))
		argIdx++
	}
	if filter.Kind != "" {
		conditions = append(conditions, fmt.Sprintf("kind = $%d", argIdx))
		args = append(args, string(filter.Kind))
		argIdx++
	}

	query := `SELECT ` + dispatchColumns + ` FROM dispatch_records`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list dispatch records", err)
	}
	defer rows.Close()

	return collectDispatchRows(rows)
}

// scanDispatchRow scans a single row using the dispatchColumns order.
func scanDispatchRow(row pgx.Row) (*types.DispatchRecord, error) {
	var (
		rec           types.DispatchRecord
		state, kind   string
		correlationID *string
		tenantID      *string
		errorDetail   *string
	)
	if err := row.Scan(
		&rec.ID,
		&rec.Recipients,
		&rec.Subject,
		&rec.BodyHTML,
		&rec.ScheduledAt,
		&state,
		&kind,
		&correlationID,
		&tenantID,
		&rec.CreatedAt,
		&rec.CompletedAt,
		&errorDetail,
	); err != nil {
		return nil, err
	}
	rec.State = types.DispatchState(state)
	rec.Kind = types.DispatchKind(kind)
	if correlationID != nil {
		rec.CorrelationID = *correlationID
	}
	if tenantID != nil {
		rec.TenantID = *tenantID
	}
	if errorDetail != nil {
		rec.ErrorDetail = *errorDetail
	}
	return &rec, nil
}

func collectDispatchRows(rows pgx.Rows) ([]*types.DispatchRecord, error) {
	var results []*types.DispatchRecord
	for rows.Next() {
		rec, err := scanDispatchRow(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan dispatch record row", err)
		}
		results = append(results, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating dispatch record rows", err)
	}
	return results, nil
}
