package db

import (
	"context"
	"time"

	"lodgemail/internal/types"
)

// JobLockRepository provides advisory locking for maintenance jobs so that
// overlapping invocations of the same job (retention sweeps in particular)
// do not run concurrently. The lock is a row in job_locks keyed by lock
// name; acquisition succeeds when no row exists or the existing row has
// expired.
type JobLockRepository struct {
	db DBTX
}

// NewJobLockRepository creates a new JobLockRepository backed by the given
// database connection.
func NewJobLockRepository(db DBTX) *JobLockRepository {
	return &JobLockRepository{db: db}
}

// Acquire attempts to take the named lock for the given TTL. Returns true
// when the lock was acquired, false when another holder still owns it. The
// conditional upsert makes acquisition atomic under concurrent callers.
func (r *JobLockRepository) Acquire(ctx context.Context, lockName, owner string, ttl time.Duration) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO job_locks (lock_name, owner, acquired_at, expires_at)
		 VALUES ($1, $2, NOW(), NOW() + $3::interval)
		 ON CONFLICT (lock_name)
		 DO UPDATE SET
		   owner = EXCLUDED.owner,
		   acquired_at = EXCLUDED.acquired_at,
		   expires_at = EXCLUDED.expires_at
		 WHERE job_locks.expires_at < NOW()`,
		lockName,
		owner,
		ttl.String(),
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to acquire job lock", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Release frees the named lock if the caller still owns it. Releasing a
// lock owned by someone else is a no-op, which keeps a slow job from
// clobbering a lock that expired and was re-acquired.
func (r *JobLockRepository) Release(ctx context.Context, lockName, owner string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM job_locks WHERE lock_name = $1 AND owner = $2`,
		lockName,
		owner,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to release job lock", err)
	}
	return nil
}

// JobHistoryRepository records start/finish entries for maintenance jobs in
// the job_history table, giving operators a queryable audit of when sweeps
// ran and what they did.
type JobHistoryRepository struct {
	db DBTX
}

// NewJobHistoryRepository creates a new JobHistoryRepository backed by the
// given database connection.
func NewJobHistoryRepository(db DBTX) *JobHistoryRepository {
	return &JobHistoryRepository{db: db}
}

// Start records the beginning of a job run and returns the history row ID
// for the matching Finish call.
func (r *JobHistoryRepository) Start(ctx context.Context, jobName string, startedAt time.Time) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx,
		`INSERT INTO job_history (job_name, status, started_at)
		 VALUES ($1, 'running', $2)
		 RETURNING id`,
		jobName,
		startedAt,
	).Scan(&id)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to record job start", err)
	}
	return id, nil
}

// Finish closes out a job history row with its final status, a free-form
// detail string (rows deleted, archive key, error text), and the finish
// time.
func (r *JobHistoryRepository) Finish(ctx context.Context, id int64, status, detail string, finishedAt time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE job_history
		 SET status = $2, detail = $3, finished_at = $4
		 WHERE id = $1`,
		id,
		status,
		nilIfEmpty(detail),
		finishedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record job finish", err)
	}
	return nil
}
