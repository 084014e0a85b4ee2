package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"lodgemail/internal/types"
)

// APIKey is a stored API key row. The secret itself is never persisted;
// KeyHash holds a bcrypt hash of it, and authentication compares the
// presented secret against the hash.
type APIKey struct {
	ID        string
	TenantID  string
	Name      string
	KeyHash   []byte
	CreatedAt time.Time
	RevokedAt *time.Time
}

// Revoked reports whether the key has been revoked.
func (k *APIKey) Revoked() bool {
	return k.RevokedAt != nil
}

// APIKeyRepository provides data access for the api_keys table. Keys are
// presented as "lm_<id>_<secret>"; the repository looks rows up by the id
// portion and the caller verifies the secret against KeyHash.
type APIKeyRepository struct {
	db DBTX
}

// NewAPIKeyRepository creates a new APIKeyRepository backed by the given
// database connection.
func NewAPIKeyRepository(db DBTX) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

// Get retrieves an API key row by its public ID.
func (r *APIKeyRepository) Get(ctx context.Context, id string) (*APIKey, error) {
	var key APIKey
	err := r.db.QueryRow(ctx,
		`SELECT id, tenant_id, name, key_hash, created_at, revoked_at
		 FROM api_keys
		 WHERE id = $1`,
		id,
	).Scan(&key.ID, &key.TenantID, &key.Name, &key.KeyHash, &key.CreatedAt, &key.RevokedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "unknown API key", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to look up API key", err)
	}
	return &key, nil
}

// Create inserts a new API key row with a pre-computed bcrypt hash.
func (r *APIKeyRepository) Create(ctx context.Context, key *APIKey) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO api_keys (id, tenant_id, name, key_hash, created_at)
		 VALUES ($1, $2, $3, $4, COALESCE($5, NOW()))`,
		key.ID,
		key.TenantID,
		key.Name,
		key.KeyHash,
		nilIfZeroTime(key.CreatedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create API key", err)
	}
	return nil
}

// Revoke marks a key as revoked. Revoking an already-revoked key keeps the
// original revocation time.
func (r *APIKeyRepository) Revoke(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE api_keys SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`,
		id,
		at,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to revoke API key", err)
	}
	return nil
}
