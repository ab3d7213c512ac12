package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/omnily-coupons/internal/domain/auth"
)

const (
	getAPIKeyByHashSQL = `SELECT id, organization_id, key_hash, name, scopes
		FROM api_keys WHERE key_hash = $1 AND active = TRUE`

	upsertOrganizationSQL = `INSERT INTO organizations (id, name) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`

	upsertAPIKeySQL = `INSERT INTO api_keys (id, organization_id, key_hash, name, scopes)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (key_hash) DO UPDATE SET name = EXCLUDED.name, scopes = EXCLUDED.scopes, active = TRUE`
)

var _ auth.Repository = (*APIKeyRepository)(nil)

// APIKeyRepository provides API key lookups backed by PostgreSQL.
type APIKeyRepository struct {
	pool *pgxpool.Pool
}

// NewAPIKeyRepository returns an APIKeyRepository that uses the given pool.
func NewAPIKeyRepository(pool *pgxpool.Pool) *APIKeyRepository {
	return &APIKeyRepository{pool: pool}
}

// FindByHash looks up an active API key by its HMAC-SHA256 hash.
// Returns auth.ErrKeyNotFound when no matching key exists.
func (r *APIKeyRepository) FindByHash(ctx context.Context, hash string) (*auth.APIKeyInfo, error) {
	var info auth.APIKeyInfo
	err := r.pool.QueryRow(ctx, getAPIKeyByHashSQL, hash).Scan(
		&info.ID, &info.OrganizationID, &info.KeyHash, &info.Name, &info.Scopes,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auth.ErrKeyNotFound
		}
		return nil, fmt.Errorf("finding api key by hash: %w", err)
	}
	return &info, nil
}

// EnsureOrganization creates or renames an organization.
func (r *APIKeyRepository) EnsureOrganization(ctx context.Context, id, name string) error {
	if _, err := r.pool.Exec(ctx, upsertOrganizationSQL, id, name); err != nil {
		return fmt.Errorf("upserting organization %q: %w", id, err)
	}
	return nil
}

// Save stores a key, reactivating it when the hash is already known.
func (r *APIKeyRepository) Save(ctx context.Context, info *auth.APIKeyInfo) error {
	if _, err := r.pool.Exec(ctx, upsertAPIKeySQL,
		info.ID, info.OrganizationID, info.KeyHash, info.Name, info.Scopes,
	); err != nil {
		return fmt.Errorf("saving api key %q: %w", info.Name, err)
	}
	return nil
}
