package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/turnstile/pkg/auth"
)

// IdentityStore reads identities from PostgreSQL. Soft-deleted rows are
// excluded from email lookups so a deleted account's address can be reused;
// lookups by ID still return the tombstoned row for callers that need to
// reject its outstanding tokens.
type IdentityStore struct {
	db *sql.DB
}

// NewIdentityStore creates an identity store on an existing connection pool
func NewIdentityStore(db *sql.DB) *IdentityStore {
	return &IdentityStore{db: db}
}

const identityColumns = `id, email, display_name, secret_hash, status, provider, provider_id, created_at, updated_at, deleted_at`

// FindByID returns the identity with the given ID, or (nil, nil) when no
// such row exists. Tombstoned rows are returned as-is.
func (s *IdentityStore) FindByID(ctx context.Context, id uuid.UUID) (*auth.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE id = $1`
	return s.scanOne(s.db.QueryRowContext(ctx, query, id))
}

// FindByEmail returns the live identity for a normalized email address, or
// (nil, nil) when absent
func (s *IdentityStore) FindByEmail(ctx context.Context, email string) (*auth.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE email = $1 AND deleted_at IS NULL`
	return s.scanOne(s.db.QueryRowContext(ctx, query, email))
}

// FindByProvider returns the live identity linked to an external identity
// provider subject, or (nil, nil) when absent
func (s *IdentityStore) FindByProvider(ctx context.Context, provider, providerID string) (*auth.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE provider = $1 AND provider_id = $2 AND deleted_at IS NULL`
	return s.scanOne(s.db.QueryRowContext(ctx, query, provider, providerID))
}

// Create inserts a new identity row
func (s *IdentityStore) Create(ctx context.Context, identity *auth.Identity) error {
	query := `
		INSERT INTO identities (id, email, display_name, secret_hash, status, provider, provider_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	now := time.Now().UTC()
	identity.CreatedAt = now
	identity.UpdatedAt = now
	if identity.ID == uuid.Nil {
		identity.ID = uuid.New()
	}

	_, err := s.db.ExecContext(ctx, query,
		identity.ID, identity.Email, identity.DisplayName, identity.SecretHash,
		identity.Status, identity.Provider, identity.ProviderID,
		identity.CreatedAt, identity.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create identity: %w", err)
	}
	return nil
}

func (s *IdentityStore) scanOne(row *sql.Row) (*auth.Identity, error) {
	var identity auth.Identity
	var displayName, secretHash, provider, providerID sql.NullString
	var deletedAt sql.NullTime

	err := row.Scan(
		&identity.ID, &identity.Email, &displayName, &secretHash,
		&identity.Status, &provider, &providerID,
		&identity.CreatedAt, &identity.UpdatedAt, &deletedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan identity: %w", err)
	}

	identity.DisplayName = displayName.String
	identity.SecretHash = secretHash.String
	identity.Provider = provider.String
	identity.ProviderID = providerID.String
	if deletedAt.Valid {
		t := deletedAt.Time
		identity.DeletedAt = &t
	}
	return &identity, nil
}
