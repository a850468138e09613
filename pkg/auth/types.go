package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// IdentityStatus represents the lifecycle state of an account
type IdentityStatus string

const (
	StatusPendingVerification IdentityStatus = "pending_verification"
	StatusActive              IdentityStatus = "active"
	StatusDisabled            IdentityStatus = "disabled"
	StatusDeleted             IdentityStatus = "deleted"
)

// Identity represents an account capable of authenticating
type Identity struct {
	ID          uuid.UUID      `json:"id"`
	Email       string         `json:"email"`
	DisplayName string         `json:"display_name,omitempty"`
	SecretHash  string         `json:"-"` // bcrypt hash, never exposed
	Status      IdentityStatus `json:"status"`
	Provider    string         `json:"provider,omitempty"`
	ProviderID  string         `json:"provider_id,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   *time.Time     `json:"deleted_at,omitempty"`
}

// Tombstoned reports whether the identity has been soft-deleted. A tombstoned
// identity can never authenticate again, regardless of status.
func (i *Identity) Tombstoned() bool {
	return i.DeletedAt != nil
}

// CanAuthenticate reports whether the identity is allowed to log in
func (i *Identity) CanAuthenticate() bool {
	return !i.Tombstoned() && i.Status == StatusActive
}

// IdentityStore is the read-only view of account storage consumed by this
// core. Implementations must exclude tombstoned rows from email lookups;
// callers additionally re-check the tombstone on every read path.
type IdentityStore interface {
	// FindByID returns the identity or (nil, nil) when absent
	FindByID(ctx context.Context, id uuid.UUID) (*Identity, error)

	// FindByEmail returns the identity for a normalized (lowercased) email
	// address, or (nil, nil) when absent
	FindByEmail(ctx context.Context, email string) (*Identity, error)
}

// TokenKind distinguishes how a token was issued and how it expires
type TokenKind string

const (
	// KindSession is an interactive login session with sliding expiration
	KindSession TokenKind = "session"
	// KindAPIKey is a long-lived credential with a fixed expiry
	KindAPIKey TokenKind = "api-key"
	// KindOAuthSession is a session minted after an OAuth2/OIDC callback
	KindOAuthSession TokenKind = "oauth-session"
)

// TokenRecord is the stored representation of one issued opaque token.
// The raw token never appears here: TokenHash is a salted HMAC-SHA256 and
// LookupHash a deterministic SHA-256 used only as a storage index.
type TokenRecord struct {
	// ID is the record's storage address: the lookup hash for records
	// written since the index existed, a random UUID for legacy records.
	ID         string    `json:"id"`
	OwnerID    uuid.UUID `json:"owner_id"`
	TokenHash  string    `json:"token_hash"`
	LookupHash string    `json:"lookup_hash,omitempty"`
	Salt       string    `json:"salt"`
	Kind       TokenKind `json:"kind"`
	IssuedAt   time.Time `json:"issued_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	SourceIP   string    `json:"source_ip,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
	Provider   string    `json:"provider,omitempty"`
}

// Principal is the resolved identity and token context for a validated
// request
type Principal struct {
	IdentityID  uuid.UUID `json:"identity_id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name,omitempty"`
	TokenKind   TokenKind `json:"token_kind"`
	// RecordID is the storage address of the presenting token
	RecordID string `json:"-"`
}

// RequestMeta carries request attribution recorded with issued tokens
type RequestMeta struct {
	SourceIP  string
	UserAgent string
	Provider  string
}
