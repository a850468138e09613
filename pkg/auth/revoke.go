package auth

import (
	"context"

	"github.com/google/uuid"

	"github.com/platinummonkey/turnstile/pkg/observability"
)

// RevocationManager removes tokens from the store. Because the store is the
// only authority on validity, deletion is the entire revocation mechanism:
// there is no denylist and no cache to invalidate.
type RevocationManager struct {
	store   *TokenStore
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewRevocationManager creates a revocation manager
func NewRevocationManager(store *TokenStore, logger *observability.Logger, metrics *observability.Metrics) *RevocationManager {
	return &RevocationManager{
		store:   store,
		logger:  logger,
		metrics: metrics,
	}
}

// RevokeToken revokes the token presented as a raw string. Returns the
// revoked record, or (nil, nil) when the token was already invalid, expired
// or revoked. Revocation is idempotent.
func (m *RevocationManager) RevokeToken(ctx context.Context, raw string) (*TokenRecord, error) {
	if !ValidTokenFormat(raw) {
		return nil, nil
	}

	record, err := m.findRecord(ctx, raw)
	if err != nil || record == nil {
		return nil, err
	}

	if err := m.store.Delete(ctx, record); err != nil {
		return nil, err
	}
	m.countRevocation("single")
	return record, nil
}

// RevokeRecord revokes a token by its already-resolved record
func (m *RevocationManager) RevokeRecord(ctx context.Context, record *TokenRecord) error {
	if err := m.store.Delete(ctx, record); err != nil {
		return err
	}
	m.countRevocation("single")
	return nil
}

// RevokeAllForOwner revokes every token belonging to the owner, across all
// kinds, and returns how many were removed. Tokens of other owners are
// untouched.
func (m *RevocationManager) RevokeAllForOwner(ctx context.Context, ownerID uuid.UUID) (int, error) {
	count, err := m.store.DeleteAllForOwner(ctx, ownerID.String())
	if err != nil {
		return 0, err
	}
	if count > 0 {
		m.countRevocation("all")
		m.logger.WithFields(map[string]interface{}{
			"owner_id": ownerID.String(),
			"count":    count,
		}).Info("revoked all tokens for owner")
	}
	return count, nil
}

// findRecord resolves a raw token to its record without refreshing TTLs:
// by lookup hash first, then by enumerating legacy records
func (m *RevocationManager) findRecord(ctx context.Context, raw string) (*TokenRecord, error) {
	lookupHash := LookupHash(raw)

	record, err := m.store.Get(ctx, lookupHash)
	if err != nil {
		return nil, err
	}
	if record != nil {
		if !VerifyTokenHash(raw, record) {
			return nil, nil
		}
		return record, nil
	}

	addrs, err := m.store.LiveAddrs(ctx)
	if err != nil {
		return nil, err
	}
	for _, addr := range addrs {
		record, err := m.store.Get(ctx, addr)
		if err != nil {
			return nil, err
		}
		if record == nil || record.LookupHash != "" {
			continue
		}
		if VerifyTokenHash(raw, record) {
			return record, nil
		}
	}
	return nil, nil
}

func (m *RevocationManager) countRevocation(scope string) {
	if m.metrics != nil {
		m.metrics.TokensRevokedTotal.WithLabelValues(scope).Inc()
	}
}
