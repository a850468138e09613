package auth

import (
	"context"
	"time"

	"github.com/platinummonkey/turnstile/pkg/observability"
)

// SessionValidator resolves presented raw tokens to principals.
//
// The fast path addresses the store directly by the token's lookup hash.
// Tokens issued before the lookup index existed are found by enumerating
// live records and verifying salted hashes one by one; a match is then
// backfilled under its lookup hash so the next validation is O(1).
type SessionValidator struct {
	store      *TokenStore
	identities IdentityStore
	ttl        time.Duration
	maxScan    int
	logger     *observability.Logger
	metrics    *observability.Metrics
}

// NewSessionValidator creates a validator. ttl is the sliding-expiration
// window applied on every successful validation of a non-API-key token.
// maxScan bounds the legacy enumeration path; zero means unbounded.
func NewSessionValidator(store *TokenStore, identities IdentityStore, ttl time.Duration, maxScan int, logger *observability.Logger, metrics *observability.Metrics) *SessionValidator {
	return &SessionValidator{
		store:      store,
		identities: identities,
		ttl:        ttl,
		maxScan:    maxScan,
		logger:     logger,
		metrics:    metrics,
	}
}

// Validate resolves a raw token to its principal. Invalid, expired, revoked
// and malformed tokens all return (nil, nil); an error means the store could
// not be consulted and says nothing about validity.
func (v *SessionValidator) Validate(ctx context.Context, raw string) (*Principal, error) {
	if !ValidTokenFormat(raw) {
		v.countValidation("fast", "malformed")
		return nil, nil
	}

	lookupHash := LookupHash(raw)

	record, err := v.store.GetAndRefresh(ctx, lookupHash, v.ttl)
	if err != nil {
		return nil, err
	}
	if record != nil {
		// The lookup hash is only an address; the salted hash decides
		if !VerifyTokenHash(raw, record) {
			v.countValidation("fast", "hash_mismatch")
			v.logger.WithField("addr", lookupHash).Warn("lookup hash collision with salted hash mismatch")
			return nil, nil
		}
		principal, err := v.resolvePrincipal(ctx, record)
		if err != nil || principal == nil {
			v.countValidation("fast", "dead_owner")
			return nil, err
		}
		v.countValidation("fast", "ok")
		return principal, nil
	}

	return v.validateSlow(ctx, raw, lookupHash)
}

// validateSlow enumerates live records that predate the lookup index and
// verifies salted hashes directly. On a match the record is re-addressed
// under its lookup hash with its remaining lifetime intact.
func (v *SessionValidator) validateSlow(ctx context.Context, raw, lookupHash string) (*Principal, error) {
	if v.metrics != nil {
		v.metrics.SlowPathScansTotal.Inc()
	}

	addrs, err := v.store.LiveAddrs(ctx)
	if err != nil {
		return nil, err
	}

	scanned := 0
	for _, addr := range addrs {
		if v.maxScan > 0 && scanned >= v.maxScan {
			v.logger.WithField("max_scan", v.maxScan).Warn("legacy token scan budget exhausted")
			break
		}

		record, err := v.store.Get(ctx, addr)
		if err != nil {
			return nil, err
		}
		if record == nil {
			continue
		}
		// Indexed records were already checked on the fast path
		if record.LookupHash != "" {
			continue
		}
		scanned++

		if !VerifyTokenHash(raw, record) {
			continue
		}

		if _, err := v.store.Backfill(ctx, addr, lookupHash); err != nil {
			return nil, err
		}

		// Re-read under the new address to apply the sliding refresh
		record, err = v.store.GetAndRefresh(ctx, lookupHash, v.ttl)
		if err != nil {
			return nil, err
		}
		if record == nil {
			// Expired between the scan and the re-read
			v.countValidation("slow", "miss")
			return nil, nil
		}

		principal, err := v.resolvePrincipal(ctx, record)
		if err != nil || principal == nil {
			v.countValidation("slow", "dead_owner")
			return nil, err
		}
		v.countValidation("slow", "ok")
		return principal, nil
	}

	v.countValidation("slow", "miss")
	return nil, nil
}

// resolvePrincipal loads the record's owner and rejects tokens whose owner
// can no longer authenticate. Such records are deleted so they stop showing
// up in enumeration.
func (v *SessionValidator) resolvePrincipal(ctx context.Context, record *TokenRecord) (*Principal, error) {
	identity, err := v.identities.FindByID(ctx, record.OwnerID)
	if err != nil {
		return nil, storeErr("identity lookup", err)
	}
	if identity == nil || !identity.CanAuthenticate() {
		if err := v.store.Delete(ctx, record); err != nil {
			v.logger.WithError(err).Warn("failed to delete token of unauthenticatable owner")
		}
		return nil, nil
	}

	return &Principal{
		IdentityID:  identity.ID,
		Email:       identity.Email,
		DisplayName: identity.DisplayName,
		TokenKind:   record.Kind,
		RecordID:    record.ID,
	}, nil
}

func (v *SessionValidator) countValidation(path, result string) {
	if v.metrics != nil {
		v.metrics.TokenValidationsTotal.WithLabelValues(path, result).Inc()
	}
}
