package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/turnstile/pkg/observability"
)

const (
	attemptKeyPrefix = "auth:attempts:"
	lockoutKeyPrefix = "auth:lockout:"
)

// LockoutConfig controls brute-force lockout behavior
type LockoutConfig struct {
	// MaxAttempts is the number of consecutive failures that triggers a lock
	MaxAttempts int64
	// LockWindow is how long an account stays locked once triggered
	LockWindow time.Duration
	// AttemptTTL bounds how long a partial failure count survives without
	// further failures
	AttemptTTL time.Duration
}

// DefaultLockoutConfig returns the production lockout policy
func DefaultLockoutConfig() LockoutConfig {
	return LockoutConfig{
		MaxAttempts: 5,
		LockWindow:  30 * time.Minute,
		AttemptTTL:  time.Hour,
	}
}

// LockoutTracker counts consecutive credential failures per identifier and
// enforces temporary locks. State lives in Redis so a lock placed by one
// node is visible to all nodes immediately, and lock expiry is the key TTL.
type LockoutTracker struct {
	client  *redis.Client
	config  LockoutConfig
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewLockoutTracker creates a lockout tracker
func NewLockoutTracker(client *redis.Client, config LockoutConfig, logger *observability.Logger, metrics *observability.Metrics) *LockoutTracker {
	if config.MaxAttempts <= 0 {
		config = DefaultLockoutConfig()
	}
	return &LockoutTracker{
		client:  client,
		config:  config,
		logger:  logger,
		metrics: metrics,
	}
}

// IsLocked reports whether the identifier is currently locked and, if so,
// how long until the lock expires
func (t *LockoutTracker) IsLocked(ctx context.Context, identifier string) (bool, time.Duration, error) {
	key := lockoutKeyPrefix + NormalizeIdentifier(identifier)
	ttl, err := t.client.PTTL(ctx, key).Result()
	if err != nil {
		return false, 0, storeErr("lockout check", err)
	}
	// PTTL returns a negative duration when the key is absent or unexpiring
	if ttl <= 0 {
		return false, 0, nil
	}
	return true, ttl, nil
}

// RecordFailure increments the failure counter for the identifier and locks
// the account when the threshold is crossed. Returns whether the account is
// now locked.
func (t *LockoutTracker) RecordFailure(ctx context.Context, identifier string) (bool, error) {
	norm := NormalizeIdentifier(identifier)
	key := attemptKeyPrefix + norm

	// INCR + EXPIRE in one pipeline so a crash between them cannot leave an
	// unexpiring counter
	pipe := t.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, t.config.AttemptTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, storeErr("lockout record", err)
	}

	count := incr.Val()
	if count < t.config.MaxAttempts {
		return false, nil
	}

	lockKey := lockoutKeyPrefix + norm
	if err := t.client.Set(ctx, lockKey, fmt.Sprintf("%d", time.Now().UTC().Unix()), t.config.LockWindow).Err(); err != nil {
		return false, storeErr("lockout set", err)
	}
	// Clear the counter so the count restarts from zero after the lock
	// window, rather than re-locking on the first failure
	if err := t.client.Del(ctx, key).Err(); err != nil {
		return false, storeErr("lockout reset", err)
	}

	if t.metrics != nil {
		t.metrics.AccountLockoutsTotal.Inc()
	}
	t.logger.WithField("identifier", norm).Warn("account locked after repeated failures")
	return true, nil
}

// Reset clears the failure counter and any active lock for the identifier.
// Called after a successful authentication.
func (t *LockoutTracker) Reset(ctx context.Context, identifier string) error {
	norm := NormalizeIdentifier(identifier)
	if err := t.client.Del(ctx, attemptKeyPrefix+norm, lockoutKeyPrefix+norm).Err(); err != nil {
		return storeErr("lockout clear", err)
	}
	return nil
}

// Attempts returns the current failure count for the identifier
func (t *LockoutTracker) Attempts(ctx context.Context, identifier string) (int64, error) {
	count, err := t.client.Get(ctx, attemptKeyPrefix+NormalizeIdentifier(identifier)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, storeErr("lockout attempts", err)
	}
	return count, nil
}
