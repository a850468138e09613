package auth

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/turnstile/pkg/audit"
	"github.com/platinummonkey/turnstile/pkg/observability"
)

// Config holds authentication service configuration
type Config struct {
	// SessionTTL is the sliding-expiration window for interactive sessions
	SessionTTL time.Duration
	// APITokenTTL is the default fixed lifetime for API tokens when the
	// caller does not request one
	APITokenTTL time.Duration
	// MaxAPITokenTTL caps caller-requested API token lifetimes; zero means
	// no cap
	MaxAPITokenTTL time.Duration
	// Lockout is the brute-force lockout policy
	Lockout LockoutConfig
	// MaxScan bounds the legacy validation path; zero means unbounded
	MaxScan int
}

// DefaultConfig returns production defaults
func DefaultConfig() Config {
	return Config{
		SessionTTL:     24 * time.Hour,
		APITokenTTL:    90 * 24 * time.Hour,
		MaxAPITokenTTL: 365 * 24 * time.Hour,
		Lockout:        DefaultLockoutConfig(),
		MaxScan:        10000,
	}
}

// Service orchestrates the full authentication lifecycle: credential
// verification with lockout, token issuance, validation and revocation
type Service struct {
	config     Config
	identities IdentityStore
	store      *TokenStore
	issuer     *Issuer
	validator  *SessionValidator
	revoker    *RevocationManager
	lockout    *LockoutTracker
	auditLog   audit.Logger
	logger     *observability.Logger
	metrics    *observability.Metrics
}

// NewService wires the authentication core together
func NewService(config Config, identities IdentityStore, store *TokenStore, lockout *LockoutTracker, auditLog audit.Logger, logger *observability.Logger, metrics *observability.Metrics) *Service {
	if config.SessionTTL <= 0 {
		config.SessionTTL = DefaultConfig().SessionTTL
	}
	if config.APITokenTTL <= 0 {
		config.APITokenTTL = DefaultConfig().APITokenTTL
	}
	if auditLog == nil {
		auditLog = audit.NewNoOpLogger()
	}
	return &Service{
		config:     config,
		identities: identities,
		store:      store,
		issuer:     NewIssuer(store, logger),
		validator:  NewSessionValidator(store, identities, config.SessionTTL, config.MaxScan, logger, metrics),
		revoker:    NewRevocationManager(store, logger, metrics),
		lockout:    lockout,
		auditLog:   auditLog,
		logger:     logger,
		metrics:    metrics,
	}
}

// Authenticate verifies the identifier/secret pair and, on success, issues a
// new session token. The raw token in the return value is shown to the
// caller exactly once and never stored.
//
// Every credential failure mode returns ErrInvalidCredentials so callers
// cannot distinguish an unknown identifier from a wrong secret or an
// inactive account. A locked account returns *LockedError. A *StoreError
// means validity could not be determined at all.
func (s *Service) Authenticate(ctx context.Context, identifier, secret string, meta RequestMeta) (string, *Principal, error) {
	norm := NormalizeIdentifier(identifier)

	locked, retryAfter, err := s.lockout.IsLocked(ctx, norm)
	if err != nil {
		s.countLogin("store_error")
		return "", nil, err
	}
	if locked {
		s.countLogin("locked")
		s.auditAuth(ctx, audit.EventTypeAuthLoginFailed, "", string(ReasonLocked))
		return "", nil, &LockedError{RetryAfter: retryAfter}
	}

	identity, err := s.identities.FindByEmail(ctx, norm)
	if err != nil {
		s.countLogin("store_error")
		return "", nil, storeErr("identity lookup", err)
	}
	if identity == nil {
		// Keep timing uniform with the known-identifier path
		burnVerification(secret)
		return "", nil, s.failAttempt(ctx, norm, "", ReasonUnknownIdentifier)
	}

	if !VerifySecret(identity.SecretHash, secret) {
		return "", nil, s.failAttempt(ctx, norm, identity.ID.String(), ReasonBadSecret)
	}

	// The secret was correct, so a disabled or deleted account does not
	// count toward lockout. The caller still sees the generic error.
	if !identity.CanAuthenticate() {
		reason := ReasonNotActive
		if identity.Tombstoned() {
			reason = ReasonDeleted
		}
		s.countLogin("inactive")
		s.auditAuth(ctx, audit.EventTypeAuthLoginFailed, identity.ID.String(), string(reason))
		return "", nil, ErrInvalidCredentials
	}

	if err := s.lockout.Reset(ctx, norm); err != nil {
		s.countLogin("store_error")
		return "", nil, err
	}

	raw, record, err := s.issuer.Issue(ctx, identity, KindSession, s.config.SessionTTL, meta)
	if err != nil {
		s.countLogin("store_error")
		return "", nil, err
	}

	s.countLogin("success")
	if s.metrics != nil {
		s.metrics.TokensIssuedTotal.WithLabelValues(string(KindSession)).Inc()
	}
	s.auditAuth(ctx, audit.EventTypeAuthLogin, identity.ID.String(), "")
	s.auditToken(ctx, audit.EventTypeTokenIssue, identity.ID.String(), record.ID)

	return raw, &Principal{
		IdentityID:  identity.ID,
		Email:       identity.Email,
		DisplayName: identity.DisplayName,
		TokenKind:   record.Kind,
		RecordID:    record.ID,
	}, nil
}

// failAttempt records one credential failure, emits the audit event and
// returns the uniform credential error. A lockout-store failure is logged
// rather than surfaced, so it cannot leak which branch failed.
func (s *Service) failAttempt(ctx context.Context, norm, identityID string, reason Reason) error {
	nowLocked, err := s.lockout.RecordFailure(ctx, norm)
	if err != nil {
		s.logger.WithError(err).Error("failed to record login failure")
	}

	s.countLogin("invalid_credentials")
	s.auditAuth(ctx, audit.EventTypeAuthLoginFailed, identityID, string(reason))
	if nowLocked {
		s.auditAuth(ctx, audit.EventTypeAuthAccountLocked, identityID, string(ReasonLocked))
	}
	return ErrInvalidCredentials
}

// ValidateToken resolves a presented raw token to its principal, applying
// the sliding-expiration refresh. (nil, nil) means the token is not valid;
// an error means the store could not be consulted.
func (s *Service) ValidateToken(ctx context.Context, raw string) (*Principal, error) {
	return s.validator.Validate(ctx, raw)
}

// IssueSessionToken mints a session token for an already-authenticated
// identity, e.g. after an external identity provider callback
func (s *Service) IssueSessionToken(ctx context.Context, identity *Identity, kind TokenKind, meta RequestMeta) (string, *TokenRecord, error) {
	if !identity.CanAuthenticate() {
		return "", nil, ErrInvalidCredentials
	}
	raw, record, err := s.issuer.Issue(ctx, identity, kind, s.config.SessionTTL, meta)
	if err != nil {
		return "", nil, err
	}
	if s.metrics != nil {
		s.metrics.TokensIssuedTotal.WithLabelValues(string(kind)).Inc()
	}
	s.auditToken(ctx, audit.EventTypeTokenIssue, identity.ID.String(), record.ID)
	return raw, record, nil
}

// IssueAPIToken mints a fixed-expiry API token for the identity. ttl of zero
// selects the default lifetime; requested lifetimes are capped at
// MaxAPITokenTTL.
func (s *Service) IssueAPIToken(ctx context.Context, identity *Identity, ttl time.Duration, meta RequestMeta) (string, *TokenRecord, error) {
	if !identity.CanAuthenticate() {
		return "", nil, ErrInvalidCredentials
	}
	if ttl <= 0 {
		ttl = s.config.APITokenTTL
	}
	if s.config.MaxAPITokenTTL > 0 && ttl > s.config.MaxAPITokenTTL {
		ttl = s.config.MaxAPITokenTTL
	}

	raw, record, err := s.issuer.Issue(ctx, identity, KindAPIKey, ttl, meta)
	if err != nil {
		return "", nil, err
	}
	if s.metrics != nil {
		s.metrics.TokensIssuedTotal.WithLabelValues(string(KindAPIKey)).Inc()
	}
	s.auditToken(ctx, audit.EventTypeTokenIssue, identity.ID.String(), record.ID)
	return raw, record, nil
}

// Logout revokes the presented token. Revoking an already-invalid token is
// a no-op, not an error.
func (s *Service) Logout(ctx context.Context, raw string) error {
	record, err := s.revoker.RevokeToken(ctx, raw)
	if err != nil {
		return err
	}
	if record != nil {
		s.auditAuth(ctx, audit.EventTypeAuthLogout, record.OwnerID.String(), "")
		s.auditToken(ctx, audit.EventTypeTokenRevoke, record.OwnerID.String(), record.ID)
	}
	return nil
}

// LogoutAll revokes every token of the given owner after checking that the
// principal is allowed to. Returns how many tokens were removed.
func (s *Service) LogoutAll(ctx context.Context, principal *Principal, ownerID uuid.UUID) (int, error) {
	if decision := CanRevokeAllTokens(principal, ownerID); !decision.Allowed {
		s.auditToken(ctx, audit.EventTypeTokenRevokeAll, ownerID.String(), "")
		return 0, ErrInvalidCredentials
	}
	count, err := s.revoker.RevokeAllForOwner(ctx, ownerID)
	if err != nil {
		return 0, err
	}
	s.auditToken(ctx, audit.EventTypeTokenRevokeAll, ownerID.String(), "")
	return count, nil
}

// SessionInfo is the introspection view of one live token. It carries no
// hashes, salts or raw token material.
type SessionInfo struct {
	RecordID  string    `json:"record_id"`
	Kind      TokenKind `json:"kind"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	SourceIP  string    `json:"source_ip,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	Provider  string    `json:"provider,omitempty"`
	Current   bool      `json:"current"`
}

// Sessions lists the owner's live tokens after checking that the principal
// is allowed to see them
func (s *Service) Sessions(ctx context.Context, principal *Principal, ownerID uuid.UUID) ([]*SessionInfo, error) {
	if decision := CanListSessions(principal, ownerID); !decision.Allowed {
		return nil, ErrInvalidCredentials
	}

	records, err := s.store.OwnerRecords(ctx, ownerID.String())
	if err != nil {
		return nil, err
	}

	sessions := make([]*SessionInfo, 0, len(records))
	for _, record := range records {
		sessions = append(sessions, &SessionInfo{
			RecordID:  record.ID,
			Kind:      record.Kind,
			IssuedAt:  record.IssuedAt,
			ExpiresAt: record.ExpiresAt,
			SourceIP:  record.SourceIP,
			UserAgent: record.UserAgent,
			Provider:  record.Provider,
			Current:   principal != nil && principal.RecordID == record.ID,
		})
	}
	return sessions, nil
}

// PruneIndexes drops index entries whose records have expired
func (s *Service) PruneIndexes(ctx context.Context) (int, error) {
	return s.store.Prune(ctx)
}

// Healthy reports whether the backing store is reachable
func (s *Service) Healthy(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) countLogin(outcome string) {
	if s.metrics != nil {
		s.metrics.LoginAttemptsTotal.WithLabelValues(outcome).Inc()
	}
}

func (s *Service) auditAuth(ctx context.Context, eventType audit.EventType, identityID, reason string) {
	status := audit.EventStatusSuccess
	if eventType == audit.EventTypeAuthLoginFailed || eventType == audit.EventTypeAuthAccountLocked {
		status = audit.EventStatusFailure
	}
	if err := audit.Authentication(ctx, s.auditLog, eventType, identityID, status, reason); err != nil {
		s.logger.WithError(err).Warn("failed to write audit event")
	}
}

func (s *Service) auditToken(ctx context.Context, eventType audit.EventType, identityID, recordID string) {
	if err := audit.Token(ctx, s.auditLog, eventType, identityID, recordID, audit.EventStatusSuccess); err != nil {
		s.logger.WithError(err).Warn("failed to write audit event")
	}
}
