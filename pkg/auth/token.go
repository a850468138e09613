package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/platinummonkey/turnstile/pkg/observability"
)

const (
	// tokenBytes is the entropy of a raw token before encoding
	tokenBytes = 32
	// saltBytes is the per-token salt length
	saltBytes = 16
	// encodedTokenLen is len(base64.RawURLEncoding of 32 bytes)
	encodedTokenLen = 43
)

// TokenGenerator produces opaque tokens and their storage hashes
type TokenGenerator struct{}

// NewTokenGenerator creates a token generator
func NewTokenGenerator() *TokenGenerator {
	return &TokenGenerator{}
}

// Generate returns a new raw token plus the salt, salted storage hash and
// deterministic lookup hash for it. The raw token must be handed to the
// caller and then forgotten; only the hashes are persisted.
func (g *TokenGenerator) Generate() (raw, salt, tokenHash, lookupHash string, err error) {
	buf := make([]byte, tokenBytes)
	if _, err = rand.Read(buf); err != nil {
		return "", "", "", "", fmt.Errorf("failed to generate token: %w", err)
	}
	raw = base64.RawURLEncoding.EncodeToString(buf)

	saltBuf := make([]byte, saltBytes)
	if _, err = rand.Read(saltBuf); err != nil {
		return "", "", "", "", fmt.Errorf("failed to generate salt: %w", err)
	}
	salt = hex.EncodeToString(saltBuf)

	tokenHash = HashWithSalt(raw, salt)
	lookupHash = LookupHash(raw)
	return raw, salt, tokenHash, lookupHash, nil
}

// HashWithSalt computes the salted storage hash of a raw token. This hash is
// the sole authority on token validity; it cannot be derived without the
// per-record salt.
func HashWithSalt(raw, salt string) string {
	mac := hmac.New(sha256.New, []byte(salt))
	mac.Write([]byte(raw))
	return hex.EncodeToString(mac.Sum(nil))
}

// LookupHash computes the deterministic index hash of a raw token. It is a
// storage address only and never a substitute for the salted hash check.
func LookupHash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// VerifyTokenHash reports whether the raw token matches the record's salted
// hash, in constant time
func VerifyTokenHash(raw string, record *TokenRecord) bool {
	computed := HashWithSalt(raw, record.Salt)
	return hmac.Equal([]byte(computed), []byte(record.TokenHash))
}

// ValidTokenFormat reports whether the presented string has the shape of an
// issued token: 43 base64url characters decoding to exactly 32 bytes.
// Anything else is rejected before touching the store.
func ValidTokenFormat(raw string) bool {
	if len(raw) != encodedTokenLen {
		return false
	}
	decoded, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return false
	}
	return len(decoded) == tokenBytes
}

// Issuer mints tokens and persists their records
type Issuer struct {
	gen    *TokenGenerator
	store  *TokenStore
	logger *observability.Logger
}

// NewIssuer creates a token issuer backed by the given store
func NewIssuer(store *TokenStore, logger *observability.Logger) *Issuer {
	return &Issuer{
		gen:    NewTokenGenerator(),
		store:  store,
		logger: logger,
	}
}

// Issue mints a token of the given kind with the given lifetime and persists
// its record. Returns the raw token (shown exactly once) and the stored
// record.
func (i *Issuer) Issue(ctx context.Context, owner *Identity, kind TokenKind, ttl time.Duration, meta RequestMeta) (string, *TokenRecord, error) {
	raw, salt, tokenHash, lookupHash, err := i.gen.Generate()
	if err != nil {
		return "", nil, err
	}

	now := time.Now().UTC()
	record := &TokenRecord{
		ID:         lookupHash,
		OwnerID:    owner.ID,
		TokenHash:  tokenHash,
		LookupHash: lookupHash,
		Salt:       salt,
		Kind:       kind,
		IssuedAt:   now,
		ExpiresAt:  now.Add(ttl),
		SourceIP:   meta.SourceIP,
		UserAgent:  meta.UserAgent,
		Provider:   meta.Provider,
	}

	if err := i.store.Insert(ctx, record, ttl); err != nil {
		return "", nil, err
	}

	i.logger.WithFields(map[string]interface{}{
		"owner_id": owner.ID.String(),
		"kind":     string(kind),
		"ttl":      ttl.String(),
	}).Debug("issued token")

	return raw, record, nil
}
