package auth

import (
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// dummyHash is a valid bcrypt hash compared against when the identifier is
// unknown, so lookup misses cost the same as a real verification. The
// comparison result is discarded.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// VerifySecret checks a plaintext secret against a stored bcrypt hash
func VerifySecret(secretHash, secret string) bool {
	if secretHash == "" || secret == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(secretHash), []byte(secret)) == nil
}

// HashSecret produces a bcrypt hash of a plaintext secret
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// burnVerification performs a bcrypt comparison against a fixed hash to keep
// response timing uniform when no stored hash exists for the identifier
func burnVerification(secret string) {
	_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(secret))
}

// NormalizeIdentifier canonicalizes a login identifier for lookup and for
// lockout accounting
func NormalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}
