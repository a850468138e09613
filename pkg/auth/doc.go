// Package auth implements the opaque-token authentication core: credential
// verification, brute-force lockout, token issuance, hashed token storage
// with sliding expiration, and revocation.
//
// Tokens are opaque: 32 bytes of CSPRNG output encoded as a 43-character
// base64url string with no padding. The raw token is returned to the caller
// exactly once and is never stored or logged. The store keeps only a salted
// one-way hash (the authority for validity) and a deterministic SHA-256
// lookup hash used purely as a storage index.
//
// All durable state lives in Redis, the single shared source of truth across
// service instances. There is no in-process caching of token validity or
// lock state: revocation and lockout decisions are immediately visible to
// every node.
//
// Component map:
//
//   - TokenGenerator / Issuer  (token.go)      - random tokens, hashes, records
//   - VerifySecret             (credentials.go) - bcrypt credential check
//   - LockoutTracker           (lockout.go)     - failure counters, lock windows
//   - TokenStore               (store.go)       - Redis persistence, TTL, backfill
//   - SessionValidator         (session.go)     - token -> principal resolution
//   - RevocationManager        (revoke.go)      - single and bulk revocation
//   - Service                  (service.go)     - login/logout orchestration
//
// Validation resolves tokens by lookup hash in O(1). Tokens issued before
// the lookup index existed are found by enumerating live records and
// verifying salted hashes; on a match the record is re-addressed under its
// lookup hash ("backfill") so later validations take the fast path.
package auth
