package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

// memIdentityStore is an in-memory IdentityStore for tests
type memIdentityStore struct {
	mu         sync.RWMutex
	byID       map[uuid.UUID]*Identity
	byEmail    map[string]*Identity
	failLookup error
}

func newMemIdentityStore() *memIdentityStore {
	return &memIdentityStore{
		byID:    make(map[uuid.UUID]*Identity),
		byEmail: make(map[string]*Identity),
	}
}

func (s *memIdentityStore) add(identity *Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[identity.ID] = identity
	s.byEmail[NormalizeIdentifier(identity.Email)] = identity
}

func (s *memIdentityStore) FindByID(ctx context.Context, id uuid.UUID) (*Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failLookup != nil {
		return nil, s.failLookup
	}
	return s.byID[id], nil
}

func (s *memIdentityStore) FindByEmail(ctx context.Context, email string) (*Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failLookup != nil {
		return nil, s.failLookup
	}
	return s.byEmail[NormalizeIdentifier(email)], nil
}

// newTestIdentity creates an active identity with the given secret
func newTestIdentity(t *testing.T, email, secret string) *Identity {
	t.Helper()
	hash, err := HashSecret(secret)
	if err != nil {
		t.Fatalf("HashSecret() error = %v", err)
	}
	now := time.Now().UTC()
	return &Identity{
		ID:         uuid.New(),
		Email:      email,
		SecretHash: hash,
		Status:     StatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestSessionValidator_FastPath(t *testing.T) {
	store, _, cleanup := setupStoreTest(t)
	defer cleanup()
	ctx := context.Background()

	identities := newMemIdentityStore()
	identity := newTestIdentity(t, "user@example.com", "s3cret")
	identities.add(identity)

	validator := NewSessionValidator(store, identities, time.Hour, 0, testLogger(), nil)
	raw, _ := newTestRecord(t, store, identity.ID, KindSession, time.Hour)

	principal, err := validator.Validate(ctx, raw)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if principal == nil {
		t.Fatal("valid token did not resolve to a principal")
	}
	if principal.IdentityID != identity.ID {
		t.Errorf("IdentityID = %v, want %v", principal.IdentityID, identity.ID)
	}
	if principal.Email != "user@example.com" {
		t.Errorf("Email = %q", principal.Email)
	}
	if principal.TokenKind != KindSession {
		t.Errorf("TokenKind = %q, want %q", principal.TokenKind, KindSession)
	}
}

func TestSessionValidator_UnknownAndMalformedTokens(t *testing.T) {
	store, _, cleanup := setupStoreTest(t)
	defer cleanup()
	ctx := context.Background()

	validator := NewSessionValidator(store, newMemIdentityStore(), time.Hour, 0, testLogger(), nil)

	// A well-formed token that was never issued
	unknown, _, _, _, err := NewTokenGenerator().Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	principal, err := validator.Validate(ctx, unknown)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if principal != nil {
		t.Error("never-issued token resolved to a principal")
	}

	for _, malformed := range []string{"", "short", "not a token at all, just forty-three chars!!"} {
		principal, err := validator.Validate(ctx, malformed)
		if err != nil {
			t.Fatalf("Validate(%q) error = %v", malformed, err)
		}
		if principal != nil {
			t.Errorf("malformed token %q resolved to a principal", malformed)
		}
	}
}

func TestSessionValidator_SlowPathBackfill(t *testing.T) {
	store, _, cleanup := setupStoreTest(t)
	defer cleanup()
	ctx := context.Background()

	identities := newMemIdentityStore()
	identity := newTestIdentity(t, "legacy@example.com", "s3cret")
	identities.add(identity)

	validator := NewSessionValidator(store, identities, time.Hour, 0, testLogger(), nil)
	raw, legacy := newLegacyRecord(t, store, identity.ID, time.Hour)

	// First validation walks the enumeration path and re-addresses the
	// record under its lookup hash
	principal, err := validator.Validate(ctx, raw)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if principal == nil {
		t.Fatal("legacy token did not validate")
	}

	lookupHash := LookupHash(raw)
	if got, _ := store.Get(ctx, legacy.ID); got != nil {
		t.Error("legacy address still resolves after backfill")
	}
	migrated, err := store.Get(ctx, lookupHash)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if migrated == nil {
		t.Fatal("record not re-addressed under lookup hash")
	}
	if migrated.TokenHash != legacy.TokenHash {
		t.Error("token hash changed during backfill")
	}

	// Second validation takes the direct path
	principal, err = validator.Validate(ctx, raw)
	if err != nil {
		t.Fatalf("second Validate() error = %v", err)
	}
	if principal == nil {
		t.Error("backfilled token did not validate on the fast path")
	}
}

func TestSessionValidator_SlidingExpiry(t *testing.T) {
	store, mr, cleanup := setupStoreTest(t)
	defer cleanup()
	ctx := context.Background()

	identities := newMemIdentityStore()
	identity := newTestIdentity(t, "user@example.com", "s3cret")
	identities.add(identity)

	validator := NewSessionValidator(store, identities, time.Hour, 0, testLogger(), nil)
	raw, _ := newTestRecord(t, store, identity.ID, KindSession, time.Hour)

	mr.FastForward(50 * time.Minute)
	if principal, err := validator.Validate(ctx, raw); err != nil || principal == nil {
		t.Fatalf("Validate() before expiry = (%v, %v)", principal, err)
	}

	// Activity pushed the deadline out past the original one
	mr.FastForward(50 * time.Minute)
	if principal, err := validator.Validate(ctx, raw); err != nil || principal == nil {
		t.Fatalf("Validate() after refresh = (%v, %v)", principal, err)
	}

	mr.FastForward(2 * time.Hour)
	principal, err := validator.Validate(ctx, raw)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if principal != nil {
		t.Error("idle session survived past its window")
	}
}

func TestSessionValidator_TombstonedOwner(t *testing.T) {
	store, _, cleanup := setupStoreTest(t)
	defer cleanup()
	ctx := context.Background()

	identities := newMemIdentityStore()
	identity := newTestIdentity(t, "gone@example.com", "s3cret")
	identities.add(identity)

	validator := NewSessionValidator(store, identities, time.Hour, 0, testLogger(), nil)
	raw, record := newTestRecord(t, store, identity.ID, KindSession, time.Hour)

	deleted := time.Now().UTC()
	identity.DeletedAt = &deleted
	identity.Status = StatusDeleted

	principal, err := validator.Validate(ctx, raw)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if principal != nil {
		t.Error("token of a tombstoned identity validated")
	}
	// The orphaned record was cleaned up
	if got, _ := store.Get(ctx, record.ID); got != nil {
		t.Error("record of tombstoned identity not deleted")
	}
}

func TestSessionValidator_ScanBudget(t *testing.T) {
	store, _, cleanup := setupStoreTest(t)
	defer cleanup()
	ctx := context.Background()

	identities := newMemIdentityStore()
	identity := newTestIdentity(t, "user@example.com", "s3cret")
	identities.add(identity)

	var raws []string
	for i := 0; i < 5; i++ {
		raw, _ := newLegacyRecord(t, store, identity.ID, time.Hour)
		raws = append(raws, raw)
	}

	// A tight budget may miss, but must degrade to a clean miss rather
	// than an error or a wrong principal
	tight := NewSessionValidator(store, identities, time.Hour, 1, testLogger(), nil)
	for _, raw := range raws {
		principal, err := tight.Validate(ctx, raw)
		if err != nil {
			t.Fatalf("Validate() error = %v", err)
		}
		if principal != nil && principal.IdentityID != identity.ID {
			t.Fatal("wrong principal resolved under scan budget")
		}
	}

	// An unbounded budget finds every legacy token
	unbounded := NewSessionValidator(store, identities, time.Hour, 0, testLogger(), nil)
	for _, raw := range raws {
		principal, err := unbounded.Validate(ctx, raw)
		if err != nil {
			t.Fatalf("Validate() error = %v", err)
		}
		if principal == nil {
			t.Error("legacy token missed with unbounded scan budget")
		}
	}
}
