package auth

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/platinummonkey/turnstile/pkg/observability"
)

// testLogger returns a quiet logger for tests
func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

// setupStoreTest creates a miniredis instance and a token store on top of it
func setupStoreTest(t *testing.T) (*TokenStore, *miniredis.Miniredis, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewTokenStore(client, testLogger(), nil)

	cleanup := func() {
		client.Close()
		mr.Close()
	}
	return store, mr, cleanup
}

// newTestRecord issues a fresh record into the store and returns the raw
// token alongside it
func newTestRecord(t *testing.T, store *TokenStore, owner uuid.UUID, kind TokenKind, ttl time.Duration) (string, *TokenRecord) {
	t.Helper()

	raw, salt, tokenHash, lookupHash, err := NewTokenGenerator().Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	now := time.Now().UTC()
	record := &TokenRecord{
		ID:         lookupHash,
		OwnerID:    owner,
		TokenHash:  tokenHash,
		LookupHash: lookupHash,
		Salt:       salt,
		Kind:       kind,
		IssuedAt:   now,
		ExpiresAt:  now.Add(ttl),
	}
	if err := store.Insert(context.Background(), record, ttl); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	return raw, record
}

// newLegacyRecord inserts a record addressed by a random UUID with no lookup
// hash, the shape of tokens issued before the lookup index existed
func newLegacyRecord(t *testing.T, store *TokenStore, owner uuid.UUID, ttl time.Duration) (string, *TokenRecord) {
	t.Helper()

	raw, salt, tokenHash, _, err := NewTokenGenerator().Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	now := time.Now().UTC()
	record := &TokenRecord{
		ID:        uuid.New().String(),
		OwnerID:   owner,
		TokenHash: tokenHash,
		Salt:      salt,
		Kind:      KindSession,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	if err := store.Insert(context.Background(), record, ttl); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	return raw, record
}

func TestTokenStore_InsertAndGet(t *testing.T) {
	store, _, cleanup := setupStoreTest(t)
	defer cleanup()
	ctx := context.Background()

	owner := uuid.New()
	_, record := newTestRecord(t, store, owner, KindSession, time.Hour)

	got, err := store.Get(ctx, record.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got == nil {
		t.Fatal("Get() returned nil for a live record")
	}
	if got.OwnerID != owner {
		t.Errorf("OwnerID = %v, want %v", got.OwnerID, owner)
	}
	if got.TokenHash != record.TokenHash {
		t.Error("stored token hash does not round-trip")
	}

	addrs, err := store.LiveAddrs(ctx)
	if err != nil {
		t.Fatalf("LiveAddrs() error = %v", err)
	}
	if len(addrs) != 1 || addrs[0] != record.ID {
		t.Errorf("LiveAddrs() = %v, want [%s]", addrs, record.ID)
	}
}

func TestTokenStore_GetAbsent(t *testing.T) {
	store, _, cleanup := setupStoreTest(t)
	defer cleanup()

	got, err := store.Get(context.Background(), "no-such-address")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != nil {
		t.Error("Get() returned a record for an absent address")
	}
}

func TestTokenStore_ExpiryIsKeyTTL(t *testing.T) {
	store, mr, cleanup := setupStoreTest(t)
	defer cleanup()
	ctx := context.Background()

	_, record := newTestRecord(t, store, uuid.New(), KindSession, time.Hour)

	mr.FastForward(2 * time.Hour)

	got, err := store.Get(ctx, record.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != nil {
		t.Error("record still readable after its TTL elapsed")
	}
}

func TestTokenStore_GetAndRefresh_SlidingWindow(t *testing.T) {
	store, mr, cleanup := setupStoreTest(t)
	defer cleanup()
	ctx := context.Background()

	_, record := newTestRecord(t, store, uuid.New(), KindSession, time.Hour)

	// Touch the record shortly before expiry, then advance past the
	// original deadline: the refresh must have extended it
	mr.FastForward(50 * time.Minute)
	got, err := store.GetAndRefresh(ctx, record.ID, time.Hour)
	if err != nil {
		t.Fatalf("GetAndRefresh() error = %v", err)
	}
	if got == nil {
		t.Fatal("GetAndRefresh() returned nil for a live record")
	}

	mr.FastForward(50 * time.Minute)
	got, err = store.GetAndRefresh(ctx, record.ID, time.Hour)
	if err != nil {
		t.Fatalf("GetAndRefresh() error = %v", err)
	}
	if got == nil {
		t.Error("record expired despite sliding refresh")
	}

	// Without further activity the window finally closes
	mr.FastForward(2 * time.Hour)
	got, err = store.GetAndRefresh(ctx, record.ID, time.Hour)
	if err != nil {
		t.Fatalf("GetAndRefresh() error = %v", err)
	}
	if got != nil {
		t.Error("record survived a full idle window")
	}
}

func TestTokenStore_GetAndRefresh_APIKeyKeepsFixedExpiry(t *testing.T) {
	store, mr, cleanup := setupStoreTest(t)
	defer cleanup()
	ctx := context.Background()

	_, record := newTestRecord(t, store, uuid.New(), KindAPIKey, time.Hour)

	mr.FastForward(50 * time.Minute)
	got, err := store.GetAndRefresh(ctx, record.ID, time.Hour)
	if err != nil {
		t.Fatalf("GetAndRefresh() error = %v", err)
	}
	if got == nil {
		t.Fatal("API key unreadable before expiry")
	}

	// The read above must not have extended the key's life
	mr.FastForward(20 * time.Minute)
	got, err = store.GetAndRefresh(ctx, record.ID, time.Hour)
	if err != nil {
		t.Fatalf("GetAndRefresh() error = %v", err)
	}
	if got != nil {
		t.Error("API key expiry slid on validation")
	}
}

func TestTokenStore_GetAndRefresh_DeletesCorruptRecord(t *testing.T) {
	store, mr, cleanup := setupStoreTest(t)
	defer cleanup()
	ctx := context.Background()

	mr.Set(tokenKey("corrupt-addr"), "{not json")

	got, err := store.GetAndRefresh(ctx, "corrupt-addr", time.Hour)
	if err != nil {
		t.Fatalf("GetAndRefresh() error = %v", err)
	}
	if got != nil {
		t.Error("corrupt record treated as valid")
	}
	if mr.Exists(tokenKey("corrupt-addr")) {
		t.Error("corrupt record not deleted")
	}
}

func TestTokenStore_Backfill_PreservesTTL(t *testing.T) {
	store, mr, cleanup := setupStoreTest(t)
	defer cleanup()
	ctx := context.Background()

	raw, record := newLegacyRecord(t, store, uuid.New(), time.Hour)
	lookupHash := LookupHash(raw)

	mr.FastForward(30 * time.Minute)

	moved, err := store.Backfill(ctx, record.ID, lookupHash)
	if err != nil {
		t.Fatalf("Backfill() error = %v", err)
	}
	if !moved {
		t.Fatal("Backfill() did not move the record")
	}

	// Old address is gone, new one carries the record with the same hash
	if old, _ := store.Get(ctx, record.ID); old != nil {
		t.Error("legacy address still resolves after backfill")
	}
	got, err := store.Get(ctx, lookupHash)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got == nil {
		t.Fatal("backfilled record not found under lookup hash")
	}
	if got.TokenHash != record.TokenHash {
		t.Error("token hash changed during backfill")
	}
	if got.LookupHash != lookupHash || got.ID != lookupHash {
		t.Error("backfilled record not re-addressed under lookup hash")
	}

	// Remaining lifetime was carried over, not reset: ~30 minutes left
	ttl := mr.TTL(tokenKey(lookupHash))
	if ttl <= 0 || ttl > 31*time.Minute {
		t.Errorf("backfilled TTL = %v, want about 30m", ttl)
	}

	// Index sets track the move
	addrs, err := store.LiveAddrs(ctx)
	if err != nil {
		t.Fatalf("LiveAddrs() error = %v", err)
	}
	if len(addrs) != 1 || addrs[0] != lookupHash {
		t.Errorf("LiveAddrs() = %v after backfill", addrs)
	}
}

func TestTokenStore_Backfill_AbsentRecord(t *testing.T) {
	store, _, cleanup := setupStoreTest(t)
	defer cleanup()

	moved, err := store.Backfill(context.Background(), uuid.New().String(), "somelookuphash")
	if err != nil {
		t.Fatalf("Backfill() error = %v", err)
	}
	if moved {
		t.Error("Backfill() claimed to move an absent record")
	}
}

func TestTokenStore_DeleteIdempotent(t *testing.T) {
	store, _, cleanup := setupStoreTest(t)
	defer cleanup()
	ctx := context.Background()

	_, record := newTestRecord(t, store, uuid.New(), KindSession, time.Hour)

	if err := store.Delete(ctx, record); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if got, _ := store.Get(ctx, record.ID); got != nil {
		t.Error("record readable after delete")
	}
	// Deleting again is a no-op
	if err := store.Delete(ctx, record); err != nil {
		t.Fatalf("second Delete() error = %v", err)
	}
}

func TestTokenStore_DeleteAllForOwner_Isolation(t *testing.T) {
	store, _, cleanup := setupStoreTest(t)
	defer cleanup()
	ctx := context.Background()

	alice := uuid.New()
	bob := uuid.New()
	newTestRecord(t, store, alice, KindSession, time.Hour)
	newTestRecord(t, store, alice, KindAPIKey, time.Hour)
	_, bobRecord := newTestRecord(t, store, bob, KindSession, time.Hour)

	count, err := store.DeleteAllForOwner(ctx, alice.String())
	if err != nil {
		t.Fatalf("DeleteAllForOwner() error = %v", err)
	}
	if count != 2 {
		t.Errorf("deleted %d records, want 2", count)
	}

	if got, _ := store.Get(ctx, bobRecord.ID); got == nil {
		t.Error("unrelated owner's record was deleted")
	}
	records, err := store.OwnerRecords(ctx, alice.String())
	if err != nil {
		t.Fatalf("OwnerRecords() error = %v", err)
	}
	if len(records) != 0 {
		t.Errorf("owner still has %d records after bulk delete", len(records))
	}
}

func TestTokenStore_OwnerRecords_DropsStaleEntries(t *testing.T) {
	store, mr, cleanup := setupStoreTest(t)
	defer cleanup()
	ctx := context.Background()

	owner := uuid.New()
	newTestRecord(t, store, owner, KindSession, time.Minute)
	newTestRecord(t, store, owner, KindSession, time.Hour)

	mr.FastForward(10 * time.Minute)

	records, err := store.OwnerRecords(ctx, owner.String())
	if err != nil {
		t.Fatalf("OwnerRecords() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("OwnerRecords() returned %d records, want 1", len(records))
	}

	// The expired member was dropped from the index on read
	count, err := store.CountOwner(ctx, owner.String())
	if err != nil {
		t.Fatalf("CountOwner() error = %v", err)
	}
	if count != 1 {
		t.Errorf("owner index size = %d after stale drop, want 1", count)
	}
}

func TestTokenStore_Prune(t *testing.T) {
	store, mr, cleanup := setupStoreTest(t)
	defer cleanup()
	ctx := context.Background()

	newTestRecord(t, store, uuid.New(), KindSession, time.Minute)
	newTestRecord(t, store, uuid.New(), KindSession, time.Hour)

	mr.FastForward(10 * time.Minute)

	pruned, err := store.Prune(ctx)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if pruned != 1 {
		t.Errorf("Prune() removed %d entries, want 1", pruned)
	}

	addrs, err := store.LiveAddrs(ctx)
	if err != nil {
		t.Fatalf("LiveAddrs() error = %v", err)
	}
	if len(addrs) != 1 {
		t.Errorf("live index holds %d entries after prune, want 1", len(addrs))
	}
}
