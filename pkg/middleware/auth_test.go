package middleware

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/platinummonkey/turnstile/pkg/auth"
	"github.com/platinummonkey/turnstile/pkg/observability"
)

type memIdentityStore struct {
	mu      sync.RWMutex
	byID    map[uuid.UUID]*auth.Identity
	byEmail map[string]*auth.Identity
}

func newMemIdentityStore() *memIdentityStore {
	return &memIdentityStore{
		byID:    make(map[uuid.UUID]*auth.Identity),
		byEmail: make(map[string]*auth.Identity),
	}
}

func (s *memIdentityStore) add(identity *auth.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[identity.ID] = identity
	s.byEmail[auth.NormalizeIdentifier(identity.Email)] = identity
}

func (s *memIdentityStore) FindByID(ctx context.Context, id uuid.UUID) (*auth.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byID[id], nil
}

func (s *memIdentityStore) FindByEmail(ctx context.Context, email string) (*auth.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byEmail[auth.NormalizeIdentifier(email)], nil
}

func setupAuthMiddlewareTest(t *testing.T) (*auth.Service, *memIdentityStore, *miniredis.Miniredis, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	store := auth.NewTokenStore(client, logger, nil)
	lockout := auth.NewLockoutTracker(client, auth.DefaultLockoutConfig(), logger, nil)
	identities := newMemIdentityStore()
	service := auth.NewService(auth.DefaultConfig(), identities, store, lockout, nil, logger, nil)

	cleanup := func() {
		client.Close()
		mr.Close()
	}
	return service, identities, mr, cleanup
}

func addTestIdentity(t *testing.T, identities *memIdentityStore, email, secret string) *auth.Identity {
	t.Helper()
	hash, err := auth.HashSecret(secret)
	if err != nil {
		t.Fatalf("HashSecret() error = %v", err)
	}
	identity := &auth.Identity{
		ID:         uuid.New(),
		Email:      email,
		SecretHash: hash,
		Status:     auth.StatusActive,
	}
	identities.add(identity)
	return identity
}

func okHandler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetPrincipal(r) == nil {
			t.Error("handler reached without a principal")
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	service, identities, _, cleanup := setupAuthMiddlewareTest(t)
	defer cleanup()

	addTestIdentity(t, identities, "user@example.com", "s3cret")
	raw, _, err := service.Authenticate(context.Background(), "user@example.com", "s3cret", auth.RequestMeta{})
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}

	mw := NewAuthMiddleware(service, false)
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	rec := httptest.NewRecorder()

	mw.Handler(okHandler(t)).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestAuthMiddleware_RejectsUniformly(t *testing.T) {
	service, identities, _, cleanup := setupAuthMiddlewareTest(t)
	defer cleanup()

	addTestIdentity(t, identities, "user@example.com", "s3cret")
	raw, _, err := service.Authenticate(context.Background(), "user@example.com", "s3cret", auth.RequestMeta{})
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if err := service.Logout(context.Background(), raw); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}

	mw := NewAuthMiddleware(service, false)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler reached with a rejected token")
	})

	cases := []struct {
		name   string
		header string
	}{
		{"no header", ""},
		{"malformed scheme", "Token abc"},
		{"garbage token", "Bearer garbage"},
		{"revoked token", "Bearer " + raw},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			mw.Handler(next).ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rec.Code)
			}
		})
	}
}

func TestAuthMiddleware_StoreOutageIs503(t *testing.T) {
	service, identities, mr, cleanup := setupAuthMiddlewareTest(t)
	defer cleanup()

	addTestIdentity(t, identities, "user@example.com", "s3cret")
	raw, _, err := service.Authenticate(context.Background(), "user@example.com", "s3cret", auth.RequestMeta{})
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}

	mr.Close()

	mw := NewAuthMiddleware(service, false)
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	rec := httptest.NewRecorder()

	mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler reached while the store is down")
	})).ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestAuthMiddleware_OptionalPassesThrough(t *testing.T) {
	service, _, _, cleanup := setupAuthMiddlewareTest(t)
	defer cleanup()

	mw := NewAuthMiddleware(service, true)
	req := httptest.NewRequest(http.MethodGet, "/public", nil)
	rec := httptest.NewRecorder()

	mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetPrincipal(r) != nil {
			t.Error("unexpected principal on anonymous request")
		}
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestDistributedRateLimiter_Window(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	rl := NewDistributedRateLimiter(client, &RateLimitConfig{
		RequestsPerWindow: 3,
		WindowDuration:    time.Minute,
	}, "test", nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := rl.Allow(ctx, "203.0.113.7")
		if err != nil {
			t.Fatalf("Allow() error = %v", err)
		}
		if !allowed {
			t.Fatalf("request %d denied under budget", i+1)
		}
	}
	allowed, err := rl.Allow(ctx, "203.0.113.7")
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if allowed {
		t.Error("request over budget allowed")
	}

	// A different client has its own budget
	allowed, err = rl.Allow(ctx, "198.51.100.9")
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if !allowed {
		t.Error("budget leaked across clients")
	}

	// The window resets
	mr.FastForward(2 * time.Minute)
	allowed, err = rl.Allow(ctx, "203.0.113.7")
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if !allowed {
		t.Error("budget not restored after the window")
	}
}

func TestDistributedRateLimiter_FailsOpen(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	mr.Close()

	rl := NewDistributedRateLimiter(client, nil, "test", nil)
	allowed, err := rl.Allow(context.Background(), "203.0.113.7")
	if err == nil {
		t.Error("expected an error with Redis down")
	}
	if !allowed {
		t.Error("rate limiter failed closed on Redis outage")
	}
}
