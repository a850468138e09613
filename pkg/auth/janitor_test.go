package auth

import (
	"context"
	"testing"
	"time"
)

func TestJanitor_RunOnce(t *testing.T) {
	f, cleanup := setupServiceTest(t)
	defer cleanup()

	identity := newTestIdentity(t, "user@example.com", "s3cret")
	f.identities.add(identity)

	newTestRecord(t, f.store, identity.ID, KindSession, time.Minute)
	newTestRecord(t, f.store, identity.ID, KindSession, time.Hour)
	f.mr.FastForward(10 * time.Minute)

	janitor := NewJanitor(f.service, "@every 10m", testLogger())
	janitor.RunOnce(context.Background())

	addrs, err := f.store.LiveAddrs(context.Background())
	if err != nil {
		t.Fatalf("LiveAddrs() error = %v", err)
	}
	if len(addrs) != 1 {
		t.Errorf("live index holds %d entries after janitor pass, want 1", len(addrs))
	}
}

func TestJanitor_StartStop(t *testing.T) {
	f, cleanup := setupServiceTest(t)
	defer cleanup()

	janitor := NewJanitor(f.service, "@every 1h", testLogger())
	if err := janitor.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	janitor.Stop()
}

func TestJanitor_BadScheduleRejected(t *testing.T) {
	f, cleanup := setupServiceTest(t)
	defer cleanup()

	janitor := NewJanitor(f.service, "not a schedule", testLogger())
	if err := janitor.Start(); err == nil {
		t.Error("Start() accepted an invalid schedule")
	}
}
