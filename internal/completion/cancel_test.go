package completion

import (
	"context"
	"testing"
)

func TestRegistryCancel(t *testing.T) {
	r := NewRegistry()
	token, cleanup := r.Register(context.Background(), "m1")

	if r.IsCancelled("m1") {
		t.Fatal("fresh token reported cancelled")
	}
	if !r.Cancel("m1") {
		t.Fatal("Cancel did not find the running session")
	}
	if !token.Cancelled() || !r.IsCancelled("m1") {
		t.Error("token not cancelled")
	}
	select {
	case <-token.Done():
	default:
		t.Error("Done not closed after cancel")
	}

	cleanup()
	if r.Active() != 0 {
		t.Errorf("active = %d after cleanup", r.Active())
	}
	if r.Cancel("m1") {
		t.Error("Cancel found a session that already ended")
	}
	if r.IsCancelled("unknown") {
		t.Error("unknown id reported cancelled")
	}
}

func TestRegistryParentContext(t *testing.T) {
	r := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	token, cleanup := r.Register(ctx, "m1")
	defer cleanup()

	cancel()
	if !token.Cancelled() {
		t.Error("token not cancelled with its parent")
	}
}

func TestRegistryReplacesToken(t *testing.T) {
	r := NewRegistry()
	first, cleanupFirst := r.Register(context.Background(), "m1")
	second, cleanupSecond := r.Register(context.Background(), "m1")
	defer cleanupSecond()

	if !first.Cancelled() {
		t.Error("earlier session for the same message was not cancelled")
	}
	cleanupFirst()
	if r.Active() != 1 {
		t.Fatalf("cleanup of the old token removed the new one")
	}
	if second.Cancelled() {
		t.Error("new token cancelled by the old cleanup")
	}
}

func TestTokensAreIndependent(t *testing.T) {
	r := NewRegistry()
	a, cleanupA := r.Register(context.Background(), "a")
	defer cleanupA()
	b, cleanupB := r.Register(context.Background(), "b")
	defer cleanupB()

	r.Cancel("a")
	if !a.Cancelled() || b.Cancelled() {
		t.Errorf("a=%v b=%v, want only a cancelled", a.Cancelled(), b.Cancelled())
	}
}
