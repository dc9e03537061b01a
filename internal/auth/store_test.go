package auth

import (
	"context"
	"testing"
)

func TestMemoryKeyStore_CreateAndLookup(t *testing.T) {
	store := NewMemoryKeyStore()
	ctx := context.Background()

	rec := &APIKeyRecord{
		ID:        "key-1",
		UserID:    "user-1",
		Role:      RoleUser,
		KeyHash:   "hash-1",
		ArgonHash: "argon-1",
		KeyPrefix: "gaud_ab",
	}
	if err := store.Create(ctx, rec); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := store.Lookup(ctx, "hash-1")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if got == nil || got.UserID != "user-1" {
		t.Fatalf("Lookup() = %+v, want user-1", got)
	}

	if got.CreatedAt.IsZero() {
		t.Error("Create() should stamp CreatedAt when unset")
	}
}

func TestMemoryKeyStore_LookupMissing(t *testing.T) {
	store := NewMemoryKeyStore()
	got, err := store.Lookup(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if got != nil {
		t.Errorf("Lookup() = %+v, want nil", got)
	}
}

func TestMemoryKeyStore_Revoke(t *testing.T) {
	store := NewMemoryKeyStore()
	ctx := context.Background()
	rec := &APIKeyRecord{ID: "key-2", UserID: "user-2", Role: RoleAdmin, KeyHash: "hash-2"}
	if err := store.Create(ctx, rec); err != nil {
		t.Fatal(err)
	}

	if err := store.Revoke(ctx, "key-2"); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}

	got, err := store.Lookup(ctx, "hash-2")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || !got.Revoked {
		t.Errorf("Lookup() after Revoke() = %+v, want Revoked=true", got)
	}
}

func TestMemoryKeyStore_RevokeUnknown(t *testing.T) {
	store := NewMemoryKeyStore()
	if err := store.Revoke(context.Background(), "missing"); err == nil {
		t.Error("expected error revoking an unknown key id")
	}
}

func TestMemoryKeyStore_List(t *testing.T) {
	store := NewMemoryKeyStore()
	ctx := context.Background()
	store.Create(ctx, &APIKeyRecord{ID: "a", KeyHash: "ha"})
	store.Create(ctx, &APIKeyRecord{ID: "b", KeyHash: "hb"})

	got, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 2 {
		t.Errorf("List() returned %d records, want 2", len(got))
	}
}

func TestMemoryKeyStore_LookupReturnsCopy(t *testing.T) {
	store := NewMemoryKeyStore()
	ctx := context.Background()
	store.Create(ctx, &APIKeyRecord{ID: "c", KeyHash: "hc", UserID: "user-c"})

	got, _ := store.Lookup(ctx, "hc")
	got.UserID = "mutated"

	again, _ := store.Lookup(ctx, "hc")
	if again.UserID != "user-c" {
		t.Error("Lookup() should return a defensive copy, not a shared pointer")
	}
}
