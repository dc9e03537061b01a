package tokenstore

import (
	"context"
	"testing"
	"time"

	"github.com/zalando/go-keyring"
)

func TestKeyringStore_Name(t *testing.T) {
	s := NewKeyringStore()
	if s.Name() != "keyring" {
		t.Fatalf("Name() = %q, want keyring", s.Name())
	}
}

func TestKeyringStore_SaveLoadRemove(t *testing.T) {
	keyring.MockInit()
	s := NewKeyringStore()
	ctx := context.Background()

	tok := New("access", "refresh", time.Hour, "claude")
	if err := s.Save(ctx, "claude", tok); err != nil {
		t.Fatal(err)
	}

	got, err := s.Load(ctx, "claude")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.AccessToken != "access" || got.RefreshToken != "refresh" {
		t.Fatalf("Load() = %+v", got)
	}

	exists, err := s.Exists(ctx, "claude")
	if err != nil || !exists {
		t.Errorf("Exists() = (%v, %v), want (true, nil)", exists, err)
	}

	if err := s.Remove(ctx, "claude"); err != nil {
		t.Fatal(err)
	}
	exists, _ = s.Exists(ctx, "claude")
	if exists {
		t.Error("token should not exist after Remove()")
	}
}

func TestKeyringStore_LoadMissing(t *testing.T) {
	keyring.MockInit()
	s := NewKeyringStore()
	got, err := s.Load(context.Background(), "unknown")
	if err != nil || got != nil {
		t.Errorf("Load() = (%v, %v), want (nil, nil)", got, err)
	}
}

func TestKeyringStore_RemoveNonexistentIsNotAnError(t *testing.T) {
	keyring.MockInit()
	s := NewKeyringStore()
	if err := s.Remove(context.Background(), "nope"); err != nil {
		t.Errorf("Remove() of a missing token should be a no-op, got %v", err)
	}
}
