package tokenstore

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/zalando/go-keyring"
)

const keyringService = "gaud"

// KeyringStore persists tokens in the OS credential store (macOS Keychain,
// Windows Credential Manager, Secret Service on Linux), keyed by service
// "gaud" and account = provider id.
type KeyringStore struct{}

// NewKeyringStore creates a KeyringStore.
func NewKeyringStore() *KeyringStore {
	return &KeyringStore{}
}

func (s *KeyringStore) Load(_ context.Context, provider string) (*Info, error) {
	raw, err := keyring.Get(keyringService, provider)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var jt jsonToken
	if err := json.Unmarshal([]byte(raw), &jt); err != nil {
		return nil, err
	}
	return jt.toInfo(), nil
}

func (s *KeyringStore) Save(_ context.Context, provider string, tok *Info) error {
	raw, err := json.Marshal(fromInfo(tok))
	if err != nil {
		return err
	}
	return keyring.Set(keyringService, provider, string(raw))
}

func (s *KeyringStore) Remove(_ context.Context, provider string) error {
	err := keyring.Delete(keyringService, provider)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}

func (s *KeyringStore) Exists(_ context.Context, provider string) (bool, error) {
	_, err := keyring.Get(keyringService, provider)
	if errors.Is(err, keyring.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *KeyringStore) Name() string { return "keyring" }
