package tokenstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-jose/go-jose/v4"
)

const (
	filePerm = 0o600
	dirPerm  = 0o700
)

// jsonToken is the on-disk shape of Info; ExpiresAt is stored as a Unix
// timestamp so the file format doesn't depend on Go's RFC3339 layout.
type jsonToken struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresAt    *int64 `json:"expires_at,omitempty"`
	TokenType    string `json:"token_type"`
	Provider     string `json:"provider"`
}

// FileStore persists one JSON file per provider under dir, written
// atomically (temp file + rename) with 0600 permissions.
type FileStore struct {
	dir    string
	encKey []byte
}

// NewFileStore creates a FileStore rooted at dir. The directory is created
// on first save, not at construction time.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// WithEncryption enables at-rest JWE encryption (A256GCM, direct key
// agreement) for every token this store writes from now on, using key as
// the shared content-encryption key. key must be exactly 32 bytes; refresh
// tokens are long-lived bearer credentials, so a compromised disk (a
// misconfigured backup, a shared laptop) shouldn't hand them over in the
// clear the way file permissions alone can't guarantee across filesystems.
// Returns s for chaining at construction time.
func (s *FileStore) WithEncryption(key []byte) *FileStore {
	s.encKey = key
	return s
}

func (s *FileStore) path(provider string) string {
	return filepath.Join(s.dir, provider+".json")
}

func (s *FileStore) Load(_ context.Context, provider string) (*Info, error) {
	data, err := os.ReadFile(s.path(provider))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tokenstore: read %s: %w", provider, err)
	}
	if s.encKey != nil {
		if data, err = s.decrypt(data); err != nil {
			return nil, fmt.Errorf("tokenstore: decrypt %s: %w", provider, err)
		}
	}
	var jt jsonToken
	if err := json.Unmarshal(data, &jt); err != nil {
		return nil, fmt.Errorf("tokenstore: parse %s: %w", provider, err)
	}
	return jt.toInfo(), nil
}

func (s *FileStore) Save(_ context.Context, provider string, tok *Info) error {
	if err := os.MkdirAll(s.dir, dirPerm); err != nil {
		return fmt.Errorf("tokenstore: create dir: %w", err)
	}

	data, err := json.MarshalIndent(fromInfo(tok), "", "  ")
	if err != nil {
		return fmt.Errorf("tokenstore: marshal %s: %w", provider, err)
	}

	if s.encKey != nil {
		if data, err = s.encrypt(data); err != nil {
			return fmt.Errorf("tokenstore: encrypt %s: %w", provider, err)
		}
	}

	path := s.path(provider)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, filePerm); err != nil {
		return fmt.Errorf("tokenstore: write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("tokenstore: rename temp file: %w", err)
	}
	return nil
}

func (s *FileStore) Remove(_ context.Context, provider string) error {
	err := os.Remove(s.path(provider))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("tokenstore: remove %s: %w", provider, err)
	}
	return nil
}

func (s *FileStore) Exists(_ context.Context, provider string) (bool, error) {
	_, err := os.Stat(s.path(provider))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *FileStore) Name() string { return "file" }

func fromInfo(i *Info) jsonToken {
	jt := jsonToken{
		AccessToken:  i.AccessToken,
		RefreshToken: i.RefreshToken,
		TokenType:    i.TokenType,
		Provider:     i.Provider,
	}
	if i.ExpiresAt != nil {
		ts := i.ExpiresAt.Unix()
		jt.ExpiresAt = &ts
	}
	return jt
}

func (s *FileStore) encrypt(plaintext []byte) ([]byte, error) {
	encrypter, err := jose.NewEncrypter(jose.A256GCM,
		jose.Recipient{Algorithm: jose.DIRECT, Key: s.encKey}, nil)
	if err != nil {
		return nil, err
	}
	obj, err := encrypter.Encrypt(plaintext)
	if err != nil {
		return nil, err
	}
	serialized, err := obj.CompactSerialize()
	if err != nil {
		return nil, err
	}
	return []byte(serialized), nil
}

func (s *FileStore) decrypt(ciphertext []byte) ([]byte, error) {
	obj, err := jose.ParseEncrypted(string(ciphertext),
		[]jose.KeyAlgorithm{jose.DIRECT}, []jose.ContentEncryption{jose.A256GCM})
	if err != nil {
		return nil, err
	}
	return obj.Decrypt(s.encKey)
}

func (jt jsonToken) toInfo() *Info {
	info := &Info{
		AccessToken:  jt.AccessToken,
		RefreshToken: jt.RefreshToken,
		TokenType:    jt.TokenType,
		Provider:     jt.Provider,
	}
	if jt.ExpiresAt != nil {
		t := time.Unix(*jt.ExpiresAt, 0)
		info.ExpiresAt = &t
	}
	return info
}
