package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	// KeyPrefixLength is the number of characters to show as key prefix.
	KeyPrefixLength = 8
	// KeyLength is the number of random bytes in a generated API key.
	KeyLength = 32
	// DefaultKeyPrefix is the prefix for generated keys.
	DefaultKeyPrefix = "gaud_"

	argonTime    = 1
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16
)

// GenerateAPIKey creates a new random API key with the format gaud_<random>.
// Returns the full key (shown to the caller once), its sha256 lookup hash,
// and its argon2id storage hash.
func GenerateAPIKey() (fullKey, lookupHash, storageHash string, err error) {
	randomBytes := make([]byte, KeyLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", "", fmt.Errorf("generate random bytes: %w", err)
	}

	fullKey = DefaultKeyPrefix + base64.RawURLEncoding.EncodeToString(randomBytes)
	lookupHash = HashKey(fullKey)

	storageHash, err = hashForStorage(lookupHash)
	if err != nil {
		return "", "", "", err
	}

	return fullKey, lookupHash, storageHash, nil
}

// HashKey returns the sha256 hex digest of key, used as the fast lookup
// index into the key store (never used alone to authorize a request).
func HashKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

// hashForStorage argon2id-hashes a sha256 digest with a random salt: the
// stored credential is argon2id(sha256(key)), not the key or its sha256
// digest alone.
func hashForStorage(sha256Hex string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	sum := argon2.IDKey([]byte(sha256Hex), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return base64.RawStdEncoding.EncodeToString(salt) + "$" + base64.RawStdEncoding.EncodeToString(sum), nil
}

// VerifyKey checks key against a stored argon2id hash: sha256 the
// candidate key, then argon2id it with the stored salt, then compare in
// constant time.
func VerifyKey(key, storageHash string) bool {
	parts := strings.SplitN(storageHash, "$", 2)
	if len(parts) != 2 {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}

	shaHex := HashKey(key)
	got := argon2.IDKey([]byte(shaHex), salt, argonTime, argonMemory, argonThreads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}

// ExtractKeyPrefix returns the first N characters of a key for identification.
func ExtractKeyPrefix(key string) string {
	if len(key) <= KeyPrefixLength {
		return key
	}
	return key[:KeyPrefixLength]
}

// ParseAuthHeader extracts the API key from an Authorization header.
// Supports "Bearer <key>" or a bare key.
func ParseAuthHeader(header string) (string, error) {
	if header == "" {
		return "", fmt.Errorf("authorization header is empty")
	}

	if strings.HasPrefix(header, "Bearer ") {
		key := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if key == "" {
			return "", fmt.Errorf("bearer token is empty")
		}
		return key, nil
	}

	return strings.TrimSpace(header), nil
}

// MaskKey returns a masked version of the key for logging.
func MaskKey(key string) string {
	if len(key) <= 12 {
		return "***"
	}
	return key[:8] + "..." + key[len(key)-4:]
}
