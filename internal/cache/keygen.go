package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// DefaultKeyGenerator implements KeyGenerator using SHA-256 hashing.
type DefaultKeyGenerator struct {
	// Prefix is prepended to all generated keys.
	Prefix string
}

// NewKeyGenerator creates a new DefaultKeyGenerator with optional prefix.
func NewKeyGenerator(prefix string) *DefaultKeyGenerator {
	return &DefaultKeyGenerator{Prefix: prefix}
}

// Generate builds a canonical exact-match cache key. The hashed payload
// covers exactly the parameters that determine whether two requests would
// produce the same completion: model, message content, rounded
// temperature, max_tokens, tool definitions, and tool_choice.
// top_p is deliberately excluded since providers treat it as a near-alias
// of temperature and including both would fragment the cache without
// changing correctness. Fields are separated by NUL bytes so that, e.g.,
// an empty messages blob followed by "1" can't collide with a
// non-empty blob ending in "\x001".
//
// The key format is [prefix:][namespace:]v1:sha256(...).
func (g *DefaultKeyGenerator) Generate(params KeyParams) string {
	h := sha256.New()

	h.Write([]byte(params.Model))
	h.Write([]byte{0})
	h.Write(params.Messages)
	h.Write([]byte{0})
	if params.Temperature != nil {
		fmt.Fprintf(h, "%.2f", *params.Temperature)
	}
	h.Write([]byte{0})
	fmt.Fprintf(h, "%d", params.MaxTokens)
	h.Write([]byte{0})
	h.Write(params.Tools)
	h.Write([]byte{0})
	h.Write(params.ToolChoice)

	exactHash := "v1:" + hex.EncodeToString(h.Sum(nil))

	var key strings.Builder
	if g.Prefix != "" {
		key.WriteString(g.Prefix)
		key.WriteString(":")
	}
	if params.Namespace != "" {
		key.WriteString(params.Namespace)
		key.WriteString(":")
	}
	key.WriteString(exactHash)

	return key.String()
}

// GenerateFromRaw creates a cache key from raw string content.
// Useful for simple caching scenarios.
func (g *DefaultKeyGenerator) GenerateFromRaw(namespace, content string) string {
	hash := sha256.Sum256([]byte(content))
	hashHex := hex.EncodeToString(hash[:])

	var key strings.Builder
	if g.Prefix != "" {
		key.WriteString(g.Prefix)
		key.WriteString(":")
	}
	if namespace != "" {
		key.WriteString(namespace)
		key.WriteString(":")
	}
	key.WriteString(hashHex)

	return key.String()
}
