// Package vector provides vector storage interfaces and implementations
// for semantic caching functionality.
package vector

import (
	"context"
	"time"
)

// Store defines the interface for vector storage backends.
type Store interface {
	// Search finds similar vectors within the distance threshold.
	// Returns results sorted by similarity (most similar first).
	Search(ctx context.Context, vector []float64, opts SearchOptions) ([]SearchResult, error)

	// Insert stores a vector with associated payload. Implementations must
	// validate the vector (dimension, finiteness, normalization) before
	// mutating any state and return a *ValidationError, leaving the store
	// unchanged, if it fails.
	Insert(ctx context.Context, entry Entry) error

	// InsertBatch stores multiple vectors in a single operation, all or
	// nothing: if any entry fails validation, none are inserted.
	InsertBatch(ctx context.Context, entries []Entry) error

	// Delete removes a vector by ID.
	Delete(ctx context.Context, id string) error

	// RecordHit marks a cache hit against an entry, bumping its hit count
	// and last-hit timestamp, and returns the updated hit count.
	RecordHit(ctx context.Context, id string) (int64, error)

	// Ping checks if the vector store is healthy.
	Ping(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error
}

// MetadataFilter restricts a Search to entries whose payload matches every
// non-empty field. It prevents an ANN search on the user-message embedding
// alone from crossing over between requests that differ in system prompt or
// tool definitions even when the user turn embeds similarly.
type MetadataFilter struct {
	Model               string
	SystemPromptHash    string
	ToolDefinitionsHash string
}

func (f *MetadataFilter) matches(p Payload) bool {
	if f == nil {
		return true
	}
	if f.Model != "" && f.Model != p.Model {
		return false
	}
	if f.SystemPromptHash != "" && f.SystemPromptHash != p.SystemPromptHash {
		return false
	}
	if f.ToolDefinitionsHash != "" && f.ToolDefinitionsHash != p.ToolDefinitionsHash {
		return false
	}
	return true
}

// Matches reports whether payload p satisfies the filter. A nil filter
// matches everything.
func (f *MetadataFilter) Matches(p Payload) bool { return f.matches(p) }

// SearchOptions configures vector search behavior.
type SearchOptions struct {
	// TopK is the maximum number of results to return.
	TopK int

	// DistanceThreshold is the maximum distance for a result to be included.
	// For cosine distance: 0 = identical, 2 = opposite.
	// Results with distance > DistanceThreshold are excluded.
	DistanceThreshold float64

	// Filter, if set, restricts results to entries matching its fields.
	Filter *MetadataFilter
}

// SearchResult represents a single search result.
type SearchResult struct {
	// ID is the unique identifier of the vector.
	ID string

	// Score is the similarity score (for cosine: 1 = identical, 0 = orthogonal, -1 = opposite).
	// Note: Qdrant returns score directly, while distance = 1 - score for cosine.
	Score float64

	// Distance is the vector distance (for cosine: 0 = identical, 2 = opposite).
	Distance float64

	// Payload contains the cached data associated with this vector.
	Payload Payload
}

// Entry represents a vector entry to be stored.
type Entry struct {
	// ID is the unique identifier for this entry.
	// If empty, a UUID will be generated.
	ID string

	// Vector is the embedding vector.
	Vector []float64

	// Payload contains the data to cache.
	Payload Payload

	// TTL is the time-to-live for this entry.
	// If zero, the entry does not expire.
	TTL time.Duration
}

// Payload contains the cached prompt and response.
type Payload struct {
	// Prompt is the original prompt text used to generate the embedding.
	Prompt string `json:"prompt"`

	// Response is the cached LLM response.
	Response string `json:"response"`

	// Model is the model that generated the response.
	Model string `json:"model,omitempty"`

	// SystemPromptHash and ToolDefinitionsHash identify the request shape
	// this entry was cached under, so Search can be scoped to it.
	SystemPromptHash    string `json:"system_prompt_hash,omitempty"`
	ToolDefinitionsHash string `json:"tool_definitions_hash,omitempty"`

	// CreatedAt is the timestamp when this entry was created.
	CreatedAt int64 `json:"created_at,omitempty"`

	// HitCount is the number of times this entry has served a cache hit.
	HitCount int64 `json:"hit_count,omitempty"`

	// LastHit is the unix timestamp of the most recent cache hit, 0 if
	// never hit.
	LastHit int64 `json:"last_hit,omitempty"`
}
