package semantic

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/gaud-proxy/gaud/internal/cache/semantic/embedding"
	"github.com/gaud-proxy/gaud/internal/cache/semantic/vector"
)

// defaultRerankTopK is how many ANN candidates are pulled and re-scored by
// Rerank when reranking is enabled, instead of trusting the single nearest
// vector neighbor.
const defaultRerankTopK = 5

// Cache implements semantic caching using vector similarity.
// It stores LLM responses indexed by embedding vectors of the prompts,
// allowing cache hits for semantically similar (but not identical) prompts.
type Cache struct {
	embedder            embedding.Embedder
	vectorStore         vector.Store
	similarityThreshold float64
	defaultTTL          time.Duration
	enableReranking     bool
	rerankTopK          int
	logger              *slog.Logger

	// Statistics
	hits       atomic.Int64
	misses     atomic.Int64
	sets       atomic.Int64
	errors     atomic.Int64
	embedCalls atomic.Int64
}

// Metadata scopes a cache entry to the request shape it was cached under.
// Get filters ANN candidates by it so a request with a different system
// prompt or tool definitions can't cross-hit just because its user turn
// embeds similarly.
type Metadata struct {
	Model               string
	SystemPromptHash    string
	ToolDefinitionsHash string
}

// New creates a new semantic cache with the given embedder and vector store.
func New(embedder embedding.Embedder, store vector.Store, cfg Config) (*Cache, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if store == nil {
		return nil, fmt.Errorf("vector store is required")
	}

	if cfg.SimilarityThreshold <= 0 || cfg.SimilarityThreshold > 1 {
		cfg.SimilarityThreshold = 0.95
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = time.Hour
	}

	return &Cache{
		embedder:            embedder,
		vectorStore:         store,
		similarityThreshold: cfg.SimilarityThreshold,
		defaultTTL:          cfg.DefaultTTL,
		enableReranking:     cfg.EnableReranking,
		rerankTopK:          defaultRerankTopK,
		logger:              slog.Default(),
	}, nil
}

// Get retrieves a cached response for a semantically similar prompt scoped
// to meta. Returns the cached response and similarity score if found, nil
// otherwise.
func (c *Cache) Get(ctx context.Context, prompt string, meta Metadata) (*CacheResult, error) {
	if prompt == "" {
		c.misses.Add(1)
		return nil, nil
	}

	emb, err := c.embedder.Embed(ctx, prompt)
	if err != nil {
		c.errors.Add(1)
		return nil, fmt.Errorf("generate embedding: %w", err)
	}
	c.embedCalls.Add(1)

	topK := 1
	if c.enableReranking {
		topK = c.rerankTopK
	}

	results, err := c.vectorStore.Search(ctx, emb, vector.SearchOptions{
		TopK:              topK,
		DistanceThreshold: 1 - c.similarityThreshold,
		Filter: &vector.MetadataFilter{
			Model:               meta.Model,
			SystemPromptHash:    meta.SystemPromptHash,
			ToolDefinitionsHash: meta.ToolDefinitionsHash,
		},
	})
	if err != nil {
		c.errors.Add(1)
		return nil, fmt.Errorf("vector search: %w", err)
	}
	if len(results) == 0 {
		c.misses.Add(1)
		return nil, nil
	}

	best := results[0]
	if c.enableReranking && len(results) > 1 {
		if picked := c.rerank(prompt, results); picked != nil {
			best = *picked
		}
	}

	similarity := best.Score
	if similarity < c.similarityThreshold {
		c.misses.Add(1)
		return nil, nil
	}

	hitCount, err := c.vectorStore.RecordHit(ctx, best.ID)
	if err != nil {
		c.logger.Warn("semantic cache hit recording failed", "id", best.ID, "error", err)
	}

	c.hits.Add(1)
	return &CacheResult{
		Response:     best.Payload.Response,
		Similarity:   similarity,
		CachedPrompt: best.Payload.Prompt,
		Model:        best.Payload.Model,
		HitCount:     hitCount,
	}, nil
}

// rerank re-scores ANN candidates against prompt using string similarity
// and returns the best match, or nil if no candidates were given.
func (c *Cache) rerank(prompt string, results []vector.SearchResult) *vector.SearchResult {
	candidates := make([]RerankCandidate, len(results))
	for i, r := range results {
		candidates[i] = RerankCandidate{
			Prompt:      r.Payload.Prompt,
			Response:    r.Payload.Response,
			Model:       r.Payload.Model,
			VectorScore: r.Score,
		}
	}

	best := Rerank(prompt, candidates)
	if best == nil {
		return nil
	}
	for i := range results {
		if results[i].Payload.Prompt == best.Prompt && results[i].Payload.Response == best.Response {
			return &results[i]
		}
	}
	return nil
}

// Set stores a response in the semantic cache under the given metadata.
// The embedding is validated (dimension, finiteness, normalization) before
// insert; a failing vector is rejected with a *vector.ValidationError and
// the store is left unchanged.
func (c *Cache) Set(ctx context.Context, prompt, response string, meta Metadata, ttl time.Duration) error {
	if prompt == "" || response == "" {
		return nil
	}

	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	emb, err := c.embedder.Embed(ctx, prompt)
	if err != nil {
		c.errors.Add(1)
		return fmt.Errorf("generate embedding: %w", err)
	}
	c.embedCalls.Add(1)

	if err := vector.ValidateVector(emb, c.embedder.Dimension()); err != nil {
		c.errors.Add(1)
		return err
	}

	entry := vector.Entry{
		ID:     uuid.New().String(),
		Vector: emb,
		Payload: vector.Payload{
			Prompt:              prompt,
			Response:            response,
			Model:               meta.Model,
			SystemPromptHash:    meta.SystemPromptHash,
			ToolDefinitionsHash: meta.ToolDefinitionsHash,
			CreatedAt:           time.Now().Unix(),
		},
		TTL: ttl,
	}

	if err := c.vectorStore.Insert(ctx, entry); err != nil {
		c.errors.Add(1)
		return fmt.Errorf("vector insert: %w", err)
	}

	c.sets.Add(1)
	c.logger.Debug("semantic cache set", "prompt", PromptPreview(prompt), "model", meta.Model)
	return nil
}

// SetBatch stores multiple responses in the semantic cache. Every embedding
// is validated before any is inserted: if one entry fails validation, the
// whole batch is rejected and the store is left unchanged.
func (c *Cache) SetBatch(ctx context.Context, entries []CacheEntry) error {
	if len(entries) == 0 {
		return nil
	}

	prompts := make([]string, len(entries))
	for i, e := range entries {
		prompts[i] = e.Prompt
	}

	embeddings, err := c.embedder.EmbedBatch(ctx, prompts)
	if err != nil {
		c.errors.Add(1)
		return fmt.Errorf("generate embeddings: %w", err)
	}
	c.embedCalls.Add(int64(len(prompts)))

	dim := c.embedder.Dimension()
	for _, emb := range embeddings {
		if err := vector.ValidateVector(emb, dim); err != nil {
			c.errors.Add(1)
			return err
		}
	}

	vectorEntries := make([]vector.Entry, len(entries))
	now := time.Now().Unix()

	for i, e := range entries {
		ttl := e.TTL
		if ttl <= 0 {
			ttl = c.defaultTTL
		}

		vectorEntries[i] = vector.Entry{
			ID:     uuid.New().String(),
			Vector: embeddings[i],
			Payload: vector.Payload{
				Prompt:              e.Prompt,
				Response:            e.Response,
				Model:               e.Model,
				SystemPromptHash:    e.SystemPromptHash,
				ToolDefinitionsHash: e.ToolDefinitionsHash,
				CreatedAt:           now,
			},
			TTL: ttl,
		}
	}

	if err := c.vectorStore.InsertBatch(ctx, vectorEntries); err != nil {
		c.errors.Add(1)
		return fmt.Errorf("vector insert batch: %w", err)
	}

	c.sets.Add(int64(len(entries)))
	return nil
}

// Delete removes a cached entry by its prompt.
// Note: This requires searching for the prompt first, which may not be exact.
func (c *Cache) Delete(ctx context.Context, prompt string) error {
	emb, err := c.embedder.Embed(ctx, prompt)
	if err != nil {
		return fmt.Errorf("generate embedding: %w", err)
	}

	results, err := c.vectorStore.Search(ctx, emb, vector.SearchOptions{
		TopK:              1,
		DistanceThreshold: 0.01, // Very strict for deletion
	})
	if err != nil {
		return fmt.Errorf("vector search: %w", err)
	}

	if len(results) == 0 {
		return nil // Nothing to delete
	}

	return c.vectorStore.Delete(ctx, results[0].ID)
}

// Ping checks if the cache is healthy.
func (c *Cache) Ping(ctx context.Context) error {
	return c.vectorStore.Ping(ctx)
}

// Close releases resources held by the cache.
func (c *Cache) Close() error {
	return c.vectorStore.Close()
}

// Stats returns cache statistics.
func (c *Cache) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	total := hits + misses

	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		Hits:       hits,
		Misses:     misses,
		Sets:       c.sets.Load(),
		Errors:     c.errors.Load(),
		EmbedCalls: c.embedCalls.Load(),
		HitRate:    hitRate,
	}
}

// SimilarityThreshold returns the configured similarity threshold.
func (c *Cache) SimilarityThreshold() float64 {
	return c.similarityThreshold
}

// CacheResult represents a semantic cache hit.
type CacheResult struct {
	// Response is the cached LLM response.
	Response string

	// Similarity is the cosine similarity score (0-1).
	Similarity float64

	// CachedPrompt is the original prompt that was cached.
	CachedPrompt string

	// Model is the model that generated the cached response.
	Model string

	// HitCount is the entry's hit count after this lookup counted toward it.
	HitCount int64
}

// CacheEntry represents an entry to be cached.
type CacheEntry struct {
	Prompt              string
	Response            string
	Model               string
	SystemPromptHash    string
	ToolDefinitionsHash string
	TTL                 time.Duration
}

// Stats holds semantic cache statistics.
type Stats struct {
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	Sets       int64   `json:"sets"`
	Errors     int64   `json:"errors"`
	EmbedCalls int64   `json:"embed_calls"`
	HitRate    float64 `json:"hit_rate"`
}
