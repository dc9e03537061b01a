package vector

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// QdrantStore implements Store interface using Qdrant vector database.
// Reference: https://qdrant.tech/documentation/concepts/search/
type QdrantStore struct {
	client     *http.Client
	apiBase    string
	apiKey     string
	collection string
	dimension  int
}

// QdrantConfig holds configuration for Qdrant store.
type QdrantConfig struct {
	APIBase    string
	APIKey     string
	Collection string
	Dimension  int
	Timeout    time.Duration
}

// NewQdrantStore creates a new Qdrant vector store.
func NewQdrantStore(cfg QdrantConfig) (*QdrantStore, error) {
	if cfg.APIBase == "" {
		return nil, fmt.Errorf("qdrant api_base is required")
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("qdrant collection is required")
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = 1536 // Default for text-embedding-ada-002
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	store := &QdrantStore{
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		apiBase:    cfg.APIBase,
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		dimension:  cfg.Dimension,
	}

	return store, nil
}

// EnsureCollection creates the collection if it doesn't exist.
func (q *QdrantStore) EnsureCollection(ctx context.Context) error {
	// Check if collection exists
	exists, err := q.collectionExists(ctx)
	if err != nil {
		return fmt.Errorf("check collection exists: %w", err)
	}

	if exists {
		return nil
	}

	// Create collection with cosine distance
	createBody := map[string]any{
		"vectors": map[string]any{
			"size":     q.dimension,
			"distance": "Cosine",
		},
		"quantization_config": map[string]any{
			"binary": map[string]any{
				"always_ram": false,
			},
		},
	}

	bodyBytes, err := json.Marshal(createBody)
	if err != nil {
		return fmt.Errorf("marshal create body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s", q.apiBase, q.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	q.setHeaders(req)

	resp, err := q.client.Do(req)
	if err != nil {
		return fmt.Errorf("create collection request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("create collection failed: status=%d, body=%s", resp.StatusCode, string(body))
	}

	return nil
}

func (q *QdrantStore) collectionExists(ctx context.Context) (bool, error) {
	url := fmt.Sprintf("%s/collections/%s/exists", q.apiBase, q.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return false, err
	}

	q.setHeaders(req)

	resp, err := q.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("check collection exists: status=%d", resp.StatusCode)
	}

	var result struct {
		Result struct {
			Exists bool `json:"exists"`
		} `json:"result"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, fmt.Errorf("decode response: %w", err)
	}

	return result.Result.Exists, nil
}

// Search finds similar vectors in Qdrant.
func (q *QdrantStore) Search(ctx context.Context, vector []float64, opts SearchOptions) ([]SearchResult, error) {
	if opts.TopK <= 0 {
		opts.TopK = 1
	}

	searchBody := map[string]any{
		"vector":       vector,
		"limit":        opts.TopK,
		"with_payload": true,
		"params": map[string]any{
			"quantization": map[string]any{
				"ignore":       false,
				"rescore":      true,
				"oversampling": 3.0,
			},
		},
	}
	if f := qdrantFilter(opts.Filter); f != nil {
		searchBody["filter"] = f
	}

	bodyBytes, err := json.Marshal(searchBody)
	if err != nil {
		return nil, fmt.Errorf("marshal search body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s/points/search", q.apiBase, q.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	q.setHeaders(req)

	resp, err := q.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("search failed: status=%d, body=%s", resp.StatusCode, string(body))
	}

	var searchResp qdrantSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	// Convert Qdrant results to SearchResult
	results := make([]SearchResult, 0, len(searchResp.Result))
	for _, r := range searchResp.Result {
		// Qdrant returns score for cosine similarity (1 = identical, 0 = orthogonal)
		// Convert to distance: distance = 1 - score
		distance := 1 - r.Score

		// Filter by distance threshold
		if opts.DistanceThreshold > 0 && distance > opts.DistanceThreshold {
			continue
		}

		results = append(results, SearchResult{
			ID:       r.ID,
			Score:    r.Score,
			Distance: distance,
			Payload:  r.Payload.toPayload(),
		})
	}

	return results, nil
}

// Insert stores a vector in Qdrant.
func (q *QdrantStore) Insert(ctx context.Context, entry Entry) error {
	return q.InsertBatch(ctx, []Entry{entry})
}

// InsertBatch validates every vector, then upserts them into Qdrant. If any
// entry fails validation, no request is sent and none are inserted.
func (q *QdrantStore) InsertBatch(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	for _, e := range entries {
		if err := ValidateVector(e.Vector, q.dimension); err != nil {
			return err
		}
	}

	points := make([]qdrantPoint, 0, len(entries))
	for _, e := range entries {
		id := e.ID
		if id == "" {
			id = uuid.New().String()
		}

		points = append(points, qdrantPoint{
			ID:      id,
			Vector:  e.Vector,
			Payload: fromPayload(e.Payload),
		})
	}

	upsertBody := map[string]any{
		"points": points,
	}

	bodyBytes, err := json.Marshal(upsertBody)
	if err != nil {
		return fmt.Errorf("marshal upsert body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s/points", q.apiBase, q.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	q.setHeaders(req)

	resp, err := q.client.Do(req)
	if err != nil {
		return fmt.Errorf("upsert request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("upsert failed: status=%d, body=%s", resp.StatusCode, string(body))
	}

	return nil
}

// Delete removes a vector from Qdrant.
func (q *QdrantStore) Delete(ctx context.Context, id string) error {
	deleteBody := map[string]any{
		"points": []string{id},
	}

	bodyBytes, err := json.Marshal(deleteBody)
	if err != nil {
		return fmt.Errorf("marshal delete body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s/points/delete", q.apiBase, q.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	q.setHeaders(req)

	resp, err := q.client.Do(req)
	if err != nil {
		return fmt.Errorf("delete request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("delete failed: status=%d, body=%s", resp.StatusCode, string(body))
	}

	return nil
}

// RecordHit fetches the point's current payload, bumps hit_count and
// last_hit, and writes the payload back. Qdrant has no atomic increment, so
// this is read-modify-write; a lost update under concurrent hits on the
// same entry only under-counts, it never corrupts the entry.
func (q *QdrantStore) RecordHit(ctx context.Context, id string) (int64, error) {
	current, err := q.retrievePayload(ctx, id)
	if err != nil {
		return 0, err
	}
	if current == nil {
		return 0, nil
	}

	current.HitCount++
	current.LastHit = time.Now().Unix()

	setBody := map[string]any{
		"points":  []string{id},
		"payload": fromPayload(*current),
	}
	bodyBytes, err := json.Marshal(setBody)
	if err != nil {
		return 0, fmt.Errorf("marshal set payload body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s/points/payload", q.apiBase, q.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	q.setHeaders(req)

	resp, err := q.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("set payload request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("set payload failed: status=%d, body=%s", resp.StatusCode, string(body))
	}

	return current.HitCount, nil
}

func (q *QdrantStore) retrievePayload(ctx context.Context, id string) (*Payload, error) {
	reqBody := map[string]any{
		"ids":          []string{id},
		"with_payload": true,
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal retrieve body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s/points", q.apiBase, q.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	q.setHeaders(req)

	resp, err := q.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("retrieve request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("retrieve failed: status=%d, body=%s", resp.StatusCode, string(body))
	}

	var retrieveResp struct {
		Result []qdrantSearchResult `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&retrieveResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(retrieveResp.Result) == 0 {
		return nil, nil
	}

	p := retrieveResp.Result[0].Payload.toPayload()
	return &p, nil
}

// qdrantFilter translates a MetadataFilter into Qdrant's filter DSL.
func qdrantFilter(f *MetadataFilter) map[string]any {
	if f == nil {
		return nil
	}
	var must []map[string]any
	add := func(key, value string) {
		if value == "" {
			return
		}
		must = append(must, map[string]any{"key": key, "match": map[string]any{"value": value}})
	}
	add("model", f.Model)
	add("system_prompt_hash", f.SystemPromptHash)
	add("tool_definitions_hash", f.ToolDefinitionsHash)
	if len(must) == 0 {
		return nil
	}
	return map[string]any{"must": must}
}

// Ping checks if Qdrant is healthy.
func (q *QdrantStore) Ping(ctx context.Context) error {
	url := fmt.Sprintf("%s/collections", q.apiBase)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return err
	}

	q.setHeaders(req)

	resp, err := q.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("qdrant ping failed: status=%d", resp.StatusCode)
	}

	return nil
}

// Close releases resources.
func (q *QdrantStore) Close() error {
	q.client.CloseIdleConnections()
	return nil
}

func (q *QdrantStore) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}
}

// Qdrant API types

type qdrantPoint struct {
	ID      string        `json:"id"`
	Vector  []float64     `json:"vector"`
	Payload qdrantPayload `json:"payload"`
}

type qdrantPayload struct {
	Prompt              string `json:"prompt"`
	Response            string `json:"response"`
	Model               string `json:"model,omitempty"`
	SystemPromptHash    string `json:"system_prompt_hash,omitempty"`
	ToolDefinitionsHash string `json:"tool_definitions_hash,omitempty"`
	CreatedAt           int64  `json:"created_at,omitempty"`
	HitCount            int64  `json:"hit_count,omitempty"`
	LastHit             int64  `json:"last_hit,omitempty"`
}

func fromPayload(p Payload) qdrantPayload {
	return qdrantPayload{
		Prompt:              p.Prompt,
		Response:            p.Response,
		Model:               p.Model,
		SystemPromptHash:    p.SystemPromptHash,
		ToolDefinitionsHash: p.ToolDefinitionsHash,
		CreatedAt:           p.CreatedAt,
		HitCount:            p.HitCount,
		LastHit:             p.LastHit,
	}
}

func (p qdrantPayload) toPayload() Payload {
	return Payload{
		Prompt:              p.Prompt,
		Response:            p.Response,
		Model:               p.Model,
		SystemPromptHash:    p.SystemPromptHash,
		ToolDefinitionsHash: p.ToolDefinitionsHash,
		CreatedAt:           p.CreatedAt,
		HitCount:            p.HitCount,
		LastHit:             p.LastHit,
	}
}

type qdrantSearchResponse struct {
	Result []qdrantSearchResult `json:"result"`
}

type qdrantSearchResult struct {
	ID      string        `json:"id"`
	Score   float64       `json:"score"`
	Payload qdrantPayload `json:"payload"`
}
