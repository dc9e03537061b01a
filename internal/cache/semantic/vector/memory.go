package vector

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a brute-force, in-process vector store for the local
// (non-clustered) deployment mode, where standing up an external vector
// database is unnecessary overhead. It optionally snapshots its contents
// to a JSON file on disk so a cache warmed once survives a restart.
type MemoryStore struct {
	mu         sync.RWMutex
	entries    map[string]*memoryEntry
	path       string
	dimension  int
	maxEntries int
}

type memoryEntry struct {
	Vector    []float64 `json:"vector"`
	Payload   Payload   `json:"payload"`
	ExpiresAt int64     `json:"expires_at"` // unix nano, 0 = never
}

// MemoryConfig configures a MemoryStore.
type MemoryConfig struct {
	// Path is an optional on-disk snapshot file. If empty the store is
	// purely in-memory and its contents don't survive a restart.
	Path string

	// Dimension, if positive, is the expected embedding dimension; inserts
	// with a mismatched vector length are rejected. 0 skips the check.
	Dimension int

	// MaxEntries, if positive, bounds the store size. Once exceeded,
	// entries are evicted ordered by (hit_count asc, created_at asc)
	// until the store is back at the limit. 0 means unbounded.
	MaxEntries int
}

// NewMemoryStore creates a new in-process vector store, loading any
// existing snapshot from Path if one is present.
func NewMemoryStore(cfg MemoryConfig) (*MemoryStore, error) {
	s := &MemoryStore{
		entries:    make(map[string]*memoryEntry),
		path:       cfg.Path,
		dimension:  cfg.Dimension,
		maxEntries: cfg.MaxEntries,
	}
	if s.path != "" {
		if err := s.load(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *MemoryStore) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var entries map[string]*memoryEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	s.entries = entries
	return nil
}

// persist writes the current contents to disk. Called with the lock held.
func (s *MemoryStore) persistLocked() error {
	if s.path == "" {
		return nil
	}
	data, err := json.Marshal(s.entries)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += a[i] * b[i]
		magA += a[i] * a[i]
		magB += b[i] * b[i]
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

// Search performs a brute-force cosine similarity scan over all
// non-expired entries and returns the TopK results ordered by score
// descending, filtering by DistanceThreshold.
func (s *MemoryStore) Search(ctx context.Context, vec []float64, opts SearchOptions) ([]SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now().UnixNano()
	candidates := make([]SearchResult, 0, len(s.entries))

	for id, entry := range s.entries {
		if entry.ExpiresAt > 0 && entry.ExpiresAt <= now {
			continue
		}
		if !opts.Filter.Matches(entry.Payload) {
			continue
		}
		score := cosineSimilarity(vec, entry.Vector)
		distance := 1 - score
		if opts.DistanceThreshold > 0 && distance > opts.DistanceThreshold {
			continue
		}
		candidates = append(candidates, SearchResult{
			ID:       id,
			Score:    score,
			Distance: distance,
			Payload:  entry.Payload,
		})
	}

	sortResultsByScoreDesc(candidates)

	topK := opts.TopK
	if topK <= 0 || topK > len(candidates) {
		topK = len(candidates)
	}
	return candidates[:topK], nil
}

func sortResultsByScoreDesc(results []SearchResult) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j].Score > results[j-1].Score; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}

// Insert stores a vector with associated payload.
func (s *MemoryStore) Insert(ctx context.Context, entry Entry) error {
	return s.InsertBatch(ctx, []Entry{entry})
}

// InsertBatch validates every vector, then stores them in a single
// operation. If any entry fails validation, none are inserted and the
// store is left unchanged.
func (s *MemoryStore) InsertBatch(ctx context.Context, entries []Entry) error {
	for _, e := range entries {
		if err := ValidateVector(e.Vector, s.dimension); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range entries {
		id := e.ID
		if id == "" {
			id = uuid.New().String()
		}
		var expiresAt int64
		if e.TTL > 0 {
			expiresAt = time.Now().Add(e.TTL).UnixNano()
		}
		s.entries[id] = &memoryEntry{
			Vector:    e.Vector,
			Payload:   e.Payload,
			ExpiresAt: expiresAt,
		}
	}

	s.evictLocked()
	return s.persistLocked()
}

// evictLocked drops entries, ordered by (hit_count asc, created_at asc),
// until the store is at or under maxEntries. Called with the lock held.
func (s *MemoryStore) evictLocked() {
	if s.maxEntries <= 0 || len(s.entries) <= s.maxEntries {
		return
	}

	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := s.entries[ids[i]].Payload, s.entries[ids[j]].Payload
		if a.HitCount != b.HitCount {
			return a.HitCount < b.HitCount
		}
		return a.CreatedAt < b.CreatedAt
	})

	toEvict := len(s.entries) - s.maxEntries
	for _, id := range ids[:toEvict] {
		delete(s.entries, id)
	}
}

// RecordHit bumps the hit count and last-hit timestamp of an entry and
// returns the updated count. It's a no-op returning (0, nil) if the entry
// no longer exists, since eviction or expiry racing a lookup isn't an
// error.
func (s *MemoryStore) RecordHit(ctx context.Context, id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return 0, nil
	}
	entry.Payload.HitCount++
	entry.Payload.LastHit = time.Now().Unix()
	if err := s.persistLocked(); err != nil {
		return entry.Payload.HitCount, err
	}
	return entry.Payload.HitCount, nil
}

// Delete removes a vector by ID.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	return s.persistLocked()
}

// Ping always succeeds for an in-process store.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close flushes the snapshot to disk one last time.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked()
}

// Len returns the number of entries currently stored, ignoring expiry.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
