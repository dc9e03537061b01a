package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/gaud-proxy/gaud/internal/cache/semantic"
	"github.com/gaud-proxy/gaud/internal/config"
	"github.com/gaud-proxy/gaud/pkg/types"
)

// ResponseCache is the top-level cache entry point wired into the request
// pipeline. It applies skip rules, then dispatches to an exact-match
// handler, a semantic (embedding similarity) cache, or both, according to
// config.CacheConfig.Mode.
type ResponseCache struct {
	mode     string
	exact    *Handler
	semantic *semantic.Cache
	skip     skipRules
}

type skipRules struct {
	skipToolRequests bool
	skipModels       map[string]struct{}
}

func (r skipRules) shouldSkip(req *types.ChatRequest) bool {
	if req == nil {
		return true
	}
	if r.skipToolRequests && len(req.Tools) > 0 {
		return true
	}
	if _, skip := r.skipModels[req.Model]; skip {
		return true
	}
	return false
}

// NewResponseCache builds a ResponseCache from the application's cache
// configuration. Returns (nil, nil) if caching is disabled.
func NewResponseCache(ctx context.Context, cfg config.CacheConfig) (*ResponseCache, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	mode := cfg.Mode
	if mode == "" {
		mode = "exact"
	}

	rc := &ResponseCache{
		mode: mode,
		skip: newSkipRules(cfg),
	}

	if mode == "exact" || mode == "both" {
		rc.exact = newExactHandler(cfg)
	}

	if mode == "semantic" || mode == "both" {
		sc, err := newSemanticCache(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("build semantic cache: %w", err)
		}
		rc.semantic = sc
	}

	return rc, nil
}

func newSkipRules(cfg config.CacheConfig) skipRules {
	models := make(map[string]struct{}, len(cfg.SkipModels))
	for _, m := range cfg.SkipModels {
		models[m] = struct{}{}
	}
	return skipRules{skipToolRequests: cfg.SkipToolRequests, skipModels: models}
}

func newExactHandler(cfg config.CacheConfig) *Handler {
	memCfg := DefaultMemoryCacheConfig()
	if cfg.MaxEntries > 0 {
		memCfg.MaxSize = cfg.MaxEntries
	}
	ttl := time.Duration(cfg.TTLSecs) * time.Second
	if ttl > 0 {
		memCfg.DefaultTTL = ttl
	}

	mem := NewMemoryCache(memCfg)

	var backend Cache = mem
	if cfg.Redis.Addr != "" {
		redisCfg := DefaultRedisCacheConfig()
		redisCfg.Addr = cfg.Redis.Addr
		redisCfg.Password = cfg.Redis.Password
		redisCfg.DB = cfg.Redis.DB
		if ttl > 0 {
			redisCfg.DefaultTTL = ttl
		}
		if redis, err := NewRedisCache(redisCfg); err == nil {
			backend = NewDualCache(mem, redis, DefaultDualCacheConfig())
		}
		// If Redis is unreachable, fall back to the local-only cache rather
		// than fail startup — exact-cache is a latency optimization, not a
		// correctness requirement.
	}

	handlerCfg := DefaultHandlerConfig()
	handlerCfg.Enabled = true
	if ttl > 0 {
		handlerCfg.DefaultTTL = ttl
	}

	return NewHandler(backend, NewKeyGenerator("gaud"), handlerCfg)
}

// newSemanticCache builds a semantic.Cache from CacheConfig by translating
// it into a semantic.Config and going through semantic.NewFromConfig, so
// the embedding-provider (openai/azure) and vector-store (memory/qdrant)
// selectors it exposes are actually reachable from the application's own
// config file, not just from tests that construct semantic.Config directly.
func newSemanticCache(ctx context.Context, cfg config.CacheConfig) (*semantic.Cache, error) {
	if cfg.EmbeddingURL == "" {
		return nil, fmt.Errorf("cache.embedding_url is required for semantic/both cache mode")
	}
	if !cfg.EmbeddingAllowLocal {
		if err := rejectLocalEmbeddingURL(cfg.EmbeddingURL); err != nil {
			return nil, err
		}
	}

	semCfg := semantic.DefaultConfig()
	semCfg.EmbeddingModel = cfg.EmbeddingModel
	semCfg.EmbeddingProvider = cfg.EmbeddingProvider
	semCfg.EmbeddingAPIKey = cfg.EmbeddingAPIKey
	semCfg.EmbeddingAPIBase = cfg.EmbeddingURL
	semCfg.VectorDimension = cfg.EmbeddingDimension
	semCfg.VectorStore = cfg.VectorStore
	semCfg.QdrantAPIBase = cfg.QdrantAPIBase
	semCfg.QdrantAPIKey = cfg.QdrantAPIKey
	semCfg.QdrantCollection = cfg.QdrantCollection
	semCfg.MaxEntries = cfg.MaxEntries
	semCfg.EnableReranking = cfg.EnableReranking
	if cfg.RerankingThreshold > 0 {
		semCfg.RerankingThreshold = cfg.RerankingThreshold
	}
	if cfg.Path != "" {
		semCfg.VectorStorePath = cfg.Path + ".semantic.json"
	}
	if cfg.SimilarityThreshold > 0 {
		semCfg.SimilarityThreshold = cfg.SimilarityThreshold
	}
	if cfg.TTLSecs > 0 {
		semCfg.DefaultTTL = time.Duration(cfg.TTLSecs) * time.Second
	}

	return semantic.NewFromConfig(ctx, semCfg)
}

// rejectLocalEmbeddingURL blocks loopback/private/link-local embedding
// endpoints unless the operator has explicitly opted in, since the
// embedding URL is attacker-influenceable config in multi-tenant
// deployments and shouldn't be usable to reach internal services.
func rejectLocalEmbeddingURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid embedding_url: %w", err)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("invalid embedding_url: missing host")
	}
	if strings.EqualFold(host, "localhost") {
		return fmt.Errorf("embedding_url %q resolves to localhost; set embedding_allow_local to allow this", rawURL)
	}
	if ip := net.ParseIP(host); ip != nil && isDisallowedIP(ip) {
		return fmt.Errorf("embedding_url %q resolves to a private/local address; set embedding_allow_local to allow this", rawURL)
	}
	return nil
}

func isDisallowedIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified()
}

// Result is what a Lookup call returns on a hit, regardless of which tier
// (exact or semantic) served it.
type Result struct {
	Response   []byte
	Similarity float64 // 1.0 for an exact hit
	Semantic   bool
}

// Lookup checks the cache for a response to req, honoring skip rules and
// the configured mode. Exact is tried first when mode is "both", since it
// is cheaper (no embedding call) and strictly more precise.
func (rc *ResponseCache) Lookup(ctx context.Context, req *types.ChatRequest, ctrl *CacheControl) (*Result, error) {
	if rc == nil || rc.skip.shouldSkip(req) {
		return nil, nil
	}

	if rc.exact != nil {
		cached, err := rc.exact.GetCachedResponse(ctx, req, ctrl)
		if err != nil {
			return nil, err
		}
		if cached != nil {
			return &Result{Response: cached.Response, Similarity: 1.0}, nil
		}
	}

	if rc.semantic != nil {
		prompt := flattenPrompt(req)
		result, err := rc.semantic.Get(ctx, prompt, semanticMetadata(req))
		if err != nil {
			return nil, err
		}
		if result != nil {
			return &Result{Response: []byte(result.Response), Similarity: result.Similarity, Semantic: true}, nil
		}
	}

	return nil, nil
}

// Store writes a fresh response into every enabled cache tier, unless
// skip rules or cache control say otherwise. The semantic tier only
// accepts responses that reached a natural stop: a response cut short by
// a tool call or length limit isn't a complete answer to the prompt and
// would poison future lookups if served back verbatim.
func (rc *ResponseCache) Store(ctx context.Context, req *types.ChatRequest, resp []byte, ctrl *CacheControl) error {
	if rc == nil || rc.skip.shouldSkip(req) {
		return nil
	}
	if ctrl != nil && ctrl.NoStore {
		return nil
	}

	if rc.exact != nil {
		if err := rc.exact.SetCachedResponse(ctx, req, resp, ctrl); err != nil {
			return err
		}
	}

	if rc.semantic != nil && hasStopFinish(resp) {
		var ttl time.Duration
		if ctrl != nil && ctrl.TTL > 0 {
			ttl = ctrl.TTL
		}
		if err := rc.semantic.Set(ctx, flattenPrompt(req), string(resp), semanticMetadata(req), ttl); err != nil {
			return err
		}
	}

	return nil
}

// hasStopFinish reports whether the serialized chat response contains at
// least one choice whose finish_reason is "stop". Responses that stopped
// for another reason (tool_calls, length, content_filter) are incomplete
// or diverted and aren't safe to serve back as a semantic cache hit.
func hasStopFinish(resp []byte) bool {
	var parsed struct {
		Choices []struct {
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(resp, &parsed); err != nil {
		return false
	}
	for _, c := range parsed.Choices {
		if c.FinishReason == "stop" {
			return true
		}
	}
	return false
}

// semanticMetadata derives the semantic cache's scoping metadata from a
// request: the model name plus hashes of the system prompt and tool
// definitions, so an ANN search can be filtered to entries cached under
// the same request shape.
func semanticMetadata(req *types.ChatRequest) semantic.Metadata {
	return semantic.Metadata{
		Model:               req.Model,
		SystemPromptHash:    systemPromptHash(req),
		ToolDefinitionsHash: toolDefinitionsHash(req),
	}
}

func systemPromptHash(req *types.ChatRequest) string {
	for _, msg := range req.Messages {
		if msg.Role != "system" {
			continue
		}
		text := semantic.ExtractText(msg.Content)
		if text == "" {
			return ""
		}
		return hashHex(text)
	}
	return ""
}

func toolDefinitionsHash(req *types.ChatRequest) string {
	if len(req.Tools) == 0 {
		return ""
	}
	b, err := json.Marshal(req.Tools)
	if err != nil {
		return ""
	}
	return hashHex(string(b))
}

func hashHex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Close releases resources held by every active cache tier.
func (rc *ResponseCache) Close() error {
	if rc == nil {
		return nil
	}
	if rc.exact != nil {
		if err := rc.exact.Close(); err != nil {
			return err
		}
	}
	if rc.semantic != nil {
		return rc.semantic.Close()
	}
	return nil
}

// maxEmbeddingPromptLen bounds the text handed to the embedding model. Long
// conversations would otherwise dominate embedding cost and dilute the
// vector with turns that don't bear on whether this exchange repeats.
const maxEmbeddingPromptLen = 8192

// flattenPrompt reduces a request to the text that actually determines
// semantic similarity: the system prompt and the most recent user turn,
// joined by a separator. Earlier turns are deliberately excluded so two
// requests sharing a system prompt and current question can hit the same
// cache entry regardless of how their conversation histories differ.
func flattenPrompt(req *types.ChatRequest) string {
	var system, lastUser string
	for _, msg := range req.Messages {
		switch msg.Role {
		case "system":
			if system == "" {
				system = semantic.ExtractText(msg.Content)
			}
		case "user":
			if text := semantic.ExtractText(msg.Content); text != "" {
				lastUser = text
			}
		}
	}

	prompt := system + "\n---\n" + lastUser
	if len(prompt) > maxEmbeddingPromptLen {
		prompt = prompt[:maxEmbeddingPromptLen]
	}
	return prompt
}
