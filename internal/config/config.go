// Package config provides configuration management with hot-reload support.
// It uses fsnotify to watch for file changes and atomic pointer swaps for zero-downtime updates.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete gateway configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Deployment  DeploymentConfig  `yaml:"deployment"`
	Auth        AuthConfig        `yaml:"auth"`
	Providers   []ProviderConfig  `yaml:"providers"`
	ProviderOps ProviderOpsConfig `yaml:"provider_ops"`
	Routing     RoutingConfig     `yaml:"routing"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Budget      BudgetConfig      `yaml:"budget"`
	Cache       CacheConfig       `yaml:"cache"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Tracing     TracingConfig     `yaml:"tracing"`
	PricingFile string            `yaml:"pricing_file"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// DatabaseConfig contains the Postgres connection settings backing the
// budget and usage store (internal/budget.PostgresStore) when Enabled. When
// disabled, an in-memory budget store is used instead.
type DatabaseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
}

// DeploymentConfig selects single-process vs. multi-instance operation.
type DeploymentConfig struct {
	// Mode is "development" (default, single process, in-memory state ok)
	// or "distributed" (multiple instances sharing Postgres + Redis).
	Mode string `yaml:"mode"`
}

// TLSClientCertConfig configures mutual-TLS identity extraction as an
// alternative to bearer API keys.
type TLSClientCertConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Require    bool   `yaml:"require"`
	HeaderName string `yaml:"header_name"`
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	Enabled          bool                `yaml:"enabled"`
	DefaultAdminName string              `yaml:"default_admin_name"`
	BootstrapKey     string              `yaml:"bootstrap_key"`
	TLSClientCert    TLSClientCertConfig `yaml:"tls_client_cert"`
	// SessionSecret signs admin session tokens issued by POST
	// /admin/sessions (see internal/auth.SessionIssuer). A literal value,
	// env://, or vault:// reference; empty disables session-token auth.
	SessionSecret string        `yaml:"session_secret"`
	SessionTTL    time.Duration `yaml:"session_ttl"`
}

// ProviderConfig defines a single LLM provider configuration, covering both
// the load-balanced deployment shape (Models/MaxConcurrent/Headers) and, for
// the OAuth-backed backends (Claude, Gemini, Copilot, Kiro), the credentials
// needed to run their authorization flow.
type ProviderConfig struct {
	Name          string            `yaml:"name"`
	Type          string            `yaml:"type"`
	APIKey        string            `yaml:"api_key"`
	BaseURL       string            `yaml:"base_url"`
	Models        []string          `yaml:"models"`
	MaxConcurrent int               `yaml:"max_concurrent"`
	Timeout       time.Duration     `yaml:"timeout"`
	Headers       map[string]string `yaml:"headers"`

	// OAuth fields, relevant only for provider types backed by
	// internal/oauth.Flow (claude, gemini, copilot, kiro).
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	AuthURL      string `yaml:"auth_url"`
	TokenURL     string `yaml:"token_url"`
	CallbackPort int    `yaml:"callback_port"`
}

// ProviderOpsConfig controls how provider credentials are stored and how
// providers are selected among healthy candidates for a model.
type ProviderOpsConfig struct {
	// RoutingStrategy is one of priority, round_robin, least_used, random.
	RoutingStrategy string `yaml:"routing_strategy"`
	// StorageBackend is one of file, keyring, memory — see internal/tokenstore.
	StorageBackend  string `yaml:"storage_backend"`
	TokenStorageDir string `yaml:"token_storage_dir"`
	// TokenEncryptionKey, when set, enables at-rest JWE encryption for the
	// file storage backend (internal/tokenstore.FileStore.WithEncryption).
	// A literal value, env://, or vault:// reference resolved through
	// internal/secret; must decode to exactly 32 bytes after SHA-256
	// derivation, which newTokenStore handles.
	TokenEncryptionKey string `yaml:"token_encryption_key"`
}

// RoutingConfig contains routing and load balancing settings.
type RoutingConfig struct {
	DefaultProvider string        `yaml:"default_provider"`
	Strategy        string        `yaml:"strategy"` // simple-shuffle, lowest-latency, least-busy
	FallbackEnabled bool          `yaml:"fallback_enabled"`
	RetryCount      int           `yaml:"retry_count"`
	CooldownPeriod  time.Duration `yaml:"cooldown_period"`
	// Distributed shares deployment health/stats across instances via
	// Cache.Redis instead of process-local memory. Required when
	// Deployment.Mode is "distributed".
	Distributed bool `yaml:"distributed"`
}

// RateLimitConfig defines rate limiting parameters.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	BurstSize         int  `yaml:"burst_size"`
	// Distributed shares rate-limit counters across instances via
	// Cache.Redis instead of an in-process limiter. Required when Enabled
	// and Deployment.Mode is "distributed".
	Distributed bool `yaml:"distributed"`
}

// BudgetConfig controls the internal/budget enforcer.
type BudgetConfig struct {
	Enabled                 bool          `yaml:"enabled"`
	WarningThresholdPercent int           `yaml:"warning_threshold_percent"`
	AuditS3                 AuditS3Config `yaml:"audit_s3"`
}

// AuditS3Config archives every flushed usage batch to S3 in addition to the
// primary budget store (internal/observability.S3Sink via
// internal/budget.MultiSink), for operators who want usage records to
// outlive whatever database backs live budget counters. Credentials fall
// back to the default AWS credential chain when AccessKeyID/SecretKey are
// empty.
type AuditS3Config struct {
	Enabled     bool   `yaml:"enabled"`
	BucketName  string `yaml:"bucket_name"`
	Region      string `yaml:"region"`
	AccessKeyID string `yaml:"access_key_id"`
	SecretKey   string `yaml:"secret_key"`
	Endpoint    string `yaml:"endpoint"`
	PathPrefix  string `yaml:"path_prefix"`
}

// RedisCacheConfig configures the shared cache backend used both for the
// response cache and, in distributed deployments, for routing stats and
// rate-limit counters.
type RedisCacheConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	Enabled bool `yaml:"enabled"`
	// Mode is one of exact, semantic, both.
	Mode                string           `yaml:"mode"`
	Path                string           `yaml:"path"`
	SimilarityThreshold float64          `yaml:"similarity_threshold"`
	EmbeddingProvider   string           `yaml:"embedding_provider"` // openai, azure
	EmbeddingURL        string           `yaml:"embedding_url"`
	EmbeddingModel      string           `yaml:"embedding_model"`
	EmbeddingAPIKey     string           `yaml:"embedding_api_key"`
	EmbeddingDimension  int              `yaml:"embedding_dimension"`
	EmbeddingAllowLocal bool             `yaml:"embedding_allow_local"`
	MaxEntries          int              `yaml:"max_entries"`
	TTLSecs             int              `yaml:"ttl_secs"`
	SkipToolRequests    bool             `yaml:"skip_tool_requests"`
	SkipModels          []string         `yaml:"skip_models"`
	Redis               RedisCacheConfig `yaml:"redis"`

	// VectorStore selects the semantic cache's ANN backend: memory (default,
	// on-disk snapshot) or qdrant.
	VectorStore      string `yaml:"vector_store"`
	QdrantAPIBase    string `yaml:"qdrant_api_base"`
	QdrantAPIKey     string `yaml:"qdrant_api_key"`
	QdrantCollection string `yaml:"qdrant_collection"`

	EnableReranking    bool    `yaml:"enable_reranking"`
	RerankingThreshold float64 `yaml:"reranking_threshold"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// TracingConfig contains OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`     // OTLP endpoint (e.g., "localhost:4317")
	ServiceName string  `yaml:"service_name"` // Service name for traces
	SampleRate  float64 `yaml:"sample_rate"`  // Sampling rate (0.0 to 1.0)
	Insecure    bool    `yaml:"insecure"`     // Use insecure connection (no TLS)
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Deployment: DeploymentConfig{
			Mode: "development",
		},
		Auth: AuthConfig{
			Enabled:          true,
			DefaultAdminName: "admin",
			SessionTTL:       time.Hour,
		},
		ProviderOps: ProviderOpsConfig{
			RoutingStrategy: "priority",
			StorageBackend:  "file",
			TokenStorageDir: "~/.gaud/tokens",
		},
		Routing: RoutingConfig{
			Strategy:        "simple-shuffle",
			FallbackEnabled: true,
			RetryCount:      3,
			CooldownPeriod:  60 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Enabled:           false,
			RequestsPerMinute: 60,
			BurstSize:         10,
		},
		Budget: BudgetConfig{
			Enabled:                 true,
			WarningThresholdPercent: 80,
		},
		Cache: CacheConfig{
			Enabled:             false,
			Mode:                "exact",
			SimilarityThreshold: 0.92,
			EmbeddingProvider:   "openai",
			EmbeddingDimension:  1536,
			MaxEntries:          10000,
			TTLSecs:             3600,
			VectorStore:         "memory",
			QdrantCollection:    "gaud_semantic_cache",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Endpoint:    "localhost:4317",
			ServiceName: "gaud",
			SampleRate:  1.0,
			Insecure:    true,
		},
	}
}

// LoadFromFile reads and parses a YAML configuration file.
// Environment variables in the format ${VAR_NAME} are expanded.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider must be configured")
	}

	for i, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider[%d]: name is required", i)
		}
		if p.Type == "" {
			return fmt.Errorf("provider[%d]: type is required", i)
		}
		if p.APIKey == "" {
			return fmt.Errorf("provider[%d] %q: api_key is required", i, p.Name)
		}
		if len(p.Models) == 0 {
			return fmt.Errorf("provider[%d] %q: at least one model must be configured", i, p.Name)
		}
		if p.Timeout < 0 {
			return fmt.Errorf("provider[%d] %q: timeout cannot be negative", i, p.Name)
		}
		if p.MaxConcurrent < 0 {
			return fmt.Errorf("provider[%d] %q: max_concurrent cannot be negative", i, p.Name)
		}
	}

	// Validate routing config
	if c.Routing.RetryCount < 0 {
		return fmt.Errorf("routing.retry_count cannot be negative")
	}
	if c.Routing.CooldownPeriod < 0 {
		return fmt.Errorf("routing.cooldown_period cannot be negative")
	}

	if c.Database.Enabled {
		if c.Database.User == "" {
			return fmt.Errorf("database.user is required when database.enabled")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			return fmt.Errorf("invalid database.port: %d", c.Database.Port)
		}
	}

	if c.Deployment.Mode == "distributed" {
		if !c.Database.Enabled {
			return fmt.Errorf("distributed mode requires database.enabled")
		}
		if !c.Routing.Distributed {
			return fmt.Errorf("distributed mode requires routing.distributed")
		}
		if c.Cache.Redis.Addr == "" {
			return fmt.Errorf("distributed mode requires cache.redis.addr")
		}
		if c.RateLimit.Enabled && !c.RateLimit.Distributed {
			return fmt.Errorf("distributed mode requires rate_limit.distributed when rate_limit.enabled")
		}
	}

	return nil
}

// Warning is a non-fatal configuration concern surfaced at startup.
type Warning struct {
	Code    string
	Message string
}

// WarningCacheWithoutAuth fires when the response cache is enabled but auth
// is disabled, since cache entries are not scoped per user in that case.
const WarningCacheWithoutAuth = "cache_without_auth"

// Warnings returns non-fatal configuration concerns worth logging at
// startup; unlike Validate, these never block the process from starting.
func (c *Config) Warnings() []Warning {
	var warnings []Warning

	if c.Cache.Enabled && !c.Auth.Enabled {
		warnings = append(warnings, Warning{
			Code:    WarningCacheWithoutAuth,
			Message: "cache is enabled but auth is disabled; cached responses are not scoped per user",
		})
	}

	return warnings
}
