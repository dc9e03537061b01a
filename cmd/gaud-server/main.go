// Package main is the entry point for the Gaud proxy server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gaud-proxy/gaud/internal/api"
	"github.com/gaud-proxy/gaud/internal/auth"
	"github.com/gaud-proxy/gaud/internal/budget"
	"github.com/gaud-proxy/gaud/internal/cache"
	"github.com/gaud-proxy/gaud/internal/config"
	"github.com/gaud-proxy/gaud/internal/metrics"
	"github.com/gaud-proxy/gaud/internal/oauth"
	"github.com/gaud-proxy/gaud/internal/observability"
	"github.com/gaud-proxy/gaud/internal/pricing"
	"github.com/gaud-proxy/gaud/internal/provider"
	"github.com/gaud-proxy/gaud/internal/provider/claude"
	"github.com/gaud-proxy/gaud/internal/provider/copilot"
	"github.com/gaud-proxy/gaud/internal/provider/gemini"
	"github.com/gaud-proxy/gaud/internal/provider/kiro"
	"github.com/gaud-proxy/gaud/internal/provider/litellm"
	"github.com/gaud-proxy/gaud/internal/resilience"
	"github.com/gaud-proxy/gaud/internal/router"
	"github.com/gaud-proxy/gaud/internal/secret"
	"github.com/gaud-proxy/gaud/internal/secret/env"
	"github.com/gaud-proxy/gaud/internal/secret/vault"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to configuration file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)
	logger.Info("starting gaud proxy", "version", "0.1.0")

	cfgManager, err := config.NewManager(*configPath, logger)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	cfg := cfgManager.Get()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := cfgManager.Watch(ctx); err != nil {
		logger.Warn("config hot-reload disabled", "error", err)
	}

	tracerProvider, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRate:  cfg.Tracing.SampleRate,
		Insecure:    cfg.Tracing.Insecure,
	})
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
	} else {
		defer tracerProvider.Shutdown(context.Background())
	}

	secrets := secret.NewManager()
	secrets.Register("env", env.New())
	if addr := os.Getenv("VAULT_ADDR"); addr != "" {
		vp, err := vault.New(vault.Config{
			Address:    addr,
			AuthMethod: os.Getenv("VAULT_AUTH_METHOD"),
			RoleID:     os.Getenv("VAULT_ROLE_ID"),
			SecretID:   os.Getenv("VAULT_SECRET_ID"),
		})
		if err != nil {
			logger.Warn("vault secret provider unavailable, falling back to env/static secrets", "error", err)
		} else {
			secrets.Register("vault", secret.NewCachedProvider(vp, 5*time.Minute))
		}
	}
	defer secrets.Close()

	registry := provider.NewRegistry()
	registry.RegisterFactory("claude", claude.New)
	registry.RegisterFactory("gemini", gemini.New)
	registry.RegisterFactory("copilot", copilot.New)
	registry.RegisterFactory("kiro", kiro.New)
	registry.RegisterFactory("litellm", litellm.New)

	tokenStore := newTokenStore(ctx, cfg.ProviderOps, secrets, logger)
	oauthMgr := oauth.NewManager(tokenStore)
	tokens := newHybridTokenSource(oauthMgr)

	for _, provCfg := range cfg.Providers {
		apiKey, err := secrets.Get(ctx, provCfg.APIKey)
		if err != nil {
			logger.Error("failed to resolve provider secret", "name", provCfg.Name, "error", err)
			continue
		}

		pCfg := provider.Config{
			Name:          provCfg.Name,
			Type:          provCfg.Type,
			APIKey:        apiKey,
			BaseURL:       provCfg.BaseURL,
			Models:        provCfg.Models,
			MaxConcurrent: provCfg.MaxConcurrent,
			TimeoutSec:    int(provCfg.Timeout.Seconds()),
			Headers:       provCfg.Headers,
		}

		prov, err := registry.CreateProvider(pCfg)
		if err != nil {
			logger.Error("failed to create provider", "name", provCfg.Name, "error", err)
			continue
		}
		logger.Info("provider registered", "name", prov.Name(), "type", provCfg.Type, "models", provCfg.Models)

		clientSecret, err := secrets.Get(ctx, provCfg.ClientSecret)
		if err != nil {
			logger.Error("failed to resolve provider client secret", "name", provCfg.Name, "error", err)
			clientSecret = ""
		}
		registerOAuthFlow(oauthMgr, provCfg, clientSecret, logger)
		if provCfg.Type == "litellm" {
			tokens.setStatic(provCfg.Name, apiKey)
		}
	}

	breakers := resilience.NewManager(resilience.DefaultManagerConfig())
	rtr := router.New(registry, breakers, router.Strategy(cfg.ProviderOps.RoutingStrategy))

	responseCache, err := cache.NewResponseCache(ctx, cfg.Cache)
	if err != nil {
		logger.Error("failed to initialize response cache", "error", err)
		os.Exit(1)
	}
	if responseCache != nil {
		defer responseCache.Close()
	}

	budgetStore := newBudgetStore(ctx, cfg.Database, secrets, logger)
	tracker := budget.NewTracker(budgetStore, cfg.Budget.WarningThresholdPercent)

	var usageSink budget.UsageSink = budgetStore
	if cfg.Budget.AuditS3.Enabled {
		accessKey, _ := secrets.Get(ctx, cfg.Budget.AuditS3.AccessKeyID)
		secretKey, _ := secrets.Get(ctx, cfg.Budget.AuditS3.SecretKey)
		s3Sink, err := observability.NewS3Sink(ctx, observability.S3SinkConfig{
			BucketName:  cfg.Budget.AuditS3.BucketName,
			Region:      cfg.Budget.AuditS3.Region,
			AccessKeyID: accessKey,
			SecretKey:   secretKey,
			Endpoint:    cfg.Budget.AuditS3.Endpoint,
			PathPrefix:  cfg.Budget.AuditS3.PathPrefix,
		})
		if err != nil {
			logger.Warn("s3 usage archival disabled", "error", err)
		} else {
			usageSink = budget.NewMultiSink(logger, budgetStore, s3Sink)
		}
	}
	audit := budget.NewAuditLogger(usageSink, logger)

	calculator := pricing.NewCalculator(nil, logger)
	if cfg.PricingFile != "" {
		if err := calculator.Registry().Load(cfg.PricingFile); err != nil {
			logger.Warn("failed to load pricing file, using built-in defaults", "path", cfg.PricingFile, "error", err)
		}
	}

	keyStore := auth.NewMemoryKeyStore()
	bootstrapAdminKey(ctx, keyStore, cfg.Auth, logger)

	var sessions *auth.SessionIssuer
	if secretVal, err := secrets.Get(ctx, cfg.Auth.SessionSecret); err != nil {
		logger.Warn("failed to resolve session secret, admin session tokens disabled", "error", err)
	} else if secretVal != "" {
		sessions = auth.NewSessionIssuer(secretVal, cfg.Auth.SessionTTL)
	}

	var rateLimiter *auth.TenantRateLimiter
	if cfg.RateLimit.Enabled {
		rateLimiter = auth.NewTenantRateLimiter(auth.TenantRateLimiterConfig{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			BurstSize:         cfg.RateLimit.BurstSize,
		})
		defer rateLimiter.Close()
	}

	authMW := auth.NewMiddleware(&auth.MiddlewareConfig{
		Store:        keyStore,
		Logger:       logger,
		SkipPaths:    []string{"/health", "/metrics", "/oauth/callback"},
		Enabled:      cfg.Auth.Enabled,
		CertCNHeader: cfg.Auth.TLSClientCert.Enabled,
		Sessions:     sessions,
		RateLimiter:  rateLimiter,
	})

	handler := api.NewHandler(api.Config{
		Registry: registry,
		Router:   rtr,
		Tokens:   tokens,
		Breakers: breakers,
		Cache:    responseCache,
		Tracker:  tracker,
		Store:    budgetStore,
		Audit:    audit,
		Pricing:  calculator,
		Keys:     keyStore,
		Users:    api.NewUserStore(),
		Settings: api.NewSettingsStore(),
		OAuthMgr: oauthMgr,
		Sessions: sessions,
		Logger:   logger,
	})

	mux := http.NewServeMux()
	api.RegisterRoutes(mux, handler, authMW)
	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, promhttp.Handler())
	}

	var httpHandler http.Handler = mux
	httpHandler = metrics.Middleware(httpHandler)
	httpHandler = observability.RequestIDMiddleware(httpHandler)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      httpHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	cfgManager.Close()
	logger.Info("server stopped")
}
