// Package main is the entry point for the llmux gateway server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/blueberrycongee/llmux/internal/api"
	"github.com/blueberrycongee/llmux/internal/auth"
	"github.com/blueberrycongee/llmux/internal/breaker"
	"github.com/blueberrycongee/llmux/internal/catalog"
	"github.com/blueberrycongee/llmux/internal/config"
	"github.com/blueberrycongee/llmux/internal/distributed"
	"github.com/blueberrycongee/llmux/internal/metrics"
	"github.com/blueberrycongee/llmux/internal/provider"
	"github.com/blueberrycongee/llmux/internal/provider/anthropic"
	"github.com/blueberrycongee/llmux/internal/provider/google"
	"github.com/blueberrycongee/llmux/internal/provider/openai"
	"github.com/blueberrycongee/llmux/internal/queue"
	"github.com/blueberrycongee/llmux/internal/ratelimit"
	"github.com/blueberrycongee/llmux/internal/router"
)

const version = "0.1.0"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	registry := provider.NewRegistry()
	registry.RegisterFactory("openai", openai.New)
	registry.RegisterFactory("anthropic", anthropic.New)
	registry.RegisterFactory("google", google.New)

	for _, vendor := range []string{"openai", "anthropic", "google"} {
		if !cfg.HasVendor(vendor) {
			continue
		}
		if _, err := registry.CreateProvider(providerConfigFor(cfg, vendor)); err != nil {
			logger.Error("failed to create provider", "vendor", vendor, "error", err)
			os.Exit(1)
		}
		logger.Info("provider registered", "vendor", vendor)
	}

	br := breaker.New(cfg.CBFailureThreshold, time.Duration(cfg.CBCooldownMS)*time.Millisecond)
	tr := ratelimit.New(cfg.RateLimitLowRequestsThreshold)
	cat := loadCatalog(logger)
	rt := router.New(cat, br, tr, registry, cfg.ProviderPriority, logger)

	q := queue.New(cfg.QueueMaxSize, time.Duration(cfg.QueueTimeoutMS)*time.Millisecond, time.Duration(cfg.QueueAsyncThresholdMS)*time.Millisecond, logger)

	handler := api.NewHandler(rt, q, logger, version)
	q.SetDrainFunc(handler.Drain)

	var store *distributed.Store
	if cfg.RedisURL != "" {
		store, err = distributed.New(cfg.RedisURL, "llmux", logger)
		if err != nil {
			logger.Warn("distributed state disabled, continuing with in-memory breaker/tracker only", "error", err)
		} else {
			restoreDistributedState(store, br, tr, logger)
			rt.SetDistributedStore(store, time.Duration(cfg.CBCooldownMS)*time.Millisecond)
			defer store.Close()
		}
	}

	// Operational endpoints carry no API key: they back external status
	// pages and scrapers that never hold a router token.
	publicMux := http.NewServeMux()
	publicMux.HandleFunc("GET /health", handler.Health)
	publicMux.HandleFunc("GET /v1/providers/status", handler.ProvidersStatus)
	publicMux.Handle("GET /metrics", promhttp.Handler())

	protectedMux := http.NewServeMux()
	protectedMux.HandleFunc("POST /v1/chat/completions", handler.ChatCompletions)
	protectedMux.HandleFunc("POST /v1/messages", handler.Messages)
	protectedMux.HandleFunc("POST /v1/images/generations", handler.ImageGenerations)
	protectedMux.HandleFunc("POST /v1/embeddings", handler.Embeddings)
	protectedMux.HandleFunc("GET /v1/queue/{jobId}", func(w http.ResponseWriter, r *http.Request) {
		handler.QueuePoll(w, r, r.PathValue("jobId"))
	})

	authedProtectedMux := auth.Middleware(cfg.RouterAPIKey)(protectedMux)

	mux := http.NewServeMux()
	mux.Handle("/", publicMux)
	mux.Handle("/v1/chat/completions", authedProtectedMux)
	mux.Handle("/v1/messages", authedProtectedMux)
	mux.Handle("/v1/images/generations", authedProtectedMux)
	mux.Handle("/v1/embeddings", authedProtectedMux)
	mux.Handle("/v1/queue/", authedProtectedMux)

	httpHandler := metrics.Middleware(mux)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      httpHandler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  90 * time.Second,
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

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	logger.Info("server stopped")
}

// loadCatalog builds the model-equivalence table from the compiled-in
// defaults, or from a CATALOG_OVERLAY_PATH file when the operator wants to
// remap vendor equivalence classes without a rebuild. The overlay is read
// once at startup; the Router keeps the *catalog.Catalog it is constructed
// with and has no way to swap in a new one while running.
func loadCatalog(logger *slog.Logger) *catalog.Catalog {
	path := os.Getenv("CATALOG_OVERLAY_PATH")
	if path == "" {
		return catalog.Default()
	}
	cat, err := catalog.LoadOverlay(path)
	if err != nil {
		logger.Warn("failed to load catalog overlay, using compiled-in defaults", "path", path, "error", err)
		return catalog.Default()
	}
	logger.Info("loaded catalog overlay", "path", path)
	return cat
}

func providerConfigFor(cfg *config.Config, vendor string) provider.ProviderConfig {
	switch vendor {
	case "openai":
		return provider.ProviderConfig{Name: "openai", APIKey: cfg.OpenAIAPIKey}
	case "anthropic":
		return provider.ProviderConfig{Name: "anthropic", APIKey: cfg.AnthropicAPIKey}
	case "google":
		return provider.ProviderConfig{Name: "google", APIKey: cfg.GoogleAPIKey}
	default:
		return provider.ProviderConfig{Name: vendor}
	}
}

func restoreDistributedState(store *distributed.Store, br *breaker.Breaker, tr *ratelimit.Tracker, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, snap := range store.LoadBreakerSnapshots(ctx) {
		br.Restore(snap.Vendor, snap.State, snap.FailureCount, snap.OpenedAt)
	}
	for _, snap := range store.LoadTrackerSnapshots(ctx) {
		tr.Restore(snap)
	}
	logger.Info("restored distributed breaker/tracker state")
}
