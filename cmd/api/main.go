package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpx "github.com/splax/pagesmith/internal/http"
	"github.com/splax/pagesmith/internal/repository"
	"github.com/splax/pagesmith/internal/repository/memory"
	"github.com/splax/pagesmith/internal/repository/redisstore"
	"github.com/splax/pagesmith/internal/service/catalog"
	"github.com/splax/pagesmith/internal/service/deploy"
	"github.com/splax/pagesmith/internal/service/notify"
	"github.com/splax/pagesmith/internal/service/publish"
	"github.com/splax/pagesmith/internal/service/webhook"
	"github.com/splax/pagesmith/internal/ws"
	"github.com/splax/pagesmith/pkg/config"
	"github.com/splax/pagesmith/pkg/logger"
)

func main() {
	cfg := config.LoadServiceConfig()
	log := logger.New("api", logger.ParseLevel(cfg.LogLevel))

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		store       repository.DeploymentStore
		storeHealth func(context.Context) error
	)
	switch cfg.StatusStore {
	case config.StoreRedis:
		redisStore, err := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, log)
		if err != nil {
			log.Error("failed to connect to redis", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		defer redisStore.Close()
		store = redisStore
		storeHealth = redisStore.Ping
	default:
		store = memory.New()
	}

	verifyCtx, cancel := context.WithTimeout(ctx, cfg.GitHubTimeout)
	publisher, err := publish.NewGitHub(verifyCtx, publish.Options{
		Token:    cfg.GitHubToken,
		BaseURL:  cfg.GitHubAPIURL,
		Timeout:  cfg.GitHubTimeout,
		Logger:   log,
		Generate: catalog.Generate,
	})
	cancel()
	if err != nil {
		log.Error("github credentials rejected", "error", err)
		os.Exit(1)
	}
	log.Info("github account resolved", "account", publisher.Account())

	notifier := notify.New(notify.Options{
		MaxAttempts: cfg.NotifyMaxAttempts,
		Timeout:     cfg.NotifyTimeout,
		Logger:      log,
	})

	var (
		statusHub *ws.Hub
		events    deploy.Broadcaster
	)
	if cfg.StatusStream {
		statusHub = ws.NewHub()
		defer statusHub.Close()
		events = statusHub
	}

	deploySvc := deploy.New(catalog.Generate, publisher, notifier, store, events, log)
	webhookSvc := webhook.New(cfg.SharedSecret, log)

	limiter := httpx.NewMemoryRateLimiter()
	if cfg.StatusStore == config.StoreRedis {
		redisLimiter, err := httpx.NewRedisRateLimiter(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter.Close()
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, deploySvc, webhookSvc, statusHub, limiter, httpx.Options{
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		GitHubConfigured:   publisher.Configured(),
		GitHubAccount:      publisher.Account(),
		StoreHealth:        storeHealth,
	})
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr, "store", cfg.StatusStore)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
