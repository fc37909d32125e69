package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kasper/vidmeta/internal/api"
	"github.com/kasper/vidmeta/internal/config"
	"github.com/kasper/vidmeta/internal/dedup"
	"github.com/kasper/vidmeta/internal/domain"
	"github.com/kasper/vidmeta/internal/lock"
	"github.com/kasper/vidmeta/internal/logger"
	"github.com/kasper/vidmeta/internal/provider"
	"github.com/kasper/vidmeta/internal/provider/vimeo"
	"github.com/kasper/vidmeta/internal/provider/youtube"
	"github.com/kasper/vidmeta/internal/ratelimit"
	"github.com/kasper/vidmeta/internal/redisx"
	"github.com/kasper/vidmeta/internal/repository"
	"github.com/kasper/vidmeta/internal/service"
	"github.com/sony/gobreaker"
)

func main() {
	appLogger := logger.NewFromEnv(nil)
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// CONFIG_PATH overrides config discovery for production deployments
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}

	rdb, err := redisx.NewClient(&cfg.Redis)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer rdb.Close()

	submissionRepo := repository.NewSubmissionRepository(db)
	videoRepo := repository.NewVideoRepository(db)

	limiter := ratelimit.New(rdb, appLogger)
	locker := lock.New(rdb, cfg.Lock.Prefix, cfg.Lock.TTL, appLogger)
	cache := dedup.New(rdb, cfg.Dedup.TTL, appLogger)
	registry := buildRegistry(cfg)

	sink := service.NewErrorSink(64, appLogger)
	defer sink.Close()

	orchestrator := service.NewOrchestrator(
		submissionRepo, videoRepo, limiter, locker, cache, registry,
		sink, appLogger, &cfg.Import, cfg.RateLimit.PerUser,
	)
	dispatcher := service.NewDispatcher(orchestrator, cfg.Import.Workers, cfg.Import.MaxQueued, appLogger)

	importService := service.NewImportService(submissionRepo, limiter, dispatcher, appLogger, &cfg.RateLimit)
	videoService := service.NewVideoService(videoRepo)

	router := api.SetupRouter(importService, videoService, &cfg.Server)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		appLogger.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Server forced to shutdown")
	}
	// Let queued imports finish before dropping the process.
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Warn("Import runs still in flight at shutdown")
	}

	appLogger.Info("Server exited")
}

// buildRegistry constructs decorated provider clients: retry with backoff
// around a circuit breaker around the raw HTTP client.
func buildRegistry(cfg *config.Config) *provider.Registry {
	decorate := func(name string, c provider.Client) provider.Client {
		c = provider.WithBreaker(c, gobreaker.Settings{
			Name: name,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		})
		return provider.WithRetry(c, provider.RetryConfig{
			MaxAttempts: cfg.Import.MaxRetries + 1,
			Backoff:     cfg.Import.RetryBackoff,
			Exponential: cfg.Import.ExponentialBackoff,
		})
	}

	return provider.NewRegistry(map[domain.Provider]provider.Client{
		domain.ProviderYouTube: decorate("youtube", youtube.New(youtube.Config{
			BaseURL: cfg.Providers.YouTube.BaseURL,
			APIKey:  cfg.Providers.YouTube.APIKey,
			Timeout: cfg.Import.FetchTimeout,
		})),
		domain.ProviderVimeo: decorate("vimeo", vimeo.New(vimeo.Config{
			BaseURL:     cfg.Providers.Vimeo.BaseURL,
			AccessToken: cfg.Providers.Vimeo.AccessToken,
			Timeout:     cfg.Import.FetchTimeout,
		})),
	})
}
