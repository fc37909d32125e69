// Command import runs one import submission synchronously from the shell,
// bypassing the HTTP API. Useful for operators backfilling the catalog.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
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
	appLogger := logger.New(&logger.Config{
		Level:       "info",
		Format:      "json",
		ServiceName: "vidmeta-import",
	})
	logger.SetDefaultLogger(appLogger)

	providerName := flag.String("provider", "YOUTUBE", "Provider to import from (YOUTUBE, VIMEO)")
	idList := flag.String("ids", "", "Comma-separated external video ids")
	playlistID := flag.String("playlist", "", "External playlist id to expand")
	requester := flag.String("requester", "operator", "Requester recorded on the submission")
	force := flag.Bool("force", false, "Re-import even when the video already exists")
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	var ids []string
	for _, id := range strings.Split(*idList, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 && *playlistID == "" {
		appLogger.Fatal("Either -ids or -playlist is required")
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

	registry := provider.NewRegistry(map[domain.Provider]provider.Client{
		domain.ProviderYouTube: decorate(cfg, "youtube", youtube.New(youtube.Config{
			BaseURL: cfg.Providers.YouTube.BaseURL,
			APIKey:  cfg.Providers.YouTube.APIKey,
			Timeout: cfg.Import.FetchTimeout,
		})),
		domain.ProviderVimeo: decorate(cfg, "vimeo", vimeo.New(vimeo.Config{
			BaseURL:     cfg.Providers.Vimeo.BaseURL,
			AccessToken: cfg.Providers.Vimeo.AccessToken,
			Timeout:     cfg.Import.FetchTimeout,
		})),
	})

	sink := service.NewErrorSink(64, appLogger)
	defer sink.Close()

	orchestrator := service.NewOrchestrator(
		submissionRepo,
		videoRepo,
		ratelimit.New(rdb, appLogger),
		lock.New(rdb, cfg.Lock.Prefix, cfg.Lock.TTL, appLogger),
		dedup.New(rdb, cfg.Dedup.TTL, appLogger),
		registry,
		sink,
		appLogger,
		&cfg.Import,
		cfg.RateLimit.PerUser,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		appLogger.Info("Received shutdown signal, canceling...")
		cancel()
	}()

	sub := &domain.ImportSubmission{
		ID:                 uuid.New().String(),
		SubmissionID:       uuid.New().String(),
		Requester:          *requester,
		Provider:           domain.Provider(strings.ToUpper(*providerName)),
		ExternalIDs:        ids,
		ExternalPlaylistID: *playlistID,
		Forced:             *force,
		Status:             domain.SubmissionQueued,
		TotalRequested:     len(ids),
	}
	if !sub.Provider.Valid() {
		appLogger.WithField("provider", *providerName).Fatal("Unknown provider")
	}
	if err := submissionRepo.Create(ctx, sub); err != nil {
		appLogger.WithError(err).Fatal("Failed to record submission")
	}

	appLogger.WithFields(logger.Fields{
		logger.FieldSubmissionID: sub.SubmissionID,
		logger.FieldProvider:     string(sub.Provider),
		logger.FieldCount:        len(ids),
	}).Info("Starting import")

	orchestrator.Run(ctx, sub.SubmissionID)

	final, err := submissionRepo.GetBySubmissionID(context.Background(), sub.SubmissionID)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load final submission state")
	}
	appLogger.WithFields(logger.Fields{
		logger.FieldStatus: string(final.Status),
		"succeeded":        final.SucceededCount,
		"skipped":          final.SkippedDuplicates,
		"failed":           final.FailedCount,
	}).Info("Import finished")

	if final.Status == domain.SubmissionFailed {
		os.Exit(1)
	}
}

func decorate(cfg *config.Config, name string, c provider.Client) provider.Client {
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
