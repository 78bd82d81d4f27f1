package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/reviewpilot/internal/api"
	"github.com/reviewpilot/internal/dispatch"
	"github.com/reviewpilot/internal/review"
	"github.com/reviewpilot/internal/scan"
	"github.com/reviewpilot/internal/store"
)

// ServeCommand returns the serve command: the API server plus the review
// workers in one process.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Run the review API server and workers",
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	llmClient, err := buildLLMClient(ctx, cfg)
	if err != nil {
		return err
	}
	registry, err := buildRegistry(cfg)
	if err != nil {
		return err
	}
	scanner, err := scan.NewSecretScanner()
	if err != nil {
		return fmt.Errorf("failed to create secret scanner: %w", err)
	}

	// Postgres enables durable stores and the River queue; without it
	// everything runs in process.
	var (
		status      store.StatusStore
		archive     store.ReviewArchive
		pool        *pgxpool.Pool
		idempotency = store.NewMemoryIdempotencyStore(cfg.IdempotencyTTL())
	)
	if cfg.Dispatch.PostgresURL != "" {
		pool, err = pgxpool.New(ctx, cfg.Dispatch.PostgresURL)
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		defer pool.Close()

		status, err = store.NewPostgresStatusStore(ctx, pool, cfg.StatusTTL())
		if err != nil {
			return err
		}
		pgArchive, err := store.OpenPostgresReviewArchive(ctx, cfg.Dispatch.PostgresURL)
		if err != nil {
			return err
		}
		defer pgArchive.Close()
		archive = pgArchive
	} else {
		status = store.NewMemoryStatusStore(cfg.StatusTTL())
		archive = store.NewMemoryReviewArchive()
	}

	service := review.NewService(llmClient, review.AccumulatorOptions{
		ConfidenceThreshold: cfg.Review.ConfidenceThreshold,
		MaxIssuesPerFile:    cfg.Review.MaxIssuesPerFile,
	})

	pipeline := &dispatch.Pipeline{
		Providers:   registry,
		Reviewer:    service,
		Scanner:     scanner,
		Status:      status,
		Archive:     archive,
		JobTimeout:  cfg.JobTimeout(),
		AutoPublish: cfg.Review.PublishOnComplete,
	}

	var producer dispatch.Producer
	var stopWorkers func()
	if pool != nil {
		riverBus, err := dispatch.NewRiverBus(pool, pipeline, dispatch.RiverBusConfig{
			MaxWorkers: cfg.Dispatch.MaxWorkers,
		})
		if err != nil {
			return err
		}
		if err := riverBus.Start(ctx); err != nil {
			return fmt.Errorf("failed to start queue workers: %w", err)
		}
		producer = riverBus
		stopWorkers = func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := riverBus.Stop(stopCtx); err != nil {
				log.Error().Err(err).Msg("queue workers did not stop cleanly")
			}
		}
	} else {
		bus := dispatch.NewMemoryBus()
		runner := dispatch.NewRunner(bus, pipeline)
		runner.Start(ctx)
		producer = bus
		stopWorkers = runner.Stop
	}

	server := api.NewServer(api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		APIKeys:         cfg.Auth.APIKeys,
		WebhooksEnabled: cfg.Auth.WebhooksEnabled,
		JobTimeout:      cfg.JobTimeout(),
	}, api.Dependencies{
		Producer:    producer,
		Status:      status,
		Idempotency: idempotency,
		Archive:     archive,
		Providers:   registry,
		Reviews:     service,
		Scanner:     scanner,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()
	log.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Bool("durable", pool != nil).
		Msg("reviewpilot serving")

	select {
	case err := <-errCh:
		stopWorkers()
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
	stopWorkers()
	return nil
}
