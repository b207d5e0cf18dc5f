package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/akagifreeez/coin-market-api/internal/config"
	"github.com/akagifreeez/coin-market-api/internal/services"
	"github.com/akagifreeez/coin-market-api/internal/store"
	"github.com/akagifreeez/coin-market-api/internal/workers"
	"github.com/akagifreeez/coin-market-api/pkg/cache"
	"github.com/akagifreeez/coin-market-api/pkg/database"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	cfg.SetupLogger()

	log.Info().Str("environment", cfg.Environment).Msg("Starting Coin Market Workers")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to database
	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	// Connect to Redis
	c, err := cache.Connect(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to redis")
	}
	defer c.Close()

	// Create services
	keyStore := store.NewAPIKeyStore(db.Pool)
	limiter := services.NewRateLimiter(c, cfg.UsageTTL)
	jobs := services.NewJobLock()
	reconciler := services.NewReconciler(c, keyStore, limiter, jobs)
	dailyReset := services.NewDailyReset(c, keyStore, limiter, jobs)

	// Create workers
	reconcileWorker := workers.NewReconcile(reconciler, cfg.ReconcileInterval)
	resetWorker, err := workers.NewDailyReset(dailyReset, cfg.DailyResetSchedule)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule daily reset")
	}

	// Start workers in goroutines
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		reconcileWorker.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		resetWorker.Start(ctx)
	}()

	log.Info().Msg("All workers started")

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("Shutdown signal received, stopping workers...")
	cancel()
	wg.Wait()

	// One last pass so usage counted since the previous tick reaches the store.
	reconcileWorker.RunOnce(context.Background())

	log.Info().Msg("Workers stopped")
}
