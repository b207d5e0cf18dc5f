package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/akagifreeez/coin-market-api/internal/config"
	"github.com/akagifreeez/coin-market-api/internal/handlers"
	"github.com/akagifreeez/coin-market-api/internal/services"
	"github.com/akagifreeez/coin-market-api/internal/store"
	"github.com/akagifreeez/coin-market-api/pkg/cache"
	"github.com/akagifreeez/coin-market-api/pkg/crypto"
	"github.com/akagifreeez/coin-market-api/pkg/database"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	cfg.SetupLogger()

	log.Info().Str("environment", cfg.Environment).Msg("Starting Coin Market API")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to database
	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	// Run migrations
	log.Info().Msg("Running database migrations...")
	if err := db.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}
	log.Info().Msg("Migrations completed successfully")

	// Connect to Redis
	c, err := cache.Connect(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to redis")
	}
	defer c.Close()

	sealer, err := crypto.NewSealer(cfg.EncryptionKey)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid encryption key")
	}

	if cfg.JWTSecret == "" {
		log.Warn().Msg("JWT_SECRET is empty, key issuance is effectively unprotected")
	}

	// Initialize services
	keyStore := store.NewAPIKeyStore(db.Pool)
	authenticator := services.NewAuthenticator(c, keyStore, cfg.SnapshotTTL)
	limiter := services.NewRateLimiter(c, cfg.UsageTTL)
	keyService := services.NewKeyService(keyStore, sealer, cfg.DefaultDailyLimit)
	marketService := services.NewMarketService(db.Pool, c, cfg.DataCacheTTL)

	// Setup router
	r := handlers.NewRouter(handlers.RouterDeps{
		Gatekeeper:  handlers.NewGatekeeper(authenticator, limiter),
		Market:      handlers.NewMarketHandler(marketService),
		Keys:        handlers.NewKeyHandler(keyService, cfg.IssueRatePerMin),
		AdminSecret: []byte(cfg.JWTSecret),
	})

	// Start server
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("Shutting down server...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
		cancel()
	}()

	log.Info().Str("port", cfg.Port).Msg("Server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("Server error")
	}

	log.Info().Msg("Server stopped")
}
