package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/roburio/builder-web/internal/api"
	"github.com/roburio/builder-web/internal/config"
	"github.com/roburio/builder-web/internal/db"
	"github.com/roburio/builder-web/internal/store"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid log level")
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	log.Info().
		Str("database", cfg.DatabasePath).
		Str("store", cfg.StorePath).
		Str("host", cfg.ServerHost).
		Int("port", cfg.ServerPort).
		Msg("starting builder-web")

	// Initialize database
	database, err := db.NewDB(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer database.Close()
	log.Info().Msg("database initialized")

	// Initialize artifact store; this sweeps staging files left behind by
	// writers that crashed before committing.
	blobStore, err := store.New(cfg.StorePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize artifact store")
	}
	log.Info().Msg("artifact store initialized")

	server := api.NewServer(database, blobStore, cfg)

	// Handle graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		log.Info().Msg("received shutdown signal, shutting down gracefully")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("shutdown failed")
		}
	}()

	// Start server (blocking)
	if err := server.Start(); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
	log.Info().Msg("server stopped")
}
