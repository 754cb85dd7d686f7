package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"spriteconsole/console/internal/console"
	"spriteconsole/console/internal/database"
	"spriteconsole/console/pkg/config"
	baseconf "spriteconsole/core/config"
)

func init() {
	// Configure zerolog for human-friendly console output
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func main() {
	configFile := baseconf.FindConfigFile("console")
	envFile := baseconf.FindEnvironmentFile("console")

	cfg, err := config.Load(configFile, envFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	cfg.Log.ConfigureZerolog()

	log.Info().Msg("Starting sprite console")
	log.Info().Str("config_file", configFile).Msg("Configuration loaded")
	log.Info().Str("env_file", envFile).Msg("Environment loaded")

	db, err := database.New(cfg.Database.DSN, database.WithDebug(cfg.Database.Debug))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close database connection")
		}
	}()

	handler, err := console.NewHandler(cfg, db)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create console handler")
	}

	corsHandler := console.AddCORS(cfg.Console.AllowedOrigins, console.NewRouter(handler))

	// Create server with HTTP/2 support
	server := &http.Server{
		Addr:           cfg.GetListenAddress(),
		Handler:        h2c.NewHandler(corsHandler, &http2.Server{}),
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   10 * time.Minute, // checkpoint and init calls stream for minutes
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1 MB
	}

	go func() {
		log.Info().
			Str("address", cfg.GetListenAddress()).
			Str("sprites_api", cfg.Sprites.APIBase).
			Bool("tickets", cfg.TicketsEnabled()).
			Str("relay_url", cfg.Relay.PublicURL).
			Msg("Starting console server")
		log.Info().Msgf("Health check: http://%s/health", cfg.GetListenAddress())

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Shutting down console")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Console.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	log.Info().Msg("Console stopped")
}
