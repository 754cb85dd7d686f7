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

	baseconf "spriteconsole/core/config"
	"spriteconsole/relay/internal/relay"
	"spriteconsole/relay/pkg/config"
)

func init() {
	// Configure zerolog for human-friendly console output
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func main() {
	configFile := baseconf.FindConfigFile("relay")
	envFile := baseconf.FindEnvironmentFile("relay")

	cfg, err := config.Load(configFile, envFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	cfg.Log.ConfigureZerolog()

	log.Info().Msg("Starting sprite console relay")
	log.Info().Str("config_file", configFile).Msg("Configuration loaded")
	log.Info().Str("env_file", envFile).Msg("Environment loaded")

	handler, err := relay.NewHandler(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create relay handler")
	}

	server := &http.Server{
		Addr:              cfg.GetListenAddress(),
		Handler:           relay.NewRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().
			Str("address", cfg.GetListenAddress()).
			Str("mode", string(cfg.Relay.Mode)).
			Str("upstream", cfg.Upstream.BaseURL).
			Msg("Starting relay server")
		log.Info().Msgf("Health check: http://%s/health", cfg.GetListenAddress())

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Shutting down relay")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Relay.ShutdownTimeout)
	defer cancel()

	// Hijacked WebSocket connections are not tracked by http.Server, so
	// sessions are drained by the handler itself.
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	if err := handler.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Relay sessions did not drain in time")
	}
	log.Info().Msg("Relay stopped")
}
