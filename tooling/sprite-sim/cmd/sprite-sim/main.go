package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"spriteconsole/tooling/sprite-sim/internal/sim"
)

var (
	listen      string
	tokens      []string
	shell       string
	execTimeout time.Duration
	seed        []string
	debug       bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "sprite-sim",
	Short: "Local stand-in for the Sprites API",
	Long: `Sprite Sim - an in-memory Sprites API for local development

Serves the REST endpoints the console server calls and a PTY-backed exec
WebSocket the relay connects to. Commands run on this machine, so bind it to
localhost only.`,
	Example: `  # Accept one token and pre-create two sprites:
  sprite-sim --token dev-token --seed alpha --seed beta

  # Point the stack at it:
  SPRITES_API_BASE=http://localhost:8090/v1 SPRITES_WS_BASE=ws://localhost:8090/v1`,
	RunE:          run,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.Flags().StringVar(&listen, "listen", "127.0.0.1:8090", "Address to listen on")
	rootCmd.Flags().StringSliceVar(&tokens, "token", nil, "Accepted bearer token (repeatable, default accepts any)")
	rootCmd.Flags().StringVar(&shell, "shell", "/bin/sh", "Command for exec sessions that name none")
	rootCmd.Flags().DurationVar(&execTimeout, "exec-timeout", 30*time.Second, "Timeout for non-interactive exec")
	rootCmd.Flags().StringSliceVar(&seed, "seed", nil, "Sprite to create at startup (repeatable)")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")
}

func run(cmd *cobra.Command, args []string) error {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	api := sim.NewServer(sim.Config{
		Tokens:      tokens,
		Shell:       shell,
		ExecTimeout: execTimeout,
		StepDelay:   100 * time.Millisecond,
	})
	defer api.Close()

	for _, name := range seed {
		if _, err := api.Store().Create(name, ""); err != nil {
			return fmt.Errorf("failed to seed sprite %s: %w", name, err)
		}
	}

	server := &http.Server{
		Addr:              listen,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("address", listen).Int("tokens", len(tokens)).Int("seeded", len(seed)).Msg("Starting sprite simulator")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Shutting down sprite simulator")
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}
