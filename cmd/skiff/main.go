package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/nautlabs/skiff/internal/config"
	"github.com/nautlabs/skiff/internal/convo"
	"github.com/nautlabs/skiff/internal/dispatch"
	"github.com/nautlabs/skiff/internal/metrics"
	"github.com/nautlabs/skiff/internal/runner"
	"github.com/nautlabs/skiff/internal/server"
	redisstore "github.com/nautlabs/skiff/internal/store/redis"
	"github.com/nautlabs/skiff/internal/store/sqlite"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "skiff",
		Short:         "Session daemon for external agent workers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(serveCmd(), healthcheckCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		log.Fatal().Err(err).Msg("command failed")
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP daemon",
		RunE: func(_ *cobra.Command, _ []string) error {
			return serve()
		},
	}
}

func healthcheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "healthcheck",
		Short: "Probe a running daemon's health endpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr := os.Getenv("SKIFF_SERVER_ADDR")
			if addr == "" {
				addr = ":8090"
			}
			url := "http://localhost" + addr + "/healthz"
			if addr[0] != ':' {
				url = "http://" + addr + "/healthz"
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("health check returned %d", resp.StatusCode)
			}
			fmt.Println("ok")
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Println(version)
		},
	}
}

func serve() error {
	// Initialize structured logging from environment.
	logLevel := os.Getenv("SKIFF_LOG_LEVEL")
	level, parseErr := zerolog.ParseLevel(logLevel)
	if parseErr != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	logFormat := os.Getenv("SKIFF_LOG_FORMAT")
	if logFormat == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	ctx := context.Background()

	// Load configuration from environment.
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Open the session database.
	store, err := sqlite.New(ctx, cfg.Store.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	// Metrics: OTLP when an endpoint is configured, no-op otherwise.
	var recorder metrics.Recorder
	if cfg.Otel.Endpoint != "" {
		exporter, expErr := metrics.NewExporter(ctx, metrics.Config{
			Endpoint: cfg.Otel.Endpoint,
			Insecure: cfg.Otel.Insecure,
		})
		if expErr != nil {
			return expErr
		}
		recorder = exporter
		log.Info().Str("endpoint", cfg.Otel.Endpoint).Msg("OTLP metrics enabled")
	} else {
		recorder = metrics.NewNoOp()
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		if closeErr := recorder.Close(closeCtx); closeErr != nil {
			log.Error().Err(closeErr).Msg("metrics shutdown")
		}
	}()

	// Conversation log access and synchronizer.
	logs := convo.NewLogStore(cfg.Worker.LogDBPath)
	defer logs.Close()
	synchronizer := convo.NewSynchronizer(logs)

	// Event dispatcher over the session store.
	dispatcher := dispatch.New(store.Sessions(), store.Messages(), recorder)

	// Worker runner.
	run := runner.New(runner.Config{
		Bin:          cfg.Worker.Bin,
		Agent:        cfg.Worker.Agent,
		PollInterval: cfg.Worker.PollInterval,
		PathPrefixes: cfg.Worker.PathPrefixes,
		TrustedTools: cfg.Worker.TrustedTools,
	}, synchronizer, store.Sessions(), dispatcher, recorder)

	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Optional Redis event relay.
	if cfg.Redis.Addr != "" {
		relay, relayErr := redisstore.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if relayErr != nil {
			return relayErr
		}
		defer relay.Close()
		go relay.Run(ctx, dispatcher.Subscribe())
		log.Info().Str("addr", cfg.Redis.Addr).Msg("Redis event relay enabled")
	}

	// Create HTTP server with all routes wired.
	srv := server.New(ctx, cfg, store, dispatcher, run, synchronizer)

	// Start server in background goroutine.
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("starting server")
		if startErr := srv.Start(ctx); startErr != nil {
			log.Error().Err(startErr).Msg("server error")
		}
	}()

	// Block until shutdown signal.
	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		return shutdownErr
	}

	log.Info().Msg("stopped")
	return nil
}
