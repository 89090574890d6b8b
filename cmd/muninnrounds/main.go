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
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/friendsincode/muninn_rounds/internal/config"
	"github.com/friendsincode/muninn_rounds/internal/db"
	"github.com/friendsincode/muninn_rounds/internal/journal"
	"github.com/friendsincode/muninn_rounds/internal/logging"
	"github.com/friendsincode/muninn_rounds/internal/server"
	"github.com/friendsincode/muninn_rounds/internal/telemetry"
	"github.com/friendsincode/muninn_rounds/internal/version"
)

var (
	logger     zerolog.Logger
	cfg        *config.Config
	journalBuf *journal.Buffer
)

var rootCmd = &cobra.Command{
	Use:   "muninnrounds",
	Short: "Muninn Rounds - deterministic task assignment for retail locations",
	Long:  "Muninn Rounds assigns check-in tasks to restaurant locations per daily window, deterministically for each location and date.",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Muninn Rounds server",
	Long:  "Start the HTTP API server and the per-brand window schedulers",
	RunE:  runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the muninnrounds version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Version)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration (called by commands that need it)
func loadConfig() error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	journalBuf = journal.New(10000)
	logger = logging.SetupWithWriter(cfg.Environment, journal.NewWriter(journalBuf, nil))
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	logger.Info().Str("version", version.Version).Msg("Muninn Rounds starting")

	// Initialize OpenTelemetry tracing
	tracerProvider, err := telemetry.InitTracer(context.Background(), telemetry.TracerConfig{
		ServiceName:    "muninn-rounds",
		ServiceVersion: version.Version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.TracingEnabled,
		SampleRate:     cfg.TracingSampleRate,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}
	defer func() {
		if err := tracerProvider.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("failed to shutdown tracer provider")
		}
	}()

	srv, err := server.New(cfg, journalBuf, logger)
	if err != nil {
		return fmt.Errorf("initialize server: %w", err)
	}

	httpServer := srv.HTTPServer()

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr()).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down gracefully...")

	timeoutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(timeoutCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	if err := srv.Close(); err != nil {
		logger.Error().Err(err).Msg("shutdown cleanup failed")
	}

	logger.Info().Msg("Muninn Rounds stopped")
	return nil
}

// initDatabase initializes the database connection (used by the data commands)
func initDatabase() (*gorm.DB, error) {
	return db.Connect(cfg)
}
