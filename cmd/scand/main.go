package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/ChamodiJayakody/barcode-app/internal/app"
	"github.com/ChamodiJayakody/barcode-app/internal/config"
)

const defaultConfigPath = "config/scand.yaml"

var (
	configPath string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:           "scand",
	Short:         "Barcode scanning session service",
	Long:          `scand scans barcodes from a camera or typed input and resolves each one into its broadcast messages`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run with the terminal UI",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runService(true)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run headless (MQTT, HTTP and optional stdin entry)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runService(false)
	},
}

func main() {
	_, _ = maxprocs.Set()

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(decodeCmd)

	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "Path to configuration file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "scand:", err)
		os.Exit(1)
	}
}

// setupLogger installs the default logger. The terminal UI owns stdout, so
// it logs as text to the configured file (or nowhere).
func setupLogger(cfg *config.Config, ui bool) (func() error, error) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	if !ui {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, opts)))
		return func() error { return nil }, nil
	}

	if cfg.LogFile == "" {
		slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, opts)))
		return func() error { return nil }, nil
	}
	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(f, opts)))
	return f.Close, nil
}

func runService(ui bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	closeLog, err := setupLogger(cfg, ui)
	if err != nil {
		return err
	}
	defer closeLog()

	slog.Info("starting scand service",
		"config", configPath,
		"debug", debug,
		"ui", ui,
	)

	svc, err := app.New(cfg, app.Options{UI: ui})
	if err != nil {
		return fmt.Errorf("failed to create scand service: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Run service in goroutine
	errChan := make(chan error, 1)
	go func() {
		errChan <- svc.Run(ctx)
	}()

	// Wait for shutdown signal or error
	select {
	case <-ctx.Done():
		slog.Info("received shutdown signal")
	case err := <-errChan:
		if err != nil {
			slog.Error("service error", "error", err)
			return err
		}
		slog.Info("scand service stopped")
		return nil
	}

	// Graceful shutdown
	shutdownTimeout := svc.ShutdownTimeout()
	slog.Info("shutting down gracefully", "timeout", shutdownTimeout)

	select {
	case err := <-errChan:
		if err != nil {
			slog.Error("shutdown failed", "error", err)
			return err
		}
	case <-time.After(shutdownTimeout):
		return fmt.Errorf("shutdown timed out after %s", shutdownTimeout)
	}

	slog.Info("scand service stopped successfully")
	return nil
}
