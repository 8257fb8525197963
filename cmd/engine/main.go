// Package main provides the entry point for the escape-detection analytics
// engine.
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

	"github.com/halfpipe-dev/escapeengine/internal/api"
	"github.com/halfpipe-dev/escapeengine/internal/app"
	"github.com/halfpipe-dev/escapeengine/internal/config"
	"github.com/halfpipe-dev/escapeengine/internal/ingestion"
	"github.com/halfpipe-dev/escapeengine/internal/sink"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

var configPath string

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "engine",
		Short: "Real-time options and futures market-structure analytics engine",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to configuration file")
	root.AddCommand(runCmd(), versionCmd(), configCmd())
	return root
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the engine and its HTTP gateway until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine()
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(version)
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Configuration utilities"}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration file, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			fmt.Printf("config OK: mode=%s underlying=%s api_enabled=%v\n",
				cfg.Environment.Mode, cfg.Market.Underlying, cfg.API.Enabled)
			return nil
		},
	})
	return cmd
}

func newLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetFormatter(&logrus.JSONFormatter{})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger
}

func runEngine() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := newLogger(cfg.Environment.LogLevel)
	logger.WithField("underlying", cfg.Market.Underlying).Info("starting escape-detection engine")

	engine := app.New(cfg, logger, sink.NewInMemorySink(256))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutdown signal received, stopping engine")
		cancel()
	}()

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.NewServer(api.Config{Port: cfg.API.Port}, engine, logger)
		go func() {
			if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Error("HTTP gateway error")
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := apiServer.Shutdown(shutdownCtx); err != nil {
				logger.WithError(err).Warn("error shutting down HTTP gateway")
			}
		}()
	}

	// No exchange adapter is wired here: dialing venues and parsing wire
	// frames is out of scope for this engine, which consumes already
	// decoded updates over ingestion.Feed. An all-nil feed keeps the
	// engine's goroutines (escape tick, snapshot dispatch, regime watch)
	// running against whatever state a future adapter publishes.
	feed := ingestion.NewFeed(nil, nil, nil, nil, nil, nil, nil, nil)

	if err := engine.Run(ctx, feed); err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Error("engine stopped with error")
		return err
	}

	logger.Info("engine stopped")
	return nil
}
