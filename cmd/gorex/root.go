package main

import (
	"context"
	"fmt"
	"os"

	"github.com/caffeineduck/gorex/config"
	"github.com/caffeineduck/gorex/guest"
	"github.com/caffeineduck/gorex/internal/logging"
	"github.com/caffeineduck/gorex/metrics"
	"github.com/caffeineduck/gorex/sandbox"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var rootCmd = &cobra.Command{
	Use:     "gorex",
	Version: version,
	Short:   "Sandboxed HTML content extraction on WebAssembly",
	Long: `gorex - Extract structured content from untrusted HTML inside a WASM sandbox.

Every extraction runs in a fresh execution context with its own memory cap,
fuel budget and wall-clock deadline, on a pool of pre-warmed instances. When
the sandbox keeps failing, a circuit breaker routes requests to an in-process
fallback extractor until it recovers.

Configuration comes from an optional YAML file (--config) and GOREX_*
environment variables, which take precedence.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().StringP("guest", "g", "", "Extractor wasm module (overrides guest_path)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error (overrides log_level)")
	rootCmd.PersistentFlags().Bool("log-dev", false, "Human-readable console logs")
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")

	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if g, _ := cmd.Flags().GetString("guest"); g != "" {
		cfg.GuestPath = g
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	if dev, _ := cmd.Flags().GetBool("log-dev"); dev {
		cfg.LogDev = true
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(logging.Config{
		Level:       cfg.LogLevel,
		Development: cfg.LogDev,
		OutputPaths: []string{"stderr"},
	})
}

// app is what every command needs: config, logger and a ready service.
type app struct {
	cfg *config.Config
	log *zap.Logger
	svc *sandbox.Service
}

func (r *app) Close() {
	if err := r.svc.Close(context.Background()); err != nil {
		r.log.Warn("shutdown", zap.Error(err))
	}
	_ = r.log.Sync()
}

func setup(cmd *cobra.Command, sink metrics.Sink) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	g, err := guest.FromFile(cfg.GuestPath)
	if err != nil {
		return nil, err
	}

	svc, err := sandbox.New(cmd.Context(), g, cfg,
		sandbox.WithLogger(log),
		sandbox.WithMetrics(sink),
	)
	if err != nil {
		return nil, fmt.Errorf("start extraction service: %w", err)
	}
	return &app{cfg: cfg, log: log, svc: svc}, nil
}
