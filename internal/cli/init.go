// Package cli provides common CLI initialization utilities shared by the
// ledger subcommands.
package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"dailyledger/internal/backend"
	"dailyledger/internal/cache"
	"dailyledger/internal/classify"
	"dailyledger/internal/config"
	"dailyledger/internal/core"
	applog "dailyledger/internal/log"
	"dailyledger/internal/metrics"
)

// SetupLogger initializes structured logging on stderr, leaving stdout for
// command output. Returns the configured logger and sets it as the default
// logger.
func SetupLogger(level, format string) *slog.Logger {
	logger := applog.New(applog.Config{
		Level:     applog.ParseLevel(level),
		Format:    format,
		Component: applog.ComponentCLI,
		Output:    os.Stderr,
	})
	applog.SetDefault(logger)
	return logger.Logger
}

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads configuration and validates it.
// Returns the config or exits the process on validation failure.
func LoadAndValidateConfig(logger *slog.Logger) *config.Config {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", applog.FieldError, err)
		os.Exit(1)
	}
	return cfg
}

// NewClassifier builds the category classifier from the configured keyword
// file, falling back to the built-in keywords.
func NewClassifier(cfg *config.Config) (*classify.Classifier, error) {
	kw := classify.DefaultKeywords()
	if cfg.KeywordsFile != "" {
		loaded, err := classify.LoadKeywords(cfg.KeywordsFile)
		if err != nil {
			return nil, err
		}
		kw = loaded
	}

	var opts []classify.Option
	if cfg.ClassifierCacheSize > 0 {
		opts = append(opts, classify.WithCache(cache.NewLRUCache[core.Tier](cfg.ClassifierCacheSize, cfg.ClassifierCacheTTL)))
	}
	return classify.New(kw, opts...), nil
}

// InitClassifier is NewClassifier that exits the process on failure.
func InitClassifier(logger *slog.Logger, cfg *config.Config) *classify.Classifier {
	c, err := NewClassifier(cfg)
	if err != nil {
		logger.Error("Failed to load classifier keywords", applog.FieldError, err, "path", cfg.KeywordsFile)
		os.Exit(1)
	}
	return c
}

// InitBackend creates the configured store and optional publisher.
// Exits the process on failure.
func InitBackend(ctx context.Context, logger *slog.Logger, cfg *config.Config, m *metrics.Collector) *backend.BackendResult {
	bcfg, err := backend.FromAppConfig(cfg, m)
	if err != nil {
		logger.Error("Invalid backend configuration", applog.FieldError, err)
		os.Exit(1)
	}
	bcfg.Logger = logger

	res, err := backend.NewFactory(logger).CreateBackend(ctx, bcfg)
	if err != nil {
		logger.Error("Failed to initialize backend", applog.FieldError, err, applog.FieldBackend, cfg.DataBackend)
		os.Exit(1)
	}
	return res
}

// FlushMetrics writes the collector to the configured textfile, if any.
func FlushMetrics(logger *slog.Logger, m *metrics.Collector, path string) {
	if path == "" {
		return
	}
	if err := m.WriteTextfile(path); err != nil {
		logger.Warn("Failed to write metrics textfile", applog.FieldError, err, "path", path)
	}
}

// GracefulShutdown sets up signal handling for graceful shutdown.
// Returns a context that will be cancelled on shutdown signals,
// and a channel that signals when shutdown is complete.
func GracefulShutdown(logger *slog.Logger, timeout time.Duration, cleanup func()) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received", "signal", sig.String())
		case <-ctx.Done():
		}

		cleanupDone := make(chan struct{})
		go func() {
			if cleanup != nil {
				cleanup()
			}
			close(cleanupDone)
		}()

		cancel()

		select {
		case <-cleanupDone:
			logger.Info("Shutdown complete")
		case <-time.After(timeout):
			logger.Warn("Shutdown timeout reached")
		}
		close(done)
	}()

	return ctx, done
}

// WaitForShutdown blocks until the context is cancelled.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}
