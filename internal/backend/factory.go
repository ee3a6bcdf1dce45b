package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"dailyledger/internal/amqp"
	applog "dailyledger/internal/log"
	"dailyledger/internal/storage"
	"dailyledger/internal/storage/memory"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{
		logger: logger,
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Logger == nil {
		config.Logger = f.logger
	}

	var (
		store storage.Store
		err   error
	)
	switch config.Type {
	case SQLiteBackend:
		store, err = f.createSQLiteStore(config)
	case MemoryBackend:
		store, err = f.createMemoryStore(ctx, config)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
	if err != nil {
		return nil, err
	}

	result := &BackendResult{Store: store}
	var client *amqp.Client
	if config.AMQPURL != "" {
		client = f.createPublisher(ctx, config)
		if client != nil {
			result.Publisher = client
		}
	}

	result.Cleanup = func() error {
		var errs []error
		if client != nil {
			if err := client.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close AMQP client: %w", err))
			}
		}
		if err := store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
		return errors.Join(errs...)
	}
	return result, nil
}

func (f *DefaultFactory) createSQLiteStore(config Config) (storage.Store, error) {
	store, err := storage.NewSQLiteStore(config.SQLiteDBPath, config.storeOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite store: %w", err)
	}

	f.logger.Info("Initialized SQLite backend",
		applog.FieldComponent, applog.ComponentBackend,
		"db_path", config.SQLiteDBPath,
		"single_master", !config.AllowMultipleMasters)
	return store, nil
}

func (f *DefaultFactory) createMemoryStore(ctx context.Context, config Config) (storage.Store, error) {
	opts := config.storeOptions()
	if config.SeedFile == "" {
		f.logger.Info("Initialized memory backend", applog.FieldComponent, applog.ComponentBackend)
		return memory.New(opts), nil
	}

	store, err := memory.NewFromFile(ctx, config.SeedFile, time.Now().In(opts.Location), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to seed memory backend: %w", err)
	}

	f.logger.Info("Initialized memory backend",
		applog.FieldComponent, applog.ComponentBackend,
		"seed_file", config.SeedFile)
	return store, nil
}

// createPublisher dials the broker. A failure is logged and the ledger keeps
// working without change events.
func (f *DefaultFactory) createPublisher(ctx context.Context, config Config) *amqp.Client {
	client, err := amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue, amqp.WithMetrics(config.Metrics))
	if err != nil {
		f.logger.WarnContext(ctx, "Failed to initialize AMQP client, continuing without change events",
			applog.FieldComponent, applog.ComponentBackend,
			applog.FieldError, err)
		return nil
	}

	f.logger.InfoContext(ctx, "Initialized AMQP client",
		applog.FieldComponent, applog.ComponentBackend,
		"exchange", config.AMQPExchange,
		"queue", config.AMQPQueue)
	return client
}
