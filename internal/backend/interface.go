package backend

import (
	"context"
	"log/slog"
	"time"

	"dailyledger/internal/amqp"
	"dailyledger/internal/metrics"
	"dailyledger/internal/storage"
)

// Publisher announces committed day changes to other processes.
type Publisher interface {
	PublishDayChanged(ctx context.Context, msg *amqp.DayChangedMessage) error
}

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult contains the store, an optional publisher and the cleanup
// function releasing both.
type BackendResult struct {
	Store     storage.Store
	Publisher Publisher // nil when AMQP is not configured or unreachable
	Cleanup   CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	// CreateBackend creates a backend instance based on the provided config
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	// Backend type
	Type BackendType

	// Store behaviour
	Location             *time.Location
	AllowMultipleMasters bool
	Metrics              *metrics.Collector
	Logger               *slog.Logger

	// SQLite specific
	SQLiteDBPath string

	// Memory backend specific
	SeedFile string

	// AMQP (optional for every backend)
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}

func (c Config) storeOptions() storage.Options {
	return storage.Options{
		Location:             c.Location,
		AllowMultipleMasters: c.AllowMultipleMasters,
		Metrics:              c.Metrics,
		Logger:               c.Logger,
	}.WithDefaults()
}
