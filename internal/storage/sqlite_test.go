package storage_test

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dailyledger/internal/core"
	"dailyledger/internal/metrics"
	"dailyledger/internal/storage"
	"dailyledger/internal/storage/storagetest"
)

func newSQLiteStore(t *testing.T, opts storage.Options) storage.Store {
	t.Helper()
	s, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "ledger.db"), opts)
	require.NoError(t, err)
	return s
}

func TestSQLiteStoreConformance(t *testing.T) {
	storagetest.Run(t, newSQLiteStore)
}

func TestSQLiteStore_CreatesDirectoryAndMigrates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "ledger.db")

	s, err := storage.NewSQLiteStore(path, storage.Options{})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = os.Stat(path)
	require.NoError(t, err)

	// Reopening an up-to-date database is a no-op migration.
	version, err := storage.RunMigrations(path)
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")
	opts := storage.Options{Location: storagetest.Zone}

	s, err := storage.NewSQLiteStore(path, opts)
	require.NoError(t, err)
	id, err := s.InsertItem(ctx, core.LineItem{
		Descriptor:      core.Descriptor{Name: "Milk", Price: 45, Categories: []string{"Groceries"}},
		TimestampMillis: storagetest.Day.UnixMilli() + 1,
	})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = storage.NewSQLiteStore(path, opts)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.GetItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Milk", got.Name)
	assert.Equal(t, []string{"Groceries"}, got.Categories)
}

func TestSQLiteStore_StoresExplicitColumns(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")

	s, err := storage.NewSQLiteStore(path, storage.Options{})
	require.NoError(t, err)
	_, err = s.InsertItem(ctx, core.LineItem{
		Descriptor:      core.Descriptor{Name: "Bread", Price: 20},
		TimestampMillis: time.Now().UnixMilli(),
	})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	var (
		name       string
		quantity   sql.NullString
		price      float64
		categories sql.NullString
	)
	err = db.QueryRowContext(ctx, "SELECT name, quantity, price, categories FROM line_items").
		Scan(&name, &quantity, &price, &categories)
	require.NoError(t, err)
	assert.Equal(t, "Bread", name)
	assert.False(t, quantity.Valid)
	assert.Equal(t, 20.0, price)
	assert.False(t, categories.Valid, "empty category lists are stored as NULL")
}

func TestSQLiteStore_RecordsMetrics(t *testing.T) {
	ctx := context.Background()
	m := metrics.New()
	s := newSQLiteStore(t, storage.Options{Metrics: m})
	defer s.Close()

	_, err := s.GetItem(ctx, 1)
	require.True(t, storage.IsNotFound(err))
	_, err = s.AllItems(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreOps.WithLabelValues(storage.OpGetItem, metrics.ResultError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreOps.WithLabelValues(storage.OpAllItems, metrics.ResultOK)))
}
