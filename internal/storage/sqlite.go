package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"dailyledger/internal/core"
	applog "dailyledger/internal/log"
	"dailyledger/internal/watch"
)

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store on a SQLite database file. Writers take an
// immediate lock so multi-row changes never interleave, and WAL lets
// readers see only committed state.
type SQLiteStore struct {
	db        *sql.DB
	opts      Options
	log       *slog.Logger
	items     *watch.Registry
	snapshots *watch.Registry
	closed    atomic.Bool
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// NewSQLiteStore opens (creating if needed) the database at dbPath and
// applies migrations.
func NewSQLiteStore(dbPath string, opts Options) (*SQLiteStore, error) {
	opts = opts.WithDefaults()

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", sqliteDSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	version, err := RunMigrations(dbPath)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	logger := opts.Logger.With(
		applog.FieldComponent, applog.ComponentStorage,
		applog.FieldBackend, "sqlite")
	logger.Info("SQLite store opened", "path", dbPath, "schema_version", version)

	return &SQLiteStore{
		db:        db,
		opts:      opts,
		log:       logger,
		items:     watch.NewRegistry(TopicItems, logger),
		snapshots: watch.NewRegistry(TopicSnapshots, logger),
	}, nil
}

func sqliteDSN(path string) string {
	return "file:" + path +
		"?_pragma=foreign_keys(1)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_txlock=immediate"
}

// Close releases the database and drops all listeners. Further calls fail
// with ErrClosed.
func (s *SQLiteStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.items.CloseAll()
	s.snapshots.CloseAll()
	if err := s.db.Close(); err != nil {
		return Wrap(OpClose, err)
	}
	s.log.Info("SQLite store closed")
	return nil
}

func (s *SQLiteStore) check() error {
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) notifyItems(ctx context.Context, spans ...watch.Span) {
	n := s.items.Notify(context.WithoutCancel(ctx), spans...)
	s.opts.Metrics.Notified(TopicItems, n)
}

func (s *SQLiteStore) notifySnapshots(ctx context.Context, spans ...watch.Span) {
	n := s.snapshots.Notify(context.WithoutCancel(ctx), spans...)
	s.opts.Metrics.Notified(TopicSnapshots, n)
}

// Line items

const itemColumns = "id, name, quantity, price, categories, is_done, timestamp_millis, image_refs"

func scanItem(sc scanner) (core.LineItem, error) {
	var (
		it         core.LineItem
		quantity   sql.NullString
		categories sql.NullString
		imageRefs  sql.NullString
	)
	if err := sc.Scan(&it.ID, &it.Name, &quantity, &it.Price, &categories, &it.IsDone, &it.TimestampMillis, &imageRefs); err != nil {
		return core.LineItem{}, err
	}
	if quantity.Valid {
		it.Quantity = core.QuantityOf(quantity.String)
	}

	cats, err := decodeList(categories)
	if err != nil {
		return core.LineItem{}, fmt.Errorf("item %d categories: %w", it.ID, err)
	}
	if cats == nil {
		cats = []string{}
	}
	it.Categories = cats

	it.ImageRefs, err = decodeList(imageRefs)
	if err != nil {
		return core.LineItem{}, fmt.Errorf("item %d image refs: %w", it.ID, err)
	}
	return it, nil
}

func queryItems(ctx context.Context, q querier, query string, args ...any) ([]core.LineItem, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	items := []core.LineItem{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate items: %w", err)
	}
	return items, nil
}

func itemArgs(it core.LineItem) ([]any, error) {
	categories, err := encodeList(it.Categories)
	if err != nil {
		return nil, err
	}
	imageRefs, err := encodeList(it.ImageRefs)
	if err != nil {
		return nil, err
	}
	var quantity sql.NullString
	if it.Quantity != nil {
		quantity = sql.NullString{String: *it.Quantity, Valid: true}
	}
	return []any{it.Name, quantity, it.Price, categories, it.IsDone, it.TimestampMillis, imageRefs}, nil
}

// insertItem writes it, keeping its id when keepID is set and the id is positive.
func insertItem(ctx context.Context, q querier, it core.LineItem, keepID bool) (int64, error) {
	args, err := itemArgs(it)
	if err != nil {
		return 0, err
	}

	query := "INSERT INTO line_items (name, quantity, price, categories, is_done, timestamp_millis, image_refs) VALUES (?, ?, ?, ?, ?, ?, ?)"
	if keepID && it.ID > 0 {
		query = "INSERT INTO line_items (" + itemColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?)"
		args = append([]any{it.ID}, args...)
	}

	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to insert item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read item id: %w", err)
	}
	return id, nil
}

func itemTimestamp(ctx context.Context, q querier, id int64) (int64, error) {
	var ts int64
	err := q.QueryRowContext(ctx, "SELECT timestamp_millis FROM line_items WHERE id = ?", id).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("item %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read item: %w", err)
	}
	return ts, nil
}

func (s *SQLiteStore) InsertItem(ctx context.Context, item core.LineItem) (id int64, err error) {
	defer Observe(ctx, s.log, s.opts.Metrics, OpInsertItem, time.Now(), &err)
	if err := s.check(); err != nil {
		return 0, err
	}

	it, err := PrepareItem(item, s.opts.Now())
	if err != nil {
		return 0, err
	}
	id, err = insertItem(ctx, s.db, it, false)
	if err != nil {
		return 0, err
	}

	s.log.DebugContext(ctx, "Item inserted",
		applog.FieldItemID, id,
		"timestamp_millis", it.TimestampMillis)
	s.notifyItems(ctx, watch.At(it.TimestampMillis))
	return id, nil
}

// UpdateItem rewrites every field of the item with item.ID. A zero
// timestamp keeps the stored one.
func (s *SQLiteStore) UpdateItem(ctx context.Context, item core.LineItem) (err error) {
	defer Observe(ctx, s.log, s.opts.Metrics, OpUpdateItem, time.Now(), &err)
	if err := s.check(); err != nil {
		return err
	}
	if item.ID <= 0 {
		return fmt.Errorf("%w: item id %d", ErrInvalidInput, item.ID)
	}
	if err := item.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	var ts int64
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		ts, err = itemTimestamp(ctx, tx, item.ID)
		if err != nil {
			return err
		}
		if err := KeepTimestamp(&item, ts); err != nil {
			return err
		}
		it, err := PrepareItem(item, s.opts.Now())
		if err != nil {
			return err
		}

		args, err := itemArgs(it)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			"UPDATE line_items SET name = ?, quantity = ?, price = ?, categories = ?, is_done = ?, timestamp_millis = ?, image_refs = ? WHERE id = ?",
			append(args, it.ID)...)
		if err != nil {
			return fmt.Errorf("failed to update item: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.notifyItems(ctx, watch.At(ts))
	return nil
}

func (s *SQLiteStore) GetItem(ctx context.Context, id int64) (item core.LineItem, err error) {
	defer Observe(ctx, s.log, s.opts.Metrics, OpGetItem, time.Now(), &err)
	if err := s.check(); err != nil {
		return core.LineItem{}, err
	}

	row := s.db.QueryRowContext(ctx, "SELECT "+itemColumns+" FROM line_items WHERE id = ?", id)
	item, err = scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.LineItem{}, fmt.Errorf("item %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return core.LineItem{}, fmt.Errorf("failed to get item: %w", err)
	}
	return item, nil
}

func (s *SQLiteStore) DeleteItem(ctx context.Context, id int64) (err error) {
	defer Observe(ctx, s.log, s.opts.Metrics, OpDeleteItem, time.Now(), &err)
	if err := s.check(); err != nil {
		return err
	}

	var ts int64
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		if ts, err = itemTimestamp(ctx, tx, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM line_items WHERE id = ?", id); err != nil {
			return fmt.Errorf("failed to delete item: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.notifyItems(ctx, watch.At(ts))
	return nil
}

// DeleteItems removes the given ids in one transaction and reports how many
// existed. Unknown ids are skipped.
func (s *SQLiteStore) DeleteItems(ctx context.Context, ids []int64) (n int, err error) {
	defer Observe(ctx, s.log, s.opts.Metrics, OpDeleteItems, time.Now(), &err)
	if err := s.check(); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	var spans []watch.Span
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			ts, err := itemTimestamp(ctx, tx, id)
			if IsNotFound(err) {
				continue
			}
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, "DELETE FROM line_items WHERE id = ?", id); err != nil {
				return fmt.Errorf("failed to delete item %d: %w", id, err)
			}
			spans = append(spans, watch.At(ts))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.notifyItems(ctx, spans...)
	return len(spans), nil
}

func (s *SQLiteStore) DeleteItemsInRange(ctx context.Context, start, endExclusive int64) (n int, err error) {
	defer Observe(ctx, s.log, s.opts.Metrics, OpDeleteItemsInRange, time.Now(), &err)
	if err := s.check(); err != nil {
		return 0, err
	}
	if endExclusive <= start {
		return 0, nil
	}

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM line_items WHERE timestamp_millis >= ? AND timestamp_millis < ?",
		start, endExclusive)
	if err != nil {
		return 0, fmt.Errorf("failed to delete items in range: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted items: %w", err)
	}

	if affected > 0 {
		s.log.InfoContext(ctx, "Items deleted in range",
			applog.FieldRangeStart, start,
			applog.FieldRangeEnd, endExclusive,
			applog.FieldCount, affected)
		s.notifyItems(ctx, watch.Span{Start: start, End: endExclusive})
	}
	return int(affected), nil
}

func (s *SQLiteStore) itemsInRange(ctx context.Context, start, endExclusive int64) ([]core.LineItem, error) {
	if endExclusive <= start {
		return []core.LineItem{}, nil
	}
	return queryItems(ctx, s.db,
		"SELECT "+itemColumns+" FROM line_items WHERE timestamp_millis >= ? AND timestamp_millis < ? ORDER BY timestamp_millis, id",
		start, endExclusive)
}

func (s *SQLiteStore) ItemsInRange(ctx context.Context, start, endExclusive int64) (items []core.LineItem, err error) {
	defer Observe(ctx, s.log, s.opts.Metrics, OpItemsInRange, time.Now(), &err)
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.itemsInRange(ctx, start, endExclusive)
}

func (s *SQLiteStore) ItemsForDate(ctx context.Context, date time.Time) (items []core.LineItem, err error) {
	defer Observe(ctx, s.log, s.opts.Metrics, OpItemsForDate, time.Now(), &err)
	if err := s.check(); err != nil {
		return nil, err
	}
	start, end := DayRange(date, s.opts.Location)
	return s.itemsInRange(ctx, start, end)
}

func (s *SQLiteStore) AllItems(ctx context.Context) (items []core.LineItem, err error) {
	defer Observe(ctx, s.log, s.opts.Metrics, OpAllItems, time.Now(), &err)
	if err := s.check(); err != nil {
		return nil, err
	}
	return queryItems(ctx, s.db, "SELECT "+itemColumns+" FROM line_items ORDER BY timestamp_millis, id")
}

func (s *SQLiteStore) ReplaceForDate(ctx context.Context, items []core.LineItem, date time.Time) (err error) {
	defer Observe(ctx, s.log, s.opts.Metrics, OpReplaceForDate, time.Now(), &err)
	return s.replaceDay(ctx, items, date)
}

func (s *SQLiteStore) ClearAndSetItemsForDate(ctx context.Context, items []core.LineItem, date time.Time) (err error) {
	defer Observe(ctx, s.log, s.opts.Metrics, OpClearAndSetItemsForDate, time.Now(), &err)
	return s.replaceDay(ctx, items, date)
}

func (s *SQLiteStore) replaceDay(ctx context.Context, items []core.LineItem, date time.Time) error {
	if err := s.check(); err != nil {
		return err
	}

	start, end := DayRange(date, s.opts.Location)
	prepared, err := PrepareDay(items, start, end)
	if err != nil {
		return err
	}

	var removed int64
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"DELETE FROM line_items WHERE timestamp_millis >= ? AND timestamp_millis < ?",
			start, end)
		if err != nil {
			return fmt.Errorf("failed to clear day: %w", err)
		}
		if removed, err = res.RowsAffected(); err != nil {
			return fmt.Errorf("failed to count cleared items: %w", err)
		}
		for _, it := range prepared {
			if _, err := insertItem(ctx, tx, it, false); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.log.InfoContext(ctx, "Day replaced",
		applog.FieldRecordDate, start,
		"removed", removed,
		applog.FieldCount, len(prepared))
	s.notifyItems(ctx, watch.Span{Start: start, End: end})
	return nil
}

func (s *SQLiteStore) SubscribeItems(ctx context.Context, span watch.Span, fn ItemsListener) (*watch.Subscription, error) {
	if err := s.check(); err != nil {
		return nil, Wrap(OpSubscribeItems, err)
	}
	if fn == nil {
		return nil, Wrap(OpSubscribeItems, fmt.Errorf("%w: nil listener", ErrInvalidInput))
	}
	return s.items.Add(ctx, span, func(ctx context.Context) {
		items, err := s.itemsInRange(ctx, span.Start, span.End)
		fn(items, Wrap(OpSubscribeItems, err))
	}), nil
}
