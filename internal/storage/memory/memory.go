// Package memory is a mutex-guarded, in-process storage.Store. It keeps the
// same semantics as the SQLite engine and loses everything on Close.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"dailyledger/internal/core"
	applog "dailyledger/internal/log"
	"dailyledger/internal/storage"
	"dailyledger/internal/watch"
)

var _ storage.Store = (*Store)(nil)

type Store struct {
	opts      storage.Options
	log       *slog.Logger
	items     *watch.Registry
	snapshots *watch.Registry

	mu         sync.RWMutex
	closed     bool
	nextItem   int64
	nextSnap   int64
	itemRows   map[int64]core.LineItem
	snapshotDB map[int64]core.DailySnapshot
}

func New(opts storage.Options) *Store {
	opts = opts.WithDefaults()
	logger := opts.Logger.With(
		applog.FieldComponent, applog.ComponentStorage,
		applog.FieldBackend, "memory")
	return &Store{
		opts:       opts,
		log:        logger,
		items:      watch.NewRegistry(storage.TopicItems, logger),
		snapshots:  watch.NewRegistry(storage.TopicSnapshots, logger),
		itemRows:   make(map[int64]core.LineItem),
		snapshotDB: make(map[int64]core.DailySnapshot),
	}
}

func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.itemRows = nil
	s.snapshotDB = nil
	s.mu.Unlock()

	s.items.CloseAll()
	s.snapshots.CloseAll()
	return nil
}

func (s *Store) observe(ctx context.Context, op string, started time.Time, errp *error) {
	storage.Observe(ctx, s.log, s.opts.Metrics, op, started, errp)
}

func (s *Store) notifyItems(ctx context.Context, spans ...watch.Span) {
	n := s.items.Notify(context.WithoutCancel(ctx), spans...)
	s.opts.Metrics.Notified(storage.TopicItems, n)
}

func (s *Store) notifySnapshots(ctx context.Context, spans ...watch.Span) {
	n := s.snapshots.Notify(context.WithoutCancel(ctx), spans...)
	s.opts.Metrics.Notified(storage.TopicSnapshots, n)
}

// lock takes the write lock, failing once the store is closed.
func (s *Store) lock() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return storage.ErrClosed
	}
	return nil
}

func (s *Store) rlock() error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return storage.ErrClosed
	}
	return nil
}

// Line items

func (s *Store) InsertItem(ctx context.Context, item core.LineItem) (id int64, err error) {
	defer s.observe(ctx, storage.OpInsertItem, time.Now(), &err)

	it, err := storage.PrepareItem(item, s.opts.Now())
	if err != nil {
		return 0, err
	}
	if err := s.lock(); err != nil {
		return 0, err
	}
	s.nextItem++
	it.ID = s.nextItem
	s.itemRows[it.ID] = it
	s.mu.Unlock()

	s.notifyItems(ctx, watch.At(it.TimestampMillis))
	return it.ID, nil
}

func (s *Store) UpdateItem(ctx context.Context, item core.LineItem) (err error) {
	defer s.observe(ctx, storage.OpUpdateItem, time.Now(), &err)
	if item.ID <= 0 {
		return fmt.Errorf("%w: item id %d", storage.ErrInvalidInput, item.ID)
	}
	if err := item.Validate(); err != nil {
		return fmt.Errorf("%w: %w", storage.ErrInvalidInput, err)
	}

	if err := s.lock(); err != nil {
		return err
	}
	old, ok := s.itemRows[item.ID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("item %d: %w", item.ID, storage.ErrNotFound)
	}
	if err := storage.KeepTimestamp(&item, old.TimestampMillis); err != nil {
		s.mu.Unlock()
		return err
	}
	it, err := storage.PrepareItem(item, s.opts.Now())
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.itemRows[it.ID] = it
	s.mu.Unlock()

	s.notifyItems(ctx, watch.At(old.TimestampMillis))
	return nil
}

func (s *Store) GetItem(ctx context.Context, id int64) (item core.LineItem, err error) {
	defer s.observe(ctx, storage.OpGetItem, time.Now(), &err)
	if err := s.rlock(); err != nil {
		return core.LineItem{}, err
	}
	defer s.mu.RUnlock()

	it, ok := s.itemRows[id]
	if !ok {
		return core.LineItem{}, fmt.Errorf("item %d: %w", id, storage.ErrNotFound)
	}
	return it.Clone(), nil
}

func (s *Store) DeleteItem(ctx context.Context, id int64) (err error) {
	defer s.observe(ctx, storage.OpDeleteItem, time.Now(), &err)
	if err := s.lock(); err != nil {
		return err
	}
	it, ok := s.itemRows[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("item %d: %w", id, storage.ErrNotFound)
	}
	delete(s.itemRows, id)
	s.mu.Unlock()

	s.notifyItems(ctx, watch.At(it.TimestampMillis))
	return nil
}

func (s *Store) DeleteItems(ctx context.Context, ids []int64) (n int, err error) {
	defer s.observe(ctx, storage.OpDeleteItems, time.Now(), &err)
	if err := s.lock(); err != nil {
		return 0, err
	}
	var spans []watch.Span
	for _, id := range ids {
		if it, ok := s.itemRows[id]; ok {
			delete(s.itemRows, id)
			spans = append(spans, watch.At(it.TimestampMillis))
		}
	}
	s.mu.Unlock()

	s.notifyItems(ctx, spans...)
	return len(spans), nil
}

func (s *Store) DeleteItemsInRange(ctx context.Context, start, endExclusive int64) (n int, err error) {
	defer s.observe(ctx, storage.OpDeleteItemsInRange, time.Now(), &err)
	if err := s.lock(); err != nil {
		return 0, err
	}
	n = s.deleteRangeLocked(start, endExclusive)
	s.mu.Unlock()

	if n > 0 {
		s.notifyItems(ctx, watch.Span{Start: start, End: endExclusive})
	}
	return n, nil
}

func (s *Store) deleteRangeLocked(start, endExclusive int64) int {
	var n int
	for id, it := range s.itemRows {
		if it.TimestampMillis >= start && it.TimestampMillis < endExclusive {
			delete(s.itemRows, id)
			n++
		}
	}
	return n
}

func (s *Store) itemsInRange(start, endExclusive int64) ([]core.LineItem, error) {
	if err := s.rlock(); err != nil {
		return nil, err
	}
	defer s.mu.RUnlock()

	out := []core.LineItem{}
	for _, it := range s.itemRows {
		if it.TimestampMillis >= start && it.TimestampMillis < endExclusive {
			out = append(out, it.Clone())
		}
	}
	storage.SortItems(out)
	return out, nil
}

func (s *Store) ItemsInRange(ctx context.Context, start, endExclusive int64) (items []core.LineItem, err error) {
	defer s.observe(ctx, storage.OpItemsInRange, time.Now(), &err)
	return s.itemsInRange(start, endExclusive)
}

func (s *Store) ItemsForDate(ctx context.Context, date time.Time) (items []core.LineItem, err error) {
	defer s.observe(ctx, storage.OpItemsForDate, time.Now(), &err)
	start, end := storage.DayRange(date, s.opts.Location)
	return s.itemsInRange(start, end)
}

func (s *Store) AllItems(ctx context.Context) (items []core.LineItem, err error) {
	defer s.observe(ctx, storage.OpAllItems, time.Now(), &err)
	if err := s.rlock(); err != nil {
		return nil, err
	}
	defer s.mu.RUnlock()

	out := make([]core.LineItem, 0, len(s.itemRows))
	for _, it := range s.itemRows {
		out = append(out, it.Clone())
	}
	storage.SortItems(out)
	return out, nil
}

func (s *Store) ReplaceForDate(ctx context.Context, items []core.LineItem, date time.Time) (err error) {
	defer s.observe(ctx, storage.OpReplaceForDate, time.Now(), &err)
	return s.replaceDay(ctx, items, date)
}

func (s *Store) ClearAndSetItemsForDate(ctx context.Context, items []core.LineItem, date time.Time) (err error) {
	defer s.observe(ctx, storage.OpClearAndSetItemsForDate, time.Now(), &err)
	return s.replaceDay(ctx, items, date)
}

func (s *Store) replaceDay(ctx context.Context, items []core.LineItem, date time.Time) error {
	start, end := storage.DayRange(date, s.opts.Location)
	prepared, err := storage.PrepareDay(items, start, end)
	if err != nil {
		return err
	}

	if err := s.lock(); err != nil {
		return err
	}
	removed := s.deleteRangeLocked(start, end)
	for _, it := range prepared {
		s.nextItem++
		it.ID = s.nextItem
		s.itemRows[it.ID] = it
	}
	s.mu.Unlock()

	s.log.InfoContext(ctx, "Day replaced",
		applog.FieldRecordDate, start,
		"removed", removed,
		applog.FieldCount, len(prepared))
	s.notifyItems(ctx, watch.Span{Start: start, End: end})
	return nil
}

func (s *Store) SubscribeItems(ctx context.Context, span watch.Span, fn storage.ItemsListener) (*watch.Subscription, error) {
	if err := s.rlock(); err != nil {
		return nil, storage.Wrap(storage.OpSubscribeItems, err)
	}
	s.mu.RUnlock()
	if fn == nil {
		return nil, storage.Wrap(storage.OpSubscribeItems, fmt.Errorf("%w: nil listener", storage.ErrInvalidInput))
	}
	return s.items.Add(ctx, span, func(context.Context) {
		items, err := s.itemsInRange(span.Start, span.End)
		fn(items, storage.Wrap(storage.OpSubscribeItems, err))
	}), nil
}

// Snapshots

// demoteLocked clears the master flag on other masters of recordDate.
func (s *Store) demoteLocked(recordDate, exceptID int64) int {
	var n int
	for id, snap := range s.snapshotDB {
		if id != exceptID && snap.RecordDate == recordDate && snap.IsMasterSave {
			snap.IsMasterSave = false
			s.snapshotDB[id] = snap
			n++
		}
	}
	return n
}

func (s *Store) InsertSnapshot(ctx context.Context, snap core.DailySnapshot) (id int64, err error) {
	defer s.observe(ctx, storage.OpInsertSnapshot, time.Now(), &err)

	prepared, err := storage.PrepareSnapshot(snap, s.opts.Location, s.opts.Now())
	if err != nil {
		return 0, err
	}
	if err := s.lock(); err != nil {
		return 0, err
	}
	var demoted int
	if prepared.IsMasterSave && !s.opts.AllowMultipleMasters {
		demoted = s.demoteLocked(prepared.RecordDate, 0)
	}
	s.nextSnap++
	prepared.ID = s.nextSnap
	s.snapshotDB[prepared.ID] = prepared
	s.mu.Unlock()

	s.log.InfoContext(ctx, "Snapshot saved",
		applog.FieldSnapshotID, prepared.ID,
		applog.FieldRecordDate, prepared.RecordDate,
		applog.FieldTotal, prepared.TotalSum,
		applog.FieldIsMaster, prepared.IsMasterSave,
		"demoted", demoted)
	s.notifySnapshots(ctx, watch.At(prepared.RecordDate))
	return prepared.ID, nil
}

func (s *Store) UpdateSnapshot(ctx context.Context, snap core.DailySnapshot) (err error) {
	defer s.observe(ctx, storage.OpUpdateSnapshot, time.Now(), &err)
	if snap.ID <= 0 {
		return fmt.Errorf("%w: snapshot id %d", storage.ErrInvalidInput, snap.ID)
	}
	if err := snap.Validate(); err != nil {
		return fmt.Errorf("%w: %w", storage.ErrInvalidInput, err)
	}

	if err := s.lock(); err != nil {
		return err
	}
	old, ok := s.snapshotDB[snap.ID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("snapshot %d: %w", snap.ID, storage.ErrNotFound)
	}
	if snap.TimestampMillis == 0 {
		snap.TimestampMillis = old.TimestampMillis
	}
	prepared, err := storage.PrepareSnapshot(snap, s.opts.Location, s.opts.Now())
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if prepared.IsMasterSave && !s.opts.AllowMultipleMasters {
		s.demoteLocked(prepared.RecordDate, prepared.ID)
	}
	s.snapshotDB[prepared.ID] = prepared
	s.mu.Unlock()

	s.notifySnapshots(ctx, watch.At(old.RecordDate), watch.At(prepared.RecordDate))
	return nil
}

func (s *Store) GetSnapshot(ctx context.Context, id int64) (snap core.DailySnapshot, err error) {
	defer s.observe(ctx, storage.OpGetSnapshot, time.Now(), &err)
	if err := s.rlock(); err != nil {
		return core.DailySnapshot{}, err
	}
	defer s.mu.RUnlock()

	found, ok := s.snapshotDB[id]
	if !ok {
		return core.DailySnapshot{}, fmt.Errorf("snapshot %d: %w", id, storage.ErrNotFound)
	}
	return found.Clone(), nil
}

func (s *Store) DeleteSnapshot(ctx context.Context, id int64) (err error) {
	defer s.observe(ctx, storage.OpDeleteSnapshot, time.Now(), &err)
	if err := s.lock(); err != nil {
		return err
	}
	snap, ok := s.snapshotDB[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("snapshot %d: %w", id, storage.ErrNotFound)
	}
	delete(s.snapshotDB, id)
	s.mu.Unlock()

	s.notifySnapshots(ctx, watch.At(snap.RecordDate))
	return nil
}

func (s *Store) DeleteSnapshotsInRange(ctx context.Context, start, endInclusive int64) (n int, err error) {
	defer s.observe(ctx, storage.OpDeleteSnapshotsInRange, time.Now(), &err)
	if err := s.lock(); err != nil {
		return 0, err
	}
	for id, snap := range s.snapshotDB {
		if snap.RecordDate >= start && snap.RecordDate <= endInclusive {
			delete(s.snapshotDB, id)
			n++
		}
	}
	s.mu.Unlock()

	if n > 0 {
		s.notifySnapshots(ctx, storage.SnapshotQuery{Start: start, EndInclusive: endInclusive}.Span())
	}
	return n, nil
}

func (s *Store) MasterSnapshotForDate(ctx context.Context, date time.Time) (snap core.DailySnapshot, err error) {
	defer s.observe(ctx, storage.OpMasterSnapshotForDate, time.Now(), &err)
	recordDate, _ := storage.DayRange(date, s.opts.Location)

	masters, err := s.snapshotsInRange(storage.SnapshotQuery{Start: recordDate, EndInclusive: recordDate, MasterOnly: true})
	if err != nil {
		return core.DailySnapshot{}, err
	}
	if len(masters) == 0 {
		return core.DailySnapshot{}, fmt.Errorf("master snapshot for %d: %w", recordDate, storage.ErrNotFound)
	}
	return masters[0], nil
}

func (s *Store) snapshotsInRange(q storage.SnapshotQuery) ([]core.DailySnapshot, error) {
	if err := s.rlock(); err != nil {
		return nil, err
	}
	defer s.mu.RUnlock()

	out := []core.DailySnapshot{}
	for _, snap := range s.snapshotDB {
		if snap.RecordDate < q.Start || snap.RecordDate > q.EndInclusive {
			continue
		}
		if q.MasterOnly && !snap.IsMasterSave {
			continue
		}
		out = append(out, snap.Clone())
	}
	if q.MasterOnly {
		slices.SortFunc(out, func(a, b core.DailySnapshot) int {
			if a.RecordDate != b.RecordDate {
				if a.RecordDate < b.RecordDate {
					return -1
				}
				return 1
			}
			return storage.CompareSnapshots(a, b)
		})
	} else {
		slices.SortFunc(out, storage.CompareSnapshots)
	}
	return out, nil
}

func (s *Store) SnapshotsInRange(ctx context.Context, start, endInclusive int64) (snaps []core.DailySnapshot, err error) {
	defer s.observe(ctx, storage.OpSnapshotsInRange, time.Now(), &err)
	return s.snapshotsInRange(storage.SnapshotQuery{Start: start, EndInclusive: endInclusive})
}

func (s *Store) MasterSnapshotsInRange(ctx context.Context, start, endInclusive int64) (snaps []core.DailySnapshot, err error) {
	defer s.observe(ctx, storage.OpMasterSnapshotsInRange, time.Now(), &err)
	return s.snapshotsInRange(storage.SnapshotQuery{Start: start, EndInclusive: endInclusive, MasterOnly: true})
}

func (s *Store) AllSnapshots(ctx context.Context) (snaps []core.DailySnapshot, err error) {
	defer s.observe(ctx, storage.OpAllSnapshots, time.Now(), &err)
	if err := s.rlock(); err != nil {
		return nil, err
	}
	defer s.mu.RUnlock()

	out := make([]core.DailySnapshot, 0, len(s.snapshotDB))
	for _, snap := range s.snapshotDB {
		out = append(out, snap.Clone())
	}
	slices.SortFunc(out, func(a, b core.DailySnapshot) int {
		if a.RecordDate != b.RecordDate {
			if a.RecordDate < b.RecordDate {
				return -1
			}
			return 1
		}
		if a.ID < b.ID {
			return -1
		}
		return 1
	})
	return out, nil
}

func (s *Store) SubscribeSnapshots(ctx context.Context, q storage.SnapshotQuery, fn storage.SnapshotsListener) (*watch.Subscription, error) {
	if err := s.rlock(); err != nil {
		return nil, storage.Wrap(storage.OpSubscribeSnapshots, err)
	}
	s.mu.RUnlock()
	if fn == nil {
		return nil, storage.Wrap(storage.OpSubscribeSnapshots, fmt.Errorf("%w: nil listener", storage.ErrInvalidInput))
	}
	return s.snapshots.Add(ctx, q.Span(), func(context.Context) {
		snaps, err := s.snapshotsInRange(q)
		fn(snaps, storage.Wrap(storage.OpSubscribeSnapshots, err))
	}), nil
}

func (s *Store) ClearAndInsertAll(ctx context.Context, items []core.LineItem, snaps []core.DailySnapshot) (err error) {
	defer s.observe(ctx, storage.OpClearAndInsertAll, time.Now(), &err)

	preparedItems, preparedSnaps, err := storage.PrepareArchive(items, snaps, s.opts)
	if err != nil {
		return err
	}

	if err := s.lock(); err != nil {
		return err
	}
	s.itemRows = make(map[int64]core.LineItem, len(preparedItems))
	s.snapshotDB = make(map[int64]core.DailySnapshot, len(preparedSnaps))
	s.nextItem, s.nextSnap = maxItemID(preparedItems), maxSnapshotID(preparedSnaps)
	for _, it := range preparedItems {
		s.itemRows[it.ID] = it
	}
	for _, snap := range preparedSnaps {
		s.snapshotDB[snap.ID] = snap
	}
	s.mu.Unlock()

	s.log.InfoContext(ctx, "Database restored",
		"items", len(preparedItems),
		"snapshots", len(preparedSnaps))
	s.notifyItems(ctx, watch.Everything)
	s.notifySnapshots(ctx, watch.Everything)
	return nil
}

func maxItemID(items []core.LineItem) int64 {
	var m int64
	for _, it := range items {
		m = max(m, it.ID)
	}
	return m
}

func maxSnapshotID(snaps []core.DailySnapshot) int64 {
	var m int64
	for _, s := range snaps {
		m = max(m, s.ID)
	}
	return m
}
