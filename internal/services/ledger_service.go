package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"dailyledger/internal/amqp"
	"dailyledger/internal/classify"
	"dailyledger/internal/codec"
	"dailyledger/internal/core"
	applog "dailyledger/internal/log"
	"dailyledger/internal/metrics"
	"dailyledger/internal/storage"
	"dailyledger/internal/watch"
)

// Publisher announces committed day changes. Publishing is best effort:
// a failure is logged and never fails the ledger write.
type Publisher interface {
	PublishDayChanged(ctx context.Context, msg *amqp.DayChangedMessage) error
}

// LedgerService orchestrates item edits, day saves and reports on top of a
// storage.Store.
type LedgerService struct {
	store      storage.Store
	classifier *classify.Classifier
	publisher  Publisher
	metrics    *metrics.Collector
	loc        *time.Location
	now        func() time.Time
}

type Option func(*LedgerService)

func WithPublisher(p Publisher) Option {
	return func(s *LedgerService) { s.publisher = p }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(s *LedgerService) { s.metrics = m }
}

func WithLocation(loc *time.Location) Option {
	return func(s *LedgerService) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *LedgerService) {
		if now != nil {
			s.now = now
		}
	}
}

func NewLedgerService(store storage.Store, classifier *classify.Classifier, opts ...Option) *LedgerService {
	s := &LedgerService{
		store:      store,
		classifier: classifier,
		loc:        time.Local,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.classifier == nil {
		s.classifier = classify.New(classify.DefaultKeywords())
	}
	return s
}

func (s *LedgerService) Store() storage.Store {
	return s.store
}

// Location returns the zone defining local days.
func (s *LedgerService) Location() *time.Location {
	return s.loc
}

// stamp places the current wall-clock time on date's calendar day.
func (s *LedgerService) stamp(date time.Time) int64 {
	now := s.now().In(s.loc)
	if date.IsZero() {
		return now.UnixMilli()
	}
	y, m, d := date.In(s.loc).Date()
	return time.Date(y, m, d, now.Hour(), now.Minute(), now.Second(), now.Nanosecond(), s.loc).UnixMilli()
}

func (s *LedgerService) dayStart(date time.Time) int64 {
	start, _ := storage.DayRange(date, s.loc)
	return start
}

// AddItem stores a new item on date's day.
func (s *LedgerService) AddItem(ctx context.Context, d core.Descriptor, date time.Time) (core.LineItem, error) {
	d.Price = core.Round2(d.Price)
	item := core.LineItem{Descriptor: d, TimestampMillis: s.stamp(date)}

	id, err := s.store.InsertItem(ctx, item)
	if err != nil {
		return core.LineItem{}, fmt.Errorf("add item: %w", err)
	}
	stored, err := s.store.GetItem(ctx, id)
	if err != nil {
		return core.LineItem{}, fmt.Errorf("read added item: %w", err)
	}

	slog.InfoContext(ctx, "Added item",
		applog.FieldComponent, applog.ComponentService,
		applog.FieldItemID, id,
		"name", stored.Name,
		"price", stored.Price)

	s.publish(ctx, amqp.OpItemAdded, s.dayStart(date), 1)
	return stored, nil
}

// AddItemText decodes descriptor text and stores the result.
func (s *LedgerService) AddItemText(ctx context.Context, text string, date time.Time) (core.LineItem, error) {
	return s.AddItem(ctx, codec.Decode(text), date)
}

// EditItem applies modify to a copy of the item's descriptor and writes
// the whole item back.
func (s *LedgerService) EditItem(ctx context.Context, id int64, modify func(*core.LineItem)) (core.LineItem, error) {
	item, err := s.store.GetItem(ctx, id)
	if err != nil {
		return core.LineItem{}, fmt.Errorf("get item %d: %w", id, err)
	}

	edited := item.Clone()
	modify(&edited)
	edited.ID = item.ID
	edited.Price = core.Round2(edited.Price)

	if err := s.store.UpdateItem(ctx, edited); err != nil {
		return core.LineItem{}, fmt.Errorf("update item %d: %w", id, err)
	}
	stored, err := s.store.GetItem(ctx, id)
	if err != nil {
		return core.LineItem{}, fmt.Errorf("read item %d: %w", id, err)
	}

	s.publish(ctx, amqp.OpItemEdited, core.StartOfDayMillis(stored.TimestampMillis, s.loc), 1)
	return stored, nil
}

// SetPriceText parses user-entered price text; text that is not a number
// sets the price to 0.
func (s *LedgerService) SetPriceText(ctx context.Context, id int64, text string) (core.LineItem, error) {
	price := codec.ParsePriceText(text)
	return s.EditItem(ctx, id, func(it *core.LineItem) { it.Price = price })
}

func (s *LedgerService) ToggleDone(ctx context.Context, id int64) (core.LineItem, error) {
	return s.EditItem(ctx, id, func(it *core.LineItem) { it.IsDone = !it.IsDone })
}

func (s *LedgerService) DeleteItem(ctx context.Context, id int64) error {
	item, err := s.store.GetItem(ctx, id)
	if err != nil {
		return fmt.Errorf("get item %d: %w", id, err)
	}
	if err := s.store.DeleteItem(ctx, id); err != nil {
		return fmt.Errorf("delete item %d: %w", id, err)
	}
	s.publish(ctx, amqp.OpItemEdited, core.StartOfDayMillis(item.TimestampMillis, s.loc), 0)
	return nil
}

func (s *LedgerService) ItemsForDate(ctx context.Context, date time.Time) ([]core.LineItem, error) {
	items, err := s.store.ItemsForDate(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("items for %s: %w", date.Format(core.DayLayout), err)
	}
	return items, nil
}

// DayView returns the consumer records for date's items.
func (s *LedgerService) DayView(ctx context.Context, date time.Time) ([]codec.Record, error) {
	items, err := s.ItemsForDate(ctx, date)
	if err != nil {
		return nil, err
	}
	records := make([]codec.Record, len(items))
	for i, it := range items {
		records[i] = codec.View(it)
	}
	return records, nil
}

func (s *LedgerService) DayTotal(ctx context.Context, date time.Time) (float64, error) {
	items, err := s.ItemsForDate(ctx, date)
	if err != nil {
		return 0, err
	}
	return core.SumPrices(items), nil
}

// ReplaceDay atomically swaps date's items for items.
func (s *LedgerService) ReplaceDay(ctx context.Context, date time.Time, items []core.LineItem) error {
	if err := s.store.ReplaceForDate(ctx, items, date); err != nil {
		return fmt.Errorf("replace %s: %w", date.Format(core.DayLayout), err)
	}

	slog.InfoContext(ctx, "Replaced day",
		applog.FieldComponent, applog.ComponentService,
		applog.FieldRecordDate, s.dayStart(date),
		applog.FieldCount, len(items))

	s.publish(ctx, amqp.OpDayReplaced, s.dayStart(date), len(items))
	return nil
}

// ReplaceDayText replaces date's items with the decoded descriptor lines.
func (s *LedgerService) ReplaceDayText(ctx context.Context, date time.Time, lines []string) error {
	items := make([]core.LineItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, codec.FromLegacy(0, line, false, 0, nil))
	}
	if err := s.ReplaceDay(ctx, date, items); err != nil {
		return err
	}
	s.metrics.Decoded(len(lines))
	return nil
}

// SaveDay stores a snapshot of date's current items with their total.
// A master save demotes any earlier master for the date unless the store
// runs in legacy mode.
func (s *LedgerService) SaveDay(ctx context.Context, date time.Time, master bool) (core.DailySnapshot, error) {
	items, err := s.ItemsForDate(ctx, date)
	if err != nil {
		return core.DailySnapshot{}, err
	}

	snap := core.DailySnapshot{
		RecordDate:      s.dayStart(date),
		TotalSum:        core.SumPrices(items),
		IsMasterSave:    master,
		TimestampMillis: s.now().UnixMilli(),
		Payload:         items,
	}
	id, err := s.store.InsertSnapshot(ctx, snap)
	if err != nil {
		return core.DailySnapshot{}, fmt.Errorf("save %s: %w", date.Format(core.DayLayout), err)
	}
	saved, err := s.store.GetSnapshot(ctx, id)
	if err != nil {
		return core.DailySnapshot{}, fmt.Errorf("read snapshot %d: %w", id, err)
	}

	slog.InfoContext(ctx, "Saved day",
		append(applog.NewFields().
			WithComponent(applog.ComponentService).
			WithSnapshot(saved.ID, saved.RecordDate, saved.TotalSum, saved.IsMasterSave).
			ToSlice(), applog.FieldCount, len(items))...)

	s.publish(ctx, amqp.OpDaySaved, saved.RecordDate, len(items))
	return saved, nil
}

// PromoteSnapshot marks an existing snapshot as its date's master.
func (s *LedgerService) PromoteSnapshot(ctx context.Context, id int64) (core.DailySnapshot, error) {
	snap, err := s.store.GetSnapshot(ctx, id)
	if err != nil {
		return core.DailySnapshot{}, fmt.Errorf("get snapshot %d: %w", id, err)
	}
	snap.IsMasterSave = true
	if err := s.store.UpdateSnapshot(ctx, snap); err != nil {
		return core.DailySnapshot{}, fmt.Errorf("promote snapshot %d: %w", id, err)
	}
	s.publish(ctx, amqp.OpDaySaved, snap.RecordDate, len(snap.Payload))
	return s.store.GetSnapshot(ctx, id)
}

// RestoreSnapshot replaces the snapshot's day with its payload.
func (s *LedgerService) RestoreSnapshot(ctx context.Context, id int64) ([]core.LineItem, error) {
	snap, err := s.store.GetSnapshot(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get snapshot %d: %w", id, err)
	}

	date := core.FromMillis(snap.RecordDate, s.loc)
	start, end := storage.DayRange(date, s.loc)
	items := make([]core.LineItem, len(snap.Payload))
	for i, it := range snap.Payload {
		it.ID = 0
		if it.TimestampMillis < start || it.TimestampMillis >= end {
			it.TimestampMillis = start
		}
		items[i] = it
	}

	if err := s.store.ReplaceForDate(ctx, items, date); err != nil {
		return nil, fmt.Errorf("restore snapshot %d: %w", id, err)
	}

	slog.InfoContext(ctx, "Restored snapshot",
		applog.FieldComponent, applog.ComponentService,
		applog.FieldSnapshotID, id,
		applog.FieldRecordDate, snap.RecordDate,
		applog.FieldCount, len(items))

	s.publish(ctx, amqp.OpDayRestored, snap.RecordDate, len(items))
	return s.store.ItemsForDate(ctx, date)
}

// Snapshots lists the snapshots recorded for days from..to inclusive.
func (s *LedgerService) Snapshots(ctx context.Context, from, to time.Time, masterOnly bool) ([]core.DailySnapshot, error) {
	start, end := s.dayStart(from), s.dayStart(to)
	if masterOnly {
		return s.store.MasterSnapshotsInRange(ctx, start, end)
	}
	return s.store.SnapshotsInRange(ctx, start, end)
}

// MasterTotal returns the master snapshot total for date; ok is false when
// the day has no master.
func (s *LedgerService) MasterTotal(ctx context.Context, date time.Time) (total float64, ok bool, err error) {
	snap, err := s.store.MasterSnapshotForDate(ctx, date)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return snap.TotalSum, true, nil
}

// Legend groups the categories used on date by tier.
func (s *LedgerService) Legend(ctx context.Context, date time.Time, colors classify.ColorAssigner) (classify.Legend, error) {
	items, err := s.ItemsForDate(ctx, date)
	if err != nil {
		return classify.Legend{}, err
	}
	return s.classifier.Legend(classify.CollectCategories(items), colors), nil
}

// Buckets classifies every category used in [from, to].
func (s *LedgerService) Buckets(ctx context.Context, from, to time.Time) (classify.Buckets, error) {
	items, err := s.rangeItems(ctx, from, to)
	if err != nil {
		return classify.Buckets{}, err
	}
	return s.classifier.Bucketize(classify.CollectCategories(items)), nil
}

// FilterIntersection returns the items of days from..to whose categories
// cover at least one combination drawn from groups.
func (s *LedgerService) FilterIntersection(ctx context.Context, from, to time.Time, groups [][]string) ([]core.LineItem, error) {
	items, err := s.rangeItems(ctx, from, to)
	if err != nil {
		return nil, err
	}
	return classify.FilterIntersection(items, groups), nil
}

func (s *LedgerService) rangeItems(ctx context.Context, from, to time.Time) ([]core.LineItem, error) {
	start := s.dayStart(from)
	_, end := storage.DayRange(to, s.loc)
	items, err := s.store.ItemsInRange(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("items in range: %w", err)
	}
	return items, nil
}

// WatchDay subscribes fn to date's items until ctx is done or the
// subscription is closed.
func (s *LedgerService) WatchDay(ctx context.Context, date time.Time, fn storage.ItemsListener) (*watch.Subscription, error) {
	start, end := storage.DayRange(date, s.loc)
	return s.store.SubscribeItems(ctx, watch.Span{Start: start, End: end}, fn)
}

func (s *LedgerService) publish(ctx context.Context, op string, recordDate int64, count int) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishDayChanged(ctx, amqp.NewDayChangedMessage(op, recordDate, count)); err != nil {
		slog.ErrorContext(ctx, "Failed to publish day change",
			applog.FieldComponent, applog.ComponentService,
			"op", op,
			applog.FieldRecordDate, recordDate,
			applog.FieldError, err)
	}
}
