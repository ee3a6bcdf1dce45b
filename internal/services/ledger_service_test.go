package services

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"dailyledger/internal/amqp"
	"dailyledger/internal/classify"
	"dailyledger/internal/core"
	"dailyledger/internal/metrics"
	"dailyledger/internal/storage"
	"dailyledger/internal/storage/memory"
)

var (
	ist   = time.FixedZone("IST", 5*3600+1800)
	day   = time.Date(2024, 3, 15, 0, 0, 0, 0, ist)
	clock = time.Date(2024, 3, 15, 18, 30, 0, 0, ist)
)

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []*amqp.DayChangedMessage
	err  error
}

func (p *recordingPublisher) PublishDayChanged(_ context.Context, msg *amqp.DayChangedMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return p.err
}

func (p *recordingPublisher) ops() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.msgs))
	for i, m := range p.msgs {
		out[i] = m.Op
	}
	return out
}

type fixture struct {
	svc     *LedgerService
	store   storage.Store
	pub     *recordingPublisher
	metrics *metrics.Collector
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	now := func() time.Time { return clock }
	store := memory.New(storage.Options{Location: ist, Now: now})
	t.Cleanup(func() { store.Close() })

	pub := &recordingPublisher{}
	m := metrics.New()
	svc := NewLedgerService(store, classify.New(classify.DefaultKeywords()),
		WithPublisher(pub),
		WithMetrics(m),
		WithLocation(ist),
		WithClock(now))
	return fixture{svc: svc, store: store, pub: pub, metrics: m}
}

func TestAddItem(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	item, err := f.svc.AddItem(ctx, core.Descriptor{Name: "Milk", Quantity: core.QuantityOf("2L"), Price: 45.456, Categories: []string{"Groceries"}}, day)
	require.NoError(t, err)
	require.NotZero(t, item.ID)
	require.Equal(t, 45.46, item.Price)
	require.Equal(t, clock.UnixMilli(), item.TimestampMillis)

	text, err := f.svc.AddItemText(ctx, "Bread (1) - ₹20.00|CATS:Food", day)
	require.NoError(t, err)
	require.Equal(t, "Bread", text.Name)
	require.Equal(t, "1", text.QuantityText())
	require.Equal(t, []string{"Food"}, text.Categories)

	total, err := f.svc.DayTotal(ctx, day)
	require.NoError(t, err)
	require.Equal(t, 65.46, total)

	view, err := f.svc.DayView(ctx, day)
	require.NoError(t, err)
	require.Len(t, view, 2)
	require.Equal(t, "45.46", view[0].PriceText)

	require.Equal(t, []string{amqp.OpItemAdded, amqp.OpItemAdded}, f.pub.ops())
	require.Equal(t, day.UnixMilli(), f.pub.msgs[0].RecordDate)
}

func TestAddItem_OtherDayKeepsClockTime(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	yesterday := day.AddDate(0, 0, -1)
	item, err := f.svc.AddItem(ctx, core.Descriptor{Name: "Tea", Price: 10}, yesterday)
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 3, 14, 18, 30, 0, 0, ist).UnixMilli(), item.TimestampMillis)

	items, err := f.svc.ItemsForDate(ctx, day)
	require.NoError(t, err)
	require.Empty(t, items)
}

func TestAddItem_RejectsInvalid(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.AddItem(context.Background(), core.Descriptor{Name: "  ", Price: 1}, day)
	require.ErrorIs(t, err, storage.ErrInvalidInput)
	require.Empty(t, f.pub.ops())
}

func TestEditItem(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	item, err := f.svc.AddItem(ctx, core.Descriptor{Name: "Petrol", Price: 100}, day)
	require.NoError(t, err)

	edited, err := f.svc.SetPriceText(ctx, item.ID, "₹ 250.5 /-")
	require.NoError(t, err)
	require.Equal(t, 250.5, edited.Price)
	require.Equal(t, "Petrol", edited.Name)
	require.Equal(t, item.TimestampMillis, edited.TimestampMillis)

	edited, err = f.svc.SetPriceText(ctx, item.ID, "abc")
	require.NoError(t, err)
	require.Zero(t, edited.Price)

	toggled, err := f.svc.ToggleDone(ctx, item.ID)
	require.NoError(t, err)
	require.True(t, toggled.IsDone)
	toggled, err = f.svc.ToggleDone(ctx, item.ID)
	require.NoError(t, err)
	require.False(t, toggled.IsDone)

	renamed, err := f.svc.EditItem(ctx, item.ID, func(it *core.LineItem) {
		it.Name = "Fuel"
		it.Categories = append(it.Categories, "Transport")
	})
	require.NoError(t, err)
	require.Equal(t, "Fuel", renamed.Name)
	require.Equal(t, []string{"Transport"}, renamed.Categories)

	_, err = f.svc.ToggleDone(ctx, 9999)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDeleteItem(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	item, err := f.svc.AddItem(ctx, core.Descriptor{Name: "Snack", Price: 15}, day)
	require.NoError(t, err)
	require.NoError(t, f.svc.DeleteItem(ctx, item.ID))
	require.ErrorIs(t, f.svc.DeleteItem(ctx, item.ID), storage.ErrNotFound)
}

func TestReplaceDayText(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.AddItem(ctx, core.Descriptor{Name: "Old", Price: 1}, day)
	require.NoError(t, err)

	require.NoError(t, f.svc.ReplaceDayText(ctx, day, []string{
		"Rent - ₹5000.00|CATS:Rent",
		"Movie (2 tickets) - ₹400.00|CATS:Entertainment",
	}))

	items, err := f.svc.ItemsForDate(ctx, day)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "Rent", items[0].Name)
	require.Equal(t, day.UnixMilli(), items[0].TimestampMillis)
	require.Equal(t, float64(2), testutil.ToFloat64(f.metrics.LegacyDecoded))
	require.Contains(t, f.pub.ops(), amqp.OpDayReplaced)
}

func TestReplaceDayText_RejectedNotCounted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	err := f.svc.ReplaceDayText(ctx, day, []string{
		"Rent - ₹5000.00",
		strings.Repeat("x", 201) + " - ₹1.00",
	})
	require.True(t, storage.IsInvalidInput(err))
	require.Zero(t, testutil.ToFloat64(f.metrics.LegacyDecoded))
	require.NotContains(t, f.pub.ops(), amqp.OpDayReplaced)
}

func TestSaveDay_SingleMaster(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.AddItem(ctx, core.Descriptor{Name: "Milk", Price: 45}, day)
	require.NoError(t, err)

	draft, err := f.svc.SaveDay(ctx, day, false)
	require.NoError(t, err)
	require.False(t, draft.IsMasterSave)
	require.Equal(t, 45.0, draft.TotalSum)
	require.Equal(t, day.UnixMilli(), draft.RecordDate)

	first, err := f.svc.SaveDay(ctx, day, true)
	require.NoError(t, err)

	_, err = f.svc.AddItem(ctx, core.Descriptor{Name: "Bread", Price: 20}, day)
	require.NoError(t, err)
	second, err := f.svc.SaveDay(ctx, day, true)
	require.NoError(t, err)
	require.Equal(t, 65.0, second.TotalSum)
	require.Len(t, second.Payload, 2)

	masters, err := f.svc.Snapshots(ctx, day, day, true)
	require.NoError(t, err)
	require.Len(t, masters, 1)
	require.Equal(t, second.ID, masters[0].ID)

	all, err := f.svc.Snapshots(ctx, day, day, false)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, second.ID, all[0].ID)

	total, ok, err := f.svc.MasterTotal(ctx, day)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 65.0, total)

	promoted, err := f.svc.PromoteSnapshot(ctx, first.ID)
	require.NoError(t, err)
	require.True(t, promoted.IsMasterSave)
	masters, err = f.svc.Snapshots(ctx, day, day, true)
	require.NoError(t, err)
	require.Len(t, masters, 1)
	require.Equal(t, first.ID, masters[0].ID)

	_, ok, err = f.svc.MasterTotal(ctx, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRestoreSnapshot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.AddItem(ctx, core.Descriptor{Name: "Milk", Price: 45, Categories: []string{"Groceries"}}, day)
	require.NoError(t, err)
	snap, err := f.svc.SaveDay(ctx, day, true)
	require.NoError(t, err)

	require.NoError(t, f.svc.ReplaceDay(ctx, day, []core.LineItem{{Descriptor: core.Descriptor{Name: "Other", Price: 1}}}))

	restored, err := f.svc.RestoreSnapshot(ctx, snap.ID)
	require.NoError(t, err)
	require.Len(t, restored, 1)
	require.Equal(t, "Milk", restored[0].Name)
	require.Equal(t, []string{"Groceries"}, restored[0].Categories)
	require.Equal(t, amqp.OpDayRestored, f.pub.ops()[len(f.pub.ops())-1])

	_, err = f.svc.RestoreSnapshot(ctx, 9999)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestLegendAndFilter(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.svc.ReplaceDay(ctx, day, []core.LineItem{
		{Descriptor: core.Descriptor{Name: "Rent", Price: 5000, Categories: []string{"Rent", "Family"}}},
		{Descriptor: core.Descriptor{Name: "Veg", Price: 80, Categories: []string{"Vegetables", "Family"}}},
		{Descriptor: core.Descriptor{Name: "Film", Price: 300, Categories: []string{"Movies"}}},
	}))

	legend, err := f.svc.Legend(ctx, day, classify.ColorFunc(func(name string, tier core.Tier) string {
		return tier.String() + ":" + name
	}))
	require.NoError(t, err)
	require.Equal(t, []classify.LegendEntry{
		{Name: "Family", Color: "primary:Family"},
		{Name: "Rent", Color: "primary:Rent"},
	}, legend.Primary)
	require.Equal(t, []classify.LegendEntry{{Name: "Vegetables", Color: "secondary:Vegetables"}}, legend.Secondary)
	require.Equal(t, []classify.LegendEntry{{Name: "Movies", Color: "tertiary:Movies"}}, legend.Tertiary)

	buckets, err := f.svc.Buckets(ctx, day, day)
	require.NoError(t, err)
	require.Equal(t, []string{"Family", "Rent"}, buckets.Primary)

	matched, err := f.svc.FilterIntersection(ctx, day, day, [][]string{{"Family"}, {"Rent", "Vegetables"}})
	require.NoError(t, err)
	require.Len(t, matched, 2)

	matched, err = f.svc.FilterIntersection(ctx, day, day, [][]string{{"Movies"}, {"Rent"}})
	require.NoError(t, err)
	require.Empty(t, matched)
}

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	src := newFixture(t)

	_, err := src.svc.AddItem(ctx, core.Descriptor{Name: "Milk", Quantity: core.QuantityOf("2L"), Price: 45, Categories: []string{"Groceries"}}, day)
	require.NoError(t, err)
	_, err = src.svc.SaveDay(ctx, day, true)
	require.NoError(t, err)

	archive, err := src.svc.Export(ctx)
	require.NoError(t, err)
	require.Equal(t, ArchiveVersion, archive.Version)
	require.Len(t, archive.Items, 1)
	require.Equal(t, "Milk (2L) - ₹45.00|CATS:Groceries", archive.Items[0].Descriptor)
	require.Len(t, archive.Snapshots, 1)
	require.Equal(t, float64(1), testutil.ToFloat64(src.metrics.ArchiveItems.WithLabelValues("export", "items")))

	var buf bytes.Buffer
	require.NoError(t, WriteArchive(&buf, archive))
	read, err := ReadArchive(&buf)
	require.NoError(t, err)
	require.Equal(t, archive.ID, read.ID)

	// An older archive that only carries descriptor text.
	read.Items = append(read.Items, ArchiveItem{
		ID:              50,
		Descriptor:      "Bread - ₹20.00|CATS:Food",
		TimestampMillis: day.Add(time.Hour).UnixMilli(),
	})

	dst := newFixture(t)
	require.NoError(t, dst.svc.Import(ctx, read))

	items, err := dst.svc.ItemsForDate(ctx, day)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "Bread", items[0].Name)
	require.Equal(t, int64(50), items[0].ID)
	require.Equal(t, "Milk", items[1].Name)
	require.Equal(t, "2L", items[1].QuantityText())

	snaps, err := dst.store.AllSnapshots(ctx)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	require.True(t, snaps[0].IsMasterSave)
	require.Equal(t, float64(1), testutil.ToFloat64(dst.metrics.LegacyDecoded))
	require.Equal(t, []string{amqp.OpArchiveLoaded}, dst.pub.ops())
}

func TestImport_RejectsUnknownVersion(t *testing.T) {
	f := newFixture(t)
	err := f.svc.Import(context.Background(), &Archive{Version: ArchiveVersion + 1})
	require.Error(t, err)
	require.Error(t, f.svc.Import(context.Background(), nil))
}

func TestPublishFailureDoesNotFailWrite(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.pub.err = errors.New("circuit breaker is open")

	item, err := f.svc.AddItem(ctx, core.Descriptor{Name: "Milk", Price: 45}, day)
	require.NoError(t, err)
	require.NotZero(t, item.ID)
}

func TestWithoutPublisher(t *testing.T) {
	ctx := context.Background()
	store := memory.New(storage.Options{Location: ist})
	defer store.Close()

	svc := NewLedgerService(store, nil, WithLocation(ist))
	_, err := svc.AddItem(ctx, core.Descriptor{Name: "Milk", Price: 45}, time.Now().In(ist))
	require.NoError(t, err)
	require.Equal(t, ist, svc.Location())
}

func TestWatchDay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixture(t)

	var (
		mu     sync.Mutex
		counts []int
	)
	sub, err := f.svc.WatchDay(ctx, day, func(items []core.LineItem, err error) {
		require.NoError(t, err)
		mu.Lock()
		counts = append(counts, len(items))
		mu.Unlock()
	})
	require.NoError(t, err)
	defer sub.Close()

	_, err = f.svc.AddItem(ctx, core.Descriptor{Name: "Milk", Price: 45}, day)
	require.NoError(t, err)
	_, err = f.svc.AddItem(ctx, core.Descriptor{Name: "Other day", Price: 45}, day.AddDate(0, 0, 2))
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{0, 1}, counts)
}
