// Package storagetest holds the conformance suite every storage.Store
// engine must pass.
package storagetest

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"dailyledger/internal/core"
	"dailyledger/internal/storage"
	"dailyledger/internal/watch"
)

// Factory opens a fresh, empty store. The suite closes it.
type Factory func(t *testing.T, opts storage.Options) storage.Store

// Zone is the fixed location the suite uses for local-day boundaries.
var Zone = time.FixedZone("IST", 5*3600+1800)

// Day is the reference day for the suite.
var Day = time.Date(2024, time.March, 15, 0, 0, 0, 0, Zone)

func dayStart() int64 { return Day.UnixMilli() }
func dayEnd() int64 { return core.NextDay(Day).UnixMilli() }

// Run executes the suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	open := func(t *testing.T, legacy bool) storage.Store {
		t.Helper()
		s := newStore(t, storage.Options{
			Location:             Zone,
			AllowMultipleMasters: legacy,
		})
		t.Cleanup(func() { _ = s.Close() })
		return s
	}

	t.Run("item CRUD", func(t *testing.T) { testItemCRUD(t, open(t, false)) })
	t.Run("item validation", func(t *testing.T) { testItemValidation(t, open(t, false)) })
	t.Run("delete items in range boundaries", func(t *testing.T) { testDeleteRange(t, open(t, false)) })
	t.Run("delete items batch", func(t *testing.T) { testDeleteItems(t, open(t, false)) })
	t.Run("replace for date", func(t *testing.T) { testReplaceForDate(t, open(t, false)) })
	t.Run("replace rejects items outside the day", func(t *testing.T) { testReplaceRejects(t, open(t, false)) })
	t.Run("replace is atomic for readers", func(t *testing.T) { testReplaceAtomic(t, open(t, false)) })
	t.Run("snapshot ordering", func(t *testing.T) { testSnapshotOrdering(t, open(t, false)) })
	t.Run("snapshot payload", func(t *testing.T) { testSnapshotPayload(t, open(t, false)) })
	t.Run("single master per date", func(t *testing.T) { testSingleMaster(t, open(t, false)) })
	t.Run("legacy mode allows two masters", func(t *testing.T) { testLegacyMasters(t, open(t, true)) })
	t.Run("master snapshots in range", func(t *testing.T) { testMasterRange(t, open(t, false)) })
	t.Run("delete snapshots", func(t *testing.T) { testDeleteSnapshots(t, open(t, false)) })
	t.Run("clear and insert all", func(t *testing.T) { testClearAndInsertAll(t, open(t, false)) })
	t.Run("item subscriptions", func(t *testing.T) { testSubscribeItems(t, open(t, false)) })
	t.Run("snapshot subscriptions", func(t *testing.T) { testSubscribeSnapshots(t, open(t, false)) })
	t.Run("closed store", func(t *testing.T) { testClosed(t, open(t, false)) })
}

func item(name string, price float64, ts int64, cats ...string) core.LineItem {
	if cats == nil {
		cats = []string{}
	}
	return core.LineItem{
		Descriptor:      core.Descriptor{Name: name, Price: price, Categories: cats},
		TimestampMillis: ts,
	}
}

func names(items []core.LineItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Name
	}
	slices.Sort(out)
	return out
}

func testItemCRUD(t *testing.T, s storage.Store) {
	ctx := context.Background()

	in := item("Milk", 45, dayStart()+1000, "Groceries", "Food")
	in.Quantity = core.QuantityOf("2L")
	in.ImageRefs = []string{"img-1"}

	id, err := s.InsertItem(ctx, in)
	require.NoError(t, err)
	require.Positive(t, id)

	got, err := s.GetItem(ctx, id)
	require.NoError(t, err)
	in.ID = id
	assert.Equal(t, in, got)

	got.IsDone = true
	got.Price = 50.5
	got.Quantity = nil
	got.TimestampMillis = 0
	require.NoError(t, s.UpdateItem(ctx, got))

	updated, err := s.GetItem(ctx, id)
	require.NoError(t, err)
	assert.True(t, updated.IsDone)
	assert.Equal(t, 50.5, updated.Price)
	assert.Nil(t, updated.Quantity)
	assert.Equal(t, in.TimestampMillis, updated.TimestampMillis, "zero timestamp keeps the stored one")

	moved := updated
	moved.TimestampMillis = dayStart() - 86_400_000
	err = s.UpdateItem(ctx, moved)
	require.True(t, storage.IsInvalidInput(err), "timestamp is fixed after creation")
	kept, err := s.GetItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, in.TimestampMillis, kept.TimestampMillis)
	assert.Equal(t, updated, kept, "rejected update leaves the row untouched")

	same := updated
	same.Price = 51
	require.NoError(t, s.UpdateItem(ctx, same), "matching timestamp is accepted")

	require.NoError(t, s.DeleteItem(ctx, id))
	_, err = s.GetItem(ctx, id)
	require.True(t, storage.IsNotFound(err))
	assert.Equal(t, storage.OpGetItem, storage.OpOf(err))

	err = s.DeleteItem(ctx, id)
	assert.True(t, storage.IsNotFound(err))

	err = s.UpdateItem(ctx, got)
	assert.True(t, storage.IsNotFound(err))
}

func testItemValidation(t *testing.T, s storage.Store) {
	ctx := context.Background()

	_, err := s.InsertItem(ctx, item("  ", 1, dayStart()))
	assert.True(t, storage.IsInvalidInput(err))
	assert.True(t, errors.Is(err, core.ErrEmptyName))

	_, err = s.InsertItem(ctx, item("Refund", -5, dayStart()))
	assert.True(t, storage.IsInvalidInput(err))

	err = s.UpdateItem(ctx, item("No id", 1, dayStart()))
	assert.True(t, storage.IsInvalidInput(err))

	id, err := s.InsertItem(ctx, item("Stamped", 1, 0))
	require.NoError(t, err)
	got, err := s.GetItem(ctx, id)
	require.NoError(t, err)
	assert.Positive(t, got.TimestampMillis, "zero timestamp is stamped on insert")

	all, err := s.AllItems(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func testDeleteRange(t *testing.T, s storage.Store) {
	ctx := context.Background()
	start, end := dayStart(), dayEnd()

	for _, it := range []core.LineItem{
		item("at-start", 1, start),
		item("inside", 1, start+1),
		item("before-end", 1, end-1),
		item("at-end", 1, end),
		item("before-start", 1, start-1),
	} {
		_, err := s.InsertItem(ctx, it)
		require.NoError(t, err)
	}

	n, err := s.DeleteItemsInRange(ctx, start, end)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	left, err := s.AllItems(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"at-end", "before-start"}, names(left))

	n, err = s.DeleteItemsInRange(ctx, end, end)
	require.NoError(t, err)
	assert.Zero(t, n, "empty range deletes nothing")
}

func testDeleteItems(t *testing.T, s storage.Store) {
	ctx := context.Background()

	var ids []int64
	for _, name := range []string{"a", "b", "c"} {
		id, err := s.InsertItem(ctx, item(name, 1, dayStart()))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	n, err := s.DeleteItems(ctx, []int64{ids[0], ids[2], 99999})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	left, err := s.AllItems(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, names(left))

	n, err = s.DeleteItems(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testReplaceForDate(t *testing.T, s storage.Store) {
	ctx := context.Background()
	start := dayStart()
	nextDay := dayEnd() + 1000

	for _, it := range []core.LineItem{
		item("old-a", 1, start+10),
		item("old-b", 2, start+20),
		item("tomorrow", 3, nextDay),
	} {
		_, err := s.InsertItem(ctx, it)
		require.NoError(t, err)
	}

	// Mid-day reference time still targets the whole day.
	require.NoError(t, s.ReplaceForDate(ctx, []core.LineItem{
		item("X", 10, 0),
		item("Y", 20, start+5000),
	}, Day.Add(13*time.Hour)))

	got, err := s.ItemsForDate(ctx, Day)
	require.NoError(t, err)
	assert.Equal(t, []string{"X", "Y"}, names(got))
	for _, it := range got {
		if it.Name == "X" {
			assert.Equal(t, start, it.TimestampMillis, "zero timestamp becomes day start")
		}
	}

	tomorrow, err := s.ItemsInRange(ctx, dayEnd(), dayEnd()+24*3600*1000)
	require.NoError(t, err)
	assert.Equal(t, []string{"tomorrow"}, names(tomorrow))

	require.NoError(t, s.ClearAndSetItemsForDate(ctx, []core.LineItem{item("Z", 1, start+1)}, Day))
	got, err = s.ItemsForDate(ctx, Day)
	require.NoError(t, err)
	assert.Equal(t, []string{"Z"}, names(got))

	require.NoError(t, s.ReplaceForDate(ctx, nil, Day))
	got, err = s.ItemsForDate(ctx, Day)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func testReplaceRejects(t *testing.T, s storage.Store) {
	ctx := context.Background()

	_, err := s.InsertItem(ctx, item("keep", 1, dayStart()+1))
	require.NoError(t, err)

	err = s.ReplaceForDate(ctx, []core.LineItem{
		item("ok", 1, dayStart()+2),
		item("late", 1, dayEnd()),
	}, Day)
	require.True(t, storage.IsInvalidInput(err))
	assert.Equal(t, storage.OpReplaceForDate, storage.OpOf(err))

	err = s.ReplaceForDate(ctx, []core.LineItem{item("", 1, dayStart())}, Day)
	require.True(t, storage.IsInvalidInput(err))

	got, err := s.ItemsForDate(ctx, Day)
	require.NoError(t, err)
	assert.Equal(t, []string{"keep"}, names(got), "rejected replace leaves the day untouched")
}

func testReplaceAtomic(t *testing.T, s storage.Store) {
	ctx := context.Background()
	start := dayStart()

	setA := []core.LineItem{item("A1", 1, start+1), item("A2", 2, start+2), item("A3", 3, start+3)}
	setB := []core.LineItem{item("B1", 1, start+4), item("B2", 2, start+5)}
	wantA, wantB := names(setA), names(setB)
	require.NoError(t, s.ReplaceForDate(ctx, setA, Day))

	valid := func(got []string) bool {
		return slices.Equal(got, wantA) || slices.Equal(got, wantB)
	}

	var (
		mu       sync.Mutex
		observed [][]string
	)
	sub, err := s.SubscribeItems(ctx, watch.Span{Start: start, End: dayEnd()}, func(items []core.LineItem, err error) {
		if err != nil {
			return
		}
		mu.Lock()
		observed = append(observed, names(items))
		mu.Unlock()
	})
	require.NoError(t, err)
	defer sub.Close()

	const rounds = 20
	done := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(done)
		for i := 0; i < rounds; i++ {
			next := setB
			if i%2 == 1 {
				next = setA
			}
			if err := s.ReplaceForDate(gctx, next, Day); err != nil {
				return err
			}
		}
		return nil
	})
	for r := 0; r < 2; r++ {
		g.Go(func() error {
			for {
				select {
				case <-done:
					return nil
				default:
				}
				items, err := s.ItemsForDate(gctx, Day)
				if err != nil {
					return err
				}
				if got := names(items); !valid(got) {
					return errors.New("reader saw intermediate state: " + join(got))
				}
			}
		})
	}
	require.NoError(t, g.Wait())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, observed, rounds+1, "one initial delivery plus one per replace")
	for _, got := range observed {
		assert.True(t, valid(got), "subscriber saw intermediate state: %v", got)
	}
	assert.Equal(t, wantA, observed[len(observed)-1])
}

func join(s []string) string {
	out := ""
	for i, v := range s {
		if i > 0 {
			out += ","
		}
		out += v
	}
	return out
}

func snapshot(recordDate time.Time, total float64, master bool, ts int64) core.DailySnapshot {
	return core.DailySnapshot{
		RecordDate:      recordDate.UnixMilli(),
		TotalSum:        total,
		IsMasterSave:    master,
		TimestampMillis: ts,
	}
}

func testSnapshotOrdering(t *testing.T, s storage.Store) {
	ctx := context.Background()

	older, err := s.InsertSnapshot(ctx, snapshot(Day, 10, false, 100))
	require.NoError(t, err)
	master, err := s.InsertSnapshot(ctx, snapshot(Day, 20, true, 50))
	require.NoError(t, err)
	newer, err := s.InsertSnapshot(ctx, snapshot(Day, 30, false, 200))
	require.NoError(t, err)

	got, err := s.SnapshotsInRange(ctx, dayStart(), dayStart())
	require.NoError(t, err)
	ids := make([]int64, len(got))
	for i, snap := range got {
		ids[i] = snap.ID
	}
	assert.Equal(t, []int64{master, newer, older}, ids)

	// Record dates are normalized to the local day start.
	id, err := s.InsertSnapshot(ctx, snapshot(Day.Add(18*time.Hour), 5, false, 300))
	require.NoError(t, err)
	snap, err := s.GetSnapshot(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, dayStart(), snap.RecordDate)

	_, err = s.InsertSnapshot(ctx, core.DailySnapshot{RecordDate: 0, TotalSum: 1})
	assert.True(t, storage.IsInvalidInput(err))

	_, err = s.GetSnapshot(ctx, 424242)
	assert.True(t, storage.IsNotFound(err))
}

func testSnapshotPayload(t *testing.T, s storage.Store) {
	ctx := context.Background()

	milk := item("Milk", 45, dayStart()+1, "Groceries")
	milk.ID = 7
	milk.Quantity = core.QuantityOf("2L")
	bread := item("Bread", 20, dayStart()+2)
	bread.ID = 8
	bread.IsDone = true
	bread.ImageRefs = []string{"r1", "r2"}

	in := snapshot(Day, 65, true, 1000)
	in.Payload = []core.LineItem{milk, bread}
	id, err := s.InsertSnapshot(ctx, in)
	require.NoError(t, err)

	got, err := s.GetSnapshot(ctx, id)
	require.NoError(t, err)
	in.ID = id
	assert.Equal(t, in, got)

	empty, err := s.InsertSnapshot(ctx, snapshot(Day, 0, false, 1001))
	require.NoError(t, err)
	got, err = s.GetSnapshot(ctx, empty)
	require.NoError(t, err)
	assert.NotNil(t, got.Payload)
	assert.Empty(t, got.Payload)
}

func masters(t *testing.T, s storage.Store, date time.Time) []int64 {
	t.Helper()
	start := date.UnixMilli()
	snaps, err := s.SnapshotsInRange(context.Background(), start, start)
	require.NoError(t, err)
	var ids []int64
	for _, snap := range snaps {
		if snap.IsMasterSave {
			ids = append(ids, snap.ID)
		}
	}
	return ids
}

func testSingleMaster(t *testing.T, s storage.Store) {
	ctx := context.Background()

	first, err := s.InsertSnapshot(ctx, snapshot(Day, 10, true, 100))
	require.NoError(t, err)
	second, err := s.InsertSnapshot(ctx, snapshot(Day, 20, true, 200))
	require.NoError(t, err)
	assert.Equal(t, []int64{second}, masters(t, s, Day))

	m, err := s.MasterSnapshotForDate(ctx, Day.Add(9*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, second, m.ID)

	promoted, err := s.GetSnapshot(ctx, first)
	require.NoError(t, err)
	promoted.IsMasterSave = true
	require.NoError(t, s.UpdateSnapshot(ctx, promoted))
	assert.Equal(t, []int64{first}, masters(t, s, Day))

	other := core.NextDay(Day)
	otherID, err := s.InsertSnapshot(ctx, snapshot(other, 5, true, 300))
	require.NoError(t, err)
	assert.Equal(t, []int64{first}, masters(t, s, Day), "other dates are not demoted")
	assert.Equal(t, []int64{otherID}, masters(t, s, other))

	_, err = s.MasterSnapshotForDate(ctx, core.NextDay(other))
	assert.True(t, storage.IsNotFound(err))
}

func testLegacyMasters(t *testing.T, s storage.Store) {
	ctx := context.Background()

	first, err := s.InsertSnapshot(ctx, snapshot(Day, 10, true, 100))
	require.NoError(t, err)
	second, err := s.InsertSnapshot(ctx, snapshot(Day, 20, false, 200))
	require.NoError(t, err)

	snap, err := s.GetSnapshot(ctx, second)
	require.NoError(t, err)
	snap.IsMasterSave = true
	require.NoError(t, s.UpdateSnapshot(ctx, snap))

	got := masters(t, s, Day)
	assert.Len(t, got, 2, "legacy mode keeps both masters")
	assert.ElementsMatch(t, []int64{first, second}, got)
}

func testMasterRange(t *testing.T, s storage.Store) {
	ctx := context.Background()
	d0 := Day
	d1 := core.NextDay(d0)
	d2 := core.NextDay(d1)

	m2, err := s.InsertSnapshot(ctx, snapshot(d2, 3, true, 1))
	require.NoError(t, err)
	m0, err := s.InsertSnapshot(ctx, snapshot(d0, 1, true, 1))
	require.NoError(t, err)
	_, err = s.InsertSnapshot(ctx, snapshot(d1, 2, false, 1))
	require.NoError(t, err)

	got, err := s.MasterSnapshotsInRange(ctx, d0.UnixMilli(), d2.UnixMilli())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, m0, got[0].ID)
	assert.Equal(t, m2, got[1].ID)

	got, err = s.MasterSnapshotsInRange(ctx, d0.UnixMilli(), d1.UnixMilli())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, m0, got[0].ID)
}

func testDeleteSnapshots(t *testing.T, s storage.Store) {
	ctx := context.Background()
	d0 := Day
	d1 := core.NextDay(d0)
	d2 := core.NextDay(d1)

	for _, d := range []time.Time{d0, d1, d2} {
		_, err := s.InsertSnapshot(ctx, snapshot(d, 1, false, 1))
		require.NoError(t, err)
	}

	n, err := s.DeleteSnapshotsInRange(ctx, d0.UnixMilli(), d1.UnixMilli())
	require.NoError(t, err)
	assert.Equal(t, 2, n, "end is inclusive")

	all, err := s.AllSnapshots(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, d2.UnixMilli(), all[0].RecordDate)

	require.NoError(t, s.DeleteSnapshot(ctx, all[0].ID))
	assert.True(t, storage.IsNotFound(s.DeleteSnapshot(ctx, all[0].ID)))
}

func testClearAndInsertAll(t *testing.T, s storage.Store) {
	ctx := context.Background()

	_, err := s.InsertItem(ctx, item("stale", 1, dayStart()))
	require.NoError(t, err)
	_, err = s.InsertSnapshot(ctx, snapshot(Day, 1, true, 1))
	require.NoError(t, err)

	a := item("restored-a", 5, dayStart()+1, "Food")
	a.ID = 40
	b := item("restored-b", 6, dayStart()+2)
	b.ID = 41
	oldMaster := snapshot(Day, 11, true, 100)
	oldMaster.ID = 10
	newMaster := snapshot(Day, 12, true, 200)
	newMaster.ID = 11

	require.NoError(t, s.ClearAndInsertAll(ctx, []core.LineItem{a, b}, []core.DailySnapshot{oldMaster, newMaster}))

	items, err := s.AllItems(ctx)
	require.NoError(t, err)
	assert.Equal(t, []core.LineItem{a, b}, items)

	snaps, err := s.AllSnapshots(ctx)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, []int64{11}, masters(t, s, Day), "restore keeps only the newest master")

	id, err := s.InsertItem(ctx, item("after", 1, dayStart()+3))
	require.NoError(t, err)
	assert.Greater(t, id, int64(41), "new ids do not collide with restored ones")

	dup := []core.LineItem{a, a}
	err = s.ClearAndInsertAll(ctx, dup, nil)
	require.True(t, storage.IsInvalidInput(err))
	items, err = s.AllItems(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 3, "rejected restore leaves data untouched")

	noID := item("no-id", 2, dayStart()+4)
	explicit := item("explicit", 3, dayStart()+5)
	explicit.ID = 1
	snapNoID := snapshot(Day, 7, false, 300)
	snapExplicit := snapshot(Day, 8, false, 400)
	snapExplicit.ID = 1
	require.NoError(t, s.ClearAndInsertAll(ctx,
		[]core.LineItem{noID, explicit},
		[]core.DailySnapshot{snapNoID, snapExplicit}))

	items, err = s.AllItems(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "no-id", items[0].Name)
	assert.Equal(t, int64(2), items[0].ID, "missing ids are numbered after the explicit ones")
	assert.Equal(t, int64(1), items[1].ID)

	snaps, err = s.AllSnapshots(ctx)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	ids := []int64{snaps[0].ID, snaps[1].ID}
	slices.Sort(ids)
	assert.Equal(t, []int64{1, 2}, ids)
}

func testSubscribeItems(t *testing.T, s storage.Store) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var deliveries [][]string
	sub, err := s.SubscribeItems(ctx, watch.Span{Start: dayStart(), End: dayEnd()}, func(items []core.LineItem, err error) {
		require.NoError(t, err)
		deliveries = append(deliveries, names(items))
	})
	require.NoError(t, err)
	require.Len(t, deliveries, 1, "initial delivery")
	assert.Empty(t, deliveries[0])

	id, err := s.InsertItem(ctx, item("in-day", 1, dayStart()+5))
	require.NoError(t, err)
	require.Len(t, deliveries, 2)
	assert.Equal(t, []string{"in-day"}, deliveries[1])

	_, err = s.InsertItem(ctx, item("other-day", 1, dayEnd()+5))
	require.NoError(t, err)
	assert.Len(t, deliveries, 2, "mutations outside the span are not delivered")

	require.NoError(t, s.DeleteItem(ctx, id))
	require.Len(t, deliveries, 3, "deleting an item in the span is delivered")
	assert.Empty(t, deliveries[2])

	sub.Close()
	_, err = s.InsertItem(ctx, item("after-close", 1, dayStart()+6))
	require.NoError(t, err)
	assert.Len(t, deliveries, 3)

	_, err = s.SubscribeItems(ctx, watch.Everything, nil)
	assert.True(t, storage.IsInvalidInput(err))
}

func testSubscribeSnapshots(t *testing.T, s storage.Store) {
	ctx := context.Background()

	var last []core.DailySnapshot
	calls := 0
	sub, err := s.SubscribeSnapshots(ctx, storage.SnapshotQuery{
		Start:        dayStart(),
		EndInclusive: dayStart(),
		MasterOnly:   true,
	}, func(snaps []core.DailySnapshot, err error) {
		require.NoError(t, err)
		calls++
		last = snaps
	})
	require.NoError(t, err)
	defer sub.Close()
	assert.Equal(t, 1, calls)

	_, err = s.InsertSnapshot(ctx, snapshot(Day, 1, false, 1))
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Empty(t, last)

	id, err := s.InsertSnapshot(ctx, snapshot(Day, 2, true, 2))
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, id, last[0].ID)

	_, err = s.InsertSnapshot(ctx, snapshot(core.NextDay(Day), 3, true, 3))
	require.NoError(t, err)
	assert.Equal(t, 3, calls, "record date outside the query is not delivered")
}

func testClosed(t *testing.T, s storage.Store) {
	ctx := context.Background()

	calls := 0
	_, err := s.SubscribeItems(ctx, watch.Everything, func([]core.LineItem, error) { calls++ })
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "close is idempotent")

	_, err = s.GetItem(ctx, 1)
	require.ErrorIs(t, err, storage.ErrClosed)
	var fault *storage.Fault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, storage.OpGetItem, fault.Op)

	_, err = s.InsertItem(ctx, item("late", 1, dayStart()))
	assert.ErrorIs(t, err, storage.ErrClosed)

	err = s.ReplaceForDate(ctx, nil, Day)
	assert.ErrorIs(t, err, storage.ErrClosed)

	_, err = s.SubscribeItems(ctx, watch.Everything, func([]core.LineItem, error) {})
	assert.ErrorIs(t, err, storage.ErrClosed)
	assert.Equal(t, 1, calls)
}
