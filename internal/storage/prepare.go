package storage

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"dailyledger/internal/core"
	applog "dailyledger/internal/log"
	"dailyledger/internal/metrics"
)

// DayRange returns the half-open millisecond range of date's local day.
func DayRange(date time.Time, loc *time.Location) (int64, int64) {
	if loc != nil {
		date = date.In(loc)
	}
	return core.DayBounds(date)
}

// PrepareItem validates item and returns the normalized copy an engine
// persists. A zero timestamp is replaced by now.
func PrepareItem(item core.LineItem, now time.Time) (core.LineItem, error) {
	if err := item.Validate(); err != nil {
		return core.LineItem{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	out := item.Clone()
	if out.TimestampMillis == 0 {
		out.TimestampMillis = now.UnixMilli()
	}
	if out.Quantity != nil {
		out.Quantity = core.QuantityOf(*out.Quantity)
	}
	if out.Categories == nil {
		out.Categories = []string{}
	}
	if len(out.ImageRefs) == 0 {
		out.ImageRefs = nil
	}
	return out, nil
}

// PrepareDay validates replacement items for the day [start, end). Items
// without a timestamp get start; items outside the day are rejected.
func PrepareDay(items []core.LineItem, start, end int64) ([]core.LineItem, error) {
	out := make([]core.LineItem, len(items))
	for i, it := range items {
		if it.TimestampMillis == 0 {
			it.TimestampMillis = start
		}
		if it.TimestampMillis < start || it.TimestampMillis >= end {
			return nil, fmt.Errorf("%w: item %d timestamp %d outside day [%d, %d)",
				ErrInvalidInput, i, it.TimestampMillis, start, end)
		}
		p, err := PrepareItem(it, time.UnixMilli(start))
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		p.ID = 0
		out[i] = p
	}
	return out, nil
}

// PrepareSnapshot validates snap, moves its record date to the start of
// its local day and normalizes the payload.
func PrepareSnapshot(snap core.DailySnapshot, loc *time.Location, now time.Time) (core.DailySnapshot, error) {
	if err := snap.Validate(); err != nil {
		return core.DailySnapshot{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	out := snap.Clone()
	out.RecordDate = core.StartOfDayMillis(out.RecordDate, loc)
	if out.TimestampMillis == 0 {
		out.TimestampMillis = now.UnixMilli()
	}
	if out.Payload == nil {
		out.Payload = []core.LineItem{}
	}
	for i, it := range out.Payload {
		p, err := PrepareItem(it, now)
		if err != nil {
			return core.DailySnapshot{}, fmt.Errorf("payload item %d: %w", i, err)
		}
		out.Payload[i] = p
	}
	return out, nil
}

// CompareSnapshots orders masters first, then newest first, then by
// descending id.
func CompareSnapshots(a, b core.DailySnapshot) int {
	if a.IsMasterSave != b.IsMasterSave {
		if a.IsMasterSave {
			return -1
		}
		return 1
	}
	if c := cmp.Compare(b.TimestampMillis, a.TimestampMillis); c != 0 {
		return c
	}
	return cmp.Compare(b.ID, a.ID)
}

// KeepLatestMaster clears the master flag on all but the newest master of
// each record date. The input is not modified.
func KeepLatestMaster(snaps []core.DailySnapshot) []core.DailySnapshot {
	out := make([]core.DailySnapshot, len(snaps))
	latest := map[int64]int{}
	for i, s := range snaps {
		out[i] = s
		if !s.IsMasterSave {
			continue
		}
		j, ok := latest[s.RecordDate]
		if !ok {
			latest[s.RecordDate] = i
			continue
		}
		if CompareSnapshots(s, out[j]) < 0 {
			out[j].IsMasterSave = false
			latest[s.RecordDate] = i
		} else {
			out[i].IsMasterSave = false
		}
	}
	return out
}

// SortItems orders items by timestamp, then id.
func SortItems(items []core.LineItem) {
	slices.SortFunc(items, func(a, b core.LineItem) int {
		if c := cmp.Compare(a.TimestampMillis, b.TimestampMillis); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

// KeepTimestamp pins an updated item to its stored creation time. A zero
// timestamp takes the stored one; any other value must match it.
func KeepTimestamp(item *core.LineItem, stored int64) error {
	if item.TimestampMillis == 0 {
		item.TimestampMillis = stored
		return nil
	}
	if item.TimestampMillis != stored {
		return fmt.Errorf("%w: item %d timestamp is fixed at %d", ErrInvalidInput, item.ID, stored)
	}
	return nil
}

// PrepareArchive validates a full restore set. Ids must be unique within
// each table. Rows without an id are numbered after the largest explicit
// id of their table. Unless multiple masters are allowed, only the newest master
// per record date keeps its flag.
func PrepareArchive(items []core.LineItem, snaps []core.DailySnapshot, o Options) ([]core.LineItem, []core.DailySnapshot, error) {
	now := o.Now()
	outItems := make([]core.LineItem, len(items))
	seen := map[int64]struct{}{}
	for i, it := range items {
		p, err := PrepareItem(it, now)
		if err != nil {
			return nil, nil, fmt.Errorf("item %d: %w", i, err)
		}
		if p.ID > 0 {
			if _, dup := seen[p.ID]; dup {
				return nil, nil, fmt.Errorf("%w: duplicate item id %d", ErrInvalidInput, p.ID)
			}
			seen[p.ID] = struct{}{}
		}
		outItems[i] = p
	}

	outSnaps := make([]core.DailySnapshot, len(snaps))
	seen = map[int64]struct{}{}
	for i, s := range snaps {
		p, err := PrepareSnapshot(s, o.Location, now)
		if err != nil {
			return nil, nil, fmt.Errorf("snapshot %d: %w", i, err)
		}
		if p.ID > 0 {
			if _, dup := seen[p.ID]; dup {
				return nil, nil, fmt.Errorf("%w: duplicate snapshot id %d", ErrInvalidInput, p.ID)
			}
			seen[p.ID] = struct{}{}
		}
		outSnaps[i] = p
	}

	nextItem := maxID(outItems, func(it core.LineItem) int64 { return it.ID })
	for i := range outItems {
		if outItems[i].ID <= 0 {
			nextItem++
			outItems[i].ID = nextItem
		}
	}
	nextSnap := maxID(outSnaps, func(s core.DailySnapshot) int64 { return s.ID })
	for i := range outSnaps {
		if outSnaps[i].ID <= 0 {
			nextSnap++
			outSnaps[i].ID = nextSnap
		}
	}

	if !o.AllowMultipleMasters {
		outSnaps = KeepLatestMaster(outSnaps)
	}
	return outItems, outSnaps, nil
}

func maxID[T any](rows []T, id func(T) int64) int64 {
	var m int64
	for _, r := range rows {
		m = max(m, id(r))
	}
	return m
}

// Observe finishes a store call: it wraps *errp into a Fault for op, logs
// unexpected failures and records metrics. Use it deferred.
func Observe(ctx context.Context, logger *slog.Logger, m *metrics.Collector, op string, started time.Time, errp *error) {
	if *errp != nil {
		*errp = Wrap(op, *errp)
		if !IsNotFound(*errp) && !IsInvalidInput(*errp) {
			logger.ErrorContext(ctx, "Store operation failed",
				applog.FieldOperation, op,
				applog.FieldError, *errp)
		}
	}
	m.ObserveStore(op, started, *errp)
}
