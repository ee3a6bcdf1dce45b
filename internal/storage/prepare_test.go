package storage

import (
	"errors"
	"testing"
	"time"

	"dailyledger/internal/core"
)

func TestPrepareDay(t *testing.T) {
	start, end := int64(1000), int64(2000)

	got, err := PrepareDay([]core.LineItem{
		{ID: 9, Descriptor: core.Descriptor{Name: "a"}},
		{Descriptor: core.Descriptor{Name: "b"}, TimestampMillis: 1999},
	}, start, end)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got[0].TimestampMillis != start {
		t.Errorf("zero timestamp should become day start, got %d", got[0].TimestampMillis)
	}
	if got[0].ID != 0 {
		t.Errorf("replacement items get fresh ids, got %d", got[0].ID)
	}
	if got[1].Categories == nil {
		t.Error("categories should be normalized to an empty list")
	}

	for _, ts := range []int64{999, 2000} {
		_, err := PrepareDay([]core.LineItem{{Descriptor: core.Descriptor{Name: "x"}, TimestampMillis: ts}}, start, end)
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("timestamp %d: expected ErrInvalidInput, got %v", ts, err)
		}
	}
}

func TestPrepareSnapshot(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	day := time.Date(2024, 3, 15, 0, 0, 0, 0, loc)
	now := day.Add(20 * time.Hour)

	got, err := PrepareSnapshot(core.DailySnapshot{
		RecordDate: day.Add(7 * time.Hour).UnixMilli(),
		TotalSum:   12,
	}, loc, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.RecordDate != day.UnixMilli() {
		t.Errorf("record date not normalized: %d", got.RecordDate)
	}
	if got.TimestampMillis != now.UnixMilli() {
		t.Errorf("timestamp not defaulted: %d", got.TimestampMillis)
	}
	if got.Payload == nil {
		t.Error("payload should be an empty list")
	}

	_, err = PrepareSnapshot(core.DailySnapshot{RecordDate: day.UnixMilli(), TotalSum: -1}, loc, now)
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestKeepLatestMaster(t *testing.T) {
	in := []core.DailySnapshot{
		{ID: 1, RecordDate: 10, IsMasterSave: true, TimestampMillis: 100},
		{ID: 2, RecordDate: 10, IsMasterSave: true, TimestampMillis: 300},
		{ID: 3, RecordDate: 10, IsMasterSave: true, TimestampMillis: 200},
		{ID: 4, RecordDate: 20, IsMasterSave: true, TimestampMillis: 50},
		{ID: 5, RecordDate: 20, IsMasterSave: false, TimestampMillis: 500},
	}

	got := KeepLatestMaster(in)
	want := map[int64]bool{1: false, 2: true, 3: false, 4: true, 5: false}
	for _, s := range got {
		if s.IsMasterSave != want[s.ID] {
			t.Errorf("snapshot %d master = %v, want %v", s.ID, s.IsMasterSave, want[s.ID])
		}
	}
	if !in[0].IsMasterSave {
		t.Error("input must not be modified")
	}
}

func TestCompareSnapshots(t *testing.T) {
	master := core.DailySnapshot{ID: 1, IsMasterSave: true, TimestampMillis: 1}
	newer := core.DailySnapshot{ID: 2, TimestampMillis: 5}
	older := core.DailySnapshot{ID: 3, TimestampMillis: 4}

	if CompareSnapshots(master, newer) >= 0 {
		t.Error("master should sort first")
	}
	if CompareSnapshots(newer, older) >= 0 {
		t.Error("newer should sort before older")
	}
}

func TestSnapshotQuerySpan(t *testing.T) {
	span := SnapshotQuery{Start: 10, EndInclusive: 20}.Span()
	if !span.Contains(20) || span.Contains(21) || !span.Contains(10) {
		t.Errorf("unexpected span %+v", span)
	}
}
