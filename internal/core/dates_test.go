package core

import (
	"testing"
	"time"
)

func TestDayBounds(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	ts := time.Date(2025, 3, 14, 17, 45, 12, 0, loc)

	start, end := DayBounds(ts)
	wantStart := time.Date(2025, 3, 14, 0, 0, 0, 0, loc).UnixMilli()
	if start != wantStart {
		t.Fatalf("start = %d, want %d", start, wantStart)
	}
	if end-start != 24*60*60*1000 {
		t.Fatalf("expected a 24h day in a fixed zone, got %dms", end-start)
	}
	if got := StartOfDayMillis(ts.UnixMilli(), loc); got != wantStart {
		t.Fatalf("StartOfDayMillis = %d, want %d", got, wantStart)
	}
}

func TestNextDayAcrossDST(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Rome")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	// Clocks go forward on 2025-03-30 in Rome, so that day is 23h long.
	day := time.Date(2025, 3, 30, 12, 0, 0, 0, loc)
	start, end := DayBounds(day)
	if end-start != 23*60*60*1000 {
		t.Fatalf("expected 23h day, got %dms", end-start)
	}
	if next := NextDay(day); next.Day() != 31 || next.Hour() != 0 {
		t.Fatalf("unexpected next day %v", next)
	}
}

func TestParseDay(t *testing.T) {
	d, err := ParseDay("2025-01-02", time.UTC)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Year() != 2025 || d.Month() != time.January || d.Day() != 2 {
		t.Fatalf("unexpected date %v", d)
	}
	if _, err := ParseDay("02/01/2025", time.UTC); err == nil {
		t.Fatalf("expected error for wrong layout")
	}
}

func TestLoadLocation(t *testing.T) {
	loc, err := LoadLocation("")
	if err != nil || loc != time.Local {
		t.Fatalf("empty name should be Local, got %v %v", loc, err)
	}
	if _, err := LoadLocation("Not/AZone"); err == nil {
		t.Fatalf("expected error for unknown zone")
	}
}
