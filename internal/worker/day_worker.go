package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"dailyledger/internal/amqp"
	"dailyledger/internal/core"
	applog "dailyledger/internal/log"
	"dailyledger/internal/storage"
)

// DaySummary describes the state of a day after a change event.
type DaySummary struct {
	Op          string
	Date        time.Time
	Items       int
	Total       float64
	MasterTotal float64
	HasMaster   bool
}

// DayWorker reacts to day-change messages by re-reading the affected day
// from the store.
type DayWorker struct {
	store  storage.Store
	loc    *time.Location
	report func(context.Context, DaySummary)
}

func NewDayWorker(store storage.Store, loc *time.Location, report func(context.Context, DaySummary)) *DayWorker {
	if loc == nil {
		loc = time.Local
	}
	return &DayWorker{
		store:  store,
		loc:    loc,
		report: report,
	}
}

// HandleDayChanged processes a single day-change message from AMQP.
// Archive loads carry no date and are summarized over the whole ledger.
func (w *DayWorker) HandleDayChanged(ctx context.Context, msg *amqp.DayChangedMessage) error {
	slog.InfoContext(ctx, "Processing day changed message",
		applog.FieldComponent, applog.ComponentAMQP,
		"op", msg.Op,
		applog.FieldRecordDate, msg.RecordDate)

	if msg.RecordDate <= 0 {
		return w.summarizeAll(ctx, msg.Op)
	}

	summary, err := w.Summarize(ctx, core.FromMillis(msg.RecordDate, w.loc))
	if err != nil {
		return err
	}
	summary.Op = msg.Op
	w.emit(ctx, summary)
	return nil
}

// Summarize reads date's items and master snapshot.
func (w *DayWorker) Summarize(ctx context.Context, date time.Time) (DaySummary, error) {
	items, err := w.store.ItemsForDate(ctx, date)
	if err != nil {
		return DaySummary{}, fmt.Errorf("get items for day: %w", err)
	}

	summary := DaySummary{
		Date:  core.StartOfDay(date.In(w.loc)),
		Items: len(items),
		Total: core.SumPrices(items),
	}

	master, err := w.store.MasterSnapshotForDate(ctx, date)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return DaySummary{}, fmt.Errorf("get master snapshot: %w", err)
	default:
		summary.HasMaster = true
		summary.MasterTotal = master.TotalSum
	}
	return summary, nil
}

func (w *DayWorker) summarizeAll(ctx context.Context, op string) error {
	items, err := w.store.AllItems(ctx)
	if err != nil {
		return fmt.Errorf("get all items: %w", err)
	}
	w.emit(ctx, DaySummary{
		Op:    op,
		Items: len(items),
		Total: core.SumPrices(items),
	})
	return nil
}

func (w *DayWorker) emit(ctx context.Context, summary DaySummary) {
	slog.InfoContext(ctx, "Day summary",
		applog.FieldComponent, applog.ComponentAMQP,
		"op", summary.Op,
		applog.FieldCount, summary.Items,
		applog.FieldTotal, summary.Total,
		"has_master", summary.HasMaster)

	if w.report != nil {
		w.report(ctx, summary)
	}
}
