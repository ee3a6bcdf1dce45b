// Package storage defines the ledger store contract and its SQLite engine.
// The in-memory engine lives in storage/memory and both are checked by the
// conformance suite in storage/storagetest.
package storage

import (
	"context"
	"log/slog"
	"math"
	"time"

	"dailyledger/internal/core"
	"dailyledger/internal/metrics"
	"dailyledger/internal/watch"
)

// Store persists line items and daily snapshots. Every call is complete or
// not started; multi-row calls run atomically.
type Store interface {
	InsertItem(ctx context.Context, item core.LineItem) (int64, error)
	UpdateItem(ctx context.Context, item core.LineItem) error
	GetItem(ctx context.Context, id int64) (core.LineItem, error)
	DeleteItem(ctx context.Context, id int64) error
	DeleteItems(ctx context.Context, ids []int64) (int, error)
	// DeleteItemsInRange removes items with start <= timestamp < endExclusive.
	DeleteItemsInRange(ctx context.Context, start, endExclusive int64) (int, error)
	ItemsInRange(ctx context.Context, start, endExclusive int64) ([]core.LineItem, error)
	ItemsForDate(ctx context.Context, date time.Time) ([]core.LineItem, error)
	AllItems(ctx context.Context) ([]core.LineItem, error)
	// ReplaceForDate swaps the items of date's local day for items in one
	// transaction. Items with a zero timestamp are stamped with the day start.
	ReplaceForDate(ctx context.Context, items []core.LineItem, date time.Time) error
	ClearAndSetItemsForDate(ctx context.Context, items []core.LineItem, date time.Time) error

	// InsertSnapshot and UpdateSnapshot demote any other master for the
	// same record date when the written snapshot is a master, unless the
	// store was opened with AllowMultipleMasters.
	InsertSnapshot(ctx context.Context, snap core.DailySnapshot) (int64, error)
	UpdateSnapshot(ctx context.Context, snap core.DailySnapshot) error
	GetSnapshot(ctx context.Context, id int64) (core.DailySnapshot, error)
	DeleteSnapshot(ctx context.Context, id int64) error
	DeleteSnapshotsInRange(ctx context.Context, start, endInclusive int64) (int, error)
	MasterSnapshotForDate(ctx context.Context, date time.Time) (core.DailySnapshot, error)
	// SnapshotsInRange orders by master first, then newest first.
	SnapshotsInRange(ctx context.Context, start, endInclusive int64) ([]core.DailySnapshot, error)
	MasterSnapshotsInRange(ctx context.Context, start, endInclusive int64) ([]core.DailySnapshot, error)
	AllSnapshots(ctx context.Context) ([]core.DailySnapshot, error)

	// ClearAndInsertAll wipes both tables and restores the given rows,
	// keeping their ids.
	ClearAndInsertAll(ctx context.Context, items []core.LineItem, snaps []core.DailySnapshot) error

	// SubscribeItems delivers the items in span now and again after every
	// committed mutation touching span, until the subscription is closed or
	// ctx is cancelled.
	SubscribeItems(ctx context.Context, span watch.Span, fn ItemsListener) (*watch.Subscription, error)
	SubscribeSnapshots(ctx context.Context, q SnapshotQuery, fn SnapshotsListener) (*watch.Subscription, error)

	Close() error
}

type (
	ItemsListener     func(items []core.LineItem, err error)
	SnapshotsListener func(snaps []core.DailySnapshot, err error)
)

// SnapshotQuery selects snapshots whose record date is in [Start, EndInclusive].
type SnapshotQuery struct {
	Start        int64
	EndInclusive int64
	MasterOnly   bool
}

// Span returns the half-open record-date span observed by the query.
func (q SnapshotQuery) Span() watch.Span {
	end := q.EndInclusive
	if end < math.MaxInt64 {
		end++
	}
	return watch.Span{Start: q.Start, End: end}
}

// Options configures a store engine.
type Options struct {
	// Location defines local-day boundaries; nil means time.Local.
	Location             *time.Location
	// AllowMultipleMasters disables master demotion, leaving the caller
	// responsible for keeping one master per date.
	AllowMultipleMasters bool
	Metrics              *metrics.Collector
	Logger               *slog.Logger
	Now                  func() time.Time
}

func (o Options) WithDefaults() Options {
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Operation names used in faults, logs and metrics.
const (
	OpInsertItem              = "insert_item"
	OpUpdateItem              = "update_item"
	OpGetItem                 = "get_item"
	OpDeleteItem              = "delete_item"
	OpDeleteItems             = "delete_items"
	OpDeleteItemsInRange      = "delete_items_in_range"
	OpItemsInRange            = "items_in_range"
	OpItemsForDate            = "items_for_date"
	OpAllItems                = "all_items"
	OpReplaceForDate          = "replace_for_date"
	OpClearAndSetItemsForDate = "clear_and_set_items_for_date"
	OpInsertSnapshot          = "insert_snapshot"
	OpUpdateSnapshot          = "update_snapshot"
	OpGetSnapshot             = "get_snapshot"
	OpDeleteSnapshot          = "delete_snapshot"
	OpDeleteSnapshotsInRange  = "delete_snapshots_in_range"
	OpMasterSnapshotForDate   = "master_snapshot_for_date"
	OpSnapshotsInRange        = "snapshots_in_range"
	OpMasterSnapshotsInRange  = "master_snapshots_in_range"
	OpAllSnapshots            = "all_snapshots"
	OpClearAndInsertAll       = "clear_and_insert_all"
	OpSubscribeItems          = "subscribe_items"
	OpSubscribeSnapshots      = "subscribe_snapshots"
	OpClose                   = "close"
)

// Topics for listener registries and notification metrics.
const (
	TopicItems     = "items"
	TopicSnapshots = "snapshots"
)
