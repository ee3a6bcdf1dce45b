package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"dailyledger/internal/core"
	applog "dailyledger/internal/log"
	"dailyledger/internal/watch"
)

const snapshotColumns = "id, record_date, total_sum, is_master_save, timestamp_millis, payload"

func scanSnapshot(sc scanner) (core.DailySnapshot, error) {
	var (
		snap    core.DailySnapshot
		payload string
	)
	if err := sc.Scan(&snap.ID, &snap.RecordDate, &snap.TotalSum, &snap.IsMasterSave, &snap.TimestampMillis, &payload); err != nil {
		return core.DailySnapshot{}, err
	}
	items, err := decodePayload(payload)
	if err != nil {
		return core.DailySnapshot{}, fmt.Errorf("snapshot %d: %w", snap.ID, err)
	}
	snap.Payload = items
	return snap, nil
}

func querySnapshots(ctx context.Context, q querier, query string, args ...any) ([]core.DailySnapshot, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	snaps := []core.DailySnapshot{}
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate snapshots: %w", err)
	}
	return snaps, nil
}

func insertSnapshot(ctx context.Context, q querier, snap core.DailySnapshot, keepID bool) (int64, error) {
	payload, err := encodePayload(snap.Payload)
	if err != nil {
		return 0, err
	}
	args := []any{snap.RecordDate, snap.TotalSum, snap.IsMasterSave, snap.TimestampMillis, payload}

	query := "INSERT INTO daily_snapshots (record_date, total_sum, is_master_save, timestamp_millis, payload) VALUES (?, ?, ?, ?, ?)"
	if keepID && snap.ID > 0 {
		query = "INSERT INTO daily_snapshots (" + snapshotColumns + ") VALUES (?, ?, ?, ?, ?, ?)"
		args = append([]any{snap.ID}, args...)
	}

	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to insert snapshot: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read snapshot id: %w", err)
	}
	return id, nil
}

// demoteMasters clears the master flag on every other master of recordDate.
func demoteMasters(ctx context.Context, tx *sql.Tx, recordDate, exceptID int64) (int64, error) {
	res, err := tx.ExecContext(ctx,
		"UPDATE daily_snapshots SET is_master_save = 0 WHERE record_date = ? AND is_master_save = 1 AND id != ?",
		recordDate, exceptID)
	if err != nil {
		return 0, fmt.Errorf("failed to demote masters: %w", err)
	}
	return res.RowsAffected()
}

func snapshotRecordDate(ctx context.Context, q querier, id int64) (recordDate, ts int64, err error) {
	err = q.QueryRowContext(ctx,
		"SELECT record_date, timestamp_millis FROM daily_snapshots WHERE id = ?", id).Scan(&recordDate, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, fmt.Errorf("snapshot %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return recordDate, ts, nil
}

func (s *SQLiteStore) InsertSnapshot(ctx context.Context, snap core.DailySnapshot) (id int64, err error) {
	defer Observe(ctx, s.log, s.opts.Metrics, OpInsertSnapshot, time.Now(), &err)
	if err := s.check(); err != nil {
		return 0, err
	}

	prepared, err := PrepareSnapshot(snap, s.opts.Location, s.opts.Now())
	if err != nil {
		return 0, err
	}

	var demoted int64
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		if prepared.IsMasterSave && !s.opts.AllowMultipleMasters {
			if demoted, err = demoteMasters(ctx, tx, prepared.RecordDate, 0); err != nil {
				return err
			}
		}
		id, err = insertSnapshot(ctx, tx, prepared, false)
		return err
	})
	if err != nil {
		return 0, err
	}

	s.log.InfoContext(ctx, "Snapshot saved",
		applog.FieldSnapshotID, id,
		applog.FieldRecordDate, prepared.RecordDate,
		applog.FieldTotal, prepared.TotalSum,
		applog.FieldIsMaster, prepared.IsMasterSave,
		"demoted", demoted)
	s.notifySnapshots(ctx, watch.At(prepared.RecordDate))
	return id, nil
}

// UpdateSnapshot rewrites the snapshot with snap.ID. A zero timestamp keeps
// the stored one.
func (s *SQLiteStore) UpdateSnapshot(ctx context.Context, snap core.DailySnapshot) (err error) {
	defer Observe(ctx, s.log, s.opts.Metrics, OpUpdateSnapshot, time.Now(), &err)
	if err := s.check(); err != nil {
		return err
	}
	if snap.ID <= 0 {
		return fmt.Errorf("%w: snapshot id %d", ErrInvalidInput, snap.ID)
	}
	if err := snap.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	var oldDate int64
	var prepared core.DailySnapshot
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var oldTS int64
		var err error
		if oldDate, oldTS, err = snapshotRecordDate(ctx, tx, snap.ID); err != nil {
			return err
		}
		if snap.TimestampMillis == 0 {
			snap.TimestampMillis = oldTS
		}
		if prepared, err = PrepareSnapshot(snap, s.opts.Location, s.opts.Now()); err != nil {
			return err
		}

		if prepared.IsMasterSave && !s.opts.AllowMultipleMasters {
			if _, err := demoteMasters(ctx, tx, prepared.RecordDate, prepared.ID); err != nil {
				return err
			}
		}

		payload, err := encodePayload(prepared.Payload)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			"UPDATE daily_snapshots SET record_date = ?, total_sum = ?, is_master_save = ?, timestamp_millis = ?, payload = ? WHERE id = ?",
			prepared.RecordDate, prepared.TotalSum, prepared.IsMasterSave, prepared.TimestampMillis, payload, prepared.ID)
		if err != nil {
			return fmt.Errorf("failed to update snapshot: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.log.InfoContext(ctx, "Snapshot updated",
		applog.FieldSnapshotID, prepared.ID,
		applog.FieldRecordDate, prepared.RecordDate,
		applog.FieldIsMaster, prepared.IsMasterSave)
	s.notifySnapshots(ctx, watch.At(oldDate), watch.At(prepared.RecordDate))
	return nil
}

func (s *SQLiteStore) GetSnapshot(ctx context.Context, id int64) (snap core.DailySnapshot, err error) {
	defer Observe(ctx, s.log, s.opts.Metrics, OpGetSnapshot, time.Now(), &err)
	if err := s.check(); err != nil {
		return core.DailySnapshot{}, err
	}

	row := s.db.QueryRowContext(ctx, "SELECT "+snapshotColumns+" FROM daily_snapshots WHERE id = ?", id)
	snap, err = scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.DailySnapshot{}, fmt.Errorf("snapshot %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return core.DailySnapshot{}, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return snap, nil
}

func (s *SQLiteStore) DeleteSnapshot(ctx context.Context, id int64) (err error) {
	defer Observe(ctx, s.log, s.opts.Metrics, OpDeleteSnapshot, time.Now(), &err)
	if err := s.check(); err != nil {
		return err
	}

	var recordDate int64
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		if recordDate, _, err = snapshotRecordDate(ctx, tx, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM daily_snapshots WHERE id = ?", id); err != nil {
			return fmt.Errorf("failed to delete snapshot: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.notifySnapshots(ctx, watch.At(recordDate))
	return nil
}

func (s *SQLiteStore) DeleteSnapshotsInRange(ctx context.Context, start, endInclusive int64) (n int, err error) {
	defer Observe(ctx, s.log, s.opts.Metrics, OpDeleteSnapshotsInRange, time.Now(), &err)
	if err := s.check(); err != nil {
		return 0, err
	}
	if endInclusive < start {
		return 0, nil
	}

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM daily_snapshots WHERE record_date >= ? AND record_date <= ?",
		start, endInclusive)
	if err != nil {
		return 0, fmt.Errorf("failed to delete snapshots in range: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted snapshots: %w", err)
	}

	if affected > 0 {
		s.notifySnapshots(ctx, SnapshotQuery{Start: start, EndInclusive: endInclusive}.Span())
	}
	return int(affected), nil
}

func (s *SQLiteStore) MasterSnapshotForDate(ctx context.Context, date time.Time) (snap core.DailySnapshot, err error) {
	defer Observe(ctx, s.log, s.opts.Metrics, OpMasterSnapshotForDate, time.Now(), &err)
	if err := s.check(); err != nil {
		return core.DailySnapshot{}, err
	}

	recordDate, _ := DayRange(date, s.opts.Location)
	row := s.db.QueryRowContext(ctx,
		"SELECT "+snapshotColumns+" FROM daily_snapshots WHERE record_date = ? AND is_master_save = 1 ORDER BY timestamp_millis DESC, id DESC LIMIT 1",
		recordDate)
	snap, err = scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.DailySnapshot{}, fmt.Errorf("master snapshot for %d: %w", recordDate, ErrNotFound)
	}
	if err != nil {
		return core.DailySnapshot{}, fmt.Errorf("failed to get master snapshot: %w", err)
	}
	return snap, nil
}

func (s *SQLiteStore) snapshotsInRange(ctx context.Context, q SnapshotQuery) ([]core.DailySnapshot, error) {
	if q.EndInclusive < q.Start {
		return []core.DailySnapshot{}, nil
	}
	if q.MasterOnly {
		return querySnapshots(ctx, s.db,
			"SELECT "+snapshotColumns+" FROM daily_snapshots WHERE record_date >= ? AND record_date <= ? AND is_master_save = 1 ORDER BY record_date, timestamp_millis DESC, id DESC",
			q.Start, q.EndInclusive)
	}
	return querySnapshots(ctx, s.db,
		"SELECT "+snapshotColumns+" FROM daily_snapshots WHERE record_date >= ? AND record_date <= ? ORDER BY is_master_save DESC, timestamp_millis DESC, id DESC",
		q.Start, q.EndInclusive)
}

func (s *SQLiteStore) SnapshotsInRange(ctx context.Context, start, endInclusive int64) (snaps []core.DailySnapshot, err error) {
	defer Observe(ctx, s.log, s.opts.Metrics, OpSnapshotsInRange, time.Now(), &err)
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.snapshotsInRange(ctx, SnapshotQuery{Start: start, EndInclusive: endInclusive})
}

// MasterSnapshotsInRange returns masters ordered by record date.
func (s *SQLiteStore) MasterSnapshotsInRange(ctx context.Context, start, endInclusive int64) (snaps []core.DailySnapshot, err error) {
	defer Observe(ctx, s.log, s.opts.Metrics, OpMasterSnapshotsInRange, time.Now(), &err)
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.snapshotsInRange(ctx, SnapshotQuery{Start: start, EndInclusive: endInclusive, MasterOnly: true})
}

func (s *SQLiteStore) AllSnapshots(ctx context.Context) (snaps []core.DailySnapshot, err error) {
	defer Observe(ctx, s.log, s.opts.Metrics, OpAllSnapshots, time.Now(), &err)
	if err := s.check(); err != nil {
		return nil, err
	}
	return querySnapshots(ctx, s.db, "SELECT "+snapshotColumns+" FROM daily_snapshots ORDER BY record_date, id")
}

func (s *SQLiteStore) SubscribeSnapshots(ctx context.Context, q SnapshotQuery, fn SnapshotsListener) (*watch.Subscription, error) {
	if err := s.check(); err != nil {
		return nil, Wrap(OpSubscribeSnapshots, err)
	}
	if fn == nil {
		return nil, Wrap(OpSubscribeSnapshots, fmt.Errorf("%w: nil listener", ErrInvalidInput))
	}
	return s.snapshots.Add(ctx, q.Span(), func(ctx context.Context) {
		snaps, err := s.snapshotsInRange(ctx, q)
		fn(snaps, Wrap(OpSubscribeSnapshots, err))
	}), nil
}

// ClearAndInsertAll replaces the whole database with the given rows.
func (s *SQLiteStore) ClearAndInsertAll(ctx context.Context, items []core.LineItem, snaps []core.DailySnapshot) (err error) {
	defer Observe(ctx, s.log, s.opts.Metrics, OpClearAndInsertAll, time.Now(), &err)
	if err := s.check(); err != nil {
		return err
	}

	preparedItems, preparedSnaps, err := PrepareArchive(items, snaps, s.opts)
	if err != nil {
		return err
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM line_items"); err != nil {
			return fmt.Errorf("failed to clear items: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM daily_snapshots"); err != nil {
			return fmt.Errorf("failed to clear snapshots: %w", err)
		}
		for _, it := range preparedItems {
			if _, err := insertItem(ctx, tx, it, true); err != nil {
				return err
			}
		}
		for _, snap := range preparedSnaps {
			if _, err := insertSnapshot(ctx, tx, snap, true); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.log.InfoContext(ctx, "Database restored",
		"items", len(preparedItems),
		"snapshots", len(preparedSnaps))
	s.notifyItems(ctx, watch.Everything)
	s.notifySnapshots(ctx, watch.Everything)
	return nil
}
