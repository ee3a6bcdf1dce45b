package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"dailyledger/internal/amqp"
	"dailyledger/internal/codec"
	"dailyledger/internal/core"
	applog "dailyledger/internal/log"
)

// ArchiveVersion is the newest archive layout this build reads and writes.
const ArchiveVersion = 1

// Archive is a full backup of the ledger.
type Archive struct {
	ID        uuid.UUID         `json:"id"`
	Version   int               `json:"version"`
	CreatedAt time.Time         `json:"created_at"`
	Items     []ArchiveItem     `json:"items"`
	Snapshots []ArchiveSnapshot `json:"snapshots"`
}

// ArchiveItem carries both the structured fields and the descriptor text
// so older readers that only understand the text keep working.
type ArchiveItem struct {
	ID              int64    `json:"id"`
	Descriptor      string   `json:"descriptor"`
	Name            string   `json:"name,omitempty"`
	Quantity        *string  `json:"quantity,omitempty"`
	Price           float64  `json:"price"`
	Categories      []string `json:"categories,omitempty"`
	IsDone          bool     `json:"is_done"`
	TimestampMillis int64    `json:"timestamp_millis"`
	ImageRefs       []string `json:"image_refs,omitempty"`
}

type ArchiveSnapshot struct {
	ID              int64         `json:"id"`
	RecordDate      int64         `json:"record_date"`
	TotalSum        float64       `json:"total_sum"`
	IsMasterSave    bool          `json:"is_master_save"`
	TimestampMillis int64         `json:"timestamp_millis"`
	Payload         []ArchiveItem `json:"payload"`
}

func toArchiveItem(it core.LineItem) ArchiveItem {
	return ArchiveItem{
		ID:              it.ID,
		Descriptor:      codec.Text(it),
		Name:            it.Name,
		Quantity:        it.Quantity,
		Price:           it.Price,
		Categories:      it.Categories,
		IsDone:          it.IsDone,
		TimestampMillis: it.TimestampMillis,
		ImageRefs:       it.ImageRefs,
	}
}

// lineItem rebuilds the item, decoding the descriptor text when the
// structured name is missing. decoded reports whether the text was used.
func (a ArchiveItem) lineItem() (item core.LineItem, decoded bool) {
	if a.Name == "" && a.Descriptor != "" {
		return codec.FromLegacy(a.ID, a.Descriptor, a.IsDone, a.TimestampMillis, a.ImageRefs), true
	}
	return core.LineItem{
		ID: a.ID,
		Descriptor: core.Descriptor{
			Name:       a.Name,
			Quantity:   a.Quantity,
			Price:      a.Price,
			Categories: a.Categories,
		},
		IsDone:          a.IsDone,
		TimestampMillis: a.TimestampMillis,
		ImageRefs:       a.ImageRefs,
	}, false
}

func toArchiveItems(items []core.LineItem) []ArchiveItem {
	out := make([]ArchiveItem, len(items))
	for i, it := range items {
		out[i] = toArchiveItem(it)
	}
	return out
}

// Export reads items and snapshots concurrently and packs them into a new
// archive.
func (s *LedgerService) Export(ctx context.Context) (*Archive, error) {
	var (
		items []core.LineItem
		snaps []core.DailySnapshot
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		items, err = s.store.AllItems(gctx)
		if err != nil {
			return fmt.Errorf("read items: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		snaps, err = s.store.AllSnapshots(gctx)
		if err != nil {
			return fmt.Errorf("read snapshots: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}

	archive := &Archive{
		ID:        uuid.New(),
		Version:   ArchiveVersion,
		CreatedAt: s.now().UTC(),
		Items:     toArchiveItems(items),
		Snapshots: make([]ArchiveSnapshot, len(snaps)),
	}
	for i, snap := range snaps {
		archive.Snapshots[i] = ArchiveSnapshot{
			ID:              snap.ID,
			RecordDate:      snap.RecordDate,
			TotalSum:        snap.TotalSum,
			IsMasterSave:    snap.IsMasterSave,
			TimestampMillis: snap.TimestampMillis,
			Payload:         toArchiveItems(snap.Payload),
		}
	}

	s.metrics.Archived("export", "items", len(items))
	s.metrics.Archived("export", "snapshots", len(snaps))

	slog.InfoContext(ctx, "Exported archive",
		applog.FieldComponent, applog.ComponentService,
		applog.FieldArchiveID, archive.ID,
		"items", len(items),
		"snapshots", len(snaps))

	return archive, nil
}

// Import replaces the whole ledger with the archive contents in one
// transaction.
func (s *LedgerService) Import(ctx context.Context, archive *Archive) error {
	if archive == nil {
		return fmt.Errorf("import: nil archive")
	}
	if archive.Version < 1 || archive.Version > ArchiveVersion {
		return fmt.Errorf("import: unsupported archive version %d", archive.Version)
	}

	decoded := 0
	convert := func(in []ArchiveItem) []core.LineItem {
		out := make([]core.LineItem, len(in))
		for i, a := range in {
			it, used := a.lineItem()
			if used {
				decoded++
			}
			out[i] = it
		}
		return out
	}

	items := convert(archive.Items)
	snaps := make([]core.DailySnapshot, len(archive.Snapshots))
	for i, a := range archive.Snapshots {
		snaps[i] = core.DailySnapshot{
			ID:              a.ID,
			RecordDate:      a.RecordDate,
			TotalSum:        a.TotalSum,
			IsMasterSave:    a.IsMasterSave,
			TimestampMillis: a.TimestampMillis,
			Payload:         convert(a.Payload),
		}
	}

	if err := s.store.ClearAndInsertAll(ctx, items, snaps); err != nil {
		return fmt.Errorf("import archive %s: %w", archive.ID, err)
	}

	s.metrics.Decoded(decoded)
	s.metrics.Archived("import", "items", len(items))
	s.metrics.Archived("import", "snapshots", len(snaps))

	slog.InfoContext(ctx, "Imported archive",
		applog.FieldComponent, applog.ComponentService,
		applog.FieldArchiveID, archive.ID,
		"items", len(items),
		"snapshots", len(snaps),
		"decoded", decoded)

	s.publish(ctx, amqp.OpArchiveLoaded, 0, len(items))
	return nil
}

// WriteArchive encodes archive as indented JSON.
func WriteArchive(w io.Writer, archive *Archive) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(archive); err != nil {
		return fmt.Errorf("encode archive: %w", err)
	}
	return nil
}

func ReadArchive(r io.Reader) (*Archive, error) {
	var archive Archive
	if err := json.NewDecoder(r).Decode(&archive); err != nil {
		return nil, fmt.Errorf("decode archive: %w", err)
	}
	return &archive, nil
}
