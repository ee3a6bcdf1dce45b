package codec

import (
	"dailyledger/internal/core"
)

// Record is the flattened view handed to rendering and reporting code.
type Record struct {
	Description  string
	Quantity     *string
	PriceText    string
	IsChecked    bool
	Categories   []string
	ImageRefs    []string
	SourceItemID int64
}

// View builds the consumer record for an item.
func View(item core.LineItem) Record {
	it := item.Clone()
	return Record{
		Description:  it.Name,
		Quantity:     it.Quantity,
		PriceText:    core.FormatPrice(it.Price),
		IsChecked:    it.IsDone,
		Categories:   it.Categories,
		ImageRefs:    it.ImageRefs,
		SourceItemID: it.ID,
	}
}

// Text returns the descriptor text of an item.
func Text(item core.LineItem) string {
	return Encode(item.Descriptor)
}

// FromLegacy rebuilds an item from a legacy descriptor-text row.
func FromLegacy(id int64, text string, isDone bool, timestampMillis int64, imageRefs []string) core.LineItem {
	return core.LineItem{
		ID:              id,
		Descriptor:      Decode(text),
		IsDone:          isDone,
		TimestampMillis: timestampMillis,
		ImageRefs:       imageRefs,
	}
}
