package core

import (
	"errors"
	"math"
	"strings"
)

// Tier is the reporting bucket a category name is classified into.
type Tier int

const (
	Primary Tier = iota
	Secondary
	Tertiary
)

type (
	// Descriptor is the structured content of an expense line.
	Descriptor struct {
		Name       string
		Quantity   *string // nil when absent
		Price      float64
		Categories []string
	}

	// LineItem is a single expense row as held by the store.
	LineItem struct {
		ID int64
		Descriptor
		IsDone          bool
		TimestampMillis int64
		ImageRefs       []string
	}

	// DailySnapshot is a saved copy of a day's items and total.
	DailySnapshot struct {
		ID              int64
		RecordDate      int64 // epoch millis at local-day start
		TotalSum        float64
		IsMasterSave    bool
		TimestampMillis int64
		Payload         []LineItem
	}
)

var (
	ErrEmptyName     = errors.New("empty name")
	ErrInvalidPrice  = errors.New("invalid price")
	ErrNameTooLong   = errors.New("name too long (max 200 characters)")
	ErrInvalidRecord = errors.New("invalid record date")
)

func (t Tier) String() string {
	switch t {
	case Primary:
		return "primary"
	case Secondary:
		return "secondary"
	case Tertiary:
		return "tertiary"
	default:
		return "unknown"
	}
}

// Tiers returns every tier in classification order.
func Tiers() []Tier {
	return []Tier{Primary, Secondary, Tertiary}
}

// QuantityOf returns a quantity pointer, or nil for blank input.
func QuantityOf(q string) *string {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil
	}
	return &q
}

// QuantityText returns the quantity or "" when absent.
func (d Descriptor) QuantityText() string {
	if d.Quantity == nil {
		return ""
	}
	return *d.Quantity
}

// HasCategory reports whether the descriptor carries the category (case-sensitive, trimmed).
func (d Descriptor) HasCategory(name string) bool {
	name = strings.TrimSpace(name)
	for _, c := range d.Categories {
		if strings.TrimSpace(c) == name {
			return true
		}
	}
	return false
}

func (d Descriptor) Validate() error {
	if len(strings.TrimSpace(d.Name)) == 0 {
		return ErrEmptyName
	}
	if len(d.Name) > 200 {
		return ErrNameTooLong
	}
	if d.Price < 0 || math.IsNaN(d.Price) || math.IsInf(d.Price, 0) {
		return ErrInvalidPrice
	}
	return nil
}

func (li LineItem) Validate() error {
	return li.Descriptor.Validate()
}

func (s DailySnapshot) Validate() error {
	if s.RecordDate <= 0 {
		return ErrInvalidRecord
	}
	if s.TotalSum < 0 || math.IsNaN(s.TotalSum) {
		return ErrInvalidPrice
	}
	return nil
}

// Clone returns a deep copy so callers cannot alias stored slices.
func (li LineItem) Clone() LineItem {
	out := li
	if li.Quantity != nil {
		q := *li.Quantity
		out.Quantity = &q
	}
	if li.Categories != nil {
		out.Categories = append([]string(nil), li.Categories...)
	}
	if li.ImageRefs != nil {
		out.ImageRefs = append([]string(nil), li.ImageRefs...)
	}
	return out
}

// Clone returns a deep copy including the payload.
func (s DailySnapshot) Clone() DailySnapshot {
	out := s
	if s.Payload != nil {
		out.Payload = make([]LineItem, len(s.Payload))
		for i, it := range s.Payload {
			out.Payload[i] = it.Clone()
		}
	}
	return out
}

// SumPrices totals the item prices rounded to cents.
func SumPrices(items []LineItem) float64 {
	var cents int64
	for _, it := range items {
		cents += ToCents(it.Price)
	}
	return FromCents(cents)
}
