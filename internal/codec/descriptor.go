// Package codec converts line-item descriptors to and from the single-line
// text form used by legacy rows and backup files:
//
//	name [" (" quantity ")"] " - ₹" price ["|CATS:" category ("," category)*]
//
// Decoding never fails. Malformed input degrades to defaults (price 0,
// no quantity, no categories) and leaves a debug log entry behind.
package codec

import (
	"log/slog"
	"regexp"
	"strings"

	"dailyledger/internal/core"
	applog "dailyledger/internal/log"
)

const (
	PriceSeparator = " - ₹"
	CategoryMarker = "|CATS:"
)

var quantityPattern = regexp.MustCompile(`\(([^)]*)\)`)

// Encode renders d in descriptor grammar. Blank quantities and empty
// category lists are omitted.
func Encode(d core.Descriptor) string {
	var b strings.Builder
	b.WriteString(d.Name)
	if q := strings.TrimSpace(d.QuantityText()); q != "" {
		b.WriteString(" (")
		b.WriteString(q)
		b.WriteString(")")
	}
	b.WriteString(PriceSeparator)
	b.WriteString(core.FormatPrice(d.Price))

	cats := cleanCategories(d.Categories)
	if len(cats) > 0 {
		b.WriteString(CategoryMarker)
		b.WriteString(strings.Join(cats, ","))
	}
	return b.String()
}

// Decode parses descriptor text.
func Decode(text string) core.Descriptor {
	clean, cats := splitCategories(text)

	pre, post, found := strings.Cut(clean, PriceSeparator)
	if !found {
		logDefault(text, "missing price separator")
		return core.Descriptor{Name: strings.TrimSpace(clean), Categories: cats}
	}

	d := core.Descriptor{Categories: cats}
	if loc := quantityPattern.FindStringSubmatchIndex(pre); loc != nil {
		d.Quantity = core.QuantityOf(pre[loc[2]:loc[3]])
		pre = pre[:loc[0]] + pre[loc[1]:]
	}
	d.Name = strings.TrimSpace(pre)
	d.Price = parseAmount(text, post)
	return d
}

// ParsePrice extracts only the price, for summation.
func ParsePrice(text string) float64 {
	clean, _ := splitCategories(text)
	_, post, found := strings.Cut(clean, PriceSeparator)
	if !found {
		logDefault(text, "missing price separator")
		return 0
	}
	return parseAmount(text, post)
}

// ParsePriceText parses a user-entered price before re-encoding. Anything
// non-numeric becomes 0.
func ParsePriceText(text string) float64 {
	s := strings.TrimLeftFunc(strings.TrimSpace(text), func(r rune) bool {
		return !(r >= '0' && r <= '9') && r != '.' && r != '-'
	})
	v, ok := core.ParseLenient(s)
	if !ok || v < 0 {
		slog.Warn("Non-numeric price replaced with zero",
			applog.FieldComponent, applog.ComponentCodec,
			applog.FieldOperation, applog.OpParse,
			"input", text)
		return 0
	}
	return v
}

func splitCategories(text string) (string, []string) {
	clean, payload, found := strings.Cut(text, CategoryMarker)
	if !found {
		return text, []string{}
	}
	cats := cleanCategories(strings.Split(payload, ","))
	if len(cats) == 0 {
		logDefault(text, "category marker without payload")
	}
	return clean, cats
}

func cleanCategories(in []string) []string {
	out := make([]string, 0, len(in))
	for _, c := range in {
		c = strings.TrimSpace(c)
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}

func parseAmount(text, s string) float64 {
	v, ok := core.ParseLenient(s)
	if !ok {
		logDefault(text, "unparsable price")
		return 0
	}
	if v < 0 {
		logDefault(text, "negative price")
		return 0
	}
	return v
}

func logDefault(text, reason string) {
	slog.Debug("Descriptor decoded with defaults",
		applog.FieldComponent, applog.ComponentCodec,
		applog.FieldOperation, applog.OpDecode,
		"reason", reason,
		"text", text)
}
