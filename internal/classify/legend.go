package classify

import "dailyledger/internal/core"

// ColorAssigner supplies display colors; the classifier only groups.
type ColorAssigner interface {
	ColorFor(name string, tier core.Tier) string
}

// ColorFunc adapts a function to ColorAssigner.
type ColorFunc func(name string, tier core.Tier) string

func (f ColorFunc) ColorFor(name string, tier core.Tier) string { return f(name, tier) }

type LegendEntry struct {
	Name  string
	Color string
}

type Legend struct {
	Primary   []LegendEntry
	Secondary []LegendEntry
	Tertiary  []LegendEntry
}

// Legend buckets categories and attaches colors.
func (c *Classifier) Legend(categories []string, colors ColorAssigner) Legend {
	b := c.Bucketize(categories)
	entries := func(names []string, tier core.Tier) []LegendEntry {
		out := make([]LegendEntry, len(names))
		for i, n := range names {
			out[i] = LegendEntry{Name: n}
			if colors != nil {
				out[i].Color = colors.ColorFor(n, tier)
			}
		}
		return out
	}
	return Legend{
		Primary:   entries(b.Primary, core.Primary),
		Secondary: entries(b.Secondary, core.Secondary),
		Tertiary:  entries(b.Tertiary, core.Tertiary),
	}
}
