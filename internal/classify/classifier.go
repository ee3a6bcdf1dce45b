// Package classify assigns category names to reporting tiers and builds the
// category-intersection filters used by reports.
package classify

import (
	"slices"
	"strings"

	"dailyledger/internal/cache"
	"dailyledger/internal/core"
)

// Classifier maps category names to tiers using a keyword table.
type Classifier struct {
	kw    Keywords
	cache cache.Cache[core.Tier]
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithCache memoizes classification results.
func WithCache(c cache.Cache[core.Tier]) Option {
	return func(cl *Classifier) {
		if c != nil {
			cl.cache = c
		}
	}
}

func New(kw Keywords, opts ...Option) *Classifier {
	c := &Classifier{
		kw:    kw.normalized(),
		cache: cache.Nop[core.Tier]{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify returns the first tier whose keywords match name, checking
// Primary, then Secondary, then Tertiary. Unmatched names are Tertiary.
func (c *Classifier) Classify(name string) core.Tier {
	key := strings.ToLower(strings.TrimSpace(name))
	if tier, ok := c.cache.Get(key); ok {
		return tier
	}

	tier := core.Tertiary
	switch {
	case matches(key, c.kw.Primary):
		tier = core.Primary
	case matches(key, c.kw.Secondary):
		tier = core.Secondary
	}
	c.cache.Set(key, tier)
	return tier
}

func matches(name string, keywords []string) bool {
	for _, kw := range keywords {
		if name == kw || strings.Contains(name, kw) {
			return true
		}
	}
	return false
}

// Buckets holds category names partitioned by tier, each sorted.
type Buckets struct {
	Primary   []string
	Secondary []string
	Tertiary  []string
}

// Tier returns the bucket for t.
func (b Buckets) Tier(t core.Tier) []string {
	switch t {
	case core.Primary:
		return b.Primary
	case core.Secondary:
		return b.Secondary
	default:
		return b.Tertiary
	}
}

// Bucketize partitions a set of category names by tier. Duplicates and
// blank names are dropped.
func (c *Classifier) Bucketize(categories []string) Buckets {
	b := Buckets{Primary: []string{}, Secondary: []string{}, Tertiary: []string{}}
	seen := make(map[string]struct{}, len(categories))
	for _, name := range categories {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}

		switch c.Classify(name) {
		case core.Primary:
			b.Primary = append(b.Primary, name)
		case core.Secondary:
			b.Secondary = append(b.Secondary, name)
		default:
			b.Tertiary = append(b.Tertiary, name)
		}
	}
	slices.Sort(b.Primary)
	slices.Sort(b.Secondary)
	slices.Sort(b.Tertiary)
	return b
}

// CollectCategories returns the distinct category names used by items, in
// first-seen order.
func CollectCategories(items []core.LineItem) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, it := range items {
		for _, c := range it.Categories {
			c = strings.TrimSpace(c)
			if _, ok := seen[c]; ok || c == "" {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}
