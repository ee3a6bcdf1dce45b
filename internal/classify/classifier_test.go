package classify

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dailyledger/internal/cache"
	"dailyledger/internal/core"
)

func TestClassify(t *testing.T) {
	c := New(DefaultKeywords())

	tests := []struct {
		name string
		want core.Tier
	}{
		{"Papa's gift", core.Primary},
		{"FAMILY", core.Primary},
		{"Groceries", core.Secondary},
		{"  fuel  ", core.Secondary},
		{"Movie night", core.Tertiary},
		{"Totally unknown widget", core.Tertiary},
		{"", core.Tertiary},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.name))
		})
	}
}

func TestClassify_PrimaryWinsOverLaterTiers(t *testing.T) {
	c := New(Keywords{
		Primary:   []string{"papa"},
		Secondary: []string{"gift"},
		Tertiary:  []string{"gift"},
	})
	assert.Equal(t, core.Primary, c.Classify("papa gift"))
	assert.Equal(t, core.Secondary, c.Classify("gift"))
}

func TestClassify_UsesCache(t *testing.T) {
	lru := cache.NewLRUCache[core.Tier](8, time.Minute)
	c := New(DefaultKeywords(), WithCache(lru))

	assert.Equal(t, core.Primary, c.Classify("Papa"))
	assert.Equal(t, 1, lru.Size())

	tier, ok := lru.Get("papa")
	require.True(t, ok)
	assert.Equal(t, core.Primary, tier)

	assert.Equal(t, core.Primary, c.Classify("PAPA"))
	assert.Equal(t, 1, lru.Size())
}

func TestBucketize(t *testing.T) {
	c := New(DefaultKeywords())

	b := c.Bucketize([]string{"snacks", "Papa", "food", "Papa", " ", "dad", "widget"})

	assert.Equal(t, []string{"Papa", "dad"}, b.Primary)
	assert.Equal(t, []string{"food"}, b.Secondary)
	assert.Equal(t, []string{"snacks", "widget"}, b.Tertiary)
	assert.Equal(t, b.Secondary, b.Tier(core.Secondary))
}

func TestBucketize_Empty(t *testing.T) {
	b := New(DefaultKeywords()).Bucketize(nil)
	assert.Empty(t, b.Primary)
	assert.Empty(t, b.Secondary)
	assert.Empty(t, b.Tertiary)
}

func TestLegend(t *testing.T) {
	c := New(DefaultKeywords())
	colors := ColorFunc(func(name string, tier core.Tier) string {
		return tier.String() + ":" + name
	})

	l := c.Legend([]string{"rent", "fuel", "gift"}, colors)

	require.Len(t, l.Primary, 1)
	assert.Equal(t, LegendEntry{Name: "rent", Color: "primary:rent"}, l.Primary[0])
	require.Len(t, l.Secondary, 1)
	assert.Equal(t, "secondary:fuel", l.Secondary[0].Color)
	require.Len(t, l.Tertiary, 1)
	assert.Equal(t, "gift", l.Tertiary[0].Name)

	uncolored := c.Legend([]string{"rent"}, nil)
	assert.Equal(t, "", uncolored.Primary[0].Color)
}

func TestCollectCategories(t *testing.T) {
	items := []core.LineItem{
		{Descriptor: core.Descriptor{Name: "a", Categories: []string{"food", "papa"}}},
		{Descriptor: core.Descriptor{Name: "b", Categories: []string{"papa", " ", "fuel"}}},
		{Descriptor: core.Descriptor{Name: "c"}},
	}
	assert.Equal(t, []string{"food", "papa", "fuel"}, CollectCategories(items))
}

func TestLoadKeywords(t *testing.T) {
	dir := t.TempDir()

	t.Run("yaml file", func(t *testing.T) {
		path := filepath.Join(dir, "keywords.yaml")
		content := "primary:\n  - Nani\nsecondary:\n  - Diesel\ntertiary: []\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		kw, err := LoadKeywords(path)
		require.NoError(t, err)
		assert.Equal(t, []string{"Nani"}, kw.Primary)
		assert.Equal(t, []string{"Diesel"}, kw.Secondary)

		c := New(kw)
		assert.Equal(t, core.Primary, c.Classify("nani's house"))
		assert.Equal(t, core.Secondary, c.Classify("diesel"))
		assert.Equal(t, core.Tertiary, c.Classify("papa"))
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadKeywords(filepath.Join(dir, "absent.yaml"))
		require.Error(t, err)
	})

	t.Run("empty table", func(t *testing.T) {
		path := filepath.Join(dir, "empty.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"primary": []}`), 0o600))

		_, err := LoadKeywords(path)
		require.Error(t, err)
	})
}
