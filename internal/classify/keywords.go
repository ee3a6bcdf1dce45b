package classify

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Keywords is the ordered keyword table for each tier. Matching is
// case-insensitive; a category matches a keyword when it equals it or
// contains it.
type Keywords struct {
	Primary   []string `mapstructure:"primary"`
	Secondary []string `mapstructure:"secondary"`
	Tertiary  []string `mapstructure:"tertiary"`
}

// DefaultKeywords is the table used when no keyword file is configured.
// It reflects one household's vocabulary; override it with LoadKeywords.
func DefaultKeywords() Keywords {
	return Keywords{
		Primary: []string{
			"papa", "mummy", "mom", "dad", "family", "rent", "salary", "loan",
		},
		Secondary: []string{
			"grocer", "food", "vegetable", "fruit", "milk", "transport", "fuel", "petrol",
			"travel", "medical", "medicine", "health", "bill", "electricity", "school", "education",
		},
		Tertiary: []string{
			"snack", "entertainment", "movie", "shopping", "gift", "misc", "other",
		},
	}
}

// LoadKeywords reads a keyword table from a YAML, TOML or JSON file with
// top-level primary, secondary and tertiary lists.
func LoadKeywords(path string) (Keywords, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Keywords{}, fmt.Errorf("read keyword file: %w", err)
	}

	var kw Keywords
	if err := v.Unmarshal(&kw); err != nil {
		return Keywords{}, fmt.Errorf("unmarshal keyword file: %w", err)
	}
	if kw.Len() == 0 {
		return Keywords{}, fmt.Errorf("keyword file %s defines no keywords", path)
	}
	return kw, nil
}

// Len returns the total number of keywords across tiers.
func (k Keywords) Len() int {
	return len(k.Primary) + len(k.Secondary) + len(k.Tertiary)
}

func (k Keywords) normalized() Keywords {
	return Keywords{
		Primary:   normalize(k.Primary),
		Secondary: normalize(k.Secondary),
		Tertiary:  normalize(k.Tertiary),
	}
}

func normalize(in []string) []string {
	out := make([]string, 0, len(in))
	for _, kw := range in {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			out = append(out, kw)
		}
	}
	return out
}
