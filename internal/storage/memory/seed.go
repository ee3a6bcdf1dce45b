package memory

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"dailyledger/internal/codec"
	"dailyledger/internal/core"
	"dailyledger/internal/storage"
)

// NewFromFile builds a store seeded with the descriptor-text lines of path,
// all placed on date's local day. A missing file yields an empty store.
// Lines starting with "[x]" are seeded as done.
func NewFromFile(ctx context.Context, path string, date time.Time, opts storage.Options) (*Store, error) {
	s := New(opts)
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return s, nil
	}

	items := make([]core.LineItem, 0, len(lines))
	for _, line := range lines {
		done := false
		if rest, ok := strings.CutPrefix(line, "[x]"); ok {
			done = true
			line = strings.TrimSpace(rest)
		}
		it := codec.FromLegacy(0, line, done, 0, nil)
		if it.Validate() != nil {
			continue
		}
		items = append(items, it)
	}
	if err := s.ReplaceForDate(ctx, items, date); err != nil {
		return nil, fmt.Errorf("seed memory store: %w", err)
	}
	return s, nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return out, nil
}
