package classify

import "dailyledger/internal/core"

// Combinations returns the cartesian product of groups, keeping group order
// inside each tuple. No groups yields a single empty tuple; any empty group
// yields none.
func Combinations[T any](groups [][]T) [][]T {
	if len(groups) == 0 {
		return [][]T{{}}
	}
	rest := Combinations(groups[1:])
	out := make([][]T, 0, len(groups[0])*len(rest))
	for _, head := range groups[0] {
		for _, tail := range rest {
			tuple := make([]T, 0, len(tail)+1)
			tuple = append(tuple, head)
			tuple = append(tuple, tail...)
			out = append(out, tuple)
		}
	}
	return out
}

// MatchesAll reports whether categories contain every name in tuple.
func MatchesAll(d core.Descriptor, tuple []string) bool {
	for _, want := range tuple {
		if !d.HasCategory(want) {
			return false
		}
	}
	return true
}

// FilterIntersection keeps items matching at least one combination of the
// groups, i.e. items carrying one category from every group.
func FilterIntersection(items []core.LineItem, groups [][]string) []core.LineItem {
	tuples := Combinations(groups)
	out := make([]core.LineItem, 0, len(items))
	for _, it := range items {
		for _, tuple := range tuples {
			if MatchesAll(it.Descriptor, tuple) {
				out = append(out, it)
				break
			}
		}
	}
	return out
}
