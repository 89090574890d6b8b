/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package draw

// Weighted pairs a candidate with its selection weight. Order matters:
// selection walks the cumulative sum in list order, so callers must pass
// candidates in their stable store order.
type Weighted struct {
	ID     string
	Weight float64
}

// Pick draws one index from an ordered weighted list. Returns (-1, false)
// when the list is empty or the total weight is not positive. Otherwise the
// first index whose cumulative weight exceeds draw*total wins. If rounding
// leaves the draw above every cumulative bucket, the last index is
// returned; deployed assignment outcomes encode that exact fallback.
func Pick(items []Weighted, src Source) (int, bool) {
	if len(items) == 0 {
		return -1, false
	}

	total := 0.0
	for _, it := range items {
		total += it.Weight
	}
	if total <= 0 {
		return -1, false
	}

	x := src.Next() * total
	cum := 0.0
	for i, it := range items {
		cum += it.Weight
		if cum > x {
			return i, true
		}
	}
	return len(items) - 1, true
}
