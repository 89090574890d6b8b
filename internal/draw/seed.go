/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package draw implements the deterministic seed-and-select primitives
// behind task assignment: a djb2 seed over (date, brand, slot), a
// Mulberry32 float stream, and a cumulative weighted pick. Every node
// computes the same assignment from the same inputs, so nothing here may
// depend on platform, locale, or map iteration order.
package draw

import "strconv"

// Seed hashes (date, brandID, slot) into the 32-bit assignment seed.
// The composite key is "{date}_{brandID}_{slot}" with the date formatted
// YYYY-MM-DD. djb2: start at 5381, then h = h*33 + byte for every byte,
// wrapping in uint32. The value must stay bit-identical across
// reimplementations; clients resolve against the same stream.
func Seed(date string, brandID uint, slot string) uint32 {
	key := date + "_" + strconv.FormatUint(uint64(brandID), 10) + "_" + slot

	var h uint32 = 5381
	for i := 0; i < len(key); i++ {
		h = h*33 + uint32(key[i])
	}
	return h
}
