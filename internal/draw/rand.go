/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package draw

// Source yields floats in [0, 1). Satisfied by *Rand; tests substitute
// fixed values to reach edge paths.
type Source interface {
	Next() float64
}

// Rand is a Mulberry32 generator. The same seed yields the same float
// sequence on every platform; all arithmetic is wrapping uint32.
type Rand struct {
	state uint32
}

// NewRand returns a generator positioned at the start of the seed's stream.
func NewRand(seed uint32) *Rand {
	return &Rand{state: seed}
}

// Next advances the stream and returns the next float in [0, 1).
func (r *Rand) Next() float64 {
	r.state += 0x6D2B79F5
	t := r.state
	t = (t ^ (t >> 15)) * (t | 1)
	t ^= t + (t^(t>>7))*(t|61)
	return float64(t^(t>>14)) / 4294967296
}
